// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package plugin_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/plugin"
)

// bundledPlugins is the plugins directory shipped with the repository.
var bundledPlugins = filepath.Join("..", "..", "plugins")

func launcherBridge(account string) plugin.BridgeFunc {
	return func(_ context.Context, command string, _ map[string]any) (any, error) {
		switch command {
		case "clock.now":
			return "12:00", nil
		case "account.current":
			if account == "" {
				return nil, errors.New("signed out")
			}
			return map[string]any{"name": account}, nil
		}
		return nil, plugin.ErrNoBridge
	}
}

func firstChildText(slot *document.Element) string {
	root := renderRoot(slot)
	if root == nil || len(root.Children()) == 0 {
		return ""
	}
	return root.Children()[0].Text()
}

var _ = Describe("Bundled plugins", func() {
	var (
		ctx   context.Context
		host  *plugin.Host
		doc   *document.Document
		slots map[string]*document.Element
		logo  *document.Element
		row   *document.Element
	)

	BeforeEach(func() {
		ctx = context.Background()
		src, err := plugin.NewDirSource(bundledPlugins)
		Expect(err).NotTo(HaveOccurred())

		host, err = plugin.NewHost(src, src, plugin.Config{
			MountTimeout:  2 * time.Second,
			FrameInterval: time.Millisecond,
			Bridge:        launcherBridge("Ada"),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(host.Close(context.Background())).To(Succeed()) })

		doc = host.Document()
		slots = make(map[string]*document.Element)
		for _, name := range []string{"clock", "theme", "status", "greeter"} {
			slots[name] = addSlot(doc, name)
		}
		logo = doc.CreateElement("img", "class", "logo", "src", "default.png")
		doc.Body().AppendChild(logo)
		list := doc.CreateElement("ul")
		row = doc.CreateElement("li", "class", "instance", "data-running", "true")
		list.AppendChild(row)
		doc.Body().AppendChild(list)

		Expect(host.SetGenerationKey(ctx, "first")).To(Succeed())
	})

	It("mounts every bundled plugin", func() {
		Expect(host.Ready()).To(BeTrue())
		Expect(host.Tracker().Runtimes()).To(Equal([]string{"clock", "greeter", "status", "theme"}))
	})

	It("renders host data through the bridge", func() {
		Expect(firstChildText(slots["clock"])).To(Equal("12:00"))
		Expect(firstChildText(slots["greeter"])).To(Equal("Welcome back, Ada!"))
	})

	It("updates the clock on tick events", func() {
		host.Bus().Emit("clock:tick", map[string]any{"time": "12:01"})
		Eventually(func() string { return firstChildText(slots["clock"]) }).
			WithTimeout(2 * time.Second).Should(Equal("12:01"))
	})

	It("applies the theme", func() {
		Eventually(func() string {
			v, _ := logo.Attr("src")
			return v
		}).WithTimeout(2 * time.Second).Should(And(HavePrefix("file://"), HaveSuffix("/theme/logo.svg")))

		var hrefs []string
		for _, el := range doc.Head().Children() {
			if v, _ := el.Attr("data-plugin"); v == "theme" {
				href, _ := el.Attr("href")
				hrefs = append(hrefs, href)
			}
		}
		Expect(hrefs).To(HaveLen(1))
		Expect(strings.HasSuffix(hrefs[0], "/theme/styles/theme.css")).To(BeTrue())
	})

	It("marks running instances, including ones added later", func() {
		Eventually(func() string {
			v, _ := row.Attr("data-status")
			return v
		}).WithTimeout(2 * time.Second).Should(Equal("running"))

		late := doc.CreateElement("li", "class", "instance")
		row.Parent().AppendChild(late)
		late.SetAttr("data-running", "true")
		Eventually(func() string {
			v, _ := late.Attr("data-status")
			return v
		}).WithTimeout(2 * time.Second).Should(Equal("running"))
	})

	Context("when the generation key changes", func() {
		It("restores the document and mounts again", func() {
			Expect(host.SetGenerationKey(ctx, "second")).To(Succeed())

			Expect(host.Tracker().Runtimes()).To(HaveLen(4))
			Expect(firstChildText(slots["clock"])).To(Equal("12:00"))
			var themed int
			for _, el := range doc.Head().Children() {
				if v, _ := el.Attr("data-plugin"); v == "theme" {
					themed++
				}
			}
			Expect(themed).To(Equal(1))
		})
	})

	Context("when the host closes", func() {
		It("removes everything the plugins added", func() {
			Expect(host.Close(ctx)).To(Succeed())

			Expect(host.Tracker().Runtimes()).To(BeEmpty())
			Expect(host.Tracker().Containers()).To(BeZero())
			Expect(doc.WatcherCount()).To(BeZero())
			for _, slot := range slots {
				Expect(renderRoot(slot)).To(BeNil())
			}
			v, _ := logo.Attr("src")
			Expect(v).To(Equal("default.png"))
		})
	})
})

var _ = Describe("Plugin directory", func() {
	It("skips plugins that fail and mounts the rest", func() {
		root := GinkgoT().TempDir()
		writeDir := func(dir, manifest, entry string) {
			Expect(os.MkdirAll(filepath.Join(root, dir), 0o750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, dir, plugin.ManifestFile), []byte(manifest), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, dir, "main.lua"), []byte(entry), 0o600)).To(Succeed())
		}
		writeDir("good", "name: good\nentry: main.lua\n", `return function(m, api) api.render("ok") end`)
		writeDir("syntax", "name: syntax\nentry: main.lua\n", `return function(`)
		writeDir("throws", "name: throws\nentry: main.lua\n", `return function() error("nope") end`)

		src, err := plugin.NewDirSource(root)
		Expect(err).NotTo(HaveOccurred())
		host, err := plugin.NewHost(src, src, plugin.Config{MountTimeout: time.Second})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(host.Close(context.Background())).To(Succeed()) })
		good := addSlot(host.Document(), "good")
		addSlot(host.Document(), "syntax")
		addSlot(host.Document(), "throws")

		Expect(host.Reload(context.Background(), plugin.ReloadOptions{})).To(Succeed())

		Expect(firstChildText(good)).To(Equal("ok"))
		// a plugin whose entry throws stays tracked so its partial work is
		// reversed; one that never compiled has nothing to track
		Expect(host.Tracker().Runtimes()).To(Equal([]string{"good", "throws"}))
	})
})
