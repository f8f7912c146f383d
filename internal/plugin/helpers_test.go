// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/document/selector"
	"github.com/holomush/launcher/internal/plugin"
)

// fakeSource serves manifests and code from memory and records fetches.
type fakeSource struct {
	mu        sync.Mutex
	manifests []*plugin.Manifest
	code      map[string]string
	fetches   map[string]int
	log       []string
	delay     time.Duration
	err       error

	active atomic.Int32
	peak   atomic.Int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		code:    make(map[string]string),
		fetches: make(map[string]int),
	}
}

// add registers a plugin with the given priority and entry source.
func (s *fakeSource) add(name string, priority plugin.Priority, src string) *plugin.Manifest {
	m := &plugin.Manifest{
		Name:     name,
		Entry:    "main.lua",
		Priority: priority,
		RootPath: filepath.Join(os.TempDir(), "launcher-plugins", name),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests = append(s.manifests, m)
	s.code[name] = src
	return m
}

func (s *fakeSource) GetManifests(_ context.Context) ([]*plugin.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]*plugin.Manifest(nil), s.manifests...), nil
}

func (s *fakeSource) GetSource(ctx context.Context, name, _ string) ([]byte, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.fetches[name]++
	s.log = append(s.log, "fetch:"+name)
	src, ok := s.code[name]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, fmt.Errorf("plugin %s: %w", name, fs.ErrNotExist)
	}
	return []byte(src), nil
}

func (s *fakeSource) fetchCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[name]
}

// record appends entry to the shared event log.
func (s *fakeSource) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

// events returns fetch starts and recorded entries in order.
func (s *fakeSource) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// clear removes every manifest.
func (s *fakeSource) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests = nil
}

// newTestHost creates a host over src with short timeouts and closes it when
// the test ends.
func newTestHost(t *testing.T, src *fakeSource, cfg plugin.Config) *plugin.Host {
	t.Helper()
	if cfg.MountTimeout == 0 {
		cfg.MountTimeout = 500 * time.Millisecond
	}
	if cfg.FetchBackoff == 0 {
		cfg.FetchBackoff = time.Millisecond
	}
	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = time.Millisecond
	}
	h, err := plugin.NewHost(src, src, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

// addSlot appends a mount point for name to the document body.
func addSlot(doc *document.Document, name string) *document.Element {
	el := doc.CreateElement("section", plugin.SlotAttr, name)
	doc.Body().AppendChild(el)
	return el
}

// renderRoot returns the element a plugin rendered into, or nil.
func renderRoot(slot *document.Element) *document.Element {
	shadow := slot.ShadowRoot()
	if shadow == nil {
		return nil
	}
	for _, c := range shadow.Children() {
		if c.HasClass("plugin-root") {
			return c
		}
	}
	return nil
}

func query(t *testing.T, doc *document.Document, sel string) []*document.Element {
	t.Helper()
	s, err := selector.Parse(sel)
	require.NoError(t, err)
	return doc.QuerySelectorAll(s)
}

// renderText is a plugin that renders a span with text.
func renderText(text string) string {
	return fmt.Sprintf(`return function(mount, api)
  api.render(%q)
end`, text)
}
