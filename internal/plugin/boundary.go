// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/pkg/errutil"
)

// ErrorIndicatorClass is the class of the inline element shown in place of
// content that failed to render.
const ErrorIndicatorClass = "plugin-error"

// RenderFunc produces the elements a plugin wants rendered.
type RenderFunc func() ([]*document.Element, error)

// WithCrashBoundary wraps render so that an error or panic is logged with the
// plugin name and replaced by an inline error indicator. The wrapped function
// never fails. onCrash, when non-nil, receives the failure.
func WithCrashBoundary(doc *document.Document, pluginName string, render RenderFunc, onCrash func(error)) RenderFunc {
	return func() (nodes []*document.Element, _ error) {
		defer func() {
			if r := recover(); r != nil {
				err := errBuilder(CodePluginRuntimeError, pluginName).Errorf("render panicked: %v", r)
				nodes = crashed(doc, pluginName, err, onCrash)
			}
		}()

		nodes, err := render()
		if err != nil {
			if _, ok := oops.AsOops(err); !ok {
				err = errBuilder(CodePluginRuntimeError, pluginName).Wrapf(err, "render failed")
			}
			return crashed(doc, pluginName, err, onCrash), nil
		}
		return nodes, nil
	}
}

func crashed(doc *document.Document, pluginName string, err error, onCrash func(error)) []*document.Element {
	errutil.LogError(slog.Default().With("plugin", pluginName), "plugin render failed", err)
	if onCrash != nil {
		onCrash(err)
	}
	return []*document.Element{ErrorIndicator(doc, pluginName)}
}

// ErrorIndicator builds the inline failure element for pluginName.
func ErrorIndicator(doc *document.Document, pluginName string) *document.Element {
	el := doc.CreateElement("div",
		"class", ErrorIndicatorClass,
		"data-plugin", pluginName,
		"role", "alert")
	el.SetText(fmt.Sprintf("Plugin %q failed to render", pluginName))
	return el
}
