// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/plugin"
	"github.com/holomush/launcher/pkg/errutil"
)

func TestWithCrashBoundary_PassesThrough(t *testing.T) {
	doc := document.New()
	want := doc.CreateElement("p")
	render := plugin.WithCrashBoundary(doc, "clock", func() ([]*document.Element, error) {
		return []*document.Element{want}, nil
	}, func(error) { t.Fatal("onCrash called for a healthy render") })

	got, err := render()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, want, got[0])
}

func TestWithCrashBoundary_ErrorShowsIndicator(t *testing.T) {
	doc := document.New()
	var crash error
	render := plugin.WithCrashBoundary(doc, "clock", func() ([]*document.Element, error) {
		return nil, errors.New("bad state")
	}, func(err error) { crash = err })

	got, err := render()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasClass(plugin.ErrorIndicatorClass))
	v, _ := got[0].Attr("data-plugin")
	assert.Equal(t, "clock", v)
	errutil.AssertErrorCode(t, crash, plugin.CodePluginRuntimeError)
}

func TestWithCrashBoundary_PanicShowsIndicator(t *testing.T) {
	doc := document.New()
	var crash error
	render := plugin.WithCrashBoundary(doc, "weather", func() ([]*document.Element, error) {
		panic("nil table")
	}, func(err error) { crash = err })

	got, err := render()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].HasClass(plugin.ErrorIndicatorClass))
	assert.Contains(t, got[0].Text(), "weather")
	errutil.AssertErrorCode(t, crash, plugin.CodePluginRuntimeError)
	errutil.AssertErrorContext(t, crash, "plugin", "weather")
}

func TestWithCrashBoundary_NilOnCrash(t *testing.T) {
	doc := document.New()
	render := plugin.WithCrashBoundary(doc, "clock", func() ([]*document.Element, error) {
		return nil, errors.New("boom")
	}, nil)

	got, err := render()
	require.NoError(t, err)
	require.Len(t, got, 1)
}
