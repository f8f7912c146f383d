// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/plugin"
)

func TestTracker_BeginTaskCancelsPrevious(t *testing.T) {
	tr := plugin.NewTracker(nil, nil, nil)
	m := &plugin.Manifest{Name: "clock", Entry: "main.lua"}

	first := tr.BeginTask(m)
	second := tr.BeginTask(m)

	assert.True(t, first.Token.Cancelled())
	assert.False(t, second.Token.Cancelled())
	assert.Equal(t, 1, tr.InFlight())

	tr.EndTask(first)
	assert.Equal(t, 1, tr.InFlight(), "a stale task must not remove its replacement")
	tr.EndTask(second)
	assert.Equal(t, 0, tr.InFlight())
}

func TestTracker_CancelInFlight(t *testing.T) {
	nodes := plugin.NewNodeRegistry()
	tr := plugin.NewTracker(nodes, nil, nil)
	a := tr.BeginTask(&plugin.Manifest{Name: "a", Entry: "main.lua"})
	b := tr.BeginTask(&plugin.Manifest{Name: "b", Entry: "main.lua"})

	done := make(chan bool)
	go func() {
		_, ok := nodes.WaitForNode(context.Background(), "a", time.Hour)
		done <- ok
	}()
	require.Eventually(t, func() bool { return nodes.Pending() == 1 }, time.Second, time.Millisecond)

	tr.CancelInFlight()

	assert.True(t, a.Token.Cancelled())
	assert.True(t, b.Token.Cancelled())
	assert.False(t, <-done)
}

func TestTracker_CleanupAllClearsCache(t *testing.T) {
	src := newFakeSource()
	m := src.add("clock", plugin.PriorityUI, renderText("tick"))
	cache, err := plugin.NewModuleCache(8)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	metrics := plugin.NewMetrics(reg)
	tr := plugin.NewTracker(nil, cache, metrics)
	loader := plugin.NewLoader(src, cache, tr)

	_, err = loader.Load(context.Background(), m, plugin.LoadOptions{UseCache: true, Token: &plugin.CancelToken{}})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	tr.CleanupAll(context.Background(), plugin.CleanupOptions{})
	assert.Equal(t, 1, cache.Len())

	tr.CleanupAll(context.Background(), plugin.CleanupOptions{ClearCache: true})
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, tr.Containers())
	assert.Empty(t, tr.Runtimes())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.ActivePlugins), 0)
}
