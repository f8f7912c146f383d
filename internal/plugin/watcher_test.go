// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/plugin"
)

type keyLog struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyLog) add(_ context.Context, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, key)
}

func (k *keyLog) snapshot() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.keys...)
}

func runWatcher(t *testing.T, dir string, debounce time.Duration) *keyLog {
	t.Helper()
	w, err := plugin.NewDirWatcher(dir, debounce)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	log := &keyLog{}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, log.add) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, w.Close())
	})
	return log
}

func TestDirWatcher_ReportsChange(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "clock", "name: clock\nentry: main.lua\n", map[string]string{"main.lua": "return 1"})
	log := runWatcher(t, root, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "clock", "main.lua"), []byte("return 2"), 0o600))

	require.Eventually(t, func() bool { return len(log.snapshot()) >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, log.snapshot()[0])
}

func TestDirWatcher_BurstYieldsOneKey(t *testing.T) {
	root := t.TempDir()
	log := runWatcher(t, root, 100*time.Millisecond)

	for i := range 5 {
		name := filepath.Join(root, "file"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))
	}

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestDirWatcher_WatchesNewPluginDirectory(t *testing.T) {
	root := t.TempDir()
	log := runWatcher(t, root, 20*time.Millisecond)

	require.NoError(t, os.Mkdir(filepath.Join(root, "weather"), 0o750))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "weather", "main.lua"), []byte("return 1"), 0o600))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)

	keys := log.snapshot()
	assert.NotEqual(t, keys[0], keys[1])
}

func TestDirWatcher_MissingDirectory(t *testing.T) {
	_, err := plugin.NewDirWatcher(filepath.Join(t.TempDir(), "nope"), 0)
	assert.Error(t, err)
}
