// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultDebounce is how long DirWatcher waits for the plugins directory to
// go quiet before reporting a change.
const DefaultDebounce = 250 * time.Millisecond

// DirWatcher reports changes to a plugins directory as new generation keys.
// It watches the directory itself and each plugin directory directly below
// it.
type DirWatcher struct {
	dir      string
	debounce time.Duration
	fsw      *fsnotify.Watcher
}

// NewDirWatcher starts watching dir. A debounce of zero uses
// DefaultDebounce.
func NewDirWatcher(dir string, debounce time.Duration) (*DirWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.In("plugin").With("dir", dir).Wrapf(err, "create watcher")
	}
	w := &DirWatcher{dir: dir, debounce: debounce, fsw: fsw}
	if err := w.addTree(); err != nil {
		_ = fsw.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return w, nil
}

func (w *DirWatcher) addTree() error {
	if err := w.fsw.Add(w.dir); err != nil {
		return oops.In("plugin").With("dir", w.dir).Wrapf(err, "watch plugins directory")
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return oops.In("plugin").With("dir", w.dir).Wrapf(err, "read plugins directory")
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(filepath.Join(w.dir, e.Name()))
		}
	}
	return nil
}

func (w *DirWatcher) addDir(path string) {
	if err := w.fsw.Add(path); err != nil {
		slog.Warn("cannot watch plugin directory", "dir", path, "error", err)
	}
}

// Run delivers a fresh generation key to onChange after each burst of
// changes, until ctx ends or the watcher is closed. onChange runs on the
// calling goroutine.
func (w *DirWatcher) Run(ctx context.Context, onChange func(ctx context.Context, key string)) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(w.dir) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addDir(ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("plugins directory watch error", "dir", w.dir, "error", err)
		case <-fire:
			timer, fire = nil, nil
			key := ulid.Make().String()
			slog.Info("plugins directory changed", "dir", w.dir, "generation", key)
			onChange(ctx, key)
		}
	}
}

// Close stops watching.
func (w *DirWatcher) Close() error {
	if err := w.fsw.Close(); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		return oops.In("plugin").With("dir", w.dir).Wrapf(err, "close watcher")
	}
	return nil
}
