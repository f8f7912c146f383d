// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/launcher/pkg/errutil"
)

// Task is one unit of pool work.
type Task func(ctx context.Context) error

// RunPool runs tasks with at most concurrency of them executing at once and
// returns when every task has settled. Workers share a cursor into tasks and
// claim the next index until the list is exhausted, so tasks start in list
// order. A task error or panic is logged and never stops the pool.
func RunPool(ctx context.Context, tasks []Task, concurrency int) {
	if len(tasks) == 0 {
		return
	}
	concurrency = max(1, min(concurrency, len(tasks)))

	var cursor atomic.Int64
	var g errgroup.Group
	for range concurrency {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(tasks) {
					return nil
				}
				if err := runTask(ctx, tasks[i]); err != nil {
					errutil.LogError(slog.Default(), "plugin task failed", err)
				}
			}
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors
}

func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("plugin").Code(CodePluginRuntimeError).With("panic", r).Errorf("task panicked: %v", r)
		}
	}()
	return t(ctx)
}

// PluginTask wraps fn so a panic inside it is reported as a
// PLUGIN_RUNTIME_ERROR naming the plugin.
func PluginTask(name string, fn Task) Task {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errBuilder(CodePluginRuntimeError, name).With("panic", r).Errorf("plugin task panicked: %v", r)
			}
		}()
		return fn(ctx)
	}
}

// BatchSizes returns the worker counts for the early and late batches given
// the configured concurrency.
func BatchSizes(concurrency int) (early, late int) {
	return max(2, concurrency), max(1, concurrency/2)
}
