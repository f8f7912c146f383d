// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrExecutorClosed is returned when attempting to use a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// Executor serializes all Lua work through a single goroutine.
//
// gopher-lua's LState is not goroutine-safe, and plugins calling into each
// other through the event bus or document watchers would otherwise need
// re-entrant locking. Every piece of plugin code therefore runs on the
// executor goroutine: Execute blocks until the work has run, Post enqueues it
// and returns immediately.
//
// Execute must not be called from work already running on the executor; use
// Post or call directly instead. The queue is unbounded so Post never blocks.
type Executor struct {
	mu      sync.Mutex
	queue   []func()
	signal  chan struct{}
	closed  bool
	stopped chan struct{}
}

// NewExecutor starts an executor goroutine.
func NewExecutor() *Executor {
	e := &Executor{
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go e.run()
	return e
}

// Execute runs fn on the executor goroutine and returns its error. A panic in
// fn is recovered and returned as an error. If ctx ends first, Execute
// returns ctx.Err() and fn may still run later.
func (e *Executor) Execute(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !e.enqueue(func() { result <- protect(fn) }) {
		return ErrExecutorClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		select {
		case err := <-result:
			return err
		default:
			return ErrExecutorClosed
		}
	}
}

// Post enqueues fn without waiting. It reports false if the executor is
// closed. A panic in fn is logged.
func (e *Executor) Post(fn func()) bool {
	return e.enqueue(func() {
		if err := protect(func() error { fn(); return nil }); err != nil {
			slog.Error("posted lua work failed", "error", err)
		}
	})
}

// Close stops accepting work, drops anything still queued and waits for the
// goroutine to exit. Safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.stopped
		return
	}
	e.closed = true
	e.queue = nil
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	<-e.stopped
}

// Stopped is closed once the executor goroutine has exited. After that,
// callers may touch Lua states directly.
func (e *Executor) Stopped() <-chan struct{} {
	return e.stopped
}

// Pending returns the number of queued items.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

func (e *Executor) enqueue(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return true
}

func (e *Executor) run() {
	defer close(e.stopped)
	for range e.signal {
		for {
			e.mu.Lock()
			if e.closed {
				e.mu.Unlock()
				return
			}
			if len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			fn := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()

			fn()
		}
	}
}

// protect runs fn converting panics to errors.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = fmt.Errorf("lua panic: %w", v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return fn()
}
