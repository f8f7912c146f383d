// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package document

import (
	"log/slog"
	"sync"
	"time"
)

// FrameID identifies a requested frame callback.
type FrameID uint64

// FrameScheduler batches work to the next frame.
type FrameScheduler interface {
	// RequestFrame schedules fn to run once on the next frame.
	RequestFrame(fn func()) FrameID
	// CancelFrame drops a pending callback. Unknown ids are ignored.
	CancelFrame(id FrameID)
}

// TickerFrames runs pending frame callbacks on a fixed interval.
type TickerFrames struct {
	mu      sync.Mutex
	pending map[FrameID]func()
	order   []FrameID
	nextID  FrameID
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// NewTickerFrames starts a scheduler that flushes every interval.
func NewTickerFrames(interval time.Duration) *TickerFrames {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	f := &TickerFrames{
		pending: make(map[FrameID]func()),
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

// RequestFrame implements FrameScheduler.
func (f *TickerFrames) RequestFrame(fn func()) FrameID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.closed {
		return f.nextID
	}
	f.pending[f.nextID] = fn
	f.order = append(f.order, f.nextID)
	return f.nextID
}

// CancelFrame implements FrameScheduler.
func (f *TickerFrames) CancelFrame(id FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
}

// Pending returns the number of callbacks waiting for the next frame.
func (f *TickerFrames) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Close stops the ticker goroutine and drops pending callbacks.
func (f *TickerFrames) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.pending = make(map[FrameID]func())
	f.order = nil
	f.mu.Unlock()

	close(f.done)
	f.ticker.Stop()
	f.wg.Wait()
}

func (f *TickerFrames) loop() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case <-f.ticker.C:
			RunFrame(f.take())
		}
	}
}

func (f *TickerFrames) take() []func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	fns := make([]func(), 0, len(f.order))
	for _, id := range f.order {
		if fn, ok := f.pending[id]; ok {
			fns = append(fns, fn)
		}
	}
	f.pending = make(map[FrameID]func())
	f.order = nil
	return fns
}

// RunFrame invokes frame callbacks in order, logging and skipping any that
// panic.
func RunFrame(fns []func()) {
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("frame callback panicked", "panic", r)
				}
			}()
			fn()
		}()
	}
}
