// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package documenttest provides test doubles for the document package.
package documenttest

import (
	"sync"

	"github.com/holomush/launcher/internal/document"
)

// ManualFrames is a FrameScheduler that only runs callbacks on Flush.
type ManualFrames struct {
	mu        sync.Mutex
	pending   map[document.FrameID]func()
	order     []document.FrameID
	nextID    document.FrameID
	requested int
}

// Compile-time interface check.
var _ document.FrameScheduler = (*ManualFrames)(nil)

// NewManualFrames creates an empty scheduler.
func NewManualFrames() *ManualFrames {
	return &ManualFrames{pending: make(map[document.FrameID]func())}
}

// RequestFrame implements document.FrameScheduler.
func (f *ManualFrames) RequestFrame(fn func()) document.FrameID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.requested++
	f.pending[f.nextID] = fn
	f.order = append(f.order, f.nextID)
	return f.nextID
}

// CancelFrame implements document.FrameScheduler.
func (f *ManualFrames) CancelFrame(id document.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
}

// Flush runs every pending callback and returns how many ran.
func (f *ManualFrames) Flush() int {
	f.mu.Lock()
	fns := make([]func(), 0, len(f.order))
	for _, id := range f.order {
		if fn, ok := f.pending[id]; ok {
			fns = append(fns, fn)
		}
	}
	f.pending = make(map[document.FrameID]func())
	f.order = nil
	f.mu.Unlock()

	document.RunFrame(fns)
	return len(fns)
}

// Pending returns the number of callbacks waiting for Flush.
func (f *ManualFrames) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Requested returns how many frames were requested in total.
func (f *ManualFrames) Requested() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested
}
