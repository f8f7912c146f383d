// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/document/selector"
)

// SlotAttr is the attribute that marks an element as a plugin's mount point.
// Its value is the plugin name.
const SlotAttr = "data-plugin-slot"

var slotSelector = selector.MustParse("[" + SlotAttr + "]")

// mountWaiter is a pending WaitForNode result shared by every caller waiting
// on the same name.
type mountWaiter struct {
	done  chan struct{}
	node  *document.Element
	timer *time.Timer
}

// NodeRegistry maps plugin names to mount-point elements and lets load tasks
// wait for a mount point to appear.
type NodeRegistry struct {
	mu      sync.Mutex
	nodes   map[string]*document.Element
	waiters map[string]*mountWaiter
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{
		nodes:   make(map[string]*document.Element),
		waiters: make(map[string]*mountWaiter),
	}
}

// WaitForNode returns the mount point for name, waiting up to timeout for it
// to register. Concurrent callers for the same name share one waiter. The
// boolean is false when the mount point never appeared, was detached while
// waiting, or the wait was cancelled by CancelAll. Cancelling ctx only stops
// this caller from waiting; the shared waiter keeps running.
func (r *NodeRegistry) WaitForNode(ctx context.Context, name string, timeout time.Duration) (*document.Element, bool) {
	r.mu.Lock()
	if el, ok := r.nodes[name]; ok {
		r.mu.Unlock()
		return el, true
	}
	w, ok := r.waiters[name]
	if !ok {
		w = &mountWaiter{done: make(chan struct{})}
		w.timer = time.AfterFunc(timeout, func() { r.resolve(name, w, nil) })
		r.waiters[name] = w
	}
	r.mu.Unlock()

	select {
	case <-w.done:
		return w.node, w.node != nil
	case <-ctx.Done():
		return nil, false
	}
}

// Register records el as the mount point for name and resolves any waiter.
func (r *NodeRegistry) Register(name string, el *document.Element) {
	r.mu.Lock()
	r.nodes[name] = el
	w := r.waiters[name]
	r.mu.Unlock()
	if w != nil {
		r.resolve(name, w, el)
	}
}

// Unregister forgets the mount point for name if it is el, or whatever is
// registered when el is nil. Any pending waiter resolves absent.
func (r *NodeRegistry) Unregister(name string, el *document.Element) {
	r.mu.Lock()
	if cur, ok := r.nodes[name]; ok && (el == nil || cur == el) {
		delete(r.nodes, name)
	}
	w := r.waiters[name]
	r.mu.Unlock()
	if w != nil {
		r.resolve(name, w, nil)
	}
}

// Lookup returns the registered mount point for name.
func (r *NodeRegistry) Lookup(name string) (*document.Element, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.nodes[name]
	return el, ok
}

// CancelAll resolves every pending waiter absent and stops its timer.
func (r *NodeRegistry) CancelAll() {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*mountWaiter)
	r.mu.Unlock()

	for _, w := range waiters {
		w.timer.Stop()
		close(w.done)
	}
}

// Pending returns the number of outstanding waiters.
func (r *NodeRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

// resolve completes w if it is still the current waiter for name.
func (r *NodeRegistry) resolve(name string, w *mountWaiter, node *document.Element) {
	r.mu.Lock()
	if r.waiters[name] != w {
		r.mu.Unlock()
		return
	}
	delete(r.waiters, name)
	w.node = node
	r.mu.Unlock()

	w.timer.Stop()
	close(w.done)
}

// Attach registers every slot element already in doc and keeps the registry
// in sync as slots are inserted, removed or renamed. The returned watcher
// stops tracking when disconnected.
func (r *NodeRegistry) Attach(doc *document.Document) *document.Watcher {
	for _, el := range doc.QuerySelectorAll(slotSelector) {
		if name, ok := el.Attr(SlotAttr); ok && name != "" {
			r.Register(name, el)
		}
	}

	return doc.Observe(doc.Root(), document.ObserveOptions{
		Subtree:         true,
		ChildList:       true,
		Attributes:      true,
		AttributeFilter: []string{SlotAttr},
	}, func(rec document.Record) {
		switch rec.Type {
		case document.ChildList:
			for _, removed := range rec.Removed {
				r.forEachSlot(removed, r.Unregister)
			}
			for _, added := range rec.Added {
				r.forEachSlot(added, r.Register)
			}
		case document.AttributeChange:
			if rec.HadValue && rec.OldValue != "" {
				r.Unregister(rec.OldValue, rec.Target)
			}
			if name, ok := rec.Target.Attr(SlotAttr); ok && name != "" && rec.Target.Connected() {
				r.Register(name, rec.Target)
			}
		}
	})
}

func (r *NodeRegistry) forEachSlot(root *document.Element, fn func(string, *document.Element)) {
	for _, el := range document.Subtree(root) {
		if name, ok := el.Attr(SlotAttr); ok && name != "" {
			fn(name, el)
		}
	}
}
