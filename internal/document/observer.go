// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package document

import (
	"slices"
	"sync/atomic"
)

// RecordType identifies the kind of mutation a Record describes.
type RecordType int

// Mutation kinds.
const (
	ChildList RecordType = iota + 1
	AttributeChange
)

// Record describes a single mutation.
type Record struct {
	Type     RecordType
	Target   *Element
	Added    []*Element
	Removed  []*Element
	AttrName string
	OldValue string
	HadValue bool
}

// ObserveOptions selects which mutations a watcher receives.
type ObserveOptions struct {
	// Subtree extends observation to all descendants of the root.
	Subtree bool
	// ChildList reports insertions and removals.
	ChildList bool
	// Attributes reports attribute changes.
	Attributes bool
	// AttributeFilter limits attribute reports to these names when non-empty.
	AttributeFilter []string
}

// Watcher is a registered mutation callback.
type Watcher struct {
	id           uint64
	doc          *Document
	root         *Element
	opts         ObserveOptions
	fn           func(Record)
	disconnected atomic.Bool
}

// Observe registers fn for mutations under root. Callbacks run synchronously
// on the goroutine that performed the mutation, after the document lock has
// been released, so they may mutate the document themselves.
func (d *Document) Observe(root *Element, opts ObserveOptions, fn func(Record)) *Watcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	w := &Watcher{
		id:   d.nextID,
		doc:  d,
		root: root,
		opts: opts,
		fn:   fn,
	}
	w.opts.AttributeFilter = slices.Clone(opts.AttributeFilter)
	d.watchers[w.id] = w
	return w
}

// Disconnect stops delivery. Safe to call more than once.
func (w *Watcher) Disconnect() {
	if !w.disconnected.CompareAndSwap(false, true) {
		return
	}
	w.doc.mu.Lock()
	delete(w.doc.watchers, w.id)
	w.doc.mu.Unlock()
}

// Connected reports whether the watcher still receives records.
func (w *Watcher) Connected() bool {
	return !w.disconnected.Load()
}

func (w *Watcher) wantsAttr(name string) bool {
	return len(w.opts.AttributeFilter) == 0 || slices.Contains(w.opts.AttributeFilter, name)
}

// Subtree returns n and every light-tree descendant of n. It is a helper for
// watchers that need to inspect inserted or removed subtrees.
func Subtree(n *Element) []*Element {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	var out []*Element
	n.walkLocked(func(e *Element) { out = append(out, e) })
	return out
}
