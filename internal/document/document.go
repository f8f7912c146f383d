// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package document provides the host document plugins render into: an
// in-memory element tree with shadow-root render boundaries, selector
// queries, mutation watchers and a per-frame scheduler.
package document

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/holomush/launcher/internal/document/selector"
)

// stylesheetSelector matches stylesheet link elements.
var stylesheetSelector = selector.MustParse(`link[rel=stylesheet]`)

// Document is the root of the host view tree.
type Document struct {
	mu       sync.RWMutex
	root     *Element
	head     *Element
	body     *Element
	watchers map[uint64]*Watcher
	nextID   uint64
}

// New creates a document with html, head and body elements.
func New() *Document {
	d := &Document{watchers: make(map[uint64]*Watcher)}
	d.root = d.newElementLocked("html")
	d.head = d.newElementLocked("head")
	d.body = d.newElementLocked("body")
	d.head.parent = d.root
	d.body.parent = d.root
	d.root.children = []*Element{d.head, d.body}
	return d
}

// Root returns the html element.
func (d *Document) Root() *Element { return d.root }

// Head returns the head element; global stylesheets live here.
func (d *Document) Head() *Element { return d.head }

// Body returns the body element.
func (d *Document) Body() *Element { return d.body }

// CreateElement returns a detached element owned by d. attrs are name/value
// pairs; a trailing odd name is ignored.
func (d *Document) CreateElement(tag string, attrs ...string) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.newElementLocked(tag)
	for i := 0; i+1 < len(attrs); i += 2 {
		if _, ok := e.attrs[attrs[i]]; !ok {
			e.order = append(e.order, attrs[i])
		}
		e.attrs[attrs[i]] = attrs[i+1]
	}
	return e
}

func (d *Document) newElementLocked(tag string) *Element {
	return &Element{
		doc:   d,
		tag:   strings.ToLower(tag),
		attrs: make(map[string]string),
	}
}

// QuerySelectorAll returns every light-tree element matching sel.
func (d *Document) QuerySelectorAll(sel *selector.Selector) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*Element
	d.root.walkLocked(func(n *Element) {
		if sel.Match(view{n}) {
			out = append(out, n)
		}
	})
	return out
}

// StylesFor returns the stylesheet hrefs that apply to e: document-wide
// links in head, plus links inside e's own shadow tree when e is rendered
// behind a render boundary. Styles inside other shadow trees never apply.
func (d *Document) StylesFor(e *Element) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var hrefs []string
	collect := func(n *Element) {
		if stylesheetSelector.Match(view{n}) {
			hrefs = append(hrefs, n.attrs["href"])
		}
	}
	for _, c := range d.head.children {
		c.walkLocked(collect)
	}
	if tr := e.treeRoot(); tr.host != nil {
		for _, c := range tr.children {
			c.walkLocked(collect)
		}
	}
	return hrefs
}

// WatcherCount returns the number of connected watchers.
func (d *Document) WatcherCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.watchers)
}

// delivery pairs a record with the watcher that should receive it.
type delivery struct {
	w   *Watcher
	rec Record
}

// collectLocked selects the watchers interested in rec. The target's tree is
// walked upward without crossing shadow boundaries, so a watcher on the
// document root never sees mutations inside a render boundary.
func (d *Document) collectLocked(rec Record) []delivery {
	if len(d.watchers) == 0 {
		return nil
	}
	ancestors := make(map[*Element]bool)
	for cur := rec.Target; cur != nil; cur = cur.parent {
		ancestors[cur] = true
	}

	var out []delivery
	for _, w := range d.watchers {
		if !ancestors[w.root] {
			continue
		}
		if !w.opts.Subtree && w.root != rec.Target {
			continue
		}
		switch rec.Type {
		case ChildList:
			if !w.opts.ChildList {
				continue
			}
		case AttributeChange:
			if !w.opts.Attributes || !w.wantsAttr(rec.AttrName) {
				continue
			}
		}
		out = append(out, delivery{w: w, rec: rec})
	}
	return out
}

// deliver invokes watcher callbacks outside the document lock. A panicking
// callback is logged and does not stop delivery to the others.
func (d *Document) deliver(pending []delivery) {
	for _, p := range pending {
		if p.w.disconnected.Load() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("document watcher panicked",
						"watcher", p.w.id,
						"panic", r)
				}
			}()
			p.w.fn(p.rec)
		}()
	}
}
