// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"sync"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/document/selector"
)

type imageRule struct {
	sel *selector.Selector
	src string
}

type imageOriginal struct {
	src       string
	hasSrc    bool
	srcset    string
	hasSrcset bool
}

// imageSwapper implements replaceImage for one plugin. Matching elements are
// queued and swapped together on the next frame; the first value seen for
// each element is remembered so restore can put it back.
type imageSwapper struct {
	doc    *document.Document
	frames document.FrameScheduler

	// applyMu serializes flush against teardown so a swap cannot land after
	// originals were restored.
	applyMu sync.Mutex

	mu        sync.Mutex
	rules     []imageRule
	watcher   *document.Watcher
	pending   map[*document.Element]string
	order     []*document.Element
	frame     document.FrameID
	scheduled bool
	originals map[*document.Element]imageOriginal
	swapped   []*document.Element
	closed    bool
}

func newImageSwapper(doc *document.Document, frames document.FrameScheduler) *imageSwapper {
	return &imageSwapper{
		doc:       doc,
		frames:    frames,
		pending:   make(map[*document.Element]string),
		originals: make(map[*document.Element]imageOriginal),
	}
}

// add installs a rule and queues every element that already matches it.
func (s *imageSwapper) add(sel *selector.Selector, src string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.rules = append(s.rules, imageRule{sel: sel, src: src})
	if s.watcher == nil {
		s.watcher = s.doc.Observe(s.doc.Root(), document.ObserveOptions{
			Subtree:         true,
			ChildList:       true,
			Attributes:      true,
			AttributeFilter: []string{"src", "srcset"},
		}, s.onMutation)
	}
	s.mu.Unlock()

	for _, el := range s.doc.QuerySelectorAll(sel) {
		s.consider(el)
	}
}

func (s *imageSwapper) onMutation(rec document.Record) {
	switch rec.Type {
	case document.ChildList:
		for _, added := range rec.Added {
			for _, el := range document.Subtree(added) {
				s.consider(el)
			}
		}
	case document.AttributeChange:
		s.consider(rec.Target)
	}
}

// consider queues el when a rule matches it and its src differs from the
// rule's. Later rules win over earlier ones.
func (s *imageSwapper) consider(el *document.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	want, ok := "", false
	for _, r := range s.rules {
		if el.Matches(r.sel) {
			want, ok = r.src, true
		}
	}
	if !ok {
		return
	}
	if cur, has := el.Attr("src"); has && cur == want {
		return
	}

	if _, queued := s.pending[el]; !queued {
		s.order = append(s.order, el)
	}
	s.pending[el] = want
	if !s.scheduled {
		s.scheduled = true
		s.frame = s.frames.RequestFrame(s.flush)
	}
}

// flush applies the queued swaps.
func (s *imageSwapper) flush() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	batch, order := s.pending, s.order
	s.pending = make(map[*document.Element]string)
	s.order = nil
	s.scheduled = false
	s.mu.Unlock()

	for _, el := range order {
		src := batch[el]
		if cur, has := el.Attr("src"); has && cur == src {
			continue
		}

		s.mu.Lock()
		if _, seen := s.originals[el]; !seen {
			var orig imageOriginal
			orig.src, orig.hasSrc = el.Attr("src")
			orig.srcset, orig.hasSrcset = el.Attr("srcset")
			s.originals[el] = orig
			s.swapped = append(s.swapped, el)
		}
		s.mu.Unlock()

		el.SetAttr("src", src)
		el.RemoveAttr("srcset")
	}
}

// cancelFrame drops the scheduled batch and stops further scheduling.
func (s *imageSwapper) cancelFrame() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.scheduled {
		s.frames.CancelFrame(s.frame)
		s.scheduled = false
	}
	s.pending = make(map[*document.Element]string)
	s.order = nil
}

// disconnect stops watching the document.
func (s *imageSwapper) disconnect() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		w.Disconnect()
	}
}

// restore puts back the original src and srcset of every swapped element.
func (s *imageSwapper) restore() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.closed = true
	swapped, originals := s.swapped, s.originals
	s.swapped = nil
	s.originals = make(map[*document.Element]imageOriginal)
	s.mu.Unlock()

	for _, el := range swapped {
		orig := originals[el]
		restoreAttr(el, "src", orig.src, orig.hasSrc)
		restoreAttr(el, "srcset", orig.srcset, orig.hasSrcset)
	}
}

// swappedCount returns how many elements currently hold a swapped source.
func (s *imageSwapper) swappedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.swapped)
}

func restoreAttr(el *document.Element, name, value string, present bool) {
	if present {
		el.SetAttr(name, value)
	} else {
		el.RemoveAttr(name)
	}
}
