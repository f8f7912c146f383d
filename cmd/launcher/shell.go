// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"sync"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/plugin"
)

// slotShell is the headless launcher layout: every discovered plugin gets a
// mount point in the document body. Slots of plugins that disappeared are
// removed when the manifests are listed again.
type slotShell struct {
	source plugin.ManifestSource
	doc    *document.Document

	mu    sync.Mutex
	slots map[string]*document.Element
}

func newSlotShell(source plugin.ManifestSource, doc *document.Document) *slotShell {
	return &slotShell{
		source: source,
		doc:    doc,
		slots:  make(map[string]*document.Element),
	}
}

// GetManifests implements plugin.ManifestSource.
func (s *slotShell) GetManifests(ctx context.Context) ([]*plugin.Manifest, error) {
	manifests, err := s.source.GetManifests(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck // the host wraps manifest source failures
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		want[m.Name] = true
		if _, ok := s.slots[m.Name]; ok {
			continue
		}
		el := s.doc.CreateElement("section", plugin.SlotAttr, m.Name, "class", "plugin-slot")
		s.doc.Body().AppendChild(el)
		s.slots[m.Name] = el
	}
	for name, el := range s.slots {
		if !want[name] {
			el.Remove()
			delete(s.slots, name)
		}
	}
	return manifests, nil
}

// Slots returns the number of mount points in the layout.
func (s *slotShell) Slots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
