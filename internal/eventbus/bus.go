// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package eventbus provides a namespaced publish/subscribe channel that lets
// plugins and the host exchange events without holding references to each
// other.
package eventbus

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Handler receives data emitted on a channel.
type Handler func(data any)

// Subscription identifies one registered handler.
type Subscription struct {
	ID      ulid.ULID
	Channel string
}

type entry struct {
	id      ulid.ULID
	handler Handler
}

// Bus is a process-wide registry of channel handlers. The zero value is not
// usable; call New. A Bus is passed explicitly to whoever needs it and is
// only cleared by Reset.
type Bus struct {
	mu       sync.RWMutex
	channels map[string][]entry
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{channels: make(map[string][]entry)}
}

// Channel joins a namespace and an event name into a channel name.
func Channel(namespace, event string) string {
	return namespace + ":" + event
}

// On registers h on channel.
func (b *Bus) On(channel string, h Handler) Subscription {
	id := ulid.Make()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[channel] = append(b.channels[channel], entry{id: id, handler: h})
	return Subscription{ID: id, Channel: channel}
}

// Off removes the handler registered under id. It reports whether a handler
// was removed.
func (b *Bus) Off(channel string, id ulid.ULID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.channels[channel]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(b.channels, channel)
			} else {
				b.channels[channel] = entries
			}
			return true
		}
	}
	return false
}

// Emit calls every handler on channel synchronously, in registration order,
// and returns the number of handlers invoked. Handlers may call On/Off/Emit.
// A panicking handler is logged and skipped.
func (b *Bus) Emit(channel string, data any) int {
	b.mu.RLock()
	entries := append([]entry(nil), b.channels[channel]...)
	b.mu.RUnlock()

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event handler panicked",
						"channel", channel,
						"subscription", e.id.String(),
						"panic", r)
				}
			}()
			e.handler(data)
		}()
	}
	return len(entries)
}

// HandlerCount returns the number of handlers on channels with the given
// prefix; an empty prefix counts everything.
func (b *Bus) HandlerCount(prefix string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for ch, entries := range b.channels {
		if strings.HasPrefix(ch, prefix) {
			n += len(entries)
		}
	}
	return n
}

// Reset drops every handler.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = make(map[string][]entry)
}
