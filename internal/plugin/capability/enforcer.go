// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package capability restricts which host bridge commands a plugin may
// invoke.
//
// Grants are gobwas/glob patterns with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "clock.*" matches "clock.now" but NOT "clock.zone.list"
//   - "clock.**" matches both "clock.now" AND "clock.zone.list"
//   - "**" matches any command
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiledGrant holds a pattern and its compiled glob.
type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin command grants at runtime. A plugin that was never
// registered is unrestricted; Restricted tells the two cases apart.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string][]compiledGrant // plugin name -> compiled grants
}

// NewEnforcer creates an enforcer with no restricted plugins.
func NewEnforcer() *Enforcer {
	return &Enforcer{grants: make(map[string][]compiledGrant)}
}

// Compile validates patterns without registering them.
func Compile(patterns []string) error {
	_, err := compile(patterns)
	return err
}

func compile(patterns []string) ([]compiledGrant, error) {
	compiled := make([]compiledGrant, len(patterns))
	for i, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("command %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, fmt.Errorf("command %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}
	return compiled, nil
}

// SetGrants restricts plugin to the given command patterns, replacing any
// earlier grants. On error the enforcer is left unchanged.
func (e *Enforcer) SetGrants(plugin string, patterns []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}
	compiled, err := compile(patterns)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// RemoveGrants lifts every restriction on plugin.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// Restricted reports whether plugin has registered grants.
func (e *Enforcer) Restricted(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[plugin]
	return ok
}

// Grants returns a copy of the patterns granted to plugin, or nil.
func (e *Enforcer) Grants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Allowed reports whether plugin may invoke command. Unrestricted plugins
// may invoke anything; the empty command is never allowed.
func (e *Enforcer) Allowed(plugin, command string) bool {
	if command == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return true
	}
	for _, grant := range grants {
		if grant.glob.Match(command) {
			return true
		}
	}
	return false
}
