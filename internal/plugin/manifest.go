// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/holomush/launcher/internal/plugin/capability"
)

// Priority orders plugin loading. Dependency and core plugins load in a
// first batch that fully settles before ui and other plugins start.
type Priority string

// Priority classes.
const (
	PriorityDependency Priority = "dependency"
	PriorityCore       Priority = "core"
	PriorityUI         Priority = "ui"
	PriorityOther      Priority = "other"
)

// rank returns the sort rank of a priority; lower loads first.
func (p Priority) rank() int {
	switch p {
	case PriorityDependency:
		return 0
	case PriorityCore:
		return 1
	case PriorityUI:
		return 2
	default:
		return 3
	}
}

// Early reports whether the priority belongs to the first load batch.
func (p Priority) Early() bool {
	return p == PriorityDependency || p == PriorityCore
}

// Manifest represents a plugin.yaml file.
type Manifest struct {
	Name        string   `yaml:"name" json:"name" jsonschema:"pattern=^[a-z]([a-z0-9-]*[a-z0-9])?$,maxLength=64"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	API         string   `yaml:"api,omitempty" json:"api,omitempty" jsonschema:"description=semver constraint on the host plugin API"`
	Entry       string   `yaml:"entry" json:"entry"`
	Priority    Priority `yaml:"priority,omitempty" json:"priority,omitempty" jsonschema:"enum=dependency,enum=core,enum=ui,enum=other"`

	// Commands lists the bridge commands the plugin may invoke as glob
	// patterns. Absent means unrestricted; an empty list denies all.
	Commands []string `yaml:"commands,omitempty" json:"commands,omitempty" jsonschema:"description=glob patterns of host commands the plugin may invoke"`

	// RootPath is the base for resolving plugin-local assets. It is filled
	// in by the manifest source, never read from YAML.
	RootPath string `yaml:"-" json:"-"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, or hyphens.
// Cannot end with a hyphen. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if m.Priority == "" {
		m.Priority = PriorityOther
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return fmt.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Entry == "" {
		return fmt.Errorf("entry is required")
	}
	if !isLocalPath(m.Entry) {
		return fmt.Errorf("entry %q must be a relative path inside the plugin directory", m.Entry)
	}

	switch m.Priority {
	case PriorityDependency, PriorityCore, PriorityUI, PriorityOther:
	default:
		return fmt.Errorf("priority must be one of dependency, core, ui, other; got %q", m.Priority)
	}

	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return fmt.Errorf("version %q is not valid semver: %w", m.Version, err)
		}
	}
	if m.API != "" {
		if _, err := semver.NewConstraint(m.API); err != nil {
			return fmt.Errorf("api constraint %q is invalid: %w", m.API, err)
		}
	}
	if err := capability.Compile(m.Commands); err != nil {
		return fmt.Errorf("commands: %w", err)
	}

	return nil
}

// CompatibleWith reports whether the manifest's api constraint accepts the
// host API version. A manifest without a constraint is always compatible.
func (m *Manifest) CompatibleWith(hostAPI *semver.Version) (bool, error) {
	if m.API == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(m.API)
	if err != nil {
		return false, fmt.Errorf("api constraint %q is invalid: %w", m.API, err)
	}
	return c.Check(hostAPI), nil
}

// SortByPriority orders manifests by priority class, keeping the existing
// order within a class.
func SortByPriority(manifests []*Manifest) {
	slices.SortStableFunc(manifests, func(a, b *Manifest) int {
		return a.Priority.rank() - b.Priority.rank()
	})
}

// cacheKey identifies the compiled module for this manifest.
func (m *Manifest) cacheKey() string {
	return m.Name + "\x00" + m.Entry
}

// isLocalPath reports whether p is a relative slash path that stays inside
// its base directory once cleaned.
func isLocalPath(p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || path.IsAbs(p) {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
