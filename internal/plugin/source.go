// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// ManifestFile is the manifest file name inside each plugin directory.
const ManifestFile = "plugin.yaml"

// ManifestSource supplies the current plugin manifests.
type ManifestSource interface {
	GetManifests(ctx context.Context) ([]*Manifest, error)
}

// CodeSource supplies plugin source text.
type CodeSource interface {
	GetSource(ctx context.Context, pluginName, entryPath string) ([]byte, error)
}

// DirSource discovers plugins laid out as <dir>/<name>/plugin.yaml and serves
// their entry files. It implements both ManifestSource and CodeSource.
type DirSource struct {
	dir      string
	disabled []glob.Glob
}

// DirSourceOption configures a DirSource.
type DirSourceOption func(*DirSource) error

// WithDisabled skips plugins whose name matches any of the glob patterns.
func WithDisabled(patterns ...string) DirSourceOption {
	return func(s *DirSource) error {
		for _, p := range patterns {
			g, err := glob.Compile(p)
			if err != nil {
				return fmt.Errorf("disabled pattern %q: %w", p, err)
			}
			s.disabled = append(s.disabled, g)
		}
		return nil
	}
}

// NewDirSource creates a directory-backed source rooted at dir.
func NewDirSource(dir string, opts ...DirSourceOption) (*DirSource, error) {
	s := &DirSource{dir: dir}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Dir returns the plugins directory.
func (s *DirSource) Dir() string { return s.dir }

// GetManifests implements ManifestSource. Plugins with a missing or invalid
// manifest are logged and skipped; a missing plugins directory yields no
// manifests. The result is sorted by name.
func (s *DirSource) GetManifests(_ context.Context) ([]*Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").Code(CodeManifestSourceFailed).
			With("dir", s.dir).
			Wrapf(err, "read plugins directory")
	}

	seen := make(map[string]string)
	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile)) //nolint:gosec // path is built from ReadDir entries
		if err != nil {
			slog.Warn("skipping plugin without manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}

		m, err := ParseManifest(data)
		if err != nil {
			slog.Warn("skipping plugin with invalid manifest",
				"dir", entry.Name(),
				"error", err)
			continue
		}
		if s.isDisabled(m.Name) {
			slog.Info("plugin disabled by configuration", "plugin", m.Name)
			continue
		}
		if prev, dup := seen[m.Name]; dup {
			slog.Warn("skipping duplicate plugin name",
				"plugin", m.Name,
				"dir", entry.Name(),
				"first", prev)
			continue
		}
		seen[m.Name] = entry.Name()

		m.RootPath = pluginDir
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, nil
}

// GetSource implements CodeSource. The plugin directory is located by
// manifest name, so a plugin's directory name may differ from its name.
func (s *DirSource) GetSource(ctx context.Context, pluginName, entryPath string) ([]byte, error) {
	if !isLocalPath(entryPath) {
		return nil, fmt.Errorf("entry %q escapes the plugin directory", entryPath)
	}
	root, err := s.rootFor(ctx, pluginName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(path.Clean(entryPath)))) //nolint:gosec // entry validated by isLocalPath
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", entryPath, err)
	}
	return data, nil
}

func (s *DirSource) rootFor(ctx context.Context, pluginName string) (string, error) {
	direct := filepath.Join(s.dir, pluginName)
	if data, err := os.ReadFile(filepath.Join(direct, ManifestFile)); err == nil { //nolint:gosec // plugin names are validated
		if m, err := ParseManifest(data); err == nil && m.Name == pluginName {
			return direct, nil
		}
	}
	manifests, err := s.GetManifests(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range manifests {
		if m.Name == pluginName {
			return m.RootPath, nil
		}
	}
	return "", fmt.Errorf("plugin %q not found in %s: %w", pluginName, s.dir, fs.ErrNotExist)
}

func (s *DirSource) isDisabled(name string) bool {
	for _, g := range s.disabled {
		if g.Match(name) {
			return true
		}
	}
	return false
}
