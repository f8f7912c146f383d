// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/holomush/launcher/internal/plugin"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [plugin-dir...]",
		Short: "Validate plugin manifests and compile entry scripts",
		Long: `Validates each plugin directory without mounting anything: the manifest
must match the plugin.yaml schema, its api constraint must accept this host
and its entry script must compile.
Without arguments every directory in the plugins directory is checked.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch plugin errors early:
  launcher validate ./plugins/clock`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dirs, err = pluginDirs(cfg.PluginsDir)
				if err != nil {
					return err
				}
			}
			return runValidate(cmd.OutOrStdout(), dirs)
		},
	}
}

// pluginDirs lists the directories directly below root that hold a manifest.
func pluginDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, plugin.ManifestFile)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

func runValidate(w io.Writer, dirs []string) error {
	hostAPI := semver.MustParse(plugin.HostAPIVersion)

	failed := 0
	for _, dir := range dirs {
		name, err := validatePluginDir(dir, hostAPI)
		if name == "" {
			name = filepath.Base(dir)
		}
		if err != nil {
			failed++
			slog.Error("plugin validation failed", "plugin", name, "dir", dir, "error", err)
			fmt.Fprintf(w, "FAIL  %s: %v\n", name, err) //nolint:errcheck // console output
			continue
		}
		fmt.Fprintf(w, "ok    %s\n", name) //nolint:errcheck // console output
	}

	if failed > 0 {
		return fmt.Errorf("validation failed: %d of %d plugins invalid", failed, len(dirs))
	}
	slog.Info("all plugins valid", "count", len(dirs))
	return nil
}

// validatePluginDir checks one plugin directory and returns the manifest
// name when the manifest could be parsed.
func validatePluginDir(dir string, hostAPI *semver.Version) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, plugin.ManifestFile)) //nolint:gosec // operator-supplied path
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return "", fmt.Errorf("manifest: %s", plugin.FormatSchemaError(err))
	}
	m, err := plugin.ParseManifest(data)
	if err != nil {
		return "", fmt.Errorf("manifest: %w", err)
	}

	ok, err := m.CompatibleWith(hostAPI)
	if err != nil {
		return m.Name, err
	}
	if !ok {
		return m.Name, fmt.Errorf("api constraint %q does not accept host API %s", m.API, hostAPI)
	}

	code, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(m.Entry))) //nolint:gosec // entry validated by ParseManifest
	if err != nil {
		return m.Name, fmt.Errorf("read entry: %w", err)
	}
	if _, err := pluginlua.Compile(m.Name+"/"+m.Entry, code); err != nil {
		return m.Name, fmt.Errorf("compile entry: %w", err)
	}
	return m.Name, nil
}
