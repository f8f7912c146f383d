// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bundledPlugins is the plugins directory shipped with the repository.
var bundledPlugins = filepath.Join("..", "..", "plugins")

// isolateXDG points the XDG directories at temporary ones so no real user
// configuration is read.
func isolateXDG(t *testing.T) (configHome, dataHome string) {
	t.Helper()
	configHome, dataHome = t.TempDir(), t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("XDG_DATA_HOME", dataHome)
	return configHome, dataHome
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	output, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "list", "validate", "schema"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/launcher.yaml", "--help"},
			wantFlag: "/etc/launcher.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_PersistentFlagsReachSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"plugins-dir", "disabled", "log-format", "log-level"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing persistent flag %q", name)
	}
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)
	for _, name := range []string{"concurrency", "mount-timeout", "fetch-retries", "cache-size", "frame-interval", "metrics-addr", "watch"} {
		assert.NotNil(t, run.Flags().Lookup(name), "run missing flag %q", name)
	}
}
