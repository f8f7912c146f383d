// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		fn   func() (string, error)
		want string
	}{
		{
			name: "config from env",
			env:  map[string]string{"XDG_CONFIG_HOME": "/custom/config"},
			fn:   ConfigDir,
			want: "/custom/config/launcher",
		},
		{
			name: "config default",
			env:  map[string]string{"XDG_CONFIG_HOME": "", "HOME": "/home/testuser"},
			fn:   ConfigDir,
			want: "/home/testuser/.config/launcher",
		},
		{
			name: "data from env",
			env:  map[string]string{"XDG_DATA_HOME": "/custom/data"},
			fn:   DataDir,
			want: "/custom/data/launcher",
		},
		{
			name: "data default",
			env:  map[string]string{"XDG_DATA_HOME": "", "HOME": "/home/testuser"},
			fn:   DataDir,
			want: "/home/testuser/.local/share/launcher",
		},
		{
			name: "config file",
			env:  map[string]string{"XDG_CONFIG_HOME": "/custom/config"},
			fn:   ConfigFile,
			want: "/custom/config/launcher/config.yaml",
		},
		{
			name: "plugins dir",
			env:  map[string]string{"XDG_DATA_HOME": "/custom/data"},
			fn:   PluginsDir,
			want: "/custom/data/launcher/plugins",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := tt.fn()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnsureDir(t *testing.T) {
	testPath := filepath.Join(t.TempDir(), "nested", "dir")

	require.NoError(t, EnsureDir(testPath))

	info, err := os.Stat(testPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestEnsureDir_Idempotent(t *testing.T) {
	testPath := filepath.Join(t.TempDir(), "idempotent")

	require.NoError(t, EnsureDir(testPath))
	require.NoError(t, EnsureDir(testPath))
}

func TestEnsureDir_FileInTheWay(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.Error(t, EnsureDir(filepath.Join(file, "child")))
}
