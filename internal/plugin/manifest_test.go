// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin_test

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/launcher/internal/plugin"
)

func TestParseManifest_Full(t *testing.T) {
	yaml := `
name: clock-widget
version: 1.2.0
api: ">=1.0.0, <2.0.0"
entry: src/main.lua
priority: ui
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "clock-widget", m.Name)
	assert.Equal(t, "1.2.0", m.Version)
	assert.Equal(t, "src/main.lua", m.Entry)
	assert.Equal(t, plugin.PriorityUI, m.Priority)
	assert.Empty(t, m.RootPath, "rootPath is never read from YAML")
}

func TestParseManifest_DefaultPriority(t *testing.T) {
	m, err := plugin.ParseManifest([]byte("name: minimal\nentry: main.lua\n"))
	require.NoError(t, err)
	assert.Equal(t, plugin.PriorityOther, m.Priority)
}

func TestParseManifest_InvalidName(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"uppercase not allowed", "name: Invalid_Name\nentry: main.lua"},
		{"underscore not allowed", "name: my_plugin\nentry: main.lua"},
		{"trailing hyphen", "name: plugin-\nentry: main.lua"},
		{"leading digit", "name: 1plugin\nentry: main.lua"},
		{"empty", "name: \"\"\nentry: main.lua"},
		{"too long", "name: " + strings.Repeat("a", 65) + "\nentry: main.lua"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "name")
		})
	}
}

func TestParseManifest_ValidNames(t *testing.T) {
	for _, name := range []string{"a", "clock", "clock-widget", "theme2", strings.Repeat("a", 64)} {
		t.Run(name, func(t *testing.T) {
			m, err := plugin.ParseManifest([]byte("name: " + name + "\nentry: main.lua"))
			require.NoError(t, err)
			assert.Equal(t, name, m.Name)
		})
	}
}

func TestParseManifest_Entry(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{"simple", "main.lua", false},
		{"nested", "lib/init.lua", false},
		{"dot segments that stay inside", "lib/../main.lua", false},
		{"empty", `""`, true},
		{"absolute", "/etc/passwd", true},
		{"parent escape", "../other/main.lua", true},
		{"sneaky escape", "lib/../../main.lua", true},
		{"current dir", ".", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte("name: p\nentry: " + tt.entry))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "entry")
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseManifest_InvalidPriority(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("name: p\nentry: main.lua\npriority: urgent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")
}

func TestParseManifest_InvalidVersion(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("name: p\nentry: main.lua\nversion: not-a-version"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestParseManifest_InvalidAPIConstraint(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("name: p\nentry: main.lua\napi: \">>1\""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api")
}

func TestParseManifest_Commands(t *testing.T) {
	m, err := plugin.ParseManifest([]byte("name: p\nentry: main.lua\ncommands: [clock.*, account.current]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"clock.*", "account.current"}, m.Commands)

	m, err = plugin.ParseManifest([]byte("name: p\nentry: main.lua\ncommands: []"))
	require.NoError(t, err)
	assert.NotNil(t, m.Commands)
	assert.Empty(t, m.Commands)

	m, err = plugin.ParseManifest([]byte("name: p\nentry: main.lua"))
	require.NoError(t, err)
	assert.Nil(t, m.Commands)

	_, err = plugin.ParseManifest([]byte("name: p\nentry: main.lua\ncommands: [\"[unclosed\"]"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commands")
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	_, err := plugin.ParseManifest([]byte("name: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestParseManifest_EmptyInput(t *testing.T) {
	_, err := plugin.ParseManifest(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestManifest_CompatibleWith(t *testing.T) {
	host := semver.MustParse("1.4.0")
	tests := []struct {
		api  string
		want bool
	}{
		{"", true},
		{">=1.0.0", true},
		{"^1.2", true},
		{">=2.0.0", false},
		{"~1.3.0", false},
	}
	for _, tt := range tests {
		t.Run(tt.api, func(t *testing.T) {
			m := &plugin.Manifest{Name: "p", Entry: "main.lua", Priority: plugin.PriorityOther, API: tt.api}
			got, err := m.CompatibleWith(host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriority_Early(t *testing.T) {
	assert.True(t, plugin.PriorityDependency.Early())
	assert.True(t, plugin.PriorityCore.Early())
	assert.False(t, plugin.PriorityUI.Early())
	assert.False(t, plugin.PriorityOther.Early())
}

func TestSortByPriority(t *testing.T) {
	ms := []*plugin.Manifest{
		{Name: "misc", Priority: plugin.PriorityOther},
		{Name: "panel", Priority: plugin.PriorityUI},
		{Name: "theme", Priority: plugin.PriorityCore},
		{Name: "lib", Priority: plugin.PriorityDependency},
		{Name: "clock", Priority: plugin.PriorityUI},
	}

	plugin.SortByPriority(ms)

	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"lib", "theme", "panel", "clock", "misc"}, names)
}
