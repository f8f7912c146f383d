// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	luavm "github.com/yuin/gopher-lua"
)

func TestNewState_LibraryLoadError(t *testing.T) {
	failing := func(L *luavm.LState) int {
		L.RaiseError("simulated library load failure")
		return 0
	}
	f := NewStateFactory()
	f.libraries = []library{{"failing-lib", failing}}

	_, err := f.NewState(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open library failing-lib")
}

func TestPluginLibraries(t *testing.T) {
	var names []string
	for _, lib := range pluginLibraries() {
		names = append(names, lib.name)
	}
	assert.ElementsMatch(t, []string{
		luavm.BaseLibName,
		luavm.TabLibName,
		luavm.StringLibName,
		luavm.MathLibName,
		luavm.CoroutineLibName,
	}, names)
}

func TestStateOptions(t *testing.T) {
	f := NewStateFactory(WithCallStackSize(32), WithRegistryMaxSize(4096))
	assert.Equal(t, 32, f.callStackSize)
	assert.Equal(t, 4096, f.registryMaxSize)

	f = NewStateFactory(WithCallStackSize(0), WithRegistryMaxSize(-1))
	assert.Equal(t, DefaultCallStackSize, f.callStackSize)
	assert.Equal(t, DefaultRegistryMaxSize, f.registryMaxSize)
}
