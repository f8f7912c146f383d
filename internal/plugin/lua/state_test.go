// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
)

func newState(t *testing.T, ctx context.Context, opts ...pluginlua.StateOption) *lua.LState {
	t.Helper()
	L, err := pluginlua.NewStateFactory(opts...).NewState(ctx)
	require.NoError(t, err)
	t.Cleanup(L.Close)
	return L
}

func TestNewState_Globals(t *testing.T) {
	L := newState(t, context.Background())

	for _, lib := range []string{"table", "string", "math", "coroutine"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %s", lib)
	}
	for _, name := range []string{"os", "io", "debug", "package", "dofile", "loadfile", "loadstring", "load"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(name).Type(), "global %s", name)
	}
}

func TestNewState_RunsLibraries(t *testing.T) {
	tests := []struct {
		name string
		code string
		want string
	}{
		{"arithmetic", `result = 1 + 1`, "2"},
		{"string", `result = string.upper("hello")`, "HELLO"},
		{"table", `local t = {3, 1, 2}; table.sort(t); result = t[1]`, "1"},
		{"math", `result = math.abs(-42)`, "42"},
		{"coroutine", `
local co = coroutine.create(function() coroutine.yield(1); return 2 end)
local _, a = coroutine.resume(co)
local _, b = coroutine.resume(co)
result = a + b`, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			L := newState(t, context.Background())
			require.NoError(t, L.DoString(tt.code))
			assert.Equal(t, tt.want, L.GetGlobal("result").String())
		})
	}
}

func TestNewState_Independent(t *testing.T) {
	L1 := newState(t, context.Background())
	L2 := newState(t, context.Background())

	require.NoError(t, L1.DoString(`foo = "bar"`))
	assert.Equal(t, lua.LTNil, L2.GetGlobal("foo").Type())
}

func TestNewState_CallStackLimit(t *testing.T) {
	L := newState(t, context.Background(), pluginlua.WithCallStackSize(16))

	err := L.DoString(`local function f(n) return 1 + f(n + 1) end; f(1)`)
	assert.Error(t, err)
}

func TestNewState_BoundToContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	L := newState(t, ctx)
	cancel()

	err := L.DoString(`while true do end`)
	assert.Error(t, err)
}

func TestRedirectPrint(t *testing.T) {
	L := newState(t, context.Background())
	var lines []string
	pluginlua.RedirectPrint(L, func(line string) { lines = append(lines, line) })

	require.NoError(t, L.DoString(`print("tick", 1, true, nil); print()`))
	assert.Equal(t, []string{"tick\t1\ttrue\tnil", ""}, lines)
}
