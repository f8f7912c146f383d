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

func newCoroutineState(t *testing.T, src string) (*lua.LState, *pluginlua.Coroutines, *lua.LState) {
	t.Helper()
	L, err := pluginlua.NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	t.Cleanup(L.Close)

	co, err := pluginlua.CaptureCoroutines(L)
	require.NoError(t, err)
	require.NoError(t, L.DoString(src))

	th, ok := L.GetGlobal("co").(*lua.LState)
	require.True(t, ok, "co must be a coroutine")
	return L, co, th
}

func TestCoroutines_StepUntilDead(t *testing.T) {
	L, co, th := newCoroutineState(t, `
co = coroutine.create(function()
  coroutine.yield(1)
  coroutine.yield(2)
  return "finished"
end)
`)

	done, ret, err := co.Step(L, th)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, lua.LNumber(1), ret)

	done, ret, err = co.Step(L, th)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, lua.LNumber(2), ret)

	done, ret, err = co.Step(L, th)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, lua.LString("finished"), ret)
}

func TestCoroutines_ErrorFinishes(t *testing.T) {
	L, co, th := newCoroutineState(t, `
co = coroutine.create(function()
  coroutine.yield()
  error("pending failure")
end)
`)

	done, _, err := co.Step(L, th)
	require.NoError(t, err)
	assert.False(t, done)

	done, _, err = co.Step(L, th)
	require.Error(t, err)
	assert.True(t, done)
	assert.Contains(t, err.Error(), "pending failure")
}

func TestCoroutines_ImmuneToGlobalTampering(t *testing.T) {
	L, co, th := newCoroutineState(t, `
co = coroutine.create(function() return 42 end)
coroutine = nil
`)

	done, ret, err := co.Step(L, th)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, lua.LNumber(42), ret)
}
