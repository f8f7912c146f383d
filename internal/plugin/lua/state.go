// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package lua provides the gopher-lua runtime plugins execute in: restricted
// state construction, source compilation, value conversion and a
// single-goroutine executor.
package lua

import (
	"context"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Default state limits.
const (
	DefaultCallStackSize   = 200
	DefaultRegistryMaxSize = 256 * 1024
)

// library is a Lua standard library plugins may load.
type library struct {
	name string
	fn   lua.LGFunction
}

// pluginLibraries lists the libraries opened in plugin states.
// Opened: base, table, string, math, coroutine.
// Never opened: os, io, debug, package, channel.
func pluginLibraries() []library {
	return []library{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

// strippedGlobals are base functions that reach the filesystem or compile
// strings at runtime.
var strippedGlobals = []string{"dofile", "loadfile", "loadstring", "load"}

// StateOption configures a StateFactory.
type StateOption func(*StateFactory)

// WithCallStackSize bounds the Lua call depth of every state.
func WithCallStackSize(n int) StateOption {
	return func(f *StateFactory) {
		if n > 0 {
			f.callStackSize = n
		}
	}
}

// WithRegistryMaxSize bounds the value stack of every state.
func WithRegistryMaxSize(n int) StateOption {
	return func(f *StateFactory) {
		if n > 0 {
			f.registryMaxSize = n
		}
	}
}

// StateFactory creates plugin Lua states.
type StateFactory struct {
	libraries       []library
	callStackSize   int
	registryMaxSize int
}

// NewStateFactory creates a state factory.
func NewStateFactory(opts ...StateOption) *StateFactory {
	f := &StateFactory{
		libraries:       pluginLibraries(),
		callStackSize:   DefaultCallStackSize,
		registryMaxSize: DefaultRegistryMaxSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewState creates a state with only the plugin libraries opened. The state
// is bound to ctx: once ctx ends, running Lua code aborts.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   f.callStackSize,
		RegistryMaxSize: f.registryMaxSize,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range strippedGlobals {
		L.SetGlobal(fn, lua.LNil)
	}
	if ctx != nil && ctx.Done() != nil {
		L.SetContext(ctx)
	}

	return L, nil
}

// RedirectPrint replaces the global print so each call hands its
// tab-joined arguments to sink instead of writing to stdout.
func RedirectPrint(L *lua.LState, sink func(line string)) {
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		sink(strings.Join(parts, "\t"))
		return 0
	}))
}
