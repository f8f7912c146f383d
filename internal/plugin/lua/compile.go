// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"bytes"
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// Compile parses and compiles source into a function prototype. The
// prototype is immutable and may be instantiated in any number of states.
func Compile(chunkName string, source []byte) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), chunkName)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", chunkName, err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", chunkName, err)
	}
	return proto, nil
}

// Instantiate runs a compiled chunk in L and returns its first return value.
func Instantiate(L *lua.LState, proto *lua.FunctionProto) (lua.LValue, error) {
	fn := L.NewFunctionFromProto(proto)
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}
