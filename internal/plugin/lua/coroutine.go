// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package lua

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Coroutines drives coroutines created by plugin code from Go, one resume at
// a time. The coroutine library functions are captured when the value is
// created so later changes to plugin globals do not affect it.
type Coroutines struct {
	resume lua.LValue
	status lua.LValue
}

// CaptureCoroutines snapshots coroutine.resume and coroutine.status from L.
func CaptureCoroutines(L *lua.LState) (*Coroutines, error) {
	lib, ok := L.GetGlobal(lua.CoroutineLibName).(*lua.LTable)
	if !ok {
		return nil, errors.New("coroutine library not loaded")
	}
	c := &Coroutines{
		resume: lib.RawGetString("resume"),
		status: lib.RawGetString("status"),
	}
	if c.resume.Type() != lua.LTFunction || c.status.Type() != lua.LTFunction {
		return nil, errors.New("coroutine library is incomplete")
	}
	return c, nil
}

// Step resumes co once. done reports whether the coroutine has finished, in
// which case ret holds its first return value. A runtime error inside the
// coroutine is returned as err and also finishes it.
func (c *Coroutines) Step(L *lua.LState, co *lua.LState) (done bool, ret lua.LValue, err error) {
	top := L.GetTop()
	defer L.SetTop(top)

	if err := L.CallByParam(lua.P{Fn: c.resume, NRet: lua.MultRet, Protect: true}, co); err != nil {
		return true, lua.LNil, err
	}
	n := L.GetTop() - top
	if n < 1 {
		return true, lua.LNil, errors.New("coroutine.resume returned nothing")
	}
	ret = lua.LNil
	if n >= 2 {
		ret = L.Get(top + 2)
	}
	if !lua.LVAsBool(L.Get(top + 1)) {
		return true, lua.LNil, fmt.Errorf("coroutine failed: %s", ret.String())
	}

	L.SetTop(top)
	if err := L.CallByParam(lua.P{Fn: c.status, NRet: 1, Protect: true}, co); err != nil {
		return true, lua.LNil, err
	}
	return lua.LVAsString(L.Get(-1)) == "dead", ret, nil
}
