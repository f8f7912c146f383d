// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/eventbus"
	"github.com/holomush/launcher/internal/plugin/capability"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
)

// pendingStep is the pause between resumes of a pending entry coroutine.
const pendingStep = time.Millisecond

// SandboxConfig holds the collaborators a Sandbox mounts plugins with.
type SandboxConfig struct {
	Document *document.Document
	Frames   document.FrameScheduler
	Executor *pluginlua.Executor
	States   *pluginlua.StateFactory
	Bus      *eventbus.Bus
	Bridge   HostBridge
	Sink     LogSink
	Tracker  *Tracker
	Metrics  *Metrics
}

// Sandbox mounts compiled plugins into their mount points.
type Sandbox struct {
	doc     *document.Document
	frames  document.FrameScheduler
	exec    *pluginlua.Executor
	states  *pluginlua.StateFactory
	bus     *eventbus.Bus
	bridge  HostBridge
	grants  *capability.Enforcer
	sink    LogSink
	tracker *Tracker
	metrics *Metrics
}

// NewSandbox creates a sandbox. Bridge, Sink, States and Metrics are
// optional.
func NewSandbox(cfg SandboxConfig) *Sandbox {
	s := &Sandbox{
		doc:     cfg.Document,
		frames:  cfg.Frames,
		exec:    cfg.Executor,
		states:  cfg.States,
		bus:     cfg.Bus,
		bridge:  cfg.Bridge,
		grants:  capability.NewEnforcer(),
		sink:    cfg.Sink,
		tracker: cfg.Tracker,
		metrics: cfg.Metrics,
	}
	if s.states == nil {
		s.states = pluginlua.NewStateFactory()
	}
	if s.bridge == nil {
		s.bridge = nopBridge{}
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Mount runs the plugin's entry function against mountPoint. A runtime that
// already exists for the plugin is torn down first. The runtime is tracked
// before any plugin code runs, so everything the plugin allocates is
// reversed by the tracker even when the entry function fails.
//
// When the entry returns a coroutine, Mount resumes it until it finishes and
// keeps its final return value as the cleanup callback.
func (s *Sandbox) Mount(ctx context.Context, task *LoadTask, mod *Module, mountPoint *document.Element) error {
	m := task.Manifest
	rt := newRuntime(s, m, mountPoint)

	prev, ok := s.tracker.adopt(task, rt)
	if prev != nil {
		prev.teardown(ctx)
	}
	if !ok {
		rt.cancel()
		return errBuilder(CodeCancelled, m.Name).Errorf("mount cancelled")
	}
	if !rt.attach() {
		return errBuilder(CodeCancelled, m.Name).Errorf("mount cancelled")
	}
	if err := s.grant(m); err != nil {
		return errBuilder(CodeInvalidSource, m.Name).Wrapf(err, "command grants")
	}

	start := time.Now()
	err := s.exec.Execute(ctx, func() error { return rt.start(mod) })
	s.metrics.observeMount(start)
	if err != nil {
		return executorError(ctx, m.Name, err, "mount")
	}
	return rt.settlePending(ctx)
}

// grant records which bridge commands m may invoke.
func (s *Sandbox) grant(m *Manifest) error {
	if m.Commands == nil {
		s.grants.RemoveGrants(m.Name)
		return nil
	}
	return s.grants.SetGrants(m.Name, m.Commands)
}

// executorError gives errors coming back from the executor a plugin code.
func executorError(ctx context.Context, name string, err error, op string) error {
	switch {
	case ErrorCode(err) != "":
		return err
	case ctx.Err() != nil:
		return errBuilder(CodeCancelled, name).Wrapf(err, "%s interrupted", op)
	default:
		return errBuilder(CodePluginRuntimeError, name).Wrapf(err, "%s", op)
	}
}

// start creates the plugin's Lua state and calls its entry. Executor only.
func (rt *runtime) start(mod *Module) error {
	if rt.retiring.Load() {
		return errBuilder(CodeCancelled, rt.name).Errorf("plugin retired before start")
	}

	L, err := rt.sb.states.NewState(rt.ctx)
	if err != nil {
		return errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "create lua state")
	}
	pluginlua.RedirectPrint(L, func(line string) {
		rt.logger.Info("plugin print", "line", line)
	})
	rt.L = L
	rt.active = true

	co, err := pluginlua.CaptureCoroutines(L)
	if err != nil {
		return errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "prepare lua state")
	}
	rt.co = co
	registerElementType(L)

	export, err := pluginlua.Instantiate(L, mod.Proto)
	if err != nil {
		return errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "evaluate entry script")
	}
	entry := entryFunction(export)
	if entry == nil {
		return errBuilder(CodeInvalidPluginExport, rt.name).
			With("export", export.Type().String()).
			Hint("the entry script must return function(mount_point, api)").
			Errorf("plugin does not export an entry function")
	}

	if err := L.CallByParam(lua.P{Fn: entry, NRet: 1, Protect: true},
		pushElement(L, rt.mountPoint), rt.buildAPI(L)); err != nil {
		return errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "entry function")
	}
	ret := L.Get(-1)
	L.Pop(1)
	rt.adoptResult(ret)
	return nil
}

// entryFunction returns the callable default export: the chunk's return
// value itself, or its "default" field.
func entryFunction(export lua.LValue) *lua.LFunction {
	switch v := export.(type) {
	case *lua.LFunction:
		return v
	case *lua.LTable:
		if fn, ok := v.RawGetString("default").(*lua.LFunction); ok {
			return fn
		}
	}
	return nil
}

// adoptResult stores what the entry returned. Executor only.
func (rt *runtime) adoptResult(ret lua.LValue) {
	switch v := ret.(type) {
	case *lua.LFunction:
		rt.cleanup = v
	case *lua.LState:
		rt.pending = v
	case *lua.LNilType:
	default:
		rt.logger.Warn("ignoring entry return value", "type", ret.Type().String())
	}
}

// settlePending resumes a pending entry coroutine until it finishes, the
// runtime retires or ctx ends.
func (rt *runtime) settlePending(ctx context.Context) error {
	for {
		var done bool
		err := rt.sb.exec.Execute(ctx, func() error {
			if !rt.active || rt.pending == nil {
				done = true
				return nil
			}
			finished, ret, err := rt.co.Step(rt.L, rt.pending)
			if !finished {
				return nil
			}
			done = true
			rt.pending = nil
			if err != nil {
				return errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "pending entry")
			}
			if _, ok := ret.(*lua.LState); ok {
				rt.logger.Warn("pending entry resolved to another coroutine; ignoring")
				return nil
			}
			rt.adoptResult(ret)
			return nil
		})
		if err != nil {
			return executorError(ctx, rt.name, err, "pending entry")
		}
		if done {
			return nil
		}

		t := time.NewTimer(pendingStep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return errBuilder(CodeCancelled, rt.name).Wrapf(ctx.Err(), "pending entry interrupted")
		case <-rt.done:
			t.Stop()
			return nil
		}
	}
}
