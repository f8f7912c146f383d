// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/eventbus"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
	"github.com/holomush/launcher/pkg/errutil"
)

// teardownTimeout bounds each Lua step of a runtime teardown.
const teardownTimeout = 5 * time.Second

// runtime is the state of one mounted plugin. Go-side resources are guarded
// by mu and may be touched from any goroutine; Lua values are only touched on
// the executor goroutine.
type runtime struct {
	name     string
	manifest *Manifest
	sb       *Sandbox
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	retiring atomic.Bool
	done     chan struct{}

	mu           sync.Mutex
	mountPoint   *document.Element
	shadow       *document.Element
	renderRoot   *document.Element
	crashErr     error
	watchers     []*document.Watcher
	scopedStyles []*document.Element
	globalStyles []*document.Element
	images       *imageSwapper
	subs         []handlerSub

	// Executor-only.
	L       *lua.LState
	co      *pluginlua.Coroutines
	cleanup *lua.LFunction
	pending *lua.LState
	active  bool
}

func newRuntime(sb *Sandbox, m *Manifest, mountPoint *document.Element) *runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &runtime{
		name:       m.Name,
		manifest:   m,
		sb:         sb,
		logger:     slog.Default().With("plugin", m.Name),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		mountPoint: mountPoint,
	}
}

// attach creates the render boundary on the mount point. It fails when the
// runtime was retired before it got the chance.
func (rt *runtime) attach() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.retiring.Load() {
		return false
	}
	rt.shadow = rt.mountPoint.AttachShadow()
	return true
}

// ensureRenderRoot lazily creates the element plugin content renders into.
func (rt *runtime) ensureRenderRoot() *document.Element {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.renderRoot != nil {
		return rt.renderRoot
	}
	root := rt.sb.doc.CreateElement("div", "class", "plugin-root", "data-plugin", rt.name)
	if !rt.retiring.Load() && rt.shadow != nil {
		rt.shadow.AppendChild(root)
		rt.renderRoot = root
	}
	return root
}

func (rt *runtime) setCrashed(err error) {
	rt.mu.Lock()
	rt.crashErr = err
	rt.mu.Unlock()
}

// track records a watcher, disconnecting it at once if the runtime is
// already being torn down.
func (rt *runtime) track(w *document.Watcher) {
	rt.mu.Lock()
	if rt.retiring.Load() {
		rt.mu.Unlock()
		w.Disconnect()
		return
	}
	rt.watchers = append(rt.watchers, w)
	rt.mu.Unlock()
}

// addStyle inserts link into the shadow root or the document head.
func (rt *runtime) addStyle(link *document.Element, global bool) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.retiring.Load() {
		return false
	}
	if global {
		rt.sb.doc.Head().AppendChild(link)
		rt.globalStyles = append(rt.globalStyles, link)
		return true
	}
	if rt.shadow == nil {
		return false
	}
	rt.shadow.AppendChild(link)
	rt.scopedStyles = append(rt.scopedStyles, link)
	return true
}

func (rt *runtime) imageSwapper() *imageSwapper {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.retiring.Load() {
		return nil
	}
	if rt.images == nil {
		rt.images = newImageSwapper(rt.sb.doc, rt.sb.frames)
	}
	return rt.images
}

// handlerSub is a bus subscription and the Lua function it calls.
type handlerSub struct {
	eventbus.Subscription
	fn *lua.LFunction
}

// offFilter selects subscriptions to drop. Zero fields match everything.
type offFilter struct {
	id string
	fn *lua.LFunction
}

func (f offFilter) match(s handlerSub) bool {
	if f.id != "" && s.ID.String() != f.id {
		return false
	}
	return f.fn == nil || s.fn == f.fn
}

func (rt *runtime) subscribe(event string, fn *lua.LFunction, h eventbus.Handler) (eventbus.Subscription, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.retiring.Load() {
		return eventbus.Subscription{}, false
	}
	sub := rt.sb.bus.On(eventbus.Channel(rt.name, event), h)
	rt.subs = append(rt.subs, handlerSub{Subscription: sub, fn: fn})
	return sub, true
}

// unsubscribe removes the subscriptions on event that f selects.
func (rt *runtime) unsubscribe(event string, f offFilter) int {
	channel := eventbus.Channel(rt.name, event)
	rt.mu.Lock()
	var drop []handlerSub
	rt.subs = slices.DeleteFunc(rt.subs, func(s handlerSub) bool {
		if s.Channel != channel || !f.match(s) {
			return false
		}
		drop = append(drop, s)
		return true
	})
	rt.mu.Unlock()

	n := 0
	for _, s := range drop {
		if rt.sb.bus.Off(s.Channel, s.ID) {
			n++
		}
	}
	return n
}

// post queues fn on the executor; it is skipped once the runtime is no
// longer active.
func (rt *runtime) post(fn func(L *lua.LState)) {
	rt.sb.exec.Post(func() {
		if !rt.active || rt.L == nil {
			return
		}
		fn(rt.L)
	})
}

// call invokes a Lua function on L, logging any failure. Executor only.
func (rt *runtime) call(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) bool {
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
		errutil.LogError(rt.logger, "plugin callback failed",
			errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "plugin callback"))
		return false
	}
	return true
}

// onExecutor runs fn on the executor with a bounded wait. After the executor
// has stopped fn runs on the calling goroutine instead.
func (rt *runtime) onExecutor(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	err := rt.sb.exec.Execute(ctx, fn)
	if errors.Is(err, pluginlua.ErrExecutorClosed) {
		<-rt.sb.exec.Stopped()
		return fn()
	}
	return err
}

// teardown reverses everything the plugin allocated. Each step runs even if
// an earlier one fails; failures are logged. Safe to call more than once.
func (rt *runtime) teardown(ctx context.Context) {
	if !rt.retiring.CompareAndSwap(false, true) {
		return
	}
	close(rt.done)

	rt.step("plugin cleanup", func() { rt.runCleanup(ctx) })
	rt.cancel()

	rt.mu.Lock()
	images := rt.images
	watchers := rt.watchers
	rt.watchers = nil
	rt.mu.Unlock()

	if images != nil {
		rt.step("cancel frame batch", images.cancelFrame)
	}
	rt.step("disconnect watchers", func() {
		for _, w := range watchers {
			w.Disconnect()
		}
		if images != nil {
			images.disconnect()
		}
	})
	if images != nil {
		rt.step("restore images", images.restore)
	}
	rt.step("remove styles", rt.removeStyles)
	rt.step("unmount render root", rt.unmount)
	rt.step("unsubscribe events", rt.dropSubscriptions)
	rt.step("close lua state", func() { rt.closeState(ctx) })
}

func (rt *runtime) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("teardown step panicked", "step", name, "panic", r)
		}
	}()
	fn()
}

func (rt *runtime) runCleanup(ctx context.Context) {
	err := rt.onExecutor(ctx, func() error {
		rt.active = false
		fn := rt.cleanup
		rt.cleanup = nil
		if fn == nil || rt.L == nil {
			return nil
		}
		return rt.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
	if err != nil {
		errutil.LogError(rt.logger, "plugin cleanup failed",
			errBuilder(CodePluginRuntimeError, rt.name).Wrapf(err, "plugin cleanup"))
	}
}

func (rt *runtime) removeStyles() {
	rt.mu.Lock()
	scoped, global := rt.scopedStyles, rt.globalStyles
	rt.scopedStyles, rt.globalStyles = nil, nil
	rt.mu.Unlock()

	for _, link := range scoped {
		link.Remove()
	}
	for _, link := range global {
		link.Remove()
	}
}

func (rt *runtime) unmount() {
	rt.mu.Lock()
	root, shadow := rt.renderRoot, rt.shadow
	rt.renderRoot, rt.shadow = nil, nil
	rt.mu.Unlock()

	if root != nil {
		root.Remove()
	}
	if shadow != nil {
		rt.mountPoint.DetachShadow()
	}
}

func (rt *runtime) dropSubscriptions() {
	rt.mu.Lock()
	subs := rt.subs
	rt.subs = nil
	rt.mu.Unlock()
	for _, s := range subs {
		rt.sb.bus.Off(s.Channel, s.ID)
	}
}

func (rt *runtime) closeState(ctx context.Context) {
	closeL := func() error {
		rt.active = false
		rt.pending = nil
		if rt.L != nil {
			rt.L.Close()
			rt.L = nil
		}
		return nil
	}
	if err := rt.onExecutor(ctx, closeL); err != nil {
		rt.logger.Warn("lua state close deferred", "error", err)
		rt.sb.exec.Post(func() { _ = closeL() }) //nolint:errcheck // closeL never fails
	}
}

// Resources reports what a mounted plugin currently holds.
type Resources struct {
	Watchers     int
	ScopedStyles int
	GlobalStyles int
	Subs         int
	Swapped      int
	Rendered     bool
	// Crashed is the last render failure, nil after a clean render.
	Crashed error
}

func (rt *runtime) resources() Resources {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r := Resources{
		Watchers:     len(rt.watchers),
		ScopedStyles: len(rt.scopedStyles),
		GlobalStyles: len(rt.globalStyles),
		Subs:         len(rt.subs),
		Rendered:     rt.renderRoot != nil,
		Crashed:      rt.crashErr,
	}
	if rt.images != nil {
		r.Swapped = rt.images.swappedCount()
	}
	return r
}
