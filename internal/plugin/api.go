// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/launcher/internal/document"
	"github.com/holomush/launcher/internal/document/selector"
	"github.com/holomush/launcher/internal/eventbus"
	pluginlua "github.com/holomush/launcher/internal/plugin/lua"
)

const (
	elementTypeName = "launcher.element"
	maxRenderDepth  = 64
)

var (
	tagPattern  = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	attrPattern = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_.:-]*$`)
)

// buildAPI creates the table passed to the plugin entry function.
func (rt *runtime) buildAPI(L *lua.LState) *lua.LTable {
	api := L.NewTable()
	fns := map[string]lua.LGFunction{
		"render":                 rt.luaRender,
		"observe":                rt.luaObserve,
		"replace_image":          rt.luaReplaceImage,
		"get_local_resource_url": rt.luaLocalResourceURL,
		"load_style":             rt.luaLoadStyle,
		"invoke":                 rt.luaInvoke,
		"log":                    rt.luaLog,
		"on":                     rt.luaOn,
		"off":                    rt.luaOff,
		"emit":                   rt.luaEmit,
	}
	for name, fn := range fns {
		L.SetField(api, name, L.NewFunction(fn))
	}
	L.SetField(api, "replaceImage", api.RawGetString("replace_image"))
	L.SetField(api, "getLocalResourceUrl", api.RawGetString("get_local_resource_url"))
	L.SetField(api, "loadStyle", api.RawGetString("load_style"))
	L.SetField(api, "name", lua.LString(rt.name))
	return api
}

// luaRender renders content into the plugin's render root behind a crash
// boundary. Returns true when the content rendered without failing.
func (rt *runtime) luaRender(L *lua.LState) int {
	content := L.Get(1)
	root := rt.ensureRenderRoot()
	render := WithCrashBoundary(rt.sb.doc, rt.name, func() ([]*document.Element, error) {
		return rt.buildContent(L, content, 0)
	}, rt.setCrashed)

	rt.setCrashed(nil)
	nodes, _ := render() //nolint:errcheck // the boundary never fails
	root.ReplaceChildren(nodes...)

	L.Push(lua.LBool(len(nodes) != 1 || !nodes[0].HasClass(ErrorIndicatorClass)))
	return 1
}

// buildContent converts a Lua render value into elements.
func (rt *runtime) buildContent(L *lua.LState, v lua.LValue, depth int) ([]*document.Element, error) {
	if depth > maxRenderDepth {
		return nil, fmt.Errorf("render content nested deeper than %d", maxRenderDepth)
	}
	doc := rt.sb.doc

	switch val := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString, lua.LNumber, lua.LBool:
		el := doc.CreateElement("span")
		el.SetText(val.String())
		return []*document.Element{el}, nil
	case *lua.LFunction:
		if err := L.CallByParam(lua.P{Fn: val, NRet: 1, Protect: true}); err != nil {
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return rt.buildContent(L, ret, depth+1)
	case *lua.LTable:
		if val.RawGetString("tag") == lua.LNil && val.Len() > 0 {
			return rt.buildList(L, val, depth)
		}
		el, err := rt.buildNode(L, val, depth)
		if err != nil {
			return nil, err
		}
		return []*document.Element{el}, nil
	default:
		return nil, fmt.Errorf("cannot render a %s", v.Type().String())
	}
}

func (rt *runtime) buildList(L *lua.LState, t *lua.LTable, depth int) ([]*document.Element, error) {
	var out []*document.Element
	for i := 1; i <= t.Len(); i++ {
		nodes, err := rt.buildContent(L, t.RawGetInt(i), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

// buildNode converts {tag=, id=, class=, attrs={}, text=, children={}}.
func (rt *runtime) buildNode(L *lua.LState, t *lua.LTable, depth int) (*document.Element, error) {
	tag := "div"
	if v := t.RawGetString("tag"); v != lua.LNil {
		tag = strings.ToLower(lua.LVAsString(v))
	}
	if !tagPattern.MatchString(tag) {
		return nil, fmt.Errorf("invalid tag %q", tag)
	}
	el := rt.sb.doc.CreateElement(tag)

	if attrs, ok := t.RawGetString("attrs").(*lua.LTable); ok {
		var bad error
		attrs.ForEach(func(k, v lua.LValue) {
			name := lua.LVAsString(k)
			if bad != nil {
				return
			}
			if !attrPattern.MatchString(name) {
				bad = fmt.Errorf("invalid attribute name %q", name)
				return
			}
			el.SetAttr(name, lua.LVAsString(v))
		})
		if bad != nil {
			return nil, bad
		}
	}
	if id := t.RawGetString("id"); id != lua.LNil {
		el.SetAttr("id", lua.LVAsString(id))
	}
	if class := t.RawGetString("class"); class != lua.LNil {
		el.SetAttr("class", lua.LVAsString(class))
	}
	if text := t.RawGetString("text"); text != lua.LNil {
		el.SetText(lua.LVAsString(text))
	}

	switch children := t.RawGetString("children").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		nodes, err := rt.buildList(L, children, depth)
		if err != nil {
			return nil, err
		}
		el.ReplaceChildren(nodes...)
	default:
		nodes, err := rt.buildContent(L, children, depth+1)
		if err != nil {
			return nil, err
		}
		el.ReplaceChildren(nodes...)
	}
	return el, nil
}

// luaObserve installs a document-wide watcher calling fn for every element
// matching the selector, first for existing matches and then for inserted
// elements and, with {attributes=true}, attribute changes.
func (rt *runtime) luaObserve(L *lua.LState) int {
	sel, err := selector.Parse(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	fn := L.CheckFunction(2)
	attributes := false
	if opts, ok := L.Get(3).(*lua.LTable); ok {
		attributes = lua.LVAsBool(opts.RawGetString("attributes"))
	}

	doc := rt.sb.doc
	w := doc.Observe(doc.Root(), document.ObserveOptions{
		Subtree:    true,
		ChildList:  true,
		Attributes: attributes,
	}, func(rec document.Record) {
		for _, el := range matchingTargets(rec, sel) {
			rt.post(func(L *lua.LState) {
				rt.call(L, fn, pushElement(L, el))
			})
		}
	})
	rt.track(w)

	for _, el := range doc.QuerySelectorAll(sel) {
		rt.call(L, fn, pushElement(L, el))
	}

	handle := L.NewTable()
	L.SetField(handle, "disconnect", L.NewFunction(func(*lua.LState) int {
		w.Disconnect()
		return 0
	}))
	L.Push(handle)
	return 1
}

// matchingTargets returns the elements a record makes newly relevant.
func matchingTargets(rec document.Record, sel *selector.Selector) []*document.Element {
	var out []*document.Element
	switch rec.Type {
	case document.ChildList:
		for _, added := range rec.Added {
			for _, el := range document.Subtree(added) {
				if el.Matches(sel) {
					out = append(out, el)
				}
			}
		}
	case document.AttributeChange:
		if rec.Target.Matches(sel) {
			out = append(out, rec.Target)
		}
	}
	return out
}

func (rt *runtime) luaReplaceImage(L *lua.LState) int {
	sel, err := selector.Parse(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	src := L.CheckString(2)
	if s := rt.imageSwapper(); s != nil {
		s.add(sel, src)
	}
	return 0
}

func (rt *runtime) luaLocalResourceURL(L *lua.LState) int {
	L.Push(lua.LString(localResourceURL(rt.manifest.RootPath, L.OptString(1, ""))))
	return 1
}

// localResourceURL resolves rel against root as a file URL, or "" when rel
// is empty or escapes root.
func localResourceURL(root, rel string) string {
	if root == "" || !isLocalPath(rel) {
		return ""
	}
	abs, err := filepath.Abs(filepath.Join(root, filepath.FromSlash(path.Clean(strings.ReplaceAll(rel, "\\", "/")))))
	if err != nil {
		return ""
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

func (rt *runtime) luaLoadStyle(L *lua.LState) int {
	rel := L.CheckString(1)
	global := false
	if opts, ok := L.Get(2).(*lua.LTable); ok {
		global = lua.LVAsBool(opts.RawGetString("global"))
	}

	href := localResourceURL(rt.manifest.RootPath, rel)
	if href == "" {
		rt.logger.Warn("stylesheet path could not be resolved", "path", rel)
		L.Push(lua.LFalse)
		return 1
	}
	link := rt.sb.doc.CreateElement("link",
		"rel", "stylesheet",
		"href", href,
		"data-plugin", rt.name)
	L.Push(lua.LBool(rt.addStyle(link, global)))
	return 1
}

func (rt *runtime) luaInvoke(L *lua.LState) int {
	command := L.CheckString(1)
	args, _ := pluginlua.FromLua(L.Get(2)).(map[string]any)

	if !rt.sb.grants.Allowed(rt.name, command) {
		rt.logger.Warn("bridge command not granted", "command", command)
		L.Push(lua.LNil)
		L.Push(lua.LString(fmt.Sprintf("command %q not permitted for plugin %s", command, rt.name)))
		return 2
	}

	res, err := rt.sb.bridge.Invoke(rt.ctx, command, args)
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(pluginlua.ToLua(L, res))
	return 1
}

func (rt *runtime) luaLog(L *lua.LState) int {
	level := strings.ToLower(L.CheckString(1))
	msg := L.CheckString(2)

	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		level, lvl = "info", slog.LevelInfo
	}
	rt.logger.Log(rt.ctx, lvl, msg, "source", "plugin")

	if err := rt.sb.sink.Log(rt.ctx, level, fmt.Sprintf("[%s] %s", rt.name, msg)); err != nil {
		rt.logger.Debug("log sink unavailable", "error", err)
	}
	return 0
}

func (rt *runtime) luaOn(L *lua.LState) int {
	event := L.CheckString(1)
	fn := L.CheckFunction(2)
	if event == "" {
		L.ArgError(1, "event name must not be empty")
		return 0
	}

	sub, ok := rt.subscribe(event, fn, func(data any) {
		rt.post(func(L *lua.LState) {
			rt.call(L, fn, pluginlua.ToLua(L, data))
		})
	})
	if !ok {
		return 0
	}
	L.Push(lua.LString(sub.ID.String()))
	return 1
}

// luaOff removes handlers for an event: those registered with the given
// function, the one with the given subscription id, or all of them.
func (rt *runtime) luaOff(L *lua.LState) int {
	event := L.CheckString(1)
	var f offFilter
	switch v := L.Get(2).(type) {
	case *lua.LFunction:
		f.fn = v
	case lua.LString:
		f.id = string(v)
	case *lua.LNilType:
	default:
		L.ArgError(2, "handler function or subscription id expected, got "+v.Type().String())
		return 0
	}
	L.Push(lua.LNumber(rt.unsubscribe(event, f)))
	return 1
}

func (rt *runtime) luaEmit(L *lua.LState) int {
	event := L.CheckString(1)
	if event == "" {
		L.ArgError(1, "event name must not be empty")
		return 0
	}
	n := rt.sb.bus.Emit(eventbus.Channel(rt.name, event), pluginlua.FromLua(L.Get(2)))
	L.Push(lua.LNumber(n))
	return 1
}

// registerElementType installs the metatable backing element handles.
func registerElementType(L *lua.LState) {
	mt := L.NewTypeMetatable(elementTypeName)
	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"tag": func(L *lua.LState) int {
			L.Push(lua.LString(checkElement(L).Tag()))
			return 1
		},
		"id": func(L *lua.LState) int {
			L.Push(lua.LString(checkElement(L).ID()))
			return 1
		},
		"attr": func(L *lua.LState) int {
			v, ok := checkElement(L).Attr(L.CheckString(2))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(v))
			return 1
		},
		"set_attr": func(L *lua.LState) int {
			checkElement(L).SetAttr(L.CheckString(2), L.CheckString(3))
			return 0
		},
		"remove_attr": func(L *lua.LState) int {
			checkElement(L).RemoveAttr(L.CheckString(2))
			return 0
		},
		"has_class": func(L *lua.LState) int {
			L.Push(lua.LBool(checkElement(L).HasClass(L.CheckString(2))))
			return 1
		},
		"text": func(L *lua.LState) int {
			L.Push(lua.LString(checkElement(L).Text()))
			return 1
		},
		"set_text": func(L *lua.LState) int {
			checkElement(L).SetText(L.CheckString(2))
			return 0
		},
		"matches": func(L *lua.LState) int {
			sel, err := selector.Parse(L.CheckString(2))
			if err != nil {
				L.ArgError(2, err.Error())
				return 0
			}
			L.Push(lua.LBool(checkElement(L).Matches(sel)))
			return 1
		},
	})
	L.SetField(mt, "__index", methods)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		el := checkElement(L)
		L.Push(lua.LString("<" + el.Tag() + ">"))
		return 1
	}))
}

func pushElement(L *lua.LState, el *document.Element) lua.LValue {
	ud := L.NewUserData()
	ud.Value = el
	L.SetMetatable(ud, L.GetTypeMetatable(elementTypeName))
	return ud
}

func checkElement(L *lua.LState) *document.Element {
	ud := L.CheckUserData(1)
	if el, ok := ud.Value.(*document.Element); ok {
		return el
	}
	L.ArgError(1, "element expected")
	return nil
}
