package luaengine

import (
	"reflect"
	"runtime"
	"strconv"
	"sync"
	"weak"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/dispatch"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

// object is the payload of a host object proxy.
type object struct {
	h    handle.Handle
	hint string
}

// typeRef is the payload of a host type proxy.
type typeRef struct {
	name string
}

// collector queues handles whose proxies the Go collector reclaimed. Cleanups
// run on the runtime's cleanup goroutine; Tick drains the queue on the engine
// goroutine.
type collector struct {
	mu      sync.Mutex
	pending []handle.Handle
}

func (c *collector) add(h handle.Handle) {
	c.mu.Lock()
	c.pending = append(c.pending, h)
	c.mu.Unlock()
}

func (c *collector) drain() []handle.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (e *Engine) installMetatables() {
	L := e.L

	e.objectMeta = L.NewTable()
	L.SetFuncs(e.objectMeta, map[string]lua.LGFunction{
		"__index":    e.objectIndex,
		"__newindex": e.objectNewIndex,
		"__eq":       objectEq,
		"__tostring": objectToString,
	})
	L.SetField(e.objectMeta, "__metatable", lua.LString("host object"))

	e.typeMeta = L.NewTable()
	L.SetFuncs(e.typeMeta, map[string]lua.LGFunction{
		"__index":    e.typeIndex,
		"__newindex": e.typeNewIndex,
		"__call":     e.typeCall,
		"__tostring": typeToString,
	})
	L.SetField(e.typeMeta, "__metatable", lua.LString("host type"))

	e.vectorMeta = L.NewTable()
	L.SetField(e.vectorMeta, "__tostring", L.NewFunction(vectorToString))

	e.installPromiseMeta()
}

// objectValue returns the proxy for h, reusing a live one. A new proxy marks
// the handle finalizable; when the proxy is collected Tick releases it.
func (e *Engine) objectValue(h handle.Handle, hint string) lua.LValue {
	if h == 0 {
		return lua.LNil
	}
	if wp, ok := e.proxies[h]; ok {
		if ud := wp.Value(); ud != nil {
			return ud
		}
	}
	ud := e.L.NewUserData()
	ud.Value = &object{h: h, hint: hint}
	ud.Metatable = e.objectMeta
	e.proxies[h] = weak.Make(ud)
	e.bridge.Handles.SetFinalizable(h)
	runtime.AddCleanup(ud, e.collector.add, h)
	return ud
}

func (e *Engine) collectFinalized() {
	for _, h := range e.collector.drain() {
		if wp, ok := e.proxies[h]; ok {
			if wp.Value() != nil {
				// A newer proxy for the same handle is alive.
				continue
			}
			delete(e.proxies, h)
		}
		if e.bridge.Handles.ReleaseFinalized(h) {
			Logger().Debug("released collected proxy", zap.Int32("handle", int32(h)))
		}
	}
}

// typeValue returns the proxy for a registered type, or nil.
func (e *Engine) typeValue(name string) lua.LValue {
	t, ok := e.bridge.Types.ResolveType(name)
	if !ok {
		return lua.LNil
	}
	if ud, ok := e.types[t.FullName]; ok {
		return ud
	}
	ud := e.L.NewUserData()
	ud.Value = &typeRef{name: t.FullName}
	ud.Metatable = e.typeMeta
	e.types[t.FullName] = ud
	return ud
}

func asObject(v lua.LValue) (*object, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	obj, ok := ud.Value.(*object)
	return obj, ok
}

func asType(v lua.LValue) (*typeRef, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	t, ok := ud.Value.(*typeRef)
	return t, ok
}

func checkObject(L *lua.LState, n int) *object {
	obj, ok := asObject(L.Get(n))
	if !ok {
		L.ArgError(n, "host object expected")
	}
	return obj
}

func checkType(L *lua.LState, n int) *typeRef {
	t, ok := asType(L.Get(n))
	if !ok {
		L.ArgError(n, "host type expected")
	}
	return t
}

// invoke dispatches req with the engine's current context.
func (e *Engine) invoke(L *lua.LState, req dispatch.Request) dispatch.Result {
	res := e.bridge.Invoke(e.context(L), req)
	// Arguments are converted, so their delegates hold leases by now.
	e.inflight = e.inflight[:0]
	return res
}

// push pushes a successful result or raises the failure as a Lua error.
func (e *Engine) push(L *lua.LState, res dispatch.Result) int {
	if !res.OK() {
		L.RaiseError("%s", res.Message)
		return 0
	}
	L.Push(e.toLua(res.Value))
	return 1
}

// member reads name through get, falling back to the field of the same
// name when no property matches.
func (e *Engine) member(L *lua.LState, req dispatch.Request) (dispatch.Result, bool) {
	req.Kind = dispatch.CallGetProp
	res := e.invoke(L, req)
	if res.Code != errors.CodeNotFound {
		return res, true
	}
	req.Kind = dispatch.CallGetField
	res = e.invoke(L, req)
	return res, res.Code != errors.CodeNotFound
}

func (e *Engine) assign(L *lua.LState, req dispatch.Request) int {
	req.Kind = dispatch.CallSetProp
	res := e.invoke(L, req)
	if res.Code == errors.CodeNotFound {
		req.Kind = dispatch.CallSetField
		res = e.invoke(L, req)
	}
	if !res.OK() {
		L.RaiseError("%s", res.Message)
	}
	return 0
}

// objectIndex resolves obj.key: a method name yields the closure for colon
// calls, anything else reads a property, then a field.
func (e *Engine) objectIndex(L *lua.LState) int {
	obj := checkObject(L, 1)
	key := L.CheckString(2)
	target, live := e.bridge.Resolve(obj.h)
	if !live {
		L.RaiseError("object handle %d not found", obj.h)
		return 0
	}
	types := e.bridge.Types
	if types.HasMethod(types.TypeOf(reflect.TypeOf(target)), key, false) {
		L.Push(e.method(key))
		return 1
	}
	if res, found := e.member(L, dispatch.Request{Target: obj.h, Member: key}); found {
		return e.push(L, res)
	}
	L.Push(e.method(key))
	return 1
}

func (e *Engine) objectNewIndex(L *lua.LState) int {
	obj := checkObject(L, 1)
	key := L.CheckString(2)
	v := e.checkWire(L, 3)
	return e.assign(L, dispatch.Request{Target: obj.h, Member: key, Args: []wire.Value{v}})
}

// method returns the shared closure calling instance method name on its
// first argument.
func (e *Engine) method(name string) *lua.LFunction {
	if fn, ok := e.methods[name]; ok {
		return fn
	}
	fn := e.L.NewFunction(func(L *lua.LState) int {
		obj, ok := asObject(L.Get(1))
		if !ok {
			L.RaiseError("method %s must be called with ':'", name)
			return 0
		}
		return e.push(L, e.invoke(L, dispatch.Request{
			Kind:   dispatch.CallMethod,
			Target: obj.h,
			Member: name,
			Args:   e.args(L, 2),
		}))
	})
	e.methods[name] = fn
	return fn
}

func objectEq(L *lua.LState) int {
	a, okA := asObject(L.Get(1))
	b, okB := asObject(L.Get(2))
	L.Push(lua.LBool(okA && okB && a.h == b.h))
	return 1
}

func objectToString(L *lua.LState) int {
	obj := checkObject(L, 1)
	hint := obj.hint
	if hint == "" {
		hint = "object"
	}
	L.Push(lua.LString(hint + "#" + strconv.Itoa(int(obj.h))))
	return 1
}

// typeIndex resolves Type.key: static property, static field, enum value,
// then a static method closure.
func (e *Engine) typeIndex(L *lua.LState) int {
	t := checkType(L, 1)
	key := L.CheckString(2)
	if res, found := e.member(L, dispatch.Request{TypeName: t.name, Member: key}); found {
		return e.push(L, res)
	}
	if desc, ok := e.bridge.Types.ResolveType(t.name); ok && desc.IsEnum() {
		if v, ok := desc.EnumValue(key); ok {
			wv, err := e.bridge.Marshal.ToWireValue(v)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(e.toLua(wv))
			return 1
		}
	}
	L.Push(e.static(t.name, key))
	return 1
}

func (e *Engine) typeNewIndex(L *lua.LState) int {
	t := checkType(L, 1)
	key := L.CheckString(2)
	v := e.checkWire(L, 3)
	return e.assign(L, dispatch.Request{TypeName: t.name, Member: key, Args: []wire.Value{v}})
}

// static returns the closure calling a static method. Both Type.m(...) and
// Type:m(...) work: a leading receiver that is the type itself is dropped.
func (e *Engine) static(typeName, name string) *lua.LFunction {
	key := typeName + "." + name
	if fn, ok := e.statics[key]; ok {
		return fn
	}
	fn := e.L.NewFunction(func(L *lua.LState) int {
		from := 1
		if t, ok := asType(L.Get(1)); ok && t.name == typeName {
			from = 2
		}
		return e.push(L, e.invoke(L, dispatch.Request{
			Kind:     dispatch.CallMethod,
			TypeName: typeName,
			Member:   name,
			Args:     e.args(L, from),
		}))
	})
	e.statics[key] = fn
	return fn
}

// typeCall constructs an instance: Type(args...).
func (e *Engine) typeCall(L *lua.LState) int {
	t := checkType(L, 1)
	return e.push(L, e.invoke(L, dispatch.Request{
		Kind:     dispatch.CallCtor,
		TypeName: t.name,
		Args:     e.args(L, 2),
	}))
}

func typeToString(L *lua.LState) int {
	t := checkType(L, 1)
	L.Push(lua.LString(t.name))
	return 1
}
