package luaengine

import (
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-bridge/dispatch"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/fastpath"
	"github.com/wippyai/script-bridge/wire"
)

// fastCallPrefix names the fast-call globals: __zaInvoke0 takes a binding id
// only, __zaInvoke2 a binding id and two arguments, and so on.
const fastCallPrefix = "__zaInvoke"

func (e *Engine) installHost() {
	L := e.L
	host := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"type":       e.hostType,
		"invoke":     e.hostInvoke,
		"release":    e.hostRelease,
		"exists":     e.hostExists,
		"isEnum":     e.hostIsEnum,
		"binding":    e.hostBinding,
		"callback":   e.hostCallback,
		"uncallback": e.hostUncallback,
		"handle":     hostHandle,
	})
	L.SetGlobal("host", host)
}

// hostType: host.type(name) returns the type proxy or nil.
func (e *Engine) hostType(L *lua.LState) int {
	L.Push(e.typeValue(L.CheckString(1)))
	return 1
}

// hostInvoke: host.invoke(target, member, ...) calls a method without
// raising. target is an object, a type or a type name. It returns the
// result, or nil, the message and the error code.
func (e *Engine) hostInvoke(L *lua.LState) int {
	req := dispatch.Request{Kind: dispatch.CallMethod, Member: L.CheckString(2), Args: e.args(L, 3)}
	switch t := L.Get(1).(type) {
	case lua.LString:
		req.TypeName = string(t)
	default:
		if obj, ok := asObject(t); ok {
			req.Target = obj.h
		} else if tr, ok := asType(t); ok {
			req.TypeName = tr.name
		} else {
			L.ArgError(1, "object, type or type name expected")
			return 0
		}
	}
	res := e.invoke(L, req)
	if !res.OK() {
		L.Push(lua.LNil)
		L.Push(lua.LString(res.Message))
		L.Push(lua.LNumber(res.Code))
		return 3
	}
	L.Push(e.toLua(res.Value))
	return 1
}

// hostRelease: host.release(obj) releases the object's handle. Later use of
// the proxy fails with a not-found error.
func (e *Engine) hostRelease(L *lua.LState) int {
	obj := checkObject(L, 1)
	delete(e.proxies, obj.h)
	L.Push(lua.LBool(e.bridge.Release(obj.h)))
	return 1
}

func (e *Engine) hostExists(L *lua.LState) int {
	return e.push(L, e.invoke(L, dispatch.Request{Kind: dispatch.CallTypeExists, TypeName: L.CheckString(1)}))
}

func (e *Engine) hostIsEnum(L *lua.LState) int {
	return e.push(L, e.invoke(L, dispatch.Request{Kind: dispatch.CallIsEnumType, TypeName: L.CheckString(1)}))
}

// hostBinding: host.binding(name) returns the fast-call id bound to name.
func (e *Engine) hostBinding(L *lua.LState) int {
	if id, ok := e.bridge.Fast.Lookup(L.CheckString(1)); ok {
		L.Push(lua.LNumber(id))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// hostCallback: host.callback(fn) pins fn in the callback slot table until
// host.uncallback and returns its slot.
func (e *Engine) hostCallback(L *lua.LState) int {
	slot, err := e.slotFor(L.CheckFunction(1))
	if err != nil {
		L.RaiseError("%s", errorMessage(err))
		return 0
	}
	e.bridge.Callbacks.Pin(slot)
	L.Push(lua.LNumber(slot))
	return 1
}

func (e *Engine) hostUncallback(L *lua.LState) int {
	L.Push(lua.LBool(e.releaseSlot(int32(L.CheckInt(1)))))
	return 1
}

// hostHandle: host.handle(obj) returns the object's handle number.
func hostHandle(L *lua.LState) int {
	if obj, ok := asObject(L.Get(1)); ok {
		L.Push(lua.LNumber(obj.h))
	} else {
		L.Push(lua.LNil)
	}
	return 1
}

// installFastCalls defines one global per arity up to the configured
// maximum. An unknown binding returns nil and the message; other failures
// raise.
func (e *Engine) installFastCalls() {
	limit := min(e.bridge.Config().FastPath.MaxArity, fastpath.MaxArgs)
	for n := 0; n <= limit; n++ {
		arity := n
		e.L.SetGlobal(fastCallPrefix+strconv.Itoa(n), e.L.NewFunction(func(L *lua.LState) int {
			id := int32(L.CheckInt(1))
			var args fastpath.Args
			for i := 0; i < arity; i++ {
				args.Push(e.fastArg(L, i+2))
			}
			var out wire.Value
			if err := e.bridge.Fast.Invoke(id, &args, &out); err != nil {
				if errors.Code(err) == errors.CodeNotFound {
					L.Push(lua.LNil)
					L.Push(lua.LString(errorMessage(err)))
					return 2
				}
				L.RaiseError("%s", errorMessage(err))
				return 0
			}
			L.Push(e.toLua(out))
			return 1
		}))
	}
}

// fastArg converts scalars and vectors without touching the callback or
// handle tables.
func (e *Engine) fastArg(L *lua.LState, n int) wire.Value {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		return wire.Number(float64(v))
	case lua.LBool:
		return wire.Bool(bool(v))
	case lua.LString:
		return wire.String(string(v))
	case *lua.LNilType:
		return wire.Null()
	case *lua.LUserData:
		if obj, ok := v.Value.(*object); ok {
			return wire.ObjectHandle(int32(obj.h), obj.hint)
		}
	case *lua.LTable:
		if mt, ok := L.GetMetatable(v).(*lua.LTable); ok && mt == e.vectorMeta {
			return tableVector(v)
		}
	}
	L.ArgError(n, "fast calls take numbers, booleans, strings, objects and vectors")
	return wire.Null()
}

func (e *Engine) installConsole() {
	L := e.L
	console := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log":   e.printFunc(zapcore.InfoLevel),
		"info":  e.printFunc(zapcore.InfoLevel),
		"warn":  e.printFunc(zapcore.WarnLevel),
		"error": e.printFunc(zapcore.ErrorLevel),
		"debug": e.printFunc(zapcore.DebugLevel),
	})
	L.SetGlobal("console", console)
	if L.GetGlobal("print") != lua.LNil {
		L.SetGlobal("print", L.NewFunction(e.printFunc(zapcore.InfoLevel)))
	}
}

func (e *Engine) printFunc(level zapcore.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, top)
		for i := 1; i <= top; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		e.printer(level, strings.Join(parts, "\t"))
		return 0
	}
}
