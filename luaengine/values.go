package luaengine

import (
	"runtime"
	"slices"
	"strconv"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/callback"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

// maxDepth bounds table nesting when converting to wire values, which also
// stops cyclic tables.
const maxDepth = 64

// reclaimAttempts bounds the collections a full callback table triggers.
const reclaimAttempts = 50

// toLua renders a wire value as a Lua value. Handles become proxies, async
// handles become promises, records and arrays become fresh tables and
// vectors become {x,y,z[,w]} or {r,g,b,a} tables tagged as vectors.
func (e *Engine) toLua(v wire.Value) lua.LValue {
	switch v.Kind() {
	case wire.KindNull:
		return lua.LNil
	case wire.KindBool:
		return lua.LBool(v.Bool())
	case wire.KindInt32, wire.KindInt64, wire.KindFloat32, wire.KindFloat64:
		return lua.LNumber(v.Float())
	case wire.KindString:
		return lua.LString(v.Str())
	case wire.KindObjectHandle:
		return e.objectValue(handle.Handle(v.Handle()), v.TypeHint())
	case wire.KindAsyncHandle:
		return e.promiseValue(async.OpID(v.AsyncID()))
	case wire.KindCallback:
		if fn, ok := e.bridge.Callbacks.Get(v.CallbackSlot()); ok {
			if lf, ok := fn.(*luaFunction); ok {
				return lf.fn
			}
		}
		return lua.LNil
	case wire.KindVector3, wire.KindVector4:
		return e.vectorTable(v)
	case wire.KindRecord:
		rec := v.Record()
		t := e.L.CreateTable(0, rec.Len()+1)
		if rec.Type != "" {
			t.RawSetString(wire.TypeKey, lua.LString(rec.Type))
		}
		rec.Each(func(name string, fv wire.Value) bool {
			t.RawSetString(name, e.toLua(fv))
			return true
		})
		return t
	case wire.KindArray:
		items := v.Items()
		t := e.L.CreateTable(len(items), 0)
		for _, it := range items {
			t.Append(e.toLua(it))
		}
		return t
	}
	return lua.LNil
}

// toWire converts a Lua value for the host. Lua functions are registered in
// the callback slot table, once per function.
func (e *Engine) toWire(v lua.LValue) (wire.Value, error) {
	return e.toWireDepth(v, 0)
}

func (e *Engine) toWireDepth(v lua.LValue, depth int) (wire.Value, error) {
	switch lv := v.(type) {
	case *lua.LNilType:
		return wire.Null(), nil
	case lua.LBool:
		return wire.Bool(bool(lv)), nil
	case lua.LNumber:
		return wire.Number(float64(lv)), nil
	case lua.LString:
		return wire.String(string(lv)), nil
	case *lua.LFunction:
		slot, err := e.slotFor(lv)
		if err != nil {
			return wire.Null(), err
		}
		e.inflight = append(e.inflight, slot)
		return wire.Callback(slot), nil
	case *lua.LUserData:
		switch p := lv.Value.(type) {
		case *object:
			return wire.ObjectHandle(int32(p.h), p.hint), nil
		case *typeRef:
			return wire.String(p.name), nil
		case *promise:
			return wire.AsyncHandle(int32(p.id)), nil
		}
	case *lua.LTable:
		if depth >= maxDepth {
			return wire.Null(), errors.InvalidInput(errors.PhaseScript, "table nesting too deep")
		}
		return e.tableToWire(lv, depth+1)
	}
	return wire.Null(), errors.Unsupported(errors.PhaseScript, "cannot pass "+v.Type().String()+" to the host")
}

// tableToWire maps a table to a vector, an array (keys exactly 1..n) or a
// record (string keys, optional __type tag). An empty table is an empty
// array.
func (e *Engine) tableToWire(t *lua.LTable, depth int) (wire.Value, error) {
	if mt, ok := e.L.GetMetatable(t).(*lua.LTable); ok && mt == e.vectorMeta {
		return tableVector(t), nil
	}

	n := t.Len()
	count := 0
	var keys []string
	var bad lua.LValue
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if s, ok := k.(lua.LString); ok {
			keys = append(keys, string(s))
		} else if _, ok := k.(lua.LNumber); !ok && bad == nil {
			bad = k
		}
	})

	if len(keys) == 0 && count == n {
		items := make([]wire.Value, n)
		for i := range items {
			iv, err := e.toWireDepth(t.RawGetInt(i+1), depth)
			if err != nil {
				return wire.Null(), elemError(strconv.Itoa(i+1), err)
			}
			items[i] = iv
		}
		return wire.Array(items), nil
	}
	if bad != nil || len(keys) != count {
		return wire.Null(), errors.InvalidInput(errors.PhaseScript, "table mixes array and record keys")
	}

	slices.Sort(keys)
	rec := wire.NewRecord("")
	for _, k := range keys {
		fv := t.RawGetString(k)
		if k == wire.TypeKey {
			if s, ok := fv.(lua.LString); ok {
				rec.Type = string(s)
				continue
			}
		}
		wv, err := e.toWireDepth(fv, depth)
		if err != nil {
			return wire.Null(), elemError(k, err)
		}
		rec.Set(k, wv)
	}
	return wire.RecordValue(rec), nil
}

func elemError(key string, err error) error {
	return errors.New(errors.PhaseScript, errors.KindInvalidData).
		Path(key).Detail("cannot convert table element").Cause(err).Build()
}

func (e *Engine) vectorTable(v wire.Value) *lua.LTable {
	c := v.Vec()
	names := "xyzw"
	n := 4
	if v.Kind() == wire.KindVector3 {
		n = 3
	} else if v.TypeHint() == wire.HintColor {
		names = "rgba"
	}
	t := e.L.CreateTable(0, n)
	for i := 0; i < n; i++ {
		t.RawSetString(names[i:i+1], lua.LNumber(c[i]))
	}
	t.Metatable = e.vectorMeta
	return t
}

func tableVector(t *lua.LTable) wire.Value {
	num := func(k string) float32 {
		return float32(lua.LVAsNumber(t.RawGetString(k)))
	}
	if t.RawGetString("r") != lua.LNil {
		return wire.Vector4(num("r"), num("g"), num("b"), num("a"), wire.HintColor)
	}
	if t.RawGetString("w") != lua.LNil {
		return wire.Vector4(num("x"), num("y"), num("z"), num("w"), "")
	}
	return wire.Vector3(num("x"), num("y"), num("z"))
}

func vectorToString(L *lua.LState) int {
	t := L.CheckTable(1)
	v := tableVector(t)
	c := v.Vec()
	n := 4
	if v.Kind() == wire.KindVector3 {
		n = 3
	}
	buf := []byte{'('}
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ", "...)
		}
		buf = strconv.AppendFloat(buf, float64(c[i]), 'g', -1, 32)
	}
	L.Push(lua.LString(append(buf, ')')))
	return 1
}

// args converts the Lua arguments from position from onward.
func (e *Engine) args(L *lua.LState, from int) []wire.Value {
	top := L.GetTop()
	if top < from {
		return nil
	}
	out := make([]wire.Value, 0, top-from+1)
	for i := from; i <= top; i++ {
		out = append(out, e.checkWire(L, i))
	}
	return out
}

func (e *Engine) checkWire(L *lua.LState, n int) wire.Value {
	v, err := e.toWire(L.Get(n))
	if err != nil {
		L.ArgError(n, errorMessage(err))
	}
	return v
}

func errorMessage(err error) string {
	var be *errors.Error
	if errors.As(err, &be) {
		return be.Message()
	}
	return err.Error()
}

// luaFunction is a script function held in a callback slot.
type luaFunction struct {
	e  *Engine
	fn *lua.LFunction
}

var _ callback.Function = (*luaFunction)(nil)

// Call runs the function on the engine's state and returns its first
// result.
func (f *luaFunction) Call(args []wire.Value) (wire.Value, error) {
	if f.e.closed {
		return wire.Null(), errors.Closed(errors.PhaseCallback, "lua engine")
	}
	L := f.e.L
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = f.e.toLua(a)
	}
	if err := L.CallByParam(lua.P{Fn: f.fn, NRet: 1, Protect: true}, largs...); err != nil {
		return wire.Null(), scriptError(err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return f.e.toWire(ret)
}

// slotFor returns the slot holding fn, adding it on first use. A full table
// is swept once more after a collection before the error is reported.
func (e *Engine) slotFor(fn *lua.LFunction) (int32, error) {
	if slot, ok := e.funcs[fn]; ok {
		return slot, nil
	}
	lf := &luaFunction{e: e, fn: fn}
	slot, err := e.bridge.Callbacks.Add(lf)
	if err != nil {
		if e.reclaimSlots() == 0 {
			return 0, err
		}
		if slot, err = e.bridge.Callbacks.Add(lf); err != nil {
			return 0, err
		}
	}
	e.funcs[fn] = slot
	return slot, nil
}

func (e *Engine) releaseSlot(slot int32) bool {
	fn, ok := e.bridge.Callbacks.Get(slot)
	if !ok {
		return false
	}
	if lf, ok := fn.(*luaFunction); ok && lf.e == e {
		delete(e.funcs, lf.fn)
	}
	return e.bridge.Callbacks.Remove(slot)
}

// sweepSlots frees this engine's slots that are not pinned, not held by a
// live delegate and not waiting in the arguments of a host call.
func (e *Engine) sweepSlots() int {
	freed := e.bridge.Callbacks.Sweep(func(fn callback.Function) bool {
		lf, ok := fn.(*luaFunction)
		return ok && lf.e == e && !slices.Contains(e.inflight, e.funcs[lf.fn])
	})
	for _, fn := range freed {
		delete(e.funcs, fn.(*luaFunction).fn)
	}
	if len(freed) > 0 {
		Logger().Debug("released callback slots", zap.Int("count", len(freed)))
	}
	return len(freed)
}

// reclaimSlots forces a collection so delegates the host dropped release
// their leases, then sweeps. Cleanups run asynchronously, so it polls
// briefly.
func (e *Engine) reclaimSlots() int {
	for range reclaimAttempts {
		runtime.GC()
		if n := e.sweepSlots(); n > 0 {
			return n
		}
		time.Sleep(time.Millisecond)
	}
	return 0
}
