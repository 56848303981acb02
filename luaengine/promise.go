package luaengine

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/async"
)

type promiseState uint8

const (
	statePending promiseState = iota
	stateFulfilled
	stateRejected
)

var stateNames = [...]string{
	statePending:   "pending",
	stateFulfilled: "fulfilled",
	stateRejected:  "rejected",
}

type reaction struct {
	ok, fail *lua.LFunction
}

// promise is the script view of an async handle. It settles during Tick.
type promise struct {
	value     lua.LValue
	reason    string
	reactions []reaction
	id        async.OpID
	state     promiseState
}

func (e *Engine) installPromiseMeta() {
	L := e.L
	e.promiseMeta = L.NewTable()
	methods := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"next":   e.promiseNext,
		"catch":  e.promiseCatch,
		"status": promiseStatus,
		"result": promiseResult,
		"id":     promiseID,
	})
	L.SetField(e.promiseMeta, "__index", methods)
	L.SetField(e.promiseMeta, "__tostring", L.NewFunction(promiseToString))
	L.SetField(e.promiseMeta, "__metatable", lua.LString("host promise"))
}

// promiseValue returns the promise for id, creating a pending one.
func (e *Engine) promiseValue(id async.OpID) lua.LValue {
	p, ok := e.promises[id]
	if !ok {
		p = &promise{id: id, value: lua.LNil}
		e.promises[id] = p
	}
	ud := e.L.NewUserData()
	ud.Value = p
	ud.Metatable = e.promiseMeta
	return ud
}

func checkPromise(L *lua.LState, n int) *promise {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if p, ok := ud.Value.(*promise); ok {
			return p
		}
	}
	L.ArgError(n, "promise expected")
	return nil
}

func optFunction(L *lua.LState, n int) *lua.LFunction {
	switch v := L.Get(n).(type) {
	case *lua.LFunction:
		return v
	case *lua.LNilType:
		return nil
	}
	L.ArgError(n, "function or nil expected")
	return nil
}

// promiseNext registers handlers: p:next(onFulfilled, onRejected). Handlers
// of a settled promise run immediately. Returns the promise.
func (e *Engine) promiseNext(L *lua.LState) int {
	p := checkPromise(L, 1)
	r := reaction{ok: optFunction(L, 2), fail: optFunction(L, 3)}
	if p.state == statePending {
		p.reactions = append(p.reactions, r)
	} else {
		e.react(p, r)
	}
	L.Push(L.Get(1))
	return 1
}

func (e *Engine) promiseCatch(L *lua.LState) int {
	L.SetTop(2)
	L.Insert(lua.LNil, 2)
	return e.promiseNext(L)
}

func promiseStatus(L *lua.LState) int {
	L.Push(lua.LString(stateNames[checkPromise(L, 1).state]))
	return 1
}

// promiseResult returns the value when fulfilled, or nil and the reason
// when rejected.
func promiseResult(L *lua.LState) int {
	p := checkPromise(L, 1)
	switch p.state {
	case stateFulfilled:
		L.Push(p.value)
		return 1
	case stateRejected:
		L.Push(lua.LNil)
		L.Push(lua.LString(p.reason))
		return 2
	}
	L.Push(lua.LNil)
	return 1
}

func promiseID(L *lua.LState) int {
	L.Push(lua.LNumber(checkPromise(L, 1).id))
	return 1
}

func promiseToString(L *lua.LState) int {
	p := checkPromise(L, 1)
	L.Push(lua.LString("promise " + p.id.String() + " (" + stateNames[p.state] + ")"))
	return 1
}

// settle is the completion resolver passed to ProcessCompletions.
func (e *Engine) settle(c async.Completion) {
	p, ok := e.promises[c.ID]
	if !ok {
		Logger().Debug("completion without promise", zap.Int32("op", int32(c.ID)))
		return
	}
	delete(e.promises, c.ID)
	if c.OK {
		p.state, p.value = stateFulfilled, e.toLua(c.Value)
	} else {
		p.state, p.reason = stateRejected, c.Message
	}
	reactions := p.reactions
	p.reactions = nil
	for _, r := range reactions {
		e.react(p, r)
	}
}

// react runs the handler matching p's state. Errors raised by handlers are
// logged; they never reach the host.
func (e *Engine) react(p *promise, r reaction) {
	fn, arg := r.ok, p.value
	if p.state == stateRejected {
		fn, arg = r.fail, lua.LString(p.reason)
	}
	if fn == nil {
		if p.state == stateRejected {
			Logger().Warn("unhandled promise rejection", zap.Int32("op", int32(p.id)), zap.String("reason", p.reason))
		}
		return
	}
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg); err != nil {
		Logger().Error("promise handler failed", zap.Int32("op", int32(p.id)), zap.Error(scriptError(err)))
	}
}
