package luaengine

import (
	"context"
	stderrors "errors"
	"strings"
	"weak"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/bridge"
	"github.com/wippyai/script-bridge/config"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

// Printer receives script output from print and the console functions.
type Printer func(level zapcore.Level, msg string)

// Engine is one Lua state attached to a bridge. An Engine is not safe for
// concurrent use: every method, and every callback delegate created from a
// script function, must run on the goroutine that owns the engine.
type Engine struct {
	L      *lua.LState
	bridge *bridge.Bridge
	cfg    config.Script

	objectMeta  *lua.LTable
	typeMeta    *lua.LTable
	promiseMeta *lua.LTable
	vectorMeta  *lua.LTable

	proxies  map[handle.Handle]weak.Pointer[lua.LUserData]
	types    map[string]*lua.LUserData
	methods  map[string]*lua.LFunction
	statics  map[string]*lua.LFunction
	funcs    map[*lua.LFunction]int32
	inflight []int32
	promises map[async.OpID]*promise

	collector *collector
	printer   Printer
	closed    bool
}

type library struct {
	name string
	open lua.LGFunction
}

var libraries = map[string]library{
	"package":   {lua.LoadLibName, lua.OpenPackage},
	"base":      {lua.BaseLibName, lua.OpenBase},
	"table":     {lua.TabLibName, lua.OpenTable},
	"string":    {lua.StringLibName, lua.OpenString},
	"math":      {lua.MathLibName, lua.OpenMath},
	"coroutine": {lua.CoroutineLibName, lua.OpenCoroutine},
	"os":        {lua.OsLibName, lua.OpenOs},
	"io":        {lua.IoLibName, lua.OpenIo},
	"debug":     {lua.DebugLibName, lua.OpenDebug},
	"channel":   {lua.ChannelLibName, lua.OpenChannel},
}

// New creates a Lua state bound to b with the libraries and limits in cfg.
// Host access is installed as the host table, the __zaInvoke0..N fast-call
// globals and, when cfg.Console is set, the console table.
func New(b *bridge.Bridge, cfg config.Script) (*Engine, error) {
	if b == nil {
		return nil, errors.InvalidInput(errors.PhaseScript, "engine needs a bridge")
	}
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: cfg.CallStackSize,
		RegistrySize:  cfg.RegistrySize,
	})
	if cfg.ChunkName == "" {
		cfg.ChunkName = "script"
	}

	e := &Engine{
		L:         L,
		bridge:    b,
		cfg:       cfg,
		proxies:   make(map[handle.Handle]weak.Pointer[lua.LUserData]),
		types:     make(map[string]*lua.LUserData),
		methods:   make(map[string]*lua.LFunction),
		statics:   make(map[string]*lua.LFunction),
		funcs:     make(map[*lua.LFunction]int32),
		promises:  make(map[async.OpID]*promise),
		collector: &collector{},
		printer:   logPrinter,
	}
	if err := e.openLibraries(cfg.Libraries); err != nil {
		L.Close()
		return nil, err
	}
	e.installMetatables()
	e.installHost()
	e.installFastCalls()
	if cfg.Console {
		e.installConsole()
	}

	Logger().Debug("lua engine created",
		zap.Strings("libraries", cfg.Libraries),
		zap.String("chunk", cfg.ChunkName))
	return e, nil
}

// NewFromBridge creates an engine with the script section of b's
// configuration.
func NewFromBridge(b *bridge.Bridge) (*Engine, error) {
	return New(b, b.Config().Script)
}

func (e *Engine) openLibraries(names []string) error {
	// package must be open before other libraries register into it.
	ordered := make([]string, 0, len(names))
	for _, n := range names {
		if n == "package" {
			ordered = append([]string{n}, ordered...)
		} else {
			ordered = append(ordered, n)
		}
	}
	for _, n := range ordered {
		lib, ok := libraries[n]
		if !ok {
			return errors.New(errors.PhaseScript, errors.KindInvalidInput).
				Path("libraries").Detail("unknown library %q", n).Build()
		}
		err := e.L.CallByParam(lua.P{Fn: e.L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name))
		if err != nil {
			return scriptError(err)
		}
	}
	return nil
}

// Bridge returns the bridge the engine dispatches through.
func (e *Engine) Bridge() *bridge.Bridge { return e.bridge }

// SetPrinter redirects print and console output. nil restores logging.
func (e *Engine) SetPrinter(p Printer) {
	if p == nil {
		p = logPrinter
	}
	e.printer = p
}

func logPrinter(level zapcore.Level, msg string) {
	Logger().Log(level, msg, zap.String("source", "script"))
}

// DoString runs a chunk of Lua source.
func (e *Engine) DoString(ctx context.Context, src string) error {
	if e.closed {
		return errors.Closed(errors.PhaseScript, "lua engine")
	}
	fn, err := e.L.Load(strings.NewReader(src), e.cfg.ChunkName)
	if err != nil {
		return scriptError(err)
	}
	_, err = e.run(ctx, fn)
	return err
}

// DoFile runs a Lua source file.
func (e *Engine) DoFile(ctx context.Context, path string) error {
	if e.closed {
		return errors.Closed(errors.PhaseScript, "lua engine")
	}
	fn, err := e.L.LoadFile(path)
	if err != nil {
		return scriptError(err)
	}
	_, err = e.run(ctx, fn)
	return err
}

// Eval runs src and returns its results rendered with tostring. src is
// first tried as an expression, so "1 + 2" yields "3".
func (e *Engine) Eval(ctx context.Context, src string) ([]string, error) {
	if e.closed {
		return nil, errors.Closed(errors.PhaseScript, "lua engine")
	}
	fn, err := e.L.Load(strings.NewReader("return "+src), e.cfg.ChunkName)
	if err != nil {
		if fn, err = e.L.Load(strings.NewReader(src), e.cfg.ChunkName); err != nil {
			return nil, scriptError(err)
		}
	}
	vals, err := e.run(ctx, fn)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = e.L.ToStringMeta(v).String()
	}
	return out, nil
}

// Call invokes the global Lua function name.
func (e *Engine) Call(ctx context.Context, name string, args ...wire.Value) ([]wire.Value, error) {
	if e.closed {
		return nil, errors.Closed(errors.PhaseScript, "lua engine")
	}
	fn, ok := e.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, errors.New(errors.PhaseScript, errors.KindMemberNotFound).
			Member(name).Detail("global function %s not found", name).Build()
	}
	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = e.toLua(a)
	}
	vals, err := e.run(ctx, fn, largs...)
	if err != nil {
		return nil, err
	}
	out := make([]wire.Value, len(vals))
	for i, v := range vals {
		if out[i], err = e.toWire(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetGlobal marshals v and stores it as a script global. Pointers become
// object proxies.
func (e *Engine) SetGlobal(name string, v any) error {
	wv, err := e.bridge.Marshal.ToWire(v)
	if err != nil {
		return err
	}
	e.L.SetGlobal(name, e.toLua(wv))
	return nil
}

// Tick delivers finished async operations to their promises, releases
// handles whose proxies were collected and frees callback slots no live
// delegate holds. It returns the number of
// completions delivered. Call it once per frame or event-loop turn.
func (e *Engine) Tick() int {
	if e.closed {
		return 0
	}
	e.collectFinalized()
	e.inflight = e.inflight[:0]
	e.sweepSlots()
	return e.bridge.ProcessCompletions(e.settle)
}

// Close releases the Lua state and the callback slots held by script
// functions. The bridge stays open.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	for _, slot := range e.funcs {
		e.bridge.Callbacks.Remove(slot)
	}
	e.funcs = nil
	e.L.Close()
	Logger().Debug("lua engine closed")
}

func (e *Engine) run(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	if e.closed {
		return nil, errors.Closed(errors.PhaseScript, "lua engine")
	}
	if ctx != nil {
		e.L.SetContext(ctx)
		defer e.L.RemoveContext()
	}
	top := e.L.GetTop()
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, args...); err != nil {
		e.L.SetTop(top)
		return nil, scriptError(err)
	}
	n := e.L.GetTop() - top
	out := make([]lua.LValue, n)
	for i := range out {
		out[i] = e.L.Get(top + i + 1)
	}
	e.L.SetTop(top)
	return out, nil
}

func (e *Engine) context(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// scriptError converts a Lua failure into a structured error. Syntax errors
// are invalid input; everything else is a fault raised by the script.
func scriptError(err error) error {
	var apiErr *lua.ApiError
	if !stderrors.As(err, &apiErr) {
		return errors.New(errors.PhaseScript, errors.KindInvocationFault).Cause(err).Detail("script failed").Build()
	}
	kind := errors.KindInvocationFault
	if apiErr.Type == lua.ApiErrorSyntax {
		kind = errors.KindInvalidInput
	}
	b := errors.New(errors.PhaseScript, kind).Detail("%s", lua.LVAsString(apiErr.Object))
	if apiErr.Cause != nil {
		b = b.Cause(apiErr.Cause)
	}
	return b.Build()
}
