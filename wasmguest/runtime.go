package wasmguest

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/bridge"
	"github.com/wippyai/script-bridge/dispatch"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/fastpath"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

// ModuleName is the import module guests link the bridge functions from.
const ModuleName = "scriptbridge"

// FastLanes is the highest arity of the fast_f64_N and fast_i64_N imports.
const FastLanes = 3

// Config holds runtime limits.
type Config struct {
	// MemoryLimitPages caps each guest memory, in 64 KiB pages. Zero keeps
	// the wazero default.
	MemoryLimitPages uint32
}

// Runtime hosts wasm guests that reach the bridge through the scriptbridge
// import module. Guests exchange JSON requests through invoke and scalars
// through the fast lanes.
type Runtime struct {
	bridge  *bridge.Bridge
	runtime wazero.Runtime

	mu      sync.Mutex
	pending map[string][]byte // oversized results, keyed by guest name
	errs    map[string]string // last failure, keyed by guest name
	seq     atomic.Uint32
	closed  bool
}

// New creates a runtime bound to b and instantiates the host module.
func New(ctx context.Context, b *bridge.Bridge, cfg Config) (*Runtime, error) {
	if b == nil {
		return nil, errors.InvalidInput(errors.PhaseConfig, "wasm runtime needs a bridge")
	}
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := &Runtime{
		bridge:  b,
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		pending: make(map[string][]byte),
		errs:    make(map[string]string),
	}
	if err := r.instantiateHost(ctx); err != nil {
		_ = r.runtime.Close(ctx)
		return nil, errors.Registration("host module", ModuleName, err)
	}
	Logger().Debug("wasm runtime created", zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages))
	return r, nil
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f64 = api.ValueTypeF64
)

func (r *Runtime) instantiateHost(ctx context.Context) error {
	b := r.runtime.NewHostModuleBuilder(ModuleName)
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.invoke), []api.ValueType{i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("req_ptr", "req_len", "out_ptr", "out_cap").
		Export("invoke")
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.result), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("ptr", "cap").
		Export("result")
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.lastError), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		WithParameterNames("ptr", "cap").
		Export("last_error")
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.release), []api.ValueType{i32}, []api.ValueType{i32}).
		WithParameterNames("handle").
		Export("release")

	for n := 0; n <= FastLanes; n++ {
		params := make([]api.ValueType, n+1)
		params[0] = i32
		for i := 1; i <= n; i++ {
			params[i] = f64
		}
		b.NewFunctionBuilder().
			WithGoModuleFunction(r.fastF64(n), params, []api.ValueType{f64}).
			Export("fast_f64_" + strconv.Itoa(n))
	}
	for n := 0; n <= FastLanes; n++ {
		params := make([]api.ValueType, n+1)
		params[0] = i32
		for i := 1; i <= n; i++ {
			params[i] = i64
		}
		b.NewFunctionBuilder().
			WithGoModuleFunction(r.fastI64(n), params, []api.ValueType{i64}).
			Export("fast_i64_" + strconv.Itoa(n))
	}

	_, err := b.Instantiate(ctx)
	return err
}

// Bridge returns the bridge guests dispatch through.
func (r *Runtime) Bridge() *bridge.Bridge { return r.bridge }

// Instantiate compiles and starts a guest module. An empty name gets a
// generated one; names must be unique within the runtime.
func (r *Runtime) Instantiate(ctx context.Context, wasm []byte, name string) (*Guest, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.Closed(errors.PhaseConfig, "wasm runtime")
	}
	if name == "" {
		name = "guest-" + strconv.FormatUint(uint64(r.seq.Add(1)), 10)
	}
	mod, err := r.runtime.InstantiateWithConfig(ctx, wasm, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Member(name).Cause(err).Detail("instantiate guest %s", name).Build()
	}
	Logger().Debug("guest instantiated", zap.String("guest", name))
	return &Guest{rt: r, mod: mod, name: name}, nil
}

// Close stops every guest and the host module.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.pending = nil
	r.errs = nil
	r.mu.Unlock()
	return r.runtime.Close(ctx)
}

// invoke: invoke(req_ptr, req_len, out_ptr, out_cap) -> len. The request is
// the JSON form accepted by InvokeJSON. When the result does not fit in
// out_cap it is kept for result and only its length is returned.
func (r *Runtime) invoke(ctx context.Context, mod api.Module, stack []uint64) {
	reqPtr := api.DecodeU32(stack[0])
	reqLen := api.DecodeU32(stack[1])
	outPtr := api.DecodeU32(stack[2])
	outCap := api.DecodeU32(stack[3])

	var out []byte
	mem := mod.Memory()
	if mem == nil {
		out = dispatch.Fail(errors.InvalidInput(errors.PhaseCodec, "guest exports no memory")).AppendJSON(nil)
	} else if data, ok := mem.Read(reqPtr, reqLen); !ok {
		out = dispatch.Fail(errors.New(errors.PhaseCodec, errors.KindInvalidInput).
			Detail("request out of bounds: offset=%d, length=%d", reqPtr, reqLen).Build()).AppendJSON(nil)
	} else {
		out = r.bridge.InvokeJSON(ctx, data)
	}

	name := mod.Name()
	if uint32(len(out)) <= outCap && mem != nil && mem.Write(outPtr, out) {
		r.mu.Lock()
		delete(r.pending, name)
		r.mu.Unlock()
	} else {
		r.mu.Lock()
		if r.pending != nil {
			r.pending[name] = out
		}
		r.mu.Unlock()
	}
	stack[0] = api.EncodeU32(uint32(len(out)))
}

// result: result(ptr, cap) -> len copies the result held back by invoke.
// It returns 0 when nothing is held and the needed length, without copying,
// when cap is too small.
func (r *Runtime) result(_ context.Context, mod api.Module, stack []uint64) {
	name := mod.Name()
	r.mu.Lock()
	out, ok := r.pending[name]
	r.mu.Unlock()
	if !ok {
		stack[0] = 0
		return
	}
	if n := copyOut(mod, stack, out); n >= 0 {
		r.mu.Lock()
		delete(r.pending, name)
		r.mu.Unlock()
	}
}

// lastError: last_error(ptr, cap) -> len copies the message of the last
// failed fast call. Same length protocol as result.
func (r *Runtime) lastError(_ context.Context, mod api.Module, stack []uint64) {
	name := mod.Name()
	r.mu.Lock()
	msg, ok := r.errs[name]
	r.mu.Unlock()
	if !ok {
		stack[0] = 0
		return
	}
	if n := copyOut(mod, stack, []byte(msg)); n >= 0 {
		r.mu.Lock()
		delete(r.errs, name)
		r.mu.Unlock()
	}
}

// copyOut writes data at stack[0] when it fits in stack[1] and stores the
// length as the result. It returns the copied length, or -1 when nothing
// was copied.
func copyOut(mod api.Module, stack []uint64, data []byte) int {
	ptr := api.DecodeU32(stack[0])
	capacity := api.DecodeU32(stack[1])
	stack[0] = api.EncodeU32(uint32(len(data)))
	if uint32(len(data)) > capacity {
		return -1
	}
	mem := mod.Memory()
	if mem == nil || !mem.Write(ptr, data) {
		return -1
	}
	return len(data)
}

// release: release(handle) -> 1 when the handle was live.
func (r *Runtime) release(_ context.Context, _ api.Module, stack []uint64) {
	if r.bridge.Release(handle.Handle(api.DecodeI32(stack[0]))) {
		stack[0] = 1
	} else {
		stack[0] = 0
	}
}

// fastF64 builds fast_f64_n(id, f64...) -> f64. Failures return NaN and
// leave the message for last_error; a successful call clears it.
func (r *Runtime) fastF64(n int) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		id := api.DecodeI32(stack[0])
		var args fastpath.Args
		for i := 1; i <= n; i++ {
			args.Push(wire.Float64(api.DecodeF64(stack[i])))
		}
		var out wire.Value
		if err := r.bridge.Fast.Invoke(id, &args, &out); err != nil {
			r.fail(mod, id, err)
			stack[0] = api.EncodeF64(math.NaN())
			return
		}
		r.succeed(mod)
		stack[0] = api.EncodeF64(out.Float())
	}
}

// fastI64 builds fast_i64_n(id, i64...) -> i64. Failures return 0 and
// leave the message for last_error; a successful call clears it.
func (r *Runtime) fastI64(n int) api.GoModuleFunc {
	return func(_ context.Context, mod api.Module, stack []uint64) {
		id := api.DecodeI32(stack[0])
		var args fastpath.Args
		for i := 1; i <= n; i++ {
			args.Push(wire.Int64(int64(stack[i])))
		}
		var out wire.Value
		if err := r.bridge.Fast.Invoke(id, &args, &out); err != nil {
			r.fail(mod, id, err)
			stack[0] = 0
			return
		}
		r.succeed(mod)
		stack[0] = api.EncodeI64(out.Int())
	}
}

func (r *Runtime) succeed(mod api.Module) {
	r.mu.Lock()
	delete(r.errs, mod.Name())
	r.mu.Unlock()
}

func (r *Runtime) fail(mod api.Module, id int32, err error) {
	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) {
		msg = e.Message()
	}
	Logger().Debug("guest fast call failed",
		zap.String("guest", mod.Name()),
		zap.Int32("id", id),
		zap.Error(err))
	r.mu.Lock()
	if r.errs != nil {
		r.errs[mod.Name()] = msg
	}
	r.mu.Unlock()
}
