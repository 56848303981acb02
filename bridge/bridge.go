package bridge

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/callback"
	"github.com/wippyai/script-bridge/config"
	"github.com/wippyai/script-bridge/convert"
	"github.com/wippyai/script-bridge/dispatch"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/fastpath"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

// Bridge owns one script context's share of the host object system: the
// handle table, completion queue, callback slots and fast-call bindings.
// The type registry may be shared between bridges.
type Bridge struct {
	Types     *reflection.Registry
	Handles   *handle.Table
	Structs   *marshal.Registry
	Marshal   *marshal.Marshaler
	Convert   *convert.Engine
	Dispatch  *dispatch.Dispatcher
	Fast      *fastpath.Registry
	Async     *async.Bridge
	Callbacks *callback.Slots
	Delegates *callback.Wrapper

	cfg       *config.Config
	closeOnce sync.Once
}

// Options configures New.
type Options struct {
	// Config supplies limits; nil means config.Default().
	Config *config.Config
	// Types is a shared type registry; nil creates a private one.
	Types *reflection.Registry
}

// New wires a bridge.
func New(opts Options) *Bridge {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	types := opts.Types
	if types == nil {
		types = reflection.NewRegistry()
	}

	handles := handle.New(handle.Options{MaxHandles: cfg.Handles.Max})
	structs := marshal.NewRegistry(types)
	m := marshal.New(structs, handles, types)
	conv := convert.New(types, m)
	completions := async.New(async.Options{HighWater: cfg.Async.HighWater}, m)
	slots := callback.NewSlots(cfg.Callbacks.MaxSlots)
	delegates := callback.New(m)
	conv.SetCallbacks(delegates.Resolver(slots))

	b := &Bridge{
		Types:     types,
		Handles:   handles,
		Structs:   structs,
		Marshal:   m,
		Convert:   conv,
		Dispatch:  dispatch.New(types, handles, m, conv, completions),
		Fast:      fastpath.NewRegistry(),
		Async:     completions,
		Callbacks: slots,
		Delegates: delegates,
		cfg:       cfg,
	}
	Logger().Debug("bridge created",
		zap.Int32("max_handles", cfg.Handles.Max),
		zap.Int("callback_slots", cfg.Callbacks.MaxSlots),
		zap.Int("high_water", cfg.Async.HighWater))
	return b
}

// NewWithDefaults creates a bridge with default configuration.
func NewWithDefaults() *Bridge {
	return New(Options{})
}

// Config returns the configuration the bridge was built with.
func (b *Bridge) Config() *config.Config { return b.cfg }

// Module returns the named type module, creating it on first use.
func (b *Bridge) Module(name string) *reflection.Module {
	return b.Types.Module(name)
}

// Register returns the handle for obj.
func (b *Bridge) Register(obj any) (handle.Handle, error) {
	return b.Handles.Register(obj)
}

// Resolve returns the object behind h.
func (b *Bridge) Resolve(h handle.Handle) (any, bool) {
	return b.Handles.Resolve(h)
}

// Release drops h. Releasing twice reports false.
func (b *Bridge) Release(h handle.Handle) bool {
	return b.Handles.Release(h)
}

// Invoke executes one dynamic invocation.
func (b *Bridge) Invoke(ctx context.Context, req dispatch.Request) dispatch.Result {
	return b.Dispatch.Invoke(ctx, req)
}

// InvokeJSON decodes a JSON request, executes it and encodes the result.
func (b *Bridge) InvokeJSON(ctx context.Context, data []byte) []byte {
	req, err := dispatch.DecodeRequest(data)
	if err != nil {
		return dispatch.Fail(err).AppendJSON(nil)
	}
	return b.Invoke(ctx, req).AppendJSON(nil)
}

// SerializeStruct renders a struct value as a record. ok is false when v's
// type cannot cross as a record.
func (b *Bridge) SerializeStruct(v any) (*wire.Record, bool) {
	if v == nil {
		return nil, false
	}
	rec, ok, err := b.Marshal.Serialize(reflect.ValueOf(v))
	if err != nil {
		Logger().Warn("struct serialization failed", zap.String("type", reflect.TypeOf(v).String()), zap.Error(err))
		return nil, false
	}
	return rec, ok
}

// DeserializeStruct builds a value of type t from rec.
func (b *Bridge) DeserializeStruct(rec *wire.Record, t reflect.Type) (any, error) {
	if rec == nil || t == nil {
		return nil, errors.InvalidInput(errors.PhaseConvert, "nil record or type")
	}
	v, err := b.Marshal.Deserialize(rec, t)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// RegisterStructType describes t once, with a custom serializer pair or,
// when both are nil, the generic reflection-derived descriptor.
func (b *Bridge) RegisterStructType(t reflect.Type, ser marshal.Serializer, de marshal.Deserializer) error {
	return b.Structs.Register(t, ser, de)
}

// BindFast registers a fast-call handler.
func (b *Bridge) BindFast(h fastpath.Handler) (int32, error) {
	return b.Fast.Bind(h)
}

// InvokeFast calls binding id. Arguments beyond the configured maximum
// arity are rejected.
func (b *Bridge) InvokeFast(id int32, args ...wire.Value) (wire.Value, error) {
	if len(args) > b.cfg.FastPath.MaxArity {
		return wire.Null(), errors.InvalidInput(errors.PhaseFastPath, "too many fast-call arguments")
	}
	a := fastpath.Pack(args...)
	var out wire.Value
	err := b.Fast.Invoke(id, &a, &out)
	return out, err
}

// RegisterAsyncOperation starts op and returns the id its completion will
// carry.
func (b *Bridge) RegisterAsyncOperation(op async.Operation) async.OpID {
	return b.Async.Register(op)
}

// ProcessCompletions delivers queued completions to r in FIFO order.
func (b *Bridge) ProcessCompletions(r async.Resolver) int {
	return b.Async.ProcessCompletions(r)
}

// WrapCallback turns a script function into a host delegate of the given
// shape.
func (b *Bridge) WrapCallback(fn callback.Function, shape callback.Shape) (any, error) {
	return b.Delegates.Wrap(fn, shape)
}

// Close cancels pending operations and releases every handle.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.Async.Close()
		b.Callbacks.Reset()
		b.Handles.Reset()
		Logger().Debug("bridge closed")
	})
	return err
}
