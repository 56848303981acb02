package dispatch

import (
	"context"
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/async"
	"github.com/wippyai/script-bridge/convert"
	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

var awaitableType = reflect.TypeFor[async.Awaitable]()

// Dispatcher executes invocation requests against the host object system.
// Invoke is called on the script engine thread; the shared tables it uses
// are safe for concurrent use.
type Dispatcher struct {
	types   *reflection.Registry
	handles *handle.Table
	marshal *marshal.Marshaler
	convert *convert.Engine
	async   *async.Bridge
}

// New creates a dispatcher. bridge may be nil, in which case awaitable
// results cross as plain object handles.
func New(types *reflection.Registry, handles *handle.Table, m *marshal.Marshaler, conv *convert.Engine, bridge *async.Bridge) *Dispatcher {
	return &Dispatcher{
		types:   types,
		handles: handles,
		marshal: m,
		convert: conv,
		async:   bridge,
	}
}

// Invoke executes req. Failures never escape as panics: lookup failures
// come back as not-found or no-overload codes, panics and errors raised by
// host members as invocation faults.
func (d *Dispatcher) Invoke(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("host member panicked",
				zap.String("type", req.TypeName),
				zap.String("member", req.Member),
				zap.Stringer("kind", req.Kind),
				zap.Any("panic", r),
				zap.Stack("stack"))
			res = Fail(errors.Panic(req.TypeName, req.Member, r))
		}
	}()

	v, err := d.invoke(ctx, req)
	if err != nil {
		d.logFailure(req, err)
		return Fail(err)
	}
	return Ok(v)
}

func (d *Dispatcher) logFailure(req Request, err error) {
	fields := []zap.Field{
		zap.String("type", req.TypeName),
		zap.String("member", req.Member),
		zap.Stringer("kind", req.Kind),
		zap.Int32("target", int32(req.Target)),
		zap.Error(err),
	}
	switch errors.Code(err) {
	case errors.CodeInvocationFault, errors.CodeFatal:
		Logger().Error("invocation failed", fields...)
	default:
		Logger().Debug("invocation rejected", fields...)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, req Request) (wire.Value, error) {
	switch req.Kind {
	case CallTypeExists:
		_, ok := d.types.ResolveType(req.TypeName)
		return wire.Bool(ok), nil
	case CallIsEnumType:
		t, ok := d.types.ResolveType(req.TypeName)
		return wire.Bool(ok && t.IsEnum()), nil
	}

	typ, recv, err := d.actingType(req)
	if err != nil {
		return wire.Null(), err
	}
	static := !recv.IsValid()

	switch req.Kind {
	case CallCtor:
		return d.construct(ctx, typ, req.Args)
	case CallMethod:
		return d.call(ctx, typ, recv, static, req)
	case CallGetProp:
		p, err := d.types.FindProperty(typ, req.Member, static)
		if err != nil {
			return wire.Null(), err
		}
		if !p.CanRead() {
			return wire.Null(), errors.Unsupported(errors.PhaseDispatch, "property "+req.Member+" is write-only")
		}
		out, err := p.Get(ctx, recv)
		if err != nil {
			return wire.Null(), errors.InvocationFault(typ.FullName, req.Member, err)
		}
		return d.result(out)
	case CallSetProp:
		p, err := d.types.FindProperty(typ, req.Member, static)
		if err != nil {
			return wire.Null(), err
		}
		arg, err := d.single(ctx, typ, req, p.Type)
		if err != nil {
			return wire.Null(), err
		}
		if err := p.Set(ctx, recv, arg); err != nil {
			return wire.Null(), setFailure(typ, req.Member, err)
		}
		return wire.Null(), nil
	case CallGetField:
		f, err := d.types.FindField(typ, req.Member, static)
		if err != nil {
			return wire.Null(), err
		}
		out, err := f.Get(recv)
		if err != nil {
			return wire.Null(), err
		}
		return d.result(out)
	case CallSetField:
		f, err := d.types.FindField(typ, req.Member, static)
		if err != nil {
			return wire.Null(), err
		}
		arg, err := d.single(ctx, typ, req, f.Type)
		if err != nil {
			return wire.Null(), err
		}
		if err := f.Set(recv, arg); err != nil {
			return wire.Null(), err
		}
		return wire.Null(), nil
	}
	return wire.Null(), errors.InvalidInput(errors.PhaseDispatch, "unknown call kind "+req.Kind.String())
}

// actingType resolves the type a request acts on: the dynamic type of the
// live target for instance calls, else the named type.
func (d *Dispatcher) actingType(req Request) (*reflection.Type, reflect.Value, error) {
	if req.Static() || req.Kind == CallCtor {
		t, ok := d.types.ResolveType(req.TypeName)
		if !ok {
			return nil, reflect.Value{}, errors.TypeNotFound(req.TypeName)
		}
		return t, reflect.Value{}, nil
	}
	obj, ok := d.handles.Resolve(req.Target)
	if !ok {
		return nil, reflect.Value{}, errors.New(errors.PhaseDispatch, errors.KindHandleNotFound).
			Value(int32(req.Target)).Detail("object handle %d not found", req.Target).Build()
	}
	recv := reflect.ValueOf(obj)
	return d.types.TypeOf(recv.Type()), recv, nil
}

func (d *Dispatcher) call(ctx context.Context, typ *reflection.Type, recv reflect.Value, static bool, req Request) (wire.Value, error) {
	m, err := d.types.FindMethod(typ, req.Member, static, d.argTypes(req.Args))
	if err != nil {
		return wire.Null(), err
	}
	in, err := d.arguments(ctx, m.In, req.Args)
	if err != nil {
		return wire.Null(), errors.InvocationFault(typ.FullName, req.Member, err)
	}
	out, err := m.Call(ctx, recv, in)
	if err != nil {
		return wire.Null(), errors.InvocationFault(typ.FullName, req.Member, err)
	}
	return d.result(out)
}

// construct runs the first declared constructor whose converted arguments
// satisfy every parameter. Without arguments and without a matching
// constructor, reference types get a new zero object and value types a
// zero record.
func (d *Dispatcher) construct(ctx context.Context, typ *reflection.Type, args []wire.Value) (wire.Value, error) {
	for _, c := range typ.Ctors() {
		if len(c.In) != len(args) {
			continue
		}
		in, err := d.arguments(ctx, c.In, args)
		if err != nil {
			continue
		}
		out, err := c.Call(ctx, reflect.Value{}, in)
		if err != nil {
			return wire.Null(), errors.InvocationFault(typ.FullName, "new", err)
		}
		if out.Kind() == reflect.Struct && !typ.IsValue() {
			p := reflect.New(out.Type())
			p.Elem().Set(out)
			out = p
		}
		return d.result(out)
	}

	if len(args) > 0 {
		return wire.Null(), errors.NoCompatibleOverload(typ.FullName, "new", len(args))
	}
	if typ.IsValue() {
		rec, ok, err := d.marshal.Serialize(reflect.Zero(typ.Go))
		if err != nil {
			return wire.Null(), err
		}
		if ok {
			return wire.RecordValue(rec), nil
		}
		return d.result(reflect.Zero(typ.Go))
	}
	switch typ.Go.Kind() {
	case reflect.Struct:
		return d.result(reflect.New(typ.Go))
	case reflect.Map:
		return d.result(reflect.MakeMap(typ.Go))
	case reflect.Chan:
		return d.result(reflect.MakeChan(typ.Go, 0))
	}
	return d.result(reflect.Zero(typ.Go))
}

func (d *Dispatcher) argTypes(args []wire.Value) []reflection.ArgType {
	out := make([]reflection.ArgType, len(args))
	for i, a := range args {
		var resolved any
		if a.Kind() == wire.KindObjectHandle {
			resolved = d.marshal.Natural(a)
		}
		out[i] = reflection.ArgTypeOf(a, resolved)
	}
	return out
}

// arguments converts args to params. A value the conversion engine passed
// through unconverted fails here.
func (d *Dispatcher) arguments(ctx context.Context, params []reflect.Type, args []wire.Value) ([]reflect.Value, error) {
	in := make([]reflect.Value, len(params))
	for i, p := range params {
		v, err := d.convert.ConvertContext(ctx, args[i], p)
		if err != nil {
			return nil, err
		}
		if !v.IsValid() || !v.Type().AssignableTo(p) {
			got := "nothing"
			if v.IsValid() {
				got = v.Type().String()
			}
			return nil, errors.New(errors.PhaseConvert, errors.KindInvalidData).
				GoType(p.String()).Detail("argument %d: cannot use %s as %s", i+1, got, p).Build()
		}
		in[i] = v
	}
	return in, nil
}

func (d *Dispatcher) single(ctx context.Context, typ *reflection.Type, req Request, t reflect.Type) (reflect.Value, error) {
	if len(req.Args) != 1 {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch,
			"setting "+req.Member+" takes exactly one argument")
	}
	in, err := d.arguments(ctx, []reflect.Type{t}, req.Args)
	if err != nil {
		return reflect.Value{}, errors.InvocationFault(typ.FullName, req.Member, err)
	}
	return in[0], nil
}

// result marshals a member's return value. Awaitables become async handles
// when a completion bridge is attached.
func (d *Dispatcher) result(out reflect.Value) (wire.Value, error) {
	if !out.IsValid() {
		return wire.Null(), nil
	}
	if d.async != nil && out.Type().Implements(awaitableType) {
		if nilable(out) && out.IsNil() {
			return wire.Null(), nil
		}
		id := d.async.Await(out.Interface().(async.Awaitable))
		return wire.AsyncHandle(int32(id)), nil
	}
	return d.marshal.ToWireValue(out)
}

func setFailure(typ *reflection.Type, member string, err error) error {
	var be *errors.Error
	if errors.As(err, &be) && be.Kind == errors.KindReadOnly {
		return err
	}
	return errors.InvocationFault(typ.FullName, member, err)
}

func nilable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}
