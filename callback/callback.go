package callback

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/wire"
)

// Function is a script function the host can call back. The script engine
// implements it; calls happen synchronously on the calling goroutine.
type Function interface {
	Call(args []wire.Value) (wire.Value, error)
}

// Shape enumerates the delegate signatures a script function can be wrapped
// into.
type Shape uint8

const (
	ShapeAction     Shape = iota // func()
	ShapeAction1                 // func(any)
	ShapeAction2                 // func(any, any)
	ShapeString                  // func(string)
	ShapeBool                    // func(bool)
	ShapeFloat                   // func(float64)
	ShapeInt                     // func(int)
	ShapePredicate               // func() bool
	ShapePredicate1              // func(any) bool
	ShapeFunc                    // func() any
	ShapeFunc1                   // func(any) any
	shapeCount
)

var shapeTypes = [shapeCount]reflect.Type{
	ShapeAction:     reflect.TypeFor[func()](),
	ShapeAction1:    reflect.TypeFor[func(any)](),
	ShapeAction2:    reflect.TypeFor[func(any, any)](),
	ShapeString:     reflect.TypeFor[func(string)](),
	ShapeBool:       reflect.TypeFor[func(bool)](),
	ShapeFloat:      reflect.TypeFor[func(float64)](),
	ShapeInt:        reflect.TypeFor[func(int)](),
	ShapePredicate:  reflect.TypeFor[func() bool](),
	ShapePredicate1: reflect.TypeFor[func(any) bool](),
	ShapeFunc:       reflect.TypeFor[func() any](),
	ShapeFunc1:      reflect.TypeFor[func(any) any](),
}

// Type returns the delegate type of the shape, or nil for unknown shapes.
func (s Shape) Type() reflect.Type {
	if s >= shapeCount {
		return nil
	}
	return shapeTypes[s]
}

func (s Shape) String() string {
	if t := s.Type(); t != nil {
		return t.String()
	}
	return "unknown"
}

// ShapeOf returns the shape whose delegate type has the same signature as t.
// Named func types match by underlying signature.
func ShapeOf(t reflect.Type) (Shape, bool) {
	if t == nil || t.Kind() != reflect.Func {
		return 0, false
	}
	for s, st := range shapeTypes {
		if t == st || t.ConvertibleTo(st) {
			return Shape(s), true
		}
	}
	return 0, false
}

// Wrapper turns script functions into host delegates. Host arguments are
// marshaled to wire values; results are converted back for shapes that
// return one.
type Wrapper struct {
	marshal *marshal.Marshaler
}

// New creates a wrapper marshaling through m.
func New(m *marshal.Marshaler) *Wrapper {
	return &Wrapper{marshal: m}
}

// Wrap returns a delegate of the shape's type calling fn. A failing script
// call is logged and yields the zero result.
func (w *Wrapper) Wrap(fn Function, shape Shape) (any, error) {
	if fn == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	switch shape {
	case ShapeAction:
		return func() { w.call(fn) }, nil
	case ShapeAction1:
		return func(a any) { w.call(fn, a) }, nil
	case ShapeAction2:
		return func(a, b any) { w.call(fn, a, b) }, nil
	case ShapeString:
		return func(s string) { w.call(fn, s) }, nil
	case ShapeBool:
		return func(b bool) { w.call(fn, b) }, nil
	case ShapeFloat:
		return func(f float64) { w.call(fn, f) }, nil
	case ShapeInt:
		return func(i int) { w.call(fn, i) }, nil
	case ShapePredicate:
		return func() bool { return w.call(fn).Bool() }, nil
	case ShapePredicate1:
		return func(a any) bool { return w.call(fn, a).Bool() }, nil
	case ShapeFunc:
		return func() any { return w.marshal.Natural(w.call(fn)) }, nil
	case ShapeFunc1:
		return func(a any) any { return w.marshal.Natural(w.call(fn, a)) }, nil
	}
	return nil, errors.Unsupported(errors.PhaseCallback, "delegate shape "+shape.String())
}

// WrapType wraps fn into a delegate of type t. t either has the signature
// of one of the supported shapes, or takes at most two reference-typed
// parameters (pointers, interfaces, maps, channels, funcs) and returns at
// most one result.
func (w *Wrapper) WrapType(fn Function, t reflect.Type) (reflect.Value, error) {
	if shape, ok := ShapeOf(t); ok {
		d, err := w.Wrap(fn, shape)
		if err != nil {
			return reflect.Value{}, err
		}
		rv := reflect.ValueOf(d)
		if rv.Type() != t {
			rv = rv.Convert(t)
		}
		return rv, nil
	}
	if !ReferenceDelegate(t) {
		name := "<nil>"
		if t != nil {
			name = t.String()
		}
		return reflect.Value{}, errors.Unsupported(errors.PhaseCallback, "delegate type "+name)
	}
	if fn == nil {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	return reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		args := make([]any, len(in))
		for i, a := range in {
			args[i] = a.Interface()
		}
		out := w.call(fn, args...)
		if t.NumOut() == 0 {
			return nil
		}
		return []reflect.Value{w.result(out, t.Out(0))}
	}), nil
}

// ReferenceDelegate reports whether t is a func type taking up to two
// reference-typed parameters and returning at most one result.
func ReferenceDelegate(t reflect.Type) bool {
	if t == nil || t.Kind() != reflect.Func || t.IsVariadic() || t.NumIn() > 2 || t.NumOut() > 1 {
		return false
	}
	for i := 0; i < t.NumIn(); i++ {
		switch t.In(i).Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Chan, reflect.Func:
		default:
			return false
		}
	}
	return true
}

func (w *Wrapper) result(v wire.Value, t reflect.Type) reflect.Value {
	rv, err := w.marshal.FromWire(v, t)
	if err != nil {
		Logger().Warn("callback result dropped",
			zap.String("type", t.String()),
			zap.Error(err))
		return reflect.Zero(t)
	}
	return rv
}

// Resolver returns a function resolving callback slots in slots into
// delegates, suitable for the conversion engine. Each delegate leases its
// slot until the delegate is collected.
func (w *Wrapper) Resolver(slots *Slots) func(slot int32, t reflect.Type) (reflect.Value, error) {
	return func(slot int32, t reflect.Type) (reflect.Value, error) {
		fn, ok := slots.Lease(slot)
		if !ok {
			return reflect.Value{}, errors.New(errors.PhaseCallback, errors.KindHandleNotFound).
				Value(slot).Detail("callback slot %d is empty", slot).Build()
		}
		return w.WrapType(fn, t)
	}
}

func (w *Wrapper) call(fn Function, args ...any) wire.Value {
	in := make([]wire.Value, len(args))
	for i, a := range args {
		v, err := w.marshal.ToWire(a)
		if err != nil {
			Logger().Warn("callback argument dropped",
				zap.Int("index", i),
				zap.Error(err))
			v = wire.Null()
		}
		in[i] = v
	}
	out, err := fn.Call(in)
	if err != nil {
		Logger().Warn("script callback failed", zap.Error(err))
		return wire.Null()
	}
	return out
}
