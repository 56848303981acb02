package fastpath

import (
	"reflect"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/wire"
)

var (
	errorType = reflect.TypeFor[error]()
	valueType = reflect.TypeFor[wire.Value]()
)

// BindFunc registers a plain Go function. Common numeric, string and vector
// signatures get specialised handlers that do not allocate; any other
// function with scalar parameters and at most one scalar result (plus an
// optional error) is called through reflection.
func (r *Registry) BindFunc(fn any) (int32, error) {
	return r.BindFuncNamed("", fn)
}

// BindFuncNamed is BindFunc with a lookup name.
func (r *Registry) BindFuncNamed(name string, fn any) (int32, error) {
	h, arity, err := handlerFor(fn)
	if err != nil {
		return 0, err
	}
	return r.bind(name, h, arity)
}

func handlerFor(fn any) (Handler, int, error) {
	if h, arity, ok := specialised(fn); ok {
		return h, arity, nil
	}
	return reflected(fn)
}

// specialised returns allocation-free handlers for the signatures used on
// per-frame paths.
func specialised(fn any) (Handler, int, bool) {
	switch f := fn.(type) {
	case Handler:
		return f, -1, true
	case func(*Args, *wire.Value) error:
		return f, -1, true
	case func():
		return func(_ *Args, _ *wire.Value) error { f(); return nil }, 0, true
	case func() float64:
		return func(_ *Args, out *wire.Value) error {
			*out = wire.Float64(f())
			return nil
		}, 0, true
	case func(float64) float64:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Float64(f(a.Float(0)))
			return nil
		}, 1, true
	case func(float64, float64) float64:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Float64(f(a.Float(0), a.Float(1)))
			return nil
		}, 2, true
	case func(float64, float64, float64) float64:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Float64(f(a.Float(0), a.Float(1), a.Float(2)))
			return nil
		}, 3, true
	case func(float32, float32) float32:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Float32(f(float32(a.Float(0)), float32(a.Float(1))))
			return nil
		}, 2, true
	case func(int) int:
		return func(a *Args, out *wire.Value) error {
			*out = intValue(int64(f(int(a.Int(0)))))
			return nil
		}, 1, true
	case func(int, int) int:
		return func(a *Args, out *wire.Value) error {
			*out = intValue(int64(f(int(a.Int(0)), int(a.Int(1)))))
			return nil
		}, 2, true
	case func(int32, int32) int32:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Int32(f(int32(a.Int(0)), int32(a.Int(1))))
			return nil
		}, 2, true
	case func(int64, int64) int64:
		return func(a *Args, out *wire.Value) error {
			*out = intValue(f(a.Int(0), a.Int(1)))
			return nil
		}, 2, true
	case func(bool) bool:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Bool(f(a.Bool(0)))
			return nil
		}, 1, true
	case func(string) string:
		return func(a *Args, out *wire.Value) error {
			*out = wire.String(f(a.Str(0)))
			return nil
		}, 1, true
	case func([4]float32) [4]float32:
		return func(a *Args, out *wire.Value) error {
			v := f(a.Vec(0))
			*out = wire.Vector4(v[0], v[1], v[2], v[3], a.At(0).TypeHint())
			return nil
		}, 1, true
	case func([4]float32, [4]float32) [4]float32:
		return func(a *Args, out *wire.Value) error {
			v := f(a.Vec(0), a.Vec(1))
			*out = wire.Vector4(v[0], v[1], v[2], v[3], a.At(0).TypeHint())
			return nil
		}, 2, true
	case func([4]float32) float64:
		return func(a *Args, out *wire.Value) error {
			*out = wire.Float64(f(a.Vec(0)))
			return nil
		}, 1, true
	case func(wire.Value) wire.Value:
		return func(a *Args, out *wire.Value) error {
			*out = f(a.At(0))
			return nil
		}, 1, true
	}
	return nil, 0, false
}

func intValue(i int64) wire.Value {
	if i >= -1<<31 && i <= 1<<31-1 {
		return wire.Int32(int32(i))
	}
	return wire.Int64(i)
}

// reflected builds a handler that calls fn through reflection. It allocates
// per call and exists for signatures outside the specialised set.
func reflected(fn any) (Handler, int, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, 0, errors.New(errors.PhaseFastPath, errors.KindInvalidInput).
			GoType(typeString(fn)).Detail("binding must be a function").Build()
	}
	ft := fv.Type()
	if ft.IsVariadic() || ft.NumIn() > MaxArgs {
		return nil, 0, errors.Unsupported(errors.PhaseFastPath,
			"binding "+ft.String()+" must take at most 6 fixed parameters")
	}
	for i := 0; i < ft.NumIn(); i++ {
		if !scalar(ft.In(i)) {
			return nil, 0, errors.Unsupported(errors.PhaseFastPath,
				"parameter type "+ft.In(i).String()+" cannot be passed on the fast path")
		}
	}

	errOut := ft.NumOut() > 0 && ft.Out(ft.NumOut()-1) == errorType
	values := ft.NumOut()
	if errOut {
		values--
	}
	if values > 1 || (values == 1 && !scalar(ft.Out(0))) {
		return nil, 0, errors.Unsupported(errors.PhaseFastPath,
			"result of "+ft.String()+" cannot be returned on the fast path")
	}

	arity := ft.NumIn()
	h := func(a *Args, out *wire.Value) error {
		in := make([]reflect.Value, arity)
		for i := range in {
			v, err := fromWire(a.At(i), ft.In(i))
			if err != nil {
				return err
			}
			in[i] = v
		}
		res := fv.Call(in)
		if errOut {
			if e := res[len(res)-1]; !e.IsNil() {
				return e.Interface().(error)
			}
		}
		if values == 1 {
			*out = toWire(res[0])
		}
		return nil
	}
	return h, arity, nil
}

func scalar(t reflect.Type) bool {
	if t == valueType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fromWire converts a fast-path argument. Integers that do not fit the
// parameter type, including negatives for unsigned parameters, are
// rejected rather than wrapped.
func fromWire(v wire.Value, t reflect.Type) (reflect.Value, error) {
	if t == valueType {
		return reflect.ValueOf(v), nil
	}
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		out.SetBool(v.Bool())
	case reflect.String:
		out.SetString(v.Str())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := v.Int()
		if out.OverflowInt(i) {
			return reflect.Value{}, outOfRange(v, t)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i := v.Int()
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, outOfRange(v, t)
		}
		out.SetUint(uint64(i))
	case reflect.Float32, reflect.Float64:
		out.SetFloat(v.Float())
	}
	return out, nil
}

func outOfRange(v wire.Value, t reflect.Type) error {
	return errors.New(errors.PhaseFastPath, errors.KindInvalidData).
		GoType(t.String()).Value(v.Int()).Detail("argument out of range").Build()
}

func toWire(v reflect.Value) wire.Value {
	if v.Type() == valueType {
		return v.Interface().(wire.Value)
	}
	switch v.Kind() {
	case reflect.Bool:
		return wire.Bool(v.Bool())
	case reflect.String:
		return wire.String(v.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return intValue(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > 1<<63-1 {
			return wire.Float64(float64(u))
		}
		return intValue(int64(u))
	case reflect.Float32:
		return wire.Float32(float32(v.Float()))
	case reflect.Float64:
		return wire.Float64(v.Float())
	}
	return wire.Null()
}

func typeString(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
