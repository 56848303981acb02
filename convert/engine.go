package convert

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

// maxCtorDepth bounds nested single-argument constructor fallbacks.
const maxCtorDepth = 4

var (
	wireValueType = reflect.TypeFor[wire.Value]()
	errorType     = reflect.TypeFor[error]()
	int64Type     = reflect.TypeFor[int64]()
	float64Type   = reflect.TypeFor[float64]()
)

// CallbackFunc wraps a script callback slot into a host delegate of type t.
type CallbackFunc func(slot int32, t reflect.Type) (reflect.Value, error)

type pair struct {
	from, to reflect.Type
}

// conversion is a resolved implicit conversion from one host type to another.
type conversion func(ctx context.Context, src reflect.Value) (reflect.Value, error)

type implicitEntry struct {
	fn       conversion
	local    uint64
	registry uint64
}

type enumKey struct {
	typ  reflect.Type
	name string
	gen  uint64
}

// Engine converts wire values to host parameter types. Thread-safe.
type Engine struct {
	types    *reflection.Registry
	marshal  *marshal.Marshaler
	callback atomic.Pointer[CallbackFunc]

	converters map[pair]reflect.Value
	implicit   sync.Map // pair -> implicitEntry
	enums      sync.Map // enumKey -> reflect.Value
	gen        atomic.Uint64
	mu         sync.RWMutex
}

// New creates an engine and installs it as the marshaler's conversion hook,
// so record fields and array elements go through the same pipeline.
func New(types *reflection.Registry, m *marshal.Marshaler) *Engine {
	e := &Engine{
		types:      types,
		marshal:    m,
		converters: make(map[pair]reflect.Value),
	}
	m.Convert = e.Convert
	return e
}

// SetCallbacks installs the function that turns callback slots into
// delegates. Without it, callbacks only convert to wire.Value and any.
func (e *Engine) SetCallbacks(fn CallbackFunc) {
	if fn == nil {
		e.callback.Store(nil)
		return
	}
	e.callback.Store(&fn)
}

// RegisterConverter registers an implicit conversion. fn must have the shape
// func(S) T or func(S) (T, error).
func (e *Engine) RegisterConverter(fn any) error {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return errors.Registration("converter", fmt.Sprintf("%T", fn),
			errors.InvalidInput(errors.PhaseRegister, "converter must be a function"))
	}
	ft := fv.Type()
	ok := ft.NumIn() == 1 && !ft.IsVariadic() &&
		(ft.NumOut() == 1 || (ft.NumOut() == 2 && ft.Out(1) == errorType))
	if !ok {
		return errors.Registration("converter", ft.String(),
			errors.InvalidInput(errors.PhaseRegister, "expected func(S) T or func(S) (T, error)"))
	}

	e.mu.Lock()
	e.converters[pair{ft.In(0), ft.Out(0)}] = fv
	e.mu.Unlock()
	e.gen.Add(1)
	e.implicit.Clear()
	return nil
}

// Convert converts v to t with a background context.
func (e *Engine) Convert(v wire.Value, t reflect.Type) (reflect.Value, error) {
	return e.ConvertContext(context.Background(), v, t)
}

// ConvertContext converts v to t, trying in order: materialization of
// handles and callbacks, direct assignment, struct deserialization, implicit
// conversions, enum lookup, primitive coercion and finally a single-argument
// constructor of t. When nothing applies the natural value is returned
// unchanged; the caller detects the mismatch when it uses the value. ctx is
// passed to constructors and converters that accept one.
func (e *Engine) ConvertContext(ctx context.Context, v wire.Value, t reflect.Type) (reflect.Value, error) {
	return e.convert(ctx, v, t, 0)
}

func (e *Engine) convert(ctx context.Context, v wire.Value, t reflect.Type, depth int) (reflect.Value, error) {
	if t == wireValueType {
		return reflect.ValueOf(v), nil
	}

	var src reflect.Value
	switch v.Kind() {
	case wire.KindNull:
		return reflect.Zero(t), nil
	case wire.KindObjectHandle:
		obj := e.marshal.Natural(v)
		if obj == nil {
			return reflect.Zero(t), nil
		}
		src = reflect.ValueOf(obj)
	case wire.KindCallback:
		if t.Kind() == reflect.Func {
			cb := e.callback.Load()
			if cb == nil {
				return reflect.Value{}, errors.Unsupported(errors.PhaseConvert, "script callbacks are not enabled")
			}
			return (*cb)(v.CallbackSlot(), t)
		}
		src = reflect.ValueOf(v)
	case wire.KindRecord, wire.KindArray, wire.KindVector3, wire.KindVector4:
		out, err := e.marshal.FromWire(v, t)
		if err == nil {
			return out, nil
		}
		if errors.IsFatal(err) {
			return reflect.Value{}, err
		}
		src = reflect.ValueOf(e.marshal.Natural(v))
	default:
		src = reflect.ValueOf(v.Interface())
	}

	if st := src.Type(); st.AssignableTo(t) {
		return assign(src, t), nil
	} else if st.Kind() == reflect.Pointer && st.Elem() == t {
		return src.Elem(), nil
	}

	if fn := e.implicitFor(src.Type(), t); fn != nil {
		out, err := fn(ctx, src)
		if err != nil {
			return reflect.Value{}, errors.New(errors.PhaseConvert, errors.KindInvalidData).
				GoType(t.String()).Detail("implicit conversion from %s failed", src.Type()).Cause(err).Build()
		}
		return out, nil
	}

	if e.types.IsEnum(t) {
		if out, ok := e.enum(src, t); ok {
			return out, nil
		}
	}

	if out, ok := coerce(src, t); ok {
		return out, nil
	}

	if depth < maxCtorDepth {
		if out, ok := e.construct(ctx, v, t, depth); ok {
			return out, nil
		}
	}

	Logger().Debug("conversion fell through",
		zap.String("from", src.Type().String()),
		zap.String("to", t.String()))
	return src, nil
}

// implicitFor returns the cached implicit conversion for (from, to), or nil.
func (e *Engine) implicitFor(from, to reflect.Type) conversion {
	key := pair{from, to}
	local, registry := e.gen.Load(), e.types.Generation()
	if v, ok := e.implicit.Load(key); ok {
		ent := v.(implicitEntry)
		if ent.local == local && ent.registry == registry {
			return ent.fn
		}
	}
	fn := e.findImplicit(from, to)
	e.implicit.Store(key, implicitEntry{fn: fn, local: local, registry: registry})
	return fn
}

func (e *Engine) findImplicit(from, to reflect.Type) conversion {
	if fn := e.registered(from, to); fn != nil {
		return fn
	}
	if fn := toMethod(from, to); fn != nil {
		return fn
	}
	if fn := e.fromStatic(from, to); fn != nil {
		return fn
	}

	// Numbers arrive as int32/int64/float64 depending on magnitude; let a
	// converter registered on the widest form serve them all.
	if isNumeric(from) {
		for _, wide := range []reflect.Type{int64Type, float64Type} {
			if wide == from {
				continue
			}
			if wide == int64Type && isFloatKind(from) {
				continue
			}
			if fn := e.registered(wide, to); fn != nil {
				return func(ctx context.Context, src reflect.Value) (reflect.Value, error) {
					return fn(ctx, src.Convert(wide))
				}
			}
		}
	}
	return nil
}

func (e *Engine) registered(from, to reflect.Type) conversion {
	e.mu.RLock()
	fv, ok := e.converters[pair{from, to}]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	return func(_ context.Context, src reflect.Value) (reflect.Value, error) {
		return results(fv.Call([]reflect.Value{src}), to)
	}
}

// toMethod finds a To<Target>() method on the source type.
func toMethod(from, to reflect.Type) conversion {
	name := "To" + typeName(to)
	m, ok := from.MethodByName(name)
	if !ok {
		return nil
	}
	mt := m.Type
	if mt.NumIn() != 1 || mt.NumOut() == 0 || mt.NumOut() > 2 || !mt.Out(0).AssignableTo(to) {
		return nil
	}
	if mt.NumOut() == 2 && mt.Out(1) != errorType {
		return nil
	}
	return func(_ context.Context, src reflect.Value) (reflect.Value, error) {
		return results(src.MethodByName(name).Call(nil), to)
	}
}

// fromStatic finds a registered static From<Source> on the target type.
func (e *Engine) fromStatic(from, to reflect.Type) conversion {
	desc, ok := e.types.Lookup(to)
	if !ok {
		return nil
	}
	args := []reflection.ArgType{argTypeFor(from)}
	var m *reflection.Method
	for _, name := range fromNames(e.types, from) {
		found, err := e.types.FindMethod(desc, "From"+name, true, args)
		if err == nil {
			m = found
			break
		}
	}
	if m == nil || m.Out == nil {
		return nil
	}
	if !m.Out.AssignableTo(to) && !(m.Out.Kind() == reflect.Pointer && m.Out.Elem() == to) {
		return nil
	}
	param := m.In[0]
	return func(ctx context.Context, src reflect.Value) (reflect.Value, error) {
		arg, ok := adapt(src, param)
		if !ok {
			return reflect.Value{}, errors.InvalidInput(errors.PhaseConvert,
				"cannot pass "+src.Type().String()+" to "+m.Name)
		}
		out, err := m.Call(ctx, reflect.Value{}, []reflect.Value{arg})
		if err != nil {
			return reflect.Value{}, err
		}
		return fit(out, to)
	}
}

func fromNames(types *reflection.Registry, from reflect.Type) []string {
	var names []string
	add := func(n string) {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	if desc, ok := types.Lookup(from); ok {
		add(desc.Name)
	}
	if n := typeName(from); n != "" {
		add(strings.ToUpper(n[:1]) + n[1:])
	}
	return names
}

// construct tries the target's single-argument constructors in
// registration order.
func (e *Engine) construct(ctx context.Context, v wire.Value, t reflect.Type, depth int) (reflect.Value, bool) {
	desc, ok := e.types.Lookup(t)
	if !ok {
		return reflect.Value{}, false
	}
	for _, ctor := range desc.Ctors() {
		if len(ctor.In) != 1 {
			continue
		}
		param := ctor.In[0]
		if param == t || (t.Kind() == reflect.Pointer && param == t.Elem()) {
			continue
		}
		arg, err := e.convert(ctx, v, param, depth+1)
		if err != nil || !arg.IsValid() || !arg.Type().AssignableTo(param) {
			continue
		}
		out, err := ctor.Call(ctx, reflect.Value{}, []reflect.Value{assign(arg, param)})
		if err != nil {
			Logger().Debug("constructor fallback failed",
				zap.String("type", desc.FullName),
				zap.Error(err))
			continue
		}
		if out, err := fit(out, t); err == nil {
			return out, true
		}
	}
	return reflect.Value{}, false
}

// enum maps numbers and names to values of a registered enum type. Names
// match exactly, then case-insensitively, then once more after rewriting
// kebab, snake or camel spelling to Pascal case.
func (e *Engine) enum(src reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if isNumeric(src.Type()) {
		if isFloatKind(src.Type()) {
			f := src.Float()
			if f != math.Trunc(f) {
				return reflect.Value{}, false
			}
		}
		if src.Type().ConvertibleTo(t) {
			return src.Convert(t), true
		}
		return reflect.Value{}, false
	}
	if src.Kind() != reflect.String {
		return reflect.Value{}, false
	}

	name := src.String()
	key := enumKey{t, name, e.types.Generation()}
	if v, ok := e.enums.Load(key); ok {
		out := v.(reflect.Value)
		return out, out.IsValid()
	}

	desc, _ := e.types.Lookup(t)
	out, ok := matchEnum(desc, name)
	if !ok {
		if rewritten := Pascal(name); rewritten != name {
			out, ok = matchEnum(desc, rewritten)
		}
	}
	e.enums.Store(key, out)
	return out, ok
}

func matchEnum(desc *reflection.Type, name string) (reflect.Value, bool) {
	if v, ok := desc.EnumValue(name); ok {
		return v, true
	}
	for _, n := range desc.EnumNames() {
		if strings.EqualFold(n, name) {
			return desc.EnumValue(n)
		}
	}
	return reflect.Value{}, false
}

// coerce performs primitive conversions: numeric to numeric, bool to and
// from numbers, and numeric or boolean strings.
func coerce(src reflect.Value, t reflect.Type) (reflect.Value, bool) {
	st := src.Type()
	switch {
	case isNumeric(st) && isNumeric(t):
		return numberTo(toFloat(src), t)
	case st.Kind() == reflect.Bool && isNumeric(t):
		f := 0.0
		if src.Bool() {
			f = 1
		}
		return numberTo(f, t)
	case isNumeric(st) && t.Kind() == reflect.Bool:
		return reflect.ValueOf(toFloat(src) != 0).Convert(t), true
	case st.Kind() == reflect.String && isNumeric(t):
		s := strings.TrimSpace(src.String())
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return numberInt(i, t)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reflect.Value{}, false
		}
		return numberTo(f, t)
	case st.Kind() == reflect.String && t.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(src.String()))
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(b).Convert(t), true
	case st.Kind() == reflect.String && t.Kind() == reflect.String:
		return src.Convert(t), true
	case st.Kind() == reflect.String && t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return reflect.ValueOf([]byte(src.String())).Convert(t), true
	}
	return reflect.Value{}, false
}

// numberTo converts f to numeric type t. Fractions round half to even into
// integer types; out-of-range values fail.
func numberTo(f float64, t reflect.Type) (reflect.Value, bool) {
	if math.IsNaN(f) {
		if isFloatKind(t) {
			out := reflect.New(t).Elem()
			out.SetFloat(f)
			return out, true
		}
		return reflect.Value{}, false
	}
	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		if out.OverflowFloat(f) {
			return reflect.Value{}, false
		}
		out.SetFloat(f)
		return out, true
	}
	r := math.RoundToEven(f)
	if r < math.MinInt64 || r >= math.MaxInt64 {
		if isUnsignedKind(t) && r >= 0 && r < math.MaxUint64 {
			u := uint64(r)
			if out.OverflowUint(u) {
				return reflect.Value{}, false
			}
			out.SetUint(u)
			return out, true
		}
		return reflect.Value{}, false
	}
	return numberInt(int64(r), t)
}

func numberInt(i int64, t reflect.Type) (reflect.Value, bool) {
	out := reflect.New(t).Elem()
	switch {
	case isUnsignedKind(t):
		if i < 0 || out.OverflowUint(uint64(i)) {
			return reflect.Value{}, false
		}
		out.SetUint(uint64(i))
	case isFloatKind(t):
		out.SetFloat(float64(i))
	default:
		if out.OverflowInt(i) {
			return reflect.Value{}, false
		}
		out.SetInt(i)
	}
	return out, true
}

func toFloat(v reflect.Value) float64 {
	switch {
	case isFloatKind(v.Type()):
		return v.Float()
	case isUnsignedKind(v.Type()):
		return float64(v.Uint())
	}
	return float64(v.Int())
}

// results unpacks a converter's return values into a value of type to.
func results(out []reflect.Value, to reflect.Type) (reflect.Value, error) {
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return fit(out[0], to)
}

// fit adapts a produced value to t: assignment, pointer dereference or
// taking the address of a copy.
func fit(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if out, ok := adapt(v, t); ok {
		return out, nil
	}
	return reflect.Value{}, errors.InvalidInput(errors.PhaseConvert,
		"produced "+v.Type().String()+", want "+t.String())
}

func adapt(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if !v.IsValid() {
		return reflect.Zero(t), true
	}
	switch {
	case v.Type().AssignableTo(t):
		return assign(v, t), true
	case v.Kind() == reflect.Pointer && v.Type().Elem() == t:
		if v.IsNil() {
			return reflect.Zero(t), true
		}
		return v.Elem(), true
	case t.Kind() == reflect.Pointer && t.Elem() == v.Type():
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return p, true
	}
	return reflect.Value{}, false
}

func assign(v reflect.Value, t reflect.Type) reflect.Value {
	if v.Type() == t {
		return v
	}
	out := reflect.New(t).Elem()
	out.Set(v)
	return out
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func argTypeFor(t reflect.Type) reflection.ArgType {
	a := reflection.ArgType{Go: t, Kind: wire.KindObjectHandle}
	switch {
	case t.Kind() == reflect.Bool:
		a.Kind = wire.KindBool
	case isFloatKind(t):
		a.Kind = wire.KindFloat64
	case isNumeric(t):
		a.Kind = wire.KindInt64
	case t.Kind() == reflect.String:
		a.Kind = wire.KindString
	}
	return a
}

func isNumeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isFloatKind(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func isUnsignedKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}
