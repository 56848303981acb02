package marshal

import (
	"math"
	"reflect"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

// Converter converts a wire value to a host type. The conversion engine
// plugs in here so record fields get the full conversion pipeline.
type Converter func(v wire.Value, t reflect.Type) (reflect.Value, error)

// Marshaler converts host values to wire values and back.
//
// Reference values (pointers, maps with non-string keys, channels, funcs)
// become object handles; structs become records; string-keyed maps become
// untagged records; slices and arrays become arrays.
type Marshaler struct {
	Structs *Registry
	Handles *handle.Table
	Types   *reflection.Registry

	// Convert overrides FromWire for record fields and array elements.
	Convert Converter
}

// New creates a Marshaler over the given tables.
func New(structs *Registry, handles *handle.Table, types *reflection.Registry) *Marshaler {
	return &Marshaler{Structs: structs, Handles: handles, Types: types}
}

// ToWire marshals an arbitrary host value.
func (m *Marshaler) ToWire(v any) (wire.Value, error) {
	if v == nil {
		return wire.Null(), nil
	}
	return m.ToWireValue(reflect.ValueOf(v))
}

// ToWireValue marshals a reflected host value.
func (m *Marshaler) ToWireValue(rv reflect.Value) (wire.Value, error) {
	if !rv.IsValid() {
		return wire.Null(), nil
	}
	if rv.Type() == wireValueType && rv.CanInterface() {
		return rv.Interface().(wire.Value), nil
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return wire.Null(), nil
		}
		return m.ToWireValue(rv.Elem())
	case reflect.Bool:
		return wire.Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i >= math.MinInt32 && i <= math.MaxInt32 {
			return wire.Int32(int32(i)), nil
		}
		return wire.Int64(i), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt32 {
			return wire.Int32(int32(u)), nil
		}
		if u <= math.MaxInt64 {
			return wire.Int64(int64(u)), nil
		}
		return wire.Float64(float64(u)), nil
	case reflect.Float32:
		return wire.Float32(float32(rv.Float())), nil
	case reflect.Float64:
		return wire.Float64(rv.Float()), nil
	case reflect.String:
		return wire.String(rv.String()), nil
	case reflect.Struct:
		return m.structToWire(rv)
	case reflect.Slice:
		if rv.IsNil() {
			return wire.Null(), nil
		}
		return m.arrayToWire(rv)
	case reflect.Array:
		return m.arrayToWire(rv)
	case reflect.Map:
		if rv.IsNil() {
			return wire.Null(), nil
		}
		if rv.Type().Key().Kind() == reflect.String {
			return m.mapToWire(rv)
		}
		return m.handleFor(rv)
	case reflect.Pointer:
		if rv.IsNil() {
			return wire.Null(), nil
		}
		return m.handleFor(rv)
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		if rv.IsNil() {
			return wire.Null(), nil
		}
		return m.handleFor(rv)
	}
	return wire.Null(), errors.Unsupported(errors.PhaseMarshal, "cannot marshal "+rv.Type().String())
}

func (m *Marshaler) handleFor(rv reflect.Value) (wire.Value, error) {
	if m.Handles == nil || !rv.CanInterface() {
		return wire.Null(), errors.Unsupported(errors.PhaseMarshal, "cannot reference "+rv.Type().String())
	}
	h, err := m.Handles.Register(rv.Interface())
	if err != nil {
		return wire.Null(), err
	}
	return wire.ObjectHandle(int32(h), m.typeName(rv.Type())), nil
}

func (m *Marshaler) typeName(t reflect.Type) string {
	if m.Types != nil {
		return m.Types.TypeOf(t).FullName
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

func (m *Marshaler) structToWire(rv reflect.Value) (wire.Value, error) {
	t := rv.Type()
	if idx, ok := NullableField(t); ok {
		if !rv.FieldByName("Valid").Bool() {
			return wire.Null(), nil
		}
		return m.ToWireValue(rv.Field(idx))
	}
	if d, ok := m.Structs.registered(t); !ok || !d.Custom() {
		if vec, ok := vectorFrom(rv); ok {
			return vec, nil
		}
	}
	rec, ok, err := m.Serialize(rv)
	if err != nil {
		return wire.Null(), err
	}
	if !ok {
		return wire.Null(), errors.Unsupported(errors.PhaseMarshal, "struct "+t.String()+" has no exported fields")
	}
	return wire.RecordValue(rec), nil
}

func (m *Marshaler) arrayToWire(rv reflect.Value) (wire.Value, error) {
	items := make([]wire.Value, rv.Len())
	for i := range items {
		v, err := m.ToWireValue(rv.Index(i))
		if err != nil {
			return wire.Null(), err
		}
		items[i] = v
	}
	return wire.Array(items), nil
}

func (m *Marshaler) mapToWire(rv reflect.Value) (wire.Value, error) {
	rec := wire.NewRecord("")
	keys := rv.MapKeys()
	sortStrings(keys)
	for _, k := range keys {
		v, err := m.ToWireValue(rv.MapIndex(k))
		if err != nil {
			return wire.Null(), err
		}
		rec.Set(k.String(), v)
	}
	return wire.RecordValue(rec), nil
}

// Serialize renders a struct value as a record, auto-registering its type.
// It reports false when the type is not eligible.
func (m *Marshaler) Serialize(rv reflect.Value) (*wire.Record, bool, error) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false, nil
		}
		rv = rv.Elem()
	}
	d, ok := m.Structs.Descriptor(rv.Type())
	if !ok {
		return nil, false, nil
	}
	if d.ser != nil {
		rec, err := d.ser(rv.Interface())
		if err != nil {
			return nil, true, errors.New(errors.PhaseMarshal, errors.KindInvalidData).
				GoType(d.WireName).Detail("custom serializer failed").Cause(err).Build()
		}
		if rec != nil && rec.Type == "" {
			rec.Type = d.WireName
		}
		return rec, true, nil
	}

	var addr reflect.Value
	rec := wire.NewRecord(d.WireName)
	for _, f := range d.fields {
		var fv reflect.Value
		if f.getter != "" {
			if !addr.IsValid() {
				addr = reflect.New(d.Type)
				addr.Elem().Set(rv)
			}
			fv = addr.MethodByName(f.getter).Call(nil)[0]
		} else {
			var err error
			if fv, err = rv.FieldByIndexErr(f.index); err != nil {
				continue
			}
		}
		wv, err := m.ToWireValue(fv)
		if err != nil {
			return nil, true, errors.New(errors.PhaseMarshal, errors.KindInvalidData).
				Path(d.WireName, f.name).Cause(err).Build()
		}
		rec.Set(f.name, wv)
	}
	return rec, true, nil
}

// Deserialize builds a value of struct type t from rec. Missing fields keep
// their zero value and unknown keys are ignored.
func (m *Marshaler) Deserialize(rec *wire.Record, t reflect.Type) (reflect.Value, error) {
	d, ok := m.Structs.Descriptor(t)
	if !ok {
		return reflect.Value{}, errors.New(errors.PhaseConvert, errors.KindInvalidData).
			GoType(t.String()).Detail("type cannot be built from a record").Build()
	}
	if d.de != nil {
		v, err := d.de(rec)
		if err != nil {
			return reflect.Value{}, errors.New(errors.PhaseConvert, errors.KindInvalidData).
				GoType(d.WireName).Detail("custom deserializer failed").Cause(err).Build()
		}
		rv := reflect.ValueOf(v)
		if !rv.IsValid() || rv.Type() != t {
			return reflect.Value{}, errors.New(errors.PhaseConvert, errors.KindInvalidData).
				GoType(d.WireName).Detail("custom deserializer returned %T", v).Build()
		}
		return rv, nil
	}

	ptr := reflect.New(t)
	out := ptr.Elem()
	for _, f := range d.fields {
		wv, ok := rec.Get(f.name)
		if !ok {
			continue
		}
		fv, err := m.convert(wv, f.typ)
		if err != nil {
			return reflect.Value{}, errors.New(errors.PhaseConvert, errors.KindInvalidData).
				Path(d.WireName, f.name).Cause(err).Build()
		}
		if f.setter != "" {
			ptr.MethodByName(f.setter).Call([]reflect.Value{fv})
			continue
		}
		dst, err := out.FieldByIndexErr(f.index)
		if err != nil {
			continue
		}
		dst.Set(fv)
	}
	return out, nil
}

func (m *Marshaler) convert(v wire.Value, t reflect.Type) (reflect.Value, error) {
	if m.Convert != nil {
		rv, err := m.Convert(v, t)
		if err != nil {
			return reflect.Value{}, err
		}
		if rv.IsValid() && rv.Type().AssignableTo(t) {
			if rv.Type() != t {
				conv := reflect.New(t).Elem()
				conv.Set(rv)
				return conv, nil
			}
			return rv, nil
		}
		if rv.IsValid() && rv.Type().ConvertibleTo(t) {
			return rv.Convert(t), nil
		}
	}
	return m.FromWire(v, t)
}
