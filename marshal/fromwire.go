package marshal

import (
	"reflect"
	"slices"
	"strings"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

var (
	wireValueType = reflect.TypeFor[wire.Value]()
	recordPtrType = reflect.TypeFor[*wire.Record]()
)

// FromWire converts v to t using only natural conversions: matching kinds,
// handle resolution, records into structs and maps, arrays into slices. It
// does not coerce across kinds; the conversion engine layers that on top.
func (m *Marshaler) FromWire(v wire.Value, t reflect.Type) (reflect.Value, error) {
	switch t {
	case wireValueType:
		return reflect.ValueOf(v), nil
	case recordPtrType:
		if v.Kind() == wire.KindRecord {
			return reflect.ValueOf(v.Record()), nil
		}
	}

	if v.IsNull() {
		return reflect.Zero(t), nil
	}
	if v.Kind() == wire.KindObjectHandle {
		return m.fromHandle(v, t)
	}

	switch t.Kind() {
	case reflect.Interface:
		nat := m.Natural(v)
		if nat == nil {
			return reflect.Zero(t), nil
		}
		rv := reflect.ValueOf(nat)
		if rv.Type().Implements(t) {
			out := reflect.New(t).Elem()
			out.Set(rv)
			return out, nil
		}
	case reflect.Bool:
		if v.Kind() == wire.KindBool {
			return reflect.ValueOf(v.Bool()).Convert(t), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.IsNumber() {
			out := reflect.New(t).Elem()
			if v.Kind() == wire.KindFloat32 || v.Kind() == wire.KindFloat64 {
				f := v.Float()
				if f != float64(int64(f)) {
					break
				}
			}
			if out.OverflowInt(v.Int()) {
				break
			}
			out.SetInt(v.Int())
			return out, nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.IsNumber() && v.Float() >= 0 {
			out := reflect.New(t).Elem()
			if out.OverflowUint(uint64(v.Int())) {
				break
			}
			out.SetUint(uint64(v.Int()))
			return out, nil
		}
	case reflect.Float32, reflect.Float64:
		if v.IsNumber() {
			out := reflect.New(t).Elem()
			out.SetFloat(v.Float())
			return out, nil
		}
	case reflect.String:
		if v.Kind() == wire.KindString {
			return reflect.ValueOf(v.Str()).Convert(t), nil
		}
	case reflect.Struct:
		return m.structFromWire(v, t)
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct {
			sv, err := m.structFromWire(v, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			ptr := reflect.New(t.Elem())
			ptr.Elem().Set(sv)
			return ptr, nil
		}
	case reflect.Slice:
		if v.Kind() == wire.KindString && t.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf([]byte(v.Str())).Convert(t), nil
		}
		if v.Kind() == wire.KindArray {
			items := v.Items()
			out := reflect.MakeSlice(t, len(items), len(items))
			for i, item := range items {
				ev, err := m.convert(item, t.Elem())
				if err != nil {
					return reflect.Value{}, elemError(t, i, err)
				}
				out.Index(i).Set(ev)
			}
			return out, nil
		}
	case reflect.Array:
		return m.arrayFromWire(v, t)
	case reflect.Map:
		if v.Kind() == wire.KindRecord && t.Key().Kind() == reflect.String {
			out := reflect.MakeMapWithSize(t, v.Record().Len())
			var err error
			v.Record().Each(func(name string, fv wire.Value) bool {
				var ev reflect.Value
				if ev, err = m.convert(fv, t.Elem()); err != nil {
					err = errors.New(errors.PhaseConvert, errors.KindInvalidData).
						Path(name).GoType(t.String()).Cause(err).Build()
					return false
				}
				out.SetMapIndex(reflect.ValueOf(name).Convert(t.Key()), ev)
				return true
			})
			if err != nil {
				return reflect.Value{}, err
			}
			return out, nil
		}
	}
	return reflect.Value{}, mismatch(v, t)
}

// Natural renders v as the Go value a dynamically typed receiver would
// expect. Object handles resolve to their objects; dead handles become nil.
func (m *Marshaler) Natural(v wire.Value) any {
	switch v.Kind() {
	case wire.KindObjectHandle:
		if m.Handles == nil {
			return nil
		}
		obj, ok := m.Handles.Resolve(handle.Handle(v.Handle()))
		if !ok {
			return nil
		}
		return obj
	case wire.KindArray:
		items := v.Items()
		out := make([]any, len(items))
		for i := range items {
			out[i] = m.Natural(items[i])
		}
		return out
	case wire.KindRecord:
		out := make(map[string]any, v.Record().Len())
		v.Record().Each(func(name string, fv wire.Value) bool {
			out[name] = m.Natural(fv)
			return true
		})
		return out
	}
	return v.Interface()
}

func (m *Marshaler) fromHandle(v wire.Value, t reflect.Type) (reflect.Value, error) {
	obj := m.Natural(v)
	if obj == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(obj)
	switch {
	case rv.Type() == t:
		return rv, nil
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	case rv.Kind() == reflect.Pointer && rv.Elem().Type() == t:
		// A struct parameter receives a copy of the referenced object.
		return rv.Elem(), nil
	}
	return reflect.Value{}, mismatch(v, t)
}

func (m *Marshaler) structFromWire(v wire.Value, t reflect.Type) (reflect.Value, error) {
	if idx, ok := NullableField(t); ok {
		inner, err := m.convert(v, t.Field(idx).Type)
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		out.Field(idx).Set(inner)
		out.FieldByName("Valid").SetBool(true)
		return out, nil
	}
	switch v.Kind() {
	case wire.KindVector3, wire.KindVector4:
		if out, ok := vectorInto(v, t); ok {
			return out, nil
		}
	case wire.KindRecord:
		if out, ok := vectorInto(v, t); ok && v.Record().Type == "" {
			return out, nil
		}
		return m.Deserialize(v.Record(), t)
	}
	return reflect.Value{}, mismatch(v, t)
}

func (m *Marshaler) arrayFromWire(v wire.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch v.Kind() {
	case wire.KindVector3, wire.KindVector4:
		comps := v.Vec()
		n := 3
		if v.Kind() == wire.KindVector4 {
			n = 4
		}
		if t.Len() != n || !isFloat(t.Elem()) {
			break
		}
		for i := 0; i < n; i++ {
			out.Index(i).SetFloat(float64(comps[i]))
		}
		return out, nil
	case wire.KindArray:
		items := v.Items()
		if len(items) != t.Len() {
			break
		}
		for i, item := range items {
			ev, err := m.convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, elemError(t, i, err)
			}
			out.Index(i).Set(ev)
		}
		return out, nil
	}
	return reflect.Value{}, mismatch(v, t)
}

// vectorShape reports the component fields of a vector-shaped struct:
// exactly X,Y,Z or X,Y,Z,W or R,G,B,A float fields, in any order.
func vectorShape(t reflect.Type) (idx [4]int, n int, color bool) {
	if t.Kind() != reflect.Struct || t.NumField() < 3 || t.NumField() > 4 {
		return idx, 0, false
	}
	names := "XYZW"
	if t.NumField() == 4 {
		if _, ok := t.FieldByName("R"); ok {
			names, color = "RGBA", true
		}
	}
	names = names[:t.NumField()]
	for i := 0; i < len(names); i++ {
		f, ok := t.FieldByName(names[i : i+1])
		if !ok || len(f.Index) != 1 || !isFloat(f.Type) {
			return idx, 0, false
		}
		idx[i] = f.Index[0]
	}
	return idx, len(names), color
}

func vectorFrom(rv reflect.Value) (wire.Value, bool) {
	idx, n, color := vectorShape(rv.Type())
	if n == 0 {
		return wire.Value{}, false
	}
	var c [4]float32
	for i := 0; i < n; i++ {
		c[i] = float32(rv.Field(idx[i]).Float())
	}
	if n == 3 {
		return wire.Vector3(c[0], c[1], c[2]), true
	}
	hint := ""
	if color {
		hint = wire.HintColor
	}
	return wire.Vector4(c[0], c[1], c[2], c[3], hint), true
}

func vectorInto(v wire.Value, t reflect.Type) (reflect.Value, bool) {
	idx, n, color := vectorShape(t)
	if n == 0 {
		return reflect.Value{}, false
	}
	var comps [4]float32
	switch v.Kind() {
	case wire.KindVector3:
		if n != 3 {
			return reflect.Value{}, false
		}
		comps = v.Vec()
	case wire.KindVector4:
		if n != 4 {
			return reflect.Value{}, false
		}
		comps = v.Vec()
	case wire.KindRecord:
		names := "xyzw"
		if color {
			names = "rgba"
		}
		rec := v.Record()
		for i := 0; i < n; i++ {
			fv, ok := rec.Get(names[i : i+1])
			if !ok || !fv.IsNumber() {
				return reflect.Value{}, false
			}
			comps[i] = float32(fv.Float())
		}
		if rec.Len() != n {
			return reflect.Value{}, false
		}
	default:
		return reflect.Value{}, false
	}
	out := reflect.New(t).Elem()
	for i := 0; i < n; i++ {
		out.Field(idx[i]).SetFloat(float64(comps[i]))
	}
	return out, true
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}

func sortStrings(keys []reflect.Value) {
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(a.String(), b.String())
	})
}

func mismatch(v wire.Value, t reflect.Type) error {
	return errors.New(errors.PhaseConvert, errors.KindInvalidData).
		GoType(t.String()).Detail("cannot convert %s", v.Kind()).Build()
}

func elemError(t reflect.Type, i int, err error) error {
	return errors.New(errors.PhaseConvert, errors.KindInvalidData).
		GoType(t.String()).Detail("element %d", i).Cause(err).Build()
}
