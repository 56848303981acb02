package marshal

import (
	"database/sql"
	"reflect"
	"strings"
	"testing"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

type Vec3 struct {
	X, Y, Z float32
}

type RGBA struct {
	R, G, B, A float64
}

type Meta struct {
	Created int64
}

type Transform struct {
	Meta
	Position Vec3
	Scale    float64
	Tags     []string
	Note     string `json:"memo"`
	Secret   string `json:"-"`
	hidden   int
}

type Counter struct {
	n int
}

func (c *Counter) Count() int     { return c.n }
func (c *Counter) SetCount(n int) { c.n = n }

type Money struct {
	Cents int64
}

type Opaque struct {
	value int
}

func newMarshaler() *Marshaler {
	types := reflection.NewRegistry()
	return New(NewRegistry(types), handle.NewWithDefaults(), types)
}

func TestSerialize_FieldOrder(t *testing.T) {
	m := newMarshaler()
	tr := Transform{Meta: Meta{Created: 7}, Position: Vec3{1, 2, 3}, Scale: 1.5, Note: "n", Secret: "s", hidden: 9}

	rec, ok, err := m.Serialize(reflect.ValueOf(tr))
	if err != nil || !ok {
		t.Fatalf("Serialize failed: ok=%v err=%v", ok, err)
	}

	want := []string{"created", "position", "scale", "tags", "memo"}
	if got := rec.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Expected keys %v, got %v", want, got)
	}

	data, _ := rec.MarshalJSON()
	const wantJSON = `{"__type":"marshal.Transform","created":7,"position":{"x":1,"y":2,"z":3},"scale":1.5,"tags":null,"memo":"n"}`
	if string(data) != wantJSON {
		t.Fatalf("Expected %s, got %s", wantJSON, data)
	}
}

func TestSerialize_RegisteredName(t *testing.T) {
	types := reflection.NewRegistry()
	if _, err := types.Module("scene").Add(reflect.TypeFor[Transform]()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	m := New(NewRegistry(types), handle.NewWithDefaults(), types)

	rec, _, err := m.Serialize(reflect.ValueOf(Transform{}))
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	if rec.Type != "scene.Transform" {
		t.Fatalf("Expected scene.Transform, got %q", rec.Type)
	}
}

func TestStruct_RoundTrip(t *testing.T) {
	m := newMarshaler()
	in := Transform{Meta: Meta{Created: 42}, Position: Vec3{1, -2, 0.5}, Scale: 3, Tags: []string{"a", "b"}, Note: "hi"}

	v, err := m.ToWire(in)
	if err != nil {
		t.Fatalf("ToWire failed: %v", err)
	}
	if v.Kind() != wire.KindRecord {
		t.Fatalf("Expected record, got %s", v.Kind())
	}

	out, err := m.Deserialize(v.Record(), reflect.TypeFor[Transform]())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if got := out.Interface().(Transform); !reflect.DeepEqual(got, in) {
		t.Fatalf("Expected %+v, got %+v", in, got)
	}
}

func TestDeserialize_Partial(t *testing.T) {
	m := newMarshaler()
	rec := wire.NewRecord("")
	rec.Set("scale", wire.Int32(2))
	rec.Set("unknown", wire.String("ignored"))

	out, err := m.Deserialize(rec, reflect.TypeFor[Transform]())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	got := out.Interface().(Transform)
	if got.Scale != 2 {
		t.Fatalf("Expected scale 2, got %v", got.Scale)
	}
	if got.Position != (Vec3{}) || got.Note != "" || got.Tags != nil {
		t.Fatalf("Expected zero values for missing fields, got %+v", got)
	}
}

func TestDeserialize_BadField(t *testing.T) {
	m := newMarshaler()
	rec := wire.NewRecord("")
	rec.Set("scale", wire.String("big"))

	_, err := m.Deserialize(rec, reflect.TypeFor[Transform]())
	if err == nil {
		t.Fatal("Expected error")
	}
	if !strings.Contains(err.Error(), "scale") {
		t.Fatalf("Expected field path in error, got %v", err)
	}
}

func TestProperties(t *testing.T) {
	m := newMarshaler()
	c := Counter{n: 5}

	rec, ok, err := m.Serialize(reflect.ValueOf(c))
	if err != nil || !ok {
		t.Fatalf("Serialize failed: ok=%v err=%v", ok, err)
	}
	v, _ := rec.Get("count")
	if v.Int() != 5 {
		t.Fatalf("Expected count 5, got %v", v)
	}

	rec.Set("count", wire.Int32(9))
	out, err := m.Deserialize(rec, reflect.TypeFor[Counter]())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if got := out.Interface().(Counter); got.n != 9 {
		t.Fatalf("Expected 9, got %d", got.n)
	}
}

func TestCustomPair(t *testing.T) {
	m := newMarshaler()
	ser := func(v any) (*wire.Record, error) {
		rec := wire.NewRecord("")
		rec.Set("amount", wire.Float64(float64(v.(Money).Cents)/100))
		return rec, nil
	}
	de := func(rec *wire.Record) (any, error) {
		v, _ := rec.Get("amount")
		return Money{Cents: int64(v.Float()*100 + 0.5)}, nil
	}
	if err := m.Structs.Register(reflect.TypeFor[Money](), ser, de); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	v, err := m.ToWire(Money{Cents: 1250})
	if err != nil {
		t.Fatalf("ToWire failed: %v", err)
	}
	if got := v.String(); got != `{"__type":"marshal.Money","amount":12.5}` {
		t.Fatalf("Unexpected record %s", got)
	}

	out, err := m.Deserialize(v.Record(), reflect.TypeFor[Money]())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if out.Interface().(Money).Cents != 1250 {
		t.Fatalf("Expected 1250, got %v", out.Interface())
	}
}

func TestRegister_Once(t *testing.T) {
	reg := NewRegistry(nil)
	ser := func(any) (*wire.Record, error) { return wire.NewRecord(""), nil }
	de := func(*wire.Record) (any, error) { return Money{}, nil }

	if err := reg.Register(reflect.TypeFor[Money](), ser, de); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := reg.Register(reflect.TypeFor[Money](), ser, de)
	if err == nil {
		t.Fatal("Expected error on second registration")
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindRegistration {
		t.Fatalf("Expected registration error, got %v", err)
	}

	if _, ok := reg.Descriptor(reflect.TypeFor[Transform]()); !ok {
		t.Fatal("Expected auto-registration")
	}
	if err := reg.Register(reflect.TypeFor[Transform](), ser, de); err == nil {
		t.Fatal("Expected error registering over an auto-registered type")
	}
}

func TestRegister_Generic(t *testing.T) {
	reg := NewRegistry(nil)
	typ := reflect.TypeFor[Transform]()

	if err := reg.Register(typ, nil, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	d, ok := reg.Descriptor(typ)
	if !ok || d.Custom() || len(d.Fields()) == 0 {
		t.Fatalf("Expected a generic descriptor, got %+v", d)
	}
	if err := reg.Register(typ, nil, nil); err == nil {
		t.Fatal("Expected error on second registration")
	}

	ser := func(any) (*wire.Record, error) { return wire.NewRecord(""), nil }
	if err := reg.Register(reflect.TypeFor[Money](), ser, nil); err == nil {
		t.Fatal("Expected error for a half serializer pair")
	}
	if err := reg.Register(reflect.TypeFor[struct{ A int }](), nil, nil); err == nil {
		t.Fatal("Expected error for an anonymous struct")
	}
}

func TestAutoRegister_Idempotent(t *testing.T) {
	reg := NewRegistry(nil)
	d1, ok1 := reg.Descriptor(reflect.TypeFor[Transform]())
	d2, ok2 := reg.Descriptor(reflect.TypeFor[Transform]())
	if !ok1 || !ok2 {
		t.Fatal("Expected descriptors")
	}
	if d1 != d2 {
		t.Fatal("Expected the same descriptor")
	}
	if reg.Len() != 1 {
		t.Fatalf("Expected Len() == 1, got %d", reg.Len())
	}
	if d, ok := reg.Named("marshal.Transform"); !ok || d != d1 {
		t.Fatal("Expected lookup by wire name")
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want bool
	}{
		{"named struct", reflect.TypeFor[Transform](), true},
		{"property pair", reflect.TypeFor[Counter](), true},
		{"no exported members", reflect.TypeFor[Opaque](), false},
		{"anonymous", reflect.TypeFor[struct{ A int }](), false},
		{"nullable", reflect.TypeFor[sql.NullString](), false},
		{"pointer", reflect.TypeFor[*Transform](), false},
		{"scalar", reflect.TypeFor[int](), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.typ); got != tt.want {
				t.Fatalf("Eligible(%v) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestNullable(t *testing.T) {
	m := newMarshaler()

	v, err := m.ToWire(sql.NullInt64{Int64: 5, Valid: true})
	if err != nil {
		t.Fatalf("ToWire failed: %v", err)
	}
	if v.Kind() != wire.KindInt32 || v.Int() != 5 {
		t.Fatalf("Expected Int32(5), got %v", v)
	}

	v, _ = m.ToWire(sql.NullInt64{})
	if !v.IsNull() {
		t.Fatalf("Expected null, got %v", v)
	}

	out, err := m.FromWire(wire.Int32(8), reflect.TypeFor[sql.NullInt64]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().(sql.NullInt64); !got.Valid || got.Int64 != 8 {
		t.Fatalf("Expected valid 8, got %+v", got)
	}

	out, _ = m.FromWire(wire.Null(), reflect.TypeFor[sql.NullInt64]())
	if out.Interface().(sql.NullInt64).Valid {
		t.Fatal("Expected invalid for null")
	}
}

func TestVectors(t *testing.T) {
	m := newMarshaler()

	v, _ := m.ToWire(Vec3{1, 2, 3})
	if v.Kind() != wire.KindVector3 {
		t.Fatalf("Expected vector3, got %s", v.Kind())
	}
	c, _ := m.ToWire(RGBA{1, 0.5, 0, 1})
	if c.Kind() != wire.KindVector4 || c.TypeHint() != wire.HintColor {
		t.Fatalf("Expected color vector, got %s %q", c.Kind(), c.TypeHint())
	}

	out, err := m.FromWire(wire.Vector3(4, 5, 6), reflect.TypeFor[Vec3]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().(Vec3); got != (Vec3{4, 5, 6}) {
		t.Fatalf("Expected {4 5 6}, got %v", got)
	}

	rec := wire.NewRecord("")
	rec.Set("x", wire.Int32(1))
	rec.Set("y", wire.Int32(2))
	rec.Set("z", wire.Int32(3))
	out, err = m.FromWire(wire.RecordValue(rec), reflect.TypeFor[*Vec3]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().(*Vec3); *got != (Vec3{1, 2, 3}) {
		t.Fatalf("Expected {1 2 3}, got %v", *got)
	}

	arr, err := m.FromWire(wire.Vector3(1, 2, 3), reflect.TypeFor[[3]float64]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := arr.Interface().([3]float64); got != [3]float64{1, 2, 3} {
		t.Fatalf("Expected [1 2 3], got %v", got)
	}
}

func TestToWire_Scalars(t *testing.T) {
	m := newMarshaler()

	tests := []struct {
		name string
		in   any
		want wire.Value
	}{
		{"nil", nil, wire.Null()},
		{"bool", true, wire.Bool(true)},
		{"int", 7, wire.Int32(7)},
		{"large int", int64(1) << 40, wire.Int64(1 << 40)},
		{"uint8", uint8(200), wire.Int32(200)},
		{"float32", float32(1.5), wire.Float32(1.5)},
		{"float64", 2.25, wire.Float64(2.25)},
		{"string", "s", wire.String("s")},
		{"nil slice", []int(nil), wire.Null()},
		{"nil pointer", (*Transform)(nil), wire.Null()},
		{"wire value", wire.Int64(3), wire.Int64(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ToWire(tt.in)
			if err != nil {
				t.Fatalf("ToWire failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestToWire_Collections(t *testing.T) {
	m := newMarshaler()

	v, err := m.ToWire(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("ToWire failed: %v", err)
	}
	if got := v.String(); got != `{"a":1,"b":2}` {
		t.Fatalf("Expected sorted untyped record, got %s", got)
	}

	v, _ = m.ToWire([]any{1, "x", nil})
	if got := v.String(); got != `[1,"x",null]` {
		t.Fatalf("Unexpected array %s", got)
	}
}

func TestHandles(t *testing.T) {
	m := newMarshaler()
	tr := &Transform{Scale: 2}

	v, err := m.ToWire(tr)
	if err != nil {
		t.Fatalf("ToWire failed: %v", err)
	}
	if v.Kind() != wire.KindObjectHandle {
		t.Fatalf("Expected object handle, got %s", v.Kind())
	}
	if v.TypeHint() != "marshal.Transform" {
		t.Fatalf("Expected type hint marshal.Transform, got %q", v.TypeHint())
	}

	again, _ := m.ToWire(tr)
	if again.Handle() != v.Handle() {
		t.Fatalf("Expected stable handle, got %d and %d", v.Handle(), again.Handle())
	}

	ptr, err := m.FromWire(v, reflect.TypeFor[*Transform]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if ptr.Interface().(*Transform) != tr {
		t.Fatal("Expected same pointer")
	}

	val, err := m.FromWire(v, reflect.TypeFor[Transform]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if val.Interface().(Transform).Scale != 2 {
		t.Fatal("Expected copy of referenced struct")
	}

	m.Handles.Release(handle.Handle(v.Handle()))
	dead, err := m.FromWire(v, reflect.TypeFor[*Transform]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if !dead.IsNil() {
		t.Fatal("Expected nil for released handle")
	}
}

func TestFromWire_Mismatch(t *testing.T) {
	m := newMarshaler()

	tests := []struct {
		name string
		in   wire.Value
		typ  reflect.Type
	}{
		{"string to int", wire.String("1"), reflect.TypeFor[int]()},
		{"fraction to int", wire.Float64(1.5), reflect.TypeFor[int]()},
		{"overflow", wire.Int32(300), reflect.TypeFor[int8]()},
		{"negative to uint", wire.Int32(-1), reflect.TypeFor[uint]()},
		{"number to string", wire.Int32(1), reflect.TypeFor[string]()},
		{"array length", wire.Array([]wire.Value{wire.Int32(1)}), reflect.TypeFor[[2]int]()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.FromWire(tt.in, tt.typ); err == nil {
				t.Fatalf("Expected error converting %v to %v", tt.in, tt.typ)
			}
		})
	}
}

func TestFromWire_Collections(t *testing.T) {
	m := newMarshaler()

	arr := wire.Array([]wire.Value{wire.Int32(1), wire.Int32(2)})
	out, err := m.FromWire(arr, reflect.TypeFor[[]int]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().([]int); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("Expected [1 2], got %v", got)
	}

	rec := wire.NewRecord("")
	rec.Set("a", wire.Float64(1.5))
	out, err = m.FromWire(wire.RecordValue(rec), reflect.TypeFor[map[string]float64]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().(map[string]float64); got["a"] != 1.5 {
		t.Fatalf("Expected a=1.5, got %v", got)
	}

	out, err = m.FromWire(arr, reflect.TypeFor[any]())
	if err != nil {
		t.Fatalf("FromWire failed: %v", err)
	}
	if got := out.Interface().([]any); len(got) != 2 || got[0] != int32(1) {
		t.Fatalf("Expected []any{1, 2}, got %v", got)
	}
}

func TestConvertHook(t *testing.T) {
	m := newMarshaler()
	m.Convert = func(v wire.Value, t reflect.Type) (reflect.Value, error) {
		if v.Kind() == wire.KindString && t.Kind() == reflect.Float64 {
			return reflect.ValueOf(float64(len(v.Str()))), nil
		}
		return m.FromWire(v, t)
	}

	rec := wire.NewRecord("")
	rec.Set("scale", wire.String("abcd"))
	out, err := m.Deserialize(rec, reflect.TypeFor[Transform]())
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if got := out.Interface().(Transform).Scale; got != 4 {
		t.Fatalf("Expected 4, got %v", got)
	}
}
