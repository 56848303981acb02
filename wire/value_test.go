package wire

import (
	"math"
	"testing"
)

func TestNumber(t *testing.T) {
	tests := []struct {
		in   float64
		kind Kind
	}{
		{0, KindInt32},
		{42, KindInt32},
		{-7, KindInt32},
		{math.MaxInt32, KindInt32},
		{math.MaxInt32 + 1, KindFloat64},
		{1.5, KindFloat64},
		{math.Copysign(0, -1), KindFloat64},
	}

	for _, tt := range tests {
		if got := Number(tt.in).Kind(); got != tt.kind {
			t.Errorf("Number(%v).Kind() = %s, want %s", tt.in, got, tt.kind)
		}
	}
}

func TestValue_Getters(t *testing.T) {
	if !Bool(true).Bool() || Bool(false).Bool() {
		t.Fatal("Bool round trip failed")
	}
	if Int32(-5).Int() != -5 {
		t.Fatalf("Int32(-5).Int() = %d", Int32(-5).Int())
	}
	if Int64(1<<40).Int() != 1<<40 {
		t.Fatal("Int64 round trip failed")
	}
	if Float32(1.5).Float() != 1.5 {
		t.Fatalf("Float32(1.5).Float() = %v", Float32(1.5).Float())
	}
	if Int32(3).Float() != 3 {
		t.Fatal("Int32 should widen to float")
	}
	if String("hi").Str() != "hi" || Int32(1).Str() != "" {
		t.Fatal("Str mismatch")
	}

	h := ObjectHandle(9, "scene.Transform")
	if h.Handle() != 9 || h.TypeHint() != "scene.Transform" {
		t.Fatalf("handle payload = %d %q", h.Handle(), h.TypeHint())
	}
	if AsyncHandle(4).AsyncID() != 4 || Callback(2).CallbackSlot() != 2 {
		t.Fatal("reference payload mismatch")
	}
	if Int32(9).Handle() != 0 {
		t.Fatal("non-handle kinds must report handle 0")
	}

	v := Vector4(1, 2, 3, 4, HintColor)
	if v.Vec() != [4]float32{1, 2, 3, 4} || v.TypeHint() != HintColor {
		t.Fatalf("vector payload = %v %q", v.Vec(), v.TypeHint())
	}
}

func TestValue_Equal(t *testing.T) {
	a := NewRecord("T")
	a.Set("x", Int32(1))
	b := NewRecord("T")
	b.Set("x", Int32(1))

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null", Null(), Null(), true},
		{"kind mismatch", Int32(1), Int64(1), false},
		{"strings", String("a"), String("a"), true},
		{"arrays", Array([]Value{Int32(1)}), Array([]Value{Int32(1)}), true},
		{"array length", Array([]Value{Int32(1)}), Array(nil), false},
		{"records", RecordValue(a), RecordValue(b), true},
		{"vectors", Vector3(1, 2, 3), Vector3(1, 2, 3), true},
		{"hints", ObjectHandle(1, "A"), ObjectHandle(1, "B"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_Interface(t *testing.T) {
	rec := NewRecord("T")
	rec.Set("n", Int32(1))
	rec.Set("list", Array([]Value{String("a"), Bool(true)}))

	got, ok := RecordValue(rec).Interface().(map[string]any)
	if !ok {
		t.Fatalf("record rendered as %T", RecordValue(rec).Interface())
	}
	if got["n"] != int32(1) {
		t.Errorf("n = %v", got["n"])
	}
	list, ok := got["list"].([]any)
	if !ok || len(list) != 2 || list[0] != "a" || list[1] != true {
		t.Errorf("list = %v", got["list"])
	}
	if Null().Interface() != nil {
		t.Error("null should render as nil")
	}
}

func TestValue_NoAlloc(t *testing.T) {
	var sink Value
	allocs := testing.AllocsPerRun(100, func() {
		sink = Int32(3)
		sink = Float64(sink.Float() + 1)
		sink = Vector3(1, 2, 3)
		sink = ObjectHandle(1, "T")
	})
	_ = sink
	if allocs != 0 {
		t.Fatalf("scalar values allocated %v times", allocs)
	}
}

func TestRecord_Order(t *testing.T) {
	r := NewRecord("T")
	r.Set("b", Int32(1))
	r.Set("a", Int32(2))
	r.Set("b", Int32(3))

	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "a" {
		t.Fatalf("Keys() = %v, want [b a]", keys)
	}
	if v, _ := r.Get("b"); v.Int() != 3 {
		t.Fatalf("b = %d, want 3", v.Int())
	}

	r.Delete("b")
	if _, ok := r.Get("b"); ok {
		t.Fatal("deleted field still present")
	}
}
