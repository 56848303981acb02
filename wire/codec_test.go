package wire

import (
	"testing"
)

func TestAppendJSON(t *testing.T) {
	nested := NewRecord("scene.Vec")
	nested.Set("x", Float64(1.5))

	rec := NewRecord("scene.Transform")
	rec.Set("name", String("root"))
	rec.Set("scale", Float64(2))
	rec.Set("offset", RecordValue(nested))

	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"null", Null(), "null"},
		{"bool", Bool(true), "true"},
		{"int", Int32(-12), "-12"},
		{"int64", Int64(1 << 40), "1099511627776"},
		{"float trailing zeros", Float64(2.50), "2.5"},
		{"float32", Float32(0.1), "0.1"},
		{"small float", Float64(0.000001), "0.000001"},
		{"string escapes", String("a\"b\n\x01"), `"a\"b\n\u0001"`},
		{"handle", ObjectHandle(3, "scene.Node"), `{"__handle":3,"__type":"scene.Node"}`},
		{"handle without hint", ObjectHandle(3, ""), `{"__handle":3}`},
		{"async", AsyncHandle(7), `{"__async":7}`},
		{"callback", Callback(2), `{"__callback":2}`},
		{"vector3", Vector3(1, 2.5, 0), `{"x":1,"y":2.5,"z":0}`},
		{"color", Vector4(1, 0, 0, 1, HintColor), `{"r":1,"g":0,"b":0,"a":1}`},
		{"array", Array([]Value{Int32(1), String("x")}), `[1,"x"]`},
		{"record", RecordValue(rec), `{"__type":"scene.Transform","name":"root","scale":2,"offset":{"__type":"scene.Vec","x":1.5}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(AppendJSON(nil, tt.in)); got != tt.want {
				t.Errorf("AppendJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Value
	}{
		{"null", "null", Null()},
		{"bool", "false", Bool(false)},
		{"small int", "42", Int32(42)},
		{"large int", "4294967296", Int64(4294967296)},
		{"float", "1.25", Float64(1.25)},
		{"string", `"a\nb"`, String("a\nb")},
		{"handle", `{"__handle":5,"__type":"scene.Node"}`, ObjectHandle(5, "scene.Node")},
		{"async", `{"__async":3}`, AsyncHandle(3)},
		{"callback", `{"__callback":1}`, Callback(1)},
		{"vector3", `{"x":1,"y":2,"z":3}`, Vector3(1, 2, 3)},
		{"vector4", `{"x":1,"y":2,"z":3,"w":4}`, Vector4(1, 2, 3, 4, "")},
		{"color without alpha", `{"r":1,"g":0.5,"b":0}`, Vector4(1, 0.5, 0, 1, HintColor)},
		{"array", `[1,"a",null]`, Array([]Value{Int32(1), String("a"), Null()})},
		{"empty array", `[]`, Array([]Value{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeValue() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("DecodeValue() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeValue_Record(t *testing.T) {
	got, err := DecodeValue([]byte(`{"__type":"scene.Transform","name":"root","pos":{"x":1,"y":2,"z":3},"tags":["a"]}`))
	if err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if got.Kind() != KindRecord {
		t.Fatalf("Kind() = %s, want record", got.Kind())
	}
	rec := got.Record()
	if rec.Type != "scene.Transform" {
		t.Errorf("Type = %q", rec.Type)
	}
	keys := rec.Keys()
	if len(keys) != 3 || keys[0] != "name" || keys[1] != "pos" || keys[2] != "tags" {
		t.Errorf("Keys() = %v", keys)
	}
	pos, _ := rec.Get("pos")
	if pos.Kind() != KindVector3 {
		t.Errorf("pos kind = %s, want vector3", pos.Kind())
	}
}

func TestDecodeValue_TaggedVectorStaysRecord(t *testing.T) {
	got, err := DecodeValue([]byte(`{"__type":"scene.Vec","x":1,"y":2,"z":3}`))
	if err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if got.Kind() != KindRecord {
		t.Fatalf("Kind() = %s, want record", got.Kind())
	}
}

func TestDecodeValue_Invalid(t *testing.T) {
	for _, in := range []string{"", "{", `[1,`, `{"a":}`} {
		if _, err := DecodeValue([]byte(in)); err == nil {
			t.Errorf("DecodeValue(%q) expected error", in)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	rec := NewRecord("scene.Transform")
	rec.Set("name", String("child"))
	rec.Set("depth", Int32(3))
	rec.Set("weight", Float64(0.75))
	rec.Set("items", Array([]Value{Bool(true), ObjectHandle(2, "scene.Node")}))

	in := RecordValue(rec)
	out, err := DecodeValue(AppendJSON(nil, in))
	if err != nil {
		t.Fatalf("DecodeValue() error = %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("round trip = %s, want %s", out, in)
	}
}
