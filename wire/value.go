package wire

import (
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindString
	KindObjectHandle
	KindRecord
	KindArray
	KindAsyncHandle
	KindVector3
	KindVector4
	KindCallback
)

var kindNames = [...]string{
	KindNull:         "null",
	KindBool:         "bool",
	KindInt32:        "int32",
	KindInt64:        "int64",
	KindFloat32:      "float32",
	KindFloat64:      "float64",
	KindString:       "string",
	KindObjectHandle: "handle",
	KindRecord:       "record",
	KindArray:        "array",
	KindAsyncHandle:  "async",
	KindVector3:      "vector3",
	KindVector4:      "vector4",
	KindCallback:     "callback",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// HintColor marks a Vector4 carrying an RGBA color.
const HintColor = "color"

// Value is the tagged variant exchanged across the bridge.
//
// Scalars, handles and vectors are stored inline so that building and
// reading them never allocates. Records and arrays are held by reference.
type Value struct {
	rec  *Record
	arr  []Value
	str  string
	hint string
	num  uint64
	vec  [4]float32
	kind Kind
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Int32 returns a 32-bit integer value.
func Int32(i int32) Value { return Value{kind: KindInt32, num: uint64(int64(i))} }

// Int64 returns a 64-bit integer value.
func Int64(i int64) Value { return Value{kind: KindInt64, num: uint64(i)} }

// Float32 returns a single precision value.
func Float32(f float32) Value { return Value{kind: KindFloat32, num: math.Float64bits(float64(f))} }

// Float64 returns a double precision value.
func Float64(f float64) Value { return Value{kind: KindFloat64, num: math.Float64bits(f)} }

// Number returns Int32 when f is integral and fits in 32 bits, Float64 otherwise.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 && !(f == 0 && math.Signbit(f)) {
		return Int32(int32(f))
	}
	return Float64(f)
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// ObjectHandle returns a reference to a host object. typeHint names the host
// type and may be empty.
func ObjectHandle(h int32, typeHint string) Value {
	return Value{kind: KindObjectHandle, num: uint64(int64(h)), hint: typeHint}
}

// AsyncHandle returns a reference to a pending async operation.
func AsyncHandle(id int32) Value { return Value{kind: KindAsyncHandle, num: uint64(int64(id))} }

// Callback returns a reference to a script callback slot.
func Callback(slot int32) Value { return Value{kind: KindCallback, num: uint64(int64(slot))} }

// Vector3 returns a packed three component vector.
func Vector3(x, y, z float32) Value {
	return Value{kind: KindVector3, vec: [4]float32{x, y, z, 0}}
}

// Vector4 returns a packed four component vector with an optional hint.
func Vector4(x, y, z, w float32, hint string) Value {
	return Value{kind: KindVector4, vec: [4]float32{x, y, z, w}, hint: hint}
}

// RecordValue wraps a struct record. A nil record yields Null.
func RecordValue(r *Record) Value {
	if r == nil {
		return Value{}
	}
	return Value{kind: KindRecord, rec: r}
}

// Array returns an array value. The slice is not copied.
func Array(items []Value) Value { return Value{kind: KindArray, arr: items} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether v holds one of the numeric kinds.
func (v Value) IsNumber() bool {
	switch v.kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return true
	}
	return false
}

// Bool returns the boolean payload. Numbers report non-zero.
func (v Value) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.num != 0
	case KindInt32, KindInt64:
		return v.num != 0
	case KindFloat32, KindFloat64:
		return v.Float() != 0
	}
	return false
}

// Int returns the payload as an int64, truncating floats.
func (v Value) Int() int64 {
	switch v.kind {
	case KindBool, KindInt32, KindInt64, KindObjectHandle, KindAsyncHandle, KindCallback:
		return int64(v.num)
	case KindFloat32, KindFloat64:
		return int64(math.Float64frombits(v.num))
	}
	return 0
}

// Float returns the payload as a float64.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat32, KindFloat64:
		return math.Float64frombits(v.num)
	case KindBool, KindInt32, KindInt64:
		return float64(int64(v.num))
	}
	return 0
}

// Str returns the string payload, or "" for other kinds.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.str
	}
	return ""
}

// Handle returns the object handle id, or 0 when v is not an object handle.
func (v Value) Handle() int32 {
	if v.kind == KindObjectHandle {
		return int32(v.num)
	}
	return 0
}

// AsyncID returns the async operation id.
func (v Value) AsyncID() int32 {
	if v.kind == KindAsyncHandle {
		return int32(v.num)
	}
	return 0
}

// CallbackSlot returns the script callback slot.
func (v Value) CallbackSlot() int32 {
	if v.kind == KindCallback {
		return int32(v.num)
	}
	return 0
}

// TypeHint returns the host type name of an object handle or the hint of a vector.
func (v Value) TypeHint() string { return v.hint }

// Vec returns the vector components. Vector3 values report w = 0.
func (v Value) Vec() [4]float32 { return v.vec }

// Record returns the record payload.
func (v Value) Record() *Record { return v.rec }

// Items returns the array payload.
func (v Value) Items() []Value { return v.arr }

// Interface returns the natural Go rendering of v: nil, bool, int32, int64,
// float32, float64, string, map[string]any for records, []any for arrays and
// [N]float32 for vectors. Handles render as their id.
func (v Value) Interface() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.num != 0
	case KindInt32:
		return int32(v.num)
	case KindInt64:
		return int64(v.num)
	case KindFloat32:
		return float32(math.Float64frombits(v.num))
	case KindFloat64:
		return math.Float64frombits(v.num)
	case KindString:
		return v.str
	case KindObjectHandle, KindAsyncHandle, KindCallback:
		return int32(v.num)
	case KindVector3:
		return [3]float32{v.vec[0], v.vec[1], v.vec[2]}
	case KindVector4:
		return v.vec
	case KindArray:
		out := make([]any, len(v.arr))
		for i := range v.arr {
			out[i] = v.arr[i].Interface()
		}
		return out
	case KindRecord:
		out := make(map[string]any, v.rec.Len())
		v.rec.Each(func(name string, fv Value) bool {
			out[name] = fv.Interface()
			return true
		})
		return out
	}
	return nil
}

// Equal reports deep equality of two values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindObjectHandle, KindVector4:
		return v.num == o.num && v.vec == o.vec && v.hint == o.hint
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindRecord:
		return v.rec.Equal(o.rec)
	}
	return v.num == o.num && v.vec == o.vec
}

// String renders v as its JSON wire text.
func (v Value) String() string {
	return string(AppendJSON(nil, v))
}
