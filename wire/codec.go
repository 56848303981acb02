package wire

import (
	"bytes"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/buger/jsonparser"

	"github.com/wippyai/script-bridge/errors"
)

// Reserved object keys of the JSON wire format.
const (
	HandleKey   = "__handle"
	AsyncKey    = "__async"
	CallbackKey = "__callback"
)

// MarshalJSON renders v in the JSON wire format.
func (v Value) MarshalJSON() ([]byte, error) {
	return AppendJSON(nil, v), nil
}

// AppendJSON appends the JSON wire encoding of v to dst.
//
// Numbers use the shortest decimal form that round-trips, independent of
// locale and without trailing zeros. Non-finite floats encode as null.
func AppendJSON(dst []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindBool:
		return strconv.AppendBool(dst, v.num != 0)
	case KindInt32, KindInt64:
		return strconv.AppendInt(dst, int64(v.num), 10)
	case KindFloat32:
		return appendFloat(dst, math.Float64frombits(v.num), 32)
	case KindFloat64:
		return appendFloat(dst, math.Float64frombits(v.num), 64)
	case KindString:
		return AppendString(dst, v.str)
	case KindObjectHandle:
		dst = append(dst, `{"`+HandleKey+`":`...)
		dst = strconv.AppendInt(dst, int64(v.num), 10)
		if v.hint != "" {
			dst = append(dst, `,"`+TypeKey+`":`...)
			dst = AppendString(dst, v.hint)
		}
		return append(dst, '}')
	case KindAsyncHandle:
		dst = append(dst, `{"`+AsyncKey+`":`...)
		dst = strconv.AppendInt(dst, int64(v.num), 10)
		return append(dst, '}')
	case KindCallback:
		dst = append(dst, `{"`+CallbackKey+`":`...)
		dst = strconv.AppendInt(dst, int64(v.num), 10)
		return append(dst, '}')
	case KindVector3:
		return appendVector(dst, v.vec[:3], "xyz")
	case KindVector4:
		if v.hint == HintColor {
			return appendVector(dst, v.vec[:], "rgba")
		}
		return appendVector(dst, v.vec[:], "xyzw")
	case KindRecord:
		return appendRecord(dst, v.rec)
	case KindArray:
		dst = append(dst, '[')
		for i := range v.arr {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = AppendJSON(dst, v.arr[i])
		}
		return append(dst, ']')
	}
	return append(dst, "null"...)
}

func appendRecord(dst []byte, r *Record) []byte {
	if r == nil {
		return append(dst, "null"...)
	}
	dst = append(dst, '{')
	first := true
	if r.Type != "" {
		dst = append(dst, `"`+TypeKey+`":`...)
		dst = AppendString(dst, r.Type)
		first = false
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = AppendString(dst, pair.Key)
		dst = append(dst, ':')
		dst = AppendJSON(dst, pair.Value)
	}
	return append(dst, '}')
}

func appendVector(dst []byte, comps []float32, names string) []byte {
	dst = append(dst, '{')
	for i, c := range comps {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '"', names[i], '"', ':')
		dst = appendFloat(dst, float64(c), 32)
	}
	return append(dst, '}')
}

func appendFloat(dst []byte, f float64, bits int) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, "null"...)
	}
	return strconv.AppendFloat(dst, f, 'f', -1, bits)
}

const hexDigits = "0123456789abcdef"

// AppendString appends s as a quoted JSON string.
func AppendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c >= 0x20 && c != '"' && c != '\\' {
				i++
				continue
			}
			dst = append(dst, s[start:i]...)
			switch c {
			case '"', '\\':
				dst = append(dst, '\\', c)
			case '\n':
				dst = append(dst, '\\', 'n')
			case '\r':
				dst = append(dst, '\\', 'r')
			case '\t':
				dst = append(dst, '\\', 't')
			default:
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			}
			i++
			start = i
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			dst = append(dst, s[start:i]...)
			dst = append(dst, "\ufffd"...)
			i += size
			start = i
			continue
		}
		i += size
	}
	dst = append(dst, s[start:]...)
	return append(dst, '"')
}

// DecodeValue parses one JSON wire value.
//
// Objects carrying __handle, __async or __callback decode to references,
// objects whose only keys are x,y,z[,w] or r,g,b[,a] decode to vectors, and
// every other object decodes to a record tagged by its __type key.
func DecodeValue(data []byte) (Value, error) {
	raw, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return Value{}, errors.ParseFailed("wire value", err)
	}
	return DecodeRaw(raw, typ)
}

// DecodeRaw decodes a value already located by jsonparser.
func DecodeRaw(raw []byte, typ jsonparser.ValueType) (Value, error) {
	switch typ {
	case jsonparser.Null, jsonparser.NotExist:
		return Null(), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(raw)
		if err != nil {
			return Value{}, errors.ParseFailed("bool", err)
		}
		return Bool(b), nil
	case jsonparser.Number:
		return decodeNumber(raw)
	case jsonparser.String:
		s, err := jsonparser.ParseString(raw)
		if err != nil {
			return Value{}, errors.ParseFailed("string", err)
		}
		return String(s), nil
	case jsonparser.Array:
		return decodeArray(raw)
	case jsonparser.Object:
		return decodeObject(raw)
	}
	return Value{}, errors.InvalidData(errors.PhaseCodec, nil, "unrecognized JSON token")
}

func decodeNumber(raw []byte) (Value, error) {
	if bytes.IndexAny(raw, ".eE") < 0 {
		if i, err := jsonparser.ParseInt(raw); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return Int32(int32(i)), nil
			}
			return Int64(i), nil
		}
	}
	f, err := jsonparser.ParseFloat(raw)
	if err != nil {
		return Value{}, errors.ParseFailed("number", err)
	}
	return Float64(f), nil
}

func decodeArray(raw []byte) (Value, error) {
	items := []Value{}
	var inner error
	_, err := jsonparser.ArrayEach(raw, func(value []byte, dt jsonparser.ValueType, _ int, e error) {
		if inner != nil {
			return
		}
		if e != nil {
			inner = e
			return
		}
		v, e := DecodeRaw(value, dt)
		if e != nil {
			inner = e
			return
		}
		items = append(items, v)
	})
	if inner != nil {
		return Value{}, inner
	}
	if err != nil {
		return Value{}, errors.ParseFailed("array", err)
	}
	return Array(items), nil
}

func decodeObject(raw []byte) (Value, error) {
	if id, ok := refField(raw, HandleKey); ok {
		hint, _ := jsonparser.GetString(raw, TypeKey)
		return ObjectHandle(id, hint), nil
	}
	if id, ok := refField(raw, AsyncKey); ok {
		return AsyncHandle(id), nil
	}
	if id, ok := refField(raw, CallbackKey); ok {
		return Callback(id), nil
	}

	rec := NewRecord("")
	err := jsonparser.ObjectEach(raw, func(key, value []byte, dt jsonparser.ValueType, _ int) error {
		if string(key) == TypeKey && dt == jsonparser.String {
			name, err := jsonparser.ParseString(value)
			if err != nil {
				return err
			}
			rec.Type = name
			return nil
		}
		v, err := DecodeRaw(value, dt)
		if err != nil {
			return err
		}
		rec.Set(string(key), v)
		return nil
	})
	if err != nil {
		return Value{}, errors.ParseFailed("object", err)
	}

	if rec.Type == "" {
		if vec, ok := asVector(rec); ok {
			return vec, nil
		}
	}
	return RecordValue(rec), nil
}

func refField(raw []byte, key string) (int32, bool) {
	id, err := jsonparser.GetInt(raw, key)
	if err != nil || id < math.MinInt32 || id > math.MaxInt32 {
		return 0, false
	}
	return int32(id), true
}

// asVector recognizes the vector shapes: {x,y,z}, {x,y,z,w}, {r,g,b} and
// {r,g,b,a}. A missing alpha defaults to 1.
func asVector(rec *Record) (Value, bool) {
	n := rec.Len()
	if n < 3 || n > 4 {
		return Value{}, false
	}
	var comps [4]float32
	read := func(names string) bool {
		for i := 0; i < len(names); i++ {
			v, ok := rec.Get(names[i : i+1])
			if !ok || !v.IsNumber() {
				return false
			}
			comps[i] = float32(v.Float())
		}
		return true
	}
	switch n {
	case 3:
		if read("xyz") {
			return Vector3(comps[0], comps[1], comps[2]), true
		}
		if read("rgb") {
			return Vector4(comps[0], comps[1], comps[2], 1, HintColor), true
		}
	case 4:
		if read("xyzw") {
			return Vector4(comps[0], comps[1], comps[2], comps[3], ""), true
		}
		if read("rgba") {
			return Vector4(comps[0], comps[1], comps[2], comps[3], HintColor), true
		}
	}
	return Value{}, false
}
