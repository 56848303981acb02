package dispatch

import (
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/wire"
)

// CallKind selects what an invocation request does.
type CallKind int32

const (
	CallCtor CallKind = iota
	CallMethod
	CallGetProp
	CallSetProp
	CallGetField
	CallSetField
	CallTypeExists
	CallIsEnumType
)

var callKindNames = [...]string{
	CallCtor:       "ctor",
	CallMethod:     "method",
	CallGetProp:    "getProp",
	CallSetProp:    "setProp",
	CallGetField:   "getField",
	CallSetField:   "setField",
	CallTypeExists: "typeExists",
	CallIsEnumType: "isEnumType",
}

func (k CallKind) String() string {
	if k >= 0 && int(k) < len(callKindNames) {
		return callKindNames[k]
	}
	return "CallKind(" + strconv.Itoa(int(k)) + ")"
}

// ParseCallKind parses a call kind name, case-insensitively.
func ParseCallKind(s string) (CallKind, bool) {
	for i, n := range callKindNames {
		if strings.EqualFold(n, s) {
			return CallKind(i), true
		}
	}
	return 0, false
}

// Request is one script-to-host invocation. A zero Target makes the call
// static; otherwise the acting type is taken from the live target.
type Request struct {
	TypeName string
	Member   string
	Args     []wire.Value
	Kind     CallKind
	Target   handle.Handle
}

// Static reports whether the request has no target object.
func (r Request) Static() bool { return r.Target == 0 }

// Result is the outcome of an invocation. Code is errors.CodeOK on success;
// otherwise Message describes the failure and Value is null.
type Result struct {
	Value   wire.Value
	Message string
	Code    int32
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Code == errors.CodeOK }

// Ok builds a successful result.
func Ok(v wire.Value) Result { return Result{Value: v} }

// Fail builds a failed result from err.
func Fail(err error) Result {
	return Result{Code: errors.Code(err), Message: message(err)}
}

func message(err error) string {
	var be *errors.Error
	if errors.As(err, &be) {
		return be.Message()
	}
	return err.Error()
}

// AppendJSON appends the JSON form of r:
//
//	{"code":0,"value":...}
//	{"code":1,"message":"..."}
func (r Result) AppendJSON(dst []byte) []byte {
	dst = append(dst, `{"code":`...)
	dst = strconv.AppendInt(dst, int64(r.Code), 10)
	if r.Code == errors.CodeOK {
		dst = append(dst, `,"value":`...)
		dst = wire.AppendJSON(dst, r.Value)
	} else {
		dst = append(dst, `,"message":`...)
		dst = wire.AppendString(dst, r.Message)
	}
	return append(dst, '}')
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	return r.AppendJSON(nil), nil
}

// DecodeRequest parses a JSON request:
//
//	{"kind":"method","type":"scene.Node","target":3,"member":"Rename","args":["x"]}
//
// kind is a call kind name or its number. Arguments use the wire JSON
// format.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	var decodeErr error
	kindSet := false

	err := jsonparser.ObjectEach(data, func(key, value []byte, typ jsonparser.ValueType, _ int) error {
		switch string(key) {
		case "kind":
			k, err := decodeKind(value, typ)
			if err != nil {
				return err
			}
			req.Kind, kindSet = k, true
		case "type":
			s, err := jsonparser.ParseString(value)
			if err != nil || typ != jsonparser.String {
				return errors.InvalidData(errors.PhaseCodec, []string{"type"}, "expected string")
			}
			req.TypeName = s
		case "member":
			s, err := jsonparser.ParseString(value)
			if err != nil || typ != jsonparser.String {
				return errors.InvalidData(errors.PhaseCodec, []string{"member"}, "expected string")
			}
			req.Member = s
		case "target":
			if typ == jsonparser.Null {
				return nil
			}
			n, err := jsonparser.ParseInt(value)
			if err != nil || typ != jsonparser.Number || n < 0 || n > 1<<31-1 {
				return errors.InvalidData(errors.PhaseCodec, []string{"target"}, "expected handle number")
			}
			req.Target = handle.Handle(n)
		case "args":
			if typ == jsonparser.Null {
				return nil
			}
			if typ != jsonparser.Array {
				return errors.InvalidData(errors.PhaseCodec, []string{"args"}, "expected array")
			}
			_, err := jsonparser.ArrayEach(value, func(item []byte, t jsonparser.ValueType, _ int, _ error) {
				if decodeErr != nil {
					return
				}
				v, err := wire.DecodeRaw(item, t)
				if err != nil {
					decodeErr = err
					return
				}
				req.Args = append(req.Args, v)
			})
			if err != nil {
				return errors.ParseFailed("args", err)
			}
		}
		return nil
	})
	if err != nil {
		var be *errors.Error
		if errors.As(err, &be) {
			return Request{}, err
		}
		return Request{}, errors.ParseFailed("request", err)
	}
	if decodeErr != nil {
		return Request{}, decodeErr
	}
	if !kindSet {
		return Request{}, errors.InvalidData(errors.PhaseCodec, []string{"kind"}, "missing call kind")
	}
	return req, nil
}

func decodeKind(value []byte, typ jsonparser.ValueType) (CallKind, error) {
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err == nil {
			if k, ok := ParseCallKind(s); ok {
				return k, nil
			}
		}
	case jsonparser.Number:
		n, err := jsonparser.ParseInt(value)
		if err == nil && n >= 0 && int(n) < len(callKindNames) {
			return CallKind(n), nil
		}
	}
	return 0, errors.InvalidData(errors.PhaseCodec, []string{"kind"}, "unknown call kind "+string(value))
}
