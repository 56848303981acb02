package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseResolve  Phase = "resolve"  // type and member lookup
	PhaseConvert  Phase = "convert"  // wire value to host value
	PhaseMarshal  Phase = "marshal"  // host value to wire value
	PhaseDispatch Phase = "dispatch" // invocation of host members
	PhaseHandle   Phase = "handle"   // handle table operations
	PhaseFastPath Phase = "fastpath" // pre-registered bindings
	PhaseAsync    Phase = "async"    // completion queue
	PhaseCallback Phase = "callback" // script delegates
	PhaseScript   Phase = "script"   // script engine evaluation
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseRegister Phase = "register" // type/struct/binding registration
	PhaseCodec    Phase = "codec"    // JSON wire codec
)

// Kind categorizes the error
type Kind string

const (
	KindTypeNotFound          Kind = "type_not_found"
	KindMemberNotFound        Kind = "member_not_found"
	KindNoCompatibleOverload  Kind = "no_compatible_overload"
	KindConversionFallthrough Kind = "conversion_fallthrough"
	KindInvocationFault       Kind = "invocation_fault"
	KindHandleNotFound        Kind = "handle_not_found"
	KindBindingNotFound       Kind = "binding_not_found"
	KindQueueGrowth           Kind = "queue_growth"
	KindValueType             Kind = "value_type"
	KindExhausted             Kind = "exhausted"
	KindUnsupported           Kind = "unsupported"
	KindInvalidInput          Kind = "invalid_input"
	KindInvalidData           Kind = "invalid_data"
	KindRegistration          Kind = "registration"
	KindReadOnly              Kind = "read_only"
	KindClosed                Kind = "closed"
)

// Wire error codes reported in invocation results.
const (
	CodeOK              int32 = 0
	CodeNotFound        int32 = 1
	CodeNoOverload      int32 = 2
	CodeInvocationFault int32 = 3
	CodeInvalidRequest  int32 = 4
	CodeFatal           int32 = 5
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Member string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.Member != "" {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.Member != "":
			b.WriteString(e.GoType)
			b.WriteByte('.')
			b.WriteString(e.Member)
		case e.GoType != "":
			b.WriteString(e.GoType)
		default:
			b.WriteString(e.Member)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.Member != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Message returns the text surfaced to scripts: the detail when present,
// otherwise the full formatted error.
func (e *Error) Message() string {
	if e.Detail == "" {
		return e.Error()
	}
	if e.Cause != nil {
		return e.Detail + ": " + e.Cause.Error()
	}
	return e.Detail
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the host type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Member sets the member name
func (b *Builder) Member(m string) *Builder {
	b.err.Member = m
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Code maps an error to the wire error code carried by invocation results.
func Code(err error) int32 {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if !stderrors.As(err, &e) {
		return CodeInvocationFault
	}
	switch e.Kind {
	case KindTypeNotFound, KindMemberNotFound, KindBindingNotFound, KindHandleNotFound:
		return CodeNotFound
	case KindNoCompatibleOverload:
		return CodeNoOverload
	case KindExhausted:
		return CodeFatal
	case KindInvalidInput, KindInvalidData, KindReadOnly, KindValueType, KindUnsupported:
		return CodeInvalidRequest
	default:
		return CodeInvocationFault
	}
}

// IsFatal reports whether err signals a lifetime-management logic error that
// must abort the current call.
func IsFatal(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == KindExhausted
}

// As is errors.As re-exported so callers importing this package under the
// name errors keep access to it.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Convenience constructors for common error patterns

// TypeNotFound creates a type lookup failure
func TypeNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindTypeNotFound,
		Detail: fmt.Sprintf("type %q not found", name),
	}
}

// MemberNotFound creates a member lookup failure
func MemberNotFound(typeName, what, member string) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindMemberNotFound,
		GoType: typeName,
		Member: member,
		Detail: fmt.Sprintf("%s %q not found on %s", what, member, typeName),
	}
}

// NoCompatibleOverload creates an overload resolution failure
func NoCompatibleOverload(typeName, member string, argc int) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNoCompatibleOverload,
		GoType: typeName,
		Member: member,
		Detail: fmt.Sprintf("no overload of %s.%s accepts %d argument(s) of the given types", typeName, member, argc),
	}
}

// InvocationFault wraps a failure raised inside a host member body
func InvocationFault(typeName, member string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindInvocationFault,
		GoType: typeName,
		Member: member,
		Detail: fmt.Sprintf("%s.%s failed", typeName, member),
		Cause:  cause,
	}
}

// Panic converts a recovered panic value into an invocation fault
func Panic(typeName, member string, r any) *Error {
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}
	return InvocationFault(typeName, member, cause)
}

// BindingNotFound creates an unknown fast-path binding error
func BindingNotFound(id int32) *Error {
	return &Error{
		Phase:  PhaseFastPath,
		Kind:   KindBindingNotFound,
		Detail: fmt.Sprintf("binding %d not found", id),
		Value:  id,
	}
}

// ValueType creates the error reported when a value type is offered to the
// handle table.
func ValueType(goType string) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindValueType,
		GoType: goType,
		Detail: "value types cannot be registered as handles",
	}
}

// Exhausted creates the fatal handle exhaustion error
func Exhausted(limit int32) *Error {
	return &Error{
		Phase:  PhaseHandle,
		Kind:   KindExhausted,
		Detail: fmt.Sprintf("handle table exhausted (limit %d)", limit),
		Value:  limit,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(what, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s %q", what, name),
		Cause:  cause,
	}
}

// ReadOnly creates the error for assigning a property without a setter
func ReadOnly(typeName, member string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindReadOnly,
		GoType: typeName,
		Member: member,
		Detail: fmt.Sprintf("%s.%s is read-only", typeName, member),
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseCodec,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
