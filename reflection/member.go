package reflection

import (
	"context"
	"reflect"

	"github.com/wippyai/script-bridge/errors"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Method is a callable member: a native method, a registered static, a
// registered extension or a constructor.
type Method struct {
	Owner *Type
	Name  string

	// In lists the script-visible parameters, excluding the receiver and an
	// injected context.Context.
	In []reflect.Type
	// Out is the value result type, nil when the member returns nothing but
	// possibly an error.
	Out reflect.Type

	fn        reflect.Value
	path      []int
	native    bool
	static    bool
	extension bool
	ctx       bool
	errOut    bool
	variadic  bool
}

// Static reports whether the method needs no receiver.
func (m *Method) Static() bool { return m.static }

// Extension reports whether the method was registered rather than declared.
func (m *Method) Extension() bool { return m.extension }

// Call invokes the method. recv is ignored for statics. A panic inside the
// member body propagates; callers recover it.
func (m *Method) Call(ctx context.Context, recv reflect.Value, args []reflect.Value) (reflect.Value, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	in := make([]reflect.Value, 0, len(args)+2)

	var fn reflect.Value
	switch {
	case m.native:
		target, err := descend(recv, m.path)
		if err != nil {
			return reflect.Value{}, err
		}
		fn = target.MethodByName(m.Name)
		if !fn.IsValid() && target.Kind() == reflect.Pointer {
			fn = target.Elem().MethodByName(m.Name)
		}
		if !fn.IsValid() {
			return reflect.Value{}, errors.MemberNotFound(recv.Type().String(), "method", m.Name)
		}
	case m.extension:
		target, err := descend(recv, m.path)
		if err != nil {
			return reflect.Value{}, err
		}
		param := m.fn.Type().In(0)
		switch {
		case target.Type().AssignableTo(param):
		case target.Kind() == reflect.Pointer && target.Elem().Type().AssignableTo(param):
			target = target.Elem()
		default:
			return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch,
				"receiver "+target.Type().String()+" does not match "+param.String())
		}
		fn = m.fn
		in = append(in, target)
	default:
		fn = m.fn
	}

	if m.ctx {
		in = append(in, reflect.ValueOf(ctx))
	}
	in = append(in, args...)

	var out []reflect.Value
	if m.variadic {
		out = fn.CallSlice(in)
	} else {
		out = fn.Call(in)
	}
	return m.results(out)
}

func (m *Method) results(out []reflect.Value) (reflect.Value, error) {
	if m.errOut {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			return reflect.Value{}, last.Interface().(error)
		}
	}
	switch len(out) {
	case 0:
		return reflect.Value{}, nil
	case 1:
		return out[0], nil
	}
	multi := make([]any, len(out))
	for i, v := range out {
		multi[i] = v.Interface()
	}
	return reflect.ValueOf(multi), nil
}

// at returns a copy of m bound to the embedded field path that reaches the
// level declaring it.
func (m *Method) at(path []int) *Method {
	if len(path) == 0 {
		return m
	}
	c := *m
	c.path = path
	return &c
}

// funcMethod builds a Method from a function value, skipping the first skip
// parameters (the receiver of extensions).
func funcMethod(name string, fn any, skip int) (*Method, error) {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return nil, errors.InvalidInput(errors.PhaseRegister, name+": handler must be a function")
	}
	ft := fv.Type()
	if ft.NumIn() < skip {
		return nil, errors.InvalidInput(errors.PhaseRegister, name+": missing receiver parameter")
	}
	m := &Method{Name: name, fn: fv}
	analyze(m, ft, skip)
	return m, nil
}

// nativeMethod wraps a method found in a method set. The reflect.Method type
// includes the receiver.
func nativeMethod(owner *Type, rm reflect.Method, path []int) *Method {
	m := &Method{Owner: owner, Name: rm.Name, native: true, path: path}
	analyze(m, rm.Type, 1)
	return m
}

func analyze(m *Method, ft reflect.Type, skip int) {
	m.variadic = ft.IsVariadic()
	i := skip
	if i < ft.NumIn() && ft.In(i) == contextType {
		m.ctx = true
		i++
	}
	for ; i < ft.NumIn(); i++ {
		m.In = append(m.In, ft.In(i))
	}

	n := ft.NumOut()
	if n > 0 && ft.Out(n-1) == errorType {
		m.errOut = true
		n--
	}
	switch n {
	case 0:
	case 1:
		m.Out = ft.Out(0)
	default:
		m.Out = reflect.TypeFor[[]any]()
	}
}

// descend follows an embedded field path from recv and returns an
// addressable receiver for the level reached.
func descend(recv reflect.Value, path []int) (reflect.Value, error) {
	if !recv.IsValid() {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch, "missing receiver")
	}
	v := recv
	for _, i := range path {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch, "nil embedded struct")
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	if len(path) > 0 && v.Kind() != reflect.Pointer && v.CanAddr() {
		v = v.Addr()
	}
	return v, nil
}

// Property is a readable and/or writable named value: a getter/setter
// method pair, a registered function pair or an exported struct field.
type Property struct {
	Type   reflect.Type
	Name   string
	get    *Method
	set    *Method
	field  *Field
	Static bool
}

// CanRead reports whether the property has a getter.
func (p *Property) CanRead() bool { return p.get != nil || p.field != nil }

// CanWrite reports whether the property has a setter.
func (p *Property) CanWrite() bool { return p.set != nil || p.field != nil }

// Get reads the property from recv.
func (p *Property) Get(ctx context.Context, recv reflect.Value) (reflect.Value, error) {
	if p.field != nil {
		return p.field.Get(recv)
	}
	if p.get == nil {
		return reflect.Value{}, errors.Unsupported(errors.PhaseDispatch, p.Name+" is write-only")
	}
	return p.get.Call(ctx, recv, nil)
}

// Set writes v to the property on recv.
func (p *Property) Set(ctx context.Context, recv, v reflect.Value) error {
	if p.field != nil {
		return p.field.Set(recv, v)
	}
	if p.set == nil {
		return errors.ReadOnly(recvName(recv), p.Name)
	}
	_, err := p.set.Call(ctx, recv, []reflect.Value{v})
	return err
}

func (p *Property) at(path []int) *Property {
	if len(path) == 0 {
		return p
	}
	c := *p
	if c.get != nil {
		c.get = c.get.at(path)
	}
	if c.set != nil {
		c.set = c.set.at(path)
	}
	return &c
}

// Field is an exported struct field or a registered static variable.
type Field struct {
	Type   reflect.Type
	ptr    reflect.Value
	Name   string
	path   []int
	Static bool
}

// Get reads the field from recv, or the static variable.
func (f *Field) Get(recv reflect.Value) (reflect.Value, error) {
	if f.Static {
		return f.ptr.Elem(), nil
	}
	v, err := f.locate(recv)
	if err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// Set writes v to the field on recv, or to the static variable.
func (f *Field) Set(recv, v reflect.Value) error {
	var dst reflect.Value
	if f.Static {
		dst = f.ptr.Elem()
	} else {
		var err error
		if dst, err = f.locate(recv); err != nil {
			return err
		}
	}
	if !dst.CanSet() {
		return errors.ReadOnly(recvName(recv), f.Name)
	}
	if !v.IsValid() {
		dst.SetZero()
		return nil
	}
	if !v.Type().AssignableTo(dst.Type()) {
		if !v.Type().ConvertibleTo(dst.Type()) {
			return errors.InvalidInput(errors.PhaseDispatch,
				"cannot assign "+v.Type().String()+" to field "+f.Name+" of type "+dst.Type().String())
		}
		v = v.Convert(dst.Type())
	}
	dst.Set(v)
	return nil
}

func (f *Field) locate(recv reflect.Value) (reflect.Value, error) {
	v := recv
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch, "nil receiver")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch, "receiver is not a struct")
	}
	fv, err := v.FieldByIndexErr(f.path)
	if err != nil {
		return reflect.Value{}, errors.InvalidInput(errors.PhaseDispatch, err.Error())
	}
	return fv, nil
}

func recvName(recv reflect.Value) string {
	if !recv.IsValid() {
		return "static"
	}
	return recv.Type().String()
}
