package reflection

import (
	"reflect"
	"sync"

	"github.com/wippyai/script-bridge/errors"
)

// Type describes a host type: its registered constructors, statics,
// extension methods, enum values and, for interface types, the members it
// contributes to every implementer.
type Type struct {
	Go       reflect.Type
	Module   *Module
	Name     string
	FullName string

	reg          *Registry
	ctors        []*Method
	statics      map[string][]*Method
	extensions   map[string][]*Method
	props        map[string]*Property
	staticProps  map[string]*Property
	staticFields map[string]*Field
	enumNames    []string
	enumValues   []reflect.Value
	levels       []level
	levelsOnce   sync.Once
	value        bool
}

type level struct {
	typ  reflect.Type
	path []int
}

func newType(r *Registry, m *Module, base reflect.Type, name string) *Type {
	t := &Type{
		Go:     base,
		Module: m,
		Name:   name,
		reg:    r,
	}
	t.FullName = name
	if m != nil && m.Name != "" {
		t.FullName = m.Name + "." + name
	}
	return t
}

// Registered reports whether t was added to a module.
func (t *Type) Registered() bool { return t.Module != nil }

// IsEnum reports whether enum values were registered for t.
func (t *Type) IsEnum() bool {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	return len(t.enumNames) > 0
}

// IsValue reports whether instances are passed by value as records rather
// than by handle.
func (t *Type) IsValue() bool {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	return t.value
}

// AsValue marks a struct type as a value type: zero-argument construction
// yields a record instead of a handle.
func (t *Type) AsValue() *Type {
	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	t.value = true
	t.reg.invalidate()
	return t
}

// Ctor registers a constructor. fn must return T or *T, optionally followed
// by an error. A leading context.Context parameter is supplied by the caller.
func (t *Type) Ctor(fn any) error {
	m, err := funcMethod("new", fn, 0)
	if err != nil {
		return errors.Registration("constructor", t.FullName, err)
	}
	if m.Out == nil || baseType(m.Out) != t.Go {
		return errors.Registration("constructor", t.FullName,
			errors.InvalidInput(errors.PhaseRegister, "constructor must return "+t.Go.String()))
	}
	m.Owner = t
	m.static = true

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	t.ctors = append(t.ctors, m)
	t.reg.invalidate()
	return nil
}

// Ctors returns the registered constructors in registration order.
func (t *Type) Ctors() []*Method {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	out := make([]*Method, len(t.ctors))
	copy(out, t.ctors)
	return out
}

// Static registers a static method. Registering the same name more than once
// adds overloads, tried in registration order.
func (t *Type) Static(name string, fn any) error {
	m, err := funcMethod(name, fn, 0)
	if err != nil {
		return errors.Registration("static method", t.FullName+"."+name, err)
	}
	m.Owner = t
	m.static = true

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.statics == nil {
		t.statics = make(map[string][]*Method)
	}
	t.statics[name] = append(t.statics[name], m)
	t.reg.invalidate()
	return nil
}

// Extend registers an instance extension method. fn takes the receiver as
// its first parameter, either T, *T or an interface t implements. Extensions
// are tried after the native method of the same name.
func (t *Type) Extend(name string, fn any) error {
	m, err := funcMethod(name, fn, 1)
	if err != nil {
		return errors.Registration("extension method", t.FullName+"."+name, err)
	}
	if !acceptsReceiver(m.fn.Type().In(0), t.Go) {
		return errors.Registration("extension method", t.FullName+"."+name,
			errors.InvalidInput(errors.PhaseRegister, "first parameter must accept "+t.Go.String()))
	}
	m.Owner = t
	m.extension = true

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.extensions == nil {
		t.extensions = make(map[string][]*Method)
	}
	t.extensions[name] = append(t.extensions[name], m)
	t.reg.invalidate()
	return nil
}

// Property registers an instance property backed by functions. get has the
// shape func(T) V and set func(T, V); either may be nil.
func (t *Type) Property(name string, get, set any) error {
	p, err := t.funcProperty(name, get, set, 1)
	if err != nil {
		return errors.Registration("property", t.FullName+"."+name, err)
	}
	for _, m := range []*Method{p.get, p.set} {
		if m != nil && !acceptsReceiver(m.fn.Type().In(0), t.Go) {
			return errors.Registration("property", t.FullName+"."+name,
				errors.InvalidInput(errors.PhaseRegister, "first parameter must accept "+t.Go.String()))
		}
	}

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.props == nil {
		t.props = make(map[string]*Property)
	}
	t.props[name] = p
	t.reg.invalidate()
	return nil
}

// StaticProperty registers a static property. get has the shape func() V
// and set func(V); either may be nil.
func (t *Type) StaticProperty(name string, get, set any) error {
	p, err := t.funcProperty(name, get, set, 0)
	if err != nil {
		return errors.Registration("static property", t.FullName+"."+name, err)
	}
	p.Static = true

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.staticProps == nil {
		t.staticProps = make(map[string]*Property)
	}
	t.staticProps[name] = p
	t.reg.invalidate()
	return nil
}

// StaticField registers a package-level variable as a static field. ptr
// must be a non-nil pointer to the variable.
func (t *Type) StaticField(name string, ptr any) error {
	pv := reflect.ValueOf(ptr)
	if pv.Kind() != reflect.Pointer || pv.IsNil() {
		return errors.Registration("static field", t.FullName+"."+name,
			errors.InvalidInput(errors.PhaseRegister, "static field needs a non-nil pointer"))
	}

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	if t.staticFields == nil {
		t.staticFields = make(map[string]*Field)
	}
	t.staticFields[name] = &Field{Name: name, Type: pv.Type().Elem(), Static: true, ptr: pv}
	t.reg.invalidate()
	return nil
}

// Enum registers a named value of an enum type. Values are convertible to
// t's underlying type.
func (t *Type) Enum(name string, value any) error {
	v := reflect.ValueOf(value)
	if !v.IsValid() || !v.Type().ConvertibleTo(t.Go) {
		return errors.Registration("enum value", t.FullName+"."+name,
			errors.InvalidInput(errors.PhaseRegister, "value not convertible to "+t.Go.String()))
	}

	t.reg.mu.Lock()
	defer t.reg.mu.Unlock()
	t.enumNames = append(t.enumNames, name)
	t.enumValues = append(t.enumValues, v.Convert(t.Go))
	t.reg.invalidate()
	return nil
}

// EnumNames returns the registered enum names in registration order.
func (t *Type) EnumNames() []string {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	out := make([]string, len(t.enumNames))
	copy(out, t.enumNames)
	return out
}

// EnumValue returns the value registered under name, matching exactly.
func (t *Type) EnumValue(name string) (reflect.Value, bool) {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	for i, n := range t.enumNames {
		if n == name {
			return t.enumValues[i], true
		}
	}
	return reflect.Value{}, false
}

// EnumName returns the name registered for v.
func (t *Type) EnumName(v reflect.Value) (string, bool) {
	t.reg.mu.RLock()
	defer t.reg.mu.RUnlock()
	for i, ev := range t.enumValues {
		if ev.Equal(v) {
			return t.enumNames[i], true
		}
	}
	return "", false
}

func (t *Type) funcProperty(name string, get, set any, skip int) (*Property, error) {
	p := &Property{Name: name}
	if get != nil {
		m, err := funcMethod(name, get, skip)
		if err != nil {
			return nil, err
		}
		if len(m.In) != 0 || m.Out == nil {
			return nil, errors.InvalidInput(errors.PhaseRegister, "getter must take no arguments and return a value")
		}
		m.Owner, m.extension, m.static = t, skip == 1, skip == 0
		p.get = m
		p.Type = m.Out
	}
	if set != nil {
		m, err := funcMethod(name, set, skip)
		if err != nil {
			return nil, err
		}
		if len(m.In) != 1 {
			return nil, errors.InvalidInput(errors.PhaseRegister, "setter must take one value")
		}
		m.Owner, m.extension, m.static = t, skip == 1, skip == 0
		p.set = m
		if p.Type == nil {
			p.Type = m.In[0]
		}
	}
	if p.get == nil && p.set == nil {
		return nil, errors.InvalidInput(errors.PhaseRegister, "property needs a getter or a setter")
	}
	return p, nil
}

// hierarchy returns the type followed by its embedded structs, depth-first,
// each with the field index path that reaches it.
func (t *Type) hierarchy() []level {
	t.levelsOnce.Do(func() {
		seen := map[reflect.Type]bool{}
		t.levels = collectLevels(t.Go, nil, seen, nil)
	})
	return t.levels
}

func collectLevels(rt reflect.Type, path []int, seen map[reflect.Type]bool, out []level) []level {
	if seen[rt] {
		return out
	}
	seen[rt] = true
	out = append(out, level{typ: rt, path: path})
	if rt.Kind() != reflect.Struct {
		return out
	}
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct {
			continue
		}
		next := make([]int, len(path)+1)
		copy(next, path)
		next[len(path)] = i
		out = collectLevels(ft, next, seen, out)
	}
	return out
}

func acceptsReceiver(param, base reflect.Type) bool {
	return base.AssignableTo(param) || reflect.PointerTo(base).AssignableTo(param)
}
