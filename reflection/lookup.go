package reflection

import (
	"reflect"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/wire"
)

type methodKey struct {
	typ    reflect.Type
	name   string
	sig    uint64
	static bool
}

type memberKey struct {
	typ    reflect.Type
	name   string
	static bool
}

type methodResult struct {
	m   *Method
	err *errors.Error
}

type propertyResult struct {
	p   *Property
	err *errors.Error
}

type fieldResult struct {
	f   *Field
	err *errors.Error
}

// FindMethod resolves the overload of name that accepts args.
//
// The hierarchy is walked most-derived first. At each level only members
// declared there are considered: the native method, then registered
// extensions in registration order. The first candidate with the right
// parameter count whose parameters all accept the arguments wins; there is
// no ranking. Instance lookups finally consult registered interfaces the
// type implements. Hits and misses are cached by (type, name, static,
// signature) until the next registration.
func (r *Registry) FindMethod(t *Type, name string, static bool, args []ArgType) (*Method, error) {
	key := methodKey{typ: t.Go, name: name, static: static, sig: r.Signature(args)}
	if v, ok := r.methods.Load(key); ok {
		res := v.(methodResult)
		if res.err != nil {
			return nil, res.err
		}
		return res.m, nil
	}

	gen := r.gen.Load()
	m, err := r.scanMethod(t, name, static, args)
	r.store(&r.methods, key, methodResult{m: m, err: err}, gen)
	if err != nil {
		Logger().Debug("method lookup failed",
			zap.String("type", t.FullName),
			zap.String("member", name),
			zap.Int("argc", len(args)),
			zap.String("kind", string(err.Kind)))
		return nil, err
	}
	return m, nil
}

func (r *Registry) scanMethod(t *Type, name string, static bool, args []ArgType) (*Method, *errors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := false
	try := func(cands []*Method, path []int) *Method {
		for _, c := range cands {
			found = true
			if r.acceptsLocked(c, args) {
				return c.at(path)
			}
		}
		return nil
	}

	for _, lv := range t.hierarchy() {
		desc := r.byType[lv.typ]
		for _, n := range memberNames(name) {
			if static {
				if desc == nil {
					continue
				}
				if m := try(desc.statics[n], nil); m != nil {
					return m, nil
				}
				continue
			}
			if rm, ok := declaredMethod(lv.typ, n); ok {
				if m := try([]*Method{nativeMethod(desc, rm, lv.path)}, nil); m != nil {
					return m, nil
				}
			}
			if desc != nil {
				if m := try(desc.extensions[n], lv.path); m != nil {
					return m, nil
				}
			}
		}
	}

	if !static {
		for _, capType := range r.capabilitiesLocked(t.Go) {
			for _, n := range memberNames(name) {
				if m := try(capType.extensions[n], nil); m != nil {
					return m, nil
				}
			}
		}
	}

	if found {
		return nil, errors.NoCompatibleOverload(t.FullName, name, len(args))
	}
	return nil, errors.MemberNotFound(t.FullName, "method", name)
}

// HasMethod reports whether name names a method of t at any arity. Script
// proxies use it to tell obj:m() calls from member reads.
func (r *Registry) HasMethod(t *Type, name string, static bool) bool {
	key := memberKey{typ: t.Go, name: name, static: static}
	if v, ok := r.names.Load(key); ok {
		return v.(bool)
	}
	gen := r.gen.Load()
	ok := r.scanMethodName(t, name, static)
	r.store(&r.names, key, ok, gen)
	return ok
}

func (r *Registry) scanMethodName(t *Type, name string, static bool) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, lv := range t.hierarchy() {
		desc := r.byType[lv.typ]
		for _, n := range memberNames(name) {
			if static {
				if desc != nil && len(desc.statics[n]) > 0 {
					return true
				}
				continue
			}
			if _, ok := declaredMethod(lv.typ, n); ok {
				return true
			}
			if lv.typ.Kind() == reflect.Interface {
				if _, ok := lv.typ.MethodByName(n); ok {
					return true
				}
			}
			if desc != nil && len(desc.extensions[n]) > 0 {
				return true
			}
		}
	}
	if static {
		return false
	}
	for _, capType := range r.capabilitiesLocked(t.Go) {
		for _, n := range memberNames(name) {
			if len(capType.extensions[n]) > 0 {
				return true
			}
		}
	}
	return false
}

// FindProperty resolves a property: a registered property, a getter GetX
// or X paired with a SetX setter, and finally an exported field.
// Lookup walks the hierarchy and then registered interfaces.
func (r *Registry) FindProperty(t *Type, name string, static bool) (*Property, error) {
	key := memberKey{typ: t.Go, name: name, static: static}
	if v, ok := r.props.Load(key); ok {
		res := v.(propertyResult)
		if res.err != nil {
			return nil, res.err
		}
		return res.p, nil
	}

	gen := r.gen.Load()
	p, err := r.scanProperty(t, name, static)
	r.store(&r.props, key, propertyResult{p: p, err: err}, gen)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Registry) scanProperty(t *Type, name string, static bool) (*Property, *errors.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, lv := range t.hierarchy() {
		desc := r.byType[lv.typ]
		for _, n := range memberNames(name) {
			if static {
				if desc != nil && desc.staticProps[n] != nil {
					return desc.staticProps[n], nil
				}
				continue
			}
			if desc != nil && desc.props[n] != nil {
				return desc.props[n].at(lv.path), nil
			}
			if p := nativeProperty(desc, lv, n); p != nil {
				return p, nil
			}
		}
	}

	if !static {
		for _, capType := range r.capabilitiesLocked(t.Go) {
			for _, n := range memberNames(name) {
				if p := capType.props[n]; p != nil {
					return p, nil
				}
				if p := nativeProperty(capType, level{typ: capType.Go}, n); p != nil {
					return p, nil
				}
			}
		}
		if f := r.scanFieldLocked(t, name, false); f != nil {
			return &Property{Name: f.Name, Type: f.Type, field: f}, nil
		}
	}

	return nil, errors.MemberNotFound(t.FullName, "property", name)
}

func nativeProperty(desc *Type, lv level, name string) *Property {
	if lv.typ.Kind() == reflect.Interface {
		return interfaceProperty(desc, lv.typ, name)
	}
	lookup := func(n string) *Method {
		if rm, ok := declaredMethod(lv.typ, n); ok {
			return nativeMethod(desc, rm, lv.path)
		}
		return nil
	}
	return pairProperty(name, lookup)
}

func interfaceProperty(desc *Type, it reflect.Type, name string) *Property {
	lookup := func(n string) *Method {
		if rm, ok := it.MethodByName(n); ok {
			m := &Method{Owner: desc, Name: rm.Name, native: true}
			analyze(m, rm.Type, 0)
			return m
		}
		return nil
	}
	return pairProperty(name, lookup)
}

// pairProperty builds a property from GetX, or from X when a SetX setter
// exists. A lone X() is a method, so obj:x() keeps calling it.
func pairProperty(name string, lookup func(string) *Method) *Property {
	var get, set *Method
	if m := lookup("Set" + name); m != nil && len(m.In) == 1 {
		set = m
	}
	getter := func(n string) *Method {
		if m := lookup(n); m != nil && len(m.In) == 0 && m.Out != nil {
			return m
		}
		return nil
	}
	get = getter("Get" + name)
	if get == nil && set != nil {
		get = getter(name)
	}
	return newProperty(name, get, set)
}

func newProperty(name string, get, set *Method) *Property {
	if get == nil && set == nil {
		return nil
	}
	p := &Property{Name: name, get: get, set: set}
	if get != nil {
		p.Type = get.Out
	} else {
		p.Type = set.In[0]
	}
	return p
}

// FindField resolves an exported struct field, matching the exact name,
// then the capitalized name, then case-insensitively. Static lookups find
// registered static variables.
func (r *Registry) FindField(t *Type, name string, static bool) (*Field, error) {
	key := memberKey{typ: t.Go, name: name, static: static}
	if v, ok := r.fields.Load(key); ok {
		res := v.(fieldResult)
		if res.err != nil {
			return nil, res.err
		}
		return res.f, nil
	}

	gen := r.gen.Load()
	r.mu.RLock()
	f := r.scanFieldLocked(t, name, static)
	r.mu.RUnlock()

	res := fieldResult{f: f}
	if f == nil {
		res.err = errors.MemberNotFound(t.FullName, "field", name)
	}
	r.store(&r.fields, key, res, gen)
	if res.err != nil {
		return nil, res.err
	}
	return f, nil
}

func (r *Registry) scanFieldLocked(t *Type, name string, static bool) *Field {
	levels := t.hierarchy()
	if static {
		for _, lv := range levels {
			desc := r.byType[lv.typ]
			if desc == nil {
				continue
			}
			for _, n := range memberNames(name) {
				if f := desc.staticFields[n]; f != nil {
					return f
				}
			}
		}
		return nil
	}

	for _, fold := range []bool{false, true} {
		for _, lv := range levels {
			if lv.typ.Kind() != reflect.Struct {
				continue
			}
			for i := 0; i < lv.typ.NumField(); i++ {
				sf := lv.typ.Field(i)
				if !sf.IsExported() || !fieldMatches(sf.Name, name, fold) {
					continue
				}
				path := make([]int, len(lv.path)+1)
				copy(path, lv.path)
				path[len(lv.path)] = i
				return &Field{Name: sf.Name, Type: sf.Type, path: path}
			}
		}
	}
	return nil
}

func fieldMatches(goName, name string, fold bool) bool {
	if fold {
		return strings.EqualFold(goName, name)
	}
	return goName == name || goName == upperFirst(name)
}

func (r *Registry) capabilitiesLocked(rt reflect.Type) []*Type {
	var out []*Type
	pt := rt
	if rt.Kind() != reflect.Interface && rt.Kind() != reflect.Pointer {
		pt = reflect.PointerTo(rt)
	}
	for _, m := range r.order {
		for _, t := range m.types {
			if t.Go.Kind() == reflect.Interface && t.Go != rt && (rt.Implements(t.Go) || pt.Implements(t.Go)) {
				out = append(out, t)
			}
		}
	}
	return out
}

// declaredMethod finds an exported method declared directly on lv rather
// than promoted from an embedded field. Promotion wrappers are compiler
// generated; a method that an embedded field also provides counts as
// declared only when its code is not such a wrapper.
func declaredMethod(lt reflect.Type, name string) (reflect.Method, bool) {
	if lt.Kind() == reflect.Interface {
		return reflect.Method{}, false
	}
	pt := lt
	if lt.Kind() != reflect.Pointer {
		pt = reflect.PointerTo(lt)
	}
	rm, ok := pt.MethodByName(name)
	if !ok || !rm.IsExported() {
		return reflect.Method{}, false
	}
	if !promotable(lt, name) {
		return rm, true
	}
	if vm, ok := lt.MethodByName(name); ok && !autogenerated(vm.Func) {
		return rm, true
	}
	if !autogenerated(rm.Func) {
		return rm, true
	}
	return reflect.Method{}, false
}

// promotable reports whether an embedded field of lt provides name.
func promotable(lt reflect.Type, name string) bool {
	if lt.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < lt.NumField(); i++ {
		f := lt.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() != reflect.Pointer && ft.Kind() != reflect.Interface {
			ft = reflect.PointerTo(ft)
		}
		if _, ok := ft.MethodByName(name); ok {
			return true
		}
	}
	return false
}

func autogenerated(fn reflect.Value) bool {
	f := runtime.FuncForPC(fn.Pointer())
	if f == nil {
		return false
	}
	file, _ := f.FileLine(f.Entry())
	return file == "<autogenerated>"
}

// memberNames yields the spellings tried for a script-supplied member name:
// as given, then with the first letter upper-cased.
func memberNames(name string) []string {
	up := upperFirst(name)
	if up == name {
		return []string{name}
	}
	return []string{name, up}
}

// ArgType describes a script argument for overload matching.
type ArgType struct {
	// Go is the natural host type of the argument; nil for null, records,
	// vectors and callbacks.
	Go   reflect.Type
	Hint string
	Kind wire.Kind
}

var (
	boolType    = reflect.TypeFor[bool]()
	int32Type   = reflect.TypeFor[int32]()
	int64Type   = reflect.TypeFor[int64]()
	float32Type = reflect.TypeFor[float32]()
	float64Type = reflect.TypeFor[float64]()
	stringType  = reflect.TypeFor[string]()
	anySlice    = reflect.TypeFor[[]any]()
)

// ArgTypeOf classifies a wire value. resolved is the live object behind an
// object handle, nil when the handle is dead; a dead handle classifies as
// null.
func ArgTypeOf(v wire.Value, resolved any) ArgType {
	a := ArgType{Kind: v.Kind(), Hint: v.TypeHint()}
	switch v.Kind() {
	case wire.KindBool:
		a.Go = boolType
	case wire.KindInt32:
		a.Go = int32Type
	case wire.KindInt64:
		a.Go = int64Type
	case wire.KindFloat32:
		a.Go = float32Type
	case wire.KindFloat64:
		a.Go = float64Type
	case wire.KindString:
		a.Go = stringType
	case wire.KindArray:
		a.Go = anySlice
	case wire.KindRecord:
		a.Hint = v.Record().Type
	case wire.KindObjectHandle:
		if resolved == nil {
			a.Kind = wire.KindNull
		} else {
			a.Go = reflect.TypeOf(resolved)
		}
	}
	return a
}

// Signature hashes argument types into a stable cache key component, FNV-1a
// over the per-process id of each Go type, its wire kind and its hint.
func (r *Registry) Signature(args []ArgType) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	mix := func(b byte) {
		h ^= uint64(b)
		h *= prime
	}
	for _, a := range args {
		mix(byte(a.Kind))
		id := r.typeID(a.Go)
		for i := 0; i < 8; i++ {
			mix(byte(id >> (8 * i)))
		}
		for i := 0; i < len(a.Hint); i++ {
			mix(a.Hint[i])
		}
		mix(0xff)
	}
	return h
}

// Accepts reports whether m can be called with args.
func (r *Registry) Accepts(m *Method, args []ArgType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.acceptsLocked(m, args)
}

func (r *Registry) acceptsLocked(m *Method, args []ArgType) bool {
	if len(m.In) != len(args) {
		return false
	}
	for i, p := range m.In {
		if !r.compatibleLocked(p, args[i]) {
			return false
		}
	}
	return true
}

// compatibleLocked is the structural compatibility rule: exact type,
// assignable, primitive to primitive, nil to nilable, records and vectors to
// structs and string-keyed maps, strings to registered enums, callbacks to
// funcs and arrays to slices.
func (r *Registry) compatibleLocked(param reflect.Type, a ArgType) bool {
	if a.Kind == wire.KindNull {
		return nilable(param)
	}
	if a.Go != nil {
		if a.Go == param || a.Go.AssignableTo(param) {
			return true
		}
		if isPrimitive(a.Go) && isPrimitive(param) {
			return true
		}
		if a.Go.Kind() == reflect.Pointer && a.Go.Elem() == param {
			return true
		}
	}

	anyParam := param.Kind() == reflect.Interface && param.NumMethod() == 0
	switch a.Kind {
	case wire.KindRecord, wire.KindVector3, wire.KindVector4:
		return isStruct(param) || anyParam ||
			(param.Kind() == reflect.Map && param.Key().Kind() == reflect.String)
	case wire.KindString:
		desc := r.byType[param]
		return desc != nil && len(desc.enumNames) > 0
	case wire.KindCallback:
		return param.Kind() == reflect.Func || anyParam
	case wire.KindArray:
		return param.Kind() == reflect.Slice || param.Kind() == reflect.Array
	case wire.KindAsyncHandle:
		return anyParam
	}
	return false
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func isStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct || (t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct)
}

// isPrimitive reports bool and numeric kinds.
func isPrimitive(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// IsPrimitive reports whether t is a bool or numeric kind.
func IsPrimitive(t reflect.Type) bool { return isPrimitive(t) }
