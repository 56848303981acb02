package reflection

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
)

// Registry makes host types addressable by name and caches member lookups.
// Thread-safe.
//
// Go has no run-time lookup of types by name, so every type a script can
// name is added to a Module. Types that are only ever reached through live
// objects do not need registration; TypeOf synthesizes a descriptor for them.
type Registry struct {
	modules map[string]*Module
	byType  map[reflect.Type]*Type
	order   []*Module

	types    sync.Map // string -> *Type, nil for misses
	methods  sync.Map // methodKey -> *Method
	props    sync.Map // memberKey -> *Property
	fields   sync.Map // memberKey -> *Field
	names    sync.Map // memberKey -> bool, method name known
	implicit sync.Map // reflect.Type -> *Type
	typeIDs  sync.Map // reflect.Type -> uint64
	nextID   atomic.Uint64
	gen      atomic.Uint64

	mu sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]*Module),
		byType:  make(map[reflect.Type]*Type),
	}
}

// Module returns the module with the given name, creating it on first use.
// Modules are searched in creation order.
func (r *Registry) Module(name string) *Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[name]; ok {
		return m
	}
	m := &Module{Name: name, reg: r}
	r.modules[name] = m
	r.order = append(r.order, m)
	return m
}

// Modules returns the loaded modules in creation order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, len(r.order))
	copy(out, r.order)
	return out
}

// ResolveType finds a registered type by its fully-qualified name
// ("module.Type"). On a miss it scans loaded modules by short name, then
// case-insensitively. Results, including misses, are cached until the next
// registration.
func (r *Registry) ResolveType(name string) (*Type, bool) {
	if v, ok := r.types.Load(name); ok {
		t := v.(*Type)
		return t, t != nil
	}
	gen := r.gen.Load()
	t := r.scanType(name)
	r.store(&r.types, name, t, gen)
	if t == nil {
		Logger().Debug("type not found", zap.String("name", name))
	}
	return t, t != nil
}

func (r *Registry) scanType(name string) *Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if mod, short, ok := strings.Cut(name, "."); ok {
		if m := r.modules[mod]; m != nil {
			if t := m.lookup(short, false); t != nil {
				return t
			}
		}
	}
	for _, m := range r.order {
		if t := m.lookup(name, false); t != nil {
			return t
		}
	}
	for _, m := range r.order {
		for _, t := range m.types {
			if strings.EqualFold(t.FullName, name) {
				return t
			}
		}
	}
	for _, m := range r.order {
		if t := m.lookup(name, true); t != nil {
			return t
		}
	}
	return nil
}

// TypeOf returns the descriptor for rt, synthesizing an unregistered one
// when needed. Pointers to structs share the descriptor of the struct.
func (r *Registry) TypeOf(rt reflect.Type) *Type {
	base := baseType(rt)
	r.mu.RLock()
	t := r.byType[base]
	r.mu.RUnlock()
	if t != nil {
		return t
	}
	if v, ok := r.implicit.Load(base); ok {
		return v.(*Type)
	}
	v, _ := r.implicit.LoadOrStore(base, newType(r, nil, base, base.String()))
	return v.(*Type)
}

// Lookup returns the registered descriptor for rt, if any.
func (r *Registry) Lookup(rt reflect.Type) (*Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byType[baseType(rt)]
	return t, ok
}

// IsEnum reports whether rt is a registered enum type.
func (r *Registry) IsEnum(rt reflect.Type) bool {
	t, ok := r.Lookup(rt)
	return ok && t.IsEnum()
}

// Capabilities returns registered interface types implemented by rt or a
// pointer to it.
func (r *Registry) Capabilities(rt reflect.Type) []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilitiesLocked(rt)
}

// invalidate drops every cached lookup. Called with r.mu held for writing.
func (r *Registry) invalidate() {
	r.gen.Add(1)
	r.types.Clear()
	r.methods.Clear()
	r.props.Clear()
	r.fields.Clear()
	r.names.Clear()
}

// Generation returns a counter that changes on every registration. Layers
// caching results derived from registrations compare it to detect staleness.
func (r *Registry) Generation() uint64 { return r.gen.Load() }

// store caches a lookup result unless a registration happened since gen
// was read.
func (r *Registry) store(cache *sync.Map, key, value any, gen uint64) {
	if r.gen.Load() == gen {
		cache.Store(key, value)
	}
}

func (r *Registry) typeID(t reflect.Type) uint64 {
	if t == nil {
		return 0
	}
	if v, ok := r.typeIDs.Load(t); ok {
		return v.(uint64)
	}
	v, _ := r.typeIDs.LoadOrStore(t, r.nextID.Add(1))
	return v.(uint64)
}

// Module groups registered types under a name.
type Module struct {
	reg   *Registry
	Name  string
	types []*Type
}

// Add registers t in the module and returns its descriptor. Pointers to
// structs register the struct. Registering a type twice returns the
// existing descriptor.
func (m *Module) Add(t reflect.Type) (*Type, error) {
	return m.AddNamed("", t)
}

// AddNamed registers t under an explicit short name.
func (m *Module) AddNamed(name string, t reflect.Type) (*Type, error) {
	if t == nil {
		return nil, errors.Registration("type", name, errors.InvalidInput(errors.PhaseRegister, "nil type"))
	}
	base := baseType(t)
	if name == "" {
		name = base.Name()
	}
	if name == "" {
		return nil, errors.Registration("type", base.String(),
			errors.InvalidInput(errors.PhaseRegister, "unnamed types need an explicit name"))
	}

	r := m.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.byType[base]; existing != nil {
		return existing, nil
	}
	desc := newType(r, m, base, name)
	m.types = append(m.types, desc)
	r.byType[base] = desc
	r.implicit.Delete(base)
	r.invalidate()

	Logger().Debug("registered type", zap.String("type", desc.FullName))
	return desc, nil
}

// Types returns the module's types in registration order.
func (m *Module) Types() []*Type {
	m.reg.mu.RLock()
	defer m.reg.mu.RUnlock()
	out := make([]*Type, len(m.types))
	copy(out, m.types)
	return out
}

func (m *Module) lookup(name string, fold bool) *Type {
	for _, t := range m.types {
		if t.Name == name || (fold && strings.EqualFold(t.Name, name)) {
			return t
		}
	}
	return nil
}

func baseType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		return t.Elem()
	}
	return t
}
