package marshal

import (
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/reflection"
	"github.com/wippyai/script-bridge/wire"
)

// Serializer renders a host struct as a record.
type Serializer func(v any) (*wire.Record, error)

// Deserializer rebuilds a host struct from a record. It must return a value
// of the registered type.
type Deserializer func(rec *wire.Record) (any, error)

// Descriptor describes how one struct type crosses the boundary.
type Descriptor struct {
	Type     reflect.Type
	WireName string
	ser      Serializer
	de       Deserializer
	fields   []accessor
}

// Custom reports whether the descriptor uses a registered serializer pair.
func (d *Descriptor) Custom() bool { return d.ser != nil }

// Fields returns the wire names of the generic field list in order.
func (d *Descriptor) Fields() []string {
	out := make([]string, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.name
	}
	return out
}

// accessor reads and writes one wire field: an exported struct field or a
// read-write property method pair.
type accessor struct {
	typ    reflect.Type
	name   string
	index  []int
	getter string
	setter string
}

// Registry holds struct descriptors. A type registers at most once; generic
// descriptors are built on first encounter and cached. Thread-safe.
type Registry struct {
	byType map[reflect.Type]*Descriptor
	byName map[string]*Descriptor
	skip   map[reflect.Type]bool
	names  func(reflect.Type) string
	mu     sync.RWMutex
}

// NewRegistry creates a registry. When types is non-nil, record type tags
// use the names types were registered under.
func NewRegistry(types *reflection.Registry) *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]*Descriptor),
		byName: make(map[string]*Descriptor),
		skip:   make(map[reflect.Type]bool),
		names:  func(t reflect.Type) string { return t.String() },
	}
	if types != nil {
		r.names = func(t reflect.Type) string {
			if desc, ok := types.Lookup(t); ok {
				return desc.FullName
			}
			return t.String()
		}
	}
	return r
}

// Register installs a descriptor for t: the custom serializer pair, or the
// generic field-by-field one when both are nil. A type is described at most
// once; registering a type that already has a descriptor fails.
func (r *Registry) Register(t reflect.Type, ser Serializer, de Deserializer) error {
	if t == nil || t.Kind() != reflect.Struct {
		return errors.Registration("struct", typeString(t), errors.InvalidInput(errors.PhaseRegister, "not a struct type"))
	}
	if (ser == nil) != (de == nil) {
		return errors.Registration("struct", t.String(), errors.InvalidInput(errors.PhaseRegister, "serializer and deserializer must be given together"))
	}
	if ser == nil && t.Name() == "" {
		return errors.Registration("struct", t.String(), errors.InvalidInput(errors.PhaseRegister, "generic descriptors need a named type"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[t]; ok {
		return errors.Registration("struct", t.String(), errors.InvalidInput(errors.PhaseRegister, "already registered"))
	}
	d := &Descriptor{Type: t, WireName: r.names(t), ser: ser, de: de}
	if ser == nil {
		d.fields = accessors(t)
	}
	r.add(d)
	return nil
}

// Descriptor returns the descriptor for t, building a generic one on first
// encounter when t is eligible.
func (r *Registry) Descriptor(t reflect.Type) (*Descriptor, bool) {
	r.mu.RLock()
	d, ok := r.byType[t]
	skipped := r.skip[t]
	r.mu.RUnlock()
	if ok {
		return d, true
	}
	if skipped {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byType[t]; ok {
		return d, true
	}
	if !Eligible(t) {
		r.skip[t] = true
		return nil, false
	}
	d = &Descriptor{Type: t, WireName: r.names(t), fields: accessors(t)}
	r.add(d)
	return d, true
}

func (r *Registry) registered(t reflect.Type) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[t]
	return d, ok
}

// Named returns the descriptor whose wire name is name.
func (r *Registry) Named(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Len returns the number of descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

func (r *Registry) add(d *Descriptor) {
	r.byType[d.Type] = d
	r.byName[d.WireName] = d
	r.byName[d.Type.String()] = d
	delete(r.skip, d.Type)

	Logger().Debug("registered struct descriptor",
		zap.String("type", d.Type.String()),
		zap.String("wire_name", d.WireName),
		zap.Bool("custom", d.Custom()))
}

// Eligible reports whether t can be auto-registered: a named struct with at
// least one exported field or read-write property that is not a nullable
// wrapper.
func Eligible(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t.Name() == "" {
		return false
	}
	if _, ok := NullableField(t); ok {
		return false
	}
	return len(accessors(t)) > 0
}

// NullableField reports whether t has the shape of a nullable wrapper: one
// value field plus a "Valid bool" field, like sql.NullString. It returns the
// index of the value field.
func NullableField(t reflect.Type) (int, bool) {
	if t.Kind() != reflect.Struct || t.NumField() != 2 {
		return 0, false
	}
	for i := 0; i < 2; i++ {
		f := t.Field(i)
		if f.Name == "Valid" && f.Type.Kind() == reflect.Bool {
			other := 1 - i
			if t.Field(other).IsExported() {
				return other, true
			}
		}
	}
	return 0, false
}

func accessors(t reflect.Type) []accessor {
	var out []accessor
	seen := map[string]bool{}
	collectFields(t, nil, seen, &out)

	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		set := pt.Method(i)
		prop, ok := strings.CutPrefix(set.Name, "Set")
		if !ok || prop == "" || set.Type.NumIn() != 2 || set.Type.NumOut() != 0 {
			continue
		}
		name := reflection.LowerCamel(prop)
		if seen[name] {
			continue
		}
		for _, getName := range []string{prop, "Get" + prop} {
			get, ok := pt.MethodByName(getName)
			if ok && get.Type.NumIn() == 1 && get.Type.NumOut() == 1 && get.Type.Out(0) == set.Type.In(1) {
				seen[name] = true
				out = append(out, accessor{typ: get.Type.Out(0), name: name, getter: getName, setter: set.Name})
				break
			}
		}
	}
	return out
}

func collectFields(t reflect.Type, prefix []int, seen map[string]bool, out *[]accessor) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := make([]int, len(prefix)+1)
		copy(index, prefix)
		index[len(prefix)] = i

		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get("json") == "" {
			collectFields(f.Type, index, seen, out)
			continue
		}
		if !f.IsExported() {
			continue
		}
		name := LowerCamelField(f)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		*out = append(*out, accessor{typ: f.Type, name: name, index: index})
	}
}

// LowerCamelField returns the wire name of a struct field: the json tag name
// when present, otherwise the lower-camel field name. It returns "" for
// fields tagged "-".
func LowerCamelField(f reflect.StructField) string {
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return reflection.LowerCamel(f.Name)
}

func typeString(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
