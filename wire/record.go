package wire

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// TypeKey is the reserved record key carrying the host type name.
const TypeKey = "__type"

// Record is a flat, ordered set of named fields plus a type tag. It is the
// wire form of a host struct.
type Record struct {
	fields *orderedmap.OrderedMap[string, Value]
	Type   string
}

// NewRecord creates an empty record tagged with typeName.
func NewRecord(typeName string) *Record {
	return &Record{
		Type:   typeName,
		fields: orderedmap.New[string, Value](),
	}
}

// Set stores a field, keeping the position of an existing key.
func (r *Record) Set(name string, v Value) {
	r.fields.Set(name, v)
}

// Get returns a field by name.
func (r *Record) Get(name string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	return r.fields.Get(name)
}

// Delete removes a field.
func (r *Record) Delete(name string) {
	r.fields.Delete(name)
}

// Len returns the number of fields, excluding the type tag.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return r.fields.Len()
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, r.fields.Len())
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Each calls fn for every field in insertion order until fn returns false.
func (r *Record) Each(fn func(name string, v Value) bool) {
	if r == nil {
		return
	}
	for pair := r.fields.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Equal reports whether two records carry the same tag and fields in the
// same order.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Type != o.Type || r.fields.Len() != o.fields.Len() {
		return false
	}
	a, b := r.fields.Oldest(), o.fields.Oldest()
	for a != nil && b != nil {
		if a.Key != b.Key || !a.Value.Equal(b.Value) {
			return false
		}
		a, b = a.Next(), b.Next()
	}
	return true
}

// MarshalJSON renders the record in the flat wire format.
func (r *Record) MarshalJSON() ([]byte, error) {
	return appendRecord(nil, r), nil
}
