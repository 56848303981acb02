package handle

import (
	"math"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
)

// Options configures a Table.
type Options struct {
	// MaxHandles bounds the ids a table will ever issue. Ids are never
	// reused, so reaching the bound is fatal for the table.
	MaxHandles int32
}

// DefaultOptions returns default table configuration.
func DefaultOptions() Options {
	return Options{MaxHandles: math.MaxInt32}
}

type identity struct {
	typ reflect.Type
	ptr uintptr
}

type entry struct {
	value       any
	key         identity
	keyed       bool
	finalizable bool
}

// Table maps handles to live host objects. A live object has exactly one
// handle at a time; registering it again returns the same handle.
// Thread-safe: one mutex serializes every operation.
type Table struct {
	entries   map[Handle]*entry
	byKey     map[identity]Handle
	released  map[Handle]struct{}
	observers []Observer
	options   Options
	next      Handle
	peak      int
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

// New creates a table with the given options.
func New(opts Options) *Table {
	if opts.MaxHandles <= 0 {
		opts.MaxHandles = math.MaxInt32
	}
	return &Table{
		entries:  make(map[Handle]*entry, 64),
		byKey:    make(map[identity]Handle, 64),
		released: make(map[Handle]struct{}),
		options:  opts,
	}
}

// NewWithDefaults creates a table with default options.
func NewWithDefaults() *Table {
	return New(DefaultOptions())
}

// Register returns the handle for obj, issuing a new one on first sight.
//
// Only reference kinds (pointers, maps, channels, funcs, unsafe pointers)
// are accepted; value types fail with a ValueType error. A nil reference
// maps to handle 0.
//
// The same live pointer, map or channel always yields the same handle.
// Funcs have no identity: every registration of a func issues a new
// handle, so callers that need one handle per func must keep it. Exhausting the id space returns an Exhausted error that
// callers must treat as fatal.
func (t *Table) Register(obj any) (Handle, error) {
	if obj == nil {
		return 0, nil
	}
	rv := reflect.ValueOf(obj)
	key, keyed, err := identityOf(rv)
	if err != nil {
		return 0, err
	}
	if rv.IsNil() {
		return 0, nil
	}

	t.mu.Lock()
	if keyed {
		if h, ok := t.byKey[key]; ok {
			t.mu.Unlock()
			return h, nil
		}
	}
	if int64(t.next) >= int64(t.options.MaxHandles) {
		t.mu.Unlock()
		Logger().Error("handle table exhausted", zap.Int32("limit", t.options.MaxHandles))
		return 0, errors.Exhausted(t.options.MaxHandles)
	}
	t.next++
	h := t.next
	t.entries[h] = &entry{value: obj, key: key, keyed: keyed}
	if keyed {
		t.byKey[key] = h
	}
	if n := len(t.entries); n > t.peak {
		t.peak = n
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventRegistered, Handle: h, Value: obj})
	return h, nil
}

// Resolve returns the object behind h. Handle 0, released handles and
// never-issued handles report false.
func (t *Table) Resolve(h Handle) (any, bool) {
	if h == 0 {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Lookup returns the handle already issued for obj, without registering it.
func (t *Table) Lookup(obj any) (Handle, bool) {
	if obj == nil {
		return 0, false
	}
	key, keyed, err := identityOf(reflect.ValueOf(obj))
	if err != nil || !keyed {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byKey[key]
	return h, ok
}

// SetFinalizable marks h as having a script-side finalizer. An explicit
// release of such a handle is remembered so that the later finalizer signal
// is absorbed instead of acting twice.
func (t *Table) SetFinalizable(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok {
		e.finalizable = true
	}
}

// Release drops h. It reports false for handle 0 and for handles that are
// not live, so a second release is a no-op.
func (t *Table) Release(h Handle) bool {
	return t.release(h, false)
}

// ReleaseFinalized is the finalizer-driven release. If h was already
// released explicitly the signal is consumed and nothing happens.
func (t *Table) ReleaseFinalized(h Handle) bool {
	return t.release(h, true)
}

func (t *Table) release(h Handle, finalized bool) bool {
	if h == 0 {
		return false
	}

	t.mu.Lock()
	if finalized {
		if _, done := t.released[h]; done {
			delete(t.released, h)
			t.mu.Unlock()
			return false
		}
	}
	e, ok := t.entries[h]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, h)
	if e.keyed {
		delete(t.byKey, e.key)
	}
	if e.finalizable && !finalized {
		t.released[h] = struct{}{}
	}
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	typ := EventReleased
	if finalized {
		typ = EventFinalized
	}
	t.notify(Event{Type: typ, Handle: h, Value: e.value})
	return true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stats returns current and peak population and the highest id issued.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Live: len(t.entries), Peak: t.peak, Issued: int32(t.next)}
}

// Each iterates over live handles in no particular order. The table lock is
// not held while fn runs.
func (t *Table) Each(fn func(Handle, any) bool) {
	t.mu.Lock()
	snapshot := make(map[Handle]any, len(t.entries))
	for h, e := range t.entries {
		snapshot[h] = e.value
	}
	t.mu.Unlock()

	for h, v := range snapshot {
		if !fn(h, v) {
			return
		}
	}
}

// Reset releases every live handle, for context teardown. Ids keep counting
// from where they were so stale handles never resolve to new objects.
func (t *Table) Reset() {
	t.mu.Lock()
	handles := make([]Handle, 0, len(t.entries))
	for h := range t.entries {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		t.Release(h)
	}

	t.mu.Lock()
	clear(t.released)
	t.peak = 0
	t.mu.Unlock()
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnHandleEvent(e)
	}
}

// identityOf computes the dedupe key for a reference value. Funcs are
// accepted but never deduplicated, since closures sharing code share a
// code pointer.
func identityOf(rv reflect.Value) (identity, bool, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return identity{}, false, nil
		}
		return identity{typ: rv.Type(), ptr: rv.Pointer()}, true, nil
	case reflect.Func:
		return identity{}, false, nil
	default:
		return identity{}, false, errors.ValueType(rv.Type().String())
	}
}
