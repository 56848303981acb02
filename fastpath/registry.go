package fastpath

import (
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/wire"
)

// Handler computes a fast call. It reads args and writes its result to
// out, which the registry resets to null before the call.
type Handler func(args *Args, out *wire.Value) error

type binding struct {
	fn    Handler
	name  string
	arity int
}

// Registry maps binding ids to handlers. Ids start at 1, are stable for the
// life of the registry and are never reused after Unbind. Thread-safe.
type Registry struct {
	bindings map[int32]*binding
	names    map[string]int32
	next     int32
	limit    int32
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[int32]*binding),
		names:    make(map[string]int32),
		limit:    math.MaxInt32,
	}
}

// Bind registers h and returns its id.
func (r *Registry) Bind(h Handler) (int32, error) {
	return r.bind("", h, -1)
}

// BindNamed registers h under name so scripts can look the id up. Binding a
// name twice replaces the name's target; the old id stays valid.
func (r *Registry) BindNamed(name string, h Handler) (int32, error) {
	if name == "" {
		return 0, errors.InvalidInput(errors.PhaseFastPath, "binding name cannot be empty")
	}
	return r.bind(name, h, -1)
}

func (r *Registry) bind(name string, h Handler, arity int) (int32, error) {
	if h == nil {
		return 0, errors.InvalidInput(errors.PhaseFastPath, "nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= r.limit {
		return 0, errors.Exhausted(r.limit)
	}
	r.next++
	id := r.next
	r.bindings[id] = &binding{fn: h, name: name, arity: arity}
	if name != "" {
		r.names[name] = id
	}

	Logger().Debug("bound fast call",
		zap.Int32("id", id),
		zap.String("name", name),
		zap.Int("arity", arity))
	return id, nil
}

// Unbind removes a binding. It reports whether the id was bound.
func (r *Registry) Unbind(id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[id]
	if !ok {
		return false
	}
	delete(r.bindings, id)
	if b.name != "" && r.names[b.name] == id {
		delete(r.names, b.name)
	}
	return true
}

// Lookup returns the id bound to name.
func (r *Registry) Lookup(name string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	return id, ok
}

// Len returns the number of live bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Invoke runs binding id with args and stores its result in out. An
// unknown id reports BindingNotFound and leaves out null; the caller may
// continue. A panicking handler reports an invocation fault.
//
// Invoking a handler that does not itself allocate performs no heap
// allocation.
func (r *Registry) Invoke(id int32, args *Args, out *wire.Value) (err error) {
	*out = wire.Value{}

	r.mu.RLock()
	b := r.bindings[id]
	r.mu.RUnlock()

	if b == nil {
		Logger().Warn("fast call binding not found", zap.Int32("id", id))
		return errors.BindingNotFound(id)
	}
	if b.arity > 0 && args.Len() < b.arity {
		return errors.InvalidInput(errors.PhaseFastPath, "binding "+bindingName(id, b)+" needs more arguments")
	}

	defer func() {
		if rec := recover(); rec != nil {
			Logger().Error("fast call panicked", zap.Int32("id", id), zap.Any("panic", rec))
			*out = wire.Value{}
			err = errors.Panic("fastpath", bindingName(id, b), rec)
		}
	}()
	return b.fn(args, out)
}

func bindingName(id int32, b *binding) string {
	if b.name != "" {
		return b.name
	}
	return "#" + strconv.Itoa(int(id))
}
