package async

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/wire"
)

// OpID identifies a pending operation. It travels to scripts as an async
// handle. Ids start at 1 and are never reused within a bridge.
type OpID int32

// Operation is host work that completes later. It runs on its own
// goroutine; ctx is cancelled when the bridge closes.
type Operation func(ctx context.Context) (any, error)

// Awaitable is a result that completes later. Dispatch wraps members
// returning an Awaitable into an async handle.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Completion is a finished operation waiting to be delivered to the script.
type Completion struct {
	Value   wire.Value
	Message string
	ID      OpID
	OK      bool
}

// Resolver delivers one completion to the script side.
type Resolver func(c Completion)

// Options configures a Bridge.
type Options struct {
	// HighWater is the queue length that triggers a growth warning. The
	// queue itself is unbounded. Zero disables the warning.
	HighWater int
}

// DefaultOptions returns the default bridge options.
func DefaultOptions() Options {
	return Options{HighWater: 1024}
}

type pendingResult struct {
	value any
	err   error
	id    OpID
}

// Bridge collects completions of host operations and hands them to the
// script engine in FIFO order. Operations only enqueue; completions become
// visible to scripts when the engine thread calls ProcessCompletions.
type Bridge struct {
	ctx     context.Context
	cancel  context.CancelFunc
	marshal *marshal.Marshaler
	queue   []pendingResult
	next    atomic.Int32
	running atomic.Int32
	high    int
	wg      sync.WaitGroup
	mu      sync.Mutex
	warned  bool
	closed  bool
}

// New creates a bridge marshaling results through m.
func New(opts Options, m *marshal.Marshaler) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		ctx:     ctx,
		cancel:  cancel,
		marshal: m,
		high:    opts.HighWater,
	}
}

// NewWithDefaults creates a bridge with default options.
func NewWithDefaults(m *marshal.Marshaler) *Bridge {
	return New(DefaultOptions(), m)
}

// Register starts op and returns its id. A panic inside op rejects the
// operation.
func (b *Bridge) Register(op Operation) OpID {
	id := OpID(b.next.Add(1))
	if op == nil {
		b.enqueue(pendingResult{id: id, err: errors.InvalidInput(errors.PhaseAsync, "nil operation")})
		return id
	}

	b.running.Add(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.running.Add(-1)
		value, err := run(b.ctx, op)
		b.enqueue(pendingResult{id: id, value: value, err: err})
	}()
	return id
}

// Await registers an operation waiting on a.
func (b *Bridge) Await(a Awaitable) OpID {
	return b.Register(a.Await)
}

// Track allocates an id for an operation driven by the caller. The returned
// function completes it; calls after the first are ignored.
func (b *Bridge) Track() (OpID, func(value any, err error)) {
	id := OpID(b.next.Add(1))
	b.running.Add(1)
	var once sync.Once
	return id, func(value any, err error) {
		once.Do(func() {
			b.running.Add(-1)
			b.enqueue(pendingResult{id: id, value: value, err: err})
		})
	}
}

func run(ctx context.Context, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("async operation panicked", zap.Any("panic", r))
			err = errors.New(errors.PhaseAsync, errors.KindInvocationFault).
				Value(r).Detail("panic: %v", r).Build()
		}
	}()
	return op(ctx)
}

func (b *Bridge) enqueue(r pendingResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, r)
	if b.high > 0 && len(b.queue) >= b.high && !b.warned {
		b.warned = true
		Logger().Warn("completion queue growing",
			zap.Int("queued", len(b.queue)),
			zap.Int("high_water", b.high),
			zap.Error(errors.New(errors.PhaseAsync, errors.KindQueueGrowth).
				Detail("completion queue reached %d entries", len(b.queue)).Build()))
	}
}

// ProcessCompletions delivers every queued completion to r in the order the
// operations finished and returns how many were delivered. Call it from the
// engine thread. Results are marshaled here so handles are created on the
// engine side.
func (b *Bridge) ProcessCompletions(r Resolver) int {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.warned = false
	b.mu.Unlock()

	for _, p := range batch {
		r(b.complete(p))
	}
	return len(batch)
}

func (b *Bridge) complete(p pendingResult) Completion {
	c := Completion{ID: p.id}
	if p.err != nil {
		c.Message = message(p.err)
		return c
	}
	v, err := b.marshal.ToWire(p.value)
	if err != nil {
		Logger().Warn("async result could not be marshaled",
			zap.Int32("id", int32(p.id)),
			zap.Error(err))
		c.Message = message(err)
		return c
	}
	c.OK = true
	c.Value = v
	return c
}

func message(err error) string {
	var be *errors.Error
	if errors.As(err, &be) {
		return be.Message()
	}
	return err.Error()
}

// Queued returns the number of completions waiting to be drained.
func (b *Bridge) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Pending returns the number of operations still running.
func (b *Bridge) Pending() int {
	return int(b.running.Load())
}

// Wait blocks until every operation started with Register has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close cancels running operations, waits for them and drops undelivered
// completions.
func (b *Bridge) Close() error {
	b.cancel()
	b.wg.Wait()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if n := len(b.queue); n > 0 {
		Logger().Debug("dropping undelivered completions", zap.Int("count", n))
	}
	b.queue = nil
	return nil
}

// String implements fmt.Stringer for diagnostics.
func (id OpID) String() string {
	return fmt.Sprintf("op#%d", int32(id))
}
