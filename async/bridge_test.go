package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/script-bridge/handle"
	"github.com/wippyai/script-bridge/marshal"
	"github.com/wippyai/script-bridge/reflection"
)

func newBridge(opts Options) *Bridge {
	types := reflection.NewRegistry()
	return New(opts, marshal.New(marshal.NewRegistry(types), handle.NewWithDefaults(), types))
}

func drain(b *Bridge) []Completion {
	var out []Completion
	b.ProcessCompletions(func(c Completion) { out = append(out, c) })
	return out
}

func TestBridge_Resolve(t *testing.T) {
	b := newBridge(DefaultOptions())
	defer b.Close()

	id := b.Register(func(context.Context) (any, error) { return 42, nil })
	if id != 1 {
		t.Fatalf("Expected first id 1, got %d", id)
	}
	b.Wait()

	got := drain(b)
	if len(got) != 1 {
		t.Fatalf("Expected 1 completion, got %d", len(got))
	}
	c := got[0]
	if c.ID != id || !c.OK || c.Value.Int() != 42 {
		t.Fatalf("Unexpected completion %+v", c)
	}
	if n := b.ProcessCompletions(func(Completion) {}); n != 0 {
		t.Fatalf("Expected drained queue, got %d", n)
	}
}

func TestBridge_Reject(t *testing.T) {
	b := newBridge(DefaultOptions())
	defer b.Close()

	b.Register(func(context.Context) (any, error) { return nil, errors.New("boom") })
	b.Wait()

	got := drain(b)
	if len(got) != 1 || got[0].OK || got[0].Message != "boom" {
		t.Fatalf("Expected rejection with boom, got %+v", got)
	}
}

func TestBridge_Panic(t *testing.T) {
	b := newBridge(DefaultOptions())
	defer b.Close()

	b.Register(func(context.Context) (any, error) { panic("bad") })
	b.Wait()

	got := drain(b)
	if len(got) != 1 || got[0].OK {
		t.Fatalf("Expected rejection, got %+v", got)
	}
}

func TestBridge_FIFO(t *testing.T) {
	b := newBridge(DefaultOptions())
	defer b.Close()

	var completes []func(any, error)
	var ids []OpID
	for i := 0; i < 3; i++ {
		id, complete := b.Track()
		ids = append(ids, id)
		completes = append(completes, complete)
	}
	if b.Pending() != 3 {
		t.Fatalf("Expected 3 pending, got %d", b.Pending())
	}

	completes[2](nil, nil)
	completes[0]("a", nil)
	completes[1](nil, errors.New("x"))
	completes[0]("ignored", nil)

	got := drain(b)
	want := []OpID{ids[2], ids[0], ids[1]}
	if len(got) != len(want) {
		t.Fatalf("Expected %d completions, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("Completion %d: expected id %d, got %d", i, want[i], got[i].ID)
		}
	}
	if !got[1].OK || got[1].Value.Str() != "a" {
		t.Fatalf("Unexpected completion %+v", got[1])
	}
	if b.Pending() != 0 {
		t.Fatalf("Expected 0 pending, got %d", b.Pending())
	}
}

func TestBridge_Concurrent(t *testing.T) {
	b := newBridge(Options{})
	defer b.Close()

	const n = 50
	seen := make(map[OpID]bool)
	for i := 0; i < n; i++ {
		b.Register(func(context.Context) (any, error) { return i, nil })
	}
	b.Wait()

	b.ProcessCompletions(func(c Completion) { seen[c.ID] = true })
	if len(seen) != n {
		t.Fatalf("Expected %d distinct completions, got %d", n, len(seen))
	}
}

func TestBridge_HighWater(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	b := newBridge(Options{HighWater: 2})
	defer b.Close()

	for i := 0; i < 4; i++ {
		_, complete := b.Track()
		complete(i, nil)
	}
	if n := logs.FilterMessage("completion queue growing").Len(); n != 1 {
		t.Fatalf("Expected one warning per crossing, got %d", n)
	}

	drain(b)
	for i := 0; i < 2; i++ {
		_, complete := b.Track()
		complete(i, nil)
	}
	if n := logs.FilterMessage("completion queue growing").Len(); n != 2 {
		t.Fatalf("Expected a second warning after draining, got %d", n)
	}
}

func TestBridge_Close(t *testing.T) {
	b := newBridge(DefaultOptions())

	started := make(chan struct{})
	b.Register(func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := b.Queued(); n != 0 {
		t.Fatalf("Expected no queued completions after close, got %d", n)
	}
}

func TestFuture(t *testing.T) {
	ctx := context.Background()

	f := Go(ctx, func(context.Context) (string, error) { return "done", nil })
	v, err := f.Get(ctx)
	if err != nil || v != "done" {
		t.Fatalf("Expected done, got %q, %v", v, err)
	}

	boom := errors.New("boom")
	if _, err := Rejected[int](boom).Await(ctx); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if v, _ := Resolved(7).Await(ctx); v != 7 {
		t.Fatalf("Expected 7, got %v", v)
	}

	panicky := Go(ctx, func(context.Context) (int, error) { panic("bad") })
	if _, err := panicky.Get(ctx); err == nil {
		t.Fatal("Expected error from panicking future")
	}
}

func TestFuture_ContextCancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := Go(context.Background(), func(context.Context) (int, error) {
		<-block
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
}

func TestBridge_Await(t *testing.T) {
	b := newBridge(DefaultOptions())
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	f := Go(context.Background(), func(context.Context) (float64, error) {
		defer wg.Done()
		return 1.5, nil
	})
	wg.Wait()

	b.Await(f)
	b.Wait()
	got := drain(b)
	if len(got) != 1 || !got[0].OK || got[0].Value.Float() != 1.5 {
		t.Fatalf("Unexpected completion %+v", got)
	}
}
