package callback

import (
	"runtime"
	"sync"

	"github.com/wippyai/script-bridge/errors"
	"github.com/wippyai/script-bridge/wire"
)

// DefaultMaxSlots is the slot table capacity used when none is configured.
const DefaultMaxSlots = 4096

// Slots is a fixed-capacity table of script functions addressed by slot
// number. Slots are reused after removal; allocation scans round-robin from
// the slot after the last one handed out.
//
// A slot stays occupied while it is pinned or while a delegate leased from
// it is reachable. Sweep frees the rest.
type Slots struct {
	fns    []Function
	refs   []int32
	pinned []bool
	gens   []uint32
	next   int
	count  int
	mu     sync.Mutex

	expired []slotRef
	emu     sync.Mutex
}

type slotRef struct {
	slot int32
	gen  uint32
}

// lease is the Function handed to delegates. Its collection releases one
// reference on the slot.
type lease struct {
	fn Function
}

func (l *lease) Call(args []wire.Value) (wire.Value, error) {
	return l.fn.Call(args)
}

// NewSlots creates a table holding at most max functions.
func NewSlots(max int) *Slots {
	if max <= 0 {
		max = DefaultMaxSlots
	}
	return &Slots{
		fns:    make([]Function, max),
		refs:   make([]int32, max),
		pinned: make([]bool, max),
		gens:   make([]uint32, max),
	}
}

// Add stores fn and returns its slot.
func (s *Slots) Add(fn Function) (int32, error) {
	if fn == nil {
		return -1, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.fns)
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		if s.fns[idx] == nil {
			s.fns[idx] = fn
			s.next = (idx + 1) % n
			s.count++
			return int32(idx), nil
		}
	}
	return -1, errors.New(errors.PhaseCallback, errors.KindInvalidInput).
		Detail("callback table full (%d slots)", n).Build()
}

// Get returns the function in slot.
func (s *Slots) Get(slot int32) (Function, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(slot) {
		return nil, false
	}
	return s.fns[slot], true
}

// Lease returns a Function calling the one in slot and holds the slot until
// the returned value is garbage collected.
func (s *Slots) Lease(slot int32) (Function, bool) {
	s.mu.Lock()
	if !s.validLocked(slot) {
		s.mu.Unlock()
		return nil, false
	}
	s.refs[slot]++
	l := &lease{fn: s.fns[slot]}
	ref := slotRef{slot: slot, gen: s.gens[slot]}
	s.mu.Unlock()

	runtime.AddCleanup(l, s.expire, ref)
	return l, true
}

func (s *Slots) expire(ref slotRef) {
	s.emu.Lock()
	s.expired = append(s.expired, ref)
	s.emu.Unlock()
}

// Pin keeps slot occupied until Remove regardless of leases.
func (s *Slots) Pin(slot int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(slot) {
		return false
	}
	s.pinned[slot] = true
	return true
}

// Remove empties slot. It reports false when the slot was already empty.
func (s *Slots) Remove(slot int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(slot) {
		return false
	}
	s.clearLocked(int(slot))
	return true
}

// Sweep settles leases whose delegates were collected, then empties every
// unpinned slot without a live lease whose function owned accepts. A nil
// owned accepts all. The removed functions are returned.
func (s *Slots) Sweep(owned func(Function) bool) []Function {
	s.emu.Lock()
	expired := s.expired
	s.expired = nil
	s.emu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ref := range expired {
		if s.gens[ref.slot] == ref.gen && s.refs[ref.slot] > 0 {
			s.refs[ref.slot]--
		}
	}

	var out []Function
	for i, fn := range s.fns {
		if fn == nil || s.pinned[i] || s.refs[i] > 0 {
			continue
		}
		if owned != nil && !owned(fn) {
			continue
		}
		s.clearLocked(i)
		out = append(out, fn)
	}
	return out
}

// Len returns the number of occupied slots.
func (s *Slots) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reset empties every slot.
func (s *Slots) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.fns {
		if s.fns[i] != nil {
			s.clearLocked(i)
		}
	}
	s.next = 0
}

func (s *Slots) validLocked(slot int32) bool {
	return slot >= 0 && int(slot) < len(s.fns) && s.fns[slot] != nil
}

// clearLocked empties slot i. Bumping the generation orphans outstanding
// leases so their collection cannot touch a reused slot.
func (s *Slots) clearLocked(i int) {
	s.fns[i] = nil
	s.refs[i] = 0
	s.pinned[i] = false
	s.gens[i]++
	s.count--
}
