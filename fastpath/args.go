package fastpath

import "github.com/wippyai/script-bridge/wire"

// MaxArgs is the largest arity a binding can receive.
const MaxArgs = 6

// Args carries the arguments of one fast call. It is a fixed array meant
// to live on the caller's stack; reading and writing it never allocates.
type Args struct {
	vals [MaxArgs]wire.Value
	n    int
}

// Pack builds Args from up to MaxArgs values. Extra values are dropped.
func Pack(vals ...wire.Value) Args {
	var a Args
	for _, v := range vals {
		if !a.Push(v) {
			break
		}
	}
	return a
}

// Push appends v and reports whether there was room.
func (a *Args) Push(v wire.Value) bool {
	if a.n == MaxArgs {
		return false
	}
	a.vals[a.n] = v
	a.n++
	return true
}

// Reset empties a for reuse.
func (a *Args) Reset() {
	for i := 0; i < a.n; i++ {
		a.vals[i] = wire.Value{}
	}
	a.n = 0
}

// Len returns the number of arguments.
func (a *Args) Len() int { return a.n }

// At returns argument i, or null when i is out of range.
func (a *Args) At(i int) wire.Value {
	if i < 0 || i >= a.n {
		return wire.Value{}
	}
	return a.vals[i]
}

func (a *Args) Float(i int) float64  { return a.At(i).Float() }
func (a *Args) Int(i int) int64      { return a.At(i).Int() }
func (a *Args) Bool(i int) bool      { return a.At(i).Bool() }
func (a *Args) Str(i int) string     { return a.At(i).Str() }
func (a *Args) Vec(i int) [4]float32 { return a.At(i).Vec() }
func (a *Args) Handle(i int) int32   { return a.At(i).Handle() }
