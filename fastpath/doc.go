// Package fastpath provides a pre-registered, allocation-free call lane for
// hot per-frame operations.
//
// A binding is registered once and afterwards called by integer id without
// any member resolution or reflection:
//
//	reg := fastpath.NewRegistry()
//	add, _ := reg.BindFunc(func(a, b float64) float64 { return a + b })
//
//	args := fastpath.Pack(wire.Number(3), wire.Number(4))
//	var out wire.Value
//	err := reg.Invoke(add, &args, &out) // out.Float() == 7
//
// Args is a fixed array of MaxArgs values, so callers keep it on the stack
// or reuse one per call site. Functions with a specialised signature (see
// BindFunc) and hand-written Handlers run without heap allocation. Other
// scalar signatures fall back to reflection and allocate.
//
// An unknown id reports a BindingNotFound error. It is not fatal; callers
// typically log it and treat the result as null.
package fastpath
