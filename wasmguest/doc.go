// Package wasmguest runs WebAssembly guests on wazero and lets them call into
// a bridge.
//
// Guests import the scriptbridge module:
//
//	invoke(req_ptr, req_len, out_ptr, out_cap i32) -> i32
//	result(ptr, cap i32) -> i32
//	last_error(ptr, cap i32) -> i32
//	release(handle i32) -> i32
//	fast_f64_0 .. fast_f64_3(id i32, f64...) -> f64
//	fast_i64_0 .. fast_i64_3(id i32, i64...) -> i64
//
// invoke reads a JSON request from guest memory, dispatches it and writes the
// JSON result to out_ptr. It always returns the result length. When that is
// larger than out_cap nothing is written; the guest grows its buffer and
// fetches the held result with result.
//
// The fast lanes carry scalars only. A failed fast call returns NaN (f64) or
// 0 (i64) and leaves its message for last_error until it is read or the
// next fast call succeeds.
//
//	rt, err := wasmguest.New(ctx, b, wasmguest.Config{MemoryLimitPages: 16})
//	g, err := rt.Instantiate(ctx, wasmBytes, "physics")
//	out, err := g.Call(ctx, "step", api.EncodeF64(dt))
//
// Host functions run on the goroutine that called into the guest.
package wasmguest
