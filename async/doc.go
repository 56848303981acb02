// Package async bridges host operations that complete later to the
// single-threaded script engine.
//
// Register starts an operation on its own goroutine and returns an id the
// script holds as a promise. When the operation finishes its goroutine only
// enqueues a Completion; nothing touches the script engine. The engine
// thread periodically calls ProcessCompletions, which delivers completions
// in FIFO order:
//
//	id := bridge.Register(func(ctx context.Context) (any, error) {
//		return fetchScore(ctx)
//	})
//	...
//	bridge.ProcessCompletions(func(c async.Completion) {
//		if c.OK {
//			resolve(c.ID, c.Value)
//		} else {
//			reject(c.ID, c.Message)
//		}
//	})
//
// The queue is unbounded. Crossing the configured high-water mark logs a
// single warning until the queue drains below it again. Scripts cannot
// cancel operations; closing the bridge cancels their context.
package async
