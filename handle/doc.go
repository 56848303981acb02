// Package handle maps integer handles to live host objects so that scripts
// can hold references to them.
//
// # Handles
//
// Handles are 1-based int32 ids. Handle 0 is the null reference and never
// resolves. Ids are issued monotonically and never reused, so a stale handle
// held by a script can never alias a newer object:
//
//	table := handle.NewWithDefaults()
//
//	h, err := table.Register(node) // same node, same handle
//	obj, ok := table.Resolve(h)
//	table.Release(h)              // second call reports false
//
// Only reference types are admitted. Registering a struct value, scalar,
// string, slice or array fails with a ValueType error, because such values
// have no identity to hand back later.
//
// # Finalization
//
// Scripts release handles explicitly, and their garbage collector also
// signals when a proxy dies. SetFinalizable marks handles that will receive
// such a signal; an explicit Release of one is remembered in an
// already-released set and the later ReleaseFinalized call is absorbed.
//
// # Observers
//
// Observers receive EventRegistered, EventReleased and EventFinalized
// notifications, which is enough to build leak tracking on top of the table.
// Objects implementing Dropper are notified when their handle is released.
package handle
