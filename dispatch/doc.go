// Package dispatch executes script-to-host invocation requests.
//
// A Request names a call kind, a type, a member, an optional target handle
// and wire arguments:
//
//	d := dispatch.New(types, handles, marshaler, converter, completions)
//	res := d.Invoke(ctx, dispatch.Request{
//		Kind:     dispatch.CallMethod,
//		TypeName: "scene.Node",
//		Target:   h,
//		Member:   "Rename",
//		Args:     []wire.Value{wire.String("root")},
//	})
//
// Instance calls act on the dynamic type of the live target, so a
// derived object answers members called through a base type name. Static
// calls and constructors resolve TypeName through the registry.
//
// Overloads are chosen by the first declared candidate whose parameters
// accept the argument types. Arguments are then converted with the
// conversion engine; a candidate selected by types whose arguments still
// fail to convert is an invocation fault.
//
// Results are marshaled to wire values. A member returning an
// async.Awaitable yields an async handle, completed later through the
// attached completion bridge.
//
// # Failure codes
//
//	0  OK
//	1  type, member, handle or binding not found
//	2  no compatible overload
//	3  invocation fault, including panics in host members
//	4  malformed request or read-only member
//	5  fatal lifetime error
//
// Invoke never panics.
package dispatch
