// Package bridge composes the handle table, type registry, marshaling,
// conversion, dispatch, fast path, completion queue and callback slots into
// one object per script context.
//
//	b := bridge.NewWithDefaults()
//	defer b.Close()
//
//	scene := b.Module("scene")
//	node, _ := scene.Add(reflect.TypeFor[*Node]())
//	node.Ctor(NewNode)
//
//	h, _ := b.Register(root)
//	res := b.Invoke(ctx, dispatch.Request{Kind: dispatch.CallGetProp, Target: h, Member: "Name"})
//
// Script engines sit on top of a Bridge; see the luaengine and wasmguest
// packages.
package bridge
