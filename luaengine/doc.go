// Package luaengine exposes bridged host objects to Lua scripts running on
// gopher-lua.
//
// Objects cross as proxies. Reading a key that names a method yields a
// closure to call with ':', so p:level() calls Level(). Other keys read a
// property (GetX, or X paired with SetX) and then a field. Assigning tries
// a property, then a field.
//
//	local Player = host.type("game.Player")
//	local p = Player("ada")
//	p.level = 3
//	print(p:greet("bob"), p.name)
//
// Types are reached through host.type. Calling a type constructs an
// instance, indexing it reads static properties, static fields, enum values
// and static methods.
//
// Host methods that return an awaitable produce promises:
//
//	p:load("map"):next(function(v) print(v) end, function(err) print(err) end)
//
// Promises settle in Engine.Tick, the only point where finished host
// operations become visible to the script. Tick also releases handles whose
// proxies were collected.
//
// Lua functions passed to the host occupy callback slots while a host
// delegate made from them is reachable; Tick frees the rest. host.callback
// pins a function until host.uncallback or Close.
//
// Fast-call bindings are reached through the __zaInvokeN globals, where N is
// the argument count:
//
//	local add = host.binding("add")
//	local sum = __zaInvoke2(add, 3, 4)
//
// Value mapping: numbers, strings, booleans and nil map directly. Tables with
// keys 1..n become arrays, tables with string keys become records (a
// "__type" key tags the host type) and vector values arrive as {x,y,z[,w]}
// or {r,g,b,a} tables that convert back to vectors.
//
// An Engine is bound to one goroutine.
package luaengine
