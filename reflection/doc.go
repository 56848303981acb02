// Package reflection resolves host types and their members by name and
// caches the results.
//
// Types are registered into named modules:
//
//	reg := reflection.NewRegistry()
//	scene := reg.Module("scene")
//	tr, _ := scene.Add(reflect.TypeFor[Transform]())
//	tr.Ctor(NewTransform)
//	tr.Static("Identity", Identity)
//	tr.Extend("Translate", func(t *Transform, dx, dy float64) { ... })
//
// ResolveType("scene.Transform") finds the descriptor; the short name and a
// case-insensitive spelling also work.
//
// # Hierarchy
//
// A type's hierarchy is the type itself followed by its embedded structs,
// depth-first. Member lookups walk it most-derived first and at each level
// only consider members declared there, so a method that shadows a promoted
// one is found on the outer type, while a promoted method is found on the
// embedded type that declares it.
//
// # Overloads
//
// Go has no overloading, but extensions and statics registered under the
// same name form overload sets. FindMethod returns the first candidate
// whose parameter count matches and whose parameters structurally accept
// the arguments; there is no best-match ranking. A leading context.Context
// parameter is injected by the caller and never matched.
//
// # Caching
//
// Type, method, property and field lookups are cached in sync.Maps, misses
// included. Any registration invalidates every cache.
package reflection
