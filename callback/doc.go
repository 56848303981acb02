// Package callback wraps script functions into typed host delegates.
//
// Scripts pass functions to the host as callback slots. The host side picks
// a delegate from the parameter type it needs: one of the enumerated shapes
// such as func(), func(string) or func(any) bool, or a func taking up to two
// reference-typed parameters such as func(*Event). The delegate marshals its
// arguments, calls the script synchronously and converts the result. Other
// delegate types are reported as unsupported rather than approximated.
//
// Delegates resolved from slots lease them. A slot that is neither pinned
// nor leased by a reachable delegate is freed by Slots.Sweep.
package callback
