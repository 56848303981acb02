// Package errors provides structured error types for the script bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type includes rich context: host type, member name, field path and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConvert, errors.KindInvalidData).
//		Path("transform", "position").
//		GoType("scene.Vector3").
//		Detail("record is missing its type tag").
//		Build()
//
// Or use convenience constructors for the dispatch taxonomy:
//
//	err := errors.MemberNotFound("scene.Transform", "method", "Rotate")
//	err := errors.NoCompatibleOverload("scene.Transform", "Translate", 2)
//
// Code maps any error to the integer code carried in invocation results;
// recoverable lookup failures are never fatal, only handle exhaustion is.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
