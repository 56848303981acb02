// Package convert turns wire values into values of host parameter types.
//
// Conversion is a fixed sequence of attempts, the first success wins:
//
//  0. Materialize: object handles resolve to their objects (a released
//     handle becomes nil) and callback slots become delegates when the
//     target is a func type.
//  1. Direct assignment.
//  2. Struct deserialization of records and vectors, arrays into slices,
//     records into string-keyed maps.
//  3. Implicit conversions: registered converters, a To<Target>() method on
//     the source, or a registered static From<Source> on the target.
//     Results are cached per (source, target) pair.
//  4. Enum values from numbers or names. Names match exactly, then
//     case-insensitively, then after rewriting "dark-blue" or "darkBlue"
//     to "DarkBlue".
//  5. Primitive coercion between numbers, bools and numeric strings.
//  6. A single-argument constructor registered on the target.
//
// When nothing applies the natural value passes through unchanged and the
// invocation that receives it reports the mismatch.
package convert
