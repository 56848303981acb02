// Package marshal converts host values to wire values and back.
//
// Structs cross the boundary as records. A record starts with the "__type"
// tag followed by the lower-camel field names in declaration order:
//
//	type Transform struct {
//		Position Vec3
//		Scale    float64
//	}
//
//	{"__type":"scene.Transform","position":{"x":0,"y":1,"z":0},"scale":2}
//
// Descriptors are built once per type from exported fields and read-write
// property pairs (X/SetX or GetX/SetX). Embedded structs without a json tag
// are flattened; a json tag renames a field or hides it with "-". Custom
// serializer pairs registered with Registry.Register take precedence and
// cannot be replaced.
//
// Deserialization tolerates partial records: missing fields keep their zero
// value and unknown keys are ignored.
//
// Structs shaped exactly X,Y,Z[,W] or R,G,B,A with float fields travel as
// packed vectors. Structs shaped like sql.NullString travel as their value
// or null.
//
// Pointers, channels, funcs and maps with non-string keys are reference
// values and cross as object handles.
package marshal
