// Package wire defines the tagged values exchanged between the script engine
// and the host, and their JSON text form.
//
// A Value is one of: null, bool, int32, int64, float32, float64, string,
// object handle, struct record, array, async handle, vector3, vector4 or
// callback slot. Scalar, handle and vector payloads live inline in the Value,
// so constructing and reading them does not allocate.
//
// Struct records are flat objects with the reserved "__type" key first and
// lower-camel field names in declaration order:
//
//	{"__type":"scene.Transform","name":"root","position":{"x":1,"y":2,"z":0}}
package wire
