// Package scriptbridge lets scripts drive Go host objects through
// reflection, and lets host code call back into scripts.
//
// Scripts never see Go pointers. They hold integer handles, call members by
// name, and exchange values in a small tagged wire format. The host side
// resolves names against a registry of types and dispatches through
// reflection, with a fast path for hot numeric calls.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	scriptbridge/
//	├── bridge/       Facade wiring one script context's components
//	├── wire/         Tagged values, records and the JSON codec
//	├── reflection/   Type registry and member resolution
//	├── handle/       Integer handles for live host objects
//	├── marshal/      Go values to wire values and struct records
//	├── convert/      Argument coercion and overload scoring
//	├── dispatch/     Request execution and error results
//	├── fastpath/     Pre-bound zero-allocation call slots
//	├── async/        Completion queue drained on the script thread
//	├── callback/     Script function slots and host delegates
//	├── luaengine/    gopher-lua engine with object proxies and promises
//	├── wasmguest/    wazero host module for wasm guests
//	├── config/       YAML configuration, validation and logger setup
//	└── errors/       Structured error types and wire codes
//
// # Quick Start
//
// Register a type and run a script against it:
//
//	b := bridge.NewWithDefaults()
//	defer b.Close()
//
//	player, _ := b.Module("game").Add(reflect.TypeFor[*Player]())
//	player.Ctor(NewPlayer)
//
//	eng, _ := luaengine.NewFromBridge(b)
//	defer eng.Close()
//
//	eng.DoString(ctx, `
//	    local p = host.type("game.Player")("ann")
//	    p.score = 10
//	    p:jump(2)
//	`)
//
// Requests can also be sent without a script engine:
//
//	res := b.Invoke(ctx, dispatch.Request{
//	    Kind:   dispatch.CallGetProp,
//	    Target: h,
//	    Member: "name",
//	})
//
// # Threading
//
// A bridge's tables are safe for concurrent use. Script engines are not:
// each engine, its callbacks and its Tick calls belong to one goroutine.
// Async operations run on their own goroutines and deliver results through
// the completion queue, which the engine drains on its own goroutine.
package scriptbridge
