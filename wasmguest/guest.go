package wasmguest

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/script-bridge/errors"
)

// Guest is one instantiated wasm module.
type Guest struct {
	rt   *Runtime
	mod  api.Module
	name string
}

// Name returns the module name the guest was instantiated under.
func (g *Guest) Name() string { return g.name }

// Call invokes an exported function with raw wasm values. Use api.EncodeF64
// and friends to build params.
func (g *Guest) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := g.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseDispatch, errors.KindMemberNotFound).
			GoType(g.name).Member(name).Detail("export %s not found", name).Build()
	}
	out, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.InvocationFault(g.name, name, err)
	}
	return out, nil
}

// Read copies length bytes of guest memory at offset.
func (g *Guest) Read(offset, length uint32) ([]byte, error) {
	mem := g.mod.Memory()
	if mem == nil {
		return nil, errors.Unsupported(errors.PhaseCodec, "guest "+g.name+" exports no memory")
	}
	data, ok := mem.Read(offset, length)
	if !ok {
		return nil, errors.New(errors.PhaseCodec, errors.KindInvalidInput).
			Detail("read out of bounds: offset=%d, length=%d", offset, length).Build()
	}
	return append([]byte(nil), data...), nil
}

// Write copies data into guest memory at offset.
func (g *Guest) Write(offset uint32, data []byte) error {
	mem := g.mod.Memory()
	if mem == nil {
		return errors.Unsupported(errors.PhaseCodec, "guest "+g.name+" exports no memory")
	}
	if !mem.Write(offset, data) {
		return errors.New(errors.PhaseCodec, errors.KindInvalidInput).
			Detail("write out of bounds: offset=%d, length=%d", offset, len(data)).Build()
	}
	return nil
}

// Close stops the guest and drops results it left unread.
func (g *Guest) Close(ctx context.Context) error {
	g.rt.mu.Lock()
	if g.rt.pending != nil {
		delete(g.rt.pending, g.name)
		delete(g.rt.errs, g.name)
	}
	g.rt.mu.Unlock()
	return g.mod.Close(ctx)
}
