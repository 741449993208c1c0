package stateroom

import (
	"encoding/binary"
	"strings"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v14"
)

// ModuleLoader compiles guest binaries once and produces ModuleHandles that
// are safe to share across rooms and threads (SPEC_FULL.md §4.A). A single
// ModuleLoader owns the compilation engine its handles are built with.
type ModuleLoader struct {
	engine *wasmtime.Engine
}

// NewModuleLoader creates a loader with a fresh compilation engine.
func NewModuleLoader() *ModuleLoader {
	return &ModuleLoader{engine: wasmtime.NewEngine()}
}

// ModuleHandle is the immutable, shareable result of loading a guest
// binary: the compiled module plus the engine it was produced with. It is
// never mutated after construction.
type ModuleHandle struct {
	engine *wasmtime.Engine
	module *wasmtime.Module
}

// Load compiles code into a ModuleHandle. It fails with an
// *InvalidModuleError if the binary does not parse or link; when linking
// fails because the guest declares an import outside the host's fixed
// capability set (env's three functions plus the WASI preview 1 imports),
// that *InvalidModuleError wraps an *UnexpectedImportError reachable with
// errors.As. It fails with a *MissingImportError if the host's own WASI or
// env definitions could not be registered on the linker.
func (l *ModuleLoader) Load(code []byte) (*ModuleHandle, error) {
	module, err := wasmtime.NewModule(l.engine, code)
	if err != nil {
		return nil, NewInvalidModuleError(err)
	}

	// A throwaway instantiation against the exact capability set we grant
	// real rooms proves the module's imports are all satisfiable (and that
	// it declares nothing beyond them) without keeping anything around.
	store, _, err := newLinkedInstance(l.engine, module, NoOpContextSink{})
	if err != nil {
		if _, ok := err.(*UnexpectedImportError); ok {
			return nil, NewInvalidModuleError(err)
		}
		return nil, err
	}
	defer store.Close()

	return &ModuleHandle{engine: l.engine, module: module}, nil
}

// Inspect loads code and reports its declared ABI and protocol versions
// without retaining a room: it reuses the exact version-global-read logic
// GuestInstance construction uses, against a throwaway instance built with
// a NoOpContextSink.
func (l *ModuleLoader) Inspect(code []byte) (apiVersion, protocolVersion int32, err error) {
	module, err := wasmtime.NewModule(l.engine, code)
	if err != nil {
		return 0, 0, NewInvalidModuleError(err)
	}

	store, instance, err := newLinkedInstance(l.engine, module, NoOpContextSink{})
	if err != nil {
		return 0, 0, err
	}
	defer store.Close()

	memExtern := instance.GetExport(store, "memory")
	if memExtern == nil || memExtern.Memory() == nil {
		return 0, 0, &CouldNotImportMemoryError{}
	}
	mem := memExtern.Memory()

	apiVersion, err = readVersionGlobal(store, instance, mem, "JAMSOCKET_API_VERSION")
	if err != nil {
		return 0, 0, err
	}
	protocolVersion, err = readVersionGlobal(store, instance, mem, "JAMSOCKET_API_PROTOCOL")
	if err != nil {
		return 0, 0, err
	}
	return apiVersion, protocolVersion, nil
}

// newLinkedInstance creates a store, wires the three host imports and WASI
// against sink, and instantiates module. It is shared by ModuleLoader.Load,
// ModuleLoader.Inspect, and GuestInstance construction so there is exactly
// one place that knows how a guest module gets linked.
func newLinkedInstance(engine *wasmtime.Engine, module *wasmtime.Module, sink ContextSink) (*wasmtime.Store, *wasmtime.Instance, error) {
	store := wasmtime.NewStore(engine)

	wasiConfig := wasmtime.NewWasiConfig()
	wasiConfig.InheritStdout()
	wasiConfig.InheritStderr()
	store.SetWasi(wasiConfig)

	linker := wasmtime.NewLinker(engine)
	if err := linker.DefineWasi(); err != nil {
		store.Close()
		return nil, nil, &MissingImportError{Name: "wasi", Cause: err}
	}

	bridge := &hostBridge{sink: sink, store: store}
	if err := bridge.define(linker, store); err != nil {
		store.Close()
		return nil, nil, &MissingImportError{Name: "env", Cause: err}
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		store.Close()
		mod, name := parseUnresolvedImport(err)
		return nil, nil, &UnexpectedImportError{Module: mod, Name: name, Cause: err}
	}

	if memExtern := instance.GetExport(store, "memory"); memExtern != nil {
		bridge.mem = memExtern.Memory()
	}

	return store, instance, nil
}

// parseUnresolvedImport best-effort extracts the "module::name" pair
// wasmtime's unresolved-import error text names, without depending on
// wasmtime.Module.Imports() introspection (whose exact return shape against
// the pinned engine is not relied on elsewhere in this package either). Any
// text that doesn't contain a "::" separator yields two empty strings.
func parseUnresolvedImport(err error) (module, name string) {
	idx := strings.Index(err.Error(), "::")
	if idx < 0 {
		return "", ""
	}
	before := err.Error()[:idx]
	after := err.Error()[idx+2:]

	fields := strings.Fields(before)
	if len(fields) > 0 {
		module = fields[len(fields)-1]
	}
	fields = strings.FieldsFunc(after, func(r rune) bool {
		return r == '`' || r == '\'' || r == '"' || r == ' ' || r == ','
	})
	if len(fields) > 0 {
		name = fields[0]
	}
	return module, name
}

// readVersionGlobal implements the version-global indirection from
// SPEC_FULL.md §6: name identifies an i32 global holding a pointer into
// guest memory, and a little-endian i32 lives at that address.
func readVersionGlobal(store *wasmtime.Store, instance *wasmtime.Instance, mem *wasmtime.Memory, name string) (int32, error) {
	globalExtern := instance.GetExport(store, name)
	if globalExtern == nil || globalExtern.Global() == nil {
		return 0, &CouldNotImportGlobalError{Name: name}
	}
	val := globalExtern.Global().Get(store)
	if val.Kind() != wasmtime.KindI32 {
		return 0, &CouldNotImportGlobalError{Name: name}
	}
	ptr := val.I32()

	data := mem.UnsafeData(store)
	if ptr < 0 || int64(ptr)+4 > int64(len(data)) {
		return 0, &CouldNotImportGlobalError{Name: name}
	}
	return int32(binary.LittleEndian.Uint32(data[ptr : ptr+4])), nil
}
