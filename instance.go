package stateroom

import (
	"context"
	"fmt"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v14"
)

const (
	requiredAPIVersion      int32 = 1
	requiredProtocolVersion int32 = 0
)

// requiredFunctionExports lists every function a guest module must export
// beyond memory and the two version globals, which are checked separately.
var requiredFunctionExports = []string{
	"jam_malloc", "jam_free", "initialize", "connect", "disconnect", "message", "binary", "timer",
}

// GuestInstance is a room's adapter over one guest Wasm instance: it owns
// the guest's linear memory, typed handles to its exports, and the host
// imports that let the guest reach back out (SPEC_FULL.md §4.B). It has
// single-owner semantics and is never shared between rooms.
type GuestInstance struct {
	roomID string
	store  *wasmtime.Store
	// wasmInstance is kept only so white-box tests can read guest-exported
	// diagnostic globals (e.g. allocation counters) directly; production
	// code never needs it once the typed function handles below exist.
	wasmInstance *wasmtime.Instance
	memory       *wasmtime.Memory

	fnMalloc     *wasmtime.Func
	fnFree       *wasmtime.Func
	fnInitialize *wasmtime.Func
	fnConnect    *wasmtime.Func
	fnDisconnect *wasmtime.Func
	fnMessage    *wasmtime.Func
	fnBinary     *wasmtime.Func
	fnTimer      *wasmtime.Func

	poisoned     bool
	poisonReason string

	// consoleLog, if set, receives the same diagnostic text the structured
	// logger gets for every swallowed trap, so an embedder can route guest
	// diagnostics somewhere other than the package's own log (the teacher's
	// SetLogger/SetWriter seam, generalized from console/stdout text to
	// trap diagnostics since this ABI has no console_log import of its own).
	consoleLog Logger
}

// Build constructs a GuestInstance for one room from a compiled module.
// Each failure aborts with a distinct error kind, per SPEC_FULL.md §4.B: an
// import the guest declared beyond the host's capability set surfaces as
// *UnexpectedImportError, missing exports as *MissingExportError, a version
// disagreement as *VersionMismatchError, and a trap during the initialize
// call as *InitializeTrappedError.
//
// Build does not read ctx: a deadline or cancellation on it has no effect
// on construction. consoleLog may be nil, in which case guest diagnostics
// go only to the structured logger.
func (h *ModuleHandle) Build(ctx context.Context, roomID string, sink ContextSink, consoleLog Logger) (*GuestInstance, error) {
	store, wasmInstance, err := newLinkedInstance(h.engine, h.module, sink)
	if err != nil {
		return nil, err
	}

	g := &GuestInstance{roomID: roomID, store: store, wasmInstance: wasmInstance, consoleLog: consoleLog}

	memExtern := wasmInstance.GetExport(store, "memory")
	if memExtern == nil || memExtern.Memory() == nil {
		store.Close()
		return nil, &CouldNotImportMemoryError{}
	}
	g.memory = memExtern.Memory()

	fns := make(map[string]*wasmtime.Func, len(requiredFunctionExports))
	for _, name := range requiredFunctionExports {
		extern := wasmInstance.GetExport(store, name)
		if extern == nil || extern.Func() == nil {
			store.Close()
			return nil, &MissingExportError{Name: name}
		}
		fns[name] = extern.Func()
	}
	g.fnMalloc = fns["jam_malloc"]
	g.fnFree = fns["jam_free"]
	g.fnInitialize = fns["initialize"]
	g.fnConnect = fns["connect"]
	g.fnDisconnect = fns["disconnect"]
	g.fnMessage = fns["message"]
	g.fnBinary = fns["binary"]
	g.fnTimer = fns["timer"]

	apiVersion, err := readVersionGlobal(store, wasmInstance, g.memory, "JAMSOCKET_API_VERSION")
	if err != nil {
		store.Close()
		return nil, err
	}
	if apiVersion != requiredAPIVersion {
		store.Close()
		return nil, &VersionMismatchError{Field: "api", Expected: requiredAPIVersion, Found: apiVersion}
	}

	protocolVersion, err := readVersionGlobal(store, wasmInstance, g.memory, "JAMSOCKET_API_PROTOCOL")
	if err != nil {
		store.Close()
		return nil, err
	}
	if protocolVersion != requiredProtocolVersion {
		store.Close()
		return nil, &VersionMismatchError{Field: "protocol", Expected: requiredProtocolVersion, Found: protocolVersion}
	}

	if err := g.initialize(roomID); err != nil {
		store.Close()
		return nil, &InitializeTrappedError{Cause: err}
	}

	return g, nil
}

// initialize runs the put-call-free sequence for the room id exactly once,
// at construction, before any other exported function besides
// jam_malloc/jam_free/initialize has been invoked (invariant 4 of §3).
func (g *GuestInstance) initialize(roomID string) error {
	payload := []byte(roomID)
	ptr, err := g.put(payload)
	if err != nil {
		return err
	}
	_, callErr := g.fnInitialize.Call(g.store, ptr, int32(len(payload)))
	freeErr := g.free(ptr, int32(len(payload)))
	if callErr != nil {
		if freeErr != nil {
			log.Warnw("free trapped during initialize", "room", g.roomID, "error", freeErr)
		}
		return callErr
	}
	return freeErr
}

// put runs alloc+write, the first two steps of put-call-free, and returns
// the guest pointer the payload was written to.
func (g *GuestInstance) put(payload []byte) (ptr int32, err error) {
	length := int32(len(payload))
	result, err := g.fnMalloc.Call(g.store, length)
	if err != nil {
		return 0, err
	}
	ptr, ok := result.(int32)
	if !ok {
		return 0, fmt.Errorf("jam_malloc returned non-i32 result")
	}

	data := g.memory.UnsafeData(g.store)
	if ptr < 0 || int64(ptr)+int64(length) > int64(len(data)) {
		// Best-effort cleanup even though the write itself failed.
		_ = g.free(ptr, length)
		return 0, &GuestMemoryOutOfBoundsError{Ptr: ptr, Len: length}
	}
	copy(data[ptr:], payload)
	return ptr, nil
}

func (g *GuestInstance) free(ptr, length int32) error {
	_, err := g.fnFree.Call(g.store, ptr, length)
	return err
}

// logTrap emits rec to the structured logger and, if consoleLog is set,
// forwards a plain-text rendering to it as well.
func (g *GuestInstance) logTrap(rec TrapRecord) {
	logTrap(rec)
	if g.consoleLog == nil {
		return
	}
	if rec.ClientID != nil {
		g.consoleLog(fmt.Sprintf("trap in %s (client %d): %s", rec.Method, uint32(*rec.ClientID), rec.Detail))
	} else {
		g.consoleLog(fmt.Sprintf("trap in %s: %s", rec.Method, rec.Detail))
	}
}

// poison latches the instance as unusable after a trap and records the
// original detail for diagnostics. Once poisoned, every public operation
// short-circuits rather than risking further contact with memory the host
// can no longer trust (the frozen policy from SPEC_FULL.md §4.B).
func (g *GuestInstance) poison(method, detail string) {
	if g.poisoned {
		return
	}
	g.poisoned = true
	g.poisonReason = detail
	g.logTrap(TrapRecord{Room: g.roomID, Method: method, Detail: detail})
}

// PoisonReason reports the original trap detail that poisoned the instance,
// if any.
func (g *GuestInstance) PoisonReason() (string, bool) {
	return g.poisonReason, g.poisoned
}

// deliver runs the put-call-free protocol (§4.B) for a method taking
// (client, ptr, len). It never returns an error to the caller: guest traps
// are caught, logged, and poison the instance instead of propagating.
func (g *GuestInstance) deliver(method string, fn *wasmtime.Func, cid ClientID, payload []byte) {
	if g.poisoned {
		g.logTrap(TrapRecord{Room: g.roomID, Method: method, ClientID: &cid, Detail: "instance poisoned: " + g.poisonReason})
		return
	}

	ptr, err := g.put(payload)
	if err != nil {
		if _, ok := err.(*GuestMemoryOutOfBoundsError); ok {
			g.poison(method, err.Error())
			return
		}
		g.poison(method, (&GuestTrapError{Method: method, Detail: err.Error()}).Error())
		return
	}

	_, callErr := fn.Call(g.store, int32(cid), ptr, int32(len(payload)))

	if freeErr := g.free(ptr, int32(len(payload))); freeErr != nil {
		log.Warnw("free trapped", "room", g.roomID, "method", method, "error", freeErr)
	}

	if callErr != nil {
		g.poison(method, (&GuestTrapError{Method: method, Detail: callErr.Error()}).Error())
	}
}

// callSimple invokes a no-payload export (connect, disconnect, timer),
// catching and swallowing traps the same way deliver does.
func (g *GuestInstance) callSimple(method string, fn *wasmtime.Func, cid *ClientID) {
	if g.poisoned {
		g.logTrap(TrapRecord{Room: g.roomID, Method: method, ClientID: cid, Detail: "instance poisoned: " + g.poisonReason})
		return
	}

	var err error
	if cid != nil {
		_, err = fn.Call(g.store, int32(*cid))
	} else {
		_, err = fn.Call(g.store)
	}
	if err != nil {
		g.poison(method, (&GuestTrapError{Method: method, Detail: err.Error()}).Error())
	}
}

// Connect notifies the guest that cid joined the room.
func (g *GuestInstance) Connect(cid ClientID) { g.callSimple("connect", g.fnConnect, &cid) }

// Disconnect notifies the guest that cid left the room.
func (g *GuestInstance) Disconnect(cid ClientID) { g.callSimple("disconnect", g.fnDisconnect, &cid) }

// Message delivers UTF-8 text from cid to the guest.
func (g *GuestInstance) Message(cid ClientID, text string) {
	g.deliver("message", g.fnMessage, cid, []byte(text))
}

// Binary delivers arbitrary bytes from cid to the guest.
func (g *GuestInstance) Binary(cid ClientID, payload []byte) {
	g.deliver("binary", g.fnBinary, cid, payload)
}

// Timer notifies the guest that a previously requested timer has elapsed.
func (g *GuestInstance) Timer() { g.callSimple("timer", g.fnTimer, nil) }

// Close releases the store, guest memory, and all typed function handles.
// The supervisor may call this at any time between calls; there is no
// mid-call cancellation (§5).
func (g *GuestInstance) Close() error {
	g.store.Close()
	return nil
}
