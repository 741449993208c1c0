package stateroom

import (
	"unicode/utf8"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v14"
)

// hostBridge implements the three host imports guest code calls:
// send_message, send_binary, and set_timer (§4.C). It is registered on the
// linker before the module is instantiated, but its memory handle can only
// be filled in once instantiation produces the guest's exported memory —
// the same "closure captures a mutable pointer, set later" shape the
// teacher's wapc-go engines use for their own host imports, since Wasm
// imports must be linked before the exports that satisfy them exist.
//
// hostBridge holds a strong reference to the room's ContextSink and never
// holds a reference back to the owning GuestInstance, which is what keeps
// guest↔host ownership acyclic (SPEC_FULL.md §9).
type hostBridge struct {
	sink  ContextSink
	store *wasmtime.Store
	mem   *wasmtime.Memory
}

// snapshot returns a fresh view of guest memory, read fresh on every host
// import call so it never retains a borrow past the call that produced it
// (guest code may grow or relocate memory on its next allocation).
func (b *hostBridge) snapshot() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.UnsafeData(b.store)
}

func (b *hostBridge) readBytes(method string, ptr, length int32) ([]byte, *wasmtime.Trap) {
	data := b.snapshot()
	if ptr < 0 || length < 0 || int64(ptr)+int64(length) > int64(len(data)) {
		return nil, wasmtime.NewTrap((&GuestMemoryOutOfBoundsError{Method: method, Ptr: ptr, Len: length}).Error())
	}
	buf := make([]byte, length)
	copy(buf, data[ptr:ptr+length])
	return buf, nil
}

// sendMessageFunc implements send_message(recipient_i32, ptr, len).
func (b *hostBridge) sendMessageFunc(store *wasmtime.Store) *wasmtime.Func {
	return wasmtime.NewFunc(
		store,
		wasmtime.NewFuncType(
			[]*wasmtime.ValType{wasmtime.NewValType(wasmtime.KindI32), wasmtime.NewValType(wasmtime.KindI32), wasmtime.NewValType(wasmtime.KindI32)},
			[]*wasmtime.ValType{},
		),
		func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			recipientRaw := args[0].I32()
			ptr := args[1].I32()
			length := args[2].I32()

			data, trap := b.readBytes("send_message", ptr, length)
			if trap != nil {
				return nil, trap
			}
			if !utf8.Valid(data) {
				return nil, wasmtime.NewTrap((&InvalidUTF8Error{Method: "send_message"}).Error())
			}
			recipient, err := DecodeRecipient(recipientRaw)
			if err != nil {
				return nil, wasmtime.NewTrap(err.Error())
			}
			b.sink.SendMessage(recipient, string(data))
			return []wasmtime.Val{}, nil
		},
	)
}

// sendBinaryFunc implements send_binary(recipient_i32, ptr, len). No
// encoding validation is performed on the payload.
func (b *hostBridge) sendBinaryFunc(store *wasmtime.Store) *wasmtime.Func {
	return wasmtime.NewFunc(
		store,
		wasmtime.NewFuncType(
			[]*wasmtime.ValType{wasmtime.NewValType(wasmtime.KindI32), wasmtime.NewValType(wasmtime.KindI32), wasmtime.NewValType(wasmtime.KindI32)},
			[]*wasmtime.ValType{},
		),
		func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			recipientRaw := args[0].I32()
			ptr := args[1].I32()
			length := args[2].I32()

			data, trap := b.readBytes("send_binary", ptr, length)
			if trap != nil {
				return nil, trap
			}
			recipient, err := DecodeRecipient(recipientRaw)
			if err != nil {
				return nil, wasmtime.NewTrap(err.Error())
			}
			b.sink.SendBinary(recipient, data)
			return []wasmtime.Val{}, nil
		},
	)
}

// setTimerFunc implements set_timer(duration_ms). At most one pending timer
// per room is a supervisor-level behavior (§9); the bridge only forwards
// the request.
func (b *hostBridge) setTimerFunc(store *wasmtime.Store) *wasmtime.Func {
	return wasmtime.NewFunc(
		store,
		wasmtime.NewFuncType(
			[]*wasmtime.ValType{wasmtime.NewValType(wasmtime.KindI32)},
			[]*wasmtime.ValType{},
		),
		func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			durationMS := uint32(args[0].I32())
			b.sink.SetTimer(durationMS)
			return []wasmtime.Val{}, nil
		},
	)
}

// define registers the bridge's three host imports under the "env"
// namespace on linker.
func (b *hostBridge) define(linker *wasmtime.Linker, store *wasmtime.Store) error {
	imports := map[string]*wasmtime.Func{
		"send_message": b.sendMessageFunc(store),
		"send_binary":  b.sendBinaryFunc(store),
		"set_timer":    b.setTimerFunc(store),
	}
	for name, fn := range imports {
		if err := linker.Define(store, "env", name, fn); err != nil {
			return err
		}
	}
	return nil
}
