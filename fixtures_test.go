package stateroom

import (
	"testing"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v14"
)

// The fixtures below are hand-written WAT guest modules standing in for
// compiled Rust/AssemblyScript guests: the retrieval corpus this package
// was grounded on ships no prebuilt .wasm binaries, so tests compile these
// at run time with wasmtime.Wat2Wasm. Each shares a small prelude — a bump
// allocator, the two version globals indirected through memory per
// SPEC_FULL.md §6 — and differs only in the exported behavior a given test
// needs to exercise.

const guestPrelude = `
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))

  (global $heap (mut i32) (i32.const 1024))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))

  (func (export "jam_free") (param $ptr i32) (param $len i32))

  (func (export "initialize") (param $ptr i32) (param $len i32))
  (func (export "connect") (param $cid i32))
  (func (export "disconnect") (param $cid i32))
  (func (export "timer"))
`

// echoGuestWAT broadcasts every message and binary payload it receives
// unchanged, with no regard for the sender (scenario 1 and scenario 4 of
// SPEC_FULL.md §8).
const echoGuestWAT = `(module` + guestPrelude + `
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_message (i32.const -1) (local.get $ptr) (local.get $len)))

  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_binary (i32.const -1) (local.get $ptr) (local.get $len)))
)`

// excludeGuestWAT rebroadcasts a message to everyone except its sender,
// exercising the ExcludeOne recipient encoding (scenario 2).
const excludeGuestWAT = `(module` + guestPrelude + `
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_message (i32.sub (i32.const -2) (local.get $cid)) (local.get $ptr) (local.get $len)))

  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_binary (i32.const -1) (local.get $ptr) (local.get $len)))
)`

// timerGuestWAT requests a single timer on connect and broadcasts a fixed
// message once it fires (scenario 3). It can't reuse guestPrelude because
// connect and timer need real bodies instead of the prelude's no-ops.
const timerGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))
  (global $heap (mut i32) (i32.const 1024))

  (data (i32.const 300) "tick")

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))
  (func (export "jam_free") (param $ptr i32) (param $len i32))
  (func (export "initialize") (param $ptr i32) (param $len i32))

  (func (export "connect") (param $cid i32)
    (call $set_timer (i32.const 100)))
  (func (export "disconnect") (param $cid i32))

  (func (export "timer")
    (call $send_message (i32.const -1) (i32.const 300) (i32.const 4)))

  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32))
  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32))
)`

// versionMismatchGuestWAT declares protocol version 1 instead of the 0 this
// package requires (scenario 5 / the version-gate invariant).
const versionMismatchGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\01\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))
  (global $heap (mut i32) (i32.const 1024))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))
  (func (export "jam_free") (param $ptr i32) (param $len i32))
  (func (export "initialize") (param $ptr i32) (param $len i32))
  (func (export "connect") (param $cid i32))
  (func (export "disconnect") (param $cid i32))
  (func (export "timer"))
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32))
  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32))
)`

// trapGuestWAT unconditionally traps on message, to exercise trap
// containment and the poisoning policy (scenario 6).
const trapGuestWAT = `(module` + guestPrelude + `
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32)
    unreachable)

  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_binary (i32.const -1) (local.get $ptr) (local.get $len)))
)`

// missingExportGuestWAT omits the "disconnect" export entirely, to exercise
// construction failing with *MissingExportError.
const missingExportGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))
  (global $heap (mut i32) (i32.const 1024))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))
  (func (export "jam_free") (param $ptr i32) (param $len i32))
  (func (export "initialize") (param $ptr i32) (param $len i32))
  (func (export "connect") (param $cid i32))
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32))
  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32))
  (func (export "timer"))
)`

// unexpectedImportGuestWAT declares an import beyond the host's capability
// set, which must make linking fail with *UnexpectedImportError.
const unexpectedImportGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))
  (import "env" "mystery_fn" (func $mystery (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))
  (global $heap (mut i32) (i32.const 1024))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))
  (func (export "jam_free") (param $ptr i32) (param $len i32))
  (func (export "initialize") (param $ptr i32) (param $len i32))
  (func (export "connect") (param $cid i32))
  (func (export "disconnect") (param $cid i32))
  (func (export "timer"))
  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32))
  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32))
)`

// isolationGuestWAT copies its room id into memory at initialize and
// prefixes every broadcast message with it, to prove two instances of the
// same module never share state (the Isolation invariant of §8).
const isolationGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))

  (global $heap (mut i32) (i32.const 1024))
  (global $roomLen (mut i32) (i32.const 0))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))
  (func (export "jam_free") (param $ptr i32) (param $len i32))

  (func (export "initialize") (param $ptr i32) (param $len i32)
    (local $i i32)
    (global.set $roomLen (local.get $len))
    (local.set $i (i32.const 0))
    (block $break
      (loop $loop
        (br_if $break (i32.ge_u (local.get $i) (local.get $len)))
        (i32.store8
          (i32.add (i32.const 512) (local.get $i))
          (i32.load8_u (i32.add (local.get $ptr) (local.get $i))))
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br $loop))))

  (func (export "connect") (param $cid i32))
  (func (export "disconnect") (param $cid i32))
  (func (export "timer"))
  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32))

  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32)
    (local $i i32)
    (local $rl i32)
    (local.set $rl (global.get $roomLen))
    (local.set $i (i32.const 0))
    (block $break1
      (loop $loop1
        (br_if $break1 (i32.ge_u (local.get $i) (local.get $rl)))
        (i32.store8
          (i32.add (i32.const 700) (local.get $i))
          (i32.load8_u (i32.add (i32.const 512) (local.get $i))))
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br $loop1)))
    (local.set $i (i32.const 0))
    (block $break2
      (loop $loop2
        (br_if $break2 (i32.ge_u (local.get $i) (local.get $len)))
        (i32.store8
          (i32.add (i32.add (i32.const 700) (local.get $rl)) (local.get $i))
          (i32.load8_u (i32.add (local.get $ptr) (local.get $i))))
        (local.set $i (i32.add (local.get $i) (i32.const 1)))
        (br $loop2)))
    (call $send_message (i32.const -1) (i32.const 700) (i32.add (local.get $rl) (local.get $len))))
)`

// countingGuestWAT exports its allocation/free call counts as globals so a
// white-box test can confirm the put-call-free protocol always frees
// exactly what it allocated (the Alloc/free balance invariant of §8).
const countingGuestWAT = `(module
  (import "env" "send_message" (func $send_message (param i32 i32 i32)))
  (import "env" "send_binary" (func $send_binary (param i32 i32 i32)))
  (import "env" "set_timer" (func $set_timer (param i32)))

  (memory (export "memory") 4)

  (data (i32.const 8) "\01\00\00\00")
  (data (i32.const 12) "\00\00\00\00")
  (global (export "JAMSOCKET_API_VERSION") i32 (i32.const 8))
  (global (export "JAMSOCKET_API_PROTOCOL") i32 (i32.const 12))

  (global $heap (mut i32) (i32.const 1024))
  (global $mallocCount (export "malloc_count") (mut i32) (i32.const 0))
  (global $freeCount (export "free_count") (mut i32) (i32.const 0))

  (func (export "jam_malloc") (param $len i32) (result i32)
    (local $p i32)
    (global.set $mallocCount (i32.add (global.get $mallocCount) (i32.const 1)))
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $len)))
    (local.get $p))

  (func (export "jam_free") (param $ptr i32) (param $len i32)
    (global.set $freeCount (i32.add (global.get $freeCount) (i32.const 1))))

  (func (export "initialize") (param $ptr i32) (param $len i32))
  (func (export "connect") (param $cid i32))
  (func (export "disconnect") (param $cid i32))
  (func (export "timer"))

  (func (export "message") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_message (i32.const -1) (local.get $ptr) (local.get $len)))

  (func (export "binary") (param $cid i32) (param $ptr i32) (param $len i32)
    (call $send_binary (i32.const -1) (local.get $ptr) (local.get $len)))
)`

// compileFixture turns WAT source into a ModuleHandle, failing the test
// immediately if either the text-to-binary step or Load itself errors.
func compileFixture(t *testing.T, loader *ModuleLoader, wat string) *ModuleHandle {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		t.Fatalf("Wat2Wasm: %v", err)
	}
	handle, err := loader.Load(wasm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return handle
}
