// Package stateroom loads WebAssembly guest modules that implement a
// realtime session service — connect/disconnect/message/binary/timer — and
// adapts each one into a per-room Go value the rest of a server can drive
// without knowing anything about Wasm. See SPEC_FULL.md for the full
// contract; the short version is three pieces: ModuleLoader compiles a
// guest once, ModuleHandle.Build spins up one isolated instance per room,
// and the three send_message/send_binary/set_timer host imports carry
// guest-originated events back out through a ContextSink.
package stateroom
