package stateroom

import "fmt"

// InvalidModuleError is returned when a guest binary does not parse, link,
// or otherwise fails to compile as a valid Wasm module.
type InvalidModuleError struct {
	Cause error
}

func (e *InvalidModuleError) Error() string {
	return fmt.Sprintf("invalid guest module: %s", e.Cause)
}

func (e *InvalidModuleError) Unwrap() error { return e.Cause }

// NewInvalidModuleError wraps a compile/link failure from the underlying engine.
func NewInvalidModuleError(cause error) error {
	return &InvalidModuleError{Cause: cause}
}

// UnexpectedImportError is returned when a guest module declares an import
// outside the host's fixed capability set (SPEC_FULL.md §4.A: WASI plus
// env.send_message, env.send_binary, env.set_timer) and the linker
// therefore refuses to instantiate it. Module and Name are filled in on a
// best-effort basis, parsed out of the underlying wasmtime error text; they
// are left empty rather than guessed wrong when that text doesn't match the
// expected shape. ModuleLoader.Load returns it wrapped in an
// *InvalidModuleError.
type UnexpectedImportError struct {
	Module string
	Name   string
	Cause  error
}

func (e *UnexpectedImportError) Error() string {
	if e.Module != "" || e.Name != "" {
		return fmt.Sprintf("unexpected guest import %q.%q: %s", e.Module, e.Name, e.Cause)
	}
	return fmt.Sprintf("unexpected guest import: %s", e.Cause)
}

func (e *UnexpectedImportError) Unwrap() error { return e.Cause }

// MissingImportError is returned when the host's own WASI or env
// definitions fail to register on the linker before the guest module is
// ever instantiated; it reflects a host-side setup failure, not a guest
// import outside the capability set (see UnexpectedImportError for that).
type MissingImportError struct {
	Name  string
	Cause error
}

func (e *MissingImportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("missing import %q: %s", e.Name, e.Cause)
	}
	return fmt.Sprintf("missing import %q", e.Name)
}

func (e *MissingImportError) Unwrap() error { return e.Cause }

// MissingExportError is returned when a guest module does not export one of
// the functions the ABI requires. A missing memory or version global is
// reported as *CouldNotImportMemoryError or *CouldNotImportGlobalError.
type MissingExportError struct {
	Name string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("missing export %q", e.Name)
}

// VersionMismatchError is returned when a guest's declared ABI or protocol
// version does not match the version the host was built against.
type VersionMismatchError struct {
	Field    string
	Expected int32
	Found    int32
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s version mismatch: expected %d, found %d", e.Field, e.Expected, e.Found)
}

// InitializeTrappedError is returned when the guest's initialize function
// traps during construction.
type InitializeTrappedError struct {
	Cause error
}

func (e *InitializeTrappedError) Error() string {
	return fmt.Sprintf("initialize trapped: %s", e.Cause)
}

func (e *InitializeTrappedError) Unwrap() error { return e.Cause }

// CouldNotImportMemoryError is returned when a guest module does not export
// a memory named "memory".
type CouldNotImportMemoryError struct{}

func (e *CouldNotImportMemoryError) Error() string {
	return "could not import guest memory"
}

// CouldNotImportGlobalError is returned when a required global export is
// missing or not an i32.
type CouldNotImportGlobalError struct {
	Name string
}

func (e *CouldNotImportGlobalError) Error() string {
	return fmt.Sprintf("could not import global %q", e.Name)
}

// GuestTrapError records a trap raised by a guest call during event
// delivery. It is logged and swallowed at the instance boundary, never
// propagated to the supervisor.
type GuestTrapError struct {
	Method string
	Detail string
}

func (e *GuestTrapError) Error() string {
	return fmt.Sprintf("guest trap in %q: %s", e.Method, e.Detail)
}

// GuestMemoryOutOfBoundsError is returned when a put-call-free write, or a
// host-import memory read, would run past the guest's current memory size.
type GuestMemoryOutOfBoundsError struct {
	Method string
	Ptr    int32
	Len    int32
}

func (e *GuestMemoryOutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: guest memory out of bounds at [%d, %d)", e.Method, e.Ptr, e.Ptr+e.Len)
}

// InvalidUTF8Error is returned when a guest passes bytes that are not valid
// UTF-8 to a host import expecting text.
type InvalidUTF8Error struct {
	Method string
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("%s: payload is not valid utf-8", e.Method)
}

// InvalidRecipientError is returned when a 32-bit value does not decode to
// any MessageRecipient variant.
type InvalidRecipientError struct {
	Value int32
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient encoding: %d", e.Value)
}
