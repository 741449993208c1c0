package stateroom

import (
	logging "github.com/ipfs/go-log/v2"
)

// log is the package-scoped structured logger for trap-log records and for
// jam_free traps. Call sites use the key-value forms (Infow/Warnw/Errorw)
// rather than fmt-interpolated strings.
var log = logging.Logger("stateroom")

// Logger is the function signature for a GuestInstance's diagnostic
// output: every swallowed trap is forwarded to it as plain text, in
// addition to the structured logger above, so an embedder can send those
// diagnostics somewhere else entirely. Guest WASI stdout/stderr writes do
// not go through it; they are inherited by the host process directly.
type Logger func(msg string)

// TrapRecord is the structured diagnostic emitted whenever a guest trap is
// swallowed at the instance boundary (§4.B's failure policy).
type TrapRecord struct {
	Room     string
	Method   string
	ClientID *ClientID
	Detail   string
}

func logTrap(rec TrapRecord) {
	fields := []interface{}{"room", rec.Room, "method", rec.Method, "detail", rec.Detail}
	if rec.ClientID != nil {
		fields = append(fields, "client", uint32(*rec.ClientID))
	}
	log.Warnw("guest trap swallowed", fields...)
}
