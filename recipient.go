package stateroom

import "math"

// ClientID names a connected client within one room. It is unique per room
// and stable for the lifetime of the connection. Across the ABI it travels
// as a signed 32-bit value; only the non-negative range is used.
type ClientID uint32

// RecipientKind identifies which MessageRecipient variant a decoded value
// represents.
type RecipientKind int

const (
	// Broadcast addresses every client connected to the room.
	Broadcast RecipientKind = iota
	// ExcludeOne addresses every client except the one named.
	ExcludeOne
	// Single addresses exactly one client.
	Single
)

// MessageRecipient is a decoded addressing value for an outbound message:
// broadcast, exclude-one, or single. The zero value is Broadcast.
type MessageRecipient struct {
	kind   RecipientKind
	client ClientID
}

// BroadcastRecipient addresses every connected client.
func BroadcastRecipient() MessageRecipient {
	return MessageRecipient{kind: Broadcast}
}

// ExcludeRecipient addresses every client except cid.
func ExcludeRecipient(cid ClientID) MessageRecipient {
	return MessageRecipient{kind: ExcludeOne, client: cid}
}

// SingleRecipient addresses exactly cid.
func SingleRecipient(cid ClientID) MessageRecipient {
	return MessageRecipient{kind: Single, client: cid}
}

// Kind reports which variant the recipient is.
func (r MessageRecipient) Kind() RecipientKind { return r.kind }

// Client returns the named client and true for ExcludeOne and Single
// recipients; it returns the zero ClientID and false for Broadcast.
func (r MessageRecipient) Client() (ClientID, bool) {
	if r.kind == Broadcast {
		return 0, false
	}
	return r.client, true
}

// DecodeRecipient decodes a signed 32-bit ABI value into a MessageRecipient.
//
// The encoding is frozen as follows:
//   - -1 decodes to Broadcast.
//   - n < -1 decodes to ExcludeOne(-(n+2)), so client ids 0, 1, 2, ...
//     encode as -2, -3, -4, ...
//   - n >= 0 decodes to Single(n).
//
// This covers the full i32 range injectively except math.MinInt32, whose
// negation overflows; that value is rejected rather than silently misrouted.
func DecodeRecipient(raw int32) (MessageRecipient, error) {
	if raw == math.MinInt32 {
		return MessageRecipient{}, &InvalidRecipientError{Value: raw}
	}
	if raw == -1 {
		return BroadcastRecipient(), nil
	}
	if raw < -1 {
		return ExcludeRecipient(ClientID(-(raw + 2))), nil
	}
	return SingleRecipient(ClientID(raw)), nil
}

// EncodeRecipient encodes a MessageRecipient into the signed 32-bit ABI
// value DecodeRecipient would decode back to the same recipient. Guests
// construct these values themselves; this is provided for host-side
// tooling (tests, the demo driver) that needs to speak the same encoding.
func EncodeRecipient(r MessageRecipient) int32 {
	switch r.kind {
	case Broadcast:
		return -1
	case ExcludeOne:
		return -2 - int32(r.client)
	default:
		return int32(r.client)
	}
}
