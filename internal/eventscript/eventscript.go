// Package eventscript parses the JSON event scripts the stateroom-run demo
// driver feeds to a single GuestInstance, standing in for the events a real
// supervisor would otherwise dequeue from connected clients.
package eventscript

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind names one of the five session-service events a script entry can
// drive.
type Kind string

const (
	Connect    Kind = "connect"
	Disconnect Kind = "disconnect"
	Message    Kind = "message"
	Binary     Kind = "binary"
	Timer      Kind = "timer"
)

// Event is one line of a script: Client and Text/Data are only meaningful
// for the Kinds that use them.
type Event struct {
	Kind   Kind   `json:"kind"`
	Client uint32 `json:"client,omitempty"`
	Text   string `json:"text,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// Load reads and decodes a JSON array of events from path.
func Load(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event script: %w", err)
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing event script: %w", err)
	}

	for i, e := range events {
		switch e.Kind {
		case Connect, Disconnect, Message, Binary, Timer:
		default:
			return nil, fmt.Errorf("event %d: unknown kind %q", i, e.Kind)
		}
	}

	return events, nil
}
