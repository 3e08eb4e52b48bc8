// Package hub fans detection events out to websocket clients
// using a channel-based broadcast loop.
package hub

import (
	"encoding/json"
	"time"
)

// Message types sent to clients.
const (
	TypeEvent  = "event"  // A session event
	TypeStatus = "status" // Controller status snapshot
)

// Envelope is the JSON frame written to every client.
type Envelope struct {
	Type string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps v in an envelope of the given type.
func Encode(typ string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Time: time.Now().UTC(), Data: data})
}
