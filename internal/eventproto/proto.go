// Package eventproto defines the JSON wire protocol pushed from the notify
// server to its dashboard clients over a WebSocket connection.
package eventproto

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event kinds identify the type of payload carried by a [Frame]. The
// discriminator field is "event"; liveness probes use "type" instead,
// matching the reference dashboard's {"type":"ping"} frames.
const (
	KindStateUpdate       = "state_update"
	KindBillingUpdate     = "billing_update"
	KindBillingUpdateBulk = "billing_update_bulk"
	KindPing              = "ping"
	KindPong              = "pong"
	KindUnknown           = ""
)

// FlexID is a numeric identifier that tolerates being encoded as either a
// JSON number or a numeric string, both of which the server has emitted
// historically.
type FlexID int64

func (f *FlexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("id %q is not numeric", s)
	}
	*f = FlexID(n)
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(f), 10)), nil
}

// Frame is the top-level envelope exchanged on the event WebSocket.
// Exactly one of Event or Type carries the discriminator.
type Frame struct {
	Event string `json:"event,omitempty"`
	Type  string `json:"type,omitempty"`

	// state_update fields.
	ID             FlexID  `json:"id,omitempty"`
	Client         string  `json:"client,omitempty"`
	ConnectionName string  `json:"connection_name,omitempty"`
	State          string  `json:"state,omitempty"`
	Timestamp      float64 `json:"timestamp,omitempty"`

	// billing_update fields.
	ClientID    FlexID `json:"client_id,omitempty"`
	Status      string `json:"status,omitempty"`
	BillingDate string `json:"billing_date,omitempty"` // ISO date, may be empty
	LocalTime   string `json:"local_time,omitempty"`
}

// Kind returns the frame's discriminator, normalized. Probe frames carry it
// in the "type" field; everything else uses "event". Unrecognized values are
// returned as-is so callers can log them.
func (f Frame) Kind() string {
	if f.Event != "" {
		return f.Event
	}
	return f.Type
}

// Decode parses a raw WebSocket frame into a [Frame]. Unknown event kinds
// decode successfully; only malformed JSON or non-coercible id fields fail.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode event frame: %w", err)
	}
	return f, nil
}

// Ping returns the outbound liveness probe frame.
func Ping() Frame {
	return Frame{Type: KindPing}
}

// Pong returns the probe reply frame.
func Pong() Frame {
	return Frame{Type: KindPong}
}

// StateUpdate builds the broadcast frame for a connectivity change.
func StateUpdate(id int64, clientName, connectionName, state string) Frame {
	return Frame{
		Event:          KindStateUpdate,
		ID:             FlexID(id),
		Client:         clientName,
		ConnectionName: connectionName,
		State:          state,
		Timestamp:      float64(time.Now().UnixMilli()) / 1000,
	}
}

// BillingUpdate builds the broadcast frame for a billing status change.
// billingDate may be zero when the client has no due date set.
func BillingUpdate(clientID int64, status string, billingDate time.Time, now time.Time) Frame {
	f := Frame{
		Event:     KindBillingUpdate,
		ClientID:  FlexID(clientID),
		Status:    status,
		LocalTime: now.Format("2006-01-02 15:04:05 MST"),
	}
	if !billingDate.IsZero() {
		f.BillingDate = billingDate.Format("2006-01-02")
	}
	return f
}

// BillingUpdateBulk builds the broadcast frame telling dashboards to refetch
// the whole client collection; bulk operations do not enumerate records.
func BillingUpdateBulk() Frame {
	return Frame{Event: KindBillingUpdateBulk}
}
