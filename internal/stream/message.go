package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"flight-status-backend/internal/model"
	"flight-status-backend/internal/status"
)

// MessageType discriminates the payloads sent over a push connection.
type MessageType string

const (
	TypeConnected    MessageType = "connected"
	TypeFlightStatus MessageType = "flight_status"
	TypeFlightUpdate MessageType = "flight_update"
)

// Message is the JSON payload of one server-sent event. flight_status
// messages carry a full Status; flight_update messages carry only the
// changed fields in Update.
type Message struct {
	Type      MessageType      `json:"type"`
	FlightID  string           `json:"flightId,omitempty"`
	Status    *status.Resolved `json:"status,omitempty"`
	Update    *status.Delta    `json:"update,omitempty"`
	Flight    *model.Flight    `json:"flight,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	UpdatedBy string           `json:"updatedBy,omitempty"`
	User      string           `json:"user,omitempty"`
}

// KeepAliveFrame is an SSE comment; clients ignore it.
var KeepAliveFrame = []byte(": keep-alive\n\n")

// EncodeFrame renders msg as a single "data: <JSON>\n\n" event.
func EncodeFrame(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
