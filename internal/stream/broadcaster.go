package stream

import (
	"log"
	"time"

	"flight-status-backend/internal/status"
)

// Broadcaster pushes status events to the registry's connections.
type Broadcaster struct {
	registry *Registry
	now      func() time.Time
}

// NewBroadcaster creates a broadcaster over registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Broadcast sends a flight_update carrying delta to every connection
// watching flightID, including "all" scoped connections. It returns the
// number of connections the update was queued for.
func (b *Broadcaster) Broadcast(flightID string, delta status.Delta) int {
	return b.Publish(flightID, Message{
		Type:      TypeFlightUpdate,
		FlightID:  flightID,
		Update:    &delta,
		UpdatedBy: delta.UpdatedBy,
	})
}

// Publish sends msg to every connection watching flightID. A zero Timestamp
// is set to the current time. Connections that fail to accept the frame are
// deregistered; the rest still receive it.
func (b *Broadcaster) Publish(flightID string, msg Message) int {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	frame, err := EncodeFrame(msg)
	if err != nil {
		log.Printf("Error encoding %s for flight %s: %v", msg.Type, flightID, err)
		return 0
	}

	delivered := 0
	for _, c := range b.registry.Matching(flightID) {
		if err := c.Deliver(frame); err != nil {
			log.Printf("Dropping push connection %s (%s): %v", c.ID, c.Key(), err)
			b.registry.Deregister(c.ID)
			continue
		}
		delivered++
	}
	return delivered
}
