// Package status derives the displayable status of a flight.
package status

import (
	"time"

	"flight-status-backend/internal/model"
)

// boardingWindow is how long before departure a flight without operator
// updates is reported as boarding.
const boardingWindow = 2 * time.Hour

// Resolved is the status object shown to clients.
type Resolved struct {
	Status             string     `json:"status"`
	Message            string     `json:"message"`
	Color              string     `json:"color"`
	EstimatedDeparture time.Time  `json:"estimatedDeparture"`
	EstimatedArrival   time.Time  `json:"estimatedArrival"`
	Delay              int        `json:"delay"`
	Gate               string     `json:"gate,omitempty"`
	LastUpdated        *time.Time `json:"lastUpdated,omitempty"`
	UpdatedBy          string     `json:"updatedBy,omitempty"`
}

// Source tells where a Current status came from.
type Source int

const (
	// Derived statuses are computed from the schedule and the clock.
	Derived Source = iota
	// Persisted statuses come from the newest operator update.
	Persisted
)

func (s Source) String() string {
	if s == Persisted {
		return "persisted"
	}
	return "derived"
}

// Current is a flight's status together with its origin. Update is set only
// when Source is Persisted.
type Current struct {
	Source   Source
	Resolved Resolved
	Update   *model.FlightStatusUpdate
}

// Resolve computes the current status of flight. latest is the newest
// persisted update for the flight, or nil when there is none. Resolve has no
// side effects.
func Resolve(flight model.Flight, latest *model.FlightStatusUpdate, now time.Time) Current {
	if latest != nil {
		return Current{Source: Persisted, Resolved: fromUpdate(flight, *latest), Update: latest}
	}
	return Current{Source: Derived, Resolved: derive(flight, now)}
}

func fromUpdate(flight model.Flight, u model.FlightStatusUpdate) Resolved {
	departure, arrival := flight.DepartureTime, flight.ArrivalTime
	if u.DelayMinutes > 0 {
		shift := time.Duration(u.DelayMinutes) * time.Minute
		departure = departure.Add(shift)
		arrival = arrival.Add(shift)
	}

	r := Resolved{
		Status:             u.Status,
		Message:            u.Message,
		Color:              Color(u.Status),
		EstimatedDeparture: departure,
		EstimatedArrival:   arrival,
		Delay:              max(u.DelayMinutes, 0),
		UpdatedBy:          u.UpdatedBy,
	}
	if u.Gate != nil {
		r.Gate = *u.Gate
	}
	if !u.CreatedAt.IsZero() {
		created := u.CreatedAt
		r.LastUpdated = &created
	}
	return r
}

// derive partitions the timeline into four windows. The windows assume the
// arrival is scheduled after the departure.
func derive(flight model.Flight, now time.Time) Resolved {
	toDeparture := flight.DepartureTime.Sub(now)
	toArrival := flight.ArrivalTime.Sub(now)

	var kind Kind
	switch {
	case toDeparture > boardingWindow:
		kind = Scheduled
	case toDeparture > 0:
		kind = Boarding
	case toArrival > 0:
		kind = InFlight
	default:
		kind = Arrived
	}

	return Resolved{
		Status:             string(kind),
		Message:            kind.DefaultMessage(),
		Color:              Color(string(kind)),
		EstimatedDeparture: flight.DepartureTime,
		EstimatedArrival:   flight.ArrivalTime,
	}
}
