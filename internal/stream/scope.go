package stream

// ScopeKind identifies what a push connection is subscribed to.
type ScopeKind string

const (
	ScopeFlight  ScopeKind = "flight"
	ScopeBooking ScopeKind = "booking"
	ScopeAll     ScopeKind = "all"
)

// Scope is the subscription target of a push connection. For booking scopes
// FlightID holds the booked flight so the connection receives that flight's
// updates; it may be empty if the booking's flight is unknown.
type Scope struct {
	Kind     ScopeKind
	ID       string
	FlightID string
}

// FlightScope subscribes to a single flight.
func FlightScope(flightID string) Scope {
	return Scope{Kind: ScopeFlight, ID: flightID, FlightID: flightID}
}

// BookingScope subscribes to the flight of a single booking.
func BookingScope(bookingID, flightID string) Scope {
	return Scope{Kind: ScopeBooking, ID: bookingID, FlightID: flightID}
}

// AllScope subscribes to every flight.
func AllScope() Scope {
	return Scope{Kind: ScopeAll}
}

// Token is the scope's display form: the flight id, the booking id or "all".
func (s Scope) Token() string {
	if s.Kind == ScopeAll {
		return "all"
	}
	return s.ID
}

// Matches reports whether an event for flightID should reach this scope.
func (s Scope) Matches(flightID string) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeFlight, ScopeBooking:
		return flightID != "" && s.FlightID == flightID
	default:
		return false
	}
}
