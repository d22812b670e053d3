package status

import "strings"

// Kind is an operational flight state.
type Kind string

const (
	Scheduled Kind = "Scheduled"
	Boarding  Kind = "Boarding"
	Delayed   Kind = "Delayed"
	InFlight  Kind = "In Flight"
	Arrived   Kind = "Arrived"
	Cancelled Kind = "Cancelled"
)

// Kinds lists every recognized kind in lifecycle order.
var Kinds = []Kind{Scheduled, Boarding, Delayed, InFlight, Arrived, Cancelled}

const defaultColor = "gray"

var colors = map[string]string{
	"scheduled": "green",
	"boarding":  "blue",
	"delayed":   "yellow",
	"in flight": "purple",
	"arrived":   "gray",
	"cancelled": "red",
}

var defaultMessages = map[Kind]string{
	Scheduled: "Flight is on schedule",
	Boarding:  "Boarding in progress",
	Delayed:   "Flight is delayed",
	InFlight:  "Flight is in the air",
	Arrived:   "Flight has arrived",
	Cancelled: "Flight has been cancelled",
}

// Color maps a status string to its presentation color. Matching is
// case-insensitive; anything unrecognized is gray.
func Color(s string) string {
	if c, ok := colors[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return defaultColor
}

// ParseKind returns the canonical Kind for s, ignoring case and surrounding space.
func ParseKind(s string) (Kind, bool) {
	needle := strings.TrimSpace(s)
	for _, k := range Kinds {
		if strings.EqualFold(string(k), needle) {
			return k, true
		}
	}
	return "", false
}

// DefaultMessage is the passenger-facing text used when an update carries none.
func (k Kind) DefaultMessage() string {
	if m, ok := defaultMessages[k]; ok {
		return m
	}
	return "Status updated"
}
