package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced flight, booking or subscription does not exist.
var ErrNotFound = errors.New("store: record not found")

// NewStatusUpdate is the input for appending a flight status update.
type NewStatusUpdate struct {
	FlightID     string
	Status       string
	Message      string
	DelayMinutes int
	Gate         *string
	UpdatedBy    string
	// CreatedAt defaults to the current time when zero.
	CreatedAt time.Time
}

// BookingContact is a confirmed booking that can be notified about its flight.
type BookingContact struct {
	BookingID string `gorm:"column:id"`
	UserID    string `gorm:"column:user_id"`
	Email     string `gorm:"column:user_email"`
}
