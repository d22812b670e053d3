package model

import "time"

// BookingStatusConfirmed is the only booking status that receives status notifications.
const BookingStatusConfirmed = "Confirmed"

// Booking is a passenger booking on a flight. Only the columns the status
// subsystem reads are mapped.
type Booking struct {
	ID            string    `gorm:"primaryKey;size:64"`
	UserID        string    `gorm:"index;size:64;not null"`
	FlightID      string    `gorm:"index;size:64;not null"`
	BookingStatus string    `gorm:"size:32;not null"`
	UserEmail     string    `gorm:"size:320"`
	TotalAmount   float64
	BookingDate   time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Associations
	Flight Flight `gorm:"constraint:OnDelete:CASCADE"`
}
