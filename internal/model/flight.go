package model

import "time"

// Flight represents a scheduled flight.
type Flight struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	FlightNumber  string    `gorm:"size:16;not null" json:"flight_number"`
	Airline       string    `gorm:"size:128" json:"airline"`
	OriginID      int64     `gorm:"not null" json:"-"`
	DestinationID int64     `gorm:"not null" json:"-"`
	DepartureTime time.Time `gorm:"not null" json:"departure_time"`
	ArrivalTime   time.Time `gorm:"not null" json:"arrival_time"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`

	// Associations
	Origin      Airport `gorm:"foreignKey:OriginID" json:"origin"`
	Destination Airport `gorm:"foreignKey:DestinationID" json:"destination"`
}

// Route renders the flight's route as "City (CODE) → City (CODE)".
func (f Flight) Route() string {
	return f.Origin.City + " (" + f.Origin.Code + ") → " + f.Destination.City + " (" + f.Destination.Code + ")"
}
