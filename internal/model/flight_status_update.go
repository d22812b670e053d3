package model

import "time"

// FlightStatusUpdate is one operator-issued status change. Rows are
// append-only; the newest row per flight is the current status.
type FlightStatusUpdate struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	FlightID     string    `gorm:"size:64;not null;index:idx_flight_status_updates_flight_created,priority:1" json:"flight_id"`
	Status       string    `gorm:"size:32;not null" json:"status"`
	Message      string    `gorm:"not null" json:"message"`
	DelayMinutes int       `gorm:"not null" json:"delay_minutes"`
	Gate         *string   `gorm:"size:16" json:"gate"`
	UpdatedBy    string    `gorm:"size:320;not null" json:"updated_by"`
	CreatedAt    time.Time `gorm:"not null;index:idx_flight_status_updates_flight_created,priority:2,sort:desc" json:"created_at"`
}
