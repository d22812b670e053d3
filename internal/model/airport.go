package model

// Airport is a reference row for a flight's origin or destination.
type Airport struct {
	ID   int64  `gorm:"primaryKey" json:"id"`
	Code string `gorm:"uniqueIndex;size:8;not null" json:"code"`
	City string `gorm:"size:128;not null" json:"city"`
	Name string `gorm:"size:256" json:"name"`
}
