package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flight-status-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	InsertStatusUpdate(ctx context.Context, in NewStatusUpdate) (*model.FlightStatusUpdate, error)
	LatestStatusUpdate(ctx context.Context, flightID string) (*model.FlightStatusUpdate, error)
	RecentStatusUpdates(ctx context.Context, flightID string, n int) ([]model.FlightStatusUpdate, error)

	GetFlight(ctx context.Context, flightID string) (*model.Flight, error)
	GetBooking(ctx context.Context, bookingID string) (*model.Booking, error)
	ConfirmedBookingsFor(ctx context.Context, flightID string) ([]BookingContact, error)

	PushSubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error)
	GetPushSubscription(ctx context.Context, endpoint, userID string) (*model.PushSubscription, error)
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint, userID string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// InsertStatusUpdate appends a status update row and returns it.
func (s *gormStore) InsertStatusUpdate(ctx context.Context, in NewStatusUpdate) (*model.FlightStatusUpdate, error) {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := model.FlightStatusUpdate{
		ID:           uuid.NewString(),
		FlightID:     in.FlightID,
		Status:       in.Status,
		Message:      in.Message,
		DelayMinutes: in.DelayMinutes,
		Gate:         in.Gate,
		UpdatedBy:    in.UpdatedBy,
		CreatedAt:    createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to insert status update for flight %s: %w", in.FlightID, err)
	}
	return &row, nil
}

// LatestStatusUpdate returns the newest update for the flight, or nil if it has none.
func (s *gormStore) LatestStatusUpdate(ctx context.Context, flightID string) (*model.FlightStatusUpdate, error) {
	var row model.FlightStatusUpdate
	err := s.db.WithContext(ctx).
		Where("flight_id = ?", flightID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest status for flight %s: %w", flightID, err)
	}
	return &row, nil
}

// RecentStatusUpdates returns up to n updates for the flight, newest first.
func (s *gormStore) RecentStatusUpdates(ctx context.Context, flightID string, n int) ([]model.FlightStatusUpdate, error) {
	var rows []model.FlightStatusUpdate
	err := s.db.WithContext(ctx).
		Where("flight_id = ?", flightID).
		Order("created_at DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent statuses for flight %s: %w", flightID, err)
	}
	return rows, nil
}

// GetFlight loads a flight with its origin and destination airports.
func (s *gormStore) GetFlight(ctx context.Context, flightID string) (*model.Flight, error) {
	var flight model.Flight
	err := s.db.WithContext(ctx).
		Preload("Origin").
		Preload("Destination").
		First(&flight, "id = ?", flightID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flight %s: %w", flightID, err)
	}
	return &flight, nil
}

// GetBooking loads a booking without its associations.
func (s *gormStore) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	var booking model.Booking
	err := s.db.WithContext(ctx).First(&booking, "id = ?", bookingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking %s: %w", bookingID, err)
	}
	return &booking, nil
}

// ConfirmedBookingsFor lists the confirmed bookings on a flight that have a contact email.
func (s *gormStore) ConfirmedBookingsFor(ctx context.Context, flightID string) ([]BookingContact, error) {
	var contacts []BookingContact
	err := s.db.WithContext(ctx).
		Model(&model.Booking{}).
		Select("id", "user_id", "user_email").
		Where("flight_id = ? AND booking_status = ?", flightID, model.BookingStatusConfirmed).
		Where("user_email IS NOT NULL AND user_email <> ''").
		Order("id").
		Scan(&contacts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookings for flight %s: %w", flightID, err)
	}
	return contacts, nil
}

// PushSubscriptionsFor lists a user's browser push subscriptions.
func (s *gormStore) PushSubscriptionsFor(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch push subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

// GetPushSubscription returns the subscription for endpoint if userID owns it.
func (s *gormStore) GetPushSubscription(ctx context.Context, endpoint, userID string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "endpoint = ? AND user_id = ?", endpoint, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push subscription: %w", err)
	}
	return &sub, nil
}

// SavePushSubscription creates or replaces a subscription keyed by endpoint.
func (s *gormStore) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

// DeletePushSubscription removes a subscription. An empty userID deletes it
// regardless of owner, which is used when the push service reports it gone.
func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint, userID string) error {
	tx := s.db.WithContext(ctx).Where("endpoint = ?", endpoint)
	if userID != "" {
		tx = tx.Where("user_id = ?", userID)
	}
	if err := tx.Delete(&model.PushSubscription{}).Error; err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}
