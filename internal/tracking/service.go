// Package tracking owns flight status changes: operator updates, status
// queries, and the background loop that announces time-derived transitions.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"flight-status-backend/config"
	"flight-status-backend/internal/model"
	"flight-status-backend/internal/notification"
	"flight-status-backend/internal/status"
	"flight-status-backend/internal/store"
	"flight-status-backend/internal/stream"
)

var (
	// ErrInvalidStatus is returned for a status outside the known kinds.
	ErrInvalidStatus = errors.New("unknown flight status")
	// ErrInvalidDelay is returned for a negative delay.
	ErrInvalidDelay = errors.New("delay must not be negative")
	// ErrFlightNotFound is returned when the flight does not exist.
	ErrFlightNotFound = store.ErrNotFound
)

// systemUpdater is reported as the author of tracker-published statuses.
const systemUpdater = "system"

// notifyTimeout bounds the passenger fan-out once an update is saved. The
// fan-out no longer follows the caller's cancellation at that point.
const notifyTimeout = 2 * time.Minute

// UpdateRequest is an operator's status change for one flight.
type UpdateRequest struct {
	Status  string
	Delay   *int
	Gate    *string
	Message string
}

// UpdateResult reports the outcome of UpdateStatus.
type UpdateResult struct {
	// Update is the persisted row.
	Update *model.FlightStatusUpdate
	// Delta is what was broadcast to push connections.
	Delta status.Delta
	Saved bool
	// EmailsSent counts the bookings an email was attempted for.
	EmailsSent int
}

// Service coordinates the store, the notifier and the broadcaster.
type Service struct {
	cfg         *config.TrackerConfig
	store       store.Store
	registry    *stream.Registry
	broadcaster *stream.Broadcaster
	notifier    *notification.Notifier
	now         func() time.Time

	mu       sync.Mutex
	observed map[string]string // flight id -> last derived status published
}

// NewService creates the tracking service.
func NewService(cfg *config.TrackerConfig, st store.Store, registry *stream.Registry, broadcaster *stream.Broadcaster, notifier *notification.Notifier) *Service {
	return &Service{
		cfg:         cfg,
		store:       st,
		registry:    registry,
		broadcaster: broadcaster,
		notifier:    notifier,
		now:         func() time.Time { return time.Now().UTC() },
		observed:    make(map[string]string),
	}
}

// CurrentStatus loads the flight and resolves its status as of now.
func (s *Service) CurrentStatus(ctx context.Context, flightID string) (*model.Flight, status.Current, error) {
	flight, err := s.store.GetFlight(ctx, flightID)
	if err != nil {
		return nil, status.Current{}, err
	}
	latest, err := s.store.LatestStatusUpdate(ctx, flightID)
	if err != nil {
		return nil, status.Current{}, err
	}
	return flight, status.Resolve(*flight, latest, s.now()), nil
}

// UpdateStatus records an operator update, notifies confirmed passengers
// and broadcasts the change to push connections. Only a failure to persist
// the update is returned as an error once validation has passed.
func (s *Service) UpdateStatus(ctx context.Context, flightID, operator string, req UpdateRequest) (*UpdateResult, error) {
	kind, ok := status.ParseKind(req.Status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}
	delay := 0
	if req.Delay != nil {
		if *req.Delay < 0 {
			return nil, ErrInvalidDelay
		}
		delay = *req.Delay
	}
	var gate *string
	if req.Gate != nil && strings.TrimSpace(*req.Gate) != "" {
		g := strings.TrimSpace(*req.Gate)
		gate = &g
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = kind.DefaultMessage()
	}

	flight, err := s.store.GetFlight(ctx, flightID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrFlightNotFound
	}
	if err != nil {
		// The update is still recorded; passengers just are not emailed.
		log.Printf("Could not load flight %s, notifications will be skipped: %v", flightID, err)
		flight = nil
	}

	row, err := s.store.InsertStatusUpdate(ctx, store.NewStatusUpdate{
		FlightID:     flightID,
		Status:       string(kind),
		Message:      message,
		DelayMinutes: delay,
		Gate:         gate,
		UpdatedBy:    operator,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Flight %s status set to %q by %s", flightID, row.Status, operator)

	emailsSent := 0
	if flight != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		emailsSent = s.notifyPassengers(notifyCtx, *flight, *row)
		cancel()
	}

	s.mu.Lock()
	delete(s.observed, flightID)
	s.mu.Unlock()

	delta := status.Delta{
		Status:    &row.Status,
		Delay:     &row.DelayMinutes,
		Gate:      row.Gate,
		Message:   &row.Message,
		Timestamp: row.CreatedAt,
		UpdatedBy: operator,
	}
	n := s.broadcaster.Broadcast(flightID, delta)
	log.Printf("Flight %s update pushed to %d connections", flightID, n)

	return &UpdateResult{Update: row, Delta: delta, Saved: true, EmailsSent: emailsSent}, nil
}

func (s *Service) notifyPassengers(ctx context.Context, flight model.Flight, row model.FlightStatusUpdate) int {
	contacts, err := s.store.ConfirmedBookingsFor(ctx, flight.ID)
	if err != nil {
		log.Printf("Could not load bookings for flight %s, skipping notifications: %v", flight.ID, err)
		return 0
	}
	if len(contacts) == 0 {
		return 0
	}

	previous := ""
	recent, err := s.store.RecentStatusUpdates(ctx, flight.ID, 2)
	if err != nil {
		log.Printf("Could not load previous status for flight %s: %v", flight.ID, err)
	} else if len(recent) > 1 {
		previous = recent[1].Status
	}

	res := s.notifier.NotifyPassengers(ctx, notification.StatusChange{
		Flight:         flight,
		Update:         row,
		PreviousStatus: previous,
	}, contacts)
	return res.Attempted
}

// Run publishes time-derived status transitions until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		log.Println("Status tracker is disabled. Not starting.")
		return
	}
	log.Println("Starting status tracker...")

	s.TrackOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Status tracker shutting down.")
			return
		case <-timer.C:
			s.TrackOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// TrackOnce re-resolves every watched flight that has no operator update
// and publishes a flight_status message when its derived status changed
// since the last pass. It returns the number of flights published.
func (s *Service) TrackOnce(ctx context.Context) int {
	watched := s.registry.FlightIDs()
	now := s.now()

	// Store lookups run without the lock so UpdateStatus is never held up
	// behind a tracker pass.
	derived := make(map[string]status.Resolved, len(watched))
	for _, flightID := range watched {
		latest, err := s.store.LatestStatusUpdate(ctx, flightID)
		if err != nil {
			log.Printf("Tracker: error loading status for flight %s: %v", flightID, err)
			continue
		}
		if latest != nil {
			continue
		}
		flight, err := s.store.GetFlight(ctx, flightID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("Tracker: error loading flight %s: %v", flightID, err)
			}
			continue
		}
		derived[flightID] = status.Resolve(*flight, nil, now).Resolved
	}

	var changed []string
	s.mu.Lock()
	for flightID := range s.observed {
		if _, ok := derived[flightID]; !ok {
			delete(s.observed, flightID)
		}
	}
	for flightID, resolved := range derived {
		prev, seen := s.observed[flightID]
		s.observed[flightID] = resolved.Status
		if seen && prev != resolved.Status {
			changed = append(changed, flightID)
		}
	}
	s.mu.Unlock()

	for _, flightID := range changed {
		resolved := derived[flightID]
		s.broadcaster.Publish(flightID, stream.Message{
			Type:      stream.TypeFlightStatus,
			FlightID:  flightID,
			Status:    &resolved,
			Timestamp: now,
			UpdatedBy: systemUpdater,
		})
		log.Printf("Tracker: flight %s is now %s", flightID, resolved.Status)
	}
	return len(changed)
}
