package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"flight-status-backend/internal/model"
)

// cachedStore serves flight lookups from memory. Schedules change rarely
// and every status query and push connection needs one.
type cachedStore struct {
	Store
	flights *cache.Cache
}

// NewCachedStore wraps s so that GetFlight results are kept for ttl.
// A non-positive ttl returns s unchanged.
func NewCachedStore(s Store, ttl time.Duration) Store {
	if ttl <= 0 {
		return s
	}
	return &cachedStore{
		Store:   s,
		flights: cache.New(ttl, 2*ttl),
	}
}

// GetFlight returns a copy of the cached flight, loading it on a miss.
func (s *cachedStore) GetFlight(ctx context.Context, flightID string) (*model.Flight, error) {
	if v, found := s.flights.Get(flightID); found {
		flight := v.(model.Flight)
		return &flight, nil
	}

	flight, err := s.Store.GetFlight(ctx, flightID)
	if err != nil {
		return nil, err
	}
	s.flights.SetDefault(flightID, *flight)
	return flight, nil
}
