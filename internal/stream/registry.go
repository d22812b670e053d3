// Package stream keeps track of open status push connections and fans
// status events out to them.
//
// The registry lives in process memory. A deployment with several server
// instances needs an external pub/sub layer in front of it; connections are
// not shared between processes and are lost on restart.
package stream

import (
	"errors"
	"sync"
)

var (
	// ErrRegistryFull is returned when the global connection cap is reached.
	ErrRegistryFull = errors.New("stream: connection limit reached")
	// ErrTooManyConnections is returned when one user reaches the per-user cap.
	ErrTooManyConnections = errors.New("stream: too many connections for user")
	// ErrRegistryClosed is returned after Close has been called.
	ErrRegistryClosed = errors.New("stream: registry closed")
)

// Limits caps the registry's size. Zero means unlimited.
type Limits struct {
	MaxConnections int
	MaxPerUser     int
}

// Registry is the set of open push connections. All methods are safe for
// concurrent use.
type Registry struct {
	limits Limits

	mu       sync.RWMutex
	conns    map[string]*Connection
	perOwner map[string]int
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		limits:   limits,
		conns:    make(map[string]*Connection),
		perOwner: make(map[string]int),
	}
}

// Register adds c to the registry.
func (r *Registry) Register(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if r.limits.MaxConnections > 0 && len(r.conns) >= r.limits.MaxConnections {
		return ErrRegistryFull
	}
	if r.limits.MaxPerUser > 0 && r.perOwner[c.OwnerID] >= r.limits.MaxPerUser {
		return ErrTooManyConnections
	}

	r.conns[c.ID] = c
	r.perOwner[c.OwnerID]++
	return nil
}

// Deregister removes and closes the connection with the given id. It
// reports whether the connection was registered.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		if r.perOwner[c.OwnerID] <= 1 {
			delete(r.perOwner, c.OwnerID)
		} else {
			r.perOwner[c.OwnerID]--
		}
	}
	r.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Lookup returns the connection with the given id.
func (r *Registry) Lookup(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// ForEach calls visit for every registered connection. It iterates over a
// snapshot, so visit may register or deregister connections.
func (r *Registry) ForEach(visit func(*Connection)) {
	for _, c := range r.snapshot() {
		visit(c)
	}
}

// Matching returns the connections whose scope receives events for flightID.
func (r *Registry) Matching(flightID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Connection
	for _, c := range r.conns {
		if c.Scope.Matches(flightID) {
			matched = append(matched, c)
		}
	}
	return matched
}

// FlightIDs returns the distinct flights that at least one flight or
// booking scoped connection is watching.
func (r *Registry) FlightIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, c := range r.conns {
		id := c.Scope.FlightID
		if c.Scope.Kind == ScopeAll || id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Close deregisters and closes every connection. Later registrations fail
// with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.perOwner = make(map[string]int)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}
