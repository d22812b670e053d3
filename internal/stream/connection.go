package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConnectionClosed is returned when delivering to a closed connection.
	ErrConnectionClosed = errors.New("stream: connection closed")
	// ErrSlowConsumer is returned when a connection's buffer is full.
	ErrSlowConsumer = errors.New("stream: connection buffer full")
)

// DefaultBufferSize is the number of frames a connection may queue before
// deliveries to it start failing.
const DefaultBufferSize = 32

// Connection is one open push subscription. Frames queued by Deliver are
// written by the goroutine serving the connection.
type Connection struct {
	ID       string
	OwnerID  string
	Scope    Scope
	OpenedAt time.Time

	frames    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a connection for ownerID subscribed to scope.
func NewConnection(ownerID string, scope Scope, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Connection{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Scope:    scope,
		OpenedAt: time.Now().UTC(),
		frames:   make(chan []byte, bufferSize),
		done:     make(chan struct{}),
	}
}

// Key is the owner and scope token joined by a dash, e.g. "user-1-all".
func (c *Connection) Key() string {
	return c.OwnerID + "-" + c.Scope.Token()
}

// Frames returns the queue of encoded frames waiting to be written.
func (c *Connection) Frames() <-chan []byte {
	return c.frames
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Deliver queues frame without blocking. It is safe to call from any goroutine.
func (c *Connection) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.frames <- frame:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the connection closed. It is idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
