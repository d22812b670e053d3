package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flight-status-backend/internal/mw"
	"flight-status-backend/internal/store"
	"flight-status-backend/internal/stream"
)

// StreamStatus handles GET /api/flights/status. It holds the response open
// as a server-sent event stream and forwards status events for the
// requested flight, booking, or every flight.
func (h *Handler) StreamStatus(c *gin.Context) {
	id, ok := mw.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	ctx := c.Request.Context()

	scope := stream.AllScope()
	if flightID := c.Query("flightId"); flightID != "" {
		scope = stream.FlightScope(flightID)
	} else if bookingID := c.Query("bookingId"); bookingID != "" {
		booking, err := h.store.GetBooking(ctx, bookingID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && booking.UserID != id.UserID) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Booking not found"})
			return
		}
		if err != nil {
			log.Printf("Error fetching booking %s: %v", bookingID, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to open status stream"})
			return
		}
		scope = stream.BookingScope(bookingID, booking.FlightID)
	}

	conn := stream.NewConnection(id.UserID, scope, h.stream.BufferSize)
	if err := h.registry.Register(conn); err != nil {
		switch {
		case errors.Is(err, stream.ErrTooManyConnections):
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many open status streams"})
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Status streaming unavailable"})
		}
		return
	}
	defer h.registry.Deregister(conn.ID)
	log.Printf("Push connection %s opened (%s)", conn.ID, conn.Key())
	defer log.Printf("Push connection %s closed (%s)", conn.ID, conn.Key())

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if !h.writeMessage(c, stream.Message{Type: stream.TypeConnected, User: id.UserID}) {
		return
	}
	if scope.FlightID != "" {
		flight, current, err := h.tracking.CurrentStatus(ctx, scope.FlightID)
		if err != nil {
			log.Printf("Could not resolve initial status for flight %s: %v", scope.FlightID, err)
		} else if !h.writeMessage(c, stream.Message{
			Type:     stream.TypeFlightStatus,
			FlightID: scope.FlightID,
			Status:   &current.Resolved,
			Flight:   flight,
		}) {
			return
		}
	}

	keepAlive := time.NewTicker(h.stream.KeepAlive)
	defer keepAlive.Stop()

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if h.stream.IdleTimeout > 0 {
		idleTimer = time.NewTimer(h.stream.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			// Dropped by the broadcaster or closed at shutdown.
			return
		case <-idle:
			return
		case frame := <-conn.Frames():
			if !h.writeFrame(c, frame) {
				return
			}
			if idleTimer != nil {
				idleTimer.Reset(h.stream.IdleTimeout)
			}
		case <-keepAlive.C:
			if !h.writeFrame(c, stream.KeepAliveFrame) {
				return
			}
		}
	}
}

func (h *Handler) writeMessage(c *gin.Context, msg stream.Message) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	frame, err := stream.EncodeFrame(msg)
	if err != nil {
		log.Printf("Error encoding %s message: %v", msg.Type, err)
		return false
	}
	return h.writeFrame(c, frame)
}

func (h *Handler) writeFrame(c *gin.Context, frame []byte) bool {
	if _, err := c.Writer.Write(frame); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
