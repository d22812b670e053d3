package statusclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseServer serves one scripted event stream per request and then holds the
// connection open until the client leaves.
type sseServer struct {
	*httptest.Server
	requests atomic.Int32
	lastAuth atomic.Value
	frames   func(n int) []string
	code     int
	hold     bool
}

func newSSEServer(t *testing.T, frames func(n int) []string) *sseServer {
	t.Helper()
	s := &sseServer{frames: frames, code: http.StatusOK, hold: true}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.requests.Add(1))
		s.lastAuth.Store(r.Header.Get("Authorization"))
		if s.code != http.StatusOK {
			http.Error(w, `{"error":"Unauthorized"}`, s.code)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, f := range s.frames(n) {
			io.WriteString(w, f)
			w.(http.Flusher).Flush()
		}
		if s.hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func frame(v any) string {
	data, _ := json.Marshal(v)
	return "data: " + string(data) + "\n\n"
}

func statusFrame() string {
	return frame(map[string]any{
		"type":     "flight_status",
		"flightId": "fl-1",
		"status": map[string]any{
			"status":             "Scheduled",
			"message":            "Flight is on schedule",
			"color":              "green",
			"estimatedDeparture": "2025-07-07T10:00:00Z",
			"estimatedArrival":   "2025-07-07T12:00:00Z",
			"delay":              0,
		},
		"timestamp": "2025-07-07T08:00:00Z",
	})
}

func newSubscriber(t *testing.T, url string) *Subscriber {
	t.Helper()
	s := New(url, Options{InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond})
	t.Cleanup(s.Close)
	return s
}

func TestSubscriber_MergesUpdateIntoStatus(t *testing.T) {
	srv := newSSEServer(t, func(int) []string {
		return []string{
			frame(map[string]any{"type": "connected", "user": "u1", "timestamp": "2025-07-07T08:00:00Z"}),
			": keep-alive\n\n",
			statusFrame(),
			frame(map[string]any{
				"type":      "flight_update",
				"flightId":  "fl-1",
				"update":    map[string]any{"delay": 45, "gate": "B12", "timestamp": "2025-07-07T08:05:00Z", "updatedBy": "ops@example.com"},
				"timestamp": "2025-07-07T08:05:00Z",
			}),
		}
	})

	s := newSubscriber(t, srv.URL)
	s.SetTarget(Target{FlightID: "fl-1"})
	s.SetIdentity("tok")

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Status != nil && snap.Status.Delay == 45
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.NoError(t, snap.Err)
	assert.Equal(t, "Scheduled", snap.Status.Status)
	assert.Equal(t, "green", snap.Status.Color)
	assert.Equal(t, "Flight is on schedule", snap.Status.Message)
	assert.Equal(t, "B12", snap.Status.Gate)
	assert.Equal(t, "ops@example.com", snap.Status.UpdatedBy)
	assert.Equal(t, time.Date(2025, 7, 7, 8, 5, 0, 0, time.UTC), snap.LastUpdate)
	assert.Equal(t, "Bearer tok", srv.lastAuth.Load())
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestSubscriber_UpdateWithoutStatusUsesPlaceholder(t *testing.T) {
	srv := newSSEServer(t, func(int) []string {
		return []string{frame(map[string]any{
			"type":      "flight_update",
			"flightId":  "fl-1",
			"update":    map[string]any{"status": "Cancelled"},
			"timestamp": "2025-07-07T08:05:00Z",
		})}
	})

	s := newSubscriber(t, srv.URL)
	s.SetIdentity("tok")
	s.SetTarget(Target{BookingID: "bk-1"})

	require.Eventually(t, func() bool { return s.Snapshot().Status != nil }, 2*time.Second, 10*time.Millisecond)
	st := s.Snapshot().Status
	assert.Equal(t, "Cancelled", st.Status)
	assert.Equal(t, "red", st.Color)
	assert.Equal(t, "Status updated", st.Message)
	assert.True(t, st.EstimatedDeparture.IsZero())
}

func TestSubscriber_MalformedPayloadKeepsStreamOpen(t *testing.T) {
	srv := newSSEServer(t, func(int) []string {
		return []string{"data: {not json\n\n", statusFrame()}
	})

	s := newSubscriber(t, srv.URL)
	s.SetIdentity("tok")
	s.SetTarget(Target{FlightID: "fl-1"})

	require.Eventually(t, func() bool { return s.Snapshot().Status != nil }, 2*time.Second, 10*time.Millisecond)
	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	assert.ErrorIs(t, snap.Err, ErrMalformedMessage)
	assert.Equal(t, "Scheduled", snap.Status.Status)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestSubscriber_NoIdentityNoStream(t *testing.T) {
	srv := newSSEServer(t, func(int) []string { return nil })

	s := newSubscriber(t, srv.URL)
	s.SetTarget(Target{FlightID: "fl-1"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), srv.requests.Load())
	assert.False(t, s.Snapshot().Connected)
}

func TestSubscriber_ClearingIdentityDisconnects(t *testing.T) {
	srv := newSSEServer(t, func(int) []string { return nil })

	s := newSubscriber(t, srv.URL)
	s.SetTarget(Target{FlightID: "fl-1"})
	s.SetIdentity("tok")
	require.Eventually(t, func() bool { return s.Snapshot().Connected }, 2*time.Second, 10*time.Millisecond)

	s.SetIdentity("")
	assert.False(t, s.Snapshot().Connected)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	srv := newSSEServer(t, func(n int) []string {
		return []string{statusFrame()}
	})
	srv.hold = false

	s := newSubscriber(t, srv.URL)
	s.SetIdentity("tok")
	s.SetTarget(Target{FlightID: "fl-1"})

	require.Eventually(t, func() bool { return srv.requests.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.NotNil(t, s.Snapshot().Status)
}

func TestSubscriber_RejectedStreamIsNotRetried(t *testing.T) {
	srv := newSSEServer(t, func(int) []string { return nil })
	srv.code = http.StatusUnauthorized

	s := newSubscriber(t, srv.URL)
	s.SetIdentity("expired")
	s.SetTarget(Target{FlightID: "fl-1"})

	require.Eventually(t, func() bool { return s.Snapshot().Err != nil }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	snap := s.Snapshot()
	assert.False(t, snap.Connected)
	assert.ErrorIs(t, snap.Err, ErrConnectionLost)
	assert.Equal(t, int32(1), srv.requests.Load())
}

func TestSubscriber_UpdateFlightStatus(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/flights/fl-1/status":
			auth = r.Header.Get("Authorization")
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"success":true,"flightId":"fl-1","update":{"status":"Delayed","delay":30,"timestamp":"2025-07-07T08:05:00Z","updatedBy":"ops"},"saved":{"id":"u1","flight_id":"fl-1","status":"Delayed","delay_minutes":30},"emailsSent":3}`)
		case r.URL.Path == "/api/flights/status":
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, statusFrame())
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	s := newSubscriber(t, srv.URL)
	_, err := s.UpdateFlightStatus(context.Background(), Delta{})
	assert.ErrorIs(t, err, ErrNoFlight)

	s.SetIdentity("tok")
	s.SetTarget(Target{FlightID: "fl-1"})
	require.Eventually(t, func() bool { return s.Snapshot().Status != nil }, 2*time.Second, 10*time.Millisecond)

	delayed, delay := "Delayed", 30
	res, err := s.UpdateFlightStatus(context.Background(), Delta{Status: &delayed, Delay: &delay})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.EmailsSent)
	assert.Equal(t, "u1", res.Saved.ID)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, map[string]any{"status": "Delayed", "delay": float64(30)}, got)

	// Not applied locally; only a broadcast changes the view.
	assert.Equal(t, "Scheduled", s.Snapshot().Status.Status)
}

func TestSubscriber_UpdateFlightStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			http.Error(w, `{"error":"Flight not found"}`, http.StatusNotFound)
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	s := newSubscriber(t, srv.URL)
	s.SetTarget(Target{FlightID: "fl-1"})

	status := "Boarding"
	_, err := s.UpdateFlightStatus(context.Background(), Delta{Status: &status})
	assert.True(t, errors.Is(err, ErrUpdateFailed))
	assert.ErrorIs(t, s.Snapshot().Err, ErrUpdateFailed)
}

func TestSubscriber_DropsEventsFromPreviousTarget(t *testing.T) {
	s := newSubscriber(t, "http://127.0.0.1:1")
	s.SetTarget(Target{FlightID: "fl-1"})

	s.mu.Lock()
	old := s.gen
	s.mu.Unlock()

	s.SetTarget(Target{FlightID: "fl-2"})
	payload := strings.TrimSuffix(strings.TrimPrefix(statusFrame(), "data: "), "\n\n")
	s.apply(old, []byte(payload))
	s.setConnected(old)

	snap := s.Snapshot()
	assert.Nil(t, snap.Status, "a late event for fl-1 must not reappear under fl-2")
	assert.False(t, snap.Connected)
}

func TestEventReader(t *testing.T) {
	r := newEventReader(strings.NewReader(": hello\n\nevent: x\ndata: a\ndata:b\n\ndata: tail"))

	data, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(data))

	_, err = r.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
