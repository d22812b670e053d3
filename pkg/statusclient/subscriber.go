// Package statusclient subscribes to a flight's live status stream and keeps
// a merged view of it, the way the booking pages do in the browser.
package statusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"flight-status-backend/internal/model"
	"flight-status-backend/internal/status"
	"flight-status-backend/internal/stream"
)

var (
	// ErrMalformedMessage is reported in Snapshot.Err when an event payload
	// cannot be decoded. The stream stays open.
	ErrMalformedMessage = errors.New("statusclient: error parsing real-time data")
	// ErrConnectionLost is reported when the stream drops.
	ErrConnectionLost = errors.New("statusclient: connection to real-time updates lost")
	// ErrNoFlight is returned by UpdateFlightStatus when no flight is targeted.
	ErrNoFlight = errors.New("statusclient: no flight selected")
	// ErrUpdateFailed is returned when the server rejects an update.
	ErrUpdateFailed = errors.New("statusclient: failed to update flight status")
)

// Status is a flight's full status as sent by the server.
type Status = status.Resolved

// Delta is a partial status update.
type Delta = status.Delta

// Target selects what to watch. FlightID wins when both are set.
type Target struct {
	FlightID  string
	BookingID string
}

func (t Target) empty() bool { return t.FlightID == "" && t.BookingID == "" }

// Snapshot is the subscriber's view at one point in time.
type Snapshot struct {
	// Status is nil until the first status or update arrives.
	Status     *Status
	Connected  bool
	LastUpdate time.Time
	Err        error
}

// Options configures a Subscriber.
type Options struct {
	HTTPClient *http.Client
	// InitialBackoff and MaxBackoff bound the reconnect delay.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Subscriber holds at most one open stream for the current identity and
// target. Its methods are safe for concurrent use.
type Subscriber struct {
	baseURL string
	client  *http.Client
	opts    Options

	// ctl serializes stream restarts.
	ctl    sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	// gen identifies the current stream. Events from an older stream are
	// dropped.
	gen     uint64
	token   string
	target  Target
	snap    Snapshot
	closed  bool
	updates chan Snapshot
}

// New creates a Subscriber for the API at baseURL. Nothing is opened until
// both an identity and a target are set.
func New(baseURL string, opts Options) *Subscriber {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Subscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		opts:    opts,
		updates: make(chan Snapshot, 16),
	}
}

// SetIdentity sets the bearer token used for every request. An empty token
// closes the stream.
func (s *Subscriber) SetIdentity(token string) {
	s.mu.Lock()
	if s.closed || s.token == token {
		s.mu.Unlock()
		return
	}
	s.token = token
	s.gen++
	s.mu.Unlock()
	s.restart()
}

// SetTarget switches the stream to another flight or booking. The previous
// status is discarded.
func (s *Subscriber) SetTarget(t Target) {
	s.mu.Lock()
	if s.closed || s.target == t {
		s.mu.Unlock()
		return
	}
	s.target = t
	s.gen++
	s.snap.Status = nil
	s.snap.LastUpdate = time.Time{}
	s.mu.Unlock()
	s.restart()
}

// Snapshot returns a copy of the current view.
func (s *Subscriber) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Updates delivers a snapshot after every change. Snapshots are dropped
// while the channel is full. The channel is closed by Close.
func (s *Subscriber) Updates() <-chan Snapshot {
	return s.updates
}

// Close stops the stream. The Subscriber cannot be reused.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.mu.Unlock()

	s.stop()
	s.mu.Lock()
	s.snap.Connected = false
	close(s.updates)
	s.mu.Unlock()
}

func (s *Subscriber) restart() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.stopLocked()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.snap.Connected {
		s.snap.Connected = false
		s.publishLocked()
	}
	if s.token == "" || s.target.empty() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	token, target, gen := s.token, s.target, s.gen
	go func() {
		defer close(done)
		s.run(ctx, gen, token, target)
	}()
}

func (s *Subscriber) stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stopLocked()
}

func (s *Subscriber) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// permanentError stops reconnecting, as a browser does after a non-200 response.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (s *Subscriber) run(ctx context.Context, gen uint64, token string, target Target) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		err := s.consume(ctx, gen, token, target, b)
		if ctx.Err() != nil {
			return
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			s.setDisconnected(gen, perm.err)
			return
		}
		log.Printf("Status stream dropped: %v", err)
		s.setDisconnected(gen, ErrConnectionLost)

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Subscriber) streamURL(target Target) string {
	q := url.Values{}
	if target.FlightID != "" {
		q.Set("flightId", target.FlightID)
	} else {
		q.Set("bookingId", target.BookingID)
	}
	return s.baseURL + "/api/flights/status?" + q.Encode()
}

// consume opens one stream and reads it until it fails.
func (s *Subscriber) consume(ctx context.Context, gen uint64, token string, target Target, b backoff.BackOff) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL(target), nil)
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &permanentError{err: fmt.Errorf("%w: status %d", ErrConnectionLost, resp.StatusCode)}
	}
	b.Reset()
	s.setConnected(gen)

	events := newEventReader(resp.Body)
	for {
		data, err := events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		s.apply(gen, data)
	}
}

func (s *Subscriber) apply(gen uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}

	var msg stream.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.snap.Err = fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		s.publishLocked()
		return
	}
	if !msg.Timestamp.IsZero() {
		s.snap.LastUpdate = msg.Timestamp
	}

	switch msg.Type {
	case stream.TypeFlightStatus:
		if msg.Status != nil {
			st := *msg.Status
			s.snap.Status = &st
		}
	case stream.TypeFlightUpdate:
		if msg.Update != nil {
			base := status.Placeholder()
			if s.snap.Status != nil {
				base = *s.snap.Status
			}
			merged := base.Merge(*msg.Update)
			s.snap.Status = &merged
		}
	}
	s.publishLocked()
}

func (s *Subscriber) setConnected(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.snap.Connected = true
	s.snap.Err = nil
	s.publishLocked()
}

func (s *Subscriber) setDisconnected(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.snap.Connected = false
	s.snap.Err = err
	s.publishLocked()
}

func (s *Subscriber) copyLocked() Snapshot {
	snap := s.snap
	if snap.Status != nil {
		st := *snap.Status
		snap.Status = &st
	}
	return snap
}

func (s *Subscriber) publishLocked() {
	if s.closed {
		return
	}
	select {
	case s.updates <- s.copyLocked():
	default:
	}
}

// UpdateResult is the server's reply to a status update.
type UpdateResult struct {
	Success    bool                     `json:"success"`
	FlightID   string                   `json:"flightId"`
	Update     Delta                    `json:"update"`
	Saved      model.FlightStatusUpdate `json:"saved"`
	EmailsSent int                      `json:"emailsSent"`
}

type updateBody struct {
	Status  string  `json:"status"`
	Delay   *int    `json:"delay,omitempty"`
	Gate    *string `json:"gate,omitempty"`
	Message string  `json:"message,omitempty"`
}

// UpdateFlightStatus posts an operator update for the targeted flight. The
// local view changes only when the server broadcasts the update back.
func (s *Subscriber) UpdateFlightStatus(ctx context.Context, d Delta) (*UpdateResult, error) {
	s.mu.Lock()
	token, flightID := s.token, s.target.FlightID
	s.mu.Unlock()
	if flightID == "" {
		return nil, ErrNoFlight
	}

	body := updateBody{Delay: d.Delay, Gate: d.Gate}
	if d.Status != nil {
		body.Status = *d.Status
	}
	if d.Message != nil {
		body.Message = *d.Message
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}

	endpoint := s.baseURL + "/api/flights/" + url.PathEscape(flightID) + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.failUpdate()
		return nil, fmt.Errorf("%w: %v", ErrUpdateFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.failUpdate()
		return nil, fmt.Errorf("%w: status %d", ErrUpdateFailed, resp.StatusCode)
	}

	var result UpdateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode update response: %w", err)
	}
	return &result, nil
}

func (s *Subscriber) failUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Err = ErrUpdateFailed
	s.publishLocked()
}
