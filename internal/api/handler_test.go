package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flight-status-backend/config"
	"flight-status-backend/internal/db"
	"flight-status-backend/internal/model"
	"flight-status-backend/internal/mw"
	"flight-status-backend/internal/notification"
	"flight-status-backend/internal/status"
	"flight-status-backend/internal/store"
	"flight-status-backend/internal/stream"
	"flight-status-backend/internal/tracking"
)

const testSecret = "test-jwt-secret-with-enough-entropy-0123456789"

func init() {
	gin.SetMode(gin.TestMode)
}

type countingEmail struct {
	mu   sync.Mutex
	sent []string
}

func (e *countingEmail) Send(_ context.Context, email notification.Email) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, email.To)
	return nil
}

type testEnv struct {
	db          *gorm.DB
	store       store.Store
	registry    *stream.Registry
	broadcaster *stream.Broadcaster
	email       *countingEmail
	router      *gin.Engine
}

func newTestEnv(t *testing.T, limits stream.Limits, webpushOptions *webpush.Options) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	st := store.NewGormStore(gormDB)
	registry := stream.NewRegistry(limits)
	broadcaster := stream.NewBroadcaster(registry)
	renderer, err := notification.NewRenderer("Asia/Kolkata")
	require.NoError(t, err)
	email := &countingEmail{}
	notifier := notification.NewNotifier(notification.NewWorkerPool(2), email, renderer, nil)
	svc := tracking.NewService(&config.TrackerConfig{}, st, registry, broadcaster, notifier)

	handler := NewHandler(st, svc, registry, StreamOptions{BufferSize: 8}, webpushOptions)
	router := NewRouter(handler, mw.NewJWTAuthenticator(testSecret, "sb-access-token"), &config.ServerConfig{})

	env := &testEnv{db: gormDB, store: st, registry: registry, broadcaster: broadcaster, email: email, router: router}
	env.seed(t)
	return env
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Airport{ID: 1, Code: "DEL", City: "Delhi"}).Error)
	require.NoError(t, e.db.Create(&model.Airport{ID: 2, Code: "BOM", City: "Mumbai"}).Error)
	dep := time.Now().UTC().Add(6 * time.Hour).Truncate(time.Second)
	require.NoError(t, e.db.Create(&model.Flight{
		ID: "fl-1", FlightNumber: "AI101", Airline: "Air India", OriginID: 1, DestinationID: 2,
		DepartureTime: dep, ArrivalTime: dep.Add(2 * time.Hour),
	}).Error)
	require.NoError(t, e.db.Omit("Flight").Create(&[]model.Booking{
		{ID: "bk-1", UserID: "user-1", FlightID: "fl-1", BookingStatus: "Confirmed", UserEmail: "a@example.com"},
		{ID: "bk-2", UserID: "user-2", FlightID: "fl-1", BookingStatus: "Confirmed", UserEmail: "b@example.com"},
	}).Error)
}

func statusDelta(s string) status.Delta {
	return status.Delta{Status: &s, Timestamp: time.Now().UTC(), UpdatedBy: "system"}
}

func token(t *testing.T, userID, email string) string {
	t.Helper()
	tok, err := mw.NewToken(testSecret, mw.Identity{UserID: userID, Email: email}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, body, tok string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestStatusEndpoints_RequireAuth(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/api/flights/fl-1/status", ""},
		{http.MethodPost, "/api/flights/fl-1/status", `{"status":"Delayed","delay":20}`},
		{http.MethodGet, "/api/flights/status?flightId=fl-1", ""},
		{http.MethodGet, "/api/push/subscriptions", ""},
	} {
		w := env.do(t, tc.method, tc.path, tc.body, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", tc.method, tc.path)
	}

	rows, err := env.store.RecentStatusUpdates(context.Background(), "fl-1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "no update is persisted without an identity")
	assert.Equal(t, 0, env.registry.Len())
	assert.Empty(t, env.email.sent)
}

func TestGetFlightStatus_Derived(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)

	w := env.do(t, http.MethodGet, "/api/flights/fl-1/status", "", token(t, "user-1", "a@example.com"))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		FlightID    string         `json:"flightId"`
		Status      map[string]any `json:"status"`
		Flight      model.Flight   `json:"flight"`
		LastUpdated *time.Time     `json:"lastUpdated"`
		UpdatedBy   string         `json:"updatedBy"`
		Source      string         `json:"source"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "fl-1", body.FlightID)
	assert.Equal(t, "Scheduled", body.Status["status"])
	assert.Equal(t, "green", body.Status["color"])
	assert.Equal(t, "AI101", body.Flight.FlightNumber)
	assert.Equal(t, "DEL", body.Flight.Origin.Code)
	assert.Nil(t, body.LastUpdated)
	assert.Equal(t, "system", body.UpdatedBy)
	assert.Equal(t, "derived", body.Source)

	w = env.do(t, http.MethodGet, "/api/flights/nope/status", "", token(t, "user-1", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostFlightStatus(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	tok := token(t, "ops-1", "ops@example.com")

	w := env.do(t, http.MethodPost, "/api/flights/fl-1/status", `{"status":"Delayed","delay":45,"gate":"B12","message":"Late inbound aircraft"}`, tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Success    bool                     `json:"success"`
		FlightID   string                   `json:"flightId"`
		Update     map[string]any           `json:"update"`
		Saved      model.FlightStatusUpdate `json:"saved"`
		EmailsSent int                      `json:"emailsSent"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "fl-1", body.FlightID)
	assert.Equal(t, 2, body.EmailsSent)
	assert.Equal(t, "Delayed", body.Saved.Status)
	assert.Equal(t, 45, body.Saved.DelayMinutes)
	assert.Equal(t, "ops@example.com", body.Saved.UpdatedBy)
	assert.Equal(t, "B12", body.Update["gate"])
	assert.Equal(t, "ops@example.com", body.Update["updatedBy"])
	assert.ElementsMatch(t, []string{"a@example.com", "b@example.com"}, env.email.sent)

	w = env.do(t, http.MethodGet, "/api/flights/fl-1/status", "", tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"Delayed"`)
	assert.Contains(t, w.Body.String(), `"color":"yellow"`)
	assert.Contains(t, w.Body.String(), `"source":"persisted"`)
}

func TestPostFlightStatus_Rejections(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	tok := token(t, "ops-1", "ops@example.com")

	testCases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"malformed body", "/api/flights/fl-1/status", `{"status":`, http.StatusBadRequest},
		{"missing status", "/api/flights/fl-1/status", `{"delay":5}`, http.StatusBadRequest},
		{"unknown status", "/api/flights/fl-1/status", `{"status":"Taxiing"}`, http.StatusBadRequest},
		{"negative delay", "/api/flights/fl-1/status", `{"status":"Delayed","delay":-1}`, http.StatusBadRequest},
		{"unknown flight", "/api/flights/nope/status", `{"status":"Delayed"}`, http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tc.path, tc.body, tok)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}

	rows, err := env.store.RecentStatusUpdates(context.Background(), "fl-1", 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// readEvent reads one "data: ..." event, skipping keep-alive comments.
func readEvent(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		blank, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "\n", blank, "events end with a blank line")

		var msg map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSuffix(line, "\n"), "data: ")), &msg))
		return msg
	}
}

func openStream(t *testing.T, ctx context.Context, srv *httptest.Server, query, tok string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/flights/status"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestStreamStatus_LifecycleAndCleanup(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, "?flightId=fl-1", token(t, "user-1", "a@example.com"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	connected := readEvent(t, reader)
	assert.Equal(t, "connected", connected["type"])
	assert.Equal(t, "user-1", connected["user"])

	initial := readEvent(t, reader)
	assert.Equal(t, "flight_status", initial["type"])
	assert.Equal(t, "fl-1", initial["flightId"])
	assert.Equal(t, "Scheduled", initial["status"].(map[string]any)["status"])
	assert.Equal(t, 1, env.registry.Len())

	w := env.do(t, http.MethodPost, "/api/flights/fl-1/status", `{"status":"Boarding","gate":"A4"}`, token(t, "ops", "ops@example.com"))
	require.Equal(t, http.StatusOK, w.Code)

	update := readEvent(t, reader)
	assert.Equal(t, "flight_update", update["type"])
	assert.Equal(t, "Boarding", update["update"].(map[string]any)["status"])
	assert.Equal(t, "A4", update["update"].(map[string]any)["gate"])

	// Client disconnects.
	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool { return env.registry.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, env.broadcaster.Broadcast("fl-1", statusDelta("Delayed")))
}

func TestStreamStatus_BookingScope(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	// Someone else's booking is not found.
	w := env.do(t, http.MethodGet, "/api/flights/status?bookingId=bk-1", "", token(t, "user-2", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodGet, "/api/flights/status?bookingId=missing", "", token(t, "user-1", ""))
	assert.Equal(t, http.StatusNotFound, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, "?bookingId=bk-1", token(t, "user-1", ""))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reader := bufio.NewReader(resp.Body)

	assert.Equal(t, "connected", readEvent(t, reader)["type"])
	assert.Equal(t, "flight_status", readEvent(t, reader)["type"])

	require.Eventually(t, func() bool { return env.broadcaster.Broadcast("fl-1", statusDelta("Delayed")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "flight_update", readEvent(t, reader)["type"])
}

func TestStreamStatus_AllScope(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp := openStream(t, ctx, srv, "", token(t, "user-1", ""))
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	assert.Equal(t, "connected", readEvent(t, reader)["type"])
	assert.Equal(t, 1, env.broadcaster.Broadcast("any-flight", statusDelta("Arrived")))
	msg := readEvent(t, reader)
	assert.Equal(t, "flight_update", msg["type"])
	assert.Equal(t, "any-flight", msg["flightId"])
}

func TestStreamStatus_Limits(t *testing.T) {
	env := newTestEnv(t, stream.Limits{MaxConnections: 1}, nil)
	require.NoError(t, env.registry.Register(stream.NewConnection("other", stream.AllScope(), 1)))

	w := env.do(t, http.MethodGet, "/api/flights/status", "", token(t, "user-1", ""))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newTestEnv(t, stream.Limits{MaxPerUser: 1}, nil)
	require.NoError(t, env.registry.Register(stream.NewConnection("user-1", stream.AllScope(), 1)))
	w = env.do(t, http.MethodGet, "/api/flights/status", "", token(t, "user-1", ""))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestPushSubscriptions(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	tok := token(t, "user-1", "")
	other := token(t, "user-2", "")

	w := env.do(t, http.MethodPut, "/api/push/subscriptions", `{"endpoint":"https://push.example/1"}`, tok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/push/subscriptions", `{"endpoint":"https://push.example/1","p256dh":"k","auth":"a"}`, tok)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/push/subscriptions?endpoint=https://push.example/1", "", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/push/subscriptions?endpoint=https://push.example/1", "", other)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/push/subscriptions", "", tok)
	assert.JSONEq(t, `{"endpoints":["https://push.example/1"]}`, w.Body.String())

	w = env.do(t, http.MethodDelete, "/api/push/subscriptions", `{"endpoint":"https://push.example/1"}`, tok)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodGet, "/api/push/subscriptions", "", tok)
	assert.JSONEq(t, `{"endpoints":[]}`, w.Body.String())
}

func TestGetVAPIDPublicKey(t *testing.T) {
	env := newTestEnv(t, stream.Limits{}, nil)
	w := env.do(t, http.MethodGet, "/api/push/vapid_public_key", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newTestEnv(t, stream.Limits{}, &webpush.Options{VAPIDPublicKey: "BPublicKey"})
	w = env.do(t, http.MethodGet, "/api/push/vapid_public_key", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"BPublicKey"}`, w.Body.String())
}
