package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"flight-status-backend/internal/store"
	"flight-status-backend/internal/stream"
	"flight-status-backend/internal/tracking"
)

// StreamOptions tunes push connections.
type StreamOptions struct {
	BufferSize int
	KeepAlive  time.Duration
	// IdleTimeout closes a connection that has carried no events for this
	// long. Zero keeps connections open indefinitely.
	IdleTimeout time.Duration
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store    store.Store
	tracking *tracking.Service
	registry *stream.Registry
	stream   StreamOptions
	webpush  *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, svc *tracking.Service, registry *stream.Registry, opts StreamOptions, webpushOptions *webpush.Options) *Handler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = stream.DefaultBufferSize
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Handler{
		store:    s,
		tracking: svc,
		registry: registry,
		stream:   opts,
		webpush:  webpushOptions,
	}
}
