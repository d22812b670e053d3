package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/pflag"

	"flight-status-backend/config"
	"flight-status-backend/internal/api"
	"flight-status-backend/internal/db"
	"flight-status-backend/internal/mw"
	"flight-status-backend/internal/notification"
	"flight-status-backend/internal/store"
	"flight-status-backend/internal/stream"
	"flight-status-backend/internal/tracking"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "flightd ", log.LstdFlags)

	configPath := pflag.StringP("config", "c", "", "path to the YAML configuration file (default $CONFIG_PATH or ./config/config.yaml)")
	pflag.Parse()
	if *configPath == "" {
		*configPath = os.Getenv("CONFIG_PATH")
	}
	if *configPath == "" {
		*configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", *configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", *configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret (or SUPABASE_JWT_SECRET) must be set")
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled {
		if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
			logger.Fatalf("VAPID keys must be configured when push is enabled. Please generate them and add them to your config file.")
		}
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseStore := store.NewGormStore(gormDB)
	appStore := store.NewCachedStore(baseStore, cfg.Cache.FlightTTL())
	logger.Println("data store initialized")

	registry := stream.NewRegistry(stream.Limits{
		MaxConnections: cfg.Stream.MaxConnections,
		MaxPerUser:     cfg.Stream.MaxConnectionsPerUser,
	})
	broadcaster := stream.NewBroadcaster(registry)

	var emailSender notification.EmailSender = notification.LogSender{}
	if cfg.Email.APIKey != "" {
		emailSender = notification.NewResendSender(
			cfg.Email.APIKey,
			cfg.Email.From,
			cfg.Email.RateLimitPerSec,
			time.Duration(cfg.Email.TimeoutSeconds)*time.Second,
		)
	} else {
		logger.Println("email.api_key is not set; status emails will only be logged")
	}
	renderer, err := notification.NewRenderer(cfg.Email.Timezone)
	if err != nil {
		logger.Fatalf("failed to create email renderer: %v", err)
	}

	var pushNotifier *notification.PushNotifier
	if webpushOptions != nil {
		pushNotifier = notification.NewPushNotifier(baseStore, webpushOptions)
	}
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size)
	notifier := notification.NewNotifier(pool, emailSender, renderer, pushNotifier)

	// Background tracker for schedule-derived transitions
	trackingSvc := tracking.NewService(&cfg.Tracker, appStore, registry, broadcaster, notifier)
	go trackingSvc.Run(ctx)

	handler := api.NewHandler(appStore, trackingSvc, registry, api.StreamOptions{
		BufferSize:  cfg.Stream.BufferSize,
		KeepAlive:   cfg.Stream.KeepAlive,
		IdleTimeout: cfg.Stream.IdleTimeout,
	}, webpushOptions)
	auth := mw.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	router := api.NewRouter(handler, auth, &cfg.Server)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	// Event streams never finish on their own; close them so Shutdown can drain.
	registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
