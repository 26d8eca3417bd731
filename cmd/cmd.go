package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jakob98-code/distance-tracker/internal/config"
	"github.com/Jakob98-code/distance-tracker/internal/geocode"
	"github.com/Jakob98-code/distance-tracker/internal/geolocation"
	"github.com/Jakob98-code/distance-tracker/internal/handlers"
	"github.com/Jakob98-code/distance-tracker/internal/identity"
	"github.com/Jakob98-code/distance-tracker/internal/middleware"
	"github.com/Jakob98-code/distance-tracker/internal/repository"
	"github.com/Jakob98-code/distance-tracker/internal/services"
	"github.com/Jakob98-code/distance-tracker/internal/syncstore"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx := context.Background()

	// Open device-local state
	local, err := repository.OpenLocalStore(ctx, cfg.Local.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open local state")
	}
	defer local.Close()
	log.Info().Str("path", cfg.Local.Path).Msg("Local state opened")

	// Identity provider with the persisted session
	provider := identity.NewFirebaseProvider(identity.FirebaseOptions{
		APIKey:        cfg.Identity.APIKey,
		Endpoint:      cfg.Identity.Endpoint,
		TokenEndpoint: cfg.Identity.TokenEndpoint,
		Timeout:       cfg.Identity.Timeout,
	}, local)
	defer provider.Close()
	if err := provider.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore previous session")
	}

	// Shared store
	store, err := newSyncStore(ctx, cfg.Sync)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Sync.Backend).Msg("Failed to connect to shared store")
	}
	defer store.Close()
	log.Info().Str("backend", cfg.Sync.Backend).Msg("Shared store connected")

	resolver := geocode.NewNominatimResolver(cfg.Geocoder.Endpoint, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout)

	// Position source: fixes relayed by the dashboard browser, or a fixed position
	var source geolocation.Source
	var feed handlers.PositionFeed
	switch cfg.Position.Source {
	case "static":
		source = geolocation.NewStaticSource(cfg.Position.Lat, cfg.Position.Lon, cfg.Position.Accuracy, cfg.Position.Interval)
	default:
		f := geolocation.NewFeedSource()
		source, feed = f, f
	}

	wsHub := services.NewWSHub()
	defer wsHub.Close()

	app := services.NewApp(services.AppDeps{
		Provider: provider,
		Local:    local,
		Store:    store,
		Resolver: resolver,
		Source:   source,
		Events:   wsHub,
		Map:      wsHub,
		Defaults: cfg.App,
	})
	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start app")
	}
	defer app.Close()

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(app.Gate())
	pinHandler := handlers.NewPinHandler(app)
	locationHandler := handlers.NewLocationHandler(app)
	settingsHandler := handlers.NewSettingsHandler(app)
	origins := middleware.NewOriginPolicy(cfg.Server.AllowedOrigins)
	wsHandler := handlers.NewWebSocketHandler(wsHub, app, feed, origins.Allowed)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(origins.CORS)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/auth/state", authHandler.GetState)
		r.Post("/auth/signin", authHandler.SignIn)
		r.Post("/auth/signup", authHandler.SignUp)
		r.Post("/auth/signout", authHandler.SignOut)

		r.Get("/pin", pinHandler.GetPin)
		r.Post("/pin/keys", pinHandler.PressKeys)

		// Unlocked routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUnlocked(app))
			r.Get("/locations", locationHandler.GetLocations)
			r.Post("/location", locationHandler.UpdateLocation)
			r.Post("/tracking/start", locationHandler.StartTracking)
			r.Post("/tracking/stop", locationHandler.StopTracking)
			r.Get("/settings", settingsHandler.GetSettings)
			r.Put("/settings", settingsHandler.UpdateSettings)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown
	wsHub.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// newSyncStore connects the configured shared store backend
func newSyncStore(ctx context.Context, cfg config.SyncConfig) (syncstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMQTT:
		store, err := syncstore.NewMQTTStore(syncstore.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		store, err := syncstore.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		return syncstore.NewRedisStore(client, cfg.Redis.PingInterval), nil
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
