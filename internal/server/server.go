package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/strefethen/playsched-go/internal/api"
	"github.com/strefethen/playsched-go/internal/audit"
	"github.com/strefethen/playsched-go/internal/auth"
	"github.com/strefethen/playsched-go/internal/config"
	"github.com/strefethen/playsched-go/internal/db"
	"github.com/strefethen/playsched-go/internal/engine"
	"github.com/strefethen/playsched-go/internal/events"
	"github.com/strefethen/playsched-go/internal/logx"
	"github.com/strefethen/playsched-go/internal/openapi"
	"github.com/strefethen/playsched-go/internal/playback"
	"github.com/strefethen/playsched-go/internal/schedule"
	"github.com/strefethen/playsched-go/internal/spotify"
	"github.com/strefethen/playsched-go/internal/system"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logger.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.status).
				Dur("elapsed", time.Since(start).Round(time.Millisecond)).
				Str("request_id", api.GetRequestID(r)).
				Msg("request")
		})
	}
}

// Options controls server wiring.
type Options struct {
	// DisablePoller skips starting the poll loop and prune job (for tests).
	DisablePoller bool
	// Port replaces the configured playback backend (for tests).
	Port playback.Port
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, logger zerolog.Logger, options Options) (http.Handler, func(context.Context) error, error) {
	loc, err := time.LoadLocation(cfg.Scheduler.DefaultTimezone)
	if err != nil {
		return nil, nil, err
	}

	logger.Info().Str("path", cfg.SQLiteDBPath).Msg("using database")
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	guard, redisClient, err := newGuard(cfg)
	if err != nil {
		dbPair.Close()
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware(logx.Component(logger, "http")))
	router.Use(api.RecovererMiddleware(logger))
	router.Use(auth.Middleware(cfg))

	scheduleService := schedule.NewService(schedule.NewRepository(dbPair), cfg.Scheduler.DefaultTimezone, logger)
	schedule.RegisterRoutes(router, scheduleService)

	auditService := audit.NewService(dbPair, logger)
	audit.RegisterRoutes(router, auditService)

	hub := events.NewHub(logger)
	events.RegisterRoutes(router, hub)

	port := options.Port
	if port == nil {
		port = newPort(cfg, dbPair, router, logger)
	}

	store := scheduleService.Repository()
	executor := engine.NewExecutor(store, port, guard, engine.ExecutorConfig{
		Timeout:          cfg.Playback.Timeout,
		BreakerThreshold: cfg.Playback.BreakerThreshold,
		BreakerCooldown:  cfg.Playback.BreakerCooldown,
	}, logger, engine.WithRecorder(auditService), engine.WithPublisher(hub))
	engine.RegisterRoutes(router, engine.NewGateway(store, executor), port)

	poller := engine.NewPoller(store, executor, engine.PollerConfig{
		Interval:   cfg.Scheduler.PollInterval(),
		StaleAfter: cfg.Scheduler.StaleAfter,
		Location:   loc,
	}, logger)

	registerHealthRoutes(router, dbPair, auditService)
	openapi.RegisterRoutes(router)

	_, unconfigured := port.(playback.Unconfigured)
	systemService := system.NewService(system.Dependencies{
		Schedules:          scheduleService,
		Events:             auditService,
		Poller:             poller,
		DB:                 dbPair,
		PlaybackConfigured: !unconfigured,
	}, logger)
	system.RegisterRoutes(router, systemService)

	if !options.DisablePoller {
		auditService.StartPruneJob()
		poller.Start()
	}
	recordSystemEvent(auditService, logger, audit.EventSystemStartup, "scheduler started", map[string]any{
		"interval_seconds": cfg.Scheduler.IntervalSeconds,
		"timezone":         cfg.Scheduler.DefaultTimezone,
	})

	shutdown := func(ctx context.Context) error {
		if !options.DisablePoller {
			poller.Stop()
			auditService.StopPruneJob()
		}
		hub.Close()
		recordSystemEvent(auditService, logger, audit.EventSystemShutdown, "scheduler stopped", nil)

		var errs []error
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close redis: %w", err))
			}
		}
		if err := dbPair.Close(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	return router, shutdown, nil
}

// newGuard picks the shared Redis guard when REDIS_URL is set.
func newGuard(cfg config.Config) (engine.Guard, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return engine.NewLocalGuard(), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	// A held key outlives the slowest possible fire.
	return engine.NewRedisGuard(client, 2*cfg.Playback.Timeout), client, nil
}

func newPort(cfg config.Config, dbPair *db.DBPair, router chi.Router, logger zerolog.Logger) playback.Port {
	if !cfg.Spotify.Enabled() {
		logger.Warn().Msg("spotify credentials missing, playback disabled")
		return playback.Unconfigured{}
	}
	client := spotify.NewClient(spotify.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		APIURL:       cfg.Spotify.APIURL,
		AccountsURL:  cfg.Spotify.AccountsURL,
		RatePerSec:   cfg.Spotify.RatePerSec,
	}, spotify.NewRepository(dbPair), logger)
	spotify.RegisterRoutes(router, client)
	return client
}

func recordSystemEvent(service *audit.Service, logger zerolog.Logger, eventType audit.EventType, message string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := service.RecordEvent(ctx, audit.WriteEventInput{Type: eventType, Message: message, Payload: payload}); err != nil {
		logger.Warn().Err(err).Str("type", string(eventType)).Msg("failed to record system event")
	}
}

func registerHealthRoutes(router chi.Router, dbPair *db.DBPair, auditService *audit.Service) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "playsched",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		checks := map[string]any{"database": "ok", "audit": "ok"}
		status := http.StatusOK
		if err := dbPair.Ping(); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if !auditService.IsHealthy() {
			checks["audit"] = "degraded"
			status = http.StatusServiceUnavailable
		}
		state := "ready"
		if status != http.StatusOK {
			state = "not_ready"
		}
		return api.WriteJSON(w, status, map[string]any{"status": state, "checks": checks})
	}))
}
