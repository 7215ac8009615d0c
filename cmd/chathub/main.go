package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	cfhttp "github.com/Strob0t/chathub/internal/adapter/http"
	cfnats "github.com/Strob0t/chathub/internal/adapter/nats"
	"github.com/Strob0t/chathub/internal/adapter/natskv"
	cfotel "github.com/Strob0t/chathub/internal/adapter/otel"
	"github.com/Strob0t/chathub/internal/adapter/ristretto"
	"github.com/Strob0t/chathub/internal/adapter/tiered"
	"github.com/Strob0t/chathub/internal/adapter/ws"
	"github.com/Strob0t/chathub/internal/config"
	"github.com/Strob0t/chathub/internal/domain/chat"
	"github.com/Strob0t/chathub/internal/logger"
	"github.com/Strob0t/chathub/internal/middleware"
	"github.com/Strob0t/chathub/internal/port/cache"
	"github.com/Strob0t/chathub/internal/resilience"
	"github.com/Strob0t/chathub/internal/service"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	prev := slog.Default()
	slog.SetDefault(log)
	defer func() {
		slog.SetDefault(prev) // the fatal error in main must not hit a closed async handler
		closeLog.Close()
	}()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auth_enabled", cfg.Auth.Enabled,
		"relay", cfg.NATS.URL != "",
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOTEL, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	// NATS (optional cross-node relay)
	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(ctx, cfg.NATS.URL, cfg.Logging.Service)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				_ = queue.Close()
			}
		}()
	}

	// Verified-token cache: ristretto L1, optionally backed by a shared
	// JetStream KV bucket.
	var tokenCache cache.Cache[chat.Identity]
	if cfg.Auth.CacheSizeMB > 0 {
		rc, err := ristretto.New[chat.Identity](cfg.Auth.CacheSizeMB<<20, identityCost)
		if err != nil {
			return fmt.Errorf("token cache: %w", err)
		}
		defer rc.Close()
		tokenCache = rc

		if queue != nil && cfg.NATS.TokenCacheBucket != "" {
			kv, err := queue.KeyValue(ctx, cfg.NATS.TokenCacheBucket, cfg.Auth.CacheTTL)
			if err != nil {
				return fmt.Errorf("token cache bucket: %w", err)
			}
			tokenCache = tiered.New[chat.Identity](rc, natskv.New[chat.Identity](kv), cfg.Auth.CacheTTL)
			slog.Info("shared token cache enabled", "bucket", cfg.NATS.TokenCacheBucket)
		}
	}

	// --- Services ---
	authSvc := service.NewAuthService(&cfg.Auth, tokenCache)

	registry := service.NewRegistry(service.WithRegistryMetrics(metrics))
	dispatcher := service.NewDispatcher(registry, cfg.Dispatch, metrics)
	chatSvc := service.NewChatService(dispatcher, cfg.Dispatch.MaxBodyBytes)

	handlers := &cfhttp.Handlers{
		Chat:        chatSvc,
		Connections: registry,
		MaxBody:     cfg.Dispatch.MaxBodyBytes,
	}

	// --- Relay ---
	if queue != nil {
		breaker := resilience.NewBreaker("nats-relay", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		chatSvc.EnableRelay(queue, cfg.NATS.Subject, breaker, metrics)
		handlers.Relay = queue

		stopRelay, err := chatSvc.StartRelaySubscriber(ctx)
		if err != nil {
			return fmt.Errorf("relay subscriber: %w", err)
		}
		defer stopRelay()
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	hub := ws.NewHub(registry, chatSvc,
		ws.WithLimiter(limiter),
		ws.WithOrigin(cfg.Server.CORSOrigin),
		ws.WithMaxBody(cfg.Dispatch.MaxBodyBytes),
	)

	// --- HTTP ---
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(middleware.Auth(authSvc, cfg.Auth.Enabled))

	// WebSocket endpoint (long-lived, outside the request timeout)
	r.Get("/ws", hub.HandleWS)

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		cfhttp.MountRoutes(r, handlers, limiter.Handler)
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr, "node_id", chatSvc.NodeID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return shutdown(shutdownCtx, srv, registry)
}

// connectionCloser closes every live WebSocket connection.
type connectionCloser interface {
	CloseAll() int
}

// shutdown stops srv and then closes the live WebSocket connections.
// Upgraded connections are hijacked, so srv.Shutdown neither waits for nor
// closes them; they are closed here even when Shutdown times out.
func shutdown(ctx context.Context, srv *http.Server, conns connectionCloser) error {
	err := srv.Shutdown(ctx)
	n := conns.CloseAll()
	slog.Info("closed live connections", "count", n)
	return err
}

// identityCost approximates the cached size of an identity in bytes.
func identityCost(id chat.Identity) int64 {
	return int64(len(id.UserID) + len(id.Name) + 32)
}
