package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/example/drivuber/internal/auth"
	"github.com/example/drivuber/internal/booking"
	"github.com/example/drivuber/internal/chat"
	"github.com/example/drivuber/internal/config"
	"github.com/example/drivuber/internal/dispatch"
	"github.com/example/drivuber/internal/events"
	httpapi "github.com/example/drivuber/internal/http"
	"github.com/example/drivuber/internal/logging"
	"github.com/example/drivuber/internal/maps"
	"github.com/example/drivuber/internal/matcher"
	"github.com/example/drivuber/internal/observability"
	"github.com/example/drivuber/internal/payments"
	"github.com/example/drivuber/internal/session"
	"github.com/example/drivuber/internal/storage"
)

const migrationFile = "001_create_local_storage.sql"

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("drivuber-api", cfg.LogLevel)
	slog.SetDefault(logger)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Warn("sentry disabled", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("server stopped", "error", err)
		observability.CaptureError(err)
	}
	observability.FlushSentry(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}

// run owns every resource the server opens and releases them all before
// returning, so main can flush error reporting before it exits.
func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	kv, closeKV, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.StorageDriver, err)
	}
	defer closeKV()

	publisher, err := openPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s publisher: %w", cfg.EventsDriver, err)
	}
	defer publisher.Close()

	var processor payments.Processor
	if cfg.StripeAPIKey != "" {
		processor = payments.NewStripeClient(cfg.StripeAPIKey)
		logger.Info("payment holds enabled", "currency", cfg.Currency)
	}

	var mapsClient maps.Client
	if cfg.MapsAPIKey != "" && cfg.MapsAPIKey != maps.PlaceholderKey {
		mapsClient = maps.NewCached(maps.NewGoogleClient(cfg.MapsAPIKey), cfg.MapsCacheSize, cfg.MapsCacheTTL)
	} else {
		logger.Warn("maps api key missing, route views fall back to text")
	}

	demo := cfg.DemoMode()
	if demo {
		logger.Warn("auth backend not configured, running in demo mode")
	}
	backend := func(clientKV storage.KV) auth.Backend {
		if demo {
			return auth.Mock{}
		}
		return auth.NewGoTrue(auth.GoTrueConfig{
			URL:       cfg.BackendURL,
			AnonKey:   cfg.BackendAnonKey,
			JWTSecret: cfg.BackendJWTSecret,
		}, clientKV, nil)
	}

	hub := dispatch.NewHub(logger)
	defer hub.Close()
	chats := func(clientID string) *chat.Simulator {
		return chat.New(chat.Options{
			ReplyDelay: cfg.ChatReplyDelay,
			Picker:     chat.NewPicker(cfg.ChatSeed),
			Notifier:   hub.Notifier(clientID),
		})
	}

	registry := session.NewRegistry(session.RegistryOptions{
		KV:      kv,
		Backend: backend,
		Chat:    chats,
		Store: session.Options{
			DemoMode:      demo,
			SignInDelay:   cfg.DemoSignInDelay,
			OAuthProvider: cfg.OAuthProvider,
			RedirectURL:   cfg.OAuthRedirectURL,
		},
		Logger:      logger,
		MaxProfiles: cfg.SessionMaxProfiles,
		IdleTTL:     cfg.SessionIdleTTL,
	})
	defer registry.Close()
	go registry.Run(ctx, cfg.SessionSweepEvery)

	api := httpapi.NewServer(httpapi.Options{
		Registry: registry,
		Matcher:  &matcher.Service{},
		Booking: booking.NewService(booking.Options{
			Payments: processor,
			Events:   publisher,
			Currency: cfg.Currency,
			Logger:   logger,
		}),
		Maps:   mapsClient,
		Hub:    hub,
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("drivuber listening", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver, "events", cfg.EventsDriver, "demo", demo)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openStorage picks the key-value backend every client profile lives in.
func openStorage(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.KV, func(), error) {
	noop := func() {}
	switch cfg.StorageDriver {
	case "file":
		fs, err := storage.NewFileStore(cfg.StorageDir)
		return fs, noop, err
	case "redis":
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			_ = rs.Close()
			return nil, noop, err
		}
		return rs, func() { _ = rs.Close() }, nil
	case "postgres":
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, noop, err
		}
		if cfg.RunMigrations {
			script, err := os.ReadFile(filepath.Join("migrations", migrationFile))
			if err != nil {
				ps.Close()
				return nil, noop, err
			}
			if err := ps.Migrate(ctx, string(script)); err != nil {
				ps.Close()
				return nil, noop, err
			}
			logger.Info("migration applied", "file", migrationFile)
		}
		return ps, func() { _ = ps.Close() }, nil
	}
	return storage.NewMemoryStore(), noop, nil
}

func openPublisher(cfg config.ServerConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.EventsDriver {
	case "kafka":
		return events.Instrumented(events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)), nil
	case "nats":
		p, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		return events.Instrumented(p), nil
	}
	return events.Noop{}, nil
}
