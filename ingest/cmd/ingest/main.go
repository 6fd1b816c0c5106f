package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/telhawk-systems/ledgersafe/common/logging"
	"github.com/telhawk-systems/ledgersafe/common/middleware"
	"github.com/telhawk-systems/ledgersafe/common/tenantstats"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/audit"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/auth"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/config"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/dlq"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/handlers"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/notify"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/repository"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/server"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/service"
	"github.com/telhawk-systems/ledgersafe/ingest/internal/validator"

	natsclient "github.com/telhawk-systems/ledgersafe/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ledger ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.Database.Type),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	v, err := validator.New(cfg.Engine.AllowedEventTypes)
	if err != nil {
		slog.Error("Failed to build validator", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Event types allowed", slog.Any("types", v.AllowedEventTypes()))

	opts := []service.Option{service.WithLogger(logger)}
	handlerOpts := []handlers.Option{
		handlers.WithLogger(logger),
		handlers.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	}

	// Tenant usage stats
	if cfg.Redis.Enabled {
		hostname, _ := os.Hostname()
		instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

		statsClient, err := tenantstats.NewClient(cfg.Redis.URL, instanceID)
		if err != nil {
			slog.Warn("Tenant stats disabled", logging.Error(err))
		} else {
			collector := tenantstats.NewCollector(statsClient, cfg.Redis.FlushInterval, logger.Logger)
			defer statsClient.Close()
			defer collector.Stop()
			opts = append(opts, service.WithStats(collector))
			handlerOpts = append(handlerOpts, handlers.WithStats(statsClient))
			slog.Info("Tenant stats enabled", slog.String("instance", instanceID))
		}
	}

	// Lifecycle notifications and dead-letter capture
	if cfg.NATS.Enabled {
		js, err := natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "ledgersafe-ingest",
			Token:         cfg.NATS.Token,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
			Logger:        logger.Logger,
		})
		if err != nil {
			slog.Error("Failed to connect to NATS", logging.Error(err))
			os.Exit(1)
		}
		defer js.Drain()

		opts = append(opts, service.WithNotifier(notify.NewPublisher(js, logger)))

		if cfg.NATS.DeadLetter {
			queue, err := dlq.NewJetStreamQueue(ctx, js, logger)
			if err != nil {
				slog.Error("Failed to initialize dead-letter stream", logging.Error(err))
				os.Exit(1)
			}
			opts = append(opts, service.WithDeadLetter(queue))
			handlerOpts = append(handlerOpts, handlers.WithDeadLetters(queue))
		}
		slog.Info("NATS enabled", slog.String("url", cfg.NATS.URL), slog.Bool("dead_letter", cfg.NATS.DeadLetter))
	}

	verifier, err := auth.NewVerifier(auth.Config{
		Enabled: cfg.Auth.Enabled,
		Secret:  cfg.Auth.Secret,
		Issuer:  cfg.Auth.Issuer,
		Role:    cfg.Auth.Role,
		Leeway:  cfg.Auth.Leeway,
	})
	if err != nil {
		slog.Error("Failed to configure operator auth", logging.Error(err))
		os.Exit(1)
	}

	svc := service.New(store, v, audit.NewRecorder(cfg.Audit.SigningSecret), service.Config{
		MaxAttempts:  cfg.Engine.MaxAttempts,
		RetryBackoff: cfg.Engine.RetryBackoff,
		RetryAfter:   cfg.Engine.RetryAfter,
	}, opts...)

	handler := handlers.NewHandler(svc, handlerOpts...)
	router := server.NewRouter(handler, verifier, middleware.DefaultCORSConfig(cfg.CORS.AllowedOrigins))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", logging.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}
	slog.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.Database.Type == "memory" {
		slog.Warn("Using in-memory store; ledger state is lost on restart")
		return repository.NewMemoryStore(), nil
	}

	pg := cfg.Database.Postgres
	connString := pg.ConnString()

	if pg.AutoMigrate {
		if err := runMigrations(pg.MigrationsDir, connString); err != nil {
			return nil, err
		}
	}

	store, err := repository.NewPostgresStore(ctx, connString, cfg.Engine.LockTimeout)
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to PostgreSQL", slog.String("host", pg.Host), slog.String("database", pg.Database))
	return store, nil
}

func runMigrations(dir, connString string) error {
	slog.Info("Running database migrations", slog.String("dir", dir))
	m, err := migrate.New("file://"+dir, connString)
	if err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Could not get migration version", logging.Error(err))
		return nil
	}
	slog.Info("Database migration complete",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
