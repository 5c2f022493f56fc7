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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/retail-ledger/internal/cache"
	"github.com/josh-kwaku/retail-ledger/internal/config"
	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/events"
	"github.com/josh-kwaku/retail-ledger/internal/handler"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/metrics"
	"github.com/josh-kwaku/retail-ledger/internal/middleware"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
	"github.com/josh-kwaku/retail-ledger/internal/repository/memory"
	"github.com/josh-kwaku/retail-ledger/internal/repository/sqlite"
	"github.com/josh-kwaku/retail-ledger/internal/server"
	"github.com/josh-kwaku/retail-ledger/internal/service"
	"github.com/josh-kwaku/retail-ledger/internal/service/ledger"
)

const sweepInterval = 10 * time.Minute

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("retail-ledger", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// backend bundles the chosen store with the cleanup it needs and, for
// PostgreSQL, the idempotency table living in the same database.
type backend struct {
	store       repository.Store
	idempotency *repository.IdempotencyRepository
	close       func() error
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			store:       repository.NewPostgresStore(db),
			idempotency: repository.NewIdempotencyRepository(db),
			close:       db.Close,
		}, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, close: s.Close}, nil
	case config.BackendMemory:
		return &backend{store: memory.NewStore(), close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("openBackend: unknown backend %q", cfg.StoreBackend)
	}
}

func newPublisher(cfg *config.Config, logger *slog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) > 0 {
		logger.Info("publishing ledger events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaPublishTimeout)
	}
	return events.NewLogPublisher(logger)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer be.close()
	logger.Info("store ready", "backend", cfg.StoreBackend)

	var idem middleware.IdempotencyStore
	switch {
	case cfg.RedisAddr != "":
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		idem = cache.NewIdempotencyStore(rdb)
		logger.Info("idempotency cache on redis", "addr", cfg.RedisAddr)
	case be.idempotency != nil:
		idem = be.idempotency
		logger.Info("idempotency cache on postgres")
	default:
		logger.Info("idempotency cache disabled")
	}

	publisher := newPublisher(cfg, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close event publisher", "error", err)
		}
	}()

	m := metrics.New()

	ledgerSvc := ledger.NewService(be.store, publisher, m, ledger.Config{
		TxLimit:         domain.Amount(cfg.TxLimitMinor),
		ConflictRetries: cfg.ConflictRetries,
	})
	accountSvc := service.NewAccountService(be.store, ledgerSvc, 0)

	if cfg.SeedDemoData {
		seeded, err := accountSvc.SeedDemoData(ctx)
		if err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		if seeded {
			logger.Info("demo accounts created", "password", service.DemoPassword)
		}
	}

	router := server.NewRouter(server.Deps{
		Auth:                handler.NewAuthHandler(accountSvc, cfg.JWTSecret, cfg.JWTExpiry),
		Ledger:              handler.NewLedgerHandler(ledgerSvc),
		Admin:               handler.NewAdminHandler(ledgerSvc),
		Health:              handler.NewHealthHandler(be.store),
		Store:               be.store,
		Idempotency:         idem,
		Metrics:             m,
		JWTSecret:           cfg.JWTSecret,
		AuthRateLimitPerMin: cfg.AuthRateLimitPerMin,
		Production:          cfg.AppEnv == "production",
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if be.idempotency != nil && cfg.RedisAddr == "" {
		sweeper := service.NewIdempotencySweeper(be.idempotency, logger, sweepInterval)
		g.Go(func() error {
			sweeper.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
