package service

import (
	"context"
	"log/slog"
	"time"
)

type expiredCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// IdempotencySweeper periodically deletes expired idempotency records from
// stores that do not expire keys on their own.
type IdempotencySweeper struct {
	store    expiredCleaner
	logger   *slog.Logger
	interval time.Duration
}

func NewIdempotencySweeper(store expiredCleaner, logger *slog.Logger, interval time.Duration) *IdempotencySweeper {
	return &IdempotencySweeper{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Start blocks until ctx is cancelled.
func (s *IdempotencySweeper) Start(ctx context.Context) {
	s.logger.Info("idempotency sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("idempotency sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *IdempotencySweeper) sweep(ctx context.Context) {
	n, err := s.store.CleanExpired(ctx)
	if err != nil {
		s.logger.Error("failed to clean expired idempotency records", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("expired idempotency records removed", "count", n)
	}
}
