package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/events"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/metrics"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

const (
	opDeposit  = "deposit"
	opWithdraw = "withdraw"
	opTransfer = "transfer"
)

type publisher interface {
	Publish(ctx context.Context, events ...events.EntryPosted) error
}

type recorder interface {
	LedgerOperation(operation, outcome string, amount int64)
	ConflictRetry()
}

type Config struct {
	// TxLimit caps a single deposit, withdrawal or transfer. Zero disables it.
	TxLimit domain.Amount
	// ConflictRetries is how many times a unit that lost an optimistic
	// version race is re-run before giving up.
	ConflictRetries int
}

type Service struct {
	store     repository.Store
	publisher publisher
	metrics   recorder
	cfg       Config
	now       func() time.Time
}

// NewService wires the ledger. pub and rec may be nil.
func NewService(store repository.Store, pub publisher, rec recorder, cfg Config) *Service {
	return &Service{
		store:     store,
		publisher: pub,
		metrics:   rec,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) validateAmount(amount domain.Amount) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if s.cfg.TxLimit > 0 && amount > s.cfg.TxLimit {
		return fmt.Errorf("%s exceeds %s: %w", amount, s.cfg.TxLimit, domain.ErrLimitExceeded)
	}
	return nil
}

// runUnit executes fn inside one store transaction, re-running it from the
// top while it fails with ErrVersionConflict and retries remain.
func (s *Service) runUnit(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 && s.metrics != nil {
			s.metrics.ConflictRetry()
		}
		err := s.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrVersionConflict) {
			logging.FromContext(ctx).Warn("version conflict, retrying unit", "attempt", attempt)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	retries := max(s.cfg.ConflictRetries, 0)
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))
	if err != nil {
		return fmt.Errorf("runUnit: after %d attempts: %w", attempt, err)
	}
	return nil
}

// finish reports a completed or rejected operation. Publishing happens only
// after commit and its failure never undoes the operation.
func (s *Service) finish(ctx context.Context, op string, amount domain.Amount, err error, entries ...*domain.LedgerEntry) {
	if s.metrics != nil {
		s.metrics.LedgerOperation(op, outcomeOf(err), int64(amount))
	}
	if err != nil || s.publisher == nil {
		return
	}

	evts := make([]events.EntryPosted, 0, len(entries))
	for _, e := range entries {
		evts = append(evts, events.NewEntryPosted(e))
	}
	if perr := s.publisher.Publish(ctx, evts...); perr != nil {
		logging.FromContext(ctx).Error("publish ledger events", "operation", op, "error", perr)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case isRejection(err):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// isRejection reports whether err is a client-side precondition failure as
// opposed to an infrastructure fault.
func isRejection(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidAmount,
		domain.ErrInsufficientFunds,
		domain.ErrRecipientNotFound,
		domain.ErrSelfTransfer,
		domain.ErrLimitExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
