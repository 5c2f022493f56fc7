// Package events announces committed ledger entries to the outside world.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

const TypeEntryPosted = "ledger.entry_posted"

// EntryPosted is emitted once per committed ledger entry.
type EntryPosted struct {
	Type                  string           `json:"type"`
	EntryID               int64            `json:"entryId"`
	AccountID             int64            `json:"accountId"`
	Kind                  domain.EntryKind `json:"kind"`
	Direction             domain.Direction `json:"direction"`
	Amount                domain.Amount    `json:"amount"`
	CounterpartyAccountID *int64           `json:"counterpartyAccountId,omitempty"`
	BalanceAfter          domain.Amount    `json:"balanceAfter"`
	OccurredAt            time.Time        `json:"occurredAt"`
}

func NewEntryPosted(e *domain.LedgerEntry) EntryPosted {
	return EntryPosted{
		Type:                  TypeEntryPosted,
		EntryID:               e.ID,
		AccountID:             e.AccountID,
		Kind:                  e.Kind,
		Direction:             e.Direction,
		Amount:                e.Amount,
		CounterpartyAccountID: e.CounterpartyAccountID,
		BalanceAfter:          e.BalanceAfter,
		OccurredAt:            e.OccurredAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, events ...EntryPosted) error
	Close() error
}

// LogPublisher writes events to the structured log. Used when no broker is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events ...EntryPosted) error {
	for _, e := range events {
		p.logger.InfoContext(ctx, "ledger event",
			"type", e.Type,
			"entry_id", e.EntryID,
			"account_id", e.AccountID,
			"kind", e.Kind,
			"direction", e.Direction,
			"amount", e.Amount.String(),
			"balance_after", e.BalanceAfter.String(),
		)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
