package domain

import (
	"fmt"
	"time"
)

type SortField string

const (
	SortByOccurredAt SortField = "occurredAt"
	SortByAmount     SortField = "amount"
)

const (
	DefaultFilterLimit = 100
	MaxFilterLimit     = 500
)

// EntryFilter is the fixed query grammar over the journal. Every field is a
// bound value; nothing in it is ever interpreted as an expression.
type EntryFilter struct {
	AccountID *int64
	Kind      *EntryKind
	Direction *Direction
	MinAmount *Amount
	MaxAmount *Amount
	Since     *time.Time
	Until     *time.Time
	SortBy    SortField
	Ascending bool
	Limit     int
	Offset    int
}

// Normalize fills defaults, moves the time window to UTC and rejects values
// outside the grammar. Stores that compare timestamps as text rely on UTC.
func (f *EntryFilter) Normalize() error {
	if f.SortBy == "" {
		f.SortBy = SortByOccurredAt
	}
	if f.SortBy != SortByOccurredAt && f.SortBy != SortByAmount {
		return fmt.Errorf("Normalize: sort %q: %w", f.SortBy, ErrInvalidFilter)
	}
	if f.Kind != nil && !f.Kind.IsValid() {
		return fmt.Errorf("Normalize: kind %q: %w", *f.Kind, ErrInvalidFilter)
	}
	if f.Direction != nil && !f.Direction.IsValid() {
		return fmt.Errorf("Normalize: direction %q: %w", *f.Direction, ErrInvalidFilter)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return fmt.Errorf("Normalize: minAmount above maxAmount: %w", ErrInvalidFilter)
	}
	if f.Since != nil {
		since := f.Since.UTC()
		f.Since = &since
	}
	if f.Until != nil {
		until := f.Until.UTC()
		f.Until = &until
	}
	if f.Since != nil && f.Until != nil && f.Since.After(*f.Until) {
		return fmt.Errorf("Normalize: since after until: %w", ErrInvalidFilter)
	}
	if f.Limit == 0 {
		f.Limit = DefaultFilterLimit
	}
	if f.Limit < 0 || f.Limit > MaxFilterLimit {
		return fmt.Errorf("Normalize: limit %d: %w", f.Limit, ErrInvalidFilter)
	}
	if f.Offset < 0 {
		return fmt.Errorf("Normalize: offset %d: %w", f.Offset, ErrInvalidFilter)
	}
	return nil
}

// Matches evaluates the non-paging part of the filter against e. Stores
// that cannot push the filter down use it directly.
func (f *EntryFilter) Matches(e *LedgerEntry) bool {
	if f.AccountID != nil && e.AccountID != *f.AccountID {
		return false
	}
	if f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.MinAmount != nil && e.Amount < *f.MinAmount {
		return false
	}
	if f.MaxAmount != nil && e.Amount > *f.MaxAmount {
		return false
	}
	if f.Since != nil && e.OccurredAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.OccurredAt.After(*f.Until) {
		return false
	}
	return true
}
