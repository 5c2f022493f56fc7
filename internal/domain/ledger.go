package domain

import "time"

type EntryKind string

const (
	EntryKindDeposit  EntryKind = "deposit"
	EntryKindWithdraw EntryKind = "withdraw"
	EntryKindTransfer EntryKind = "transfer"
)

func (k EntryKind) IsValid() bool {
	switch k {
	case EntryKindDeposit, EntryKindWithdraw, EntryKindTransfer:
		return true
	}
	return false
}

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

func (d Direction) IsValid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// LedgerEntry is immutable once written. Amount is always a positive
// magnitude; Direction carries the sign.
type LedgerEntry struct {
	ID                    int64
	AccountID             int64
	Kind                  EntryKind
	Direction             Direction
	Amount                Amount
	CounterpartyAccountID *int64
	Description           string
	BalanceBefore         Amount
	BalanceAfter          Amount
	OccurredAt            time.Time
}

// Signed returns the entry's effect on its account's balance.
func (e *LedgerEntry) Signed() Amount {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

// AccountEntry pairs an entry with a snapshot of the account that owns it.
type AccountEntry struct {
	Entry   LedgerEntry
	Account Account
}
