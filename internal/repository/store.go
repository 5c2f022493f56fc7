package repository

import (
	"context"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

// Store is the persistence capability set the ledger is written against.
// Adapters: *PostgresStore (this package), memory.Store, sqlite.Store.
type Store interface {
	GetAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error

	ListEntriesByAccount(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
	ListEntries(ctx context.Context) ([]domain.LedgerEntry, error)
	QueryEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.LedgerEntry, error)

	// InTx runs fn as one atomic unit. If fn returns an error nothing it did
	// is visible afterwards.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is the write side of a unit of work.
type Tx interface {
	// LockAccounts locks the given accounts in ascending id order and returns
	// their current state. Locks are held until the unit ends.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error)
	// UpdateBalance writes a new balance if the stored version still equals
	// expectedVersion, bumping it by one. A mismatch is ErrVersionConflict.
	UpdateBalance(ctx context.Context, id int64, newBalance domain.Amount, expectedVersion int64) error
	// AppendEntry stores entry and sets entry.ID. Adapters that stage writes
	// assign the ID at commit, so read it only after InTx returns.
	AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error
}
