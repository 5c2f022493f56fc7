package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

const connectAttempts = 30

// NewPostgresDB opens a pool and waits for the database to answer, retrying
// once a second while it starts up.
func NewPostgresDB(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresDB: open: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	attempt := 0
	ping := func() error {
		attempt++
		err := db.PingContext(ctx)
		if err != nil {
			slog.Info("waiting for database", "attempt", attempt)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), connectAttempts-1), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewPostgresDB: gave up after %d attempts: %w", attempt, err)
	}

	return db, nil
}

// PostgresStore implements Store on PostgreSQL. Balance writes happen under
// SELECT ... FOR UPDATE row locks inside a single database transaction.
type PostgresStore struct {
	db       *sql.DB
	accounts *AccountRepository
	ledger   *LedgerRepository
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:       db,
		accounts: NewAccountRepository(db),
		ledger:   NewLedgerRepository(db),
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InTx: begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &postgresTx{tx: sqlTx, accounts: s.accounts, ledger: s.ledger}); err != nil {
		return mapPQError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("InTx: commit: %w", mapPQError(err))
	}
	return nil
}

type postgresTx struct {
	tx       *sql.Tx
	accounts *AccountRepository
	ledger   *LedgerRepository
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	return lockAccountsInOrder(ctx, t.tx, t.accounts, ids...)
}

func (t *postgresTx) UpdateBalance(ctx context.Context, id int64, newBalance domain.Amount, expectedVersion int64) error {
	return t.accounts.UpdateBalance(ctx, t.tx, id, newBalance, expectedVersion)
}

func (t *postgresTx) AppendEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	return t.ledger.Create(ctx, t.tx, entry)
}

func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *PostgresStore) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return s.accounts.GetByNumber(ctx, accountNumber)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return s.accounts.GetByUsername(ctx, username)
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.accounts.List(ctx)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	return s.accounts.Create(ctx, account)
}

func (s *PostgresStore) ListEntriesByAccount(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	return s.ledger.GetByAccountID(ctx, accountID)
}

func (s *PostgresStore) ListEntries(ctx context.Context) ([]domain.LedgerEntry, error) {
	return s.ledger.List(ctx)
}

func (s *PostgresStore) QueryEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.LedgerEntry, error) {
	return s.ledger.Query(ctx, filter)
}

var _ Store = (*PostgresStore)(nil)
