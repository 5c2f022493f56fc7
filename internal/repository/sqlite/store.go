// Package sqlite is a single-file Store built on gorm. The pool holds one
// connection, so units of work are serialized by the pool itself.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

type accountModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Username      string `gorm:"uniqueIndex;not null"`
	FullName      string `gorm:"not null"`
	PasswordHash  string `gorm:"not null"`
	AccountNumber string `gorm:"uniqueIndex;not null"`
	Balance       int64  `gorm:"not null;check:balance >= 0"`
	Version       int64  `gorm:"not null"`
	IsAdmin       bool   `gorm:"not null"`
	CreatedAt     time.Time
}

func (accountModel) TableName() string { return "accounts" }

type entryModel struct {
	ID                    int64  `gorm:"primaryKey;autoIncrement"`
	AccountID             int64  `gorm:"index:idx_entries_account_time,priority:1;not null"`
	Kind                  string `gorm:"not null"`
	Direction             string `gorm:"not null"`
	Amount                int64  `gorm:"not null;check:amount > 0"`
	CounterpartyAccountID *int64
	Description           string
	BalanceBefore         int64     `gorm:"not null"`
	BalanceAfter          int64     `gorm:"not null"`
	OccurredAt            time.Time `gorm:"index:idx_entries_account_time,priority:2;index;not null"`
}

func (entryModel) TableName() string { return "ledger_entries" }

// sortColumns is the complete set of columns a filter may order by.
var sortColumns = map[domain.SortField]string{
	domain.SortByOccurredAt: "occurred_at",
	domain.SortByAmount:     "amount",
}

type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("Open: connect: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("Open: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&accountModel{}, &entryModel{}); err != nil {
		return nil, fmt.Errorf("Open: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("Ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := firstAccount(s.db.WithContext(ctx).Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("GetAccountByID: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	a, err := firstAccount(s.db.WithContext(ctx).Where("account_number = ?", accountNumber))
	if err != nil {
		return nil, fmt.Errorf("GetAccountByNumber: %w", err)
	}
	return a, nil
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	a, err := firstAccount(s.db.WithContext(ctx).Where("username = ?", username))
	if err != nil {
		return nil, fmt.Errorf("GetAccountByUsername: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []accountModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	out := make([]domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	m := accountFromDomain(account)
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("CreateAccount: %w", domain.ErrAccountExists)
		}
		return fmt.Errorf("CreateAccount: %w", err)
	}
	account.ID = m.ID
	return nil
}

func (s *Store) ListEntriesByAccount(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	entries, err := findEntries(s.db.WithContext(ctx).Where("account_id = ?", accountID).
		Order("occurred_at DESC, id DESC"))
	if err != nil {
		return nil, fmt.Errorf("ListEntriesByAccount: %w", err)
	}
	return entries, nil
}

func (s *Store) ListEntries(ctx context.Context) ([]domain.LedgerEntry, error) {
	entries, err := findEntries(s.db.WithContext(ctx).Order("occurred_at DESC, id DESC"))
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	return entries, nil
}

func (s *Store) QueryEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.LedgerEntry, error) {
	if err := filter.Normalize(); err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}

	q := s.db.WithContext(ctx).Model(&entryModel{})
	if filter.AccountID != nil {
		q = q.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Kind != nil {
		q = q.Where("kind = ?", string(*filter.Kind))
	}
	if filter.Direction != nil {
		q = q.Where("direction = ?", string(*filter.Direction))
	}
	if filter.MinAmount != nil {
		q = q.Where("amount >= ?", int64(*filter.MinAmount))
	}
	if filter.MaxAmount != nil {
		q = q.Where("amount <= ?", int64(*filter.MaxAmount))
	}
	if filter.Since != nil {
		q = q.Where("occurred_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("occurred_at <= ?", *filter.Until)
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	q = q.Order(fmt.Sprintf("%s %s, id %s", sortColumns[filter.SortBy], order, order)).
		Limit(filter.Limit).Offset(filter.Offset)

	entries, err := findEntries(q)
	if err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}
	return entries, nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

// LockAccounts reads the accounts inside the write transaction. The single
// pooled connection already excludes every other unit.
func (t *gormTx) LockAccounts(_ context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	var rows []accountModel
	if err := t.db.Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("LockAccounts: %w", err)
	}

	result := make(map[int64]*domain.Account, len(rows))
	for i := range rows {
		a := rows[i].toDomain()
		result[a.ID] = &a
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, fmt.Errorf("LockAccounts: account %d: %w", id, domain.ErrNotFound)
		}
	}
	return result, nil
}

func (t *gormTx) UpdateBalance(_ context.Context, id int64, newBalance domain.Amount, expectedVersion int64) error {
	res := t.db.Model(&accountModel{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"balance": int64(newBalance),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("UpdateBalance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("UpdateBalance: %w", domain.ErrVersionConflict)
	}
	return nil
}

func (t *gormTx) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	m := entryFromDomain(entry)
	if err := t.db.Create(&m).Error; err != nil {
		return fmt.Errorf("AppendEntry: %w", err)
	}
	entry.ID = m.ID
	return nil
}

func firstAccount(q *gorm.DB) (*domain.Account, error) {
	var m accountModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	a := m.toDomain()
	return &a, nil
}

func findEntries(q *gorm.DB) ([]domain.LedgerEntry, error) {
	var rows []entryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.LedgerEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (m *accountModel) toDomain() domain.Account {
	return domain.Account{
		ID:            m.ID,
		Username:      m.Username,
		FullName:      m.FullName,
		PasswordHash:  m.PasswordHash,
		AccountNumber: m.AccountNumber,
		Balance:       domain.Amount(m.Balance),
		Version:       m.Version,
		IsAdmin:       m.IsAdmin,
		CreatedAt:     m.CreatedAt,
	}
}

func accountFromDomain(a *domain.Account) accountModel {
	return accountModel{
		Username:      a.Username,
		FullName:      a.FullName,
		PasswordHash:  a.PasswordHash,
		AccountNumber: a.AccountNumber,
		Balance:       int64(a.Balance),
		Version:       a.Version,
		IsAdmin:       a.IsAdmin,
		CreatedAt:     a.CreatedAt,
	}
}

func (m *entryModel) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:                    m.ID,
		AccountID:             m.AccountID,
		Kind:                  domain.EntryKind(m.Kind),
		Direction:             domain.Direction(m.Direction),
		Amount:                domain.Amount(m.Amount),
		CounterpartyAccountID: m.CounterpartyAccountID,
		Description:           m.Description,
		BalanceBefore:         domain.Amount(m.BalanceBefore),
		BalanceAfter:          domain.Amount(m.BalanceAfter),
		OccurredAt:            m.OccurredAt,
	}
}

func entryFromDomain(e *domain.LedgerEntry) entryModel {
	return entryModel{
		AccountID:             e.AccountID,
		Kind:                  string(e.Kind),
		Direction:             string(e.Direction),
		Amount:                int64(e.Amount),
		CounterpartyAccountID: e.CounterpartyAccountID,
		Description:           e.Description,
		BalanceBefore:         int64(e.BalanceBefore),
		BalanceAfter:          int64(e.BalanceAfter),
		OccurredAt:            e.OccurredAt.UTC(),
	}
}

var _ repository.Store = (*Store)(nil)
