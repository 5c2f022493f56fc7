package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

const ledgerColumns = `id, account_id, kind, direction, amount, counterparty_account_id,
	description, balance_before, balance_after, occurred_at`

const recentFirst = `ORDER BY occurred_at DESC, id DESC`

// sortColumns is the complete set of columns a filter may order by.
var sortColumns = map[domain.SortField]string{
	domain.SortByOccurredAt: "occurred_at",
	domain.SortByAmount:     "amount",
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO ledger_entries (
			account_id, kind, direction, amount, counterparty_account_id,
			description, balance_before, balance_after, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		entry.AccountID, entry.Kind, entry.Direction, entry.Amount, entry.CounterpartyAccountID,
		entry.Description, entry.BalanceBefore, entry.BalanceAfter, entry.OccurredAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	entries, err := r.query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE account_id = $1 `+recentFirst,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByAccountID: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) List(ctx context.Context) ([]domain.LedgerEntry, error) {
	entries, err := r.query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries `+recentFirst)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return entries, nil
}

// Query runs a filter. Only column names from sortColumns and fixed
// operators reach the SQL text; every value is a bind parameter.
func (r *LedgerRepository) Query(ctx context.Context, filter domain.EntryFilter) ([]domain.LedgerEntry, error) {
	if err := filter.Normalize(); err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	var (
		conds []string
		args  []any
	)
	where := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.AccountID != nil {
		where("account_id = $%d", *filter.AccountID)
	}
	if filter.Kind != nil {
		where("kind = $%d", *filter.Kind)
	}
	if filter.Direction != nil {
		where("direction = $%d", *filter.Direction)
	}
	if filter.MinAmount != nil {
		where("amount >= $%d", *filter.MinAmount)
	}
	if filter.MaxAmount != nil {
		where("amount <= $%d", *filter.MaxAmount)
	}
	if filter.Since != nil {
		where("occurred_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		where("occurred_at <= $%d", *filter.Until)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + ledgerColumns + ` FROM ledger_entries`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", sortColumns[filter.SortBy], order, order)

	args = append(args, filter.Limit, filter.Offset)
	fmt.Fprintf(&sb, " LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	entries, err := r.query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	return entries, nil
}

func (r *LedgerRepository) query(ctx context.Context, q string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := s.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Direction, &e.Amount, &e.CounterpartyAccountID,
		&e.Description, &e.BalanceBefore, &e.BalanceAfter, &e.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
