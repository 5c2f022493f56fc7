package ledger

import (
	"context"
	"fmt"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

func (s *Service) GetAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	a, err := s.store.GetAccountByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccountByID: %w", err)
	}
	return a, nil
}

func (s *Service) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	a, err := s.store.GetAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("GetAccountByNumber: %w", err)
	}
	return a, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return accounts, nil
}

func (s *Service) ListEntriesForAccount(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	entries, err := s.store.ListEntriesByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListEntriesForAccount: %w", err)
	}
	return entries, nil
}

// ListAllEntries returns the whole journal, newest first, each entry paired
// with the current state of the account that owns it.
func (s *Service) ListAllEntries(ctx context.Context) ([]domain.AccountEntry, error) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAllEntries: %w", err)
	}
	paired, err := s.withAccounts(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("ListAllEntries: %w", err)
	}
	return paired, nil
}

func (s *Service) QueryEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.AccountEntry, error) {
	if err := filter.Normalize(); err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}
	entries, err := s.store.QueryEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}
	paired, err := s.withAccounts(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}
	return paired, nil
}

func (s *Service) withAccounts(ctx context.Context, entries []domain.LedgerEntry) ([]domain.AccountEntry, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	out := make([]domain.AccountEntry, 0, len(entries))
	for _, e := range entries {
		acct, ok := byID[e.AccountID]
		if !ok {
			return nil, fmt.Errorf("entry %d references account %d: %w", e.ID, e.AccountID, domain.ErrAccountNotFound)
		}
		out = append(out, domain.AccountEntry{Entry: e, Account: acct})
	}
	return out, nil
}
