// Package memory is a process-local Store used for development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

// Store keeps accounts and entries in maps guarded by mu. Units of work
// additionally hold a per-account mutex for every account they lock, so two
// units touching the same account run one after the other.
type Store struct {
	mu        sync.RWMutex
	accounts  map[int64]*domain.Account
	byNumber  map[string]int64
	byName    map[string]int64
	entries   []domain.LedgerEntry
	nextAcct  int64
	nextEntry int64

	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[int64]*domain.Account),
		byNumber: make(map[string]int64),
		byName:   make(map[string]int64),
		locks:    make(map[int64]*sync.Mutex),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) accountLock(id int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) GetAccountByID(_ context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("GetAccountByID: %w", domain.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byNumber[accountNumber]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("GetAccountByNumber: %w", domain.ErrNotFound)
	}
	return s.GetAccountByID(ctx, id)
}

func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	s.mu.RLock()
	id, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("GetAccountByUsername: %w", domain.ErrNotFound)
	}
	return s.GetAccountByID(ctx, id)
}

func (s *Store) ListAccounts(context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b domain.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[account.Username]; taken {
		return fmt.Errorf("CreateAccount: username: %w", domain.ErrAccountExists)
	}
	if _, taken := s.byNumber[account.AccountNumber]; taken {
		return fmt.Errorf("CreateAccount: account number: %w", domain.ErrAccountExists)
	}

	s.nextAcct++
	account.ID = s.nextAcct
	cp := *account
	s.accounts[cp.ID] = &cp
	s.byNumber[cp.AccountNumber] = cp.ID
	s.byName[cp.Username] = cp.ID
	return nil
}

func (s *Store) ListEntriesByAccount(_ context.Context, accountID int64) ([]domain.LedgerEntry, error) {
	f := domain.EntryFilter{AccountID: &accountID}
	return s.collect(&f), nil
}

func (s *Store) ListEntries(context.Context) ([]domain.LedgerEntry, error) {
	return s.collect(&domain.EntryFilter{}), nil
}

func (s *Store) QueryEntries(_ context.Context, filter domain.EntryFilter) ([]domain.LedgerEntry, error) {
	if err := filter.Normalize(); err != nil {
		return nil, fmt.Errorf("QueryEntries: %w", err)
	}

	matched := s.collect(&filter)
	if filter.SortBy == domain.SortByAmount || filter.Ascending {
		slices.SortStableFunc(matched, func(a, b domain.LedgerEntry) int {
			c := compareBy(filter.SortBy, &a, &b)
			if filter.Ascending {
				return c
			}
			return -c
		})
	}

	if filter.Offset >= len(matched) {
		return []domain.LedgerEntry{}, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	return matched[filter.Offset:end], nil
}

// collect returns matching entries, most recent first.
func (s *Store) collect(f *domain.EntryFilter) []domain.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.Matches(&s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	slices.SortStableFunc(out, func(a, b domain.LedgerEntry) int {
		return -compareBy(domain.SortByOccurredAt, &a, &b)
	})
	return out
}

// compareBy orders ascending by field, ties broken by id.
func compareBy(field domain.SortField, a, b *domain.LedgerEntry) int {
	var c int
	switch field {
	case domain.SortByAmount:
		c = cmp.Compare(a.Amount, b.Amount)
	default:
		c = a.OccurredAt.Compare(b.OccurredAt)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	tx := &memTx{store: s, balances: make(map[int64]stagedBalance)}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.commit(); err != nil {
		return fmt.Errorf("InTx: commit: %w", err)
	}
	return nil
}

type stagedBalance struct {
	balance         domain.Amount
	expectedVersion int64
}

type memTx struct {
	store    *Store
	held     []*sync.Mutex
	lockedID map[int64]bool
	balances map[int64]stagedBalance
	order    []int64
	entries  []*domain.LedgerEntry
}

func (t *memTx) LockAccounts(_ context.Context, ids ...int64) (map[int64]*domain.Account, error) {
	if t.lockedID == nil {
		t.lockedID = make(map[int64]bool)
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	result := make(map[int64]*domain.Account, len(sorted))
	for _, id := range sorted {
		if !t.lockedID[id] {
			l := t.store.accountLock(id)
			l.Lock()
			t.held = append(t.held, l)
			t.lockedID[id] = true
		}

		t.store.mu.RLock()
		a, ok := t.store.accounts[id]
		var cp domain.Account
		if ok {
			cp = *a
		}
		t.store.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("LockAccounts: account %d: %w", id, domain.ErrNotFound)
		}
		if staged, ok := t.balances[id]; ok {
			cp.Balance = staged.balance
			cp.Version = staged.expectedVersion + 1
		}
		result[id] = &cp
	}
	return result, nil
}

func (t *memTx) UpdateBalance(_ context.Context, id int64, newBalance domain.Amount, expectedVersion int64) error {
	if !t.lockedID[id] {
		return fmt.Errorf("UpdateBalance: account %d not locked in this unit", id)
	}
	if newBalance < 0 {
		return fmt.Errorf("UpdateBalance: negative balance for account %d: %w", id, domain.ErrInsufficientFunds)
	}
	if _, seen := t.balances[id]; !seen {
		t.order = append(t.order, id)
	}
	t.balances[id] = stagedBalance{balance: newBalance, expectedVersion: expectedVersion}
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, entry *domain.LedgerEntry) error {
	t.entries = append(t.entries, entry)
	return nil
}

func (t *memTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range t.order {
		staged := t.balances[id]
		if s.accounts[id].Version != staged.expectedVersion {
			return fmt.Errorf("account %d: %w", id, domain.ErrVersionConflict)
		}
	}
	for _, id := range t.order {
		a := s.accounts[id]
		a.Balance = t.balances[id].balance
		a.Version++
	}
	for _, e := range t.entries {
		s.nextEntry++
		e.ID = s.nextEntry
		s.entries = append(s.entries, *e)
	}
	return nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

var _ repository.Store = (*Store)(nil)
