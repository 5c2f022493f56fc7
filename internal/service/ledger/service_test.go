package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/events"
	"github.com/josh-kwaku/retail-ledger/internal/metrics"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
	"github.com/josh-kwaku/retail-ledger/internal/repository/memory"
	"github.com/josh-kwaku/retail-ledger/internal/repository/sqlite"
	"github.com/josh-kwaku/retail-ledger/internal/service/ledger"
	"github.com/josh-kwaku/retail-ledger/internal/testutil"
)

type spyPublisher struct {
	mu     sync.Mutex
	events []events.EntryPosted
	err    error
}

func (p *spyPublisher) Publish(_ context.Context, evts ...events.EntryPosted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return p.err
}

func (p *spyPublisher) published() []events.EntryPosted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.EntryPosted(nil), p.events...)
}

func amt(t *testing.T, s string) domain.Amount {
	t.Helper()
	a, err := domain.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func newMemoryStore(t *testing.T) repository.Store {
	return memory.NewStore()
}

func newSQLiteStore(t *testing.T) repository.Store {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLedger_Memory(t *testing.T) {
	runLedgerSuite(t, newMemoryStore)
}

func TestLedger_SQLite(t *testing.T) {
	runLedgerSuite(t, newSQLiteStore)
}

func runLedgerSuite(t *testing.T, newStore func(t *testing.T) repository.Store) {
	setup := func(t *testing.T) (*ledger.Service, repository.Store, *spyPublisher) {
		store := newStore(t)
		pub := &spyPublisher{}
		svc := ledger.NewService(store, pub, metrics.New(), ledger.Config{
			TxLimit:         amt(t, "1000000.00"),
			ConflictRetries: 3,
		})
		return svc, store, pub
	}

	t.Run("deposit into empty account", func(t *testing.T) {
		svc, store, pub := setup(t)
		acct := testutil.SeedAccount(t, store, "alice", "Alice Doe", 0)

		entry, err := svc.Deposit(context.Background(), ledger.DepositRequest{AccountID: acct.ID, Amount: amt(t, "100.00")})
		require.NoError(t, err)

		assert.Equal(t, domain.EntryKindDeposit, entry.Kind)
		assert.Equal(t, domain.DirectionCredit, entry.Direction)
		assert.Equal(t, "100.00", entry.Amount.String())
		assert.Equal(t, "Cash Deposit", entry.Description)
		assert.NotZero(t, entry.ID)
		assert.Nil(t, entry.CounterpartyAccountID)

		assert.Equal(t, amt(t, "100.00"), testutil.GetBalance(t, store, acct.ID))
		entries, err := svc.ListEntriesForAccount(context.Background(), acct.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		require.Len(t, pub.published(), 1)
		assert.Equal(t, entry.ID, pub.published()[0].EntryID)
	})

	t.Run("withdraw more than balance", func(t *testing.T) {
		svc, store, pub := setup(t)
		acct := testutil.SeedAccount(t, store, "bob", "Bob", amt(t, "100.00"))

		_, err := svc.Withdraw(context.Background(), ledger.WithdrawRequest{AccountID: acct.ID, Amount: amt(t, "150.00")})
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)

		assert.Equal(t, amt(t, "100.00"), testutil.GetBalance(t, store, acct.ID))
		entries, err := svc.ListEntriesForAccount(context.Background(), acct.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "only the opening deposit")
		assert.Empty(t, pub.published())
	})

	t.Run("withdraw keeps custom description", func(t *testing.T) {
		svc, store, _ := setup(t)
		acct := testutil.SeedAccount(t, store, "bea", "Bea", amt(t, "80.00"))

		entry, err := svc.Withdraw(context.Background(), ledger.WithdrawRequest{
			AccountID: acct.ID, Amount: amt(t, "80.00"), Description: "Rent",
		})
		require.NoError(t, err)
		assert.Equal(t, "Rent", entry.Description)
		assert.Equal(t, domain.DirectionDebit, entry.Direction)
		assert.Equal(t, domain.Amount(0), entry.BalanceAfter)
		assert.Equal(t, domain.Amount(0), testutil.GetBalance(t, store, acct.ID))
	})

	t.Run("transfer between accounts", func(t *testing.T) {
		svc, store, pub := setup(t)
		sender := testutil.SeedAccount(t, store, "sam", "Sam Sender", amt(t, "500.00"))
		recipient := testutil.SeedAccount(t, store, "rita", "Rita Recipient", amt(t, "200.00"))

		debit, err := svc.Transfer(context.Background(), ledger.TransferRequest{
			SenderAccountID:        sender.ID,
			RecipientAccountNumber: recipient.AccountNumber,
			Amount:                 amt(t, "300.00"),
		})
		require.NoError(t, err)

		assert.Equal(t, amt(t, "200.00"), testutil.GetBalance(t, store, sender.ID))
		assert.Equal(t, amt(t, "500.00"), testutil.GetBalance(t, store, recipient.ID))

		assert.Equal(t, sender.ID, debit.AccountID)
		assert.Equal(t, domain.DirectionDebit, debit.Direction)
		require.NotNil(t, debit.CounterpartyAccountID)
		assert.Equal(t, recipient.ID, *debit.CounterpartyAccountID)
		assert.Equal(t, "Transfer to Rita Recipient", debit.Description)

		incoming, err := svc.ListEntriesForAccount(context.Background(), recipient.ID)
		require.NoError(t, err)
		require.Len(t, incoming, 2)
		credit := incoming[0]
		assert.Equal(t, domain.EntryKindTransfer, credit.Kind)
		assert.Equal(t, domain.DirectionCredit, credit.Direction)
		require.NotNil(t, credit.CounterpartyAccountID)
		assert.Equal(t, sender.ID, *credit.CounterpartyAccountID)
		assert.Equal(t, "Transfer from Sam Sender", credit.Description)
		assert.True(t, credit.OccurredAt.Equal(debit.OccurredAt))

		require.Len(t, pub.published(), 2)
	})

	t.Run("transfer to self", func(t *testing.T) {
		svc, store, _ := setup(t)
		acct := testutil.SeedAccount(t, store, "sol", "Sol", amt(t, "50.00"))

		_, err := svc.Transfer(context.Background(), ledger.TransferRequest{
			SenderAccountID: acct.ID, RecipientAccountNumber: acct.AccountNumber, Amount: amt(t, "10.00"),
		})
		require.ErrorIs(t, err, domain.ErrSelfTransfer)
		assert.Equal(t, amt(t, "50.00"), testutil.GetBalance(t, store, acct.ID))
	})

	t.Run("transfer to unknown account", func(t *testing.T) {
		svc, store, _ := setup(t)
		acct := testutil.SeedAccount(t, store, "nia", "Nia", amt(t, "50.00"))

		_, err := svc.Transfer(context.Background(), ledger.TransferRequest{
			SenderAccountID: acct.ID, RecipientAccountNumber: "nonexistent-account", Amount: amt(t, "10.00"),
		})
		require.ErrorIs(t, err, domain.ErrRecipientNotFound)
		assert.Equal(t, amt(t, "50.00"), testutil.GetBalance(t, store, acct.ID))
	})

	t.Run("transfer with insufficient funds leaves both sides untouched", func(t *testing.T) {
		svc, store, _ := setup(t)
		sender := testutil.SeedAccount(t, store, "poor", "Poor", amt(t, "5.00"))
		recipient := testutil.SeedAccount(t, store, "rich", "Rich", amt(t, "900.00"))

		_, err := svc.Transfer(context.Background(), ledger.TransferRequest{
			SenderAccountID: sender.ID, RecipientAccountNumber: recipient.AccountNumber, Amount: amt(t, "5.01"),
		})
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
		assert.Equal(t, amt(t, "5.00"), testutil.GetBalance(t, store, sender.ID))
		assert.Equal(t, amt(t, "900.00"), testutil.GetBalance(t, store, recipient.ID))
	})

	t.Run("invalid amounts are rejected without mutation", func(t *testing.T) {
		svc, store, _ := setup(t)
		acct := testutil.SeedAccount(t, store, "ivan", "Ivan", amt(t, "10.00"))
		other := testutil.SeedAccount(t, store, "olga", "Olga", 0)
		ctx := context.Background()

		for _, a := range []domain.Amount{0, -1, amt(t, "-5.00")} {
			_, err := svc.Deposit(ctx, ledger.DepositRequest{AccountID: acct.ID, Amount: a})
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			_, err = svc.Withdraw(ctx, ledger.WithdrawRequest{AccountID: acct.ID, Amount: a})
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
			_, err = svc.Transfer(ctx, ledger.TransferRequest{SenderAccountID: acct.ID, RecipientAccountNumber: other.AccountNumber, Amount: a})
			assert.ErrorIs(t, err, domain.ErrInvalidAmount)
		}

		assert.Equal(t, amt(t, "10.00"), testutil.GetBalance(t, store, acct.ID))
		assert.Equal(t, domain.Amount(0), testutil.GetBalance(t, store, other.ID))
	})

	t.Run("amount above per-operation limit", func(t *testing.T) {
		svc, store, _ := setup(t)
		acct := testutil.SeedAccount(t, store, "lim", "Lim", 0)

		_, err := svc.Deposit(context.Background(), ledger.DepositRequest{AccountID: acct.ID, Amount: amt(t, "1000000.01")})
		require.ErrorIs(t, err, domain.ErrLimitExceeded)
		assert.Equal(t, domain.Amount(0), testutil.GetBalance(t, store, acct.ID))
	})

	t.Run("unknown account", func(t *testing.T) {
		svc, _, _ := setup(t)

		_, err := svc.Deposit(context.Background(), ledger.DepositRequest{AccountID: 987654, Amount: 100})
		require.ErrorIs(t, err, domain.ErrAccountNotFound)
	})

	t.Run("concurrent withdrawals never overdraw", func(t *testing.T) {
		svc, store, _ := setup(t)
		const n = 10
		a := amt(t, "25.00")
		acct := testutil.SeedAccount(t, store, "race", "Race", a*(n-1))

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			failures  []error
		)
		wg.Add(n)
		for range n {
			go func() {
				defer wg.Done()
				_, err := svc.Withdraw(context.Background(), ledger.WithdrawRequest{AccountID: acct.ID, Amount: a})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failures = append(failures, err)
					return
				}
				successes++
			}()
		}
		wg.Wait()

		assert.Equal(t, n-1, successes)
		require.Len(t, failures, 1)
		assert.ErrorIs(t, failures[0], domain.ErrInsufficientFunds)
		assert.Equal(t, domain.Amount(0), testutil.GetBalance(t, store, acct.ID))
		assert.Equal(t, domain.Amount(0), testutil.SignedEntrySum(t, store, acct.ID))
	})

	t.Run("concurrent transfers conserve money", func(t *testing.T) {
		svc, store, _ := setup(t)
		a := testutil.SeedAccount(t, store, "ping", "Ping", amt(t, "1000.00"))
		b := testutil.SeedAccount(t, store, "pong", "Pong", amt(t, "1000.00"))
		total := amt(t, "2000.00")

		var wg sync.WaitGroup
		for i := range 40 {
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Transfer(context.Background(), ledger.TransferRequest{
					SenderAccountID: from.ID, RecipientAccountNumber: to.AccountNumber, Amount: amt(t, "7.50"),
				})
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
				}
			}()
		}
		wg.Wait()

		balA := testutil.GetBalance(t, store, a.ID)
		balB := testutil.GetBalance(t, store, b.ID)
		assert.Equal(t, total, balA+balB)
		assert.Equal(t, balA, testutil.SignedEntrySum(t, store, a.ID))
		assert.Equal(t, balB, testutil.SignedEntrySum(t, store, b.ID))
	})

	t.Run("history pairs entries with accounts", func(t *testing.T) {
		svc, store, _ := setup(t)
		sender := testutil.SeedAccount(t, store, "hist1", "Hist One", amt(t, "100.00"))
		recipient := testutil.SeedAccount(t, store, "hist2", "Hist Two", 0)
		ctx := context.Background()

		_, err := svc.Transfer(ctx, ledger.TransferRequest{
			SenderAccountID: sender.ID, RecipientAccountNumber: recipient.AccountNumber, Amount: amt(t, "40.00"),
		})
		require.NoError(t, err)

		all, err := svc.ListAllEntries(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for _, ae := range all {
			assert.Equal(t, ae.Entry.AccountID, ae.Account.ID)
		}

		kind := domain.EntryKindTransfer
		matched, err := svc.QueryEntries(ctx, domain.EntryFilter{Kind: &kind})
		require.NoError(t, err)
		assert.Len(t, matched, 2)

		_, err = svc.QueryEntries(ctx, domain.EntryFilter{SortBy: "1; DROP TABLE accounts"})
		assert.ErrorIs(t, err, domain.ErrInvalidFilter)
	})

	t.Run("publish failure does not undo the operation", func(t *testing.T) {
		svc, store, pub := setup(t)
		pub.err = errors.New("broker down")
		acct := testutil.SeedAccount(t, store, "pubfail", "Pub Fail", 0)

		_, err := svc.Deposit(context.Background(), ledger.DepositRequest{AccountID: acct.ID, Amount: 500})
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(500), testutil.GetBalance(t, store, acct.ID))
	})
}

func TestLedger_RoundTripSignedSum(t *testing.T) {
	store := memory.NewStore()
	svc := ledger.NewService(store, nil, nil, ledger.Config{ConflictRetries: 3})
	ctx := context.Background()

	a := testutil.SeedAccount(t, store, "rt_a", "RT A", 0)
	b := testutil.SeedAccount(t, store, "rt_b", "RT B", 0)

	ops := []func() error{
		func() error {
			_, err := svc.Deposit(ctx, ledger.DepositRequest{AccountID: a.ID, Amount: 12345})
			return err
		},
		func() error {
			_, err := svc.Withdraw(ctx, ledger.WithdrawRequest{AccountID: a.ID, Amount: 45})
			return err
		},
		func() error {
			_, err := svc.Transfer(ctx, ledger.TransferRequest{SenderAccountID: a.ID, RecipientAccountNumber: b.AccountNumber, Amount: 2300})
			return err
		},
		func() error {
			_, err := svc.Withdraw(ctx, ledger.WithdrawRequest{AccountID: b.ID, Amount: 99999})
			return err
		},
		func() error {
			_, err := svc.Transfer(ctx, ledger.TransferRequest{SenderAccountID: b.ID, RecipientAccountNumber: a.AccountNumber, Amount: 300})
			return err
		},
	}
	succeeded := 0
	transfers := 0
	for i, op := range ops {
		if err := op(); err == nil {
			succeeded++
			if i == 2 || i == 4 {
				transfers++
			}
		}
	}

	for _, acct := range []*domain.Account{a, b} {
		assert.Equal(t, testutil.GetBalance(t, store, acct.ID), testutil.SignedEntrySum(t, store, acct.ID))
	}

	all, err := svc.ListAllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, succeeded+transfers)
}

// conflictingStore fails the first n units with a version conflict.
type conflictingStore struct {
	repository.Store
	n     int
	calls int
}

func (s *conflictingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.calls++
	if s.calls <= s.n {
		return fmt.Errorf("commit: %w", domain.ErrVersionConflict)
	}
	return s.Store.InTx(ctx, fn)
}

func TestLedger_RetriesVersionConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int
		retries   int
		wantErr   bool
	}{
		{name: "recovers within budget", conflicts: 2, retries: 3},
		{name: "gives up when exhausted", conflicts: 5, retries: 2, wantErr: true},
		{name: "no retries configured", conflicts: 1, retries: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mem := memory.NewStore()
			acct := testutil.SeedAccount(t, mem, "retry", "Retry", 0)
			store := &conflictingStore{Store: mem, n: tc.conflicts}
			svc := ledger.NewService(store, nil, nil, ledger.Config{ConflictRetries: tc.retries})

			_, err := svc.Deposit(context.Background(), ledger.DepositRequest{AccountID: acct.ID, Amount: 100})
			if tc.wantErr {
				require.ErrorIs(t, err, domain.ErrVersionConflict)
				assert.Equal(t, domain.Amount(0), testutil.GetBalance(t, mem, acct.ID))
				assert.Equal(t, tc.retries+1, store.calls)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.Amount(100), testutil.GetBalance(t, mem, acct.ID))
			assert.Equal(t, tc.conflicts+1, store.calls)
		})
	}
}
