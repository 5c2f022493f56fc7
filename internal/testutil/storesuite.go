package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

// RunStoreSuite checks the behaviour every repository.Store adapter shares.
// newStore must return an empty store.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("account lookups", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		bob := SeedAccount(t, store, "bob", "Bob Stone", 0)
		amy := SeedAccount(t, store, "amy", "Amy Reed", 0)

		got, err := store.GetAccountByID(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", got.Username)
		assert.Equal(t, domain.Amount(0), got.Balance)

		got, err = store.GetAccountByNumber(ctx, amy.AccountNumber)
		require.NoError(t, err)
		assert.Equal(t, amy.ID, got.ID)

		got, err = store.GetAccountByUsername(ctx, "amy")
		require.NoError(t, err)
		assert.Equal(t, amy.ID, got.ID)

		_, err = store.GetAccountByID(ctx, 999_999)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = store.GetAccountByNumber(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		all, err := store.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Less(t, all[0].ID, all[1].ID)
	})

	t.Run("duplicate username", func(t *testing.T) {
		store := newStore(t)
		SeedAccount(t, store, "dup", "First", 0)

		err := store.CreateAccount(context.Background(), &domain.Account{
			Username:      "dup",
			FullName:      "Second",
			PasswordHash:  "x",
			AccountNumber: "DUP-2",
			CreatedAt:     time.Now().UTC(),
		})
		assert.ErrorIs(t, err, domain.ErrAccountExists)
	})

	t.Run("commit applies balance and entry", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		acct := SeedAccount(t, store, "carol", "Carol", 1000)

		entry := &domain.LedgerEntry{
			AccountID:     acct.ID,
			Kind:          domain.EntryKindWithdraw,
			Direction:     domain.DirectionDebit,
			Amount:        300,
			Description:   "Cash Withdrawal",
			BalanceBefore: 1000,
			BalanceAfter:  700,
			OccurredAt:    time.Now().UTC(),
		}
		err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			locked, err := tx.LockAccounts(ctx, acct.ID)
			if err != nil {
				return err
			}
			if err := tx.UpdateBalance(ctx, acct.ID, 700, locked[acct.ID].Version); err != nil {
				return err
			}
			return tx.AppendEntry(ctx, entry)
		})
		require.NoError(t, err)
		assert.NotZero(t, entry.ID)

		reloaded, err := store.GetAccountByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Amount(700), reloaded.Balance)
		assert.Equal(t, acct.Version+1, reloaded.Version)
		assert.Equal(t, reloaded.Balance, SignedEntrySum(t, store, acct.ID))
	})

	t.Run("failed unit leaves no trace", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		acct := SeedAccount(t, store, "dave", "Dave", 500)
		boom := errors.New("boom")

		err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			locked, err := tx.LockAccounts(ctx, acct.ID)
			if err != nil {
				return err
			}
			if err := tx.UpdateBalance(ctx, acct.ID, 0, locked[acct.ID].Version); err != nil {
				return err
			}
			if err := tx.AppendEntry(ctx, &domain.LedgerEntry{
				AccountID: acct.ID, Kind: domain.EntryKindWithdraw, Direction: domain.DirectionDebit,
				Amount: 500, BalanceBefore: 500, BalanceAfter: 0, OccurredAt: time.Now().UTC(),
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		assert.Equal(t, domain.Amount(500), GetBalance(t, store, acct.ID))
		entries, err := store.ListEntriesByAccount(ctx, acct.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		acct := SeedAccount(t, store, "erin", "Erin", 100)

		err := store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			locked, err := tx.LockAccounts(ctx, acct.ID)
			if err != nil {
				return err
			}
			return tx.UpdateBalance(ctx, acct.ID, 50, locked[acct.ID].Version-1)
		})
		require.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.Equal(t, domain.Amount(100), GetBalance(t, store, acct.ID))
	})

	t.Run("locking a missing account", func(t *testing.T) {
		store := newStore(t)
		acct := SeedAccount(t, store, "fay", "Fay", 0)

		err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			_, err := tx.LockAccounts(ctx, acct.ID, 424242)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("history is most recent first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		acct := SeedAccount(t, store, "gus", "Gus", 0)
		base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

		appendDeposits(t, store, acct.ID, base, 100, 200, 300)

		entries, err := store.ListEntriesByAccount(ctx, acct.ID)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, domain.Amount(300), entries[0].Amount)
		assert.Equal(t, domain.Amount(100), entries[2].Amount)

		all, err := store.ListEntries(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("query entries", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		a := SeedAccount(t, store, "hal", "Hal", 0)
		b := SeedAccount(t, store, "ivy", "Ivy", 0)
		base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

		appendDeposits(t, store, a.ID, base, 500, 1500, 2500)
		appendDeposits(t, store, b.ID, base.Add(time.Hour), 700)

		got, err := store.QueryEntries(ctx, domain.EntryFilter{AccountID: &a.ID})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		minAmt := domain.Amount(1000)
		got, err = store.QueryEntries(ctx, domain.EntryFilter{
			MinAmount: &minAmt,
			SortBy:    domain.SortByAmount,
			Ascending: true,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.Amount(1500), got[0].Amount)
		assert.Equal(t, domain.Amount(2500), got[1].Amount)

		since := base.Add(30 * time.Minute)
		got, err = store.QueryEntries(ctx, domain.EntryFilter{Since: &since})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b.ID, got[0].AccountID)

		// 10:30+02:00 is 08:30Z: every entry is at or after it.
		offsetZone := time.FixedZone("UTC+2", 2*60*60)
		sinceLocal := time.Date(2026, 2, 1, 10, 30, 0, 0, offsetZone)
		got, err = store.QueryEntries(ctx, domain.EntryFilter{Since: &sinceLocal})
		require.NoError(t, err)
		assert.Len(t, got, 4)

		// 11:30+02:00 is 09:30Z: only the 10:00Z entry is after it.
		sinceLocal = time.Date(2026, 2, 1, 11, 30, 0, 0, offsetZone)
		got, err = store.QueryEntries(ctx, domain.EntryFilter{Since: &sinceLocal})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b.ID, got[0].AccountID)

		// 08:01:30-01:00 is 09:01:30Z: the first two of hal's deposits.
		untilWest := time.Date(2026, 2, 1, 8, 1, 30, 0, time.FixedZone("UTC-1", -60*60))
		got, err = store.QueryEntries(ctx, domain.EntryFilter{Until: &untilWest})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = store.QueryEntries(ctx, domain.EntryFilter{SortBy: domain.SortByAmount, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, domain.Amount(1500), got[0].Amount)
		assert.Equal(t, domain.Amount(700), got[1].Amount)

		_, err = store.QueryEntries(ctx, domain.EntryFilter{SortBy: "password_hash"})
		assert.ErrorIs(t, err, domain.ErrInvalidFilter)
	})
}

// appendDeposits writes one deposit per amount, a minute apart from base.
func appendDeposits(t *testing.T, store repository.Store, accountID int64, base time.Time, amounts ...domain.Amount) {
	t.Helper()

	for i, amt := range amounts {
		at := base.Add(time.Duration(i) * time.Minute)
		err := store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
			locked, err := tx.LockAccounts(ctx, accountID)
			if err != nil {
				return err
			}
			cur := locked[accountID]
			next := cur.Balance + amt
			if err := tx.UpdateBalance(ctx, accountID, next, cur.Version); err != nil {
				return err
			}
			return tx.AppendEntry(ctx, &domain.LedgerEntry{
				AccountID:     accountID,
				Kind:          domain.EntryKindDeposit,
				Direction:     domain.DirectionCredit,
				Amount:        amt,
				Description:   "Cash Deposit",
				BalanceBefore: cur.Balance,
				BalanceAfter:  next,
				OccurredAt:    at,
			})
		})
		if err != nil {
			t.Fatalf("append deposit: %v", err)
		}
	}
}
