package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

const TestPassword = "password123"

var accountSeq atomic.Int64

// SeedAccount opens an account and, for a positive balance, funds it with a
// single deposit entry so the balance still equals the signed entry sum.
func SeedAccount(t *testing.T, store repository.Store, username, fullName string, balance domain.Amount) *domain.Account {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	a := &domain.Account{
		Username:      username,
		FullName:      fullName,
		PasswordHash:  string(hash),
		AccountNumber: fmt.Sprintf("T%09d", accountSeq.Add(1)),
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CreateAccount(ctx, a); err != nil {
		t.Fatalf("seed account %s: %v", username, err)
	}
	if balance <= 0 {
		return a
	}

	err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, a.ID)
		if err != nil {
			return err
		}
		cur := locked[a.ID]
		if err := tx.UpdateBalance(ctx, a.ID, balance, cur.Version); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, &domain.LedgerEntry{
			AccountID:     a.ID,
			Kind:          domain.EntryKindDeposit,
			Direction:     domain.DirectionCredit,
			Amount:        balance,
			Description:   "Opening balance",
			BalanceBefore: 0,
			BalanceAfter:  balance,
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("fund account %s: %v", username, err)
	}

	funded, err := store.GetAccountByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("reload account %s: %v", username, err)
	}
	return funded
}

func GetBalance(t *testing.T, store repository.Store, accountID int64) domain.Amount {
	t.Helper()

	a, err := store.GetAccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("get account %d: %v", accountID, err)
	}
	return a.Balance
}

// SignedEntrySum replays an account's journal.
func SignedEntrySum(t *testing.T, store repository.Store, accountID int64) domain.Amount {
	t.Helper()

	entries, err := store.ListEntriesByAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("list entries %d: %v", accountID, err)
	}
	var sum domain.Amount
	for i := range entries {
		sum += entries[i].Signed()
	}
	return sum
}

func GetAccountBalance(t *testing.T, db *sql.DB, accountID int64) domain.Amount {
	t.Helper()

	var balance int64
	err := db.QueryRow(`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get account balance %d: %v", accountID, err)
	}
	return domain.Amount(balance)
}

func CountLedgerEntries(t *testing.T, db *sql.DB, accountID int64) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for account %d: %v", accountID, err)
	}
	return count
}
