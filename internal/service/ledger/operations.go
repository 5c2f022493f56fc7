package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

type DepositRequest struct {
	AccountID   int64
	Amount      domain.Amount
	Description string
}

type WithdrawRequest struct {
	AccountID   int64
	Amount      domain.Amount
	Description string
}

type TransferRequest struct {
	SenderAccountID        int64
	RecipientAccountNumber string
	Amount                 domain.Amount
	Description            string
}

func (s *Service) Deposit(ctx context.Context, req DepositRequest) (entry *domain.LedgerEntry, err error) {
	defer func() { s.finish(ctx, opDeposit, req.Amount, err, entry) }()

	if err := s.validateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Cash Deposit"
	}

	err = s.runUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := lockOne(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		after, err := acct.Balance.Add(req.Amount)
		if err != nil {
			return fmt.Errorf("balance would exceed %s: %w", domain.MaxAmount, err)
		}
		if err := tx.UpdateBalance(ctx, acct.ID, after, acct.Version); err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			AccountID:     acct.ID,
			Kind:          domain.EntryKindDeposit,
			Direction:     domain.DirectionCredit,
			Amount:        req.Amount,
			Description:   description,
			BalanceBefore: acct.Balance,
			BalanceAfter:  after,
			OccurredAt:    s.now(),
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("Deposit: %w", err)
	}

	logging.FromContext(ctx).Info("deposit posted",
		"entry_id", entry.ID,
		"account_id", entry.AccountID,
		"amount", entry.Amount.String(),
		"balance_after", entry.BalanceAfter.String(),
	)
	return entry, nil
}

func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (entry *domain.LedgerEntry, err error) {
	defer func() { s.finish(ctx, opWithdraw, req.Amount, err, entry) }()

	if err := s.validateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	description := req.Description
	if description == "" {
		description = "Cash Withdrawal"
	}

	err = s.runUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		acct, err := lockOne(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if !acct.CanDebit(req.Amount) {
			return domain.ErrInsufficientFunds
		}
		after := acct.Balance - req.Amount
		if err := tx.UpdateBalance(ctx, acct.ID, after, acct.Version); err != nil {
			return err
		}

		entry = &domain.LedgerEntry{
			AccountID:     acct.ID,
			Kind:          domain.EntryKindWithdraw,
			Direction:     domain.DirectionDebit,
			Amount:        req.Amount,
			Description:   description,
			BalanceBefore: acct.Balance,
			BalanceAfter:  after,
			OccurredAt:    s.now(),
		}
		return tx.AppendEntry(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("Withdraw: %w", err)
	}

	logging.FromContext(ctx).Info("withdrawal posted",
		"entry_id", entry.ID,
		"account_id", entry.AccountID,
		"amount", entry.Amount.String(),
		"balance_after", entry.BalanceAfter.String(),
	)
	return entry, nil
}

// Transfer moves money between two accounts and returns the sender's entry.
// Both balance writes and both entries commit together or not at all.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (debit *domain.LedgerEntry, err error) {
	var credit *domain.LedgerEntry
	defer func() { s.finish(ctx, opTransfer, req.Amount, err, debit, credit) }()

	if err := s.validateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	recipient, err := s.store.GetAccountByNumber(ctx, req.RecipientAccountNumber)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Transfer: %w", domain.ErrRecipientNotFound)
		}
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	if recipient.ID == req.SenderAccountID {
		return nil, fmt.Errorf("Transfer: %w", domain.ErrSelfTransfer)
	}

	err = s.runUnit(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, req.SenderAccountID, recipient.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		from, to := locked[req.SenderAccountID], locked[recipient.ID]

		if !from.CanDebit(req.Amount) {
			return domain.ErrInsufficientFunds
		}
		fromAfter := from.Balance - req.Amount
		toAfter, err := to.Balance.Add(req.Amount)
		if err != nil {
			return fmt.Errorf("recipient balance would exceed %s: %w", domain.MaxAmount, err)
		}

		if err := tx.UpdateBalance(ctx, from.ID, fromAfter, from.Version); err != nil {
			return fmt.Errorf("update sender: %w", err)
		}
		if err := tx.UpdateBalance(ctx, to.ID, toAfter, to.Version); err != nil {
			return fmt.Errorf("update recipient: %w", err)
		}

		at := s.now()
		debit = &domain.LedgerEntry{
			AccountID:             from.ID,
			Kind:                  domain.EntryKindTransfer,
			Direction:             domain.DirectionDebit,
			Amount:                req.Amount,
			CounterpartyAccountID: &to.ID,
			Description:           orDefault(req.Description, "Transfer to "+to.FullName),
			BalanceBefore:         from.Balance,
			BalanceAfter:          fromAfter,
			OccurredAt:            at,
		}
		credit = &domain.LedgerEntry{
			AccountID:             to.ID,
			Kind:                  domain.EntryKindTransfer,
			Direction:             domain.DirectionCredit,
			Amount:                req.Amount,
			CounterpartyAccountID: &from.ID,
			Description:           orDefault(req.Description, "Transfer from "+from.FullName),
			BalanceBefore:         to.Balance,
			BalanceAfter:          toAfter,
			OccurredAt:            at,
		}
		if err := tx.AppendEntry(ctx, debit); err != nil {
			return fmt.Errorf("debit entry: %w", err)
		}
		if err := tx.AppendEntry(ctx, credit); err != nil {
			return fmt.Errorf("credit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		debit, credit = nil, nil
		return nil, fmt.Errorf("Transfer: %w", err)
	}

	logging.FromContext(ctx).Info("transfer posted",
		"debit_entry_id", debit.ID,
		"credit_entry_id", credit.ID,
		"sender_account", debit.AccountID,
		"recipient_account", credit.AccountID,
		"amount", req.Amount.String(),
	)
	return debit, nil
}

// lockOne locks a single account, reporting a missing one as
// ErrAccountNotFound since callers only pass authenticated ids.
func lockOne(ctx context.Context, tx repository.Tx, id int64) (*domain.Account, error) {
	locked, err := tx.LockAccounts(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return locked[id], nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
