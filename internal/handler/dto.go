package handler

import (
	"time"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

type accountDTO struct {
	ID            int64         `json:"id"`
	Username      string        `json:"username"`
	FullName      string        `json:"fullName"`
	AccountNumber string        `json:"accountNumber"`
	Balance       domain.Amount `json:"balance"`
	IsAdmin       bool          `json:"isAdmin"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:            a.ID,
		Username:      a.Username,
		FullName:      a.FullName,
		AccountNumber: a.AccountNumber,
		Balance:       a.Balance,
		IsAdmin:       a.IsAdmin,
		CreatedAt:     a.CreatedAt,
	}
}

type entryDTO struct {
	ID                    int64            `json:"id"`
	AccountID             int64            `json:"accountId"`
	Kind                  domain.EntryKind `json:"kind"`
	Direction             domain.Direction `json:"direction"`
	Amount                domain.Amount    `json:"amount"`
	CounterpartyAccountID *int64           `json:"counterpartyAccountId"`
	Description           string           `json:"description"`
	BalanceBefore         domain.Amount    `json:"balanceBefore"`
	BalanceAfter          domain.Amount    `json:"balanceAfter"`
	OccurredAt            time.Time        `json:"occurredAt"`
}

func toEntryDTO(e *domain.LedgerEntry) entryDTO {
	return entryDTO{
		ID:                    e.ID,
		AccountID:             e.AccountID,
		Kind:                  e.Kind,
		Direction:             e.Direction,
		Amount:                e.Amount,
		CounterpartyAccountID: e.CounterpartyAccountID,
		Description:           e.Description,
		BalanceBefore:         e.BalanceBefore,
		BalanceAfter:          e.BalanceAfter,
		OccurredAt:            e.OccurredAt,
	}
}

func toEntryDTOs(entries []domain.LedgerEntry) []entryDTO {
	out := make([]entryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, toEntryDTO(&entries[i]))
	}
	return out
}

type accountEntryDTO struct {
	entryDTO
	Account accountDTO `json:"account"`
}

func toAccountEntryDTOs(entries []domain.AccountEntry) []accountEntryDTO {
	out := make([]accountEntryDTO, 0, len(entries))
	for i := range entries {
		out = append(out, accountEntryDTO{
			entryDTO: toEntryDTO(&entries[i].Entry),
			Account:  toAccountDTO(&entries[i].Account),
		})
	}
	return out
}
