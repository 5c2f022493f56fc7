package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/josh-kwaku/retail-ledger/internal/auth"
	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/service/ledger"
)

type ledgerService interface {
	Deposit(ctx context.Context, req ledger.DepositRequest) (*domain.LedgerEntry, error)
	Withdraw(ctx context.Context, req ledger.WithdrawRequest) (*domain.LedgerEntry, error)
	Transfer(ctx context.Context, req ledger.TransferRequest) (*domain.LedgerEntry, error)
	GetAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	ListEntriesForAccount(ctx context.Context, accountID int64) ([]domain.LedgerEntry, error)
}

type LedgerHandler struct {
	ledger ledgerService
}

func NewLedgerHandler(svc ledgerService) *LedgerHandler {
	return &LedgerHandler{ledger: svc}
}

// Amounts arrive raw so that a non-numeric value is reported as an invalid
// amount rather than a malformed body.
type movementRequest struct {
	Amount      json.RawMessage `json:"amount" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
}

type transferRequest struct {
	Amount          json.RawMessage `json:"amount" validate:"required"`
	ToAccountNumber string          `json:"toAccountNumber" validate:"required,max=64"`
	Description     string          `json:"description" validate:"max=255"`
}

func parseAmount(raw json.RawMessage) (domain.Amount, error) {
	var a domain.Amount
	if err := a.UnmarshalJSON(raw); err != nil {
		return 0, err
	}
	return a, nil
}

func (h *LedgerHandler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	acct, err := h.ledger.GetAccountByID(r.Context(), accountID)
	if errors.Is(err, domain.ErrNotFound) {
		RespondAppError(w, ErrInvalidToken, nil)
		return
	}
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toAccountDTO(acct))
}

func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	entry, err := h.ledger.Deposit(r.Context(), ledger.DepositRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	entry, err := h.ledger.Withdraw(r.Context(), ledger.WithdrawRequest{
		AccountID:   accountID,
		Amount:      amount,
		Description: req.Description,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	entry, err := h.ledger.Transfer(r.Context(), ledger.TransferRequest{
		SenderAccountID:        accountID,
		RecipientAccountNumber: req.ToAccountNumber,
		Amount:                 amount,
		Description:            req.Description,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *LedgerHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	entries, err := h.ledger.ListEntriesForAccount(r.Context(), accountID)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toEntryDTOs(entries))
}
