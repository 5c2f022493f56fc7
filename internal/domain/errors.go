package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidAmount      = errors.New("amount must be a positive number with at most 2 decimal places")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrRecipientNotFound  = errors.New("recipient account not found")
	ErrSelfTransfer       = errors.New("cannot transfer to same account")
	ErrAccountNotFound    = errors.New("account not found")
	ErrLimitExceeded      = errors.New("transaction limit exceeded")
	ErrAccountExists      = errors.New("account already exists")
	ErrVersionConflict    = errors.New("optimistic lock conflict")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrInvalidRequest     = errors.New("invalid request")
)
