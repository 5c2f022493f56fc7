package domain

import "time"

type Account struct {
	ID            int64
	Username      string
	FullName      string
	PasswordHash  string
	AccountNumber string
	Balance       Amount
	Version       int64
	IsAdmin       bool
	CreatedAt     time.Time
}

// CanDebit reports whether amount can leave the account without taking the
// balance below zero.
func (a *Account) CanDebit(amount Amount) bool {
	return a.Balance >= amount
}
