package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/service/ledger"
)

const accountNumberAttempts = 5

type accountStore interface {
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
}

type depositor interface {
	Deposit(ctx context.Context, req ledger.DepositRequest) (*domain.LedgerEntry, error)
}

type RegisterRequest struct {
	Username string
	Password string
	FullName string
}

type AccountService struct {
	accounts   accountStore
	ledger     depositor
	bcryptCost int
}

func NewAccountService(accounts accountStore, ledger depositor, bcryptCost int) *AccountService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AccountService{accounts: accounts, ledger: ledger, bcryptCost: bcryptCost}
}

// Register opens a customer account with a zero balance and a freshly
// generated ten-digit account number.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*domain.Account, error) {
	log := logging.FromContext(ctx)

	if _, err := s.accounts.GetAccountByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("Register: %w", domain.ErrAccountExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("Register: check existing: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("Register: hash password: %w", err)
	}

	account := &domain.Account{
		Username:     req.Username,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.create(ctx, account); err != nil {
		return nil, fmt.Errorf("Register: %w", err)
	}

	log.Info("account registered",
		"account_id", account.ID,
		"account_number", account.AccountNumber,
	)
	return account, nil
}

// create inserts account, drawing a new account number whenever the
// previous one collided with an existing account.
func (s *AccountService) create(ctx context.Context, account *domain.Account) error {
	for range accountNumberAttempts {
		num, err := generateAccountNumber()
		if err != nil {
			return err
		}
		account.AccountNumber = num

		err = s.accounts.CreateAccount(ctx, account)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrAccountExists) {
			return err
		}
		if _, lookupErr := s.accounts.GetAccountByUsername(ctx, account.Username); lookupErr == nil {
			return err
		}
	}
	return fmt.Errorf("create: no free account number after %d attempts: %w", accountNumberAttempts, domain.ErrAccountExists)
}

// Authenticate returns the account for a username/password pair. Unknown
// users and wrong passwords are indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*domain.Account, error) {
	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Authenticate: %w", domain.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("Authenticate: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("Authenticate: %w", domain.ErrInvalidCredentials)
	}
	return account, nil
}

type demoAccount struct {
	username      string
	fullName      string
	accountNumber string
	isAdmin       bool
	opening       domain.Amount
}

var demoAccounts = []demoAccount{
	{username: "admin", fullName: "Bank Administrator", accountNumber: "ADM001", isAdmin: true},
	{username: "john_doe", fullName: "John Doe", accountNumber: "ACC1001", opening: 500_000},
	{username: "jane_smith", fullName: "Jane Smith", accountNumber: "ACC1002", opening: 100_000},
}

const DemoPassword = "password123"

// SeedDemoData creates the demo accounts when the store is empty. Opening
// balances go through the ledger so each is backed by a deposit entry.
func (s *AccountService) SeedDemoData(ctx context.Context) (bool, error) {
	log := logging.FromContext(ctx)

	existing, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("SeedDemoData: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), s.bcryptCost)
	if err != nil {
		return false, fmt.Errorf("SeedDemoData: hash password: %w", err)
	}

	for _, d := range demoAccounts {
		account := &domain.Account{
			Username:      d.username,
			FullName:      d.fullName,
			PasswordHash:  string(hash),
			AccountNumber: d.accountNumber,
			IsAdmin:       d.isAdmin,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.accounts.CreateAccount(ctx, account); err != nil {
			return false, fmt.Errorf("SeedDemoData: create %s: %w", d.username, err)
		}
		if d.opening > 0 {
			_, err := s.ledger.Deposit(ctx, ledger.DepositRequest{
				AccountID:   account.ID,
				Amount:      d.opening,
				Description: "Initial Deposit",
			})
			if err != nil {
				return false, fmt.Errorf("SeedDemoData: fund %s: %w", d.username, err)
			}
		}
	}

	log.Info("demo data seeded", "accounts", len(demoAccounts))
	return true, nil
}

func generateAccountNumber() (string, error) {
	digits := make([]byte, 10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generateAccountNumber: %w", err)
		}
		digits[i] = '0' + byte(n.Int64())
	}
	return string(digits), nil
}
