package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/josh-kwaku/retail-ledger/internal/auth"
	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/service"
)

type accountRegistrar interface {
	Register(ctx context.Context, req service.RegisterRequest) (*domain.Account, error)
	Authenticate(ctx context.Context, username, password string) (*domain.Account, error)
}

type AuthHandler struct {
	accounts  accountRegistrar
	jwtSecret string
	jwtExpiry time.Duration
}

func NewAuthHandler(accounts accountRegistrar, jwtSecret string, jwtExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		accounts:  accounts,
		jwtSecret: jwtSecret,
		jwtExpiry: jwtExpiry,
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	FullName string `json:"fullName" validate:"required,min=2,max=128"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token   string     `json:"token"`
	Account accountDTO `json:"account"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acct, err := h.accounts.Register(r.Context(), service.RegisterRequest{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusCreated, toAccountDTO(acct))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	acct, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(acct.ID, acct.Username, h.jwtSecret, h.jwtExpiry)
	if err != nil {
		logging.FromContext(r.Context()).Error("sign token", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	RespondJSON(w, http.StatusOK, loginResponse{
		Token:   token,
		Account: toAccountDTO(acct),
	})
}
