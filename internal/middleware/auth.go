package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/josh-kwaku/retail-ledger/internal/auth"
	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/handler"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
)

// Auth resolves the bearer token to an account id and puts it, and a
// logger tagged with it, on the request context.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			claims, err := auth.ValidateToken(token, secret)
			if err != nil {
				logging.FromContext(r.Context()).Debug("token rejected", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidToken, nil)
				return
			}

			ctx := auth.ContextWithAccountID(r.Context(), claims.AccountID)
			ctx = logging.With(ctx, "account_id", claims.AccountID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type accountGetter interface {
	GetAccountByID(ctx context.Context, id int64) (*domain.Account, error)
}

// RequireAdmin must run after Auth. The admin flag is read from the store
// on every request so revoking it takes effect without reissuing tokens.
func RequireAdmin(accounts accountGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.AccountIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			account, err := accounts.GetAccountByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					handler.RespondAppError(w, handler.ErrInvalidToken, nil)
					return
				}
				handler.RespondDomainError(w, r, err)
				return
			}
			if !account.IsAdmin {
				logging.FromContext(r.Context()).Warn("admin route denied")
				handler.RespondAppError(w, handler.ErrForbidden, nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
