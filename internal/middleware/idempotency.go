package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/josh-kwaku/retail-ledger/internal/auth"
	"github.com/josh-kwaku/retail-ledger/internal/handler"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

// IdempotencyStore is satisfied by the Redis cache and the PostgreSQL
// idempotency repository.
type IdempotencyStore interface {
	Get(ctx context.Context, key string, accountID int64) (*repository.IdempotencyCacheEntry, error)
	Reserve(ctx context.Context, entry *repository.IdempotencyCacheEntry) (bool, error)
	Set(ctx context.Context, entry *repository.IdempotencyCacheEntry) error
	Release(ctx context.Context, key string, accountID int64) error
}

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	reservationTTL    = time.Minute
	maxKeyLength      = 255
)

// Idempotency replays the recorded response for a repeated Idempotency-Key
// from the same account. Requests without the header pass straight through.
// The pair is reserved before the handler runs, so a concurrent duplicate gets
// 409 instead of executing twice. Server errors release the reservation so
// the client may retry them.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(idempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				handler.RespondValidationError(w, []handler.FieldError{
					{Field: idempotencyHeader, Message: fmt.Sprintf("must be at most %d characters", maxKeyLength)},
				})
				return
			}

			accountID, ok := auth.AccountIDFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			log := logging.FromContext(r.Context()).With("idempotency_key", key)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			reqHash := computeHash(r.Method, r.URL.Path, body)

			cached, err := store.Get(r.Context(), key, accountID)
			if err != nil {
				log.Error("idempotency cache lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				replayOrReject(w, log, cached, reqHash)
				return
			}

			now := time.Now().UTC()
			reserved, err := store.Reserve(r.Context(), &repository.IdempotencyCacheEntry{
				Key:          key,
				AccountID:    accountID,
				RequestHash:  reqHash,
				ResponseBody: []byte{},
				CreatedAt:    now,
				ExpiresAt:    now.Add(reservationTTL),
			})
			if err != nil {
				log.Error("idempotency reservation failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if !reserved {
				// Lost the race; look at whoever won.
				cached, err := store.Get(r.Context(), key, accountID)
				if err != nil {
					log.Error("idempotency cache lookup failed", "error", err)
					handler.RespondAppError(w, handler.ErrInternalError, nil)
					return
				}
				if cached == nil {
					respondInProgress(w)
					return
				}
				replayOrReject(w, log, cached, reqHash)
				return
			}

			// Finish bookkeeping even if the client has gone away.
			storeCtx := context.WithoutCancel(r.Context())
			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			completed := false
			defer func() {
				if completed && rec.statusCode < http.StatusInternalServerError {
					return
				}
				if err := store.Release(storeCtx, key, accountID); err != nil {
					log.Error("idempotency reservation release failed", "error", err)
				}
			}()

			next.ServeHTTP(rec, r)
			completed = true

			if rec.statusCode >= http.StatusInternalServerError {
				return
			}

			now = time.Now().UTC()
			entry := &repository.IdempotencyCacheEntry{
				Key:          key,
				AccountID:    accountID,
				RequestHash:  reqHash,
				StatusCode:   rec.statusCode,
				ResponseBody: rec.body.Bytes(),
				CreatedAt:    now,
				ExpiresAt:    now.Add(idempotencyTTL),
			}
			if err := store.Set(storeCtx, entry); err != nil {
				log.Error("idempotency cache store failed", "error", err)
			}
		})
	}
}

func replayOrReject(w http.ResponseWriter, log *slog.Logger, cached *repository.IdempotencyCacheEntry, reqHash string) {
	if cached.RequestHash != reqHash {
		log.Warn("idempotency key reused with a different request")
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	if cached.Pending() {
		respondInProgress(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.ResponseBody); err != nil {
		log.Error("failed to write idempotent replay", "error", err)
	}
}

func respondInProgress(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	handler.RespondAppError(w, handler.ErrIdempotencyInProgress, nil)
}

func computeHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte(path))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
