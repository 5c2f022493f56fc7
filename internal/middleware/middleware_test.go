package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/retail-ledger/internal/auth"
	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

const testSecret = "middleware-test-secret"

func okHandler(t *testing.T, wantID int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.AccountIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, wantID, id)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	valid, err := auth.GenerateToken(7, "john_doe", testSecret, time.Hour)
	require.NoError(t, err)
	expired, err := auth.GenerateToken(7, "john_doe", testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := auth.GenerateToken(7, "john_doe", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{name: "valid token", header: "Bearer " + valid, wantStatus: http.StatusNoContent},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "MISSING_TOKEN"},
		{name: "wrong scheme", header: "Basic " + valid, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "empty bearer", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "expired", header: "Bearer " + expired, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
		{name: "signed with another secret", header: "Bearer " + foreign, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_TOKEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			Auth(testSecret)(okHandler(t, 7)).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantCode != "" {
				assert.Contains(t, rec.Body.String(), tc.wantCode)
			}
		})
	}
}

type stubAccounts map[int64]*domain.Account

func (s stubAccounts) GetAccountByID(_ context.Context, id int64) (*domain.Account, error) {
	if id == 99 {
		return nil, errors.New("connection reset")
	}
	a, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("GetAccountByID: %w", domain.ErrNotFound)
	}
	return a, nil
}

func TestRequireAdmin(t *testing.T) {
	accounts := stubAccounts{
		1: {ID: 1, Username: "admin", IsAdmin: true},
		2: {ID: 2, Username: "john_doe"},
	}

	tests := []struct {
		name       string
		accountID  int64
		withID     bool
		wantStatus int
	}{
		{name: "admin passes", accountID: 1, withID: true, wantStatus: http.StatusNoContent},
		{name: "customer forbidden", accountID: 2, withID: true, wantStatus: http.StatusForbidden},
		{name: "unknown account", accountID: 3, withID: true, wantStatus: http.StatusUnauthorized},
		{name: "store failure", accountID: 99, withID: true, wantStatus: http.StatusInternalServerError},
		{name: "no principal", withID: false, wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tc.withID {
				req = req.WithContext(auth.ContextWithAccountID(req.Context(), tc.accountID))
			}
			rec := httptest.NewRecorder()

			RequireAdmin(accounts)(okHandler(t, tc.accountID)).ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]*repository.IdempotencyCacheEntry
	getErr  error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{entries: map[string]*repository.IdempotencyCacheEntry{}}
}

func (m *memIdempotency) Get(_ context.Context, key string, accountID int64) (*repository.IdempotencyCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.entries[fmt.Sprintf("%d:%s", accountID, key)], nil
}

func (m *memIdempotency) Reserve(_ context.Context, e *repository.IdempotencyCacheEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%d:%s", e.AccountID, e.Key)
	if _, ok := m.entries[k]; ok {
		return false, nil
	}
	m.entries[k] = e
	return true, nil
}

func (m *memIdempotency) Set(_ context.Context, e *repository.IdempotencyCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fmt.Sprintf("%d:%s", e.AccountID, e.Key)] = e
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key string, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := fmt.Sprintf("%d:%s", accountID, key)
	if e, ok := m.entries[k]; ok && e.Pending() {
		delete(m.entries, k)
	}
	return nil
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
}

func idempotentRequest(accountID int64, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/deposit", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.ContextWithAccountID(req.Context(), accountID))
}

func TestIdempotency_ReplaysSameRequest(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	h := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(1, "k-1", `{"amount":10}`))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(1, "k-1", `{"amount":10}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replayed"))
}

func TestIdempotency_DifferentBodyConflicts(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	h := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "k-1", `{"amount":10}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idempotentRequest(1, "k-1", `{"amount":20}`))

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDEMPOTENCY_CONFLICT")
}

func TestIdempotency_KeysAreScopedPerAccount(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	h := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "shared", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(2, "shared", `{}`))

	assert.Equal(t, 2, calls)
}

func TestIdempotency_WithoutHeaderPassesThrough(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	h := Idempotency(store)(countingHandler(&calls, http.StatusOK))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "", `{}`))

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_ServerErrorsAreNotRecorded(t *testing.T) {
	store := newMemIdempotency()
	calls := 0
	h := Idempotency(store)(countingHandler(&calls, http.StatusInternalServerError))

	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "k-1", `{}`))
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "k-1", `{}`))

	assert.Equal(t, 2, calls)
	assert.Empty(t, store.entries)
}

func TestIdempotency_ConcurrentDuplicateRunsOnce(t *testing.T) {
	store := newMemIdempotency()
	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		close(started)
		<-unblock
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"ok":true}`)
	})
	h := Idempotency(store)(slow)

	first := httptest.NewRecorder()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.ServeHTTP(first, idempotentRequest(1, "k-1", `{"amount":10}`))
	}()
	<-started

	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(1, "k-1", `{"amount":10}`))
	close(unblock)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "IDEMPOTENCY_IN_PROGRESS")
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	third := httptest.NewRecorder()
	h.ServeHTTP(third, idempotentRequest(1, "k-1", `{"amount":10}`))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get("X-Idempotent-Replayed"))
}

func TestIdempotency_ParallelDuplicatesExecuteOnce(t *testing.T) {
	store := newMemIdempotency()
	var calls atomic.Int32
	h := Idempotency(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))

	const n = 8
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, idempotentRequest(1, "k-par", `{"amount":10}`))
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, code := range codes {
		assert.Contains(t, []int{http.StatusOK, http.StatusConflict}, code)
	}
}

func TestIdempotency_PanicReleasesReservation(t *testing.T) {
	store := newMemIdempotency()
	h := Idempotency(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(1, "k-1", `{}`))
	})
	assert.Empty(t, store.entries)
}

func TestIdempotency_LookupFailure(t *testing.T) {
	store := newMemIdempotency()
	store.getErr = errors.New("redis down")
	calls := 0
	rec := httptest.NewRecorder()

	Idempotency(store)(countingHandler(&calls, http.StatusOK)).ServeHTTP(rec, idempotentRequest(1, "k-1", `{}`))

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIdempotency_KeyTooLong(t *testing.T) {
	calls := 0
	rec := httptest.NewRecorder()

	Idempotency(newMemIdempotency())(countingHandler(&calls, http.StatusOK)).
		ServeHTTP(rec, idempotentRequest(1, strings.Repeat("k", maxKeyLength+1), `{}`))

	assert.Equal(t, 0, calls)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTracing(t *testing.T) {
	var seen string
	h := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	t.Run("propagates caller id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "req-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	})

	t.Run("mints an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}
