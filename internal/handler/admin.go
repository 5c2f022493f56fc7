package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
)

type adminService interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	ListAllEntries(ctx context.Context) ([]domain.AccountEntry, error)
	QueryEntries(ctx context.Context, filter domain.EntryFilter) ([]domain.AccountEntry, error)
}

type AdminHandler struct {
	ledger adminService
}

func NewAdminHandler(svc adminService) *AdminHandler {
	return &AdminHandler{ledger: svc}
}

func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}

	out := make([]accountDTO, 0, len(accounts))
	for i := range accounts {
		out = append(out, toAccountDTO(&accounts[i]))
	}
	RespondJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListAllEntries(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toAccountEntryDTOs(entries))
}

func (h *AdminHandler) Query(w http.ResponseWriter, r *http.Request) {
	filter, fields := parseEntryFilter(r.URL.Query())
	if len(fields) > 0 {
		RespondAppError(w, ErrInvalidFilter, fields)
		return
	}

	entries, err := h.ledger.QueryEntries(r.Context(), filter)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, toAccountEntryDTOs(entries))
}

// filterParams is the complete query grammar. Any other parameter is an
// error rather than being silently ignored.
var filterParams = map[string]bool{
	"accountId": true, "kind": true, "direction": true,
	"minAmount": true, "maxAmount": true, "since": true, "until": true,
	"sort": true, "order": true, "limit": true, "offset": true,
}

func parseEntryFilter(q url.Values) (domain.EntryFilter, []FieldError) {
	var (
		f    domain.EntryFilter
		errs []FieldError
	)
	fail := func(field, msg string) {
		errs = append(errs, FieldError{Field: field, Message: msg})
	}

	for name, vals := range q {
		if !filterParams[name] {
			fail(name, "unknown parameter")
			continue
		}
		if len(vals) > 1 {
			fail(name, "must be given at most once")
		}
	}

	if v := q.Get("accountId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			fail("accountId", "must be a positive integer")
		} else {
			f.AccountID = &id
		}
	}
	if v := q.Get("kind"); v != "" {
		k := domain.EntryKind(v)
		if !k.IsValid() {
			fail("kind", "must be one of deposit, withdraw, transfer")
		} else {
			f.Kind = &k
		}
	}
	if v := q.Get("direction"); v != "" {
		d := domain.Direction(v)
		if !d.IsValid() {
			fail("direction", "must be credit or debit")
		} else {
			f.Direction = &d
		}
	}
	for _, p := range []struct {
		name string
		dst  **domain.Amount
	}{{"minAmount", &f.MinAmount}, {"maxAmount", &f.MaxAmount}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		a, err := domain.ParseAmount(v)
		if err != nil || a < 0 {
			fail(p.name, "must be a non-negative amount with at most 2 decimal places")
			continue
		}
		*p.dst = &a
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(p.name, "must be an RFC 3339 timestamp")
			continue
		}
		ts = ts.UTC()
		*p.dst = &ts
	}
	switch v := q.Get("sort"); v {
	case "":
	case string(domain.SortByOccurredAt), string(domain.SortByAmount):
		f.SortBy = domain.SortField(v)
	default:
		fail("sort", "must be occurredAt or amount")
	}
	switch q.Get("order") {
	case "", "desc":
	case "asc":
		f.Ascending = true
	default:
		fail("order", "must be asc or desc")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > domain.MaxFilterLimit {
			fail("limit", fmt.Sprintf("must be an integer between 1 and %d", domain.MaxFilterLimit))
		} else {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail("offset", "must be a non-negative integer")
		} else {
			f.Offset = n
		}
	}

	return f, errs
}
