package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/josh-kwaku/retail-ledger/internal/handler"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
	"github.com/josh-kwaku/retail-ledger/internal/metrics"
	"github.com/josh-kwaku/retail-ledger/internal/middleware"
	"github.com/josh-kwaku/retail-ledger/internal/repository"
)

type Deps struct {
	Auth   *handler.AuthHandler
	Ledger *handler.LedgerHandler
	Admin  *handler.AdminHandler
	Health *handler.HealthHandler

	// Store backs the per-request admin check.
	Store repository.Store
	// Idempotency is optional; nil leaves mutation routes without replay.
	Idempotency middleware.IdempotencyStore
	// Metrics is optional.
	Metrics *metrics.Metrics

	JWTSecret           string
	AuthRateLimitPerMin int
	Production          bool
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Tracing)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(d.Metrics.Middleware)
	r.Use(securityHeaders(d.Production))

	r.Get("/health/live", d.Health.Liveness)
	r.Get("/health/ready", d.Health.Readiness)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Route("/auth", func(pub chi.Router) {
			pub.Use(authRateLimit(d.AuthRateLimitPerMin))
			pub.Post("/register", d.Auth.Register)
			pub.Post("/login", d.Auth.Login)
		})

		api.Group(func(priv chi.Router) {
			priv.Use(middleware.Auth(d.JWTSecret))

			priv.Get("/user", d.Ledger.Me)
			priv.Get("/transactions", d.Ledger.Transactions)

			priv.Group(func(mut chi.Router) {
				if d.Idempotency != nil {
					mut.Use(middleware.Idempotency(d.Idempotency))
				}
				mut.Post("/deposit", d.Ledger.Deposit)
				mut.Post("/withdraw", d.Ledger.Withdraw)
				mut.Post("/transfer", d.Ledger.Transfer)
			})

			priv.Route("/admin", func(admin chi.Router) {
				admin.Use(middleware.RequireAdmin(d.Store))
				admin.Get("/users", d.Admin.Users)
				admin.Get("/transactions", d.Admin.Transactions)
				admin.Get("/transactions/query", d.Admin.Query)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondAppError(w, handler.ErrNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondAppError(w, handler.ErrMethodNotAllowed, nil)
	})

	return r
}

func authRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Warn("auth rate limit hit", "remote_addr", r.RemoteAddr)
			handler.RespondAppError(w, handler.ErrRateLimited, nil)
		}),
	)
}

func securityHeaders(production bool) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		STSSeconds:            31536000,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         !production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				logging.FromContext(r.Context()).Warn("secure headers blocked request", "error", err)
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
