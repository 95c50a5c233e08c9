// internal/api/router.go

// Package api assembles the HTTP surface: routes, middleware and health.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/membership"
	"libraryhub/internal/respond"
)

type Services struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service
}

type Options struct {
	Logger *slog.Logger

	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit float64
	Burst     int

	// TokenHash is an Argon2id hash from HashToken. When set, mutating
	// requests need the matching bearer token.
	TokenHash string

	// Health reports whether the backing stores are reachable.
	Health func(ctx context.Context) error
}

// NewRouter mounts every endpoint on a chi router.
func NewRouter(services Services, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.RateLimit > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "health check failed", "error", err)
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		if opts.TokenHash != "" {
			r.Use(requireToken(opts.TokenHash))
		}
		r.Route("/books", catalog.NewHandler(services.Catalog, logger).Routes)
		r.Route("/patrons", membership.NewHandler(services.Membership, logger).Routes)
		circulation.NewHandler(services.Circulation, logger).Routes(r)
	})

	return r
}
