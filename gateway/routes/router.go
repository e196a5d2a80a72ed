package routes

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendledger/core"
	"lendledger/gateway/middleware"
)

type Config struct {
	Ledger        *core.Ledger
	Authenticator *middleware.Authenticator
	Observability *middleware.Observability
	Logger        *log.Logger
}

// New builds the gateway HTTP handler: health and metrics endpoints at the
// root, the ledger API under /v1.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	credit := NewCreditRoutes(cfg.Ledger, cfg.Logger)
	r.Route("/v1", func(sr chi.Router) {
		credit.Mount(sr, cfg.Authenticator)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r
}
