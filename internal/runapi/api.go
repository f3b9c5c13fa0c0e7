// Package runapi exposes triage runs over HTTP.
package runapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sift/internal/triage"
)

// maxStartBody bounds the POST /runs request body.
const maxStartBody = 4 << 10

// RunService defines the business operations runapi needs.
type RunService interface {
	StartRun(ctx context.Context, ignoreCache bool) (*triage.StartResult, error)
	Status(ctx context.Context) (*triage.Run, error)
	LatestSummary(ctx context.Context) (*triage.RunSummary, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    RunService
}

// New creates a new API handler.
func New(logger log.Logger, svc RunService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("run service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Post("/", a.handleStartRun)
		r.Get("/status", a.handleStatus)
		r.Get("/summary", a.handleSummary)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
