package runapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type startRequest struct {
	IgnoreCache bool `json:"ignore_cache"`
}

func (a *API) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxStartBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	res, err := a.svc.StartRun(r.Context(), req.IgnoreCache)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start run", "ignore_cache", req.IgnoreCache)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("sift.run.id", res.RunID),
		attribute.Bool("sift.run.already_running", res.AlreadyRunning),
	)
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	run, err := a.svc.Status(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load run status")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.svc.LatestSummary(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to load run summary")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
