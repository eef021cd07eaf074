package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/fedutinova/stockrank/internal/auth"
	"github.com/fedutinova/stockrank/internal/common"
	"github.com/fedutinova/stockrank/internal/config"
	"github.com/fedutinova/stockrank/internal/dispatcher"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/queue"
	"github.com/fedutinova/stockrank/internal/repository"
	"github.com/fedutinova/stockrank/internal/storage"
	"github.com/fedutinova/stockrank/internal/validation"
)

const (
	requestTimeout     = 60 * time.Second
	dispatchPerMinute  = 10
	defaultTopRankings = 20
	maxTopRankings     = 500
	reportURLTTL       = 15 * time.Minute
)

type Handlers struct {
	Dispatcher *dispatcher.Dispatcher
	Broker     queue.Broker
	Store      repository.Store
	Archive    storage.Storage // nil when report archiving is off
	Config     config.Config
}

// perm enforces p when JWT auth is configured and is a no-op otherwise.
func (h *Handlers) perm(p string) func(http.Handler) http.Handler {
	if h.Config.JWTSecret == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.RequirePerm(p)
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)

	r.Route("/v1", func(r chi.Router) {
		if h.Config.JWTSecret != "" {
			r.Use(auth.JWTMiddleware(h.Config.JWTSecret, h.Config.JWTIssuer))
		}

		// Server-sent events outlive the request timeout.
		r.With(h.perm(auth.PermStatusRead)).Get("/events", h.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.With(h.perm(auth.PermBatchDispatch), httprate.LimitByIP(dispatchPerMinute, time.Minute)).
				Post("/batches", h.dispatch)
			r.With(h.perm(auth.PermQueueCancel)).Delete("/queue", h.cancel)
			r.With(h.perm(auth.PermStatusRead)).Get("/status", h.status)
			r.With(h.perm(auth.PermJobRead)).Get("/jobs/{id}", h.getJob)
			r.With(h.perm(auth.PermStatusRead)).Get("/rankings/{date}", h.topRankings)

			if h.Archive != nil {
				r.With(h.perm(auth.PermStatusRead)).Get("/reports/{date}/{batch}", h.getReport)
				r.With(h.perm(auth.PermStatusRead)).Get("/reports/{date}/{batch}/url", h.reportURL)
				r.With(h.perm(auth.PermQueueCancel)).Delete("/reports/{date}/{batch}", h.deleteReport)
			}
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func (h *Handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	var req validation.DispatchRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if errs := validation.ValidateDispatchRequest(req); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	start, end := req.Window()
	sum, err := h.Dispatcher.BuildHistoricalRankings(r.Context(), dispatcher.Options{
		Years:        req.Years,
		Start:        start,
		End:          end,
		SkipExisting: req.Skip(),
		Symbols:      req.Symbols,
		Priority:     req.Priority,
	})
	if err != nil {
		if common.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("dispatch failed", "error", err)
		http.Error(w, "dispatch failed", http.StatusServiceUnavailable)
		return
	}

	status := http.StatusAccepted
	if sum.Processed == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, sum)
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.Dispatcher.Status(r.Context())
	if err != nil {
		slog.Error("status failed", "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) cancel(w http.ResponseWriter, r *http.Request) {
	n, err := h.Dispatcher.CancelPendingJobs(r.Context())
	if err != nil {
		slog.Error("cancel failed", "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cancelled": n})
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.Dispatcher.Job(r.Context(), id)
	if err != nil {
		if common.IsNotFound(err) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var de *job.DecodeError
		if errors.As(err, &de) {
			http.Error(w, de.Error(), http.StatusUnprocessableEntity)
			return
		}
		slog.Error("get job failed", "job_id", id, "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) topRankings(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(job.DateLayout, chi.URLParam(r, "date"))
	if err != nil {
		http.Error(w, "bad date", http.StatusBadRequest)
		return
	}
	limit := defaultTopRankings
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxTopRankings {
			http.Error(w, fmt.Sprintf("limit must be 1..%d", maxTopRankings), http.StatusBadRequest)
			return
		}
	}

	rows, err := h.Store.TopRankings(r.Context(), date, limit)
	if err != nil {
		slog.Error("top rankings failed", "date", date.Format(job.DateLayout), "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "no rankings for date", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handlers) reportKey(r *http.Request) (string, bool) {
	date, err := time.Parse(job.DateLayout, chi.URLParam(r, "date"))
	if err != nil {
		return "", false
	}
	batch := chi.URLParam(r, "batch")
	if batch == "" {
		return "", false
	}
	return storage.ReportKey(date, batch), true
}

func (h *Handlers) getReport(w http.ResponseWriter, r *http.Request) {
	key, ok := h.reportKey(r)
	if !ok {
		http.Error(w, "bad report path", http.StatusBadRequest)
		return
	}
	body, contentType, err := h.Archive.GetFile(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		slog.Error("get report failed", "key", key, "error", err)
		http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("stream report", "key", key, "err", err)
	}
}

func (h *Handlers) reportURL(w http.ResponseWriter, r *http.Request) {
	key, ok := h.reportKey(r)
	if !ok {
		http.Error(w, "bad report path", http.StatusBadRequest)
		return
	}
	url, err := h.Archive.GetPresignedURL(r.Context(), key, reportURLTTL)
	if err != nil {
		slog.Error("presign report failed", "key", key, "error", err)
		http.Error(w, "archive unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "url": url, "expires_in": reportURLTTL.Seconds()})
}

func (h *Handlers) deleteReport(w http.ResponseWriter, r *http.Request) {
	key, ok := h.reportKey(r)
	if !ok {
		http.Error(w, "bad report path", http.StatusBadRequest)
		return
	}
	if err := h.Archive.DeleteFile(r.Context(), key); err != nil {
		slog.Error("delete report failed", "key", key, "error", err)
		http.Error(w, "delete failed", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents relays broker notifications as server-sent events until the
// client goes away.
func (h *Handlers) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	events, err := h.Broker.Subscribe(r.Context())
	if err != nil {
		slog.Error("subscribe failed", "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("encode event", "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
