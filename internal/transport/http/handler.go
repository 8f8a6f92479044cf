// Package httptransport is the thin HTTP layer over discovery and the
// pipeline runner. Handlers decode, delegate, and translate domain errors;
// business rules live in the services.
package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storescout/internal/candidate/models"
	"storescout/internal/discovery"
	"storescout/internal/pipeline"
	dErrors "storescout/pkg/domain-errors"
	"storescout/pkg/platform/httputil"
	"storescout/pkg/platform/sentinel"
)

const defaultBatchLimit = 100

// Discoverer registers raw candidate URLs.
type Discoverer interface {
	Discover(ctx context.Context, rawURL, source string, metadata map[string]string) (*discovery.Result, error)
}

// Runner triggers and reports pipeline batch runs.
type Runner interface {
	RunBatch(ctx context.Context, limit int) (*pipeline.Summary, error)
	Status() pipeline.Status
}

// CandidateReader looks candidates up for the read endpoints.
type CandidateReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Candidate, error)
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Candidate, error)
}

// Handler wires the public endpoints to their services.
type Handler struct {
	discoverer Discoverer
	runner     Runner
	reader     CandidateReader
	logger     *slog.Logger
	batchLimit int
}

// Option configures the handler.
type Option func(*Handler)

// WithBatchLimit sets the batch size used when a run request carries no
// explicit limit.
func WithBatchLimit(limit int) Option {
	return func(h *Handler) {
		if limit > 0 {
			h.batchLimit = limit
		}
	}
}

// New constructs a handler with its dependencies.
func New(discoverer Discoverer, runner Runner, reader CandidateReader, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		discoverer: discoverer,
		runner:     runner,
		reader:     reader,
		logger:     logger,
		batchLimit: defaultBatchLimit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/candidates", h.HandleDiscover)
	r.Get("/candidates/{id}", h.HandleGetCandidate)
	r.Post("/pipeline/run", h.HandleRunBatch)
	r.Get("/pipeline/status", h.HandleStatus)
}

type discoverRequest struct {
	URL      string            `json:"url"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HandleDiscover handles POST /candidates.
func (h *Handler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "url is required"))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	start := time.Now()
	result, err := h.discoverer.Discover(ctx, req.URL, req.Source, req.Metadata)
	if err != nil {
		h.logger.ErrorContext(ctx, "discovery failed",
			"url", req.URL,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "discovery handled",
		"url", req.URL,
		"reason", result.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case result.Created:
		httputil.WriteJSON(w, http.StatusCreated, result)
	case result.Reason == discovery.ReasonInvalidURL:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "url cannot be canonicalized"))
	default:
		httputil.WriteJSON(w, http.StatusOK, result)
	}
}

// HandleGetCandidate handles GET /candidates/{id}.
func (h *Handler) HandleGetCandidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "candidate id must be a UUID"))
		return
	}

	cand, err := h.reader.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.New(dErrors.CodeNotFound, "candidate not found")
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cand)
}

type runRequest struct {
	Limit int `json:"limit"`
}

// HandleRunBatch handles POST /pipeline/run. An overlapping run answers
// 409 so callers can tell "rejected" from "failed".
func (h *Handler) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := runRequest{Limit: h.batchLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = h.batchLimit
	}

	summary, err := h.runner.RunBatch(ctx, req.Limit)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeConflict) {
			h.logger.ErrorContext(ctx, "batch run failed", "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandleStatus handles GET /pipeline/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.runner.Status())
}
