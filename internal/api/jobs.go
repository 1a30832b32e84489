package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// JobOrchestrator is the subset of *orchestrator.Orchestrator this handler
// needs, kept narrow so tests can substitute a stub instead of wiring the
// full orchestrator dependency graph.
type JobOrchestrator interface {
	CreateJob(ctx context.Context, userID, rawQuery string, opts models.JobConfig) (*models.CrawlJob, bool, error)
	ExecuteJob(ctx context.Context, jobID string) (<-chan interfaces.ProgressEvent, error)
	GetStatus(ctx context.Context, jobID string) (*models.CrawlJob, error)
	Cancel(ctx context.Context, jobID string) error
}

// createJobRequest is the POST /api/jobs body. Struct tags drive
// go-playground/validator validation.
type createJobRequest struct {
	UserID             string   `json:"user_id" validate:"required"`
	Query              string   `json:"query" validate:"required"`
	IncludeAttachments bool     `json:"include_attachments"`
	IncludeRelated     bool     `json:"include_related"`
	MaxIssues          int      `json:"max_issues" validate:"gte=0"`
	ProductCodes       []string `json:"product_codes,omitempty"`
	ForceRefresh       bool     `json:"force_refresh"`
}

type jobResponse struct {
	Job    *models.CrawlJob `json:"job"`
	Cached bool             `json:"cached"`
}

// JobsHandler implements the job API surface: create, get,
// cancel, and a websocket progress stream.
type JobsHandler struct {
	orchestrator JobOrchestrator
	events       interfaces.EventService
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewJobsHandler constructs a JobsHandler.
func NewJobsHandler(orchestrator JobOrchestrator, events interfaces.EventService, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{orchestrator: orchestrator, events: events, validate: validator.New(), logger: logger}
}

// Create handles POST /api/jobs: validates the request, creates the job (or
// returns a cached completed one per the query cache policy), and starts
// execution unless the result was served from cache.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	job, cached, err := h.orchestrator.CreateJob(r.Context(), req.UserID, req.Query, models.JobConfig{
		IncludeAttachments: req.IncludeAttachments,
		IncludeRelated:     req.IncludeRelated,
		MaxIssues:          req.MaxIssues,
		ProductCodes:       req.ProductCodes,
		ForceRefresh:       req.ForceRefresh,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("create job failed")
		http.Error(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	if !cached {
		// Execution runs detached from the request context: the job outlives
		// this HTTP response, the progress stream is how a caller follows it.
		if _, err := h.orchestrator.ExecuteJob(context.Background(), job.ID); err != nil {
			h.logger.Error().Err(err).Str("job_id", job.ID).Msg("execute job failed")
			http.Error(w, "failed to start job", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, jobResponse{Job: job, Cached: cached})
}

// Get handles GET /api/jobs/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.GetStatus(r.Context(), jobIDFromPath(r.URL.Path))
	if err != nil {
		http.Error(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Cancel handles POST /api/jobs/{id}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Cancel(r.Context(), jobIDFromPath(r.URL.Path)); err != nil {
		http.Error(w, "failed to cancel job", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stream handles GET /api/jobs/{id}/stream: a websocket of the job's
// ProgressEvents, closing once the job reaches a terminal state.
func (h *JobsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	events := h.events.Stream(r.Context(), jobIDFromPath(r.URL.Path))

	values := make(chan interface{})
	go func() {
		defer close(values)
		for event := range events {
			values <- event
		}
	}()

	writeJSONStream(w, r, h.logger, values)
}

// jobIDFromPath extracts {id} from "/api/jobs/{id}", "/api/jobs/{id}/cancel",
// or "/api/jobs/{id}/stream".
func jobIDFromPath(path string) string {
	id := strings.TrimPrefix(path, "/api/jobs/")
	id = strings.TrimSuffix(id, "/cancel")
	id = strings.TrimSuffix(id, "/stream")
	return id
}
