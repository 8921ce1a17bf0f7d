package transport

import (
	"context"
	"net/http"
	"sort"

	"shop-catalog/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Job is a maintenance job that can be triggered on demand. It returns a JSON-serializable summary.
type Job func(ctx context.Context) (any, error)

// JobResponse reports the outcome of a triggered job
type JobResponse struct {
	Job   string `json:"job"`
	Stats any    `json:"stats"`
}

// JobsHandler lets privileged callers run maintenance jobs (rescore, relay, reconcile) immediately
type JobsHandler struct {
	jobs   map[string]Job
	logger *zap.Logger
}

// NewJobsHandler creates a new JobsHandler
func NewJobsHandler(jobs map[string]Job, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{jobs: jobs, logger: logger}
}

// RegisterRoutes registers the admin job routes
func (h *JobsHandler) RegisterRoutes(r chi.Router, authMiddleware func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Use(middleware.RequirePrivileged(h.logger))

		r.Get("/api/admin/jobs", h.ListJobs)
		r.Post("/api/admin/jobs/{name}", h.RunJob)
	})
}

// ListJobs returns the names of the available jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.jobs))
	for name := range h.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	middleware.RespondWithJSON(w, http.StatusOK, map[string][]string{"jobs": names})
}

// RunJob runs one job synchronously
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok {
		middleware.RespondWithError(w, http.StatusNotFound, "unknown job "+name)
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	h.logger.Info("Job triggered", zap.String("job", name), zap.String("user_id", userID))

	stats, err := job(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, err, h.logger)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, JobResponse{Job: name, Stats: stats})
}
