// Package handlers implements the HTTP endpoints for triggering pipeline
// jobs and inspecting their status.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/cardsync/internal/api/middleware"
	"github.com/dvloznov/cardsync/internal/jobs"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

// TriggerJob handles POST /api/jobs
func (h *JobsHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       string   `json:"type"`
		UserEmails []string `json:"user_emails"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	jobType := jobs.JobType(req.Type)
	if jobType != jobs.JobTypeScan && jobType != jobs.JobTypeCategorize {
		middleware.WriteError(w, http.StatusBadRequest, "Job type must be 'scan' or 'categorize'")
		return
	}

	job := &jobs.PipelineJob{
		Type:       jobType,
		UserEmails: req.UserEmails,
	}
	if err := h.publisher.PublishPipelineJob(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("type", req.Type).Msg("Failed to publish job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("type", req.Type).Strs("users", req.UserEmails).Msg("Job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := jobs.JobFilter{
		Type:   jobs.JobType(r.URL.Query().Get("type")),
		Status: jobs.JobStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil {
			filter.Offset = offset
		}
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/:jobID
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}
