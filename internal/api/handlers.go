package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"seoscope/internal/audit"
)

type submitAuditRequest struct {
	Domain              string `json:"domain"`
	OutputProjection    string `json:"output_projection"`
	RunPerformanceAudit bool   `json:"run_performance_audit"`
}

type jobSummary struct {
	JobID        string     `json:"job_id"`
	Domain       string     `json:"domain"`
	State        string     `json:"state"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func toJobSummary(job audit.Job) jobSummary {
	return jobSummary{
		JobID:        job.ID,
		Domain:       job.Domain,
		State:        string(job.State),
		Progress:     job.Progress,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}
}

// submitAudit handles POST /v1/audits. It returns 202 with the new job ID, or
// 400 for a malformed body or invalid fields.
func (s *Server) submitAudit(w http.ResponseWriter, r *http.Request) {
	var req submitAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	projection := audit.ProjectionByPage
	if req.OutputProjection != "" {
		var err error
		projection, err = audit.ParseProjection(req.OutputProjection)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("job id generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create audit")
		return
	}

	job := audit.Job{
		ID:                  jobID,
		Domain:              domain,
		OutputProjection:    projection,
		RunPerformanceAudit: req.RunPerformanceAudit,
		State:               audit.JobStatePending,
		CreatedAt:           s.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()
	if err := s.store.CreateJob(ctx, job); err != nil {
		if audit.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("job creation failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create audit")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// getAudit handles GET /v1/audits/{job_id}.
func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobSummary(job))
}

// getReport handles GET /v1/audits/{job_id}/report. The report exists only
// for completed jobs; anything earlier is 409.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if job.State != audit.JobStateCompleted || job.Report == nil {
		msg := "report not ready: audit is " + string(job.State)
		if job.State == audit.JobStateFailed {
			msg = "audit failed: " + job.ErrorMessage
		}
		writeError(w, http.StatusConflict, msg)
		return
	}
	writeJSON(w, http.StatusOK, job.Report)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (audit.Job, bool) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return audit.Job{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.storeTimeout)
	defer cancel()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, audit.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "audit not found")
			return audit.Job{}, false
		}
		s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load audit")
		return audit.Job{}, false
	}
	return job, true
}
