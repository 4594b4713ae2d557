package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"batch-orchestrator/core/events"
	"batch-orchestrator/core/models"
	"batch-orchestrator/core/runner"
	"batch-orchestrator/core/store"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger   *slog.Logger
	store    *store.Store
	runner   *runner.Runner
	hub      *events.Hub
	upgrader websocket.Upgrader
}

// NewJobHandler creates a new job handler
func NewJobHandler(logger *slog.Logger, st *store.Store, run *runner.Runner, hub *events.Hub) *JobHandler {
	return &JobHandler{
		logger: logger,
		store:  st,
		runner: run,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SubmitJobRequest represents the request to submit a job
type SubmitJobRequest struct {
	Input models.JobInput `json:"input"`
}

// SubmitJobResponse represents the response after submitting a job
type SubmitJobResponse struct {
	ID     string           `json:"id"`
	Status models.JobStatus `json:"status"`
}

// SubmitJob handles POST /v2/{endpoint}/run
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == nil {
		writeError(w, http.StatusBadRequest, "missing input")
		return
	}

	job := h.store.Create(req.Input)
	h.runner.Launch(job.ID)

	h.logger.Info("job submitted", "job_id", job.ID, "endpoint", mux.Vars(r)["endpoint"])
	writeJSON(w, http.StatusOK, SubmitJobResponse{ID: job.ID, Status: job.Status})
}

// GetStatus handles GET /v2/{endpoint}/status/{id}
func (h *JobHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles POST /v2/{endpoint}/cancel/{id}. Only PENDING jobs can be
// cancelled; anything else returns the record unchanged.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	job, err := h.store.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if job.Status == models.StatusPending {
		cancelled, err := h.store.Transition(jobID, models.StatusCancelled, nil, "cancelled by client")
		if err == nil {
			job = cancelled
			h.logger.Info("job cancelled", "job_id", jobID)
		} else if !errors.Is(err, models.ErrInvalidTransition) {
			writeError(w, http.StatusInternalServerError, "failed to cancel job")
			return
		}
		// A runner that won the race leaves the job uncancellable; fall
		// through and report whatever status it has now.
		if job.Status == models.StatusPending {
			job, _ = h.store.Get(jobID)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     job.ID,
		"status": job.Status,
	})
}

// Health handles GET /health
func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	active, total := h.store.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"active_jobs": active,
		"total_jobs":  total,
	})
}

// ListJobs handles GET /jobs (diagnostic)
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total": len(jobs),
		"jobs":  jobs,
	})
}

// Reset handles POST /reset
func (h *JobHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	h.logger.Info("all jobs cleared")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "all jobs cleared",
	})
}

// StreamJobs handles GET /ws, streaming job snapshots on every transition.
func (h *JobHandler) StreamJobs(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(conn)

	// Hold the connection open until the client goes away.
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
