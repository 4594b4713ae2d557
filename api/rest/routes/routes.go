package routes

import (
	"log/slog"

	"batch-orchestrator/api/rest/handlers"
	"batch-orchestrator/core/events"
	"batch-orchestrator/core/runner"
	"batch-orchestrator/core/store"

	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, logger *slog.Logger, st *store.Store, run *runner.Runner, hub *events.Hub) {
	jobHandler := handlers.NewJobHandler(logger, st, run, hub)

	api := r.PathPrefix("/v2/{endpoint}").Subrouter()
	api.HandleFunc("/run", jobHandler.SubmitJob).Methods("POST")
	api.HandleFunc("/status/{id}", jobHandler.GetStatus).Methods("GET")
	api.HandleFunc("/cancel/{id}", jobHandler.CancelJob).Methods("POST")

	r.HandleFunc("/health", jobHandler.Health).Methods("GET")
	r.HandleFunc("/jobs", jobHandler.ListJobs).Methods("GET")
	r.HandleFunc("/reset", jobHandler.Reset).Methods("POST")
	r.HandleFunc("/ws", jobHandler.StreamJobs).Methods("GET")
}
