// Package api exposes the validation pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/internal/store"
)

// Processor runs one submission through the validation pipeline.
type Processor interface {
	Process(ctx context.Context, submissionID int64) error
}

// Server carries the handler dependencies. Submissions are accepted
// immediately and processed in the background; callers poll the status
// endpoint for progress.
type Server struct {
	store     store.Store
	processor Processor
	batchCfg  config.BatchConfig

	// background is the context handed to async pipeline runs so they
	// outlive the originating request but stop on server shutdown.
	background context.Context
}

func NewServer(ctx context.Context, st store.Store, processor Processor, batchCfg config.BatchConfig) *Server {
	if batchCfg.MaxConcurrentSubmissions <= 0 {
		batchCfg.MaxConcurrentSubmissions = 4
	}
	return &Server{
		store:      st,
		processor:  processor,
		batchCfg:   batchCfg,
		background: ctx,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router(serverCfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()

	origins := serverCfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/submissions", s.handleCreateSubmission)
		r.Post("/submissions/batch", s.handleBatchUpload)
		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/submissions/{id}", s.handleGetSubmission)

		r.Get("/providers", s.handleListProviders)
		r.Get("/providers/{npi}", s.handleGetProvider)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
