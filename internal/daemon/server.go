// Package daemon serves the academy HTTP API: curriculum content, progress
// mutations, grading coordinators and the time accrual signal.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/academyhq/academy/internal/accrual"
	"github.com/academyhq/academy/internal/config"
	"github.com/academyhq/academy/internal/content"
	"github.com/academyhq/academy/internal/domain"
	"github.com/academyhq/academy/internal/grading"
	"github.com/academyhq/academy/internal/progress"
	"github.com/academyhq/academy/internal/storage/sqlite"
)

// Version is reported by /v1/status
const Version = "0.1.0"

// EventHistory answers queries over recorded progress events
type EventHistory interface {
	Query(ctx context.Context, q sqlite.EventQuery) ([]domain.ProgressEvent, error)
}

// Server represents the academy daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	started time.Time

	tracker   *progress.Tracker
	catalog   *content.Registry
	hub       *grading.Hub
	grader    grading.Grader
	active    *accrual.ActiveExercise
	history   EventHistory
	providers []string

	discMu      sync.Mutex
	discussions map[string]*grading.Discussion

	aiLimit *clientLimiter
}

// ServerConfig holds the dependencies of a Server
type ServerConfig struct {
	Config  *config.LocalConfig
	Tracker *progress.Tracker
	Catalog *content.Registry
	Grader  grading.Grader
	Active  *accrual.ActiveExercise
	// History is optional; /v1/events is only served when set
	History EventHistory
	// Providers lists the registered LLM providers for /v1/status
	Providers []string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:       cfg.Config,
		router:    http.NewServeMux(),
		started:   time.Now(),
		tracker:   cfg.Tracker,
		catalog:   cfg.Catalog,
		grader:    cfg.Grader,
		active:    cfg.Active,
		history:   cfg.History,
		providers: cfg.Providers,

		discussions: make(map[string]*grading.Discussion),
		aiLimit:     newClientLimiter(cfg.Config.Daemon.AIRequestsPerMinute),
	}
	if s.active == nil {
		s.active = &accrual.ActiveExercise{}
	}
	s.hub = grading.NewHub(grading.HubConfig{
		Tracker: cfg.Tracker,
		Source:  cfg.Catalog,
		Answers: cfg.Grader,
		Code:    cfg.Grader,
	})

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Config.Daemon.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// grading calls wait on the model
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Content
	s.router.HandleFunc("GET /v1/chapters", s.handleListChapters)
	s.router.HandleFunc("GET /v1/chapters/{slug}/assignments", s.handleListChapterAssignments)
	s.router.HandleFunc("GET /v1/chapters/{slug}/assignments/{number}", s.handleGetAssignmentContent)
	s.router.HandleFunc("GET /v1/search", s.handleSearch)

	// Progress
	s.router.HandleFunc("GET /v1/assignments", s.handleListRecords)
	s.router.HandleFunc("GET /v1/assignments/{id}", s.handleGetProgress)
	s.router.HandleFunc("POST /v1/assignments/{id}/start", s.handleStartAssignment)
	s.router.HandleFunc("POST /v1/assignments/{id}/complete", s.handleCompleteAssignment)
	s.router.HandleFunc("DELETE /v1/assignments/{id}", s.handleResetAssignment)
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/start", s.handleStartExercise)
	s.router.HandleFunc("PUT /v1/assignments/{id}/exercises/{ex}/steps/{step}", s.handleMarkStep)
	s.router.HandleFunc("DELETE /v1/assignments/{id}/exercises/{ex}/steps/{step}", s.handleUnmarkStep)
	s.router.HandleFunc("PUT /v1/assignments/{id}/exercises/{ex}/checks/{key}", s.handleCheck)
	s.router.HandleFunc("DELETE /v1/assignments/{id}/exercises/{ex}/checks/{key}", s.handleUncheck)
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/hints", s.handleRevealHint)
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/solution-steps", s.handleRevealSolutionStep)
	s.router.HandleFunc("GET /v1/stats", s.handleStats)

	// Grading
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/answers/{block}", s.handleSubmitAnswer)
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/answers/{block}/discussion", s.handleDiscussion)
	s.router.HandleFunc("POST /v1/assignments/{id}/exercises/{ex}/code/{block}", s.handleSubmitCode)
	ai := s.aiLimit.Middleware
	s.router.Handle("POST /v1/ai/grade-answer", ai(http.HandlerFunc(s.handleGradeAnswer)))
	s.router.Handle("POST /v1/ai/grade-code", ai(http.HandlerFunc(s.handleGradeCode)))
	s.router.Handle("POST /v1/ai/mentor", ai(http.HandlerFunc(s.handleMentor)))

	// Time accrual
	s.router.HandleFunc("GET /v1/active", s.handleGetActive)
	s.router.HandleFunc("PUT /v1/active", s.handleSetActive)

	// Event history
	if s.history != nil {
		s.router.HandleFunc("GET /v1/events", s.handleListEvents)
	}
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return recoveryMiddleware(
		correlationIDMiddleware(
			loggingMiddleware(
				corsMiddleware(s.cfg.Daemon.CORSOrigins)(s.router),
			),
		),
	)
}

// Active returns the active exercise signal fed to the accrual ticker
func (s *Server) Active() *accrual.ActiveExercise {
	return s.active
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting academy daemon",
		"addr", s.server.Addr,
		"llm_providers", s.providers,
		"storage", s.cfg.Storage.Backend,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")
	return errors.Join(s.server.Shutdown(ctx), s.aiLimit.Close())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":          "running",
		"version":         Version,
		"uptime_seconds":  int(time.Since(s.started).Seconds()),
		"llm_providers":   s.providers,
		"grading_backend": s.cfg.Grading.Backend,
		"storage_backend": s.cfg.Storage.Backend,
		"learner_id":      s.cfg.Tracker.LearnerID,
		"content_loaded":  s.catalog.IsLoaded(),
	}
	if target, ok := s.active.Active(); ok {
		status["active"] = target
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// Helper methods

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// writeError maps domain errors onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, message string, err error) {
	s.jsonError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrAssignmentNotFound),
		errors.Is(err, domain.ErrChapterNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, progress.ErrUnknownExercise),
		errors.Is(err, progress.ErrUnknownStep),
		errors.Is(err, grading.ErrEmptySubmission),
		errors.Is(err, grading.ErrWrongBlockType):
		return http.StatusBadRequest
	case errors.Is(err, progress.ErrStaleResult),
		errors.Is(err, progress.ErrNotCompletable),
		errors.Is(err, grading.ErrSubmissionInFlight),
		errors.Is(err, grading.ErrAlreadySubmitted),
		errors.Is(err, grading.ErrReplyPending):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
