package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"sequentier/internal/api"
	"sequentier/internal/config"
	"sequentier/internal/logging"
	"sequentier/internal/queue"
)

const maxRequestBytes = 1 << 20

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService

	router   chi.Router
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		queueSvc: api.NewQueueService(d.store),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/api/health", srv.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(cfg.API.Token))
		r.Get("/api/queue", srv.handleQueue)
		r.Post("/api/enqueue", srv.handleEnqueue)
		r.Post("/api/config/reload", srv.handleReload)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		srv.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		srv.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	srv.router = r
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// A shut down http.Server cannot serve again, so each start gets its own.
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.server = server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.daemon.Status()
	payload := api.HealthResponse{
		Status:       "ok",
		Running:      status.Running,
		PID:          status.PID,
		StartedAt:    api.FormatTime(status.StartedAt),
		ConfigPath:   status.ConfigPath,
		LockFilePath: status.LockFilePath,
		HistoryPath:  status.HistoryPath,
		Workflow:     api.FromStatusSummary(status.Workflow),

		ConfigChangedAt: api.FormatTime(status.ConfigChangedAt),
		ConfigChanged:   status.ConfigChanged,
	}
	if !status.Running {
		payload.Status = "stopped"
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		s.writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	jobs, err := s.queueSvc.List(user)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	normalized, _ := config.NormalizeUser(user)
	s.writeJSON(w, http.StatusOK, api.QueueResponse{User: normalized, Jobs: jobs})
}

func (s *apiServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req api.EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	job, err := s.daemon.Enqueue(req)
	if err != nil && job.ID == "" {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	resp := api.EnqueueResponse{Job: api.FromJob(job)}
	if err != nil {
		// The append is kept in memory and will be scheduled; a retry would
		// queue the file twice.
		resp.Warning = "file queued but the queue record could not be written: " + err.Error()
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleReload(w http.ResponseWriter, _ *http.Request) {
	if err := s.daemon.Reload(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ReloadResponse{Reloaded: true, ConfigPath: s.daemon.cell.Path()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, queue.ErrInvalidRequest), errors.Is(err, config.ErrInvalidUser):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
