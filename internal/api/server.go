// Package api exposes the HTTP interface for the keepalive service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kholt/instance-keepalive/internal/config"
	"github.com/kholt/instance-keepalive/internal/metrics"
	"github.com/kholt/instance-keepalive/internal/runner"
)

// Server wires HTTP handlers to the visit runner.
type Server struct {
	router chi.Router
	runner *runner.Runner
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(run *runner.Runner, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner: run,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The trigger answers on both the root and /run for compatibility with
	// schedulers that can only hit a bare host URL.
	r.Get("/", s.run)
	r.Get("/run", s.run)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Error("healthz write failed", zap.Error(err))
	}
}

// statusResponse is the RunState snapshot plus the configured stay.
type statusResponse struct {
	runner.Snapshot
	StayMinutes int `json:"stayMinutes"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		Snapshot:    s.runner.Status(),
		StayMinutes: s.cfg.Visit.StayMinutes,
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	req := runner.TriggerRequest{
		URL:   r.URL.Query().Get("url"),
		Token: triggerToken(r),
	}
	if raw := r.URL.Query().Get("stay"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes < 0 {
			s.writeError(w, http.StatusBadRequest, "stay must be a non-negative whole number of minutes")
			return
		}
		req.Stay = time.Duration(minutes) * time.Minute
		req.StayProvided = true
	}

	res, err := s.runner.Trigger(req)
	switch {
	case errors.Is(err, runner.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, runner.ErrNoTargetURL):
		s.writeError(w, http.StatusBadRequest, "no target url: pass ?url= or configure a default")
	case errors.Is(err, runner.ErrAlreadyRunning):
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": false,
			"reason":   "already running",
		})
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted":    true,
			"visitId":     res.VisitID,
			"url":         res.URL,
			"stayMinutes": int(res.Stay / time.Minute),
		})
	}
}

// triggerToken pulls the shared secret from the query string or a bearer
// Authorization header.
func triggerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
