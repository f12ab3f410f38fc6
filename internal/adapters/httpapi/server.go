// Package httpapi exposes the admin HTTP API.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/mikey/phishguard/internal/core"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Service is the part of the phishing service the API drives
type Service interface {
	Email(ctx context.Context, id string) (*core.Email, error)
	Reanalyze(ctx context.Context, id string) (*core.Assessment, error)
	Report(ctx context.Context, id string, req core.DispatchRequest) ([]*core.Report, error)
}

// Options configures the admin API server
type Options struct {
	Addr string
	// APIKey protects /api routes with a bearer token when set
	APIKey          string
	ShutdownTimeout time.Duration
}

// Server is the admin HTTP API server
type Server struct {
	opts    Options
	service Service
	reports core.ReportRepository
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates the admin API server
func NewServer(opts Options, service Service, reports core.ReportRepository, logger *zap.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:    opts,
		service: service,
		reports: reports,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting admin API", zap.String("address", s.opts.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin API failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down admin API")
	return s.server.Shutdown(ctx)
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/emails/{id}", s.handleGetEmail).Methods(http.MethodGet)
	api.HandleFunc("/emails/{id}/reanalyze", s.handleReanalyze).Methods(http.MethodPost)
	api.HandleFunc("/emails/{id}/report", s.handleReport).Methods(http.MethodPost)
	api.HandleFunc("/emails/{id}/reports", s.handleListReports).Methods(http.MethodGet)
	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Admin API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.opts.APIKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	email, err := s.service.Email(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, err, "Failed to get email")
		return
	}
	s.writeJSON(w, http.StatusOK, newEmailResponse(email))
}

func (s *Server) handleReanalyze(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	assessment, err := s.service.Reanalyze(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err, "Failed to reanalyze email")
		return
	}
	s.writeJSON(w, http.StatusOK, newAssessmentResponse(id, assessment))
}

// ReportRequest is the optional body of a manual report trigger
type ReportRequest struct {
	Language  string   `json:"language,omitempty"`
	Recipient string   `json:"recipient,omitempty"`
	Types     []string `json:"types,omitempty"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ReportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
	}
	dreq := core.DispatchRequest{Language: req.Language, Custom: req.Recipient}
	for _, t := range req.Types {
		rt, ok := core.ParseRecipientType(t)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown recipient type %q", t))
			return
		}
		dreq.Types = append(dreq.Types, rt)
	}

	reports, err := s.service.Report(r.Context(), mux.Vars(r)["id"], dreq)
	if err != nil {
		s.writeServiceError(w, err, "Failed to dispatch reports")
		return
	}
	s.writeJSON(w, http.StatusOK, newReportResponses(reports))
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.service.Email(r.Context(), id); err != nil {
		s.writeServiceError(w, err, "Failed to get email")
		return
	}
	reports, err := s.reports.ListByEmail(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to list reports", zap.String("email_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}
	s.writeJSON(w, http.StatusOK, newReportResponses(reports))
}

// writeServiceError maps domain errors to status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Email not found")
	case errors.Is(err, core.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrNoRecipients):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, core.ErrTemplateMissing):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error(message, zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, message)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("Error encoding JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
