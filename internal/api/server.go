package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ooi-harvest-request/internal/harvest"
	"github.com/JakeFAU/ooi-harvest-request/internal/metrics"
	"github.com/JakeFAU/ooi-harvest-request/internal/state"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
	"github.com/JakeFAU/ooi-harvest-request/internal/storage/postgres"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	requestTimeout      = 10 * time.Second
)

// StateReader reads the persisted documents.
type StateReader interface {
	LoadStatus(ctx context.Context) (status.RequestStatus, error)
	LoadResponse(ctx context.Context) (harvest.RequestResponse, error)
}

// HistoryReader lists recent invocations of a stream.
type HistoryReader interface {
	Recent(ctx context.Context, tableName string, limit int) ([]postgres.Entry, error)
}

// Server wires HTTP handlers to the state store and ledger.
type Server struct {
	router    chi.Router
	state     StateReader
	history   HistoryReader
	tableName string
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. history may be nil.
func NewServer(st StateReader, history HistoryReader, tableName string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		state:     st,
		history:   history,
		tableName: tableName,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/response", s.getResponse)
		r.Get("/history", s.getHistory)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.state.LoadStatus(r.Context()); err != nil && !errors.Is(err, state.ErrNoRequest) {
		writeError(w, http.StatusServiceUnavailable, "state unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusDTO struct {
	TableName   string `json:"table_name"`
	LastRequest string `json:"last_request"`
	Status      string `json:"status"`
	DataReady   bool   `json:"data_ready"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	rs, err := s.state.LoadStatus(r.Context())
	if errors.Is(err, state.ErrNoRequest) {
		writeError(w, http.StatusNotFound, "Please request data first.")
		return
	}
	if err != nil {
		s.logger.Error("load status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, statusDTO{
		TableName:   rs.TableName,
		LastRequest: harvest.FormatTime(rs.LastRequest),
		Status:      string(rs.Status),
		DataReady:   rs.DataReady,
	})
}

func (s *Server) getResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.state.LoadResponse(r.Context())
	if errors.Is(err, state.ErrNoRequest) {
		writeError(w, http.StatusNotFound, "Please request data first.")
		return
	}
	if err != nil {
		s.logger.Error("load response failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load response")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// getHistory handles GET /v1/history?limit=. It returns 503 when no ledger is configured.
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.history.Recent(r.Context(), s.tableName, limit)
	if err != nil {
		s.logger.Error("list history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []postgres.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table_name": s.tableName, "entries": entries})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

type requestIDKey struct{}

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
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
