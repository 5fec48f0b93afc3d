// Package api is the operator HTTP API for distributions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Queue accepts distributions for background processing.
type Queue interface {
	Submit(req domain.DistributionRequest) error
}

// Records reads the ledger.
type Records interface {
	Get(ctx context.Context, transactionID string) (*domain.TransactionRecord, error)
	List(ctx context.Context, status domain.Status, limit int) ([]domain.TransactionRecord, error)
}

// Server serves the distribution API.
type Server struct {
	queue   Queue
	records Records
	logger  logger.LoggerInterface
	server  *http.Server
	router  http.Handler
}

func NewServer(port int, queue Queue, records Records, log logger.LoggerInterface) *Server {
	s := &Server{
		queue:   queue,
		records: records,
		logger:  log,
	}
	s.router = s.buildRouter()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           otelhttp.NewHandler(s.router, "distribution-api"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler exposes the router without the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Route("/v1/distributions", func(r chi.Router) {
		r.Post("/", s.createDistribution)
		r.Get("/", s.listDistributions)
		r.Get("/{id}", s.getDistribution)
	})
	return r
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info(context.Background(), "distribution api listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "distribution api failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type createRequest struct {
	TransactionID    string `json:"transactionId"`
	RecipientAddress string `json:"recipientAddress"`
	TargetAmount     string `json:"targetAmount"`
	SourceAmount     string `json:"sourceAmount,omitempty"`
}

type acceptedResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}

func (s *Server) createDistribution(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		s.writeError(w, r, apperror.Validation(apperror.CodeInvalidFormat, "request body"))
		return
	}

	req, err := domain.NewDistributionRequest(body.TransactionID, body.RecipientAddress, body.TargetAmount, body.SourceAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Completed work is answered from the ledger without queueing.
	if rec, err := s.records.Get(r.Context(), req.TransactionID); err == nil && rec.Settled() {
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if err := s.queue.Submit(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedResponse{TransactionID: req.TransactionID, Status: "queued"})
}

func (s *Server) getDistribution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listDistributions(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	switch status {
	case "", domain.StatusPending, domain.StatusCompleted, domain.StatusFailed:
	default:
		s.writeError(w, r, apperror.Validation(apperror.CodeInvalidInput, "status"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, apperror.Validation(apperror.CodeInvalidInput, "limit"))
			return
		}
		limit = n
	}

	recs, err := s.records.List(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributions": recs})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		appErr = apperror.New(apperror.CodeInternalError, apperror.WithCause(err))
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "api request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, appErr.StatusCode, appErr.ToResponse())
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
