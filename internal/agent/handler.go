// Package agent implements the remote computation service that server-mode
// views delegate workflows to.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"vizflow/internal/compute"
	"vizflow/internal/domain"
	"vizflow/internal/middleware"
)

// HandlerConfig holds the dependencies for the agent HTTP handler.
type HandlerConfig struct {
	Backend     Backend
	AgentToken  string
	StartTime   time.Time
	Logger      *slog.Logger
	RateLimit   middleware.RateLimitConfig
	CORSOrigins []string
	MaxSkew     time.Duration
	// Metrics is optional; /metrics is only mounted when set.
	Metrics *middleware.Metrics
	Now     func() time.Time
}

func (c *HandlerConfig) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.StartTime.IsZero() {
		c.StartTime = c.Now()
	}
	if c.MaxSkew <= 0 {
		c.MaxSkew = compute.DefaultSignatureSkew
	}
}

// NewHandler returns the agent's HTTP surface. ctx bounds background work
// owned by the handler, such as rate-limit bucket sweeping.
func NewHandler(ctx context.Context, cfg HandlerConfig) http.Handler {
	cfg.defaults()
	h := &httpHandler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.AccessLog(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTP)
	}
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{
				"Content-Type",
				compute.HeaderAgentAuth,
				compute.HeaderAgentTimestamp,
				compute.HeaderAgentSignature,
				compute.HeaderRequestID,
			},
			ExposedHeaders: []string{compute.HeaderRequestID},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))
		r.Use(middleware.AgentAuth(middleware.AgentAuthConfig{
			Token:   cfg.AgentToken,
			MaxSkew: cfg.MaxSkew,
			Now:     cfg.Now,
			Logger:  cfg.Logger,
		}))
		r.Post("/workflow", h.workflow)
		r.Get("/datasets", h.datasets)
	})
	return r
}

type httpHandler struct {
	cfg HandlerConfig
}

func (h *httpHandler) workflow(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())

	var req compute.WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.cfg.Metrics.ObserveWorkflow(0, compute.CodeParse)
		writeJSON(w, http.StatusBadRequest, compute.ErrorResponse{
			Message:   "invalid workflow request: " + err.Error(),
			Code:      compute.CodeParse,
			RequestID: requestID,
		})
		return
	}
	if middleware.ValidRequestID(req.RequestID) {
		requestID = req.RequestID
	}

	rows, err := executeWorkflow(r.Context(), h.cfg.Backend, req, h.cfg.Logger, requestID)
	if err != nil {
		code, field, status := compute.ErrorCode(err)
		h.cfg.Metrics.ObserveWorkflow(0, code)
		writeJSON(w, status, compute.ErrorResponse{
			Message:   err.Error(),
			Code:      code,
			Field:     field,
			RequestID: requestID,
			Join:      compute.JoinDetail(err),
		})
		return
	}
	h.cfg.Metrics.ObserveWorkflow(len(rows), "")
	writeJSON(w, http.StatusOK, compute.WorkflowResponse{
		Success:   true,
		Data:      rows,
		RowCount:  len(rows),
		RequestID: requestID,
	})
}

func (h *httpHandler) datasets(w http.ResponseWriter, r *http.Request) {
	infos, err := h.cfg.Backend.Datasets(r.Context())
	if err != nil {
		code, field, status := compute.ErrorCode(err)
		writeJSON(w, status, compute.ErrorResponse{Message: err.Error(), Code: code, Field: field})
		return
	}
	writeJSON(w, http.StatusOK, compute.DatasetsResponse{Datasets: infos})
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthReport(r.Context(), h.cfg.Backend, h.cfg.StartTime, h.cfg.Now()))
}

// executeWorkflow runs one decoded request on backend. Shared by the HTTP
// and gRPC surfaces so both log and normalize identically.
func executeWorkflow(ctx context.Context, backend Backend, req compute.WorkflowRequest, logger *slog.Logger, requestID string) ([]domain.Row, error) {
	start := time.Now()
	rows, err := backend.Query(ctx, domain.QueryRequest{
		DatasetID: req.DatasetID,
		Workflow:  req.Query.Workflow,
		Joins:     req.Joins,
	})
	if err != nil {
		code, _, status := compute.ErrorCode(err)
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "workflow failed",
			"dataset", req.DatasetID, "request_id", requestID,
			"backend", backend.Name(), "code", code, "error", err)
		return nil, err
	}
	if rows == nil {
		rows = []domain.Row{}
	}
	logger.Debug("workflow executed",
		"dataset", req.DatasetID, "request_id", requestID,
		"backend", backend.Name(), "steps", len(req.Query.Workflow),
		"rows", len(rows), "duration_ms", time.Since(start).Milliseconds())
	return rows, nil
}

func healthReport(ctx context.Context, backend Backend, started, now time.Time) compute.HealthResponse {
	n := 0
	if infos, err := backend.Datasets(ctx); err == nil {
		n = len(infos)
	}
	return compute.HealthResponse{
		Status:        "ok",
		UptimeSeconds: int(now.Sub(started).Seconds()),
		Backend:       backend.Name(),
		Datasets:      n,
		DuckDBVersion: backend.Version(ctx),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
