package compute

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vizflow/internal/domain"
)

var _ domain.ComputeExecutor = (*RemoteExecutor)(nil)

// DefaultRemoteTimeout bounds a remote call when the configuration sets none.
const DefaultRemoteTimeout = 30 * time.Second

// maxResponseBytes caps a decoded agent response.
const maxResponseBytes = 256 << 20

// RemoteExecutor sends compiled workflows to a compute agent over HTTP or
// gRPC. It never retries: a failed call surfaces to the caller as is.
type RemoteExecutor struct {
	endpointURL string
	authToken   string
	transport   string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
	now         func() time.Time

	grpcMu     sync.Mutex
	grpcClient *grpcAgentClient
}

// RemoteOption configures a RemoteExecutor.
type RemoteOption func(*RemoteExecutor)

// WithHTTPClient replaces the HTTP client used for the http transport.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(e *RemoteExecutor) { e.httpClient = c }
}

// WithRemoteLogger sets the logger for transport failures.
func WithRemoteLogger(l *slog.Logger) RemoteOption {
	return func(e *RemoteExecutor) { e.logger = l }
}

// WithClock replaces the signing clock.
func WithClock(now func() time.Time) RemoteOption {
	return func(e *RemoteExecutor) { e.now = now }
}

// NewRemoteExecutor creates an executor for a validated server configuration.
// The transport is taken from cfg, or inferred from the endpoint scheme
// (grpc:// and grpcs:// select gRPC).
func NewRemoteExecutor(cfg domain.ComputationConfig, opts ...RemoteOption) *RemoteExecutor {
	e := &RemoteExecutor{
		endpointURL: strings.TrimRight(cfg.Server, "/"),
		authToken:   cfg.APIKey,
		transport:   TransportFor(cfg),
		timeout:     cfg.Timeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultRemoteTimeout
	}
	for _, o := range opts {
		o(e)
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	return e
}

// TransportFor returns the transport a configuration resolves to.
func TransportFor(cfg domain.ComputationConfig) string {
	if cfg.Transport != "" {
		return cfg.Transport
	}
	lower := strings.ToLower(cfg.Server)
	if strings.HasPrefix(lower, "grpc://") || strings.HasPrefix(lower, "grpcs://") {
		return domain.TransportGRPC
	}
	return domain.TransportHTTP
}

// Endpoint returns the agent address.
func (e *RemoteExecutor) Endpoint() string { return e.endpointURL }

// Transport returns the resolved transport name.
func (e *RemoteExecutor) Transport() string { return e.transport }

// Query sends req to the agent and returns its rows. Agent-reported
// failures come back as the matching typed error; everything else is a
// TransportError.
func (e *RemoteExecutor) Query(ctx context.Context, req domain.QueryRequest) ([]domain.Row, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	wr := WorkflowRequest{
		DatasetID: req.DatasetID,
		Query:     WorkflowQuery{Workflow: req.Workflow},
		Joins:     req.Joins,
		RequestID: uuid.New().String(),
	}

	var (
		rows []domain.Row
		err  error
	)
	if e.transport == domain.TransportGRPC {
		var client *grpcAgentClient
		client, err = e.ensureGRPCClient()
		if err == nil {
			rows, err = client.query(ctx, wr)
		}
	} else {
		rows, err = e.queryHTTP(ctx, wr)
	}
	if err != nil {
		var te *domain.TransportError
		if errors.As(err, &te) {
			e.logger.Warn("remote workflow failed",
				"endpoint", e.endpointURL, "transport", e.transport,
				"request_id", wr.RequestID, "error", err)
		}
		return nil, err
	}
	return rows, nil
}

func (e *RemoteExecutor) queryHTTP(ctx context.Context, wr WorkflowRequest) ([]domain.Row, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("encode workflow request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpointURL+"/v1/workflow", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.TransportError{Op: "build workflow request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderRequestID, wr.RequestID)
	AttachSignedAgentHeaders(httpReq, e.authToken, body, e.now())

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.TransportError{Op: "post workflow", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.TransportError{Op: "read workflow response", Err: err}
	}

	var out WorkflowResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &domain.TransportError{
			Op:  "decode workflow response",
			Err: fmt.Errorf("status %d: %w", resp.StatusCode, err),
		}
	}
	if !out.Success || resp.StatusCode >= http.StatusBadRequest {
		if out.Code == "" {
			return nil, &domain.TransportError{
				Op:  "post workflow",
				Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(out.Message)),
			}
		}
		return nil, ErrorFromWire(out.Code, out.Message, out.Field, out.Join)
	}
	return normalizeRows(out.Data), nil
}

// Ping performs a health check against the agent.
func (e *RemoteExecutor) Ping(ctx context.Context) error {
	_, err := e.Health(ctx)
	return err
}

// Health returns the agent's health report.
func (e *RemoteExecutor) Health(ctx context.Context) (HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if e.transport == domain.TransportGRPC {
		client, err := e.ensureGRPCClient()
		if err != nil {
			return HealthResponse{}, err
		}
		return client.health(ctx)
	}

	var out HealthResponse
	if err := e.getJSON(ctx, "/health", &out); err != nil {
		return HealthResponse{}, err
	}
	return out, nil
}

// Datasets lists the datasets the agent serves.
func (e *RemoteExecutor) Datasets(ctx context.Context) ([]DatasetInfo, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if e.transport == domain.TransportGRPC {
		client, err := e.ensureGRPCClient()
		if err != nil {
			return nil, err
		}
		return client.listDatasets(ctx)
	}

	var out DatasetsResponse
	if err := e.getJSON(ctx, "/v1/datasets", &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

func (e *RemoteExecutor) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpointURL+path, nil)
	if err != nil {
		return &domain.TransportError{Op: "build " + path + " request", Err: err}
	}
	AttachSignedAgentHeaders(req, e.authToken, nil, e.now())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: "get " + path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&er)
		if er.Code != "" {
			return ErrorFromWire(er.Code, er.Message, er.Field, er.Join)
		}
		return &domain.TransportError{Op: "get " + path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return &domain.TransportError{Op: "decode " + path, Err: err}
	}
	return nil
}

func (e *RemoteExecutor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *RemoteExecutor) ensureGRPCClient() (*grpcAgentClient, error) {
	e.grpcMu.Lock()
	defer e.grpcMu.Unlock()

	if e.grpcClient != nil {
		return e.grpcClient, nil
	}
	client, err := newGRPCAgentClient(e.endpointURL, e.authToken, e.now)
	if err != nil {
		return nil, &domain.TransportError{Op: "grpc connect", Err: err}
	}
	e.grpcClient = client
	return client, nil
}

// Close releases the gRPC connection, if one was opened.
func (e *RemoteExecutor) Close() error {
	e.grpcMu.Lock()
	defer e.grpcMu.Unlock()
	if e.grpcClient == nil {
		return nil
	}
	err := e.grpcClient.close()
	e.grpcClient = nil
	return err
}
