package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vizflow/internal/compute"
	computeproto "vizflow/internal/compute/proto"
	"vizflow/internal/domain"
	"vizflow/internal/middleware"
)

// GRPCConfig holds the dependencies for the agent gRPC server.
type GRPCConfig struct {
	Backend    Backend
	AgentToken string
	StartTime  time.Time
	Logger     *slog.Logger
	MaxSkew    time.Duration
	Metrics    *middleware.Metrics
	Now        func() time.Time
}

// ComputeGRPCServer serves the ComputeAgent service. Workflow failures are
// reported in the response body with the HTTP wire codes; only
// authentication failures are gRPC status errors.
type ComputeGRPCServer struct {
	computeproto.UnimplementedComputeAgentServer
	cfg GRPCConfig
}

// NewComputeGRPCServer creates the service implementation.
func NewComputeGRPCServer(cfg GRPCConfig) *ComputeGRPCServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = cfg.Now()
	}
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = compute.DefaultSignatureSkew
	}
	return &ComputeGRPCServer{cfg: cfg}
}

// NewGRPCServer builds a grpc.Server with the JSON codec and the service
// registered.
func NewGRPCServer(cfg GRPCConfig, opts ...grpc.ServerOption) *grpc.Server {
	compute.EnsureGRPCJSONCodec()
	if cfg.Metrics != nil {
		opts = append(opts, grpc.ChainUnaryInterceptor(cfg.Metrics.UnaryServerInterceptor()))
	}
	srv := grpc.NewServer(opts...)
	computeproto.RegisterComputeAgentServer(srv, NewComputeGRPCServer(cfg))
	return srv
}

func (s *ComputeGRPCServer) authorize(ctx context.Context, fullMethod string, payload []byte) error {
	if err := compute.VerifyIncomingContext(ctx, s.cfg.AgentToken, fullMethod, payload, s.cfg.Now(), s.cfg.MaxSkew); err != nil {
		s.cfg.Logger.Warn("agent grpc request rejected",
			"method", fullMethod, "request_id", compute.RequestIDFromIncoming(ctx), "error", err)
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	return nil
}

// Query executes one workflow.
func (s *ComputeGRPCServer) Query(ctx context.Context, in *computeproto.QueryRequest) (*computeproto.QueryResponse, error) {
	if err := s.authorize(ctx, computeproto.ComputeAgent_Query_FullMethodName, compute.QuerySigningPayload(in)); err != nil {
		return nil, err
	}

	requestID := compute.RequestIDFromIncoming(ctx)
	if in.Context != nil && middleware.ValidRequestID(in.Context.RequestId) {
		requestID = in.Context.RequestId
	}

	var wf domain.Workflow
	if len(in.Workflow) > 0 {
		if err := json.Unmarshal(in.Workflow, &wf); err != nil {
			s.cfg.Metrics.ObserveWorkflow(0, compute.CodeParse)
			return &computeproto.QueryResponse{ErrorCode: compute.CodeParse, ErrorMessage: "invalid workflow: " + err.Error()}, nil
		}
	}

	req := compute.WorkflowRequest{
		DatasetID: in.DatasetId,
		Query:     compute.WorkflowQuery{Workflow: wf},
		Joins:     compute.JoinsFromProto(in.Joins),
		RequestID: requestID,
	}
	rows, err := executeWorkflow(ctx, s.cfg.Backend, req, s.cfg.Logger, requestID)
	if err != nil {
		code, field, _ := compute.ErrorCode(err)
		s.cfg.Metrics.ObserveWorkflow(0, code)
		out := &computeproto.QueryResponse{ErrorCode: code, ErrorMessage: err.Error(), ErrorField: field}
		compute.JoinDetailToProto(compute.JoinDetail(err), out)
		return out, nil
	}

	data, err := json.Marshal(rows)
	if err != nil {
		s.cfg.Metrics.ObserveWorkflow(0, compute.CodeExecution)
		return &computeproto.QueryResponse{ErrorCode: compute.CodeExecution, ErrorMessage: "encode rows: " + err.Error()}, nil
	}
	s.cfg.Metrics.ObserveWorkflow(len(rows), "")
	return &computeproto.QueryResponse{Data: data, RowCount: int64(len(rows))}, nil
}

// Health reports liveness. It is unauthenticated like GET /health.
func (s *ComputeGRPCServer) Health(ctx context.Context, _ *computeproto.HealthRequest) (*computeproto.HealthResponse, error) {
	h := healthReport(ctx, s.cfg.Backend, s.cfg.StartTime, s.cfg.Now())
	return &computeproto.HealthResponse{
		Status:        h.Status,
		UptimeSeconds: int64(h.UptimeSeconds),
		Backend:       h.Backend,
		Datasets:      int32(h.Datasets), //nolint:gosec
		DuckdbVersion: h.DuckDBVersion,
	}, nil
}

// ListDatasets describes the served datasets.
func (s *ComputeGRPCServer) ListDatasets(ctx context.Context, _ *computeproto.ListDatasetsRequest) (*computeproto.ListDatasetsResponse, error) {
	if err := s.authorize(ctx, computeproto.ComputeAgent_ListDatasets_FullMethodName, nil); err != nil {
		return nil, err
	}
	infos, err := s.cfg.Backend.Datasets(ctx)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &computeproto.ListDatasetsResponse{Datasets: make([]*computeproto.DatasetInfo, 0, len(infos))}
	for _, info := range infos {
		fields, err := json.Marshal(info.Fields)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out.Datasets = append(out.Datasets, &computeproto.DatasetInfo{
			Id:       info.ID,
			Fields:   fields,
			RowCount: int64(info.RowCount),
		})
	}
	return out, nil
}
