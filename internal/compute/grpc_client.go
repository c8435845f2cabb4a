package compute

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	computeproto "vizflow/internal/compute/proto"
	"vizflow/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

type grpcAgentClient struct {
	conn      *grpc.ClientConn
	client    computeproto.ComputeAgentClient
	authToken string
	now       func() time.Time
}

func newGRPCAgentClient(endpointURL, authToken string, now func() time.Time) (*grpcAgentClient, error) {
	EnsureGRPCJSONCodec()

	target, secure, err := grpcDialTarget(endpointURL)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(GRPCCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial grpc agent: %w", err)
	}
	return &grpcAgentClient{
		conn:      conn,
		client:    computeproto.NewComputeAgentClient(conn),
		authToken: authToken,
		now:       now,
	}, nil
}

func grpcDialTarget(endpointURL string) (target string, secure bool, err error) {
	u, parseErr := url.Parse(endpointURL)
	if parseErr != nil {
		return "", false, fmt.Errorf("parse endpoint url: %w", parseErr)
	}

	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	switch scheme {
	case "grpc", "grpcs":
		if u.Host == "" {
			return "", false, fmt.Errorf("grpc endpoint host is required")
		}
		return u.Host, scheme == "grpcs", nil
	default:
		return "", false, fmt.Errorf("grpc transport requires grpc:// or grpcs:// endpoint")
	}
}

// QuerySigningPayload is the byte string a gRPC Query signature covers: the
// request without its context block.
func QuerySigningPayload(req *computeproto.QueryRequest) []byte {
	unsigned := *req
	unsigned.Context = nil
	b, _ := json.Marshal(&unsigned)
	return b
}

func (c *grpcAgentClient) query(ctx context.Context, req WorkflowRequest) ([]domain.Row, error) {
	wf, err := json.Marshal(req.Query.Workflow)
	if err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	in := &computeproto.QueryRequest{
		DatasetId: req.DatasetID,
		Workflow:  wf,
		Joins:     joinsToProto(req.Joins),
	}
	ctx = SignOutgoingContext(ctx, c.authToken, computeproto.ComputeAgent_Query_FullMethodName, req.RequestID, QuerySigningPayload(in), c.now())
	in.Context = &computeproto.RequestContext{RequestId: req.RequestID}

	out, err := c.client.Query(ctx, in)
	if err != nil {
		return nil, grpcError("grpc query", err)
	}
	if out.ErrorCode != "" {
		return nil, ErrorFromWire(out.ErrorCode, out.ErrorMessage, out.ErrorField, JoinDetailFromProto(out))
	}
	return decodeRows(out.Data)
}

func (c *grpcAgentClient) health(ctx context.Context) (HealthResponse, error) {
	ctx = SignOutgoingContext(ctx, c.authToken, computeproto.ComputeAgent_Health_FullMethodName, "", nil, c.now())
	out, err := c.client.Health(ctx, &computeproto.HealthRequest{})
	if err != nil {
		return HealthResponse{}, grpcError("grpc health", err)
	}
	return HealthResponse{
		Status:        out.Status,
		UptimeSeconds: int(out.UptimeSeconds),
		Backend:       out.Backend,
		Datasets:      int(out.Datasets),
		DuckDBVersion: out.DuckdbVersion,
	}, nil
}

func (c *grpcAgentClient) listDatasets(ctx context.Context) ([]DatasetInfo, error) {
	ctx = SignOutgoingContext(ctx, c.authToken, computeproto.ComputeAgent_ListDatasets_FullMethodName, "", nil, c.now())
	out, err := c.client.ListDatasets(ctx, &computeproto.ListDatasetsRequest{})
	if err != nil {
		return nil, grpcError("grpc list datasets", err)
	}
	infos := make([]DatasetInfo, 0, len(out.Datasets))
	for _, d := range out.Datasets {
		if d == nil {
			continue
		}
		info := DatasetInfo{ID: d.Id, RowCount: int(d.RowCount)}
		if len(d.Fields) > 0 {
			if err := json.Unmarshal(d.Fields, &info.Fields); err != nil {
				return nil, &domain.TransportError{Op: "grpc list datasets", Err: err}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *grpcAgentClient) close() error {
	return c.conn.Close()
}

// grpcError maps a gRPC status onto the typed errors callers branch on.
func grpcError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &domain.TransportError{Op: op, Err: err}
	}
	switch st.Code() {
	case codes.Canceled:
		return &domain.TransportError{Op: op, Err: context.Canceled}
	case codes.DeadlineExceeded:
		return &domain.TransportError{Op: op, Err: context.DeadlineExceeded}
	case codes.Unauthenticated, codes.PermissionDenied:
		return &domain.TransportError{Op: op, Err: fmt.Errorf("%w: %s", ErrUnauthorized, st.Message())}
	}
	return &domain.TransportError{Op: op, Err: fmt.Errorf("%s: %s", st.Code(), st.Message())}
}

func joinsToProto(hops []domain.JoinHop) []*computeproto.JoinHop {
	if len(hops) == 0 {
		return nil
	}
	out := make([]*computeproto.JoinHop, len(hops))
	for i, h := range hops {
		out[i] = &computeproto.JoinHop{From: h.From, To: h.To, Key: h.Key}
	}
	return out
}

// JoinDetailToProto copies d into the join fields of out.
func JoinDetailToProto(d *JoinPathDetail, out *computeproto.QueryResponse) {
	if d == nil {
		return
	}
	out.JoinTo = d.To
	out.JoinReason = d.Reason
	for _, path := range d.Candidates {
		out.JoinCandidates = append(out.JoinCandidates, &computeproto.JoinPath{Hops: joinsToProto(path)})
	}
}

// JoinDetailFromProto reads the join fields of out; nil when none are set.
func JoinDetailFromProto(out *computeproto.QueryResponse) *JoinPathDetail {
	if out.JoinReason == "" && out.JoinTo == "" && len(out.JoinCandidates) == 0 {
		return nil
	}
	d := &JoinPathDetail{To: out.JoinTo, Reason: out.JoinReason}
	for _, path := range out.JoinCandidates {
		if path != nil {
			d.Candidates = append(d.Candidates, JoinsFromProto(path.Hops))
		}
	}
	return d
}

// JoinsFromProto converts wire hops back to domain hops.
func JoinsFromProto(hops []*computeproto.JoinHop) []domain.JoinHop {
	out := make([]domain.JoinHop, 0, len(hops))
	for _, h := range hops {
		if h != nil {
			out = append(out, domain.JoinHop{From: h.From, To: h.To, Key: h.Key})
		}
	}
	return out
}

func decodeRows(data json.RawMessage) ([]domain.Row, error) {
	if len(data) == 0 {
		return []domain.Row{}, nil
	}
	var rows []domain.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, &domain.TransportError{Op: "decode rows", Err: err}
	}
	return normalizeRows(rows), nil
}

// normalizeRows coerces every value to the engine's scalar set so results
// from either transport compare equal to client results.
func normalizeRows(rows []domain.Row) []domain.Row {
	if rows == nil {
		return []domain.Row{}
	}
	for _, r := range rows {
		for k, v := range r {
			r[k] = domain.Normalize(v)
		}
	}
	return rows
}
