package agent

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"vizflow/internal/compute"
	computeproto "vizflow/internal/compute/proto"
	"vizflow/internal/domain"
	"vizflow/internal/middleware"
)

// startGRPCAgent serves backend on a loopback listener and returns its
// grpc:// address.
func startGRPCAgent(t *testing.T, backend Backend, metrics *middleware.Metrics) string {
	t.Helper()
	srv := NewGRPCServer(GRPCConfig{Backend: backend, AgentToken: testToken, Metrics: metrics})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = ln.Close()
	})
	go func() { _ = srv.Serve(ln) }()
	return "grpc://" + ln.Addr().String()
}

func grpcRemote(t *testing.T, addr, token string) *compute.RemoteExecutor {
	t.Helper()
	exec := compute.NewRemoteExecutor(domain.ComputationConfig{Mode: domain.ModeServer, Server: addr, APIKey: token})
	t.Cleanup(func() { _ = exec.Close() })
	return exec
}

func TestComputeGRPCServer_Query(t *testing.T) {
	t.Parallel()
	metrics := middleware.NewMetrics()
	addr := startGRPCAgent(t, NewMemoryBackend(compute.Engine{}, salesDataset(), customersDataset()), metrics)
	exec := grpcRemote(t, addr, testToken)
	require.Equal(t, domain.TransportGRPC, exec.Transport())

	rows, err := exec.Query(context.Background(), domain.QueryRequest{
		DatasetID: "sales",
		Joins:     []domain.JoinHop{{From: "customers", To: "sales", Key: "customer"}},
		Workflow: domain.Workflow{
			domain.AggregateStep{GroupBy: []string{"tier"}, Measures: []domain.Measure{{FID: "sales", Agg: domain.AggSum, As: "sales_sum"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{
		{"tier": "gold", "sales_sum": 15.0},
		{"tier": "silver", "sales_sum": 20.0},
		{"tier": nil, "sales_sum": 8.0},
	}, rows)

	t.Run("unknown field", func(t *testing.T) {
		_, err := exec.Query(context.Background(), domain.QueryRequest{DatasetID: "sales", Workflow: domain.Workflow{
			domain.SortStep{By: []string{"profit"}},
		}})
		var unknown *domain.UnknownFieldError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "profit", unknown.Field)
	})

	t.Run("join path error", func(t *testing.T) {
		_, err := exec.Query(context.Background(), domain.QueryRequest{
			DatasetID: "sales",
			Joins:     []domain.JoinHop{{From: "customers", To: "orders", Key: "customer"}},
		})
		var join *domain.JoinPathError
		require.ErrorAs(t, err, &join)
		assert.Equal(t, &domain.JoinPathError{From: "customers", To: "sales", Reason: domain.JoinPathNoPath}, join)
	})

	t.Run("datasets and health", func(t *testing.T) {
		infos, err := exec.Datasets(context.Background())
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, salesFields, infos[1].Fields)

		h, err := exec.Health(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ok", h.Status)
		assert.Equal(t, 2, h.Datasets)
	})

	t.Run("wrong token", func(t *testing.T) {
		_, err := grpcRemote(t, addr, "wrong").Query(context.Background(), domain.QueryRequest{DatasetID: "sales"})
		require.ErrorIs(t, err, compute.ErrUnauthorized)
	})
}

func TestComputeGRPCServer_RejectsUnsignedAndTampered(t *testing.T) {
	t.Parallel()
	addr := startGRPCAgent(t, NewMemoryBackend(compute.Engine{}, salesDataset()), nil)

	compute.EnsureGRPCJSONCodec()
	conn, err := grpc.NewClient(addr[len("grpc://"):],
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(compute.GRPCCodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	client := computeproto.NewComputeAgentClient(conn)

	_, err = client.Query(context.Background(), &computeproto.QueryRequest{DatasetId: "sales"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	signed := &computeproto.QueryRequest{DatasetId: "sales"}
	ctx := compute.SignOutgoingContext(context.Background(), testToken, computeproto.ComputeAgent_Query_FullMethodName, "", compute.QuerySigningPayload(signed), time.Now())
	signed.DatasetId = "customers"
	_, err = client.Query(ctx, signed)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := &computeproto.QueryRequest{DatasetId: "sales", Workflow: json.RawMessage(`[{"type":"teleport"}]`)}
	ctx = compute.SignOutgoingContext(context.Background(), testToken, computeproto.ComputeAgent_Query_FullMethodName, "", compute.QuerySigningPayload(bad), time.Now())
	out, err := client.Query(ctx, bad)
	require.NoError(t, err)
	assert.Equal(t, compute.CodeParse, out.ErrorCode)
}
