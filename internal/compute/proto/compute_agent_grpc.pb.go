package computeproto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ComputeAgent_Query_FullMethodName        = "/vizflow.compute.v1.ComputeAgent/Query"
	ComputeAgent_Health_FullMethodName       = "/vizflow.compute.v1.ComputeAgent/Health"
	ComputeAgent_ListDatasets_FullMethodName = "/vizflow.compute.v1.ComputeAgent/ListDatasets"
)

type ComputeAgentClient interface {
	Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error)
	Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
	ListDatasets(ctx context.Context, in *ListDatasetsRequest, opts ...grpc.CallOption) (*ListDatasetsResponse, error)
}

type computeAgentClient struct {
	cc grpc.ClientConnInterface
}

func NewComputeAgentClient(cc grpc.ClientConnInterface) ComputeAgentClient {
	return &computeAgentClient{cc: cc}
}

func (c *computeAgentClient) Query(ctx context.Context, in *QueryRequest, opts ...grpc.CallOption) (*QueryResponse, error) {
	out := new(QueryResponse)
	if err := c.cc.Invoke(ctx, ComputeAgent_Query_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *computeAgentClient) Health(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, ComputeAgent_Health_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *computeAgentClient) ListDatasets(ctx context.Context, in *ListDatasetsRequest, opts ...grpc.CallOption) (*ListDatasetsResponse, error) {
	out := new(ListDatasetsResponse)
	if err := c.cc.Invoke(ctx, ComputeAgent_ListDatasets_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type ComputeAgentServer interface {
	Query(context.Context, *QueryRequest) (*QueryResponse, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	ListDatasets(context.Context, *ListDatasetsRequest) (*ListDatasetsResponse, error)
	mustEmbedUnimplementedComputeAgentServer()
}

type UnimplementedComputeAgentServer struct{}

func (UnimplementedComputeAgentServer) Query(context.Context, *QueryRequest) (*QueryResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Query not implemented")
}
func (UnimplementedComputeAgentServer) Health(context.Context, *HealthRequest) (*HealthResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Health not implemented")
}
func (UnimplementedComputeAgentServer) ListDatasets(context.Context, *ListDatasetsRequest) (*ListDatasetsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListDatasets not implemented")
}
func (UnimplementedComputeAgentServer) mustEmbedUnimplementedComputeAgentServer() {}

func RegisterComputeAgentServer(s grpc.ServiceRegistrar, srv ComputeAgentServer) {
	s.RegisterService(&ComputeAgent_ServiceDesc, srv)
}

func _ComputeAgent_Query_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComputeAgentServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeAgent_Query_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ComputeAgentServer).Query(ctx, req.(*QueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ComputeAgent_Health_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComputeAgentServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeAgent_Health_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ComputeAgentServer).Health(ctx, req.(*HealthRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ComputeAgent_ListDatasets_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListDatasetsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ComputeAgentServer).ListDatasets(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ComputeAgent_ListDatasets_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ComputeAgentServer).ListDatasets(ctx, req.(*ListDatasetsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ComputeAgent_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "vizflow.compute.v1.ComputeAgent",
	HandlerType: (*ComputeAgentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: _ComputeAgent_Query_Handler},
		{MethodName: "Health", Handler: _ComputeAgent_Health_Handler},
		{MethodName: "ListDatasets", Handler: _ComputeAgent_ListDatasets_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/compute/proto/compute_agent.proto",
}
