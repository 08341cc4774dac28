package apiv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CoordinationService_StartRound_FullMethodName    = "/dcore.v1.CoordinationService/StartRound"
	CoordinationService_PublishValues_FullMethodName = "/dcore.v1.CoordinationService/PublishValues"
	CoordinationService_GetValue_FullMethodName      = "/dcore.v1.CoordinationService/GetValue"
)

// CoordinationServiceClient is the client API for CoordinationService.
type CoordinationServiceClient interface {
	StartRound(ctx context.Context, in *StartRoundRequest, opts ...grpc.CallOption) (*StartRoundResponse, error)
	PublishValues(ctx context.Context, in *PublishValuesRequest, opts ...grpc.CallOption) (*PublishValuesResponse, error)
	GetValue(ctx context.Context, in *GetValueRequest, opts ...grpc.CallOption) (*GetValueResponse, error)
}

type coordinationServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCoordinationServiceClient(cc grpc.ClientConnInterface) CoordinationServiceClient {
	return &coordinationServiceClient{cc}
}

func (c *coordinationServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *coordinationServiceClient) StartRound(ctx context.Context, in *StartRoundRequest, opts ...grpc.CallOption) (*StartRoundResponse, error) {
	out := new(StartRoundResponse)
	if err := c.invoke(ctx, CoordinationService_StartRound_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinationServiceClient) PublishValues(ctx context.Context, in *PublishValuesRequest, opts ...grpc.CallOption) (*PublishValuesResponse, error) {
	out := new(PublishValuesResponse)
	if err := c.invoke(ctx, CoordinationService_PublishValues_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinationServiceClient) GetValue(ctx context.Context, in *GetValueRequest, opts ...grpc.CallOption) (*GetValueResponse, error) {
	out := new(GetValueResponse)
	if err := c.invoke(ctx, CoordinationService_GetValue_FullMethodName, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// CoordinationServiceServer is the server API for CoordinationService.
type CoordinationServiceServer interface {
	StartRound(context.Context, *StartRoundRequest) (*StartRoundResponse, error)
	PublishValues(context.Context, *PublishValuesRequest) (*PublishValuesResponse, error)
	GetValue(context.Context, *GetValueRequest) (*GetValueResponse, error)
}

// UnimplementedCoordinationServiceServer can be embedded for forward
// compatibility.
type UnimplementedCoordinationServiceServer struct{}

func (UnimplementedCoordinationServiceServer) StartRound(context.Context, *StartRoundRequest) (*StartRoundResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method StartRound not implemented")
}

func (UnimplementedCoordinationServiceServer) PublishValues(context.Context, *PublishValuesRequest) (*PublishValuesResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method PublishValues not implemented")
}

func (UnimplementedCoordinationServiceServer) GetValue(context.Context, *GetValueRequest) (*GetValueResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetValue not implemented")
}

func RegisterCoordinationServiceServer(s grpc.ServiceRegistrar, srv CoordinationServiceServer) {
	s.RegisterService(&CoordinationService_ServiceDesc, srv)
}

func _CoordinationService_StartRound_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartRoundRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinationServiceServer).StartRound(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CoordinationService_StartRound_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinationServiceServer).StartRound(ctx, req.(*StartRoundRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CoordinationService_PublishValues_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PublishValuesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinationServiceServer).PublishValues(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CoordinationService_PublishValues_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinationServiceServer).PublishValues(ctx, req.(*PublishValuesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CoordinationService_GetValue_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetValueRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CoordinationServiceServer).GetValue(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CoordinationService_GetValue_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CoordinationServiceServer).GetValue(ctx, req.(*GetValueRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CoordinationService_ServiceDesc is the grpc.ServiceDesc for
// CoordinationService.
var CoordinationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dcore.v1.CoordinationService",
	HandlerType: (*CoordinationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartRound", Handler: _CoordinationService_StartRound_Handler},
		{MethodName: "PublishValues", Handler: _CoordinationService_PublishValues_Handler},
		{MethodName: "GetValue", Handler: _CoordinationService_GetValue_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dcore/v1/coordination.proto",
}
