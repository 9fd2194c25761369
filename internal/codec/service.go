package codec

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire names of the sampling service. Requests and responses are
// google.protobuf.Struct values carrying the JSON form of engine.Request and
// engine.Samples, so any language with a protobuf runtime can serve them.
const (
	ServiceName  = "ssm.v1.SamplingEngine"
	SampleMethod = "/" + ServiceName + "/Sample"

	// MaxMessageBytes bounds a sample matrix on the wire.
	MaxMessageBytes = 256 << 20
)

// #region client-interface
// SamplingServiceClient is the client side of the sampling service.
type SamplingServiceClient interface {
	Sample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type samplingServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSamplingServiceClient binds the service to a connection.
func NewSamplingServiceClient(cc grpc.ClientConnInterface) SamplingServiceClient {
	return &samplingServiceClient{cc: cc}
}

func (c *samplingServiceClient) Sample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SampleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client-interface

// #region server-interface
// SamplingServiceServer is the server side of the sampling service.
type SamplingServiceServer interface {
	Sample(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSamplingServiceServer registers srv on s.
func RegisterSamplingServiceServer(s grpc.ServiceRegistrar, srv SamplingServiceServer) {
	s.RegisterService(&samplingServiceDesc, srv)
}

var samplingServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SamplingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Sample", Handler: sampleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ssm/v1/sampling.proto",
}

func sampleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SamplingServiceServer).Sample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SampleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SamplingServiceServer).Sample(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion server-interface
