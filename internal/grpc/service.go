// Package grpc carries the wire transport for a RemoteHandler (SPEC_FULL.md
// §4.6 port addition): a Handler capability backed by an out-of-process
// gRPC executor instead of a local closure. Grounded on the teacher's
// internal/grpc package (server.go's registration shape, interceptors.go's
// logging interceptor), trimmed down to the single Handle RPC this core
// needs and pointed at the dispatcher's Handler contract instead of the
// teacher's function-invocation RPC surface.
//
// The service descriptor below is hand-declared rather than protoc-generated
// (no .proto toolchain is run by this build), but the wire messages are the
// real, pre-generated google.golang.org/protobuf well-known type
// structpb.Struct, so marshaling goes through the genuine protobuf codec
// grpc uses by default — not a bespoke codec. See DESIGN.md for why
// structpb was chosen over hand-authoring protoc-gen-go output.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// HandlerServiceServer is implemented by the process hosting the actual
// Handler logic (the "executor").
type HandlerServiceServer interface {
	Handle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// HandlerServiceClient is implemented by the dispatcher-side stub that
// proxies Handle calls to a remote executor.
type HandlerServiceClient interface {
	Handle(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

const handlerServiceName = "relay.HandlerService"

// HandlerServiceDesc is the grpc.ServiceDesc a HandlerServiceServer
// implementation registers with a *grpc.Server, mirroring the shape
// protoc-gen-go-grpc would emit for a one-method service.
var HandlerServiceDesc = grpc.ServiceDesc{
	ServiceName: handlerServiceName,
	HandlerType: (*HandlerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Handle",
			Handler:    handlerServiceHandleHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/internal/grpc/service.go",
}

func handlerServiceHandleHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HandlerServiceServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + handlerServiceName + "/Handle",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HandlerServiceServer).Handle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterHandlerServiceServer registers srv on s under HandlerServiceDesc.
func RegisterHandlerServiceServer(s *grpc.Server, srv HandlerServiceServer) {
	s.RegisterService(&HandlerServiceDesc, srv)
}

type handlerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewHandlerServiceClient adapts any grpc.ClientConnInterface (typically a
// *grpc.ClientConn dialed by internal/executor.NewRemoteHandler) into a
// HandlerServiceClient.
func NewHandlerServiceClient(cc grpc.ClientConnInterface) HandlerServiceClient {
	return &handlerServiceClient{cc: cc}
}

func (c *handlerServiceClient) Handle(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+handlerServiceName+"/Handle", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
