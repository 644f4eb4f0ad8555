package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"typed-rpc/transport"
)

// NewGRPCServer returns a gRPC server answering transport.GRPCMethod with
// raw payloads. No protobuf service is registered: an unknown-service handler
// receives every call and rejects other method names.
func NewGRPCServer(d *Dispatcher, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ForceServerCodec(transport.RawCodec{}),
		grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
			method, _ := grpc.MethodFromServerStream(stream)
			if method != transport.GRPCMethod {
				return status.Errorf(codes.Unimplemented, "unknown method %s", method)
			}
			var payload []byte
			if err := stream.RecvMsg(&payload); err != nil {
				return err
			}
			out, err := d.Dispatch(stream.Context(), payload)
			if err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			return stream.SendMsg(&out)
		}),
	)
	return grpc.NewServer(opts...)
}
