package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCMethod is the full method name served by the dispatcher's gRPC server.
const GRPCMethod = "/typedrpc.Dispatcher/Dispatch"

// RawCodec passes payloads through gRPC untouched. Both sides force it, so no
// protobuf definitions are involved.
type RawCodec struct{}

func (RawCodec) Name() string { return "typedrpc-raw" }

func (RawCodec) Marshal(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		return *b, nil
	}
	return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
}

func (RawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// GRPC sends each payload as a unary call and queues the reply inbound.
// Receiving without a prior send fails with ErrEmptyTransport.
type GRPC struct {
	conn    *grpc.ClientConn
	inbound queue
	closed  atomic.Bool
}

// DialGRPC creates a client for target. Without options the connection is
// plaintext.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPC, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPC{conn: conn}, nil
}

func (g *GRPC) SendSync(payload []byte) error {
	return g.SendAsync(context.Background(), payload)
}

func (g *GRPC) SendAsync(ctx context.Context, payload []byte) error {
	if g.closed.Load() {
		return sendError(ErrClosed)
	}
	var reply []byte
	if err := g.conn.Invoke(ctx, GRPCMethod, &payload, &reply, grpc.ForceCodec(RawCodec{})); err != nil {
		return sendError(err)
	}
	g.inbound.push(reply)
	return nil
}

func (g *GRPC) RecvSync() ([]byte, error) {
	return g.RecvAsync(context.Background())
}

func (g *GRPC) RecvAsync(ctx context.Context) ([]byte, error) {
	if g.closed.Load() {
		return nil, recvError(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := g.inbound.pop()
	if !ok {
		return nil, recvError(ErrEmptyTransport)
	}
	return p, nil
}

func (g *GRPC) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.inbound.reset()
	return g.conn.Close()
}
