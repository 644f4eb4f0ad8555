package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"typed-rpc/codec"
	"typed-rpc/protocol"
)

// DefaultHeartbeat is the idle heartbeat interval of client connections.
const DefaultHeartbeat = 30 * time.Second

// Conn carries payloads over a stream connection using protocol frames.
//
// A background readLoop owns the read side: TCP is a byte stream, frames must
// be parsed sequentially, so a single goroutine decodes them and pushes bodies
// into the inbound channel. Writers share the connection through the sending
// mutex so a header is never followed by another frame's body.
//
//	caller ──SendAsync──┐                       ┌── readLoop ──→ inbound ──→ RecvAsync
//	caller ──SendAsync──┼──→ single TCP conn ───┤
//	heartbeatLoop ──────┘                       └── heartbeats are discarded
type Conn struct {
	conn      net.Conn
	codecType codec.CodecType
	msgType   protocol.MsgType // Type stamped on outbound frames
	sending   sync.Mutex       // Serializes frame writes
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
	err       error // Why done was closed, readable after <-done
}

// NewClientConn wraps conn for the calling side: outbound frames are requests
// and a heartbeat is sent every DefaultHeartbeat.
func NewClientConn(conn net.Conn, codecType codec.CodecType) *Conn {
	c := newConn(conn, codecType, protocol.MsgTypeRequest)
	go c.heartbeatLoop(DefaultHeartbeat)
	return c
}

// NewServerConn wraps an accepted conn: outbound frames are responses.
func NewServerConn(conn net.Conn, codecType codec.CodecType) *Conn {
	return newConn(conn, codecType, protocol.MsgTypeResponse)
}

// Dial connects to a dispatcher listening on addr.
func Dial(ctx context.Context, addr string, codecType codec.CodecType) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientConn(conn, codecType), nil
}

func newConn(conn net.Conn, codecType codec.CodecType, msgType protocol.MsgType) *Conn {
	c := &Conn{
		conn:      conn,
		codecType: codecType,
		msgType:   msgType,
		inbound:   make(chan []byte, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Done is closed once the connection is broken or closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) SendSync(payload []byte) error {
	return c.SendAsync(context.Background(), payload)
}

func (c *Conn) SendAsync(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return sendError(c.err)
	default:
	}
	if err := ctx.Err(); err != nil {
		return sendError(err)
	}

	header := protocol.Header{
		CodecType: byte(c.codecType),
		MsgType:   c.msgType,
		BodyLen:   uint32(len(payload)),
	}

	c.sending.Lock()
	defer c.sending.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if err := protocol.Encode(c.conn, &header, payload); err != nil {
		c.shutdown(err)
		return sendError(err)
	}
	return nil
}

func (c *Conn) RecvSync() ([]byte, error) {
	return c.RecvAsync(context.Background())
}

func (c *Conn) RecvAsync(ctx context.Context) ([]byte, error) {
	// Drain what already arrived before reporting a broken connection
	select {
	case p := <-c.inbound:
		return p, nil
	default:
	}
	select {
	case p := <-c.inbound:
		return p, nil
	case <-c.done:
		select {
		case p := <-c.inbound:
			return p, nil
		default:
		}
		return nil, recvError(c.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

// readLoop decodes frames until the connection breaks and queues their bodies.
func (c *Conn) readLoop() {
	for {
		header, body, err := protocol.Decode(c.conn)
		if err != nil {
			c.shutdown(err)
			c.conn.Close()
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		select {
		case c.inbound <- body:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop keeps idle connections alive and detects dead peers early.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-c.done:
			return
		}
		header := &protocol.Header{
			CodecType: byte(c.codecType),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		c.sending.Lock()
		err := protocol.Encode(c.conn, header, nil)
		c.sending.Unlock()
		if err != nil {
			c.shutdown(err)
			return
		}
	}
}
