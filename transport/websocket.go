package transport

import (
	"context"
	"sync"

	"nhooyr.io/websocket"

	"typed-rpc/protocol"
)

// WebSocket carries one payload per binary message.
//
// A background goroutine owns the read side: nhooyr closes the connection
// when the context of a pending Read is cancelled, so callers never read
// directly and an abandoned RecvAsync leaves the connection intact.
type WebSocket struct {
	conn      *websocket.Conn
	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// DialWebSocket connects to a dispatcher WebSocket endpoint such as ws://host/rpc/ws.
func DialWebSocket(ctx context.Context, url string) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection, either dialed or accepted.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(int64(protocol.MaxBodyLen))
	w := &WebSocket{
		conn:    conn,
		inbound: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// Done is closed once the connection is broken or closed.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}

func (w *WebSocket) SendSync(payload []byte) error {
	return w.SendAsync(context.Background(), payload)
}

func (w *WebSocket) SendAsync(ctx context.Context, payload []byte) error {
	select {
	case <-w.done:
		return sendError(w.err)
	default:
	}
	if err := w.conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		return sendError(err)
	}
	return nil
}

func (w *WebSocket) RecvSync() ([]byte, error) {
	return w.RecvAsync(context.Background())
}

func (w *WebSocket) RecvAsync(ctx context.Context) ([]byte, error) {
	select {
	case p := <-w.inbound:
		return p, nil
	default:
	}
	select {
	case p := <-w.inbound:
		return p, nil
	case <-w.done:
		select {
		case p := <-w.inbound:
			return p, nil
		default:
		}
		return nil, recvError(w.err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WebSocket) Close() error {
	w.shutdown(ErrClosed)
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

func (w *WebSocket) shutdown(err error) {
	w.closeOnce.Do(func() {
		w.err = err
		close(w.done)
	})
}

func (w *WebSocket) readLoop() {
	for {
		typ, data, err := w.conn.Read(context.Background())
		if err != nil {
			w.shutdown(err)
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		select {
		case w.inbound <- data:
		case <-w.done:
			return
		}
	}
}
