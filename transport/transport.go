// Package transport moves opaque payloads between a stub and a dispatcher.
//
// A Transport has one inbound and one outbound FIFO. It never inspects what it
// carries: correlation, typing and error mapping live in the stub and the
// dispatcher. Implementations differ only in what happens when the inbound
// queue is empty:
//
//	Loopback   fails immediately with ErrEmptyTransport (in-process, tests)
//	HTTP, GRPC fail with ErrEmptyTransport; each send queues its reply
//	Conn       blocks until a frame arrives (TCP, protocol frames)
//	WebSocket  blocks until a message arrives
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Transport is a bidirectional payload channel.
type Transport interface {
	SendSync(payload []byte) error
	RecvSync() ([]byte, error)
	SendAsync(ctx context.Context, payload []byte) error
	RecvAsync(ctx context.Context) ([]byte, error)
	Close() error
}

var (
	// ErrEmptyTransport is returned by non-blocking transports when nothing is queued.
	ErrEmptyTransport = errors.New("no payload queued")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// TransportError wraps every failure surfaced by a Transport.
type TransportError struct {
	Op  string // "send" or "recv"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func sendError(err error) error { return &TransportError{Op: "send", Err: err} }
func recvError(err error) error { return &TransportError{Op: "recv", Err: err} }

// queue is a mutex-guarded FIFO of payloads.
type queue struct {
	mu    sync.Mutex
	items [][]byte
}

func (q *queue) push(p []byte) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

func (q *queue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) reset() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}
