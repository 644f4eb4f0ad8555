package transport

import (
	"context"
	"errors"
	"sync/atomic"
)

// Loopback is an in-memory Transport. Two instances created by NewPair share
// their queues crosswise: what one sends, the other receives.
//
// Receiving from an empty queue fails at once with ErrEmptyTransport, so a
// test has to make sure the peer produced something first. OnSend installs a
// hook that runs after every send, typically a Dispatcher.ServeOne on the
// peer, which makes a synchronous round trip possible in one goroutine.
type Loopback struct {
	in     *queue
	out    *queue
	closed atomic.Bool
	onSend atomic.Pointer[func(ctx context.Context) error]
}

// NewPair creates two connected loopback transports.
func NewPair() (client, server *Loopback) {
	a, b := &queue{}, &queue{}
	return &Loopback{in: a, out: b}, &Loopback{in: b, out: a}
}

// OnSend registers fn to run after each successful send. A nil fn removes it.
// An error of fn is returned by the send as a *TransportError.
func (l *Loopback) OnSend(fn func(ctx context.Context) error) {
	if fn == nil {
		l.onSend.Store(nil)
		return
	}
	l.onSend.Store(&fn)
}

// Pending returns the number of payloads waiting in the inbound queue.
func (l *Loopback) Pending() int {
	return l.in.len()
}

func (l *Loopback) SendSync(payload []byte) error {
	return l.SendAsync(context.Background(), payload)
}

func (l *Loopback) SendAsync(ctx context.Context, payload []byte) error {
	if l.closed.Load() {
		return sendError(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return sendError(err)
	}
	l.out.push(append([]byte(nil), payload...))
	if hook := l.onSend.Load(); hook != nil {
		if err := (*hook)(ctx); err != nil {
			var te *TransportError
			if errors.As(err, &te) {
				return err
			}
			return sendError(err)
		}
	}
	return nil
}

func (l *Loopback) RecvSync() ([]byte, error) {
	return l.RecvAsync(context.Background())
}

func (l *Loopback) RecvAsync(ctx context.Context) ([]byte, error) {
	if l.closed.Load() {
		return nil, recvError(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := l.in.pop()
	if !ok {
		return nil, recvError(ErrEmptyTransport)
	}
	return p, nil
}

// Close marks this end closed and discards its inbound queue.
func (l *Loopback) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.in.reset()
	return nil
}
