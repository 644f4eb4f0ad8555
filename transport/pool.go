package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Pool hands out transports to one address for exclusive use.
//
// A stub reads its transport through a read token, so two stubs must never
// share one transport. Pool lends each transport to a single borrower and
// takes it back on Close. Transports that failed are discarded instead of
// returned, and replaced lazily.
//
// The pool is a buffered channel: FIFO, goroutine-safe, blocking on empty.
// A pool made by NewIdlePool never blocks: it keeps a bounded number of idle
// transports and closes the surplus.
type Pool struct {
	mu       sync.Mutex
	idle     chan *PooledTransport
	maxConns int // 0: no limit on live transports
	curConns int
	closed   bool
	factory  func(ctx context.Context) (Transport, error)
}

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("transport pool closed")

// PooledTransport is a borrowed Transport. Close returns it to the pool.
type PooledTransport struct {
	Transport
	pool     *Pool
	mu       sync.Mutex
	unusable bool
	returned bool
}

// NewPool creates a pool of at most maxConns transports built by factory.
// Transports are created on demand.
func NewPool(maxConns int, factory func(ctx context.Context) (Transport, error)) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		idle:     make(chan *PooledTransport, maxConns),
		maxConns: maxConns,
		factory:  factory,
	}
}

// NewIdlePool creates a pool without a limit on borrowed transports. At most
// maxIdle returned transports are kept for reuse.
func NewIdlePool(maxIdle int, factory func(ctx context.Context) (Transport, error)) *Pool {
	if maxIdle <= 0 {
		maxIdle = 1
	}
	return &Pool{
		idle:    make(chan *PooledTransport, maxIdle),
		factory: factory,
	}
}

// Get borrows a transport:
//  1. an idle one if available
//  2. a new one if under the limit
//  3. otherwise it waits for a Close or for ctx
func (p *Pool) Get(ctx context.Context) (*PooledTransport, error) {
	select {
	case pt, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return pt.reuse(), nil
	default:
	}

	if pt, created, err := p.tryCreate(ctx); created {
		return pt, err
	}

	select {
	case pt, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return pt.reuse(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryCreate builds a new transport if the pool is below its limit.
// created is false when the caller has to wait for an idle one.
func (p *Pool) tryCreate(ctx context.Context) (pt *PooledTransport, created bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, true, ErrPoolClosed
	}
	if p.maxConns > 0 && p.curConns >= p.maxConns {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.curConns++
	p.mu.Unlock()

	t, err := p.factory(ctx)
	if err != nil {
		p.release()
		return nil, true, fmt.Errorf("transport pool: %w", err)
	}
	return &PooledTransport{Transport: t, pool: p}, true, nil
}

func (p *Pool) release() {
	p.mu.Lock()
	p.curConns--
	p.mu.Unlock()
}

// Size returns the number of live transports, borrowed or idle.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.curConns
}

// put returns pt to the pool, or discards it if it failed or the pool is closed.
func (p *Pool) put(pt *PooledTransport) error {
	pt.mu.Lock()
	unusable := pt.unusable
	pt.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if unusable || p.closed {
		p.curConns--
		return pt.Transport.Close()
	}
	select {
	case p.idle <- pt:
		return nil
	default:
		// Surplus of an idle pool
		p.curConns--
		return pt.Transport.Close()
	}
}

// Close shuts the pool and closes idle transports. Borrowed ones are closed
// when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.idle)
	var errs []error
	for pt := range p.idle {
		errs = append(errs, pt.Transport.Close())
		p.curConns--
	}
	return errors.Join(errs...)
}

func (pt *PooledTransport) reuse() *PooledTransport {
	pt.mu.Lock()
	pt.returned = false
	pt.mu.Unlock()
	return pt
}

// MarkUnusable makes Close discard the transport instead of returning it.
func (pt *PooledTransport) MarkUnusable() {
	pt.mu.Lock()
	pt.unusable = true
	pt.mu.Unlock()
}

func (pt *PooledTransport) SendSync(payload []byte) error {
	return pt.check(pt.Transport.SendSync(payload))
}

func (pt *PooledTransport) SendAsync(ctx context.Context, payload []byte) error {
	return pt.check(pt.Transport.SendAsync(ctx, payload))
}

func (pt *PooledTransport) RecvSync() ([]byte, error) {
	p, err := pt.Transport.RecvSync()
	return p, pt.check(err)
}

func (pt *PooledTransport) RecvAsync(ctx context.Context) ([]byte, error) {
	p, err := pt.Transport.RecvAsync(ctx)
	return p, pt.check(err)
}

// check marks the transport unusable on failures other than an empty queue.
func (pt *PooledTransport) check(err error) error {
	var te *TransportError
	if errors.As(err, &te) && !errors.Is(err, ErrEmptyTransport) {
		pt.MarkUnusable()
	}
	return err
}

// Close returns the transport to its pool. Closing twice is a no-op.
func (pt *PooledTransport) Close() error {
	pt.mu.Lock()
	if pt.returned {
		pt.mu.Unlock()
		return nil
	}
	pt.returned = true
	pt.mu.Unlock()
	return pt.pool.put(pt)
}
