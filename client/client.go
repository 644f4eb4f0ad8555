// Package client resolves module names to dispatchers and binds stubs to them.
//
//	Stub(module) / stub.ForModule(module) → Bind(module)
//	  → discovery.Discover(module) → Balancer.Pick(module, instances)
//	  → per-address idle transport.Pool → borrowed transport held by the stub
//
// A borrowed transport is returned to its pool when the stub is closed, and
// discarded when it failed, so the next call rebinds to a live instance.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"typed-rpc/codec"
	"typed-rpc/config"
	"typed-rpc/discovery"
	"typed-rpc/loadbalance"
	"typed-rpc/stub"
	"typed-rpc/transport"
)

// ErrClosed is returned by Bind after Close.
var ErrClosed = errors.New("client closed")

type Client struct {
	registry    discovery.Registry // find dispatcher instances from discovery
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	poolSize    int
	dialTimeout time.Duration
	logger      *zap.Logger

	mu     sync.Mutex
	pools  map[string]*transport.Pool // transports for each dispatcher instance
	stubs  map[string]*stub.Stub
	closed bool
}

type Option func(*Client)

func WithCodec(t codec.CodecType) Option { return func(c *Client) { c.codecType = t } }

// WithPoolSize bounds the idle transports kept for one instance. Every bound
// stub holds a transport of its own, so the number of modules served by an
// instance is not limited by the pool size.
func WithPoolSize(n int) Option { return func(c *Client) { c.poolSize = n } }

func WithDialTimeout(d time.Duration) Option { return func(c *Client) { c.dialTimeout = d } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func NewClient(reg discovery.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    bal,
		codecType:   codec.CodecTypeJSON,
		poolSize:    4,
		dialTimeout: 5 * time.Second,
		logger:      zap.NewNop(),
		pools:       make(map[string]*transport.Pool),
		stubs:       make(map[string]*stub.Stub),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a client with the balancer, codec, pool size and dial
// timeout of cfg.
func FromConfig(cfg *config.Config, reg discovery.Registry, logger *zap.Logger) (*Client, error) {
	bal, err := loadbalance.New(cfg.Balancer)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewClient(reg, bal,
		WithCodec(cfg.Codec),
		WithPoolSize(cfg.PoolSize),
		WithDialTimeout(cfg.DialTimeout),
		WithLogger(logger),
	), nil
}

// Install makes c the binder of every stub created with stub.ForModule,
// including the ones declared by generated code.
func (c *Client) Install() {
	stub.SetBinder(c)
}

// Stub returns the lazily bound stub of module, creating it on first use.
func (c *Client) Stub(module string) *stub.Stub {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stubs[module]
	if !ok {
		s = stub.ForModule(module, stub.WithLogger(c.logger), stub.WithBinder(c))
		c.stubs[module] = s
	}
	return s
}

// Bind implements stub.Binder: it picks a live instance of module and borrows
// a transport to it.
func (c *Client) Bind(module string) (transport.Transport, codec.Codec, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()

	// Get dispatcher instances from discovery
	instances, err := c.registry.Discover(ctx, module)
	if err != nil {
		return nil, nil, fmt.Errorf("client: discover %s: %w", module, err)
	}

	// Select an instance using load balancer
	instance, err := c.balancer.Pick(module, instances)
	if err != nil {
		return nil, nil, fmt.Errorf("client: module %s: %w", module, err)
	}

	pool, err := c.pool(*instance)
	if err != nil {
		return nil, nil, err
	}
	t, err := pool.Get(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("client: %s at %s: %w", module, instance.Addr, err)
	}
	c.logger.Debug("stub bound",
		zap.String("module", module),
		zap.String("instance", instance.ID),
		zap.String("addr", instance.Addr),
		zap.String("network", instance.Network),
		zap.String("balancer", c.balancer.Name()),
	)
	return t, codec.GetCodec(c.codecType), nil
}

func (c *Client) pool(inst discovery.ServiceInstance) (*transport.Pool, error) {
	key := inst.Network + "://" + inst.Addr
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if p, ok := c.pools[key]; ok {
		return p, nil
	}
	factory, err := c.factory(inst)
	if err != nil {
		return nil, err
	}
	p := transport.NewIdlePool(c.poolSize, factory)
	c.pools[key] = p
	return p, nil
}

// factory builds transports for the network an instance advertises. Addr is
// host:port for tcp and grpc, a full URL for http and ws.
func (c *Client) factory(inst discovery.ServiceInstance) (func(ctx context.Context) (transport.Transport, error), error) {
	switch inst.Network {
	case "", discovery.NetworkTCP:
		return func(ctx context.Context) (transport.Transport, error) {
			return transport.Dial(ctx, inst.Addr, c.codecType)
		}, nil
	case discovery.NetworkHTTP:
		return func(context.Context) (transport.Transport, error) {
			return transport.NewHTTP(inst.Addr), nil
		}, nil
	case discovery.NetworkWebSocket:
		return func(ctx context.Context) (transport.Transport, error) {
			return transport.DialWebSocket(ctx, inst.Addr)
		}, nil
	case discovery.NetworkGRPC:
		return func(context.Context) (transport.Transport, error) {
			return transport.DialGRPC(inst.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}, nil
	}
	return nil, fmt.Errorf("client: instance %s: unsupported network %q", inst.ID, inst.Network)
}

// Close unbinds every stub created by Stub and closes the pools.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stubs := c.stubs
	pools := c.pools
	c.stubs = map[string]*stub.Stub{}
	c.pools = map[string]*transport.Pool{}
	c.mu.Unlock()

	var errs []error
	for _, s := range stubs {
		errs = append(errs, s.Close())
	}
	for _, p := range pools {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
