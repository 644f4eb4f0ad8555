package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"typed-rpc/discovery"
	"typed-rpc/transport"
)

// DefaultTTL is the discovery lease of advertised modules, renewed by keepalive.
const DefaultTTL = 10

// Server accepts TCP connections and feeds their frames to a Dispatcher.
//
//	Accept conn → handleConn (transport.Conn readLoop owns the read side)
//	  → for each request: go handleRequest (parallel processing)
//	    → Dispatcher.Dispatch → Conn.SendAsync (write lock inside Conn)
type Server struct {
	dispatcher    *Dispatcher
	logger        *zap.Logger
	listener      net.Listener
	wg            sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool    // Set during shutdown to suppress Accept errors
	ctx           context.Context
	cancel        context.CancelFunc
	mu            sync.Mutex
	conns         map[*transport.Conn]struct{}
	registry      discovery.Registry // nil if not using discovery
	advertiseAddr string             // Routable address registered in discovery, e.g. "127.0.0.1:8080"
	instance      discovery.ServiceInstance
}

func NewServer(d *Dispatcher) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dispatcher: d,
		logger:     d.Logger(),
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[*transport.Conn]struct{}),
	}
}

// Serve listens on address, optionally advertises every registered module
// in reg, and enters the Accept loop.
//
// Parameters:
//   - advertiseAddr: the address to register in discovery (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" is not routable.
//   - reg: the discovery registry. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg discovery.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg discovery.Registry) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()

	if reg != nil {
		if advertiseAddr == "" {
			advertiseAddr = listener.Addr().String()
		}
		if err := svr.advertise(advertiseAddr, reg); err != nil {
			listener.Close()
			return err
		}
	}

	svr.logger.Info("tcp server listening", zap.Stringer("addr", listener.Addr()),
		zap.Stringer("codec", svr.dispatcher.Codec().Type()))

	// Accept loop: one goroutine per connection
	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail; that is not an error
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

func (svr *Server) advertise(addr string, reg discovery.Registry) error {
	svr.mu.Lock()
	svr.registry = reg
	svr.advertiseAddr = addr
	svr.instance = discovery.NewInstance(addr)
	svr.mu.Unlock()
	for _, module := range svr.dispatcher.Registry().Modules() {
		if err := reg.Register(svr.ctx, module, svr.instance, DefaultTTL); err != nil {
			return fmt.Errorf("advertise %s: %w", module, err)
		}
		svr.logger.Info("module advertised", zap.String("module", module), zap.String("addr", addr))
	}
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn reads requests from one connection and dispatches each one in
// its own goroutine, so a slow function does not block the connection.
func (svr *Server) handleConn(nc net.Conn) {
	conn := transport.NewServerConn(nc, svr.dispatcher.Codec().Type())
	svr.mu.Lock()
	svr.conns[conn] = struct{}{}
	svr.mu.Unlock()
	defer func() {
		svr.mu.Lock()
		delete(svr.conns, conn)
		svr.mu.Unlock()
		conn.Close()
	}()

	for {
		payload, err := conn.RecvAsync(svr.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, transport.ErrClosed) && svr.ctx.Err() == nil {
				svr.logger.Debug("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		svr.wg.Add(1)
		go svr.handleRequest(conn, payload)
	}
}

func (svr *Server) handleRequest(conn *transport.Conn, payload []byte) {
	defer svr.wg.Done()

	out, err := svr.dispatcher.Dispatch(svr.ctx, payload)
	if err != nil {
		return
	}
	if err := conn.SendAsync(svr.ctx, out); err != nil {
		svr.logger.Warn("write response failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister all modules from discovery (clients stop picking this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	reg, addr := svr.registry, svr.advertiseAddr
	svr.mu.Unlock()
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, module := range svr.dispatcher.Registry().Modules() {
			if err := reg.Deregister(ctx, module, addr); err != nil {
				svr.logger.Warn("deregister failed", zap.String("module", module), zap.Error(err))
			}
		}
		cancel()
	}

	svr.shutdown.Store(true)
	svr.mu.Lock()
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.cancel()
	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
