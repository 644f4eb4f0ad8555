// Command rpcd serves the example calc module on every transport:
//
//	TYPEDRPC_ADDR       framed TCP, advertised in etcd when TYPEDRPC_ETCD_ENDPOINTS is set
//	TYPEDRPC_HTTP_ADDR  POST /rpc, WebSocket /ws, JSON-RPC 2.0 /jsonrpc
//	TYPEDRPC_GRPC_ADDR  gRPC raw dispatch
//
// SIGINT or SIGTERM shuts every listener down gracefully.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"typed-rpc/codec"
	"typed-rpc/config"
	"typed-rpc/discovery"
	"typed-rpc/example/calc"
	"typed-rpc/logging"
	"typed-rpc/middleware"
	"typed-rpc/registry"
	"typed-rpc/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Fatal("setup failed", zap.Error(err))
	}
	if err := d.listen(); err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
	if err := d.serve(ctx); err != nil {
		logger.Fatal("rpcd stopped", zap.Error(err))
	}
	logger.Info("rpcd stopped")
}

type daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	dispatcher *server.Dispatcher
	phonebook  discovery.Registry // nil without etcd endpoints
	closeBook  func() error

	tcpLis, httpLis, grpcLis net.Listener
}

// newDaemon registers the calc module and builds the dispatcher with its
// middleware chain. Logging is outermost, so rate limited and timed out calls
// are logged too.
func newDaemon(cfg *config.Config, logger *zap.Logger) (*daemon, error) {
	reg := registry.New(logger)
	if err := calc.RegisterRemote(reg); err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.CallTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.CallTimeout))
	}

	d := &daemon{
		cfg:    cfg,
		logger: logger,
		dispatcher: server.NewDispatcher(reg, codec.GetCodec(cfg.Codec),
			server.WithLogger(logger),
			server.WithMiddleware(mws...),
		),
		closeBook: func() error { return nil },
	}
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints, logger)
		if err != nil {
			return nil, err
		}
		d.phonebook, d.closeBook = etcd, etcd.Close
	}
	return d, nil
}

// listen opens every enabled listener, so that addresses are known before serve.
func (d *daemon) listen() error {
	for _, l := range []struct {
		addr string
		lis  *net.Listener
	}{
		{d.cfg.Addr, &d.tcpLis},
		{d.cfg.HTTPAddr, &d.httpLis},
		{d.cfg.GRPCAddr, &d.grpcLis},
	} {
		if !config.Enabled(l.addr) {
			continue
		}
		lis, err := net.Listen("tcp", l.addr)
		if err != nil {
			d.closeListeners()
			return err
		}
		*l.lis = lis
	}
	if d.tcpLis == nil && d.httpLis == nil && d.grpcLis == nil {
		return errors.New("rpcd: every listener is disabled")
	}
	return nil
}

func (d *daemon) closeListeners() {
	for _, lis := range []net.Listener{d.tcpLis, d.httpLis, d.grpcLis} {
		if lis != nil {
			lis.Close()
		}
	}
}

// serve runs every listener until ctx is done or one of them fails, then
// shuts all of them down.
func (d *daemon) serve(ctx context.Context) error {
	defer d.closeBook()
	rpc, err := server.JSONRPCHandler(d.dispatcher)
	if err != nil {
		d.closeListeners()
		return err
	}
	g, ctx := errgroup.WithContext(ctx)

	if d.tcpLis != nil {
		svr := server.NewServer(d.dispatcher)
		g.Go(func() error {
			d.logger.Info("serving tcp", zap.Stringer("addr", d.tcpLis.Addr()), zap.Stringer("codec", d.dispatcher.Codec().Type()))
			return svr.ServeListener(d.tcpLis, d.cfg.Advertise, d.phonebook)
		})
		g.Go(func() error {
			<-ctx.Done()
			err := svr.Shutdown(d.cfg.ShutdownTimeout)
			// Shutdown may win the race against ServeListener
			d.tcpLis.Close()
			return err
		})
	}

	if d.httpLis != nil {
		mux := http.NewServeMux()
		mux.Handle("/rpc", server.HTTPHandler(d.dispatcher))
		mux.Handle("/ws", server.WebSocketHandler(d.dispatcher, nil))
		mux.Handle("/jsonrpc", rpc)
		hs := &http.Server{Handler: mux}
		g.Go(func() error {
			d.logger.Info("serving http", zap.Stringer("addr", d.httpLis.Addr()))
			if err := hs.Serve(d.httpLis); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	if d.grpcLis != nil {
		gs := server.NewGRPCServer(d.dispatcher)
		g.Go(func() error {
			d.logger.Info("serving grpc", zap.Stringer("addr", d.grpcLis.Addr()))
			if err := gs.Serve(d.grpcLis); !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
