// Package server implements the serving side: the Dispatcher that turns an
// encoded request into an encoded response, and the listeners that feed it.
//
// Request processing pipeline:
//
//	payload → decode seq, module, function → Registry lookup → decode args
//	  → Middleware Chain → Function.Call (reflect) → encode response → payload
//
// A failure after the seq slot is decoded always becomes an exception
// response, so the caller waiting on that seq is answered. Only a payload
// without a readable seq is reported to the listener as an error.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"typed-rpc/codec"
	"typed-rpc/message"
	"typed-rpc/middleware"
	"typed-rpc/registry"
	"typed-rpc/transport"
)

// Dispatcher decodes requests, invokes registered functions and encodes
// responses. It is safe for concurrent use.
type Dispatcher struct {
	reg    *registry.Registry
	cdc    codec.Codec
	logger *zap.Logger

	mu          sync.RWMutex
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(d *Dispatcher) { d.middlewares = append(d.middlewares, mws...) }
}

func NewDispatcher(reg *registry.Registry, cdc codec.Codec, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		cdc:    cdc,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.handler = middleware.Chain(d.middlewares...)(d.businessHandler)
	return d
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
	// Build the chain once here, not per request
	d.handler = middleware.Chain(d.middlewares...)(d.businessHandler)
}

func (d *Dispatcher) Codec() codec.Codec { return d.cdc }

func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

func (d *Dispatcher) Logger() *zap.Logger { return d.logger }

// Dispatch handles one request payload and returns the response payload.
// The returned error is a *codec.DecodeError when the payload does not even
// start with a sequence number; there is nobody to answer in that case.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) ([]byte, error) {
	dec := d.cdc.NewDecoder(payload)
	seq, err := message.DecodeSeq(dec)
	if err != nil {
		d.logger.Warn("undecodable request", zap.Int("bytes", len(payload)), zap.Error(err))
		return nil, err
	}

	req := &message.Request{Seq: seq}
	resp, fn := d.decodeAndInvoke(ctx, dec, req)
	return d.encode(resp, fn)
}

func (d *Dispatcher) decodeAndInvoke(ctx context.Context, dec codec.Decoder, req *message.Request) (*message.Response, *registry.Function) {
	if err := message.DecodeRequestHeader(dec, req); err != nil {
		d.logger.Warn("undecodable request header", zap.Uint64("seq", req.Seq), zap.Error(err))
		return message.Exception(req.Seq, "invalid request: %v", err), nil
	}

	fn, err := d.reg.Lookup(req.Module, req.Function)
	if err != nil {
		d.logger.Warn("call to unknown function", zap.String("method", req.Method()), zap.Error(err))
		return message.Exception(req.Seq, "%v", err), nil
	}

	if err := message.DecodeArgs(dec, req, fn.TypedFunction); err != nil {
		return message.Exception(req.Seq, "invalid arguments for %s: %v", fn.Signature(), err), nil
	}
	if dec.Remaining() != 0 {
		return message.Exception(req.Seq, "invalid arguments for %s: unexpected trailing data", fn.Signature()), nil
	}

	return d.Invoke(ctx, req), fn
}

// encode serializes resp, replacing it with an exception when the result
// does not match the declared return type.
func (d *Dispatcher) encode(resp *message.Response, fn *registry.Function) ([]byte, error) {
	enc := d.cdc.NewEncoder()
	if resp.Status == message.StatusOK && fn != nil {
		err := message.EncodeResponse(enc, resp, fn.Return)
		if err == nil {
			return enc.Buffer(), nil
		}
		d.logger.Error("encode result failed", zap.String("signature", fn.Signature()), zap.Error(err))
		resp = message.Exception(resp.Seq, "encode result: %v", err)
		enc = d.cdc.NewEncoder()
	}
	if resp.Status == message.StatusOK {
		resp = message.Exception(resp.Seq, "internal error: result without function")
	}
	if err := message.EncodeResponse(enc, resp, nil); err != nil {
		return nil, fmt.Errorf("encode exception: %w", err)
	}
	return enc.Buffer(), nil
}

// Invoke runs a decoded request through the middleware chain. The response
// always carries req.Seq.
func (d *Dispatcher) Invoke(ctx context.Context, req *message.Request) *message.Response {
	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()

	resp := handler(ctx, req)
	if resp == nil {
		resp = message.Exception(req.Seq, "no response")
	}
	resp.Seq = req.Seq
	return resp
}

// businessHandler is the innermost handler of the chain.
func (d *Dispatcher) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	fn, err := d.reg.Lookup(req.Module, req.Function)
	if err != nil {
		return message.Exception(req.Seq, "%v", err)
	}
	result, err := fn.Call(ctx, req.Args)
	if err != nil {
		return message.Exception(req.Seq, "%v", err)
	}
	return message.OK(req.Seq, result)
}

// ServeOne receives one request from t, dispatches it and sends the response.
// With a Loopback it is the natural OnSend hook of the peer.
func (d *Dispatcher) ServeOne(ctx context.Context, t transport.Transport) error {
	payload, err := t.RecvAsync(ctx)
	if err != nil {
		return err
	}
	out, err := d.Dispatch(ctx, payload)
	if err != nil {
		return err
	}
	return t.SendAsync(ctx, out)
}

// Serve pumps requests from a blocking transport until it fails or ctx is
// done. Requests are dispatched in parallel; Serve waits for them before
// returning. Undecodable payloads are logged and skipped.
func (d *Dispatcher) Serve(ctx context.Context, t transport.Transport) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		payload, err := t.RecvAsync(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Dispatch(ctx, payload)
			if err != nil {
				return
			}
			if err := t.SendAsync(ctx, out); err != nil {
				d.logger.Warn("send response failed", zap.Error(err))
			}
		}()
	}
}
