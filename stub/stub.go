// Package stub turns local calls into remote invocations.
//
// Call pipeline:
//
//	Invoke/InvokeAsync → encode (seq, module, function, args) → Transport send
//	  → wait: either our response is routed to us by another reader,
//	    or we take the read token, receive one response and route it by seq
//	  → decode with the caller's return type → result | *RemoteException
//
// Several goroutines may call through one Stub over one Transport. Exactly one
// of them reads at a time (the holder of the read token); every response is
// handed to the waiter registered under its sequence number, so responses may
// arrive in any order.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"typed-rpc/codec"
	"typed-rpc/message"
	"typed-rpc/signature"
	"typed-rpc/transport"
)

// Stub is the client-side proxy of one remote module.
type Stub struct {
	module string
	logger *zap.Logger
	lazy   bool   // Transport comes from a binder
	binder Binder // Overrides the process binder when set

	tmu sync.Mutex
	t   transport.Transport
	cdc codec.Codec

	fmu   sync.RWMutex
	funcs map[string]*signature.TypedFunction

	seq       atomic.Uint64
	readToken chan struct{} // Capacity 1: held by the goroutine reading the transport

	pmu       sync.Mutex
	pending   map[uint64]*waiter
	abandoned map[uint64]struct{} // Cancelled calls whose response may still arrive
	lateFloor uint64              // Highest seq evicted from abandoned
}

// maxAbandoned bounds the abandoned set. Responses for evicted seqs are
// still recognized as late through lateFloor.
const maxAbandoned = 1024

type waiter struct {
	tf   *signature.TypedFunction
	done chan outcome // Capacity 1
}

type outcome struct {
	resp *message.Response
	err  error
}

// Option configures a Stub.
type Option func(*Stub)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Stub) { s.logger = logger }
}

// WithBinder binds a ForModule stub through b instead of the process binder.
func WithBinder(b Binder) Option {
	return func(s *Stub) { s.binder = b }
}

// New creates a stub calling module over t with cdc.
func New(t transport.Transport, cdc codec.Codec, module string, opts ...Option) *Stub {
	s := newStub(module, opts)
	s.t = t
	s.cdc = cdc
	return s
}

// ForModule creates a stub whose transport is obtained from the binder
// installed with SetBinder on first use. Generated code declares one per
// module at package level.
func ForModule(module string, opts ...Option) *Stub {
	s := newStub(module, opts)
	s.lazy = true
	return s
}

func newStub(module string, opts []Option) *Stub {
	s := &Stub{
		module:    module,
		logger:    zap.NewNop(),
		funcs:     make(map[string]*signature.TypedFunction),
		readToken: make(chan struct{}, 1),
		pending:   make(map[uint64]*waiter),
		abandoned: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stub) Module() string { return s.module }

// Setup registers the contract of name from prototype, a function value or a
// typed nil function of the remote signature.
func (s *Stub) Setup(name string, prototype any) error {
	tf, err := signature.Extract(s.module, name, prototype)
	if err != nil {
		s.logger.Warn("stub setup failed", zap.String("module", s.module), zap.String("function", name), zap.Error(err))
		return err
	}
	s.add(tf)
	return nil
}

// DefinitionComplete registers every function of def. Functions that fail
// extraction are logged and reported in the returned error; the others are
// registered regardless.
func (s *Stub) DefinitionComplete(def signature.Definition) error {
	tfs, err := def.ExtractAll(s.module)
	for _, tf := range tfs {
		s.add(tf)
	}
	if err != nil {
		s.logger.Warn("definition incomplete", zap.String("module", s.module),
			zap.String("target", string(def.Target)), zap.String("name", def.Name), zap.Error(err))
	}
	return err
}

func (s *Stub) add(tf *signature.TypedFunction) {
	s.fmu.Lock()
	s.funcs[tf.Name] = tf
	s.fmu.Unlock()
}

// Functions returns the names of registered functions in sorted order.
func (s *Stub) Functions() []string {
	s.fmu.RLock()
	defer s.fmu.RUnlock()
	names := make([]string, 0, len(s.funcs))
	for name := range s.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Stub) lookup(name string) (*signature.TypedFunction, error) {
	s.fmu.RLock()
	tf, ok := s.funcs[name]
	s.fmu.RUnlock()
	if !ok {
		return nil, &UnknownFunctionError{Module: s.module, Function: name}
	}
	return tf, nil
}

// binding returns the transport and codec, binding a lazy stub on first use.
func (s *Stub) binding() (transport.Transport, codec.Codec, error) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.t != nil {
		return s.t, s.cdc, nil
	}
	if !s.lazy {
		return nil, nil, ErrNoTransport
	}
	b := s.binder
	if b == nil {
		b = currentBinder()
	}
	if b == nil {
		return nil, nil, ErrNoBinder
	}
	t, cdc, err := b.Bind(s.module)
	if err != nil {
		return nil, nil, fmt.Errorf("stub: bind %s: %w", s.module, err)
	}
	if s.binder == nil {
		track(s)
	}
	if cdc == nil {
		cdc = codec.GetCodec(codec.CodecTypeJSON)
	}
	s.t, s.cdc = t, cdc
	s.logger.Debug("stub bound", zap.String("module", s.module), zap.Stringer("codec", cdc.Type()))
	return t, cdc, nil
}

// unbind drops a broken transport of a lazy stub so the next call binds anew.
func (s *Stub) unbind(t transport.Transport, err error) {
	var te *transport.TransportError
	if !s.lazy || !errors.As(err, &te) || errors.Is(err, transport.ErrEmptyTransport) {
		return
	}
	s.tmu.Lock()
	if s.t != t {
		s.tmu.Unlock()
		return
	}
	s.t = nil
	s.tmu.Unlock()
	untrack(s)

	s.pmu.Lock()
	clear(s.abandoned)
	s.pmu.Unlock()
	t.Close()
	s.logger.Info("stub unbound after transport failure", zap.String("module", s.module), zap.Error(err))
}

// Invoke calls name synchronously: the calling goroutine blocks in the
// transport's sync operations until the response arrives.
func (s *Stub) Invoke(name string, args ...any) (any, error) {
	return s.call(context.Background(), true, name, args)
}

// InvokeAsync calls name and waits for the response or for ctx to be done.
// A cancelled call is not retracted; its late response is dropped.
func (s *Stub) InvokeAsync(ctx context.Context, name string, args ...any) (any, error) {
	return s.call(ctx, false, name, args)
}

func (s *Stub) call(ctx context.Context, blocking bool, name string, args []any) (any, error) {
	tf, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	t, cdc, err := s.binding()
	if err != nil {
		return nil, err
	}

	seq := s.seq.Add(1)
	enc := cdc.NewEncoder()
	req := &message.Request{Seq: seq, Module: s.module, Function: name, Args: args}
	if err := message.EncodeRequest(enc, req, tf); err != nil {
		return nil, err
	}

	w := &waiter{tf: tf, done: make(chan outcome, 1)}
	s.pmu.Lock()
	s.pending[seq] = w
	s.pmu.Unlock()

	if blocking {
		err = t.SendSync(enc.Buffer())
	} else {
		err = t.SendAsync(ctx, enc.Buffer())
	}
	if err != nil {
		s.forget(seq, false)
		s.unbind(t, err)
		return nil, err
	}

	resp, err := s.await(ctx, blocking, t, cdc, w)
	if err != nil {
		s.forget(seq, true)
		s.unbind(t, err)
		return nil, err
	}
	if resp.Status == message.StatusException {
		return nil, &RemoteException{Module: s.module, Function: name, Message: resp.Error}
	}
	return resp.Result, nil
}

// await waits for the response of w, reading the transport whenever no
// other goroutine does.
func (s *Stub) await(ctx context.Context, blocking bool, t transport.Transport, cdc codec.Codec, w *waiter) (*message.Response, error) {
	for {
		select {
		case o := <-w.done:
			return o.resp, o.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case s.readToken <- struct{}{}:
		}

		// The previous reader may have routed our response while we waited
		select {
		case o := <-w.done:
			<-s.readToken
			return o.resp, o.err
		default:
		}

		var (
			payload []byte
			err     error
		)
		if blocking {
			payload, err = t.RecvSync()
		} else {
			payload, err = t.RecvAsync(ctx)
		}
		if err == nil {
			err = s.route(cdc, payload)
		}
		<-s.readToken
		if err != nil {
			return nil, err
		}
	}
}

// route hands one response to the waiter of its sequence number. The error is
// for the reader: the response belongs to nobody or has no readable seq.
func (s *Stub) route(cdc codec.Codec, payload []byte) error {
	dec := cdc.NewDecoder(payload)
	seq, err := message.DecodeSeq(dec)
	if err != nil {
		return &RemoteError{Reason: "undecodable response", Err: err}
	}

	s.pmu.Lock()
	w, ok := s.pending[seq]
	delete(s.pending, seq)
	_, late := s.abandoned[seq]
	delete(s.abandoned, seq)
	late = late || (!ok && seq <= s.lateFloor)
	s.pmu.Unlock()

	if !ok {
		if late {
			s.logger.Info("dropped late response", zap.String("module", s.module), zap.Uint64("seq", seq))
			return nil
		}
		s.logger.Warn("response for unknown call", zap.String("module", s.module), zap.Uint64("seq", seq))
		return &RemoteError{Reason: fmt.Sprintf("unexpected sequence number %d", seq)}
	}

	resp, err := message.DecodeResponseBody(dec, seq, w.tf.Return)
	switch {
	case err != nil:
		w.done <- outcome{err: &RemoteError{Reason: "undecodable response to " + w.tf.Signature(), Err: err}}
	case dec.Remaining() != 0:
		w.done <- outcome{err: &RemoteError{Reason: "trailing data in response to " + w.tf.Signature()}}
	default:
		w.done <- outcome{resp: resp}
	}
	return nil
}

// forget removes a pending call. An abandoned call keeps its seq so that its
// late response is dropped instead of being reported as unknown.
func (s *Stub) forget(seq uint64, abandon bool) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if _, ok := s.pending[seq]; !ok {
		return
	}
	delete(s.pending, seq)
	if !abandon {
		return
	}
	s.abandoned[seq] = struct{}{}
	if len(s.abandoned) > maxAbandoned {
		oldest := seq
		for a := range s.abandoned {
			oldest = min(oldest, a)
		}
		delete(s.abandoned, oldest)
		s.lateFloor = max(s.lateFloor, oldest)
	}
}

// Pending returns the number of calls waiting for a response.
func (s *Stub) Pending() int {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	return len(s.pending)
}

// Close releases the transport. A lazy stub binds again on its next call.
func (s *Stub) Close() error {
	s.tmu.Lock()
	t := s.t
	if s.lazy {
		s.t = nil
	}
	s.tmu.Unlock()
	if t == nil {
		return nil
	}
	if s.lazy {
		untrack(s)
	}
	s.pmu.Lock()
	clear(s.abandoned)
	s.pmu.Unlock()
	return t.Close()
}

// Future is an asynchronous call started by Go.
type Future struct {
	Name   string
	Result any
	Err    error
	done   chan struct{}
}

// Go starts an async call and returns immediately.
func (s *Stub) Go(ctx context.Context, name string, args ...any) *Future {
	f := &Future{Name: name, done: make(chan struct{})}
	go func() {
		f.Result, f.Err = s.InvokeAsync(ctx, name, args...)
		close(f.done)
	}()
	return f
}

// Done is closed when the call has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the call has finished and returns its outcome.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.Result, f.Err
}
