package stub

import (
	"sync"

	"typed-rpc/codec"
	"typed-rpc/transport"
)

// Binder supplies the transport of a lazily bound stub. Generated client code
// declares its stub with ForModule at package init, before any connection
// exists; the process installs a Binder once it knows where dispatchers live.
//
// The returned transport is owned by the stub until Stub.Close.
type Binder interface {
	Bind(module string) (transport.Transport, codec.Codec, error)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(module string) (transport.Transport, codec.Codec, error)

func (f BinderFunc) Bind(module string) (transport.Transport, codec.Codec, error) {
	return f(module)
}

var (
	binderMu sync.RWMutex
	binder   Binder

	boundMu sync.Mutex
	bound   = map[*Stub]struct{}{} // Stubs holding a transport of the process binder
)

// SetBinder installs the process-wide binder; pass nil to uninstall. Stubs
// bound through the previous binder release their transport and bind again
// on their next call.
func SetBinder(b Binder) {
	binderMu.Lock()
	binder = b
	binderMu.Unlock()

	boundMu.Lock()
	released := make([]*Stub, 0, len(bound))
	for s := range bound {
		released = append(released, s)
	}
	clear(bound)
	boundMu.Unlock()

	for _, s := range released {
		s.Close()
	}
}

func currentBinder() Binder {
	binderMu.RLock()
	defer binderMu.RUnlock()
	return binder
}

func track(s *Stub) {
	boundMu.Lock()
	bound[s] = struct{}{}
	boundMu.Unlock()
}

func untrack(s *Stub) {
	boundMu.Lock()
	delete(bound, s)
	boundMu.Unlock()
}
