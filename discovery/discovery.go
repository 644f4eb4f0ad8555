// Package discovery lets clients find the dispatchers serving a module.
//
// A dispatcher advertises one ServiceInstance per registered module; a client
// resolves a module name to the instances currently alive and hands them to a
// load balancer.
package discovery

import (
	"context"
	"net/url"

	"github.com/google/uuid"
)

// Networks an instance can be reached on.
const (
	NetworkTCP       = "tcp"
	NetworkHTTP      = "http"
	NetworkWebSocket = "ws"
	NetworkGRPC      = "grpc"
)

type ServiceInstance struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"`
	Network string `json:"network"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version"`
}

// NewInstance creates an instance with a fresh ID, reachable over TCP.
func NewInstance(addr string) ServiceInstance {
	return ServiceInstance{
		ID:      uuid.NewString(),
		Addr:    addr,
		Network: NetworkTCP,
		Weight:  1,
	}
}

type Registry interface {
	Register(ctx context.Context, module string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, module string, addr string) error
	Discover(ctx context.Context, module string) ([]ServiceInstance, error)
	// Watch emits the full instance list on every change until ctx is done.
	Watch(ctx context.Context, module string) <-chan []ServiceInstance
}

// modulePrefix escapes module names so that "a" never matches keys of "a/b".
func modulePrefix(root, module string) string {
	return root + url.PathEscape(module) + "/"
}

// offer replaces a stale pending list so slow watchers only see the latest.
func offer(ch chan []ServiceInstance, instances []ServiceInstance) {
	for {
		select {
		case ch <- instances:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
