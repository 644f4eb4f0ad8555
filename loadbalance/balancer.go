// Package loadbalance picks the dispatcher instance a call is sent to.
//
// Three strategies are implemented:
//   - RoundRobin:      Stateless modules, equal-capacity instances
//   - WeightedRandom:  Heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  Modules keeping per-instance state; the key is the module name
package loadbalance

import (
	"errors"
	"fmt"

	"typed-rpc/discovery"
)

// ErrNoInstances is returned when a module has no live instance.
var ErrNoInstances = errors.New("no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before binding a stub to an instance.
type Balancer interface {
	// Pick selects one instance from the available list. key is used by
	// key-based strategies and ignored by the others.
	// Must be goroutine-safe.
	Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer named by a configuration value.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("unknown balancer: %q", name)
}
