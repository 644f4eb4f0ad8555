package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"typed-rpc/discovery"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance (until the ring changes),
// so every call of a module lands on the instance holding its state.
//
// Virtual nodes: each real instance is mapped to N virtual nodes on the ring.
// 100 virtual nodes per instance keep the distribution uniform.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
//
// The ring is rebuilt only when the instance list passed to Pick changes.
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.Mutex
	signature string                                // Addresses the ring was built from
	ring      []uint32                              // Sorted hash values on the ring
	nodes     map[uint32]*discovery.ServiceInstance // Hash value → instance mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*discovery.ServiceInstance),
	}
}

// add places an instance onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
// b.mu must be held.
func (b *ConsistentHashBalancer) add(instance *discovery.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
}

func (b *ConsistentHashBalancer) rebuild(instances []discovery.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i := range instances {
		addrs[i] = instances[i].Addr
	}
	sort.Strings(addrs)
	sig := strings.Join(addrs, ",")
	if sig == b.signature {
		return
	}

	b.signature = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*discovery.ServiceInstance, len(instances)*b.replicas)
	for i := range instances {
		inst := instances[i]
		b.add(&inst)
	}
	// Keep the ring sorted for binary search in Pick()
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the instance responsible for key.
// It hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node.
func (b *ConsistentHashBalancer) Pick(key string, instances []discovery.ServiceInstance) (*discovery.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(instances)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := *b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
