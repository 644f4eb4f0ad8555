package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const etcdRoot = "/typed-rpc/"

// EtcdRegistry implements Registry using etcd v3 as a distributed phonebook:
//
//	Key:   /typed-rpc/{module}/{addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the dispatcher crashes, the lease
// expires and the entry is removed, so clients never see ghost instances.
type EtcdRegistry struct {
	client *clientv3.Client // Thread-safe, shared across goroutines
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
// The etcd client logs through logger.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{
		client: c,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func instanceKey(module, addr string) string {
	return modulePrefix(etcdRoot, module) + addr
}

// Register adds an instance with a TTL lease:
//  1. Grant a lease with the given TTL
//  2. Put the key with the lease attached
//  3. KeepAlive renews the lease until Deregister or Close
//
// The lease ID is kept per key, never on the struct, so several dispatchers
// may share one EtcdRegistry.
func (r *EtcdRegistry) Register(ctx context.Context, module string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(module, instance.Addr)
	if _, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive the registration call
	ch, err := r.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("key", key))
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes an instance and revokes its lease, which also stops the
// keepalive. Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, module string, addr string) error {
	key := instanceKey(module, addr)
	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		_, err := r.client.Revoke(ctx, lease)
		return err
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Discover returns all currently registered instances of module.
func (r *EtcdRegistry) Discover(ctx context.Context, module string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, modulePrefix(etcdRoot, module), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch uses etcd's server-push Watch API and re-fetches the full list on any
// change under the module prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, module string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, modulePrefix(etcdRoot, module), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, module)
			if err != nil {
				r.logger.Warn("rediscover failed", zap.String("module", module), zap.Error(err))
				continue
			}
			offer(ch, instances)
		}
	}()

	return ch
}

// Close stops all keepalives and the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
