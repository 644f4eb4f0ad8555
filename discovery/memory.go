package discovery

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry for single-binary deployments and
// tests. TTLs are honoured lazily: expired instances are dropped on read.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string]map[string]entry // module → addr → entry
	watchers  map[string][]chan []ServiceInstance
	now       func() time.Time
}

type entry struct {
	instance ServiceInstance
	expires  time.Time // Zero for no expiry
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]map[string]entry),
		watchers:  make(map[string][]chan []ServiceInstance),
		now:       time.Now,
	}
}

// Register adds or replaces an instance. ttl <= 0 keeps it until Deregister.
func (r *MemoryRegistry) Register(ctx context.Context, module string, instance ServiceInstance, ttl int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := entry{instance: instance}
	if ttl > 0 {
		e.expires = r.now().Add(time.Duration(ttl) * time.Second)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.instances[module]
	if !ok {
		m = make(map[string]entry)
		r.instances[module] = m
	}
	m[instance.Addr] = e
	r.notify(module)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, module string, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[module][addr]; ok {
		delete(r.instances[module], addr)
		r.notify(module)
	}
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, module string) ([]ServiceInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(module), nil
}

// Watch emits the current list immediately, then on every change.
func (r *MemoryRegistry) Watch(ctx context.Context, module string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	r.mu.Lock()
	r.watchers[module] = append(r.watchers[module], ch)
	offer(ch, r.list(module))
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[module]
		for i, w := range ws {
			if w == ch {
				r.watchers[module] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list returns live instances sorted by address. r.mu must be held.
func (r *MemoryRegistry) list(module string) []ServiceInstance {
	now := r.now()
	out := make([]ServiceInstance, 0, len(r.instances[module]))
	for addr, e := range r.instances[module] {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(r.instances[module], addr)
			continue
		}
		out = append(out, e.instance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// notify pushes the new list to watchers. r.mu must be held.
func (r *MemoryRegistry) notify(module string) {
	if len(r.watchers[module]) == 0 {
		return
	}
	instances := r.list(module)
	for _, ch := range r.watchers[module] {
		offer(ch, instances)
	}
}
