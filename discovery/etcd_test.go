package discovery

import (
	"context"
	"net"
	"testing"
	"time"
)

const etcdAddr = "localhost:2379"

// 需要本地 etcd，没有时跳过
func newEtcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	conn, err := net.DialTimeout("tcp", etcdAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdAddr, err)
	}
	conn.Close()

	reg, err := NewEtcdRegistry([]string{etcdAddr}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx := context.Background()

	inst1 := ServiceInstance{ID: "1", Addr: "127.0.0.1:8001", Network: NetworkTCP, Weight: 10, Version: "1.0"}
	inst2 := ServiceInstance{ID: "2", Addr: "127.0.0.1:8002", Network: NetworkTCP, Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "example/calc", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "example/calc", inst2, 10); err != nil {
		t.Fatal(err)
	}
	// 前缀相同的模块不能互相干扰
	if err := reg.Register(ctx, "example/calc/v2", inst1, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(ctx, "example/calc/v2", inst1.Addr)

	instances, err := reg.Discover(ctx, "example/calc")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "example/calc", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "example/calc")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst2.Addr, instances)
	}

	reg.Deregister(ctx, "example/calc", inst2.Addr)
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcdRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := reg.Watch(ctx, "watched")
	time.Sleep(100 * time.Millisecond)

	inst := ServiceInstance{ID: "w", Addr: "127.0.0.1:9100", Weight: 1}
	if err := reg.Register(ctx, "watched", inst, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(context.Background(), "watched", inst.Addr)

	select {
	case instances := <-ch:
		if len(instances) != 1 || instances[0].ID != "w" {
			t.Fatalf("unexpected watch result: %v", instances)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not fire")
	}
}
