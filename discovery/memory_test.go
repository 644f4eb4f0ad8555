package discovery

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	inst1 := NewInstance("127.0.0.1:8001")
	inst2 := NewInstance("127.0.0.1:8002")
	if inst1.ID == "" || inst1.ID == inst2.ID {
		t.Fatalf("expect unique ids, got %q and %q", inst1.ID, inst2.ID)
	}

	reg.Register(ctx, "calc", inst2, 0)
	reg.Register(ctx, "calc", inst1, 0)
	reg.Register(ctx, "calc/v2", inst1, 0)

	instances, err := reg.Discover(ctx, "calc")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 || instances[0].Addr != inst1.Addr {
		t.Fatalf("expect 2 sorted instances, got %v", instances)
	}

	reg.Deregister(ctx, "calc", inst1.Addr)
	instances, _ = reg.Discover(ctx, "calc")
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s, got %v", inst2.Addr, instances)
	}
}

func TestMemoryTTL(t *testing.T) {
	reg := NewMemoryRegistry()
	now := time.Now()
	reg.now = func() time.Time { return now }
	ctx := context.Background()

	reg.Register(ctx, "calc", NewInstance("a:1"), 10)
	reg.Register(ctx, "calc", NewInstance("b:1"), 0)

	// 模拟时间流逝，租约过期
	now = now.Add(11 * time.Second)
	instances, _ := reg.Discover(ctx, "calc")
	if len(instances) != 1 || instances[0].Addr != "b:1" {
		t.Fatalf("expect expired instance to vanish, got %v", instances)
	}
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	ch := reg.Watch(ctx, "calc")
	if initial := <-ch; len(initial) != 0 {
		t.Fatalf("expect empty initial list, got %v", initial)
	}

	reg.Register(context.Background(), "calc", NewInstance("a:1"), 0)
	reg.Register(context.Background(), "calc", NewInstance("b:1"), 0)

	// 只保留最新的列表
	latest := <-ch
	if len(latest) != 2 {
		t.Fatalf("expect latest list with 2 instances, got %v", latest)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expect channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestMemoryCancelledContext(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := reg.Register(ctx, "calc", NewInstance("a:1"), 0); err == nil {
		t.Fatal("expect error for cancelled context")
	}
}
