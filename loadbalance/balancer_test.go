package loadbalance

import (
	"errors"
	"fmt"
	"testing"

	"typed-rpc/discovery"
)

var testInstances = []discovery.ServiceInstance{
	{Addr: ":8001", Weight: 10, Version: "1.0"},
	{Addr: ":8002", Weight: 5, Version: "1.0"},
	{Addr: ":8003", Weight: 10, Version: "1.0"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	// 连续 pick 3 次，应该依次遍历所有实例
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	if results[0] != ":8001" || results[2] != ":8003" {
		t.Fatalf("expect in-order picks, got %v", results)
	}

	// 再 pick 一次，应该回到第一个
	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmpty(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("k", nil); !errors.Is(err, ErrNoInstances) {
			t.Fatalf("%s: expect ErrNoInstances, got %v", b.Name(), err)
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// Weight ratio is 10:5:10, so :8001 and :8003 should be ~2x of :8002
	ratio := float64(counts[":8001"]) / float64(counts[":8002"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio :8001/:8002 = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []discovery.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	if err != nil || inst == nil {
		t.Fatalf("expect a pick with zero weights, got %v (%v)", inst, err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same instance
	inst1, _ := b.Pick("example/calc", testInstances)
	inst2, _ := b.Pick("example/calc", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	// 实例顺序不同不影响结果
	reversed := []discovery.ServiceInstance{testInstances[2], testInstances[1], testInstances[0]}
	inst3, _ := b.Pick("example/calc", reversed)
	if inst3.Addr != inst1.Addr {
		t.Fatalf("order changed the mapping: %s vs %s", inst1.Addr, inst3.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("module-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	// With 100 different keys and 3 nodes, we should hit at least 2
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}
}

func TestConsistentHashRingChange(t *testing.T) {
	b := NewConsistentHashBalancer()
	inst, _ := b.Pick("example/calc", testInstances)

	// 移除一个不相关的实例后，映射应保持不变
	var remaining []discovery.ServiceInstance
	for _, i := range testInstances {
		if i.Addr != inst.Addr {
			remaining = append(remaining, i)
			break
		}
	}
	remaining = append(remaining, *inst)
	again, _ := b.Pick("example/calc", remaining)
	if again.Addr != inst.Addr {
		t.Fatalf("expect %s to keep the key, got %s", inst.Addr, again.Addr)
	}
}

func TestNew(t *testing.T) {
	for name, want := range map[string]string{"": "RoundRobin", "weighted_random": "WeightedRandom", "consistent_hash": "ConsistentHash"} {
		b, err := New(name)
		if err != nil || b.Name() != want {
			t.Fatalf("%q: expect %s, got %v (%v)", name, want, b, err)
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown balancer")
	}
}
