package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loopbackFactory(created *int) func(context.Context) (Transport, error) {
	return func(context.Context) (Transport, error) {
		*created++
		client, _ := NewPair()
		return client, nil
	}
}

// 测试借出、归还与复用
func TestPoolReuse(t *testing.T) {
	var created int
	pool := NewPool(2, loopbackFactory(&created))
	ctx := context.Background()

	a, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a == b || created != 2 || pool.Size() != 2 {
		t.Fatalf("expect 2 distinct transports, created=%d size=%d", created, pool.Size())
	}

	a.Close()
	a.Close() // 重复归还无效
	c, err := pool.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != a || created != 2 {
		t.Fatalf("expect the idle transport to be reused, created=%d", created)
	}
	b.Close()
	c.Close()
}

func TestPoolWaitsAtCapacity(t *testing.T) {
	var created int
	pool := NewPool(1, loopbackFactory(&created))
	ctx := context.Background()

	a, _ := pool.Get(ctx)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Get(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded at capacity, got %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Close()
	}()
	b, err := pool.Get(ctx)
	if err != nil || b != a {
		t.Fatalf("expect returned transport, got %v (%v)", b, err)
	}
}

// idle pool 不限制借出数量，只限制空闲数量
func TestIdlePool(t *testing.T) {
	var created int
	pool := NewIdlePool(1, loopbackFactory(&created))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var borrowed []*PooledTransport
	for i := 0; i < 3; i++ {
		pt, err := pool.Get(ctx)
		if err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
		borrowed = append(borrowed, pt)
	}
	if created != 3 || pool.Size() != 3 {
		t.Fatalf("expect 3 live transports, created=%d size=%d", created, pool.Size())
	}

	for _, pt := range borrowed {
		pt.Close()
	}
	// 只保留一个空闲的，其余的被关闭
	if pool.Size() != 1 {
		t.Fatalf("expect 1 idle transport, size=%d", pool.Size())
	}
	if err := borrowed[1].SendSync([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect surplus transport to be closed, got %v", err)
	}
	pt, err := pool.Get(ctx)
	if err != nil || pt != borrowed[0] || created != 3 {
		t.Fatalf("expect the idle transport to be reused, created=%d (%v)", created, err)
	}
	pt.Close()
}

func TestPoolDiscardsBroken(t *testing.T) {
	var created int
	pool := NewPool(1, loopbackFactory(&created))
	ctx := context.Background()

	a, _ := pool.Get(ctx)
	// 空队列不算故障
	if _, err := a.RecvSync(); !errors.Is(err, ErrEmptyTransport) {
		t.Fatalf("expect ErrEmptyTransport, got %v", err)
	}
	a.Transport.Close()
	if err := a.SendSync([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	a.Close()

	if pool.Size() != 0 {
		t.Fatalf("broken transport must be discarded, size=%d", pool.Size())
	}
	b, err := pool.Get(ctx)
	if err != nil || b == a || created != 2 {
		t.Fatalf("expect a fresh transport, created=%d err=%v", created, err)
	}
}

func TestPoolFactoryError(t *testing.T) {
	boom := errors.New("dial failed")
	pool := NewPool(1, func(context.Context) (Transport, error) { return nil, boom })
	if _, err := pool.Get(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expect factory error, got %v", err)
	}
	if pool.Size() != 0 {
		t.Fatalf("failed creation must not count, size=%d", pool.Size())
	}
}

func TestPoolClose(t *testing.T) {
	var created int
	pool := NewPool(2, loopbackFactory(&created))
	ctx := context.Background()

	a, _ := pool.Get(ctx)
	b, _ := pool.Get(ctx)
	a.Close()
	pool.Close()

	if _, err := pool.Get(ctx); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expect ErrPoolClosed, got %v", err)
	}
	b.Close()
	if pool.Size() != 0 {
		t.Fatalf("expect empty pool after close, size=%d", pool.Size())
	}
}
