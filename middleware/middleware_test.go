package middleware

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"typed-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.OK(req.Seq, "ok")
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.OK(req.Seq, "ok")
}

func failingHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Exception(req.Seq, "boom")
}

func newRequest() *message.Request {
	return &message.Request{Seq: 1, Module: "calc", Function: "Add", Args: []any{1, 2}}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	resp := LoggingMiddleware(logger)(echoHandler)(context.Background(), newRequest())
	if resp.Result != "ok" {
		t.Fatalf("expect result 'ok', got %v", resp.Result)
	}

	LoggingMiddleware(logger)(failingHandler)(context.Background(), newRequest())

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expect 2 log entries, got %d", len(entries))
	}
	if entries[0].ContextMap()["method"] != "calc.Add" {
		t.Fatalf("expect method field, got %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["error"] != "boom" {
		t.Fatalf("expect warn entry with error, got %+v", entries[1])
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Status != message.StatusOK {
		t.Fatalf("expect ok, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), newRequest())
	if resp.Status != message.StatusException || resp.Error != "request timed out" {
		t.Fatalf("expect timeout error, got '%s'", resp.Error)
	}
	if resp.Seq != 1 {
		t.Fatalf("timeout response must keep the seq, got %d", resp.Seq)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), newRequest())
		if resp.Status != message.StatusOK {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), newRequest())
	if resp.Error != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Error)
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Timeout，验证请求能正常穿过
	chained := Chain(LoggingMiddleware(zap.NewNop()), TimeOutMiddleware(500*time.Millisecond))
	resp := chained(echoHandler)(context.Background(), newRequest())

	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if resp.Status != message.StatusOK {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	Chain(mark("a"), mark("b"), mark("c"))(echoHandler)(context.Background(), newRequest())
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("expect a,b,c, got %v", order)
	}
}
