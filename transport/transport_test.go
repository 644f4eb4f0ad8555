package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"nhooyr.io/websocket"

	"typed-rpc/codec"
)

// 测试 loopback 一端发送、另一端接收
func TestLoopbackPair(t *testing.T) {
	client, server := NewPair()

	if err := client.SendSync([]byte("payload1")); err != nil {
		t.Fatal(err)
	}
	if err := client.SendSync([]byte("payload2")); err != nil {
		t.Fatal(err)
	}
	if server.Pending() != 2 {
		t.Fatalf("expect 2 pending, got %d", server.Pending())
	}

	for _, want := range []string{"payload1", "payload2"} {
		got, err := server.RecvSync()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Fatalf("expect %s, got %s", want, got)
		}
	}

	if err := server.SendSync([]byte("reply")); err != nil {
		t.Fatal(err)
	}
	got, err := client.RecvAsync(context.Background())
	if err != nil || string(got) != "reply" {
		t.Fatalf("expect reply, got %q (%v)", got, err)
	}
}

func TestLoopbackEmpty(t *testing.T) {
	client, server := NewPair()
	for _, l := range []*Loopback{client, server} {
		_, err := l.RecvSync()
		var te *TransportError
		if !errors.As(err, &te) || !errors.Is(err, ErrEmptyTransport) {
			t.Fatalf("expect empty transport error, got %v", err)
		}
	}
}

func TestLoopbackCopiesPayload(t *testing.T) {
	client, server := NewPair()
	buf := []byte("abc")
	client.SendSync(buf)
	buf[0] = 'x'

	got, _ := server.RecvSync()
	if string(got) != "abc" {
		t.Fatalf("expect abc, got %s", got)
	}
}

func TestLoopbackOnSend(t *testing.T) {
	client, server := NewPair()

	// 模拟 dispatcher: 收到请求后立即回写
	client.OnSend(func(ctx context.Context) error {
		p, err := server.RecvAsync(ctx)
		if err != nil {
			return err
		}
		return server.SendAsync(ctx, bytes.ToUpper(p))
	})

	if err := client.SendSync([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	got, err := client.RecvSync()
	if err != nil || string(got) != "PING" {
		t.Fatalf("expect PING, got %q (%v)", got, err)
	}

	hookErr := errors.New("hook failed")
	client.OnSend(func(context.Context) error { return hookErr })
	err = client.SendSync([]byte("x"))
	var te *TransportError
	if !errors.Is(err, hookErr) || !errors.As(err, &te) || te.Op != "send" {
		t.Fatalf("expect hook error wrapped in a send TransportError, got %v", err)
	}

	// 已经是 TransportError 的不再包装
	client.OnSend(func(ctx context.Context) error { return server.SendAsync(ctx, nil) })
	server.Close()
	err = client.SendSync([]byte("y"))
	if !errors.As(err, &te) || errors.Unwrap(te) != ErrClosed {
		t.Fatalf("expect the peer's TransportError unchanged, got %v", err)
	}
}

func TestLoopbackClosed(t *testing.T) {
	client, server := NewPair()
	client.SendSync([]byte("dropped"))
	server.Close()

	if _, err := server.RecvSync(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
	if err := server.SendSync([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestLoopbackCancelled(t *testing.T) {
	client, _ := NewPair()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.SendAsync(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
	if _, err := client.RecvAsync(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
}

func connPair() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewClientConn(a, codec.CodecTypeJSON), NewServerConn(b, codec.CodecTypeJSON)
}

// 测试单连接上的往返
func TestConnRoundTrip(t *testing.T) {
	client, server := connPair()
	defer client.Close()
	defer server.Close()

	go func() {
		for {
			p, err := server.RecvSync()
			if err != nil {
				return
			}
			server.SendSync(append([]byte("echo:"), p...))
		}
	}()

	for _, msg := range []string{"a", "bb", strings.Repeat("c", 4096)} {
		if err := client.SendSync([]byte(msg)); err != nil {
			t.Fatal(err)
		}
		got, err := client.RecvSync()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "echo:"+msg {
			t.Fatalf("expect echo:%s, got %s", msg, got)
		}
	}
}

// 测试并发写不会交错帧
func TestConnConcurrentSend(t *testing.T) {
	client, server := connPair()
	defer client.Close()
	defer server.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := client.SendAsync(context.Background(), bytes.Repeat([]byte{byte('a' + i%26)}, 100+i)); err != nil {
				t.Errorf("send failed: %v", err)
			}
		}(i)
	}

	seen := make(map[int]bool)
	for i := 0; i < n; i++ {
		p, err := server.RecvSync()
		if err != nil {
			t.Fatal(err)
		}
		if len(bytes.Trim(p, string(p[:1]))) != 0 {
			t.Fatalf("interleaved frame: %q", p)
		}
		seen[len(p)] = true
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("expect %d distinct frames, got %d", n, len(seen))
	}
}

func TestConnRecvCancelled(t *testing.T) {
	client, server := connPair()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.RecvAsync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}

	// 取消后连接仍然可用
	go server.SendSync([]byte("late"))
	got, err := client.RecvSync()
	if err != nil || string(got) != "late" {
		t.Fatalf("expect late, got %q (%v)", got, err)
	}
}

func TestConnPeerClosed(t *testing.T) {
	client, server := connPair()
	server.Close()

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not notice the closed peer")
	}
	_, err := client.RecvSync()
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "recv" {
		t.Fatalf("expect recv TransportError, got %v", err)
	}
	if err := client.SendSync([]byte("x")); !errors.As(err, &te) {
		t.Fatalf("expect TransportError, got %v", err)
	}
	client.Close()
}

func TestConnClosed(t *testing.T) {
	client, server := connPair()
	defer server.Close()
	client.Close()

	if _, err := client.RecvSync(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != ContentType || r.Header.Get("X-Test") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(bytes.ToUpper(body))
	}))
	defer ts.Close()

	h := NewHTTP(ts.URL, WithHeader("X-Test", "1"))
	defer h.Close()

	// 没有发送就接收应当失败
	if _, err := h.RecvSync(); !errors.Is(err, ErrEmptyTransport) {
		t.Fatalf("expect ErrEmptyTransport, got %v", err)
	}

	if err := h.SendAsync(context.Background(), []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := h.SendSync([]byte("two")); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ONE", "TWO"} {
		got, err := h.RecvSync()
		if err != nil || string(got) != want {
			t.Fatalf("expect %s, got %q (%v)", want, got, err)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	h := NewHTTP(ts.URL)
	err := h.SendSync([]byte("x"))
	var te *TransportError
	if !errors.As(err, &te) || !strings.Contains(err.Error(), "500") {
		t.Fatalf("expect status error, got %v", err)
	}
	if _, err := h.RecvSync(); !errors.Is(err, ErrEmptyTransport) {
		t.Fatalf("failed send must not queue a reply, got %v", err)
	}
}

func TestWebSocket(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ws := NewWebSocket(c)
		defer ws.Close()
		for {
			p, err := ws.RecvSync()
			if err != nil {
				return
			}
			if err := ws.SendSync(bytes.ToUpper(p)); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	ctx := context.Background()
	ws, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := ws.RecvAsync(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}

	for _, msg := range []string{"hello", "world"} {
		if err := ws.SendAsync(ctx, []byte(msg)); err != nil {
			t.Fatal(err)
		}
		got, err := ws.RecvAsync(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != strings.ToUpper(msg) {
			t.Fatalf("expect %s, got %s", strings.ToUpper(msg), got)
		}
	}
}

func TestGRPC(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ForceServerCodec(RawCodec{}),
		grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
			var req []byte
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			reply := bytes.ToUpper(req)
			return stream.SendMsg(&reply)
		}),
	)
	go srv.Serve(lis)
	defer srv.Stop()

	g, err := DialGRPC("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer g.Close()

	if _, err := g.RecvSync(); !errors.Is(err, ErrEmptyTransport) {
		t.Fatalf("expect ErrEmptyTransport, got %v", err)
	}
	if err := g.SendSync([]byte("grpc")); err != nil {
		t.Fatal(err)
	}
	got, err := g.RecvSync()
	if err != nil || string(got) != "GRPC" {
		t.Fatalf("expect GRPC, got %q (%v)", got, err)
	}
}

func TestRawCodec(t *testing.T) {
	var c RawCodec
	in := []byte("raw")
	data, err := c.Marshal(&in)
	if err != nil || string(data) != "raw" {
		t.Fatalf("marshal: %q %v", data, err)
	}
	var out []byte
	if err := c.Unmarshal(data, &out); err != nil || string(out) != "raw" {
		t.Fatalf("unmarshal: %q %v", out, err)
	}
	if _, err := c.Marshal("string"); err == nil {
		t.Fatal("expect error for unsupported type")
	}
}
