package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"typed-rpc/protocol"
)

// ContentType is sent with every HTTP payload.
const ContentType = "application/x-typed-rpc"

// HTTP posts each outbound payload to a dispatcher endpoint and queues the
// response body inbound. Receiving without a prior send fails with
// ErrEmptyTransport.
type HTTP struct {
	url     string
	client  *http.Client
	header  http.Header
	inbound queue
	closed  atomic.Bool
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Add(key, value) }
}

// NewHTTP creates a transport posting to url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) SendSync(payload []byte) error {
	return h.SendAsync(context.Background(), payload)
}

func (h *HTTP) SendAsync(ctx context.Context, payload []byte) error {
	if h.closed.Load() {
		return sendError(ErrClosed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return sendError(err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", ContentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return sendError(err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return sendError(fmt.Errorf("received status code: %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(protocol.MaxBodyLen)+1))
	if err != nil {
		return sendError(err)
	}
	if len(body) > int(protocol.MaxBodyLen) {
		return sendError(fmt.Errorf("response body exceeds %d bytes", protocol.MaxBodyLen))
	}
	h.inbound.push(body)
	return nil
}

func (h *HTTP) RecvSync() ([]byte, error) {
	return h.RecvAsync(context.Background())
}

func (h *HTTP) RecvAsync(ctx context.Context) ([]byte, error) {
	if h.closed.Load() {
		return nil, recvError(ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := h.inbound.pop()
	if !ok {
		return nil, recvError(ErrEmptyTransport)
	}
	return p, nil
}

func (h *HTTP) Close() error {
	h.closed.Store(true)
	h.inbound.reset()
	h.client.CloseIdleConnections()
	return nil
}

// CleanlyCloseBody drains and closes an HTTP response body so the underlying
// connection can be reused.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}
