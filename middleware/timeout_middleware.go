package middleware

import (
	"context"
	"time"

	"typed-rpc/message"
)

// TimeOutMiddleware bounds each call. The callee keeps running after the
// deadline; async functions observe it through their context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Exception(req.Seq, "request timed out")
			}
		}
	}
}
