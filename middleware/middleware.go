// Package middleware wraps the invocation stage of the dispatcher.
//
// Middlewares run after a request has been decoded and before its response is
// encoded, so they see typed requests and responses, never raw payloads.
package middleware

import (
	"context"

	"typed-rpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件，第一个在最外层
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
