package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"typed-rpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Uint64("seq", req.Seq),
				zap.String("method", req.Method()),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Status == message.StatusException {
				logger.Warn("call failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Info("call", fields...)
			return resp
		}
	}
}
