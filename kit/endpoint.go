package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named name with its duration.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			l := Logger(ctx, logger)
			if err != nil {
				l.Warn("endpoint failed", "endpoint", name, "duration", time.Since(start), "error", err)
			} else {
				l.Info("endpoint done", "endpoint", name, "duration", time.Since(start))
			}
			return resp, err
		}
	}
}
