// Package kit carries request-scoped values across transports and adapts
// plain endpoints to MCP tools.
package kit

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	TransportKey  contextKey = "kit_transport" // "http", "mcp", "cli"
	RequestIDKey  contextKey = "kit_request_id"
	TraceIDKey    contextKey = "kit_trace_id"
	BatchIDKey    contextKey = "kit_batch_id"
	RemoteAddrKey contextKey = "kit_remote_addr"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}
func GetBatchID(ctx context.Context) string {
	v, _ := ctx.Value(BatchIDKey).(string)
	return v
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string {
	v, _ := ctx.Value(RemoteAddrKey).(string)
	return v
}

// Logger returns base annotated with the trace, batch and transport found
// in ctx. Absent values are omitted.
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	var attrs []any
	if v := GetTraceID(ctx); v != "" {
		attrs = append(attrs, "trace_id", v)
	}
	if v := GetBatchID(ctx); v != "" {
		attrs = append(attrs, "batch_id", v)
	}
	if v, ok := ctx.Value(TransportKey).(string); ok {
		attrs = append(attrs, "transport", v)
	}
	if len(attrs) == 0 {
		return base
	}
	return base.With(attrs...)
}
