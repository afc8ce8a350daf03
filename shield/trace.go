package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/mailmerge/idgen"
	"github.com/hazyhaar/mailmerge/kit"
)

type contextKey struct{}

// TraceID gives each request a trace ID, echoed in X-Trace-ID, stored in
// the context with kit.WithTraceID, and attached to a per-request logger
// that GetLogger returns. An incoming X-Trace-ID is kept.
func TraceID(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = idgen.Trace()
			}
			w.Header().Set("X-Trace-ID", traceID)

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
			log := kit.Logger(ctx, logger).With("method", r.Method, "path", r.URL.Path)
			ctx = context.WithValue(ctx, contextKey{}, log)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r.WithContext(ctx))
			log.Info("request", "status", sw.status, "bytes", sw.bytes, "duration", time.Since(start))
		})
	}
}

// GetLogger returns the per-request logger, or slog.Default outside
// TraceID.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status, w.wroteHeader = code, true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
