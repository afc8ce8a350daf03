// Package shield provides the HTTP middleware of the mail-merge API:
// security headers, upload size limits, request trace IDs and a per-client
// rate limit on the expensive routes.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(logger, 32<<20) {
//		r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// Stack returns the middleware applied to every route, outermost first:
// HeadToGet, SecurityHeaders, MaxBody, TraceID.
func Stack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID(logger),
	}
}
