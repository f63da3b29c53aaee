// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/ManuGH/enginemgr/internal/log"
)

// AccessLog logs one line per request after the handler returns.
func AccessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if isProbePath(r.URL.Path) && status < 400 {
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "http")
		evt := logger.Info()
		switch {
		case status >= 500:
			evt = logger.Error()
		case status >= 400:
			evt = logger.Warn()
		}
		if traceID, _ := ExtractTraceContext(r); traceID != "" {
			evt = evt.Str("trace_id", traceID)
		}
		evt.
			Str("event", "http.request").
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", size).
			Dur("duration", duration).
			Str("remote_addr", r.RemoteAddr).
			Msg("request served")
	})(next)
}

func isProbePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// routePattern returns the matched chi pattern, or "unmatched" for requests no route served.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
