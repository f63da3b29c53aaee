// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/enginemgr/internal/api/middleware"
	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/log"
	"github.com/ManuGH/enginemgr/internal/telemetry"
)

// Stable problem codes. Clients branch on these, not on titles or details.
const (
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeDuplicateSession     = "DUPLICATE_SESSION"
	CodeProvisioningFailed   = "PROVISIONING_FAILED"
	CodeDeprovisioningFailed = "DEPROVISIONING_FAILED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeTimeout              = "TIMEOUT"
	CodeInternal             = "INTERNAL"
)

// problemFor classifies a service error.
func problemFor(err error) (status int, code string) {
	switch {
	case errors.Is(err, model.ErrBadRequest):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, model.ErrDuplicateSession):
		return http.StatusConflict, CodeDuplicateSession
	case errors.Is(err, model.ErrProvisioningFailure):
		return http.StatusBadGateway, CodeProvisioningFailed
	case errors.Is(err, model.ErrDeprovisioningFailure):
		return http.StatusBadGateway, CodeDeprovisioningFailed
	case errors.Is(err, model.ErrDeleteTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeProblem writes an RFC 7807 problem details response for err.
// Internal errors keep their detail out of the body; it is logged instead.
func writeProblem(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	status, code := problemFor(err)
	detail := err.Error()

	logger := log.WithComponentFromContext(r.Context(), "api")
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("code", code).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("code", code).Str("path", r.URL.Path).Msg("request rejected")
	}
	middleware.AddSpanAttributes(r, telemetry.ErrorAttributes(err, code)...)
	if code == CodeInternal {
		detail = "an unexpected error occurred"
	}

	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}

	res := map[string]any{
		"type":      "about:blank",
		"title":     http.StatusText(status),
		"status":    status,
		"code":      code,
		"detail":    detail,
		"instance":  r.URL.EscapedPath(),
		"requestId": reqID,
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger.Error().Err(err).Int("status", status).Msg("failed to encode problem response")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}
