// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the manager.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Orchestration attributes
	InstanceIDKey   = "orchestration.instance_id"
	OrchestratorKey = "orchestration.orchestrator"
	ActivityKey     = "orchestration.activity"
	StepKey         = "orchestration.step"
	AttemptsKey     = "orchestration.attempts"

	// Session attributes
	CaseNumberKey    = "session.case_number"
	ComputeKeyKey    = "session.compute_key"
	ComputeStatusKey = "session.compute_status"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ActivityAttributes creates span attributes for one activity execution.
func ActivityAttributes(instanceID, activity string, step int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(InstanceIDKey, instanceID),
		attribute.String(ActivityKey, activity),
		attribute.Int(StepKey, step),
	}
}

// SessionAttributes creates session-related span attributes. Empty values are skipped.
func SessionAttributes(caseNumber, computeKey, computeStatus string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if caseNumber != "" {
		attrs = append(attrs, attribute.String(CaseNumberKey, caseNumber))
	}
	if computeKey != "" {
		attrs = append(attrs, attribute.String(ComputeKeyKey, computeKey))
	}
	if computeStatus != "" {
		attrs = append(attrs, attribute.String(ComputeStatusKey, computeStatus))
	}
	return attrs
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
