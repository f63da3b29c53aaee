// SPDX-License-Identifier: MIT
package telemetry

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestHTTPAttributes(t *testing.T) {
	attrs := HTTPAttributes("GET", "/api/v1/engine-instances/{caseNumber}", 200)

	if len(attrs) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(attrs))
	}

	verifyAttribute(t, attrs, HTTPMethodKey, "GET")
	verifyAttribute(t, attrs, HTTPRouteKey, "/api/v1/engine-instances/{caseNumber}")
	verifyIntAttribute(t, attrs, HTTPStatusCodeKey, 200)
}

func TestActivityAttributes(t *testing.T) {
	attrs := ActivityAttributes("case-1", "ProvisionCompute", 2)
	verifyAttribute(t, attrs, InstanceIDKey, "case-1")
	verifyAttribute(t, attrs, ActivityKey, "ProvisionCompute")
	verifyIntAttribute(t, attrs, StepKey, 2)
}

func TestSessionAttributes(t *testing.T) {
	tests := []struct {
		name    string
		caseNo  string
		key     string
		status  string
		wantLen int
	}{
		{name: "all fields", caseNo: "12345", key: "engine-12345", status: "Healthy", wantLen: 3},
		{name: "only case", caseNo: "12345", wantLen: 1},
		{name: "empty fields", wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := SessionAttributes(tt.caseNo, tt.key, tt.status)
			if len(attrs) != tt.wantLen {
				t.Errorf("Expected %d attributes, got %d", tt.wantLen, len(attrs))
			}
			if tt.caseNo != "" {
				verifyAttribute(t, attrs, CaseNumberKey, tt.caseNo)
			}
		})
	}
}

func TestErrorAttributes(t *testing.T) {
	attrs := ErrorAttributes(errors.New("boom"), "provisioning")
	if len(attrs) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(attrs))
	}
	verifyAttribute(t, attrs, ErrorTypeKey, "provisioning")
}

func verifyAttribute(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if got := a.Value.AsString(); got != want {
				t.Errorf("attribute %s = %q, want %q", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}

func verifyIntAttribute(t *testing.T, attrs []attribute.KeyValue, key string, want int64) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if got := a.Value.AsInt64(); got != want {
				t.Errorf("attribute %s = %d, want %d", key, got, want)
			}
			return
		}
	}
	t.Errorf("attribute %s not found", key)
}
