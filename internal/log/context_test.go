// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{name: "nil context", ctx: nil, requestID: "test-id-123", want: "test-id-123"},
		{name: "background context", ctx: context.Background(), requestID: "req-456", want: "req-456"},
		{name: "empty request ID", ctx: context.Background(), requestID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID) //nolint:staticcheck // nil ctx is part of the contract
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromContext_NilAndEmpty(t *testing.T) {
	if FromContext(nil) == nil { //nolint:staticcheck
		t.Fatal("FromContext(nil) returned nil logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext(background) returned nil logger")
	}
	if got := InstanceIDFromContext(nil); got != "" { //nolint:staticcheck
		t.Errorf("InstanceIDFromContext(nil) = %q, want empty", got)
	}
}

func TestWithContext_AddsRequestAndInstanceFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithInstanceID(ctx, "case-12345")

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry[FieldRequestID] != "req-1" {
		t.Errorf("request_id = %v", entry[FieldRequestID])
	}
	if entry[FieldInstanceID] != "case-12345" {
		t.Errorf("instance_id = %v", entry[FieldInstanceID])
	}
}
