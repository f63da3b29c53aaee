// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldCaseNumber = "case_number"
	FieldUserID     = "user_id"

	// Orchestration fields
	FieldInstanceID   = "instance_id"
	FieldOrchestrator = "orchestrator"
	FieldActivity     = "activity"
	FieldStep         = "step"
	FieldExecution    = "execution"
	FieldSignal       = "signal"
	FieldEvent        = "event"
	FieldComponent    = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Cluster fields
	FieldComputeKey = "compute_key"
	FieldNamespace  = "namespace"
)
