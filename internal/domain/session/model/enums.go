// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// ComputeStatus is the health of a provisioned engine.
type ComputeStatus string

const (
	ComputePending ComputeStatus = "Pending"
	ComputeHealthy ComputeStatus = "Healthy"
	ComputeError   ComputeStatus = "Error"
)

// SessionPhase is the step of the per-case session orchestration.
type SessionPhase string

const (
	SessionStarting         SessionPhase = "STARTING"
	SessionProvisioning     SessionPhase = "PROVISIONING"
	SessionActive           SessionPhase = "ACTIVE"
	SessionDelegatingEvents SessionPhase = "DELEGATING_EVENTS"
	SessionCompleted        SessionPhase = "COMPLETED"
)

// IsTerminal returns true if the phase is final.
func (p SessionPhase) IsTerminal() bool {
	return p == SessionCompleted
}

// ListenerPhase is the step of one event listener execution.
type ListenerPhase string

const (
	ListenerWaiting     ListenerPhase = "WAITING"
	ListenerIdleTimeout ListenerPhase = "IDLE_TIMEOUT"
	ListenerEnding      ListenerPhase = "ENDING"
	ListenerContinuing  ListenerPhase = "CONTINUING"
	ListenerEnded       ListenerPhase = "ENDED"
)

// IsTerminal returns true if the phase is final.
func (p ListenerPhase) IsTerminal() bool {
	return p == ListenerEnded
}

// Orchestration, activity and event names registered with the durable engine.
const (
	OrchestratorSession       = "SessionOrchestrator"
	OrchestratorEventListener = "EventListener"

	ActivityProvisionCompute   = "ProvisionCompute"
	ActivityDeprovisionCompute = "DeprovisionCompute"
	ActivityApplyCollaborator  = "ApplyCollaborator"

	EventEndSession      = "EndSession"
	EventAddCollaborator = "AddCollaborator"
)
