// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

// EventKind enumerates lifecycle events that drive phase transitions.
type EventKind int

const (
	EvProvisionRequested EventKind = iota
	EvComputeResolved
	EvStateRecorded
	EvListenerFinished

	EvEndSession
	EvAddCollaborator
	EvIdleTimeout
	EvDeprovisionRequested
	EvDeprovisioned
	EvDeprovisionFailed
)

func (e EventKind) String() string {
	switch e {
	case EvProvisionRequested:
		return "provision_requested"
	case EvComputeResolved:
		return "compute_resolved"
	case EvStateRecorded:
		return "state_recorded"
	case EvListenerFinished:
		return "listener_finished"
	case EvEndSession:
		return "end_session"
	case EvAddCollaborator:
		return "add_collaborator"
	case EvIdleTimeout:
		return "idle_timeout"
	case EvDeprovisionRequested:
		return "deprovision_requested"
	case EvDeprovisioned:
		return "deprovisioned"
	case EvDeprovisionFailed:
		return "deprovision_failed"
	}
	return "unknown"
}
