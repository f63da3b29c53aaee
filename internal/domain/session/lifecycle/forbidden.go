// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"errors"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
)

// ErrIllegalTransition is returned when an orchestrator tries to leave a phase on an event the table does not allow.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenOutOfOrder        = "out_of_order"
	ForbiddenWrongMachine      = "wrong_machine"
)

var sessionEvents = map[EventKind]bool{
	EvProvisionRequested: true,
	EvComputeResolved:    true,
	EvStateRecorded:      true,
	EvListenerFinished:   true,
}

// ForbiddenTransitionReason documents why a transition is disallowed.
// It returns "" for allowed transitions.
func ForbiddenTransitionReason(from string, ev EventKind) string {
	if model.SessionPhase(from).IsTerminal() || model.ListenerPhase(from).IsTerminal() {
		return ForbiddenTerminalAbsorbing
	}
	if isSessionPhase(from) {
		if _, ok := SessionTransitionFor(model.SessionPhase(from), ev); ok {
			return ""
		}
		if !sessionEvents[ev] {
			return ForbiddenWrongMachine
		}
		return ForbiddenOutOfOrder
	}
	if _, ok := ListenerTransitionFor(model.ListenerPhase(from), ev); ok {
		return ""
	}
	if sessionEvents[ev] {
		return ForbiddenWrongMachine
	}
	return ForbiddenOutOfOrder
}

func isSessionPhase(s string) bool {
	switch model.SessionPhase(s) {
	case model.SessionStarting, model.SessionProvisioning, model.SessionActive,
		model.SessionDelegatingEvents, model.SessionCompleted:
		return true
	}
	return false
}
