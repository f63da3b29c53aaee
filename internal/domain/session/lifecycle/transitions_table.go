// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"fmt"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
)

// SessionTransition is a single allowed edge of the session orchestration.
type SessionTransition struct {
	From  model.SessionPhase
	To    model.SessionPhase
	Event EventKind
}

// ListenerTransition is a single allowed edge of one event listener execution.
type ListenerTransition struct {
	From  model.ListenerPhase
	To    model.ListenerPhase
	Event EventKind
}

var sessionTable = []SessionTransition{
	{From: model.SessionStarting, To: model.SessionProvisioning, Event: EvProvisionRequested},
	// Healthy and Error handles both resolve provisioning.
	{From: model.SessionProvisioning, To: model.SessionActive, Event: EvComputeResolved},
	{From: model.SessionActive, To: model.SessionDelegatingEvents, Event: EvStateRecorded},
	{From: model.SessionDelegatingEvents, To: model.SessionCompleted, Event: EvListenerFinished},
}

var listenerTable = []ListenerTransition{
	{From: model.ListenerWaiting, To: model.ListenerEnding, Event: EvEndSession},
	{From: model.ListenerWaiting, To: model.ListenerContinuing, Event: EvAddCollaborator},
	{From: model.ListenerWaiting, To: model.ListenerIdleTimeout, Event: EvIdleTimeout},
	{From: model.ListenerIdleTimeout, To: model.ListenerEnding, Event: EvDeprovisionRequested},
	{From: model.ListenerEnding, To: model.ListenerEnded, Event: EvDeprovisioned},
	// A failed teardown returns to waiting through continue-as-new.
	{From: model.ListenerEnding, To: model.ListenerContinuing, Event: EvDeprovisionFailed},
}

// SessionTransitionFor returns the allowed transition for a given phase+event.
func SessionTransitionFor(from model.SessionPhase, ev EventKind) (SessionTransition, bool) {
	for _, tr := range sessionTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return SessionTransition{}, false
}

// ListenerTransitionFor returns the allowed transition for a given phase+event.
func ListenerTransitionFor(from model.ListenerPhase, ev EventKind) (ListenerTransition, bool) {
	for _, tr := range listenerTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return ListenerTransition{}, false
}

// NextSession applies ev to a session phase.
func NextSession(from model.SessionPhase, ev EventKind) (model.SessionPhase, error) {
	tr, ok := SessionTransitionFor(from, ev)
	if !ok {
		return from, illegal(string(from), ev)
	}
	return tr.To, nil
}

// NextListener applies ev to a listener phase.
func NextListener(from model.ListenerPhase, ev EventKind) (model.ListenerPhase, error) {
	tr, ok := ListenerTransitionFor(from, ev)
	if !ok {
		return from, illegal(string(from), ev)
	}
	return tr.To, nil
}

func illegal(from string, ev EventKind) error {
	reason := ForbiddenTransitionReason(from, ev)
	return fmt.Errorf("%w: %s + %s (%s)", ErrIllegalTransition, from, ev, reason)
}
