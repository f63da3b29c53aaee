// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"testing"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allEvents = []EventKind{
	EvProvisionRequested, EvComputeResolved, EvStateRecorded, EvListenerFinished,
	EvEndSession, EvAddCollaborator, EvIdleTimeout, EvDeprovisionRequested,
	EvDeprovisioned, EvDeprovisionFailed,
}

func TestSessionTable_HappyPath(t *testing.T) {
	phase := model.SessionStarting
	for _, ev := range []EventKind{EvProvisionRequested, EvComputeResolved, EvStateRecorded, EvListenerFinished} {
		next, err := NextSession(phase, ev)
		require.NoError(t, err, "%s + %s", phase, ev)
		phase = next
	}
	assert.Equal(t, model.SessionCompleted, phase)
}

func TestTransitionTables_NoDuplicates(t *testing.T) {
	seen := map[string]bool{}
	for _, tr := range sessionTable {
		key := string(tr.From) + "/" + tr.Event.String()
		require.False(t, seen[key], "duplicate transition: %s", key)
		seen[key] = true
	}
	for _, tr := range listenerTable {
		key := string(tr.From) + "/" + tr.Event.String()
		require.False(t, seen[key], "duplicate transition: %s", key)
		seen[key] = true
	}
}

func TestTransitionTables_TerminalPhasesAbsorb(t *testing.T) {
	for _, ev := range allEvents {
		_, err := NextSession(model.SessionCompleted, ev)
		require.ErrorIs(t, err, ErrIllegalTransition)
		assert.Equal(t, ForbiddenTerminalAbsorbing, ForbiddenTransitionReason(string(model.SessionCompleted), ev))

		_, err = NextListener(model.ListenerEnded, ev)
		require.ErrorIs(t, err, ErrIllegalTransition)
	}
}

func TestTransitionTables_ForbiddenReasons(t *testing.T) {
	assert.Equal(t, ForbiddenOutOfOrder, ForbiddenTransitionReason(string(model.SessionStarting), EvStateRecorded))
	assert.Equal(t, ForbiddenWrongMachine, ForbiddenTransitionReason(string(model.SessionActive), EvEndSession))
	assert.Equal(t, ForbiddenWrongMachine, ForbiddenTransitionReason(string(model.ListenerWaiting), EvProvisionRequested))
	assert.Equal(t, ForbiddenOutOfOrder, ForbiddenTransitionReason(string(model.ListenerWaiting), EvDeprovisioned))
	assert.Empty(t, ForbiddenTransitionReason(string(model.ListenerEnding), EvDeprovisionFailed))
}

func TestListenerTable_Paths(t *testing.T) {
	cases := []struct {
		name   string
		events []EventKind
		want   model.ListenerPhase
	}{
		{"end", []EventKind{EvEndSession, EvDeprovisioned}, model.ListenerEnded},
		{"collaborator", []EventKind{EvAddCollaborator}, model.ListenerContinuing},
		{"idle", []EventKind{EvIdleTimeout, EvDeprovisionRequested, EvDeprovisioned}, model.ListenerEnded},
		{"teardown retry", []EventKind{EvEndSession, EvDeprovisionFailed}, model.ListenerContinuing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			phase := model.ListenerWaiting
			for _, ev := range tc.events {
				next, err := NextListener(phase, ev)
				require.NoError(t, err)
				phase = next
			}
			assert.Equal(t, tc.want, phase)
		})
	}
}
