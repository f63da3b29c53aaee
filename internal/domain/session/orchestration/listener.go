// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestration

import (
	"errors"
	"fmt"

	"github.com/ManuGH/enginemgr/internal/domain/session/lifecycle"
	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/durable"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

const (
	ReasonEndSession  = "end-session"
	ReasonIdleTimeout = "idle-timeout"
)

// listenerCarry is the step state of one listener execution.
type listenerCarry struct {
	Phase        model.ListenerPhase `json:"phase"`
	Input        model.ListenerInput `json:"input"`
	Handle       model.ComputeHandle `json:"handle,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	Collaborator string              `json:"collaborator,omitempty"`
}

// EventListener waits for session events. Each collaborator change restarts it
// with continue-as-new so its history stays bounded; ending the session or
// going idle tears the compute down and completes it.
func EventListener(ctx *durable.Context) (durable.Directive, error) {
	switch ctx.Step() {
	case 0:
		return awaitEvents(ctx)
	case 1:
		return handleEvent(ctx)
	default:
		return finishEvent(ctx)
	}
}

func awaitEvents(ctx *durable.Context) (durable.Directive, error) {
	var in model.ListenerInput
	if err := ctx.Input(&in); err != nil {
		return durable.Directive{}, fmt.Errorf("decode listener input: %w", err)
	}
	if err := ctx.SetCarry(listenerCarry{Phase: model.ListenerWaiting, Input: in}); err != nil {
		return durable.Directive{}, err
	}
	if err := publish(ctx, model.ListenerWaiting, in); err != nil {
		return durable.Directive{}, err
	}
	return ctx.WaitForEvents(in.IdleTimeout, model.EventEndSession, model.EventAddCollaborator), nil
}

func handleEvent(ctx *durable.Context) (durable.Directive, error) {
	var c listenerCarry
	if _, err := ctx.Carry(&c); err != nil {
		return durable.Directive{}, err
	}
	in := c.Input
	logger := ctx.Logger().With().Str(xglog.FieldCaseNumber, in.CaseNumber).Logger()

	if ctx.TimedOut() {
		phase, err := lifecycle.NextListener(c.Phase, lifecycle.EvIdleTimeout)
		if err != nil {
			return durable.Directive{}, err
		}
		logger.Info().Dur("idle_timeout", in.IdleTimeout).Msg("session idle, ending")
		return beginEnding(ctx, c, phase, in.Compute, ReasonIdleTimeout)
	}

	name, ok := ctx.Event()
	if !ok {
		return durable.Directive{}, fmt.Errorf("listener step %d resumed by %s", ctx.Step(), ctx.Outcome().Kind)
	}
	logger = logger.With().Str(xglog.FieldEvent, name).Logger()

	switch name {
	case model.EventEndSession:
		var handle model.ComputeHandle
		if err := ctx.EventPayload(&handle); err != nil {
			logger.Warn().Err(err).Msg("undecodable end-session payload, using recorded compute")
		}
		if handle.Key == "" {
			handle = in.Compute
		}
		return beginEnding(ctx, c, c.Phase, handle, ReasonEndSession)

	case model.EventAddCollaborator:
		var req model.CollaboratorRequest
		if err := ctx.EventPayload(&req); err != nil {
			logger.Warn().Err(err).Msg("dropping undecodable collaborator request")
			return ctx.ContinueAsNew(in), nil
		}
		if req.CollaboratorUserID == "" || in.HasCollaborator(req.CollaboratorUserID) {
			logger.Debug().Str(xglog.FieldUserID, req.CollaboratorUserID).Msg("collaborator unchanged")
			return ctx.ContinueAsNew(in), nil
		}
		phase, err := lifecycle.NextListener(c.Phase, lifecycle.EvAddCollaborator)
		if err != nil {
			return durable.Directive{}, err
		}
		c.Phase = phase
		c.Collaborator = req.CollaboratorUserID
		if err := ctx.SetCarry(c); err != nil {
			return durable.Directive{}, err
		}
		return ctx.CallActivity(model.ActivityApplyCollaborator, model.CollaboratorGrant{
			CaseNumber:         in.CaseNumber,
			CollaboratorUserID: req.CollaboratorUserID,
			Compute:            in.Compute,
		}), nil
	}
	return durable.Directive{}, fmt.Errorf("unexpected event %q", name)
}

// beginEnding schedules the teardown of handle. A handle without a key has
// nothing to delete, so the listener completes right away.
func beginEnding(ctx *durable.Context, c listenerCarry, from model.ListenerPhase, handle model.ComputeHandle, reason string) (durable.Directive, error) {
	ev := lifecycle.EvEndSession
	if from == model.ListenerIdleTimeout {
		ev = lifecycle.EvDeprovisionRequested
	}
	phase, err := lifecycle.NextListener(from, ev)
	if err != nil {
		return durable.Directive{}, err
	}

	if handle.Key == "" {
		if _, err := lifecycle.NextListener(phase, lifecycle.EvDeprovisioned); err != nil {
			return durable.Directive{}, err
		}
		return ctx.Complete(model.ListenerResult{Reason: reason, Collaborators: c.Input.Collaborators}), nil
	}

	c.Phase = phase
	c.Handle = handle
	c.Reason = reason
	if err := ctx.SetCarry(c); err != nil {
		return durable.Directive{}, err
	}
	if err := publish(ctx, phase, c.Input); err != nil {
		return durable.Directive{}, err
	}
	return ctx.CallActivity(model.ActivityDeprovisionCompute, handle), nil
}

func finishEvent(ctx *durable.Context) (durable.Directive, error) {
	var c listenerCarry
	if _, err := ctx.Carry(&c); err != nil {
		return durable.Directive{}, err
	}
	in := c.Input
	logger := ctx.Logger().With().Str(xglog.FieldCaseNumber, in.CaseNumber).Logger()
	actErr := ctx.ActivityResult(nil)
	var aerr *durable.ActivityError
	if actErr != nil && !errors.As(actErr, &aerr) {
		return durable.Directive{}, actErr
	}

	switch c.Phase {
	case model.ListenerEnding:
		if aerr != nil {
			if _, err := lifecycle.NextListener(c.Phase, lifecycle.EvDeprovisionFailed); err != nil {
				return durable.Directive{}, err
			}
			in.DeprovisionFailures++
			in.LastError = aerr.Message
			logger.Error().
				Str(xglog.FieldComputeKey, c.Handle.Key).
				Int("failures", in.DeprovisionFailures).
				Str("error", aerr.Message).
				Msg("deprovisioning failed, listening again")
			return ctx.ContinueAsNew(in), nil
		}
		if _, err := lifecycle.NextListener(c.Phase, lifecycle.EvDeprovisioned); err != nil {
			return durable.Directive{}, err
		}
		logger.Info().
			Str(xglog.FieldComputeKey, c.Handle.Key).
			Str("reason", c.Reason).
			Msg("compute deprovisioned")
		return ctx.Complete(model.ListenerResult{
			Reason:        c.Reason,
			ComputeKey:    c.Handle.Key,
			Collaborators: in.Collaborators,
		}), nil

	case model.ListenerContinuing:
		if aerr != nil {
			logger.Warn().
				Str(xglog.FieldUserID, c.Collaborator).
				Str("error", aerr.Message).
				Msg("collaborator not applied")
		} else {
			in.Collaborators = append(in.Collaborators, c.Collaborator)
			logger.Info().Str(xglog.FieldUserID, c.Collaborator).Msg("collaborator added")
		}
		return ctx.ContinueAsNew(in), nil
	}
	return durable.Directive{}, fmt.Errorf("listener finished in phase %s", c.Phase)
}

func publish(ctx *durable.Context, phase model.ListenerPhase, in model.ListenerInput) error {
	collaborators := in.Collaborators
	if collaborators == nil {
		collaborators = []string{}
	}
	return ctx.SetCustomStatus(model.ListenerStatus{
		Phase:               phase,
		Execution:           ctx.Execution(),
		Collaborators:       collaborators,
		DeprovisionFailures: in.DeprovisionFailures,
		LastError:           in.LastError,
	})
}
