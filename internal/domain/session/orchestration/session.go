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

// sessionCarry is the step state of a session orchestration.
type sessionCarry struct {
	Phase   model.SessionPhase `json:"phase"`
	Session model.CaseSession  `json:"session"`
}

// SessionOrchestrator provisions the compute for one case, records the
// lifecycle state and hands event handling to the listener. Its output is
// its own instance ID.
func SessionOrchestrator(cfg Config) durable.OrchestratorFunc {
	return func(ctx *durable.Context) (durable.Directive, error) {
		switch ctx.Step() {
		case 0:
			return startSession(ctx)
		case 1:
			return delegateEvents(ctx, cfg)
		default:
			return finishSession(ctx)
		}
	}
}

func startSession(ctx *durable.Context) (durable.Directive, error) {
	var in model.CaseSession
	if err := ctx.Input(&in); err != nil {
		return durable.Directive{}, fmt.Errorf("decode session input: %w", err)
	}
	phase, err := lifecycle.NextSession(model.SessionStarting, lifecycle.EvProvisionRequested)
	if err != nil {
		return durable.Directive{}, err
	}
	if err := ctx.SetCarry(sessionCarry{Phase: phase, Session: in}); err != nil {
		return durable.Directive{}, err
	}

	ctx.Logger().Info().
		Str(xglog.FieldCaseNumber, in.CaseNumber).
		Str(xglog.FieldNewState, string(phase)).
		Msg("provisioning compute")
	return ctx.CallActivity(model.ActivityProvisionCompute, model.ProvisionRequest{CaseNumber: in.CaseNumber}), nil
}

func delegateEvents(ctx *durable.Context, cfg Config) (durable.Directive, error) {
	var c sessionCarry
	if _, err := ctx.Carry(&c); err != nil {
		return durable.Directive{}, err
	}

	var handle model.ComputeHandle
	if err := ctx.ActivityResult(&handle); err != nil {
		var aerr *durable.ActivityError
		if !errors.As(err, &aerr) {
			return durable.Directive{}, err
		}
		// The listener still starts so an end-session can remove partial resources.
		handle = model.FailedHandle(model.ComputeName(cfg.NamePrefix, c.Session.CaseNumber),
			fmt.Errorf("%w: %s", model.ErrProvisioningFailure, aerr.Message))
		ctx.Logger().Error().
			Str(xglog.FieldCaseNumber, c.Session.CaseNumber).
			Str("error", aerr.Message).
			Msg("provisioning failed")
	}

	phase, err := lifecycle.NextSession(c.Phase, lifecycle.EvComputeResolved)
	if err != nil {
		return durable.Directive{}, err
	}
	state := model.LifecycleState{
		CaseNumber:              c.Session.CaseNumber,
		UserID:                  c.Session.UserID,
		Compute:                 &handle,
		OrchestrationInstanceID: ctx.InstanceID(),
	}
	if err := ctx.SetCustomStatus(state); err != nil {
		return durable.Directive{}, err
	}

	phase, err = lifecycle.NextSession(phase, lifecycle.EvStateRecorded)
	if err != nil {
		return durable.Directive{}, err
	}
	c.Phase = phase
	if err := ctx.SetCarry(c); err != nil {
		return durable.Directive{}, err
	}

	ctx.Logger().Info().
		Str(xglog.FieldCaseNumber, c.Session.CaseNumber).
		Str(xglog.FieldComputeKey, handle.Key).
		Str("compute_status", string(handle.Status)).
		Str(xglog.FieldNewState, string(phase)).
		Msg("session active, delegating events")

	return ctx.CallSubOrchestrator(model.OrchestratorEventListener, model.ListenerInstanceID(ctx.InstanceID()), model.ListenerInput{
		CaseNumber:  c.Session.CaseNumber,
		Compute:     handle,
		IdleTimeout: cfg.IdleTimeout,
	}), nil
}

func finishSession(ctx *durable.Context) (durable.Directive, error) {
	var c sessionCarry
	if _, err := ctx.Carry(&c); err != nil {
		return durable.Directive{}, err
	}

	var res model.ListenerResult
	if err := ctx.ChildResult(&res); err != nil {
		var cerr *durable.ChildError
		if !errors.As(err, &cerr) {
			return durable.Directive{}, err
		}
		ctx.Logger().Warn().
			Str(xglog.FieldCaseNumber, c.Session.CaseNumber).
			Str("error", cerr.Message).
			Msg("event listener did not complete")
	}

	phase, err := lifecycle.NextSession(c.Phase, lifecycle.EvListenerFinished)
	if err != nil {
		return durable.Directive{}, err
	}
	ctx.Logger().Info().
		Str(xglog.FieldCaseNumber, c.Session.CaseNumber).
		Str("reason", res.Reason).
		Str(xglog.FieldNewState, string(phase)).
		Msg("session completed")
	return ctx.Complete(ctx.InstanceID()), nil
}
