// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Client is the management surface of the engine.
type Client interface {
	// StartNew creates an instance. An empty instanceID generates one.
	// An explicit ID is create-if-not-exists: ErrInstanceExists while a
	// non-terminal instance owns it.
	StartNew(ctx context.Context, orchestrator, instanceID string, input any) (string, error)
	GetStatus(ctx context.Context, instanceID string) (Status, error)
	ListInstances(ctx context.Context, q Query) ([]Status, error)
	// RaiseEvent queues a named event. Unknown or terminal instances yield ErrInstanceNotFound.
	RaiseEvent(ctx context.Context, instanceID, name string, payload any) error
	Terminate(ctx context.Context, instanceID, reason string) error
	// Purge deletes a terminal instance and its history.
	Purge(ctx context.Context, instanceID string) error
}

var _ Client = (*Engine)(nil)

func (e *Engine) StartNew(ctx context.Context, orchestrator, instanceID string, input any) (string, error) {
	if _, ok := e.orchestrator(orchestrator); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrchestrator, orchestrator)
	}
	raw, err := marshalPayload(input)
	if err != nil {
		return "", fmt.Errorf("marshal input: %w", err)
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	inst := newInstance(instanceID, orchestrator, raw, e.now())
	if err := e.store.Create(ctx, inst); err != nil {
		return "", err
	}
	instancesStarted.WithLabelValues(orchestrator).Inc()
	e.logger.Info().
		Str(xglog.FieldInstanceID, instanceID).
		Str(xglog.FieldOrchestrator, orchestrator).
		Msg("orchestration scheduled")
	e.turns.Push(instanceID)
	return instanceID, nil
}

func (e *Engine) GetStatus(ctx context.Context, instanceID string) (Status, error) {
	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(inst), nil
}

func (e *Engine) ListInstances(ctx context.Context, q Query) ([]Status, error) {
	list, err := e.store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(list))
	for _, inst := range list {
		out = append(out, StatusOf(inst))
	}
	return out, nil
}

func (e *Engine) RaiseEvent(ctx context.Context, instanceID, name string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	err = e.enqueueSignal(ctx, instanceID, name, raw)
	if errors.Is(err, ErrInstanceNotFound) && e.awaitedChild(ctx, instanceID) {
		// The parent already committed the call but the child was not created yet.
		err = e.enqueueSignal(ctx, instanceID, name, raw)
	}
	if errors.Is(err, errFinished) {
		return ErrInstanceNotFound
	}
	if err != nil {
		return err
	}
	e.logger.Debug().
		Str(xglog.FieldInstanceID, instanceID).
		Str(xglog.FieldEvent, name).
		Msg("event queued")
	e.turns.Push(instanceID)
	return nil
}

var errFinished = errors.New("instance finished")

func (e *Engine) enqueueSignal(ctx context.Context, instanceID, name string, raw json.RawMessage) error {
	_, err := e.store.Update(ctx, instanceID, func(inst *Instance) error {
		if inst.Status.IsTerminal() {
			return errFinished
		}
		now := e.now()
		inst.NextSignalSeq++
		inst.Inbox = append(inst.Inbox, Signal{Seq: inst.NextSignalSeq, Name: name, Payload: raw, At: now})
		inst.UpdatedAt = now
		return nil
	})
	return err
}

// Terminate ends a running instance and, transitively, the sub-orchestration it waits on.
// Terminating a finished instance is a no-op.
func (e *Engine) Terminate(ctx context.Context, instanceID, reason string) error {
	var child string
	inst, err := e.store.Update(ctx, instanceID, func(inst *Instance) error {
		child = ""
		if inst.Status.IsTerminal() {
			return errIdle
		}
		if inst.Wait != nil && inst.Wait.Kind == WaitChild {
			child = inst.Wait.Child
		}
		now := e.now()
		inst.Status = StatusTerminated
		inst.Failure = reason
		inst.Wait = nil
		inst.Outcome = nil
		inst.appendHistory(HistTerminated, "", nil, reason, now)
		inst.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errIdle) {
		return nil
	}
	if err != nil {
		return err
	}
	instancesFinished.WithLabelValues(inst.Orchestrator, string(inst.Status)).Inc()
	e.logger.Info().
		Str(xglog.FieldInstanceID, instanceID).
		Str("reason", reason).
		Msg("orchestration terminated")

	if child != "" {
		if err := e.Terminate(ctx, child, reason); err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return fmt.Errorf("terminate sub-orchestration %s: %w", child, err)
		}
	}
	e.notifyParent(ctx, inst)
	return nil
}

func (e *Engine) Purge(ctx context.Context, instanceID string) error {
	inst, err := e.store.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.Status.IsTerminal() {
		return ErrInstanceNotTerminal
	}
	return e.store.Delete(ctx, instanceID)
}

// WaitFor polls the instance status until cond holds or ctx ends.
func WaitFor(ctx context.Context, c Client, instanceID string, interval time.Duration, cond func(Status) bool) (Status, error) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.GetStatus(ctx, instanceID)
		if err != nil && !errors.Is(err, ErrInstanceNotFound) {
			return Status{}, err
		}
		if err == nil && cond(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Finished is a WaitFor condition matching terminal instances.
func Finished(s Status) bool {
	return s.RuntimeStatus.IsTerminal()
}
