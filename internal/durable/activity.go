// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/enginemgr/internal/log"
	"github.com/ManuGH/enginemgr/internal/telemetry"
)

// ActivityFunc performs a side effect. It runs at least once per scheduling and
// must tolerate re-execution.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Activity adapts a typed function into an ActivityFunc.
func Activity[In, Out any](fn func(context.Context, In) (Out, error)) ActivityFunc {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in In
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NonRetryable(fmt.Errorf("decode activity input: %w", err))
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}
}

// NonRetryable marks an activity error as final; the engine stops retrying it.
func NonRetryable(err error) error {
	return backoff.Permanent(err)
}

var tracer = telemetry.Tracer("github.com/ManuGH/enginemgr/internal/durable")

type activityTask struct {
	InstanceID  string
	ExecutionID string
	Step        int
	Name        string
	Input       json.RawMessage
}

func (t activityTask) key() string {
	return t.InstanceID + "/" + t.ExecutionID + "/" + strconv.Itoa(t.Step)
}

func taskFor(inst *Instance) activityTask {
	return activityTask{
		InstanceID:  inst.ID,
		ExecutionID: inst.ExecutionID,
		Step:        inst.Wait.Step,
		Name:        inst.Wait.Name,
		Input:       inst.Wait.Input,
	}
}

// dispatchActivity queues task unless the same step is already queued or executing.
func (e *Engine) dispatchActivity(task activityTask) bool {
	key := task.key()
	e.dispatchMu.Lock()
	if _, ok := e.dispatched[key]; ok {
		e.dispatchMu.Unlock()
		return false
	}
	e.dispatched[key] = struct{}{}
	e.dispatchMu.Unlock()

	if !e.tasks.Push(task) {
		e.releaseActivity(key)
		return false
	}
	return true
}

func (e *Engine) releaseActivity(key string) {
	e.dispatchMu.Lock()
	delete(e.dispatched, key)
	e.dispatchMu.Unlock()
}

func (e *Engine) activityDispatched(key string) bool {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	_, ok := e.dispatched[key]
	return ok
}

func (e *Engine) activityWorker(ctx context.Context) {
	for {
		task, ok := e.tasks.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return
		}
		e.execute(ctx, task)
	}
}

// execute runs an activity with retries and reports the outcome to its instance.
func (e *Engine) execute(ctx context.Context, task activityTask) {
	defer e.releaseActivity(task.key())

	logger := e.logger.With().
		Str(xglog.FieldInstanceID, task.InstanceID).
		Str(xglog.FieldActivity, task.Name).
		Int(xglog.FieldStep, task.Step).
		Logger()

	var result json.RawMessage
	var runErr error

	fn, ok := e.activity(task.Name)
	if !ok {
		runErr = fmt.Errorf("%w: %s", ErrUnknownActivity, task.Name)
	} else {
		spanCtx, span := tracer.Start(xglog.ContextWithInstanceID(ctx, task.InstanceID), "activity "+task.Name,
			trace.WithAttributes(telemetry.ActivityAttributes(task.InstanceID, task.Name, task.Step)...))

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.cfg.ActivityRetry.InitialInterval
		b.MaxInterval = e.cfg.ActivityRetry.MaxInterval

		start := time.Now()
		attempts := 0
		result, runErr = backoff.Retry(spanCtx, func() (json.RawMessage, error) {
			attempts++
			return invokeActivity(spanCtx, fn, task.Input)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(e.cfg.ActivityRetry.MaxAttempts)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				logger.Warn().Err(err).Dur("retry_in", next).Msg("activity attempt failed")
			}),
		)
		activityDuration.WithLabelValues(task.Name).Observe(time.Since(start).Seconds())
		span.SetAttributes(attribute.Int(telemetry.AttemptsKey, attempts))
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}
		span.End()
	}

	if ctx.Err() != nil {
		// Shutting down. Recovery re-dispatches the activity on the next start.
		return
	}

	outcome := "success"
	if runErr != nil {
		outcome = "failure"
		logger.Error().Err(runErr).Msg("activity failed")
	}
	activityExecutions.WithLabelValues(task.Name, outcome).Inc()

	e.deliverActivity(ctx, task, result, runErr)
}

func invokeActivity(ctx context.Context, fn ActivityFunc, input json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(fmt.Errorf("activity panic: %v", r))
		}
	}()
	return fn(ctx, input)
}

// deliveryAttempts bounds how often a finished activity's result write is retried.
// A result that still cannot be written is re-dispatched by the sweeper.
const deliveryAttempts = 8

// deliverActivity applies a result only if the instance still waits on that exact step.
func (e *Engine) deliverActivity(ctx context.Context, task activityTask, result json.RawMessage, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	logger := e.logger.With().
		Str(xglog.FieldInstanceID, task.InstanceID).
		Int(xglog.FieldStep, task.Step).
		Logger()

	record := func(inst *Instance) error {
		w := inst.Wait
		if inst.Status.IsTerminal() || w == nil || w.Kind != WaitActivity || w.Step != task.Step ||
			inst.ExecutionID != task.ExecutionID || inst.Outcome != nil {
			return errStale
		}
		now := e.now()
		inst.Wait = nil
		inst.Outcome = &Outcome{Kind: OutcomeActivity, Name: task.Name, Payload: result, Error: errMsg}
		kind := HistActivityCompleted
		if errMsg != "" {
			kind = HistActivityFailed
		}
		inst.appendHistory(kind, task.Name, result, errMsg, now)
		inst.UpdatedAt = now
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.ActivityRetry.InitialInterval
	b.MaxInterval = e.cfg.ActivityRetry.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := e.store.Update(ctx, task.InstanceID, record)
		if errors.Is(err, errStale) || errors.Is(err, ErrInstanceNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(deliveryAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", next).Msg("record activity result failed, retrying")
		}),
	)
	if err != nil {
		if errors.Is(err, errStale) || errors.Is(err, ErrInstanceNotFound) {
			logger.Debug().Msg("dropping activity result no longer awaited")
			return
		}
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("record activity result failed")
		}
		return
	}
	e.turns.Push(task.InstanceID)
}
