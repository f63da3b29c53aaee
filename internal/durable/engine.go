// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package durable runs long-lived orchestrations as explicit step machines whose
// state is persisted after every suspend point.
package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// RetryPolicy bounds activity retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config tunes the engine's worker pools and timers.
type Config struct {
	Workers         int
	ActivityWorkers int
	ActivityRetry   RetryPolicy
	TimerInterval   time.Duration
	Clock           func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		ActivityWorkers: 8,
		ActivityRetry: RetryPolicy{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		TimerInterval: time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.ActivityWorkers <= 0 {
		c.ActivityWorkers = d.ActivityWorkers
	}
	if c.ActivityRetry.MaxAttempts <= 0 {
		c.ActivityRetry.MaxAttempts = d.ActivityRetry.MaxAttempts
	}
	if c.ActivityRetry.InitialInterval <= 0 {
		c.ActivityRetry.InitialInterval = d.ActivityRetry.InitialInterval
	}
	if c.ActivityRetry.MaxInterval <= 0 {
		c.ActivityRetry.MaxInterval = d.ActivityRetry.MaxInterval
	}
	if c.TimerInterval <= 0 {
		c.TimerInterval = d.TimerInterval
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// maxTurnsPerDispatch bounds how long one worker keeps an instance before yielding.
const maxTurnsPerDispatch = 64

var (
	errIdle  = errors.New("instance has nothing to run")
	errStale = errors.New("result no longer awaited")
)

// Engine hosts orchestrators and activities over a Store.
type Engine struct {
	store  Store
	cfg    Config
	logger zerolog.Logger

	mu            sync.RWMutex
	orchestrators map[string]OrchestratorFunc
	activities    map[string]ActivityFunc

	turns   *workQueue[string]
	tasks   *workQueue[activityTask]
	locks   *keyedMutex
	running atomic.Bool

	// dispatched holds activity keys that are queued or executing.
	dispatchMu sync.Mutex
	dispatched map[string]struct{}
}

// New creates an engine. Register orchestrators and activities before calling Run.
func New(store Store, cfg Config) *Engine {
	return &Engine{
		store:         store,
		cfg:           cfg.withDefaults(),
		logger:        xglog.WithComponent("durable"),
		orchestrators: make(map[string]OrchestratorFunc),
		activities:    make(map[string]ActivityFunc),
		turns:         newWorkQueue(func(id string) string { return id }),
		tasks:         newWorkQueue(activityTask.key),
		locks:         newKeyedMutex(),
		dispatched:    make(map[string]struct{}),
	}
}

func (e *Engine) Store() Store { return e.store }

func (e *Engine) RegisterOrchestrator(name string, fn OrchestratorFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orchestrators[name] = fn
}

func (e *Engine) RegisterActivity(name string, fn ActivityFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[name] = fn
}

func (e *Engine) orchestrator(name string) (OrchestratorFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.orchestrators[name]
	return fn, ok
}

func (e *Engine) activity(name string) (ActivityFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.activities[name]
	return fn, ok
}

func (e *Engine) now() time.Time {
	return e.cfg.Clock().UTC()
}

// Run recovers in-flight instances and processes work until ctx is cancelled.
// It returns after every worker has stopped.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("durable engine already running")
	}

	if err := e.Recover(ctx); err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.turnWorker(ctx)
		}()
	}
	for i := 0; i < e.cfg.ActivityWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.activityWorker(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runSweeper(ctx)
	}()

	e.logger.Info().
		Int("workers", e.cfg.Workers).
		Int("activity_workers", e.cfg.ActivityWorkers).
		Msg("durable engine started")

	<-ctx.Done()
	e.turns.Close()
	e.tasks.Close()
	wg.Wait()
	e.logger.Info().Msg("durable engine stopped")
	return nil
}

func (e *Engine) turnWorker(ctx context.Context) {
	for {
		id, ok := e.turns.Pop(ctx)
		if !ok || ctx.Err() != nil {
			return
		}
		e.process(ctx, id)
	}
}

// process runs turns for one instance until it suspends.
func (e *Engine) process(ctx context.Context, id string) {
	unlock := e.locks.Lock(id)
	defer unlock()

	for i := 0; i < maxTurnsPerDispatch; i++ {
		inst, d, err := e.turn(ctx, id)
		if err != nil {
			if !errors.Is(err, errIdle) && !errors.Is(err, ErrInstanceNotFound) && ctx.Err() == nil {
				e.logger.Error().Err(err).Str(xglog.FieldInstanceID, id).Msg("orchestration turn failed")
			}
			return
		}
		if !e.afterTurn(ctx, inst, d) {
			return
		}
	}
	e.turns.Push(id)
}

// turn resolves the instance's wait, runs one step and persists the result atomically.
func (e *Engine) turn(ctx context.Context, id string) (*Instance, Directive, error) {
	var d Directive
	inst, err := e.store.Update(ctx, id, func(inst *Instance) error {
		d = Directive{}
		if inst.Status.IsTerminal() {
			return errIdle
		}
		now := e.now()
		e.resolveWait(inst, now)
		if inst.Wait != nil || inst.Outcome == nil {
			return errIdle
		}
		if inst.Status == StatusPending {
			inst.Status = StatusRunning
		}

		d = e.runStep(inst, now)
		e.apply(inst, d, now)
		inst.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, d, err
	}
	return inst, d, nil
}

func (e *Engine) runStep(inst *Instance, now time.Time) (d Directive) {
	fn, ok := e.orchestrator(inst.Orchestrator)
	if !ok {
		return Directive{kind: directiveFail, err: fmt.Errorf("%w: %s", ErrUnknownOrchestrator, inst.Orchestrator)}
	}

	logger := e.logger.With().
		Str(xglog.FieldInstanceID, inst.ID).
		Str(xglog.FieldOrchestrator, inst.Orchestrator).
		Int(xglog.FieldStep, inst.Step).
		Int(xglog.FieldExecution, inst.Execution).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			d = Directive{kind: directiveFail, err: fmt.Errorf("orchestrator panic: %v", r)}
		}
	}()

	octx := newContext(inst, now, logger)
	d, err := fn(octx)
	if err != nil {
		return Directive{kind: directiveFail, err: err}
	}
	if d.kind == "" {
		return Directive{kind: directiveFail, err: errors.New("orchestrator returned no directive")}
	}
	return d
}

// resolveWait consumes the first queued event the wait accepts, or fires its timer.
func (e *Engine) resolveWait(inst *Instance, now time.Time) {
	w := inst.Wait
	if w == nil || w.Kind != WaitEvents {
		return
	}
	for idx, sig := range inst.Inbox {
		if !containsName(w.Events, sig.Name) {
			continue
		}
		inst.Inbox = append(inst.Inbox[:idx:idx], inst.Inbox[idx+1:]...)
		inst.Wait = nil
		inst.Outcome = &Outcome{Kind: OutcomeEvent, Name: sig.Name, Payload: sig.Payload}
		inst.appendHistory(HistEventConsumed, sig.Name, sig.Payload, "", now)
		return
	}
	if w.HasDeadline() && !now.Before(w.Deadline) {
		inst.Wait = nil
		inst.Outcome = &Outcome{Kind: OutcomeTimer}
		inst.appendHistory(HistTimerFired, "", nil, "", now)
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// apply records the directive on the instance. Follow-up work happens in afterTurn.
func (e *Engine) apply(inst *Instance, d Directive, now time.Time) {
	if d.err != nil && d.kind != directiveFail {
		d = Directive{kind: directiveFail, err: fmt.Errorf("%s directive: %w", d.kind, d.err)}
	}

	switch d.kind {
	case directiveActivity:
		inst.appendHistory(HistActivityScheduled, d.name, d.payload, "", now)
		inst.Wait = &Wait{Kind: WaitActivity, Step: inst.Step, Name: d.name, Input: d.payload}
		inst.Outcome = nil
		inst.Step++

	case directiveWaitEvents:
		w := &Wait{Kind: WaitEvents, Step: inst.Step, Events: d.events}
		if d.timeout > 0 {
			w.Deadline = now.Add(d.timeout)
			inst.appendHistory(HistTimerCreated, "", nil, "", now)
		}
		inst.Wait = w
		inst.Outcome = nil
		inst.Step++

	case directiveChild:
		inst.appendHistory(HistSubOrchestrationStarted, d.child, d.payload, "", now)
		inst.Wait = &Wait{Kind: WaitChild, Step: inst.Step, Name: d.name, Child: d.child, Input: d.payload}
		inst.Outcome = nil
		inst.Step++

	case directiveContinueAsNew:
		prev := inst.Execution
		inst.History = nil
		inst.Execution++
		inst.ExecutionID = uuid.NewString()
		inst.Step = 0
		inst.Input = d.payload
		inst.Carry = nil
		inst.Wait = nil
		inst.Outcome = &Outcome{Kind: OutcomeStart}
		marker, _ := json.Marshal(map[string]int{"previousExecution": prev})
		inst.appendHistory(HistContinuedAsNew, "", marker, "", now)
		inst.appendHistory(HistExecutionStarted, inst.Orchestrator, d.payload, "", now)

	case directiveComplete:
		inst.Status = StatusCompleted
		inst.Output = d.payload
		inst.Wait = nil
		inst.Outcome = nil
		inst.appendHistory(HistExecutionCompleted, "", d.payload, "", now)

	default:
		msg := "orchestration failed"
		if d.err != nil {
			msg = d.err.Error()
		}
		inst.Status = StatusFailed
		inst.Failure = msg
		inst.Wait = nil
		inst.Outcome = nil
		inst.appendHistory(HistExecutionFailed, "", nil, msg, now)
	}
}

// afterTurn dispatches the follow-up work of a committed turn.
// It reports whether the instance may be able to run again right away.
func (e *Engine) afterTurn(ctx context.Context, inst *Instance, d Directive) bool {
	kind := string(d.kind)
	if d.err != nil {
		kind = string(directiveFail)
	}
	turnsTotal.WithLabelValues(inst.Orchestrator, kind).Inc()

	switch {
	case inst.Status.IsTerminal():
		instancesFinished.WithLabelValues(inst.Orchestrator, string(inst.Status)).Inc()
		ev := e.logger.Info()
		if inst.Status == StatusFailed {
			ev = e.logger.Warn().Str("failure", inst.Failure)
		}
		ev.Str(xglog.FieldInstanceID, inst.ID).
			Str(xglog.FieldOrchestrator, inst.Orchestrator).
			Str("status", string(inst.Status)).
			Msg("orchestration finished")
		e.notifyParent(ctx, inst)
		return false

	case d.kind == directiveActivity:
		e.dispatchActivity(taskFor(inst))
		return false

	case d.kind == directiveChild:
		e.ensureChild(ctx, inst)
		return false

	case d.kind == directiveContinueAsNew:
		continueAsNewTotal.WithLabelValues(inst.Orchestrator).Inc()
		e.logger.Debug().
			Str(xglog.FieldInstanceID, inst.ID).
			Int(xglog.FieldExecution, inst.Execution).
			Msg("orchestration continued as new")
		return true

	case d.kind == directiveWaitEvents:
		// A queued event may already satisfy the wait.
		return true
	}
	return false
}

func newInstance(id, orchestrator string, input json.RawMessage, now time.Time) *Instance {
	inst := &Instance{
		ID:           id,
		Orchestrator: orchestrator,
		Status:       StatusPending,
		Input:        input,
		ExecutionID:  uuid.NewString(),
		Outcome:      &Outcome{Kind: OutcomeStart},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	inst.appendHistory(HistExecutionStarted, orchestrator, input, "", now)
	return inst
}

// ensureChild makes sure the child a parent waits on exists, and delivers its
// result if it already finished. It reports whether the child record exists
// for this parent execution when it returns.
func (e *Engine) ensureChild(ctx context.Context, parent *Instance) bool {
	w := parent.Wait
	if w == nil || w.Kind != WaitChild {
		return false
	}

	child, err := e.store.Get(ctx, w.Child)
	switch {
	case err == nil && child.ParentExecutionID == parent.ExecutionID:
		if child.Status.IsTerminal() {
			e.notifyParent(ctx, child)
		}
		return true
	case err == nil && !child.Status.IsTerminal():
		e.logger.Error().
			Str(xglog.FieldInstanceID, parent.ID).
			Str("child_id", child.ID).
			Str("child_parent_id", child.ParentID).
			Msg("sub-orchestration id is owned by another running instance")
		return false
	case err != nil && !errors.Is(err, ErrInstanceNotFound):
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Str(xglog.FieldInstanceID, parent.ID).Msg("lookup sub-orchestration failed")
		}
		return false
	}

	inst := newInstance(w.Child, w.Name, w.Input, e.now())
	inst.ParentID = parent.ID
	inst.ParentExecutionID = parent.ExecutionID
	if err := e.store.Create(ctx, inst); err != nil {
		if errors.Is(err, ErrInstanceExists) {
			return true
		}
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Str(xglog.FieldInstanceID, parent.ID).Msg("start sub-orchestration failed")
		}
		return false
	}
	instancesStarted.WithLabelValues(inst.Orchestrator).Inc()
	e.turns.Push(inst.ID)
	return true
}

// awaitedChild creates id when a running parent already committed a wait on it
// but the child record was not written yet. It reports whether the child exists.
func (e *Engine) awaitedChild(ctx context.Context, id string) bool {
	list, err := e.store.List(ctx, Query{Statuses: []RuntimeStatus{StatusPending, StatusRunning}})
	if err != nil {
		return false
	}
	for _, p := range list {
		if w := p.Wait; w != nil && w.Kind == WaitChild && w.Child == id {
			return e.ensureChild(ctx, p)
		}
	}
	return false
}

// notifyParent hands a finished child's result to the parent waiting on it.
func (e *Engine) notifyParent(ctx context.Context, child *Instance) {
	if child.ParentID == "" || !child.Status.IsTerminal() {
		return
	}
	errMsg := ""
	if child.Status != StatusCompleted {
		errMsg = child.Failure
		if errMsg == "" {
			errMsg = string(child.Status)
		}
	}

	_, err := e.store.Update(ctx, child.ParentID, func(p *Instance) error {
		w := p.Wait
		if p.Status.IsTerminal() || w == nil || w.Kind != WaitChild || w.Child != child.ID ||
			p.ExecutionID != child.ParentExecutionID || p.Outcome != nil {
			return errStale
		}
		now := e.now()
		p.Wait = nil
		p.Outcome = &Outcome{Kind: OutcomeChild, Name: child.ID, Payload: cloneRaw(child.Output), Error: errMsg}
		kind := HistSubOrchestrationCompleted
		if errMsg != "" {
			kind = HistSubOrchestrationFailed
		}
		p.appendHistory(kind, child.ID, cloneRaw(child.Output), errMsg, now)
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStale) && !errors.Is(err, ErrInstanceNotFound) {
			e.logger.Warn().Err(err).Str(xglog.FieldInstanceID, child.ParentID).Msg("notify parent failed")
		}
		return
	}
	e.turns.Push(child.ParentID)
}

// Recover re-enqueues every non-terminal instance, re-dispatches activities that
// were scheduled but never reported, and re-attaches sub-orchestrations.
func (e *Engine) Recover(ctx context.Context) error {
	list, err := e.store.List(ctx, Query{Statuses: []RuntimeStatus{StatusPending, StatusRunning}})
	if err != nil {
		return err
	}
	activities := 0
	for _, inst := range list {
		if w := inst.Wait; w != nil {
			switch w.Kind {
			case WaitActivity:
				if e.dispatchActivity(taskFor(inst)) {
					activities++
				}
			case WaitChild:
				e.ensureChild(ctx, inst)
			}
		}
		e.turns.Push(inst.ID)
	}
	if len(list) > 0 {
		e.logger.Info().
			Int("instances", len(list)).
			Int("activities", activities).
			Msg("recovered in-flight orchestrations")
	}
	return nil
}
