// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"context"
	"time"

	xglog "github.com/ManuGH/enginemgr/internal/log"
)

func (e *Engine) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TimerInterval)
	defer ticker.Stop()

	e.logger.Debug().Dur("interval", e.cfg.TimerInterval).Msg("timer sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one pass over running instances. It wakes instances whose
// timer elapsed or whose inbox holds an awaited event, re-attaches missing
// sub-orchestrations, re-dispatches activities whose result was lost and
// refreshes the running gauge.
func (e *Engine) SweepOnce(ctx context.Context) {
	list, err := e.store.List(ctx, Query{Statuses: []RuntimeStatus{StatusPending, StatusRunning}})
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn().Err(err).Msg("timer sweep failed")
		}
		return
	}

	now := e.now()
	running := make(map[string]int)
	fired := 0
	redispatched := 0
	for _, inst := range list {
		running[inst.Orchestrator]++
		w := inst.Wait
		switch {
		case w == nil:
			if inst.Outcome != nil {
				e.turns.Push(inst.ID)
			}
		case w.Kind == WaitEvents:
			if w.HasDeadline() && !now.Before(w.Deadline) {
				fired++
				e.turns.Push(inst.ID)
				continue
			}
			for _, sig := range inst.Inbox {
				if containsName(w.Events, sig.Name) {
					e.turns.Push(inst.ID)
					break
				}
			}
		case w.Kind == WaitChild:
			e.ensureChild(ctx, inst)
		case w.Kind == WaitActivity:
			if e.redispatchActivity(ctx, taskFor(inst)) {
				redispatched++
			}
		}
	}

	instancesRunning.Reset()
	for name, n := range running {
		instancesRunning.WithLabelValues(name).Set(float64(n))
	}
	if fired > 0 {
		e.logger.Debug().Int("timers", fired).Str(xglog.FieldComponent, "sweeper").Msg("timers fired")
	}
	if redispatched > 0 {
		e.logger.Warn().Int("activities", redispatched).Str(xglog.FieldComponent, "sweeper").
			Msg("re-dispatched activities whose result was never recorded")
	}
}

// redispatchActivity queues an awaited activity that is neither queued nor
// executing and was scheduled at least one sweep interval ago. The instance is
// re-read so a result recorded after the listing does not run the activity again.
func (e *Engine) redispatchActivity(ctx context.Context, task activityTask) bool {
	if e.activityDispatched(task.key()) {
		return false
	}
	cur, err := e.store.Get(ctx, task.InstanceID)
	if err != nil || cur.Status.IsTerminal() || cur.Outcome != nil ||
		e.now().Sub(cur.UpdatedAt) < e.cfg.TimerInterval {
		return false
	}
	if w := cur.Wait; w == nil || w.Kind != WaitActivity || w.Step != task.Step || cur.ExecutionID != task.ExecutionID {
		return false
	}
	return e.dispatchActivity(task)
}
