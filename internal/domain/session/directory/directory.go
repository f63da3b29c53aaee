// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package directory answers which session orchestration, if any, serves a case.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/durable"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Lister is the part of the orchestration client the directory reads from.
type Lister interface {
	ListInstances(ctx context.Context, q durable.Query) ([]durable.Status, error)
}

// Config bounds the scan.
type Config struct {
	// Lookback limits the scan to sessions created within this window. Zero scans everything.
	Lookback time.Duration
	Clock    func() time.Time
}

// Directory finds the running session of a case. Results are never cached;
// concurrent lookups of the same case share one scan.
type Directory struct {
	lister Lister
	cfg    Config
	logger zerolog.Logger
	group  singleflight.Group
}

func New(lister Lister, cfg Config) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Directory{
		lister: lister,
		cfg:    cfg,
		logger: xglog.WithComponent("directory"),
	}
}

// FindActiveInstanceForCase returns the running session for caseNumber, or nil
// when there is none. More than one match is an invariant violation and yields
// ErrDuplicateSession.
func (d *Directory) FindActiveInstanceForCase(ctx context.Context, caseNumber string) (*model.InstanceRecord, error) {
	key := model.FoldCase(caseNumber)
	ch := d.group.DoChan(key, func() (interface{}, error) {
		// The shared scan must not die with the first caller's request.
		return d.find(context.WithoutCancel(ctx), caseNumber)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*model.InstanceRecord)
		if rec == nil {
			return nil, nil
		}
		// Callers own their copy.
		cp := *rec
		return &cp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Directory) find(ctx context.Context, caseNumber string) (*model.InstanceRecord, error) {
	start := time.Now()
	defer func() {
		lookupDuration.Observe(time.Since(start).Seconds())
	}()

	q := durable.Query{
		Statuses:     []durable.RuntimeStatus{durable.StatusRunning},
		Orchestrator: model.OrchestratorSession,
	}
	if d.cfg.Lookback > 0 {
		q.CreatedFrom = d.cfg.Clock().Add(-d.cfg.Lookback)
	}
	instances, err := d.lister.ListInstances(ctx, q)
	if err != nil {
		lookupTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var matches []model.InstanceRecord
	for _, st := range instances {
		var state model.LifecycleState
		ok, err := st.DecodeCustomStatus(&state)
		if err != nil {
			d.logger.Warn().Err(err).Str(xglog.FieldInstanceID, st.ID).Msg("skipping undecodable lifecycle state")
			continue
		}
		// Sessions still provisioning have not published their state yet.
		if !ok || !model.SameCase(state.CaseNumber, caseNumber) {
			continue
		}
		matches = append(matches, model.InstanceRecord{
			OrchestrationInstanceID: st.ID,
			LifecycleState:          state,
			CreatedAt:               st.CreatedAt,
		})
	}

	switch len(matches) {
	case 0:
		lookupTotal.WithLabelValues("absent").Inc()
		return nil, nil
	case 1:
		lookupTotal.WithLabelValues("found").Inc()
		return &matches[0], nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.OrchestrationInstanceID)
	}
	duplicateSessions.Inc()
	lookupTotal.WithLabelValues("duplicate").Inc()
	d.logger.Error().
		Str(xglog.FieldCaseNumber, caseNumber).
		Strs("instance_ids", ids).
		Msg("more than one running session for case")
	return nil, fmt.Errorf("%w: case %s has %d running sessions", model.ErrDuplicateSession, caseNumber, len(matches))
}
