// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/enginemgr/internal/domain/session/directory"
	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/orchestration"
	"github.com/ManuGH/enginemgr/internal/durable"
)

type stubProvisioner struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (p *stubProvisioner) Provision(ctx context.Context, req model.ProvisionRequest) (model.ComputeHandle, error) {
	p.calls.Add(1)
	key := model.ComputeName("engine", req.CaseNumber)
	if p.fail.Load() {
		return model.FailedHandle(key, errors.New("workload not ready after 3 attempts")), nil
	}
	return model.ComputeHandle{Key: key, Address: "10.1.2.3", Port: "31000", Status: model.ComputeHealthy}, nil
}

type stubDeprovisioner struct {
	mu       sync.Mutex
	failures int
	deleted  []string
}

func (d *stubDeprovisioner) Deprovision(ctx context.Context, h model.ComputeHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("forbidden")
	}
	d.deleted = append(d.deleted, h.Key)
	return nil
}

type stubApplier struct{}

func (stubApplier) ApplyCollaborator(ctx context.Context, grant model.CollaboratorGrant) error {
	return nil
}

type fixture struct {
	svc    *Service
	engine *durable.Engine
	prov   *stubProvisioner
	deprov *stubDeprovisioner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, durable.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store durable.Store) *fixture {
	t.Helper()
	engine := durable.New(store, durable.Config{
		Workers:         4,
		ActivityWorkers: 4,
		ActivityRetry:   durable.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		TimerInterval:   10 * time.Millisecond,
	})
	f := &fixture{engine: engine, prov: &stubProvisioner{}, deprov: &stubDeprovisioner{}}
	orchestration.Register(engine, orchestration.Deps{
		Provisioner:   f.prov,
		Deprovisioner: f.deprov,
		Collaborators: stubApplier{},
	}, orchestration.Config{})

	f.svc = New(engine, directory.New(engine, directory.Config{}), nil, Config{
		StartTimeout:       5 * time.Second,
		PollInterval:       5 * time.Millisecond,
		DeletePollInterval: 5 * time.Millisecond,
		DeletePollAttempts: 400,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func asUser(id string) context.Context {
	return ContextWithUserID(context.Background(), id)
}

func TestGetOrCreate_StartsOnceAndReturnsExisting(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.GetOrCreate(asUser("alice"), "Case-42")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "case-case-42", rec.OrchestrationInstanceID)
	assert.Equal(t, "alice", rec.LifecycleState.UserID)
	require.NotNil(t, rec.LifecycleState.Compute)
	assert.True(t, rec.LifecycleState.Compute.Healthy())

	again, err := f.svc.GetOrCreate(asUser("bob"), "CASE-42")
	require.NoError(t, err)
	assert.Equal(t, rec.OrchestrationInstanceID, again.OrchestrationInstanceID)
	assert.Equal(t, "alice", again.LifecycleState.UserID, "existing session keeps its owner")
	assert.Equal(t, int32(1), f.prov.calls.Load())
}

func TestGetOrCreate_ConcurrentCallersShareOneSession(t *testing.T) {
	f := newFixture(t)

	const callers = 10
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caseNumber := "race-7"
			if i%2 == 1 {
				caseNumber = "RACE-7"
			}
			rec, err := f.svc.GetOrCreate(asUser("u"), caseNumber)
			if assert.NoError(t, err) {
				ids[i] = rec.OrchestrationInstanceID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), f.prov.calls.Load())
}

func TestGetOrCreate_ProvisioningFailureSurfacesTypedError(t *testing.T) {
	f := newFixture(t)
	f.prov.fail.Store(true)

	rec, err := f.svc.GetOrCreate(asUser("alice"), "broken")
	require.ErrorIs(t, err, model.ErrProvisioningFailure)
	require.NotNil(t, rec, "the degraded session is still reported so it can be ended")
	assert.Equal(t, model.ComputeError, rec.LifecycleState.Compute.Status)

	require.NoError(t, f.svc.Delete(context.Background(), "broken"))
	assert.Equal(t, []string{"engine-broken"}, f.deprov.deleted)
}

func TestGetOrCreate_RequiresIdentityAndValidCase(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetOrCreate(context.Background(), "no-user")
	require.ErrorIs(t, err, model.ErrBadRequest)

	_, err = f.svc.GetOrCreate(asUser("alice"), "  ")
	require.ErrorIs(t, err, model.ErrBadRequest)
	assert.Equal(t, int32(0), f.prov.calls.Load())
}

func TestDelete_EndsSessionAndAllowsRestart(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("alice")

	first, err := f.svc.GetOrCreate(ctx, "77")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "77"))
	assert.Equal(t, []string{"engine-77"}, f.deprov.deleted)

	st, err := f.engine.GetStatus(ctx, first.OrchestrationInstanceID)
	require.NoError(t, err)
	assert.Equal(t, durable.StatusCompleted, st.RuntimeStatus)

	second, err := f.svc.GetOrCreate(ctx, "77")
	require.NoError(t, err)
	assert.Equal(t, first.OrchestrationInstanceID, second.OrchestrationInstanceID)
	assert.Equal(t, int32(2), f.prov.calls.Load())
}

func TestDelete_UnknownCase(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Delete(context.Background(), "nobody")
	require.ErrorIs(t, err, model.ErrSessionNotFound)
}

func TestDelete_DeprovisionFailureIsSurfaced(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("alice")
	_, err := f.svc.GetOrCreate(ctx, "stuck")
	require.NoError(t, err)

	f.deprov.mu.Lock()
	f.deprov.failures = 1
	f.deprov.mu.Unlock()

	err = f.svc.Delete(ctx, "stuck")
	require.ErrorIs(t, err, model.ErrDeprovisioningFailure)
	assert.Contains(t, err.Error(), "forbidden")

	rec, err := directory.New(f.engine, directory.Config{}).FindActiveInstanceForCase(ctx, "stuck")
	require.NoError(t, err)
	require.NotNil(t, rec, "session stays active for a retry")

	require.NoError(t, f.svc.Delete(ctx, "stuck"))
}

func TestDelete_TimesOut(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("alice")
	_, err := f.svc.GetOrCreate(ctx, "slow")
	require.NoError(t, err)

	svc := New(f.engine, stickyFinder{}, nil, Config{
		DeletePollInterval: time.Millisecond,
		DeletePollAttempts: 3,
	})
	err = svc.Delete(ctx, "slow")
	require.ErrorIs(t, err, model.ErrDeleteTimeout)
}

// listenerGate fails event listener creation while closed.
type listenerGate struct {
	durable.Store
	closed atomic.Bool
}

func (g *listenerGate) Create(ctx context.Context, inst *durable.Instance) error {
	if g.closed.Load() && strings.HasSuffix(inst.ID, model.ListenerInstanceID("")) {
		return errors.New("store unavailable")
	}
	return g.Store.Create(ctx, inst)
}

func TestDelete_ReachesListenerNotYetCreated(t *testing.T) {
	gate := &listenerGate{Store: durable.NewMemoryStore()}
	gate.closed.Store(true)
	f := newFixtureWithStore(t, gate)
	ctx := asUser("alice")

	rec, err := f.svc.GetOrCreate(ctx, "88")
	require.NoError(t, err)
	_, err = f.engine.GetStatus(ctx, model.ListenerInstanceID(rec.OrchestrationInstanceID))
	require.ErrorIs(t, err, durable.ErrInstanceNotFound)

	gate.closed.Store(false)
	require.NoError(t, f.svc.Delete(ctx, "88"))
	assert.Equal(t, []string{"engine-88"}, f.deprov.deleted)
}

// stickyFinder keeps reporting the first record it saw.
type stickyFinder struct{}

func (s stickyFinder) FindActiveInstanceForCase(ctx context.Context, caseNumber string) (*model.InstanceRecord, error) {
	return &model.InstanceRecord{
		OrchestrationInstanceID: "case-slow-missing",
		LifecycleState:          model.LifecycleState{CaseNumber: caseNumber},
	}, nil
}

func TestAddCollaborator(t *testing.T) {
	f := newFixture(t)
	ctx := asUser("alice")

	require.ErrorIs(t, f.svc.AddCollaborator(ctx, "none", "bob"), model.ErrSessionNotFound)

	rec, err := f.svc.GetOrCreate(ctx, "collab")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.AddCollaborator(ctx, "collab", ""), model.ErrBadRequest)
	require.NoError(t, f.svc.AddCollaborator(ctx, "COLLAB", "bob"))

	listener := model.ListenerInstanceID(rec.OrchestrationInstanceID)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = durable.WaitFor(waitCtx, f.engine, listener, 5*time.Millisecond, func(s durable.Status) bool {
		var ls model.ListenerStatus
		ok, err := s.DecodeCustomStatus(&ls)
		return err == nil && ok && len(ls.Collaborators) == 1 && ls.Collaborators[0] == "bob"
	})
	require.NoError(t, err)
}
