// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	"github.com/ManuGH/enginemgr/internal/durable"
)

func TestStorageUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runStorage(nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "storage export")

	assert.Equal(t, 2, runStorage([]string{"shrink"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown subcommand")
}

func TestStorageVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.db")
	store, err := durable.NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	var stdout, stderr bytes.Buffer
	code := runStorage([]string{"verify", "--path", path, "--mode", "full"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "ok")

	assert.Equal(t, 2, runStorage([]string{"verify"}, &stdout, &stderr))
	assert.Equal(t, 2, runStorage([]string{"verify", "--path", path, "--mode", "deep"}, &stdout, &stderr))
}

func TestExportInstances(t *testing.T) {
	ctx := context.Background()
	store := durable.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &durable.Instance{ID: "case-1", Orchestrator: "SessionOrchestrator", Status: durable.StatusRunning}))
	require.NoError(t, store.Create(ctx, &durable.Instance{ID: "case-2", Orchestrator: "SessionOrchestrator", Status: durable.StatusCompleted}))

	out := filepath.Join(t.TempDir(), "snapshot.json")
	n, err := exportInstances(ctx, store, "memory", parseStatuses("running"), out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "memory", snap.Backend)
	require.Len(t, snap.Instances, 1)
	assert.Equal(t, "case-1", snap.Instances[0].ID)

	n, err = exportInstances(ctx, store, "memory", nil, out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestParseStatuses(t *testing.T) {
	assert.Nil(t, parseStatuses(""))
	assert.Equal(t,
		[]durable.RuntimeStatus{durable.StatusRunning, durable.StatusFailed},
		parseStatuses(" running, FAILED ,"))
}

func TestHealthcheck(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" && !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, runHealthcheck([]string{"--addr", ts.URL}, &stdout, &stderr))

	ready.Store(false)
	assert.Equal(t, 1, runHealthcheck([]string{"--addr", ts.URL}, &stdout, &stderr))
	assert.Equal(t, 0, runHealthcheck([]string{"--addr", ts.URL, "--mode", "live"}, &stdout, &stderr))
}

type podLister struct {
	ports.Cluster
	err      error
	selector string
}

func (p *podLister) ListPods(_ context.Context, selector string) ([]ports.PodInfo, error) {
	p.selector = selector
	return nil, p.err
}

func TestClusterProbe(t *testing.T) {
	c := &podLister{}
	require.NoError(t, clusterProbe(c)(context.Background()))
	assert.Equal(t, "app=readiness-probe", c.selector)

	c.err = errors.New("forbidden")
	assert.EqualError(t, clusterProbe(c)(context.Background()), "forbidden")
}
