// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/enginemgr/internal/config"
	"github.com/ManuGH/enginemgr/internal/durable"
)

func TestManager_Health(t *testing.T) {
	m := NewManager("v1.2.3")
	m.RegisterChecker(&mockChecker{name: "store", status: StatusHealthy})
	m.RegisterChecker(&mockChecker{name: "cluster", status: StatusDegraded})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.GreaterOrEqual(t, resp.Uptime, int64(0))
	assert.Nil(t, resp.Checks, "liveness skips component checks unless verbose")

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)
	assert.Equal(t, StatusDegraded, resp.Checks["cluster"].Status)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []Status
		wantReady  bool
		wantStatus Status
	}{
		{"no checkers", nil, true, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, true, StatusHealthy},
		{"degraded stays ready", []Status{StatusHealthy, StatusDegraded}, true, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, false, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("test")
			for i, st := range tt.statuses {
				m.RegisterChecker(&mockChecker{name: fmt.Sprintf("c%d", i), status: st})
			}

			resp := m.Ready(context.Background())
			assert.Equal(t, tt.wantReady, resp.Ready)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.statuses))
		})
	}
}

func TestManager_ChecksRunConcurrently(t *testing.T) {
	m := NewManager("test")
	for i := range 4 {
		m.RegisterChecker(&mockChecker{name: fmt.Sprintf("slow%d", i), status: StatusHealthy, delay: 200 * time.Millisecond})
	}

	start := time.Now()
	resp := m.Ready(context.Background())
	elapsed := time.Since(start)

	assert.True(t, resp.Ready)
	assert.Less(t, elapsed, 600*time.Millisecond)
	assert.GreaterOrEqual(t, resp.Checks["slow0"].LatencyMS, int64(200))
}

func TestManager_ServeHealth(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(&mockChecker{name: "store", status: StatusUnhealthy})

	w := httptest.NewRecorder()
	m.ServeHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Nil(t, resp.Checks)

	// Liveness stays 200 even when a verbose check reports unhealthy.
	w = httptest.NewRecorder()
	m.ServeHealth(w, httptest.NewRequest(http.MethodGet, "/healthz?verbose=true", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 1)
}

func TestManager_ServeReady(t *testing.T) {
	tests := []struct {
		status    Status
		wantCode  int
		wantReady bool
	}{
		{StatusHealthy, http.StatusOK, true},
		{StatusDegraded, http.StatusOK, true},
		{StatusUnhealthy, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			m := NewManager("v1.0.0")
			m.RegisterChecker(&mockChecker{name: "store", status: tt.status})

			w := httptest.NewRecorder()
			m.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantReady, resp.Ready)
		})
	}
}

func TestManager_ServeProbes_BrokenWriter(t *testing.T) {
	m := NewManager("v1.0.0")
	w := &brokenWriter{header: make(http.Header)}

	assert.NotPanics(t, func() {
		m.ServeHealth(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		m.ServeReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	})
}

func TestStoreChecker(t *testing.T) {
	store := durable.NewMemoryStore()
	checker := NewStoreChecker(store)
	assert.Equal(t, "instance_store", checker.Name())

	result := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, result.Status)
}

func TestStoreChecker_Failure(t *testing.T) {
	checker := NewStoreChecker(failingStore{err: errors.New("database is locked")})

	result := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Error, "database is locked")
}

func TestFuncChecker(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		err      error
		want     Status
	}{
		{"ok", true, nil, StatusHealthy},
		{"critical failure", true, errors.New("forbidden"), StatusUnhealthy},
		{"optional failure", false, errors.New("timeout"), StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewFuncChecker("cluster", tt.critical, func(context.Context) error { return tt.err })
			assert.Equal(t, "cluster", checker.Name())

			result := checker.Check(context.Background())
			assert.Equal(t, tt.want, result.Status)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), result.Error)
			}
		})
	}
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	require.NoError(t, PerformStartupChecks(cfg))

	_, err := os.Stat(filepath.Join(cfg.DataDir, ".write_test"))
	assert.True(t, os.IsNotExist(err), "probe file must be removed")
}

func TestPerformStartupChecks_MissingDataDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "missing")

	err := PerformStartupChecks(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestPerformStartupChecks_MemorySkipsDataDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.DataDir = filepath.Join(t.TempDir(), "missing")

	assert.NoError(t, PerformStartupChecks(cfg))
}

func TestPerformStartupChecks_ManifestDirIsFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Cluster.ManifestDir = filepath.Join(cfg.DataDir, "manifest.yaml")
	require.NoError(t, os.WriteFile(cfg.Cluster.ManifestDir, []byte("kind: Service"), 0600))

	err := PerformStartupChecks(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

type failingStore struct{ err error }

func (s failingStore) Get(context.Context, string) (*durable.Instance, error) {
	return nil, s.err
}

type mockChecker struct {
	name   string
	status Status
	delay  time.Duration
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
		}
	}
	return CheckResult{Status: m.status}
}

type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) Write([]byte) (int, error) { return 0, assert.AnError }
func (w *brokenWriter) WriteHeader(int)           {}
