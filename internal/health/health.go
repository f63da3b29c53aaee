// SPDX-License-Identifier: MIT

// Package health provides health and readiness check functionality for production deployments.
// It backs the Kubernetes liveness and readiness probes of the daemon.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/enginemgr/internal/durable"
	"github.com/ManuGH/enginemgr/internal/log"
)

// Status is the health of one component or of the whole daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// CheckResult is one component's verdict.
type CheckResult struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthResponse is the liveness body. Checks are only included on request.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptime_seconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks for /healthz and /readyz.
type Manager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now()}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// evaluate runs all checkers concurrently and folds their worst status.
func (m *Manager) evaluate(ctx context.Context) (Status, map[string]CheckResult) {
	m.mu.RLock()
	checkers := slices.Clone(m.checkers)
	m.mu.RUnlock()
	if len(checkers) == 0 {
		return StatusHealthy, nil
	}

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			start := time.Now()
			res := c.Check(ctx)
			res.LatencyMS = time.Since(start).Milliseconds()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	checks := make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		checks[c.Name()] = results[i]
		if results[i].Status.rank() > overall.rank() {
			overall = results[i].Status
		}
	}
	return overall, checks
}

// Health answers the liveness probe. Component checks only run when verbose.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
	}
	if verbose {
		resp.Status, resp.Checks = m.evaluate(ctx)
	}
	return resp
}

// Ready answers the readiness probe. Degraded components still count as ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	status, checks := m.evaluate(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth always answers 200 while the process runs.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	resp := m.Health(r.Context(), verbose)
	writeProbe(w, r, "health", http.StatusOK, resp, resp.Status)
}

// ServeReady answers 503 when any critical component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Ready(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeProbe(w, r, "readiness", code, resp, resp.Status)
}

func writeProbe(w http.ResponseWriter, r *http.Request, probe string, code int, body any, status Status) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error().Err(err).Str("event", probe+".encode_error").Msg("failed to encode probe response")
	}
	logger.Debug().
		Str("event", probe+".checked").
		Str("status", string(status)).
		Int("code", code).
		Msg("probe answered")
}

// probeInstanceID never names a real instance; looking it up exercises the store.
const probeInstanceID = "__readiness_probe__"

// InstanceGetter is the slice of the instance store the readiness probe needs.
type InstanceGetter interface {
	Get(ctx context.Context, id string) (*durable.Instance, error)
}

// StoreChecker reports whether the instance store answers lookups.
type StoreChecker struct {
	store   InstanceGetter
	timeout time.Duration
}

// NewStoreChecker creates a checker for the instance store.
func NewStoreChecker(store InstanceGetter) *StoreChecker {
	return &StoreChecker{store: store, timeout: 2 * time.Second}
}

func (c *StoreChecker) Name() string {
	return "instance_store"
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.store.Get(ctx, probeInstanceID)
	if err == nil || errors.Is(err, durable.ErrInstanceNotFound) {
		return CheckResult{Status: StatusHealthy, Message: "store reachable"}
	}
	return CheckResult{
		Status:  StatusUnhealthy,
		Error:   err.Error(),
		Message: "store lookup failed",
	}
}

// FuncChecker adapts a probe function. A nil error is healthy; an error makes
// the component degraded or unhealthy depending on critical.
type FuncChecker struct {
	name     string
	critical bool
	probe    func(ctx context.Context) error
}

// NewFuncChecker creates a checker around probe.
func NewFuncChecker(name string, critical bool, probe func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, probe: probe}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := c.probe(ctx); err != nil {
		status := StatusDegraded
		if c.critical {
			status = StatusUnhealthy
		}
		return CheckResult{Status: status, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}
