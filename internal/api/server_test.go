// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/service"
	"github.com/ManuGH/enginemgr/internal/health"
)

type fakeSessions struct {
	mu           sync.Mutex
	rec          *model.InstanceRecord
	err          error
	userIDs      []string
	deleted      []string
	collaborator string
}

func (f *fakeSessions) GetOrCreate(ctx context.Context, caseNumber string) (*model.InstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userIDs = append(f.userIDs, service.UserIDFromContext(ctx))
	if err := model.ValidateCaseNumber(caseNumber); err != nil {
		return nil, err
	}
	return f.rec, f.err
}

func (f *fakeSessions) Delete(_ context.Context, caseNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, caseNumber)
	return f.err
}

func (f *fakeSessions) AddCollaborator(_ context.Context, caseNumber, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == "" {
		return fmt.Errorf("%w: collaboratorUserId is required", model.ErrBadRequest)
	}
	f.collaborator = userID
	return f.err
}

func healthyRecord() *model.InstanceRecord {
	return &model.InstanceRecord{
		OrchestrationInstanceID: "case-42",
		LifecycleState: model.LifecycleState{
			CaseNumber: "42",
			UserID:     "alice",
			Compute: &model.ComputeHandle{
				Key:     "engine-42",
				Address: "10.0.0.7",
				Port:    "30080",
				Status:  model.ComputeHealthy,
			},
			OrchestrationInstanceID: "case-42",
		},
	}
}

func newTestServer(t *testing.T, sessions SessionService) *httptest.Server {
	t.Helper()
	srv := New(sessions, health.NewManager("test"), Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeProblem(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestGetOrCreate(t *testing.T) {
	fake := &fakeSessions{rec: healthyRecord()}
	ts := newTestServer(t, fake)

	resp := do(t, ts, http.MethodGet, "/api/v1/engine-instances/42", "", map[string]string{"X-User-ID": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var rec model.InstanceRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "case-42", rec.OrchestrationInstanceID)
	require.NotNil(t, rec.LifecycleState.Compute)
	assert.Equal(t, "engine-42", rec.LifecycleState.Compute.Key)
	assert.Equal(t, []string{"alice"}, fake.userIDs)
}

func TestGetOrCreate_ProvisioningFailed(t *testing.T) {
	rec := healthyRecord()
	rec.LifecycleState.Compute = &model.ComputeHandle{Key: "engine-42", Status: model.ComputeError, LastErrorMessage: "quota exceeded"}
	fake := &fakeSessions{rec: rec, err: fmt.Errorf("%w: quota exceeded", model.ErrProvisioningFailure)}
	ts := newTestServer(t, fake)

	resp := do(t, ts, http.MethodGet, "/api/v1/engine-instances/42", "", nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decodeProblem(t, resp)
	assert.Equal(t, CodeProvisioningFailed, body["code"])
	assert.Equal(t, "case-42", body["orchestrationInstanceId"])
	assert.Contains(t, body["detail"], "quota exceeded")
}

func TestDelete(t *testing.T) {
	fake := &fakeSessions{}
	ts := newTestServer(t, fake)

	resp := do(t, ts, http.MethodDelete, "/api/v1/engine-instances/42", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/v1/engine-instances/43/delete", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, []string{"42", "43"}, fake.deleted)
}

func TestAddCollaborator(t *testing.T) {
	fake := &fakeSessions{}
	ts := newTestServer(t, fake)

	resp := do(t, ts, http.MethodPut, "/api/v1/engine-instances/42/collaborators", `{"collaboratorUserId":"bob"}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "bob", fake.collaborator)
}

func TestAddCollaborator_BadBody(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	for name, body := range map[string]string{
		"empty":         "",
		"malformed":     `{"collaboratorUserId":`,
		"unknown field": `{"user":"bob"}`,
		"missing id":    `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := do(t, ts, http.MethodPut, "/api/v1/engine-instances/42/collaborators", body, nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, CodeBadRequest, decodeProblem(t, resp)["code"])
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.ErrSessionNotFound, http.StatusNotFound, CodeSessionNotFound},
		{fmt.Errorf("lookup: %w", model.ErrDuplicateSession), http.StatusConflict, CodeDuplicateSession},
		{fmt.Errorf("%w: volume stuck", model.ErrDeprovisioningFailure), http.StatusBadGateway, CodeDeprovisioningFailed},
		{model.ErrDeleteTimeout, http.StatusGatewayTimeout, CodeTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := newTestServer(t, &fakeSessions{err: tt.err})
			resp := do(t, ts, http.MethodDelete, "/api/v1/engine-instances/42", "", map[string]string{"X-Request-ID": "req-7"})
			require.Equal(t, tt.status, resp.StatusCode)

			body := decodeProblem(t, resp)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, "req-7", body["requestId"])
			if tt.code == CodeInternal {
				assert.NotContains(t, body["detail"], "disk on fire")
			}
		})
	}
}

func TestCustomUserHeader(t *testing.T) {
	fake := &fakeSessions{rec: healthyRecord()}
	srv := New(fake, health.NewManager("test"), Config{UserHeader: "X-Remote-User"})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := do(t, ts, http.MethodGet, "/api/v1/engine-instances/42", "", map[string]string{
		"X-Remote-User": "carol",
		"X-User-ID":     "mallory",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"carol"}, fake.userIDs)
}

func TestProbesAndMetrics(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/healthz", "", nil).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, ts, http.MethodGet, "/readyz", "", nil).StatusCode)

	resp := do(t, ts, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}
