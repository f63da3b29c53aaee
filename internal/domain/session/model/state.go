// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// CaseSession is the input of a session orchestration.
type CaseSession struct {
	CaseNumber string `json:"caseNumber"`
	UserID     string `json:"userId"`
}

// ComputeHandle names one provisioned engine and how to reach it.
type ComputeHandle struct {
	Key              string        `json:"key"`
	Address          string        `json:"address,omitempty"`
	Port             string        `json:"port,omitempty"`
	Status           ComputeStatus `json:"status"`
	LastErrorMessage string        `json:"lastErrorMessage,omitempty"`
}

// Healthy reports whether the engine is reachable.
func (h ComputeHandle) Healthy() bool {
	return h.Status == ComputeHealthy && h.Address != ""
}

// FailedHandle builds the Error handle recorded when provisioning did not succeed.
func FailedHandle(key string, cause error) ComputeHandle {
	h := ComputeHandle{Key: key, Status: ComputeError}
	if cause != nil {
		h.LastErrorMessage = cause.Error()
	}
	return h
}

// LifecycleState is the queryable custom status of a session orchestration.
// The session orchestrator writes it once and never mutates it.
type LifecycleState struct {
	CaseNumber              string         `json:"caseNumber"`
	UserID                  string         `json:"userId"`
	Compute                 *ComputeHandle `json:"compute,omitempty"`
	OrchestrationInstanceID string         `json:"orchestrationInstanceId"`
}

// CollaboratorRequest is the payload of the AddCollaborator event.
type CollaboratorRequest struct {
	CollaboratorUserID string `json:"collaboratorUserId"`
}

// InstanceRecord is the directory's projection of one running session.
type InstanceRecord struct {
	OrchestrationInstanceID string         `json:"orchestrationInstanceId"`
	LifecycleState          LifecycleState `json:"lifecycleState"`
	CreatedAt               time.Time      `json:"createdAt"`
}

// ProvisionRequest is the input of the ProvisionCompute activity.
type ProvisionRequest struct {
	CaseNumber string `json:"caseNumber"`
}

// CollaboratorGrant is the input of the ApplyCollaborator activity.
type CollaboratorGrant struct {
	CaseNumber         string        `json:"caseNumber"`
	CollaboratorUserID string        `json:"collaboratorUserId"`
	Compute            ComputeHandle `json:"compute"`
}

// ListenerInput is the carry-over payload of the event listener. It is the
// only state that survives continue-as-new.
type ListenerInput struct {
	CaseNumber          string        `json:"caseNumber"`
	Compute             ComputeHandle `json:"compute"`
	Collaborators       []string      `json:"collaborators,omitempty"`
	IdleTimeout         time.Duration `json:"idleTimeout,omitempty"`
	DeprovisionFailures int           `json:"deprovisionFailures,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

// HasCollaborator reports whether userID was already granted access.
func (in ListenerInput) HasCollaborator(userID string) bool {
	for _, c := range in.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}

// ListenerStatus is the custom status published by the event listener.
type ListenerStatus struct {
	Phase               ListenerPhase `json:"phase"`
	Execution           int           `json:"execution"`
	Collaborators       []string      `json:"collaborators"`
	DeprovisionFailures int           `json:"deprovisionFailures"`
	LastError           string        `json:"lastError,omitempty"`
}

// ListenerResult is the output of a finished event listener.
type ListenerResult struct {
	Reason        string   `json:"reason"`
	ComputeKey    string   `json:"computeKey,omitempty"`
	Collaborators []string `json:"collaborators,omitempty"`
}
