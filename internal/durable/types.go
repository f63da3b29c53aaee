// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInstanceExists      = errors.New("orchestration instance already exists")
	ErrInstanceNotFound    = errors.New("orchestration instance not found")
	ErrInstanceNotTerminal = errors.New("orchestration instance is still running")
	ErrUnknownOrchestrator = errors.New("unknown orchestrator")
	ErrUnknownActivity     = errors.New("unknown activity")
	ErrConflict            = errors.New("concurrent instance update")
)

// RuntimeStatus is the substrate-level status of an orchestration instance.
type RuntimeStatus string

const (
	StatusPending    RuntimeStatus = "PENDING"
	StatusRunning    RuntimeStatus = "RUNNING"
	StatusCompleted  RuntimeStatus = "COMPLETED"
	StatusFailed     RuntimeStatus = "FAILED"
	StatusTerminated RuntimeStatus = "TERMINATED"
)

// IsTerminal returns true if the instance will never run another step.
func (s RuntimeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	}
	return false
}

// HistoryKind classifies an entry in an execution's history.
type HistoryKind string

const (
	HistExecutionStarted          HistoryKind = "ExecutionStarted"
	HistActivityScheduled         HistoryKind = "ActivityScheduled"
	HistActivityCompleted         HistoryKind = "ActivityCompleted"
	HistActivityFailed            HistoryKind = "ActivityFailed"
	HistEventConsumed             HistoryKind = "EventConsumed"
	HistTimerCreated              HistoryKind = "TimerCreated"
	HistTimerFired                HistoryKind = "TimerFired"
	HistSubOrchestrationStarted   HistoryKind = "SubOrchestrationStarted"
	HistSubOrchestrationCompleted HistoryKind = "SubOrchestrationCompleted"
	HistSubOrchestrationFailed    HistoryKind = "SubOrchestrationFailed"
	HistCustomStatusSet           HistoryKind = "CustomStatusSet"
	HistContinuedAsNew            HistoryKind = "ContinuedAsNew"
	HistExecutionCompleted        HistoryKind = "ExecutionCompleted"
	HistExecutionFailed           HistoryKind = "ExecutionFailed"
	HistTerminated                HistoryKind = "Terminated"
)

// HistoryEvent is one durable checkpoint entry of the current execution.
type HistoryEvent struct {
	Seq     int             `json:"seq"`
	Kind    HistoryKind     `json:"kind"`
	Step    int             `json:"step"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

// Signal is an external event queued in an instance inbox until a wait consumes it.
type Signal struct {
	Seq     int64           `json:"seq"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// WaitKind identifies what a suspended instance is waiting for.
type WaitKind string

const (
	WaitActivity WaitKind = "activity"
	WaitEvents   WaitKind = "events"
	WaitChild    WaitKind = "child"
)

// Wait is the persisted suspend point of an instance.
type Wait struct {
	Kind     WaitKind        `json:"kind"`
	Step     int             `json:"step"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Events   []string        `json:"events,omitempty"`
	Child    string          `json:"child,omitempty"`
	Deadline time.Time       `json:"deadline,omitempty"`
}

// HasDeadline reports whether the wait carries a durable timer.
func (w *Wait) HasDeadline() bool {
	return w != nil && !w.Deadline.IsZero()
}

// OutcomeKind identifies how the previous suspend point was resolved.
type OutcomeKind string

const (
	OutcomeStart    OutcomeKind = "start"
	OutcomeActivity OutcomeKind = "activity"
	OutcomeEvent    OutcomeKind = "event"
	OutcomeTimer    OutcomeKind = "timer"
	OutcomeChild    OutcomeKind = "child"
)

// Outcome is the resolution of a wait, handed to the next Step.
type Outcome struct {
	Kind    OutcomeKind     `json:"kind"`
	Name    string          `json:"name,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Instance is the persisted state of one orchestration instance.
// History only holds the current execution; ContinueAsNew truncates it.
type Instance struct {
	ID                string          `json:"id"`
	Orchestrator      string          `json:"orchestrator"`
	Status            RuntimeStatus   `json:"status"`
	Input             json.RawMessage `json:"input,omitempty"`
	Output            json.RawMessage `json:"output,omitempty"`
	CustomStatus      json.RawMessage `json:"customStatus,omitempty"`
	Carry             json.RawMessage `json:"carry,omitempty"`
	Step              int             `json:"step"`
	Execution         int             `json:"execution"`
	ExecutionID       string          `json:"executionId"`
	Wait              *Wait           `json:"wait,omitempty"`
	Outcome           *Outcome        `json:"outcome,omitempty"`
	History           []HistoryEvent  `json:"history,omitempty"`
	Inbox             []Signal        `json:"inbox,omitempty"`
	NextSignalSeq     int64           `json:"nextSignalSeq"`
	ParentID          string          `json:"parentId,omitempty"`
	ParentExecutionID string          `json:"parentExecutionId,omitempty"`
	Failure           string          `json:"failure,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Version           int64           `json:"version"`
}

// Clone returns a deep copy so stores never hand out shared slices.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Input = cloneRaw(i.Input)
	cp.Output = cloneRaw(i.Output)
	cp.CustomStatus = cloneRaw(i.CustomStatus)
	cp.Carry = cloneRaw(i.Carry)
	if i.Wait != nil {
		w := *i.Wait
		w.Input = cloneRaw(i.Wait.Input)
		w.Events = append([]string(nil), i.Wait.Events...)
		cp.Wait = &w
	}
	if i.Outcome != nil {
		o := *i.Outcome
		o.Payload = cloneRaw(i.Outcome.Payload)
		cp.Outcome = &o
	}
	if i.History != nil {
		cp.History = make([]HistoryEvent, len(i.History))
		for n, h := range i.History {
			h.Payload = cloneRaw(h.Payload)
			cp.History[n] = h
		}
	}
	if i.Inbox != nil {
		cp.Inbox = make([]Signal, len(i.Inbox))
		for n, s := range i.Inbox {
			s.Payload = cloneRaw(s.Payload)
			cp.Inbox[n] = s
		}
	}
	return &cp
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func (i *Instance) appendHistory(kind HistoryKind, name string, payload json.RawMessage, errMsg string, at time.Time) {
	i.History = append(i.History, HistoryEvent{
		Seq:     len(i.History) + 1,
		Kind:    kind,
		Step:    i.Step,
		Name:    name,
		Payload: payload,
		Error:   errMsg,
		At:      at,
	})
}

// Status is the externally queryable projection of an instance.
type Status struct {
	ID             string          `json:"instanceId"`
	Orchestrator   string          `json:"orchestrator"`
	RuntimeStatus  RuntimeStatus   `json:"runtimeStatus"`
	CustomStatus   json.RawMessage `json:"customStatus,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Failure        string          `json:"failure,omitempty"`
	Execution      int             `json:"execution"`
	HistoryLength  int             `json:"historyLength"`
	PendingSignals int             `json:"pendingSignals"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// StatusOf projects an instance into its queryable status.
func StatusOf(i *Instance) Status {
	return Status{
		ID:             i.ID,
		Orchestrator:   i.Orchestrator,
		RuntimeStatus:  i.Status,
		CustomStatus:   cloneRaw(i.CustomStatus),
		Input:          cloneRaw(i.Input),
		Output:         cloneRaw(i.Output),
		Failure:        i.Failure,
		Execution:      i.Execution,
		HistoryLength:  len(i.History),
		PendingSignals: len(i.Inbox),
		CreatedAt:      i.CreatedAt,
		UpdatedAt:      i.UpdatedAt,
	}
}

// DecodeCustomStatus unmarshals the custom status into v. It reports false if none is set.
func (s Status) DecodeCustomStatus(v any) (bool, error) {
	if len(s.CustomStatus) == 0 || string(s.CustomStatus) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(s.CustomStatus, v); err != nil {
		return false, err
	}
	return true, nil
}

// Query filters ListInstances. Zero values mean "no constraint".
type Query struct {
	Statuses     []RuntimeStatus
	Orchestrator string
	CreatedFrom  time.Time
	CreatedTo    time.Time
}

// Matches reports whether the instance satisfies the query.
func (q Query) Matches(i *Instance) bool {
	if len(q.Statuses) > 0 {
		found := false
		for _, s := range q.Statuses {
			if s == i.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.Orchestrator != "" && q.Orchestrator != i.Orchestrator {
		return false
	}
	if !q.CreatedFrom.IsZero() && i.CreatedAt.Before(q.CreatedFrom) {
		return false
	}
	if !q.CreatedTo.IsZero() && i.CreatedAt.After(q.CreatedTo) {
		return false
	}
	return true
}
