// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// OrchestratorFunc runs one step of an orchestration. It must be deterministic:
// everything it reads comes from the Context, and side effects happen only
// through the returned Directive. A returned error fails the instance.
type OrchestratorFunc func(ctx *Context) (Directive, error)

type directiveKind string

const (
	directiveActivity      directiveKind = "activity"
	directiveWaitEvents    directiveKind = "wait"
	directiveChild         directiveKind = "child"
	directiveContinueAsNew directiveKind = "continue_as_new"
	directiveComplete      directiveKind = "complete"
	directiveFail          directiveKind = "fail"
)

// Directive tells the engine how the step suspends or ends.
// Build one with the Context methods.
type Directive struct {
	kind    directiveKind
	name    string
	payload json.RawMessage
	events  []string
	timeout time.Duration
	child   string
	err     error
}

func (d Directive) String() string { return string(d.kind) }

// ActivityError is what an orchestrator observes when an activity exhausted its retries.
type ActivityError struct {
	Activity string
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed: %s", e.Activity, e.Message)
}

// ChildError is what an orchestrator observes when a sub-orchestration failed or was terminated.
type ChildError struct {
	InstanceID string
	Message    string
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("sub-orchestration %s failed: %s", e.InstanceID, e.Message)
}

// ErrNoEvent is returned by EventPayload when the step was not resumed by an event.
var ErrNoEvent = errors.New("step was not resumed by an event")

// Context is the orchestrator's view of its instance during one step.
type Context struct {
	inst    *Instance
	now     time.Time
	logger  zerolog.Logger
	outcome Outcome
}

func newContext(inst *Instance, now time.Time, logger zerolog.Logger) *Context {
	c := &Context{inst: inst, now: now, logger: logger}
	if inst.Outcome != nil {
		c.outcome = *inst.Outcome
	}
	return c
}

func (c *Context) InstanceID() string      { return c.inst.ID }
func (c *Context) Execution() int          { return c.inst.Execution }
func (c *Context) Step() int               { return c.inst.Step }
func (c *Context) Logger() *zerolog.Logger { return &c.logger }

// Now is the instance clock for this turn. It is recorded, so it never moves during a step.
func (c *Context) Now() time.Time { return c.now }

// Outcome describes how the previous suspend point resolved.
func (c *Context) Outcome() Outcome { return c.outcome }

// Input decodes the input of the current execution.
func (c *Context) Input(v any) error {
	if len(c.inst.Input) == 0 {
		return nil
	}
	return json.Unmarshal(c.inst.Input, v)
}

// Carry decodes the orchestrator's saved step state. It reports false if none was saved.
func (c *Context) Carry(v any) (bool, error) {
	if len(c.inst.Carry) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(c.inst.Carry, v); err != nil {
		return false, err
	}
	return true, nil
}

// SetCarry saves step state that later steps of this execution can read.
func (c *Context) SetCarry(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.inst.Carry = raw
	return nil
}

// SetCustomStatus publishes a queryable status document.
func (c *Context) SetCustomStatus(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.inst.CustomStatus = raw
	c.inst.appendHistory(HistCustomStatusSet, "", raw, "", c.now)
	return nil
}

// ActivityResult decodes the result of the activity the previous step scheduled.
// A failed activity yields an *ActivityError.
func (c *Context) ActivityResult(v any) error {
	if c.outcome.Kind != OutcomeActivity {
		return fmt.Errorf("step %d was not resumed by an activity", c.inst.Step)
	}
	if c.outcome.Error != "" {
		return &ActivityError{Activity: c.outcome.Name, Message: c.outcome.Error}
	}
	return decodePayload(c.outcome.Payload, v)
}

// ChildResult decodes the output of the sub-orchestration the previous step started.
func (c *Context) ChildResult(v any) error {
	if c.outcome.Kind != OutcomeChild {
		return fmt.Errorf("step %d was not resumed by a sub-orchestration", c.inst.Step)
	}
	if c.outcome.Error != "" {
		return &ChildError{InstanceID: c.outcome.Name, Message: c.outcome.Error}
	}
	return decodePayload(c.outcome.Payload, v)
}

// Event returns the name of the event that resumed this step.
func (c *Context) Event() (string, bool) {
	if c.outcome.Kind != OutcomeEvent {
		return "", false
	}
	return c.outcome.Name, true
}

// EventPayload decodes the payload of the event that resumed this step.
func (c *Context) EventPayload(v any) error {
	if c.outcome.Kind != OutcomeEvent {
		return ErrNoEvent
	}
	return decodePayload(c.outcome.Payload, v)
}

// TimedOut reports whether the previous wait ended because its timer fired.
func (c *Context) TimedOut() bool {
	return c.outcome.Kind == OutcomeTimer
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || v == nil {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// CallActivity schedules an activity. The next step observes its result.
func (c *Context) CallActivity(name string, input any) Directive {
	raw, err := marshalPayload(input)
	return Directive{kind: directiveActivity, name: name, payload: raw, err: err}
}

// CallSubOrchestrator starts (or re-attaches to) a child instance and suspends until it ends.
func (c *Context) CallSubOrchestrator(name, instanceID string, input any) Directive {
	raw, err := marshalPayload(input)
	return Directive{kind: directiveChild, name: name, child: instanceID, payload: raw, err: err}
}

// WaitForEvents suspends until one of the named events arrives or timeout elapses.
// A zero timeout waits indefinitely.
func (c *Context) WaitForEvents(timeout time.Duration, names ...string) Directive {
	var err error
	if len(names) == 0 {
		err = errors.New("wait requires at least one event name")
	}
	return Directive{kind: directiveWaitEvents, events: append([]string(nil), names...), timeout: timeout, err: err}
}

// ContinueAsNew restarts the orchestration with fresh history and the given input.
// Pending events stay queued for the new execution.
func (c *Context) ContinueAsNew(input any) Directive {
	raw, err := marshalPayload(input)
	return Directive{kind: directiveContinueAsNew, payload: raw, err: err}
}

// Complete ends the orchestration successfully.
func (c *Context) Complete(output any) Directive {
	raw, err := marshalPayload(output)
	return Directive{kind: directiveComplete, payload: raw, err: err}
}

// Fail ends the orchestration with an error.
func (c *Context) Fail(err error) Directive {
	if err == nil {
		err = errors.New("orchestration failed")
	}
	return Directive{kind: directiveFail, err: err}
}
