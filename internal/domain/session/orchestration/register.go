// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestration holds the durable session orchestrator, its event
// listener and the activities they schedule.
package orchestration

import (
	"context"
	"time"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	"github.com/ManuGH/enginemgr/internal/durable"
)

// Registry is the part of the durable engine that orchestrations are registered with.
type Registry interface {
	RegisterOrchestrator(name string, fn durable.OrchestratorFunc)
	RegisterActivity(name string, fn durable.ActivityFunc)
}

// Deps are the side-effecting collaborators behind the activities.
type Deps struct {
	Provisioner   ports.Provisioner
	Deprovisioner ports.Deprovisioner
	Collaborators ports.CollaboratorApplier
}

// Config tunes the orchestrations.
type Config struct {
	// IdleTimeout tears a session down when no event arrives in time. Zero disables it.
	IdleTimeout time.Duration
	// NamePrefix must match the provisioner's prefix so a failed provisioning
	// still records the compute key to clean up.
	NamePrefix string
}

// Register wires both orchestrators and their activities into r.
func Register(r Registry, deps Deps, cfg Config) {
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = "engine"
	}

	r.RegisterActivity(model.ActivityProvisionCompute, durable.Activity(
		func(ctx context.Context, req model.ProvisionRequest) (model.ComputeHandle, error) {
			return deps.Provisioner.Provision(ctx, req)
		}))
	r.RegisterActivity(model.ActivityDeprovisionCompute, durable.Activity(
		func(ctx context.Context, handle model.ComputeHandle) (struct{}, error) {
			return struct{}{}, deps.Deprovisioner.Deprovision(ctx, handle)
		}))
	r.RegisterActivity(model.ActivityApplyCollaborator, durable.Activity(
		func(ctx context.Context, grant model.CollaboratorGrant) (struct{}, error) {
			return struct{}{}, deps.Collaborators.ApplyCollaborator(ctx, grant)
		}))

	r.RegisterOrchestrator(model.OrchestratorSession, SessionOrchestrator(cfg))
	r.RegisterOrchestrator(model.OrchestratorEventListener, EventListener)
}
