// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
)

// Provisioner creates the compute for one case. Failures come back as an Error
// handle; the returned error is reserved for cancellation.
type Provisioner interface {
	Provision(ctx context.Context, req model.ProvisionRequest) (model.ComputeHandle, error)
}

// Deprovisioner deletes the compute named by a handle. Missing objects count as deleted.
type Deprovisioner interface {
	Deprovision(ctx context.Context, handle model.ComputeHandle) error
}

// CollaboratorApplier grants a collaborator access to a running engine.
type CollaboratorApplier interface {
	ApplyCollaborator(ctx context.Context, grant model.CollaboratorGrant) error
}
