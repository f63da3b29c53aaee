// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compute

import (
	"context"
	"fmt"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// CollaboratorLog is the default ApplyCollaborator implementation. It validates
// and records the grant; the listener keeps the list itself.
type CollaboratorLog struct{}

func NewCollaboratorLog() *CollaboratorLog {
	return &CollaboratorLog{}
}

func (c *CollaboratorLog) ApplyCollaborator(ctx context.Context, grant model.CollaboratorGrant) error {
	if grant.CollaboratorUserID == "" {
		return fmt.Errorf("%w: collaborator user id is empty", model.ErrBadRequest)
	}
	logger := xglog.WithComponentFromContext(ctx, "collaborators")
	logger.Info().
		Str(xglog.FieldCaseNumber, grant.CaseNumber).
		Str(xglog.FieldUserID, grant.CollaboratorUserID).
		Str(xglog.FieldComputeKey, grant.Compute.Key).
		Msg("collaborator added")
	return nil
}
