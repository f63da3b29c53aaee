// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package service

import (
	"context"
	"fmt"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
)

// IdentityFunc resolves the calling user. The service never invents one.
type IdentityFunc func(ctx context.Context) (string, error)

type userIDKey struct{}

// ContextWithUserID attaches the authenticated user to ctx.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user attached by ContextWithUserID.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ContextIdentity is the IdentityFunc for callers that attach the user to the context.
func ContextIdentity(ctx context.Context) (string, error) {
	id := UserIDFromContext(ctx)
	if id == "" {
		return "", fmt.Errorf("%w: caller identity is missing", model.ErrBadRequest)
	}
	return id, nil
}
