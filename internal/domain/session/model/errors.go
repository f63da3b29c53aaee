// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "errors"

// Failure classes surfaced to callers of the session service.
var (
	ErrProvisioningFailure   = errors.New("provisioning failed")
	ErrDeprovisioningFailure = errors.New("deprovisioning failed")
	ErrSessionNotFound       = errors.New("no active session for case")
	ErrDuplicateSession      = errors.New("more than one active session for case")
	ErrBadRequest            = errors.New("bad request")
	ErrDeleteTimeout         = errors.New("session did not end in time")
)
