// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import "context"

// Store is the system of record for orchestration instances.
//
// Implementations must make Create and Update atomic with respect to other
// writers of the same instance ID, including writers in other processes.
type Store interface {
	// Create inserts a new instance. If a non-terminal instance with the same ID
	// exists it returns ErrInstanceExists. A terminal one is replaced.
	Create(ctx context.Context, inst *Instance) error

	// Get returns a copy of the instance or ErrInstanceNotFound.
	Get(ctx context.Context, id string) (*Instance, error)

	// Update applies fn to the current record and persists the result atomically.
	// fn may be invoked more than once when a concurrent writer wins the race.
	// Returning an error from fn aborts the update and is passed through.
	Update(ctx context.Context, id string, fn func(*Instance) error) (*Instance, error)

	// List returns copies of all instances matching q, ordered by creation time.
	List(ctx context.Context, q Query) ([]*Instance, error)

	// Delete removes the instance. Deleting a missing instance is not an error.
	Delete(ctx context.Context, id string) error

	Close() error
}

// terminalStatuses is shared by backends that filter in their query language.
var terminalStatuses = []RuntimeStatus{StatusCompleted, StatusFailed, StatusTerminated}

// maxUpdateRetries bounds optimistic-concurrency retries in Update.
const maxUpdateRetries = 16
