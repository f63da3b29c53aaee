// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Deprovisioner deletes the workload and service named by a handle.
type Deprovisioner struct {
	cluster ports.Cluster
	logger  zerolog.Logger
}

func NewDeprovisioner(cluster ports.Cluster) *Deprovisioner {
	return &Deprovisioner{cluster: cluster, logger: xglog.WithComponent("deprovisioner")}
}

// Deprovision attempts both deletions even if the first fails. Already-deleted
// objects count as success, so re-running it is safe.
func (d *Deprovisioner) Deprovision(ctx context.Context, handle model.ComputeHandle) error {
	if handle.Key == "" {
		deprovisionTotal.WithLabelValues("noop").Inc()
		return nil
	}
	if err := deleteBoth(ctx, d.cluster, handle.Key); err != nil {
		deprovisionTotal.WithLabelValues("error").Inc()
		d.logger.Error().Err(err).Str(xglog.FieldComputeKey, handle.Key).Msg("deprovision failed")
		return fmt.Errorf("%w: %s: %w", model.ErrDeprovisioningFailure, handle.Key, err)
	}
	deprovisionTotal.WithLabelValues("deleted").Inc()
	d.logger.Info().Str(xglog.FieldComputeKey, handle.Key).Msg("compute deleted")
	return nil
}

func deleteBoth(ctx context.Context, cluster ports.Cluster, name string) error {
	var errs []error
	if err := cluster.DeleteWorkload(ctx, name); err != nil && !errors.Is(err, ports.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete workload: %w", err))
	}
	if err := cluster.DeleteService(ctx, name); err != nil && !errors.Is(err, ports.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete service: %w", err))
	}
	return errors.Join(errs...)
}
