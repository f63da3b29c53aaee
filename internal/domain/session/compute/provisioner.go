// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package compute provisions and tears down the per-case engine workload.
package compute

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/enginemgr/internal/domain/session/model"
	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	xglog "github.com/ManuGH/enginemgr/internal/log"
)

// Config controls naming and readiness polling.
type Config struct {
	NamePrefix   string
	PollInterval time.Duration
	PollAttempts int
}

func DefaultConfig() Config {
	return Config{
		NamePrefix:   "engine",
		PollInterval: time.Second,
		PollAttempts: 60,
	}
}

// Provisioner creates a service plus a single-replica workload per case and
// waits for the pod to become ready.
type Provisioner struct {
	cluster ports.Cluster
	cfg     Config
	logger  zerolog.Logger
}

func NewProvisioner(cluster ports.Cluster, cfg Config) *Provisioner {
	d := DefaultConfig()
	if cfg.NamePrefix == "" {
		cfg.NamePrefix = d.NamePrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = d.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = d.PollAttempts
	}
	return &Provisioner{
		cluster: cluster,
		cfg:     cfg,
		logger:  xglog.WithComponent("provisioner"),
	}
}

// SelectorFor returns the label selector matching a compute's pods.
func SelectorFor(name string) string {
	return "app=" + name
}

// Provision never reports cluster failures as errors: it rolls back what it
// created and returns an Error handle. The error return is ctx cancellation only.
func (p *Provisioner) Provision(ctx context.Context, req model.ProvisionRequest) (model.ComputeHandle, error) {
	if err := model.ValidateCaseNumber(req.CaseNumber); err != nil {
		provisionTotal.WithLabelValues("rejected").Inc()
		return model.FailedHandle("", err), nil
	}

	name := model.ComputeName(p.cfg.NamePrefix, req.CaseNumber)
	logger := p.logger.With().
		Str(xglog.FieldCaseNumber, req.CaseNumber).
		Str(xglog.FieldComputeKey, name).
		Logger()
	spec := ports.WorkloadSpec{Name: name, Labels: map[string]string{"app": name}}

	start := time.Now()
	handle, err := p.provision(ctx, spec, logger)
	if ctx.Err() != nil {
		return model.ComputeHandle{}, ctx.Err()
	}
	if err != nil {
		logger.Error().Err(err).Msg("provisioning failed, rolling back")
		p.rollback(ctx, name, logger)
		provisionTotal.WithLabelValues("error").Inc()
		return model.FailedHandle(name, err), nil
	}

	provisionTotal.WithLabelValues("healthy").Inc()
	provisionDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Str("address", handle.Address).
		Str("port", handle.Port).
		Dur("elapsed", time.Since(start)).
		Msg("compute ready")
	return handle, nil
}

func (p *Provisioner) provision(ctx context.Context, spec ports.WorkloadSpec, logger zerolog.Logger) (model.ComputeHandle, error) {
	svc, err := p.cluster.CreateService(ctx, spec)
	if errors.Is(err, ports.ErrAlreadyExists) {
		// A retried activity finds its own service from the previous attempt.
		logger.Info().Msg("adopting existing service")
		svc, err = p.cluster.GetService(ctx, spec.Name)
	}
	if err != nil {
		return model.ComputeHandle{}, fmt.Errorf("%w: create service: %w", model.ErrProvisioningFailure, err)
	}

	if err := p.cluster.CreateWorkload(ctx, spec); err != nil {
		if !errors.Is(err, ports.ErrAlreadyExists) {
			return model.ComputeHandle{}, fmt.Errorf("%w: create workload: %w", model.ErrProvisioningFailure, err)
		}
		logger.Info().Msg("adopting existing workload")
	}

	pod, err := p.waitReady(ctx, spec.Name, logger)
	if err != nil {
		return model.ComputeHandle{}, err
	}

	return model.ComputeHandle{
		Key:     spec.Name,
		Address: pod.HostIP,
		Port:    firstPort(svc),
		Status:  model.ComputeHealthy,
	}, nil
}

// waitReady polls the workload's pods at PollInterval until one is running and ready.
func (p *Provisioner) waitReady(ctx context.Context, name string, logger zerolog.Logger) (ports.PodInfo, error) {
	limiter := rate.NewLimiter(rate.Every(p.cfg.PollInterval), 1)
	selector := SelectorFor(name)
	var lastErr error
	lastPhase := ""

	for attempt := 1; attempt <= p.cfg.PollAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				// The deadline falls before the next poll slot.
				<-ctx.Done()
			}
			return ports.PodInfo{}, ctx.Err()
		}
		pods, err := p.cluster.ListPods(ctx, selector)
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Int("attempt", attempt).Msg("list pods failed")
			continue
		}
		for _, pod := range pods {
			if pod.Phase == "Running" && pod.Ready && pod.HostIP != "" {
				return pod, nil
			}
			lastPhase = pod.Phase
		}
	}

	msg := fmt.Sprintf("workload not ready after %d attempts", p.cfg.PollAttempts)
	if lastPhase != "" {
		msg += " (last phase " + lastPhase + ")"
	}
	if lastErr != nil {
		return ports.PodInfo{}, fmt.Errorf("%w: %s: %w", model.ErrProvisioningFailure, msg, lastErr)
	}
	return ports.PodInfo{}, fmt.Errorf("%w: %s", model.ErrProvisioningFailure, msg)
}

// rollback removes whatever a failed attempt created. Failures are logged only.
func (p *Provisioner) rollback(ctx context.Context, name string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := deleteBoth(ctx, p.cluster, name); err != nil {
		logger.Warn().Err(err).Msg("rollback incomplete")
	}
}

func firstPort(svc ports.ServiceInfo) string {
	if len(svc.Ports) == 0 {
		return ""
	}
	port := svc.Ports[0]
	if port.NodePort != 0 {
		return strconv.Itoa(int(port.NodePort))
	}
	return strconv.Itoa(int(port.Port))
}
