// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/enginemgr/internal/api"
	"github.com/ManuGH/enginemgr/internal/config"
	"github.com/ManuGH/enginemgr/internal/domain/session/compute"
	"github.com/ManuGH/enginemgr/internal/domain/session/directory"
	"github.com/ManuGH/enginemgr/internal/domain/session/orchestration"
	"github.com/ManuGH/enginemgr/internal/domain/session/ports"
	"github.com/ManuGH/enginemgr/internal/domain/session/service"
	"github.com/ManuGH/enginemgr/internal/durable"
	"github.com/ManuGH/enginemgr/internal/health"
	"github.com/ManuGH/enginemgr/internal/kube"
	xglog "github.com/ManuGH/enginemgr/internal/log"
	"github.com/ManuGH/enginemgr/internal/telemetry"
	"github.com/ManuGH/enginemgr/internal/version"
)

const shutdownTimeout = 30 * time.Second

// run wires every component and blocks until ctx ends or a component fails.
func run(ctx context.Context, cfg config.AppConfig) error {
	logger := xglog.WithComponent("daemon")

	if err := health.PerformStartupChecks(cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "enginemgr",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	store, err := durable.OpenStore(durable.StoreConfig{
		Backend:       cfg.Store.Backend,
		Path:          cfg.StorePath(),
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("open instance store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("instance store close failed")
		}
	}()

	cluster, templates, err := openCluster(cfg.Cluster)
	if err != nil {
		return err
	}

	engine := durable.New(store, durable.Config{
		Workers:         cfg.Engine.Workers,
		ActivityWorkers: cfg.Engine.ActivityWorkers,
		ActivityRetry: durable.RetryPolicy{
			MaxAttempts:     cfg.Engine.ActivityMaxAttempts,
			InitialInterval: cfg.Engine.ActivityBackoff,
		},
		TimerInterval: cfg.Engine.TimerInterval,
	})
	orchestration.Register(engine, orchestration.Deps{
		Provisioner: compute.NewProvisioner(cluster, compute.Config{
			NamePrefix:   cfg.Cluster.NamePrefix,
			PollInterval: cfg.Cluster.PollInterval,
			PollAttempts: cfg.Cluster.PollAttempts,
		}),
		Deprovisioner: compute.NewDeprovisioner(cluster),
		Collaborators: compute.NewCollaboratorLog(),
	}, orchestration.Config{
		IdleTimeout: cfg.Session.IdleTimeout,
		NamePrefix:  cfg.Cluster.NamePrefix,
	})

	dir := directory.New(engine, directory.Config{Lookback: cfg.Session.Lookback})
	sessions := service.New(engine, dir, nil, service.Config{
		StartTimeout:       cfg.Session.StartTimeout,
		DeletePollInterval: cfg.Session.DeletePollInterval,
		DeletePollAttempts: cfg.Session.DeletePollAttempts,
	})

	probes := health.NewManager(version.Version)
	probes.RegisterChecker(health.NewStoreChecker(store))
	if pinger, ok := store.(interface{ HealthCheck(context.Context) error }); ok {
		probes.RegisterChecker(health.NewFuncChecker("store_ping", true, pinger.HealthCheck))
	}
	probes.RegisterChecker(health.NewFuncChecker("cluster", false, clusterProbe(cluster)))

	tracing := ""
	if cfg.Telemetry.Enabled {
		tracing = "enginemgr-api"
	}
	srv := api.New(sessions, probes, api.Config{
		UserHeader:     cfg.API.UserHeader,
		RateLimit:      cfg.API.RateLimit,
		TracingService: tracing,
		AccessLog:      true,
	})
	httpSrv := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// GetOrCreate waits for provisioning.
		WriteTimeout: cfg.Session.StartTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if err := templates.Watch(gctx); err != nil {
		logger.Warn().Err(err).Msg("manifest hot reload disabled")
	}
	g.Go(func() error {
		logger.Info().Str("addr", httpSrv.Addr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

func openCluster(cfg config.ClusterConfig) (*kube.Cluster, *kube.Templates, error) {
	templates, err := kube.LoadTemplates(cfg.ManifestDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load engine manifests: %w", err)
	}
	client, err := kube.NewClientset(cfg.Kubeconfig)
	if err != nil {
		return nil, nil, fmt.Errorf("cluster client: %w", err)
	}
	return kube.NewCluster(client, cfg.Namespace, templates), templates, nil
}

// clusterProbe lists pods under a selector that matches nothing, which proves
// the control plane answers and our credentials are accepted.
func clusterProbe(cluster ports.Cluster) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_, err := cluster.ListPods(ctx, compute.SelectorFor("readiness-probe"))
		return err
	}
}
