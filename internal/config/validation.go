// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/enginemgr/internal/validate"
)

// StoreBackends lists the supported instance store backends.
var StoreBackends = []string{"sqlite", "badger", "redis", "memory"}

// maxNamePrefix leaves room in a 63-byte DNS label for the case-number part.
const maxNamePrefix = 20

// Validate checks a fully merged configuration.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.LogLevel); err != nil {
		v.AddError("logLevel", err.Error(), cfg.LogLevel)
	}
	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "redis" {
		v.Directory("dataDir", cfg.DataDir, false)
	}

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	v.NotEmpty("api.userHeader", cfg.API.UserHeader)

	v.OneOf("store.backend", cfg.Store.Backend, StoreBackends)
	if cfg.Store.Backend == "redis" {
		v.NotEmpty("store.redisAddr", cfg.Store.RedisAddr)
		v.Range("store.redisDB", cfg.Store.RedisDB, 0, 15)
	}

	v.Range("engine.workers", cfg.Engine.Workers, 1, 256)
	v.Range("engine.activityWorkers", cfg.Engine.ActivityWorkers, 1, 256)
	v.Range("engine.activityMaxAttempts", cfg.Engine.ActivityMaxAttempts, 1, 100)
	v.MinDuration("engine.activityBackoff", cfg.Engine.ActivityBackoff, time.Millisecond)
	v.MinDuration("engine.timerInterval", cfg.Engine.TimerInterval, 10*time.Millisecond)

	v.NotEmpty("cluster.namespace", cfg.Cluster.Namespace)
	v.LabelPrefix("cluster.namePrefix", cfg.Cluster.NamePrefix, maxNamePrefix)
	v.MinDuration("cluster.pollInterval", cfg.Cluster.PollInterval, 10*time.Millisecond)
	v.Positive("cluster.pollAttempts", cfg.Cluster.PollAttempts)

	v.MinDuration("session.idleTimeout", cfg.Session.IdleTimeout, 0)
	v.MinDuration("session.lookback", cfg.Session.Lookback, 0)
	v.MinDuration("session.startTimeout", cfg.Session.StartTimeout, time.Second)
	v.MinDuration("session.deletePollInterval", cfg.Session.DeletePollInterval, 10*time.Millisecond)
	v.Positive("session.deletePollAttempts", cfg.Session.DeletePollAttempts)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Fraction("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}
