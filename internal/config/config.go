// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration: defaults, then a strict YAML
// file, then ENGINEMGR_* environment overrides.
package config

import (
	"path/filepath"
	"time"
)

// AppConfig is the complete daemon configuration. The YAML keys are the
// file format; unknown keys are rejected.
type AppConfig struct {
	LogLevel  string          `yaml:"logLevel"`
	DataDir   string          `yaml:"dataDir"`
	API       APIConfig       `yaml:"api"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit  int    `yaml:"rateLimit"`
	UserHeader string `yaml:"userHeader"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
}

type EngineConfig struct {
	Workers             int           `yaml:"workers"`
	ActivityWorkers     int           `yaml:"activityWorkers"`
	ActivityMaxAttempts int           `yaml:"activityMaxAttempts"`
	ActivityBackoff     time.Duration `yaml:"activityBackoff"`
	TimerInterval       time.Duration `yaml:"timerInterval"`
}

type ClusterConfig struct {
	// Kubeconfig is empty for in-cluster credentials.
	Kubeconfig   string        `yaml:"kubeconfig"`
	Namespace    string        `yaml:"namespace"`
	ManifestDir  string        `yaml:"manifestDir"`
	NamePrefix   string        `yaml:"namePrefix"`
	PollInterval time.Duration `yaml:"pollInterval"`
	PollAttempts int           `yaml:"pollAttempts"`
}

type SessionConfig struct {
	// IdleTimeout ends sessions that receive no events for this long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	// Lookback bounds directory scans by creation time. Zero scans every session.
	Lookback           time.Duration `yaml:"lookback"`
	StartTimeout       time.Duration `yaml:"startTimeout"`
	DeletePollInterval time.Duration `yaml:"deletePollInterval"`
	DeletePollAttempts int           `yaml:"deletePollAttempts"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Defaults returns the configuration used when neither file nor environment sets a key.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "/var/lib/enginemgr",
		API: APIConfig{
			ListenAddr: ":8080",
			RateLimit:  600,
			UserHeader: "X-User-ID",
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Engine: EngineConfig{
			Workers:             4,
			ActivityWorkers:     8,
			ActivityMaxAttempts: 5,
			ActivityBackoff:     500 * time.Millisecond,
			TimerInterval:       time.Second,
		},
		Cluster: ClusterConfig{
			Namespace:    "default",
			NamePrefix:   "engine",
			PollInterval: time.Second,
			PollAttempts: 60,
		},
		Session: SessionConfig{
			StartTimeout:       90 * time.Second,
			DeletePollInterval: time.Second,
			DeletePollAttempts: 30,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// StorePath returns the store location, defaulting into DataDir per backend.
func (c AppConfig) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case "badger":
		return filepath.Join(c.DataDir, "instances.badger")
	default:
		return filepath.Join(c.DataDir, "instances.db")
	}
}
