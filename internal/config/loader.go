// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath      string
	ConsumedEnvKeys map[string]struct{} // every ENGINEMGR_* key the loader reads
}

// NewLoader creates a new configuration loader. An empty path skips the file.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath:      configPath,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, current string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, current)
}

func (l *Loader) envBool(key string, current bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, current)
}

func (l *Loader) envInt(key string, current int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, current)
}

func (l *Loader) envDuration(key string, current time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, current)
}

func (l *Loader) envFloat(key string, current float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, current)
}

// Load parses the file strictly, applies the environment and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg, so keys it omits keep their defaults.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrMultipleDocuments
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("ENGINEMGR_LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = l.envString("ENGINEMGR_DATA", cfg.DataDir)

	cfg.API.ListenAddr = l.envString("ENGINEMGR_LISTEN", cfg.API.ListenAddr)
	cfg.API.RateLimit = l.envInt("ENGINEMGR_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.UserHeader = l.envString("ENGINEMGR_USER_HEADER", cfg.API.UserHeader)

	cfg.Store.Backend = l.envString("ENGINEMGR_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Path = l.envString("ENGINEMGR_STORE_PATH", cfg.Store.Path)
	cfg.Store.RedisAddr = l.envString("ENGINEMGR_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = l.envString("ENGINEMGR_REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = l.envInt("ENGINEMGR_REDIS_DB", cfg.Store.RedisDB)

	cfg.Engine.Workers = l.envInt("ENGINEMGR_ENGINE_WORKERS", cfg.Engine.Workers)
	cfg.Engine.ActivityWorkers = l.envInt("ENGINEMGR_ACTIVITY_WORKERS", cfg.Engine.ActivityWorkers)
	cfg.Engine.ActivityMaxAttempts = l.envInt("ENGINEMGR_ACTIVITY_MAX_ATTEMPTS", cfg.Engine.ActivityMaxAttempts)
	cfg.Engine.ActivityBackoff = l.envDuration("ENGINEMGR_ACTIVITY_BACKOFF", cfg.Engine.ActivityBackoff)
	cfg.Engine.TimerInterval = l.envDuration("ENGINEMGR_TIMER_INTERVAL", cfg.Engine.TimerInterval)

	cfg.Cluster.Kubeconfig = l.envString("ENGINEMGR_KUBECONFIG", cfg.Cluster.Kubeconfig)
	cfg.Cluster.Namespace = l.envString("ENGINEMGR_NAMESPACE", cfg.Cluster.Namespace)
	cfg.Cluster.ManifestDir = l.envString("ENGINEMGR_MANIFEST_DIR", cfg.Cluster.ManifestDir)
	cfg.Cluster.NamePrefix = l.envString("ENGINEMGR_NAME_PREFIX", cfg.Cluster.NamePrefix)
	cfg.Cluster.PollInterval = l.envDuration("ENGINEMGR_POLL_INTERVAL", cfg.Cluster.PollInterval)
	cfg.Cluster.PollAttempts = l.envInt("ENGINEMGR_POLL_ATTEMPTS", cfg.Cluster.PollAttempts)

	cfg.Session.IdleTimeout = l.envDuration("ENGINEMGR_IDLE_TIMEOUT", cfg.Session.IdleTimeout)
	cfg.Session.Lookback = l.envDuration("ENGINEMGR_LOOKBACK", cfg.Session.Lookback)
	cfg.Session.StartTimeout = l.envDuration("ENGINEMGR_START_TIMEOUT", cfg.Session.StartTimeout)
	cfg.Session.DeletePollInterval = l.envDuration("ENGINEMGR_DELETE_POLL_INTERVAL", cfg.Session.DeletePollInterval)
	cfg.Session.DeletePollAttempts = l.envInt("ENGINEMGR_DELETE_POLL_ATTEMPTS", cfg.Session.DeletePollAttempts)

	cfg.Telemetry.Enabled = l.envBool("ENGINEMGR_TRACING_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString("ENGINEMGR_OTLP_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("ENGINEMGR_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("ENGINEMGR_TRACING_SAMPLE_RATE", cfg.Telemetry.SamplingRate)
}
