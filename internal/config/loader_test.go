// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/enginemgr/internal/validate"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ENGINEMGR_DATA", dataDir)

	l := NewLoader("")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "X-User-ID", cfg.API.UserHeader)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dataDir, "instances.db"), cfg.StorePath())
	assert.Equal(t, "engine", cfg.Cluster.NamePrefix)
	assert.Equal(t, 90*time.Second, cfg.Session.StartTimeout)
	assert.Zero(t, cfg.Session.IdleTimeout)

	assert.Contains(t, l.ConsumedEnvKeys, "ENGINEMGR_DATA")
	assert.Contains(t, l.ConsumedEnvKeys, "ENGINEMGR_IDLE_TIMEOUT")
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
logLevel: debug
dataDir: `+dataDir+`
api:
  listenAddr: "127.0.0.1:9090"
store:
  backend: badger
cluster:
  namespace: cases
  namePrefix: analysis
session:
  idleTimeout: 30m
  lookback: 168h
`)

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1:9090", cfg.API.ListenAddr)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dataDir, "instances.badger"), cfg.StorePath())
	assert.Equal(t, "cases", cfg.Cluster.Namespace)
	assert.Equal(t, "analysis", cfg.Cluster.NamePrefix)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Session.Lookback)
	// untouched keys keep defaults
	assert.Equal(t, 4, cfg.Engine.Workers)
}

func TestEnvOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, "dataDir: "+dataDir+"\napi:\n  listenAddr: \":9090\"\n")
	t.Setenv("ENGINEMGR_LISTEN", ":7070")
	t.Setenv("ENGINEMGR_STORE_BACKEND", "redis")
	t.Setenv("ENGINEMGR_REDIS_ADDR", "redis:6379")
	t.Setenv("ENGINEMGR_IDLE_TIMEOUT", "5m")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.API.ListenAddr)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTimeout)
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "dataDir: "+t.TempDir()+"\nsesion:\n  idleTimeout: 1m\n")

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownConfigField), "got %v", err)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "logLevel: info\n---\nlogLevel: debug\n")

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMultipleDocuments)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only YAML supported")
}

func TestEmptyFileUsesDefaults(t *testing.T) {
	t.Setenv("ENGINEMGR_DATA", t.TempDir())
	path := writeConfig(t, "")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
}

func TestValidate(t *testing.T) {
	valid := func() AppConfig {
		cfg := Defaults()
		cfg.DataDir = t.TempDir()
		return cfg
	}

	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*AppConfig)
		field  string
	}{
		{"bad log level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
		{"bad listen", func(c *AppConfig) { c.API.ListenAddr = "nope" }, "api.listenAddr"},
		{"unknown backend", func(c *AppConfig) { c.Store.Backend = "etcd" }, "store.backend"},
		{"redis without addr", func(c *AppConfig) { c.Store.Backend = "redis" }, "store.redisAddr"},
		{"zero workers", func(c *AppConfig) { c.Engine.Workers = 0 }, "engine.workers"},
		{"uppercase prefix", func(c *AppConfig) { c.Cluster.NamePrefix = "Engine" }, "cluster.namePrefix"},
		{"negative idle", func(c *AppConfig) { c.Session.IdleTimeout = -time.Second }, "session.idleTimeout"},
		{"bad sample rate", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.SamplingRate = 2
		}, "telemetry.samplingRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := Validate(cfg)
			require.Error(t, err)

			var verr validate.ValidationError
			require.True(t, errors.As(err, &verr), "got %T", err)
			fields := make([]string, 0, len(verr.Errors()))
			for _, e := range verr.Errors() {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}
