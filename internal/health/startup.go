// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/enginemgr/internal/config"
	"github.com/ManuGH/enginemgr/internal/log"
)

// PerformStartupChecks validates the environment before the daemon opens its store.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	switch cfg.Store.Backend {
	case "sqlite", "badger":
		if err := checkDataDir(logger, cfg.DataDir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
		warnIfTemp(logger, cfg.DataDir)
	case "memory":
		logger.Warn().
			Str("store_backend", cfg.Store.Backend).
			Msg("in-memory store; sessions are not persistent across restarts")
	}

	if cfg.Cluster.ManifestDir != "" {
		info, err := os.Stat(cfg.Cluster.ManifestDir)
		if err != nil {
			return fmt.Errorf("manifest directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("manifest directory is not a directory: %s", cfg.Cluster.ManifestDir)
		}
	}

	if cfg.Session.IdleTimeout == 0 {
		logger.Warn().Msg("idle timeout disabled; sessions end only on explicit delete")
	}

	logger.Info().Msg("startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func warnIfTemp(logger zerolog.Logger, dataDir string) {
	tempDir := filepath.Clean(os.TempDir())
	dir := filepath.Clean(dataDir)
	if tempDir != "." && (dir == tempDir || strings.HasPrefix(dir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", dataDir).
			Msg("data directory is under temp; session state may be lost on reboot")
	}
}
