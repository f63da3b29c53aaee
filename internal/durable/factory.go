// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"fmt"
)

// StoreConfig selects and locates the instance store backend.
type StoreConfig struct {
	Backend       string // sqlite (default), badger, redis, memory
	Path          string // file (sqlite) or directory (badger)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenStore creates a Store based on the backend configuration.
func OpenStore(cfg StoreConfig) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return NewSqliteStore(cfg.Path)
	case "badger":
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger backend requires a path")
		}
		return OpenBadgerStore(cfg.Path)
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		return NewRedisStore(RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
