// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/enginemgr/internal/log"
)

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(key, defaultValue, func(v string) (string, bool) { return v, true },
		func(e *zerolog.Event, v string) *zerolog.Event {
			if isSensitive(key) {
				return e.Bool("sensitive", true)
			}
			return e.Str("value", v)
		})
}

// ParseInt reads an integer from environment variable or returns default value.
// Unparseable values fall back to the default with a warning.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(key, defaultValue, func(v string) (int, bool) {
		i, err := strconv.Atoi(v)
		return i, err == nil
	}, func(e *zerolog.Event, v int) *zerolog.Event { return e.Int("value", v) })
}

// ParseDuration reads a duration in Go format (e.g. "5s") from environment variable.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(key, defaultValue, func(v string) (time.Duration, bool) {
		d, err := time.ParseDuration(v)
		return d, err == nil
	}, func(e *zerolog.Event, v time.Duration) *zerolog.Event { return e.Dur("value", v) })
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(key, defaultValue, func(v string) (bool, bool) {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
		return false, false
	}, func(e *zerolog.Event, v bool) *zerolog.Event { return e.Bool("value", v) })
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(key, defaultValue, func(v string) (float64, bool) {
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}, func(e *zerolog.Event, v float64) *zerolog.Event { return e.Float64("value", v) })
}

// parseEnv resolves key and logs where the value came from. An empty variable
// counts as unset.
func parseEnv[T any](key string, defaultValue T, parse func(string) (T, bool), field func(*zerolog.Event, T) *zerolog.Event) T {
	logger := log.WithComponent("config")
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}

	v, ok := parse(raw)
	if !ok {
		logger.Warn().
			Str("key", key).
			Str("value", raw).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	field(logger.Debug().Str("key", key).Str("source", "environment"), v).
		Msg("using environment variable")
	return v
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "token") || strings.Contains(lower, "password") || strings.Contains(lower, "secret")
}
