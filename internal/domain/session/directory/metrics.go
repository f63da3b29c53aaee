// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package directory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_directory_lookups_total",
			Help: "Directory lookups by result.",
		},
		[]string{"result"},
	)

	lookupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enginemgr_directory_lookup_duration_seconds",
			Help:    "Time spent scanning running sessions.",
			Buckets: prometheus.DefBuckets,
		},
	)

	duplicateSessions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "enginemgr_duplicate_sessions_total",
			Help: "Lookups that found more than one running session for a case.",
		},
	)
)
