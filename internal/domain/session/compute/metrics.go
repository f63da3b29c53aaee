// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package compute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_compute_provision_total",
			Help: "Provisioning outcomes by result.",
		},
		[]string{"result"},
	)

	provisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "enginemgr_compute_time_to_ready_seconds",
			Help:    "Time from provisioning start to a ready engine pod.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90},
		},
	)

	deprovisionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_compute_deprovision_total",
			Help: "Deprovisioning outcomes by result.",
		},
		[]string{"result"},
	)
)
