// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package durable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_orchestration_turns_total",
			Help: "Orchestration steps executed, by orchestrator and resulting directive.",
		},
		[]string{"orchestrator", "directive"},
	)

	instancesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_orchestration_started_total",
			Help: "Orchestration instances created.",
		},
		[]string{"orchestrator"},
	)

	instancesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_orchestration_finished_total",
			Help: "Orchestration instances that reached a terminal status.",
		},
		[]string{"orchestrator", "status"},
	)

	instancesRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "enginemgr_orchestration_running",
			Help: "Non-terminal orchestration instances seen by the last timer sweep.",
		},
		[]string{"orchestrator"},
	)

	continueAsNewTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_orchestration_continue_as_new_total",
			Help: "Executions restarted through continue-as-new.",
		},
		[]string{"orchestrator"},
	)

	activityExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enginemgr_activity_executions_total",
			Help: "Activity executions after retries, by activity and outcome.",
		},
		[]string{"activity", "outcome"},
	)

	activityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enginemgr_activity_duration_seconds",
			Help:    "Wall time of an activity including retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"activity"},
	)
)
