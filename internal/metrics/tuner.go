// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the Prometheus collectors shared across the bridge.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TunerState is 1 for the active status of each tuner, 0 otherwise.
	TunerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rokutuner_tuner_state",
		Help: "Tuner status (active state=1, others 0)",
	}, []string{"tuner", "state"})

	// TunerAcquisitions counts acquire attempts by outcome.
	TunerAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_tuner_acquisitions_total",
		Help: "Tuner acquire attempts by result (acquired, busy, not_found)",
	}, []string{"result"})

	// TuneDuration tracks strategy execution from app launch to Ready.
	TuneDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rokutuner_tune_duration_seconds",
		Help:    "Time from app launch to Ready per tuning strategy",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	}, []string{"strategy", "result"})

	// TuningStateTransitions counts state machine transitions.
	TuningStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_tuning_state_transitions_total",
		Help: "Tuning state machine transitions by target state",
	}, []string{"strategy", "state"})
)

var tunerStates = []string{"idle", "locked", "streaming", "recording"}

// SetTunerState records the active status for a tuner.
func SetTunerState(tuner, state string) {
	for _, s := range tunerStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		TunerState.WithLabelValues(tuner, s).Set(value)
	}
}

// ForgetTuner removes series for a tuner dropped by a config reload.
func ForgetTuner(tuner string) {
	for _, s := range tunerStates {
		TunerState.DeleteLabelValues(tuner, s)
	}
}

// RecordAcquisition counts an acquire attempt.
func RecordAcquisition(result string) {
	TunerAcquisitions.WithLabelValues(result).Inc()
}

// ObserveTune records a strategy execution.
func ObserveTune(strategy string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	TuneDuration.WithLabelValues(strategy, result).Observe(d.Seconds())
}

// RecordTuningState counts a state transition.
func RecordTuningState(strategy, state string) {
	TuningStateTransitions.WithLabelValues(strategy, state).Inc()
}
