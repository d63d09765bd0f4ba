// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordingsActive is the number of running captures.
	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rokutuner_recordings_active",
		Help: "Recordings currently capturing",
	})

	// RecordingsFinished counts finished recordings by stop reason.
	RecordingsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_recordings_finished_total",
		Help: "Finished recordings by stop reason (playback_ended, max_duration, manual, error)",
	}, []string{"reason"})

	// RecordingHandoffs counts tagging handoffs by backend and result.
	RecordingHandoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_recording_handoffs_total",
		Help: "Recording handoffs to the tagging collaborator",
	}, []string{"backend", "result"})

	// PlayerPollFailures counts completion polls that could not reach the device.
	PlayerPollFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rokutuner_player_poll_failures_total",
		Help: "Media player state polls that failed",
	})
)
