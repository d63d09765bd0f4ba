package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StreamsActive is the number of open stream pipelines.
	StreamsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rokutuner_streams_active",
		Help: "Open stream pipelines by mode",
	}, []string{"mode"})

	// StreamBytes counts bytes relayed to clients.
	StreamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_stream_bytes_total",
		Help: "Bytes relayed from the encoder pipeline to clients",
	}, []string{"mode"})

	// StreamOpenFailures counts pipeline open failures by reason.
	StreamOpenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_stream_open_failures_total",
		Help: "Stream pipeline open failures by mode and reason",
	}, []string{"mode", "reason"})

	// TranscoderFailures counts transcoder processes that ended unexpectedly.
	TranscoderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_transcoder_failures_total",
		Help: "Transcoder processes that exited or stalled without being asked to",
	}, []string{"mode", "reason"})

	// HardwareAccel reports the probed encoder (active=1).
	HardwareAccel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rokutuner_hardware_accel",
		Help: "Detected video encoder acceleration (active=1)",
	}, []string{"accel", "encoder"})

	// ProcessKills counts signals sent to transcoder/capture process groups.
	ProcessKills = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_process_kills_total",
		Help: "Signals sent to external process groups",
	}, []string{"signal"})
)
