// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Stream modes.
const (
	ModeProxy        = "proxy"
	ModeRemux        = "remux"
	ModeReencode     = "reencode"
	ModeFullReencode = "full-reencode"
)

// Hardware acceleration selectors.
const (
	HWAuto     = "auto"
	HWNvidia   = "nvidia"
	HWIntel    = "intel"
	HWSoftware = "software"
)

// Built-in navigation plugins. PluginFuboLegacy is the script name older
// catalogs used for the Fubo navigator.
const (
	PluginSearch     = "search"
	PluginFubo       = "fubo"
	PluginFuboLegacy = "fubo_plugin.py"
)

// Defaults returns the baseline configuration before file and env overrides.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "/data",
		API: APIConfig{
			ListenAddr: ":5000",
			RateLimit:  120,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		ECP: ECPConfig{
			Port:             8060,
			Timeout:          3 * time.Second,
			RateLimit:        20,
			RateBurst:        10,
			BreakerThreshold: 3,
			BreakerReset:     30 * time.Second,
		},
		Stream: StreamConfig{
			FFmpegBin:     "ffmpeg",
			DefaultMode:   ModeProxy,
			HWAccel:       HWAuto,
			AudioBitrate:  "128k",
			AudioChannels: 2,
			StartTimeout:  20 * time.Second,
			StallTimeout:  15 * time.Second,
			KillGrace:     2 * time.Second,
			BlankFiller:   true,
		},
		Recording: RecordingConfig{
			PollInterval: 5 * time.Second,
			MaxDuration:  4 * time.Hour,
			Store:        StoreConfig{Backend: "sqlite"},
			Handoff:      HandoffConfig{Backend: "log", Queue: "rokutuner:tagging"},
		},
		HDHR: HDHRConfig{
			DeviceID:     "R0KU7UNE",
			FriendlyName: "Roku Tuner Bridge",
		},
	}
}
