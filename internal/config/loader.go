// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/rokutuner/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROKUTUNER_"

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// Path returns the watched config file path (may be empty).
func (l *Loader) Path() string {
	return l.configPath
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Any malformed record fails the whole load with ErrConfigurationInvalid.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("%w: load config file: %w", domain.ErrConfigurationInvalid, err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("%w: merge file config: %w", domain.ErrConfigurationInvalid, err)
		}
	}

	mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Recording.Root == "" {
		cfg.Recording.Root = filepath.Join(cfg.DataDir, "recordings")
	}
	if cfg.Recording.Store.Backend != "memory" && cfg.Recording.Store.Path == "" {
		cfg.Recording.Store.Path = filepath.Join(cfg.DataDir, "catalog."+cfg.Recording.Store.Backend)
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile parses YAML (or JSON) with strict field checking.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.API != nil {
		if f.API.ListenAddr != "" {
			cfg.API.ListenAddr = f.API.ListenAddr
		}
		if f.API.BaseURL != "" {
			cfg.API.BaseURL = f.API.BaseURL
		}
		if f.API.RateLimit != 0 {
			cfg.API.RateLimit = f.API.RateLimit
		}
	}
	if f.Metrics != nil {
		cfg.Metrics.Enabled = f.Metrics.Enabled
		if f.Metrics.ListenAddr != "" {
			cfg.Metrics.ListenAddr = f.Metrics.ListenAddr
		}
	}
	if f.Tracing != nil {
		cfg.Tracing.Enabled = f.Tracing.Enabled
		if f.Tracing.Exporter != "" {
			cfg.Tracing.Exporter = f.Tracing.Exporter
		}
		if f.Tracing.Endpoint != "" {
			cfg.Tracing.Endpoint = f.Tracing.Endpoint
		}
		if f.Tracing.SamplingRate != 0 {
			cfg.Tracing.SamplingRate = f.Tracing.SamplingRate
		}
	}
	if f.HDHR != nil {
		if f.HDHR.DeviceID != "" {
			cfg.HDHR.DeviceID = f.HDHR.DeviceID
		}
		if f.HDHR.FriendlyName != "" {
			cfg.HDHR.FriendlyName = f.HDHR.FriendlyName
		}
	}

	var errs []error
	dur := func(field, raw string, dst *time.Duration) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if e := f.ECP; e != nil {
		if e.Port != 0 {
			cfg.ECP.Port = e.Port
		}
		if e.RateLimit != 0 {
			cfg.ECP.RateLimit = e.RateLimit
		}
		if e.RateBurst != 0 {
			cfg.ECP.RateBurst = e.RateBurst
		}
		if e.BreakerThreshold != 0 {
			cfg.ECP.BreakerThreshold = e.BreakerThreshold
		}
		dur("ecp.timeout", e.Timeout, &cfg.ECP.Timeout)
		dur("ecp.breakerReset", e.BreakerReset, &cfg.ECP.BreakerReset)
	}
	if s := f.Stream; s != nil {
		if s.FFmpegBin != "" {
			cfg.Stream.FFmpegBin = s.FFmpegBin
		}
		if s.DefaultMode != "" {
			cfg.Stream.DefaultMode = strings.ToLower(s.DefaultMode)
		}
		if s.HWAccel != "" {
			cfg.Stream.HWAccel = strings.ToLower(s.HWAccel)
		}
		if s.AudioBitrate != "" {
			cfg.Stream.AudioBitrate = s.AudioBitrate
		}
		if s.AudioChannels != "" {
			cfg.Stream.AudioChannels = ParseAudioChannels(s.AudioChannels)
		}
		if s.BlankFiller != nil {
			cfg.Stream.BlankFiller = *s.BlankFiller
		}
		dur("stream.startTimeout", s.StartTimeout, &cfg.Stream.StartTimeout)
		dur("stream.stallTimeout", s.StallTimeout, &cfg.Stream.StallTimeout)
		dur("stream.killGrace", s.KillGrace, &cfg.Stream.KillGrace)
	}
	if r := f.Recording; r != nil {
		if r.Root != "" {
			cfg.Recording.Root = r.Root
		}
		dur("recording.pollInterval", r.PollInterval, &cfg.Recording.PollInterval)
		dur("recording.maxDuration", r.MaxDuration, &cfg.Recording.MaxDuration)
		if r.Store != nil {
			if r.Store.Backend != "" {
				cfg.Recording.Store.Backend = strings.ToLower(r.Store.Backend)
			}
			cfg.Recording.Store.Path = r.Store.Path
		}
		if r.Handoff != nil {
			h := *r.Handoff
			if h.Backend == "" {
				h.Backend = cfg.Recording.Handoff.Backend
			}
			if h.Queue == "" {
				h.Queue = cfg.Recording.Handoff.Queue
			}
			h.Backend = strings.ToLower(h.Backend)
			cfg.Recording.Handoff = h
		}
	}

	cfg.Tuners = append([]Tuner(nil), f.Tuners...)
	cfg.Channels = append(append([]Channel(nil), f.Channels...), f.EPG...)
	cfg.OnDemandApps = append([]OnDemandApp(nil), f.OnDemand...)

	return errors.Join(errs...)
}

func mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = ParseString(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.DataDir = ParseString(EnvPrefix+"DATA_DIR", cfg.DataDir)
	cfg.API.ListenAddr = ParseString(EnvPrefix+"LISTEN", cfg.API.ListenAddr)
	cfg.API.BaseURL = ParseString(EnvPrefix+"BASE_URL", cfg.API.BaseURL)
	cfg.Metrics.Enabled = ParseBool(EnvPrefix+"METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.ListenAddr = ParseString(EnvPrefix+"METRICS_LISTEN", cfg.Metrics.ListenAddr)
	cfg.Tracing.Enabled = ParseBool(EnvPrefix+"TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = ParseString(EnvPrefix+"TRACING_ENDPOINT", cfg.Tracing.Endpoint)

	cfg.ECP.Timeout = ParseDuration(EnvPrefix+"ECP_TIMEOUT", cfg.ECP.Timeout)

	cfg.Stream.FFmpegBin = ParseString(EnvPrefix+"FFMPEG_BIN", cfg.Stream.FFmpegBin)
	cfg.Stream.DefaultMode = strings.ToLower(ParseString(EnvPrefix+"ENCODING_MODE", cfg.Stream.DefaultMode))
	cfg.Stream.HWAccel = strings.ToLower(ParseString(EnvPrefix+"HW_ACCEL", cfg.Stream.HWAccel))
	cfg.Stream.AudioBitrate = ParseString(EnvPrefix+"AUDIO_BITRATE", cfg.Stream.AudioBitrate)
	if raw, ok := os.LookupEnv(EnvPrefix + "AUDIO_CHANNELS"); ok && raw != "" {
		cfg.Stream.AudioChannels = ParseAudioChannels(raw)
	}

	cfg.Recording.Root = ParseString(EnvPrefix+"RECORDING_ROOT", cfg.Recording.Root)
	cfg.Recording.PollInterval = ParseDuration(EnvPrefix+"RECORDING_POLL_INTERVAL", cfg.Recording.PollInterval)
	cfg.Recording.MaxDuration = ParseDuration(EnvPrefix+"RECORDING_MAX_DURATION", cfg.Recording.MaxDuration)
	cfg.Recording.Handoff.RedisAddr = ParseString(EnvPrefix+"REDIS_ADDR", cfg.Recording.Handoff.RedisAddr)
}

// ParseAudioChannels maps a channel layout to a channel count: "5.1" is 6,
// "7.1" is 8, plain integers pass through, anything else is stereo.
func ParseAudioChannels(raw string) int {
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "5.1":
		return 6
	case "7.1":
		return 8
	default:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		return 2
	}
}
