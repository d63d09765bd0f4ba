// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"
)

// Seconds is a duration written as a (possibly fractional) number of seconds,
// the unit the device catalog uses for delays.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Tuner is one Roku + HDMI encoder pair.
type Tuner struct {
	Name         string   `yaml:"name" json:"name"`
	RokuAddress  string   `yaml:"roku_ip" json:"roku_ip"`
	EncoderURL   string   `yaml:"encoder_url" json:"encoder_url"`
	Priority     *int     `yaml:"priority,omitempty" json:"priority,omitempty"`
	EncodingMode string   `yaml:"encoding_mode,omitempty" json:"encoding_mode,omitempty"`
	HWAccel      string   `yaml:"hw_accel,omitempty" json:"hw_accel,omitempty"`
	Apps         []string `yaml:"apps,omitempty" json:"apps,omitempty"`
}

// DefaultTunerPriority applies when a tuner omits priority.
const DefaultTunerPriority = 99

// EffectivePriority returns the configured priority or the default.
func (t Tuner) EffectivePriority() int {
	if t.Priority == nil {
		return DefaultTunerPriority
	}
	return *t.Priority
}

// KeepAlive periodically presses a key while a session on the channel is live.
type KeepAlive struct {
	Key             string  `yaml:"key" json:"key"`
	IntervalMinutes float64 `yaml:"interval_minutes" json:"interval_minutes"`
}

// Interval returns the keep-alive period.
func (k KeepAlive) Interval() time.Duration {
	return time.Duration(k.IntervalMinutes * float64(time.Minute))
}

// Channel is one tunable channel and how to reach it.
type Channel struct {
	ID                  string         `yaml:"id" json:"id"`
	Name                string         `yaml:"name" json:"name"`
	RokuAppID           string         `yaml:"roku_app_id" json:"roku_app_id"`
	DeepLinkContentID   string         `yaml:"deep_link_content_id,omitempty" json:"deep_link_content_id,omitempty"`
	MediaType           string         `yaml:"media_type,omitempty" json:"media_type,omitempty"`
	KeySequence         []string       `yaml:"key_sequence,omitempty" json:"key_sequence,omitempty"`
	PluginScript        string         `yaml:"plugin_script,omitempty" json:"plugin_script,omitempty"`
	PluginData          map[string]any `yaml:"plugin_data,omitempty" json:"plugin_data,omitempty"`
	TuneDelay           *Seconds       `yaml:"tune_delay,omitempty" json:"tune_delay,omitempty"`
	BlankingDuration    Seconds        `yaml:"blanking_duration,omitempty" json:"blanking_duration,omitempty"`
	NeedsSelectKeypress bool           `yaml:"needs_select_keypress,omitempty" json:"needs_select_keypress,omitempty"`
	CCDelay             Seconds        `yaml:"cc_delay,omitempty" json:"cc_delay,omitempty"`
	EnableCC            bool           `yaml:"enable_cc,omitempty" json:"enable_cc,omitempty"`
	GuideShift          int            `yaml:"guide_shift,omitempty" json:"guide_shift,omitempty"`
	KeepAlive           *KeepAlive     `yaml:"keep_alive,omitempty" json:"keep_alive,omitempty"`
}

// DefaultTuneDelay applies when a channel omits tune_delay.
const DefaultTuneDelay = 3 * time.Second

// EffectiveTuneDelay returns the configured tune delay or the default.
func (c Channel) EffectiveTuneDelay() time.Duration {
	if c.TuneDelay == nil {
		return DefaultTuneDelay
	}
	return c.TuneDelay.Duration()
}

// OnDemandApp is a launch-only Roku application offered by the pretune flow.
type OnDemandApp struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	RokuAppID string `yaml:"roku_app_id" json:"roku_app_id"`
}

// FileConfig is the on-disk representation. JSON catalogs load through the
// same decoder since JSON is valid YAML.
type FileConfig struct {
	LogLevel  string         `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
	DataDir   string         `yaml:"dataDir,omitempty" json:"dataDir,omitempty"`
	API       *APIConfig     `yaml:"api,omitempty" json:"api,omitempty"`
	Metrics   *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing   *TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	ECP       *ECPFile       `yaml:"ecp,omitempty" json:"ecp,omitempty"`
	Stream    *StreamFile    `yaml:"stream,omitempty" json:"stream,omitempty"`
	Recording *RecordingFile `yaml:"recording,omitempty" json:"recording,omitempty"`
	HDHR      *HDHRConfig    `yaml:"hdhr,omitempty" json:"hdhr,omitempty"`
	Tuners    []Tuner        `yaml:"tuners" json:"tuners"`
	Channels  []Channel      `yaml:"channels" json:"channels"`
	EPG       []Channel      `yaml:"epg_channels" json:"epg_channels"`
	OnDemand  []OnDemandApp  `yaml:"ondemand_apps" json:"ondemand_apps"`
}

// ECPFile is the file form of ECPConfig (durations as strings).
type ECPFile struct {
	Port             int     `yaml:"port,omitempty" json:"port,omitempty"`
	Timeout          string  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RateLimit        float64 `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	RateBurst        int     `yaml:"rateBurst,omitempty" json:"rateBurst,omitempty"`
	BreakerThreshold int     `yaml:"breakerThreshold,omitempty" json:"breakerThreshold,omitempty"`
	BreakerReset     string  `yaml:"breakerReset,omitempty" json:"breakerReset,omitempty"`
}

// StreamFile is the file form of StreamConfig.
type StreamFile struct {
	FFmpegBin     string `yaml:"ffmpegBin,omitempty" json:"ffmpegBin,omitempty"`
	DefaultMode   string `yaml:"defaultMode,omitempty" json:"defaultMode,omitempty"`
	HWAccel       string `yaml:"hwAccel,omitempty" json:"hwAccel,omitempty"`
	AudioBitrate  string `yaml:"audioBitrate,omitempty" json:"audioBitrate,omitempty"`
	AudioChannels string `yaml:"audioChannels,omitempty" json:"audioChannels,omitempty"`
	StartTimeout  string `yaml:"startTimeout,omitempty" json:"startTimeout,omitempty"`
	StallTimeout  string `yaml:"stallTimeout,omitempty" json:"stallTimeout,omitempty"`
	KillGrace     string `yaml:"killGrace,omitempty" json:"killGrace,omitempty"`
	BlankFiller   *bool  `yaml:"blankFiller,omitempty" json:"blankFiller,omitempty"`
}

// RecordingFile is the file form of RecordingConfig.
type RecordingFile struct {
	Root         string         `yaml:"root,omitempty" json:"root,omitempty"`
	PollInterval string         `yaml:"pollInterval,omitempty" json:"pollInterval,omitempty"`
	MaxDuration  string         `yaml:"maxDuration,omitempty" json:"maxDuration,omitempty"`
	Store        *StoreConfig   `yaml:"store,omitempty" json:"store,omitempty"`
	Handoff      *HandoffConfig `yaml:"handoff,omitempty" json:"handoff,omitempty"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty" json:"listenAddr,omitempty"`
	BaseURL    string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	RateLimit  int    `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"` // control requests per minute per client
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listenAddr,omitempty" json:"listenAddr,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter,omitempty" json:"exporter,omitempty"` // grpc | http
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// HDHRConfig configures the HDHomeRun discovery surface.
type HDHRConfig struct {
	DeviceID     string `yaml:"deviceID,omitempty" json:"deviceID,omitempty"`
	FriendlyName string `yaml:"friendlyName,omitempty" json:"friendlyName,omitempty"`
}

// StoreConfig selects the recording catalog backend.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"` // memory | sqlite | badger
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// HandoffConfig selects where finished recordings are handed for tagging.
type HandoffConfig struct {
	Backend       string `yaml:"backend,omitempty" json:"backend,omitempty"` // log | redis
	RedisAddr     string `yaml:"redisAddr,omitempty" json:"redisAddr,omitempty"`
	RedisPassword string `yaml:"redisPassword,omitempty" json:"redisPassword,omitempty"`
	RedisDB       int    `yaml:"redisDB,omitempty" json:"redisDB,omitempty"`
	Queue         string `yaml:"queue,omitempty" json:"queue,omitempty"`
}

// ECPConfig configures the device control client.
type ECPConfig struct {
	Port             int
	Timeout          time.Duration
	RateLimit        float64
	RateBurst        int
	BreakerThreshold int
	BreakerReset     time.Duration
}

// StreamConfig configures the stream pipeline.
type StreamConfig struct {
	FFmpegBin     string
	DefaultMode   string
	HWAccel       string
	AudioBitrate  string
	AudioChannels int
	StartTimeout  time.Duration
	StallTimeout  time.Duration
	KillGrace     time.Duration
	BlankFiller   bool
}

// RecordingConfig configures local capture.
type RecordingConfig struct {
	Root         string
	PollInterval time.Duration
	MaxDuration  time.Duration
	Store        StoreConfig
	Handoff      HandoffConfig
}

// AppConfig is the immutable runtime snapshot. Readers never mutate it; a
// reload replaces it wholesale.
type AppConfig struct {
	Version   string
	LogLevel  string
	DataDir   string
	API       APIConfig
	Metrics   MetricsConfig
	Tracing   TracingConfig
	ECP       ECPConfig
	Stream    StreamConfig
	Recording RecordingConfig
	HDHR      HDHRConfig

	Tuners       []Tuner
	Channels     []Channel
	OnDemandApps []OnDemandApp
}

// Channel looks up a channel by id.
func (c AppConfig) Channel(id string) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// OnDemandApp looks up an on-demand app by id or Roku app id.
func (c AppConfig) OnDemandApp(id string) (OnDemandApp, bool) {
	for _, a := range c.OnDemandApps {
		if a.ID == id || a.RokuAppID == id {
			return a, true
		}
	}
	return OnDemandApp{}, false
}
