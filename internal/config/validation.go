// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates and hot-reloads the bridge configuration.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
	platformnet "github.com/ManuGH/rokutuner/internal/platform/net"
	"github.com/ManuGH/rokutuner/internal/validate"
)

var (
	validModes   = []string{ModeProxy, ModeRemux, ModeReencode, ModeFullReencode}
	validHWAccel = []string{HWAuto, HWNvidia, HWIntel, HWSoftware}
	validPlugins = []string{PluginSearch, PluginFubo, PluginFuboLegacy}
)

// Validate checks a snapshot. Any failure is reported as ErrConfigurationInvalid.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, []string{"trace", "debug", "info", "warn", "error"})
	v.NotEmpty("api.listenAddr", cfg.API.ListenAddr)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	if cfg.Metrics.Enabled {
		v.NotEmpty("metrics.listenAddr", cfg.Metrics.ListenAddr)
	}
	if cfg.Tracing.Enabled {
		v.OneOf("tracing.exporter", cfg.Tracing.Exporter, []string{"grpc", "http"})
		v.NotEmpty("tracing.endpoint", cfg.Tracing.Endpoint)
	}

	v.Port("ecp.port", cfg.ECP.Port)
	v.DurationRange("ecp.timeout", cfg.ECP.Timeout, 100*time.Millisecond, 30*time.Second)
	v.NonNegative("ecp.breakerThreshold", cfg.ECP.BreakerThreshold)

	v.NotEmpty("stream.ffmpegBin", cfg.Stream.FFmpegBin)
	v.OneOf("stream.defaultMode", cfg.Stream.DefaultMode, validModes)
	v.OneOf("stream.hwAccel", cfg.Stream.HWAccel, validHWAccel)
	v.Range("stream.audioChannels", cfg.Stream.AudioChannels, 1, 8)
	v.NonNegativeDuration("stream.stallTimeout", cfg.Stream.StallTimeout)

	v.DurationRange("recording.pollInterval", cfg.Recording.PollInterval, 500*time.Millisecond, 5*time.Minute)
	v.DurationRange("recording.maxDuration", cfg.Recording.MaxDuration, time.Minute, 24*time.Hour)
	v.OneOf("recording.store.backend", cfg.Recording.Store.Backend, []string{"memory", "sqlite", "badger"})
	v.OneOf("recording.handoff.backend", cfg.Recording.Handoff.Backend, []string{"log", "redis"})
	if cfg.Recording.Handoff.Backend == "redis" {
		v.NotEmpty("recording.handoff.redisAddr", cfg.Recording.Handoff.RedisAddr)
	}

	validateTuners(v, cfg.Tuners)
	validateChannels(v, cfg.Channels)

	seenApps := map[string]struct{}{}
	for i, a := range cfg.OnDemandApps {
		field := fmt.Sprintf("ondemand_apps[%d]", i)
		v.NotEmpty(field+".id", a.ID)
		v.NotEmpty(field+".roku_app_id", a.RokuAppID)
		if _, dup := seenApps[a.ID]; dup {
			v.AddError(field+".id", "duplicate id", a.ID)
		}
		seenApps[a.ID] = struct{}{}
	}

	if err := v.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigurationInvalid, err)
	}
	return nil
}

func validateTuners(v *validate.Validator, tuners []Tuner) {
	seen := map[string]struct{}{}
	for i, t := range tuners {
		field := fmt.Sprintf("tuners[%d]", i)
		v.NotEmpty(field+".name", t.Name)
		if _, dup := seen[t.Name]; dup {
			v.AddError(field+".name", "duplicate tuner name", t.Name)
		}
		seen[t.Name] = struct{}{}

		if _, err := platformnet.NormalizeDeviceAddress(t.RokuAddress, 8060); err != nil {
			v.AddError(field+".roku_ip", err.Error(), t.RokuAddress)
		}
		if _, err := platformnet.ParseSourceURL(t.EncoderURL); err != nil {
			v.AddError(field+".encoder_url", err.Error(), t.EncoderURL)
		}
		if t.Priority != nil && *t.Priority < 0 {
			v.AddError(field+".priority", "must be >= 0", *t.Priority)
		}
		if t.EncodingMode != "" {
			v.OneOf(field+".encoding_mode", strings.ToLower(t.EncodingMode), validModes)
		}
		if t.HWAccel != "" {
			v.OneOf(field+".hw_accel", strings.ToLower(t.HWAccel), validHWAccel)
		}
	}
}

func validateChannels(v *validate.Validator, channels []Channel) {
	seen := map[string]struct{}{}
	for i, ch := range channels {
		field := fmt.Sprintf("channels[%d]", i)
		v.NotEmpty(field+".id", ch.ID)
		if _, dup := seen[ch.ID]; dup {
			v.AddError(field+".id", "duplicate channel id", ch.ID)
		}
		seen[ch.ID] = struct{}{}
		v.NotEmpty(field+".roku_app_id", ch.RokuAppID)

		kinds := 0
		if ch.DeepLinkContentID != "" {
			kinds++
		}
		if len(ch.KeySequence) > 0 {
			kinds++
		}
		if ch.PluginScript != "" {
			kinds++
		}
		if kinds > 1 {
			v.AddError(field, "deep_link_content_id, key_sequence and plugin_script are mutually exclusive", ch.ID)
		}
		if ch.PluginScript != "" {
			v.OneOf(field+".plugin_script", ch.PluginScript, validPlugins)
			if ch.PluginScript == PluginFubo || ch.PluginScript == PluginFuboLegacy {
				if n, ok := listPosition(ch.PluginData); !ok || n < 1 {
					v.AddError(field+".plugin_data.list_position", "must be an integer >= 1", ch.PluginData["list_position"])
				}
			}
		}
		for j, tok := range ch.KeySequence {
			v.Custom(fmt.Sprintf("%s.key_sequence[%d]", field, j), tok, checkKeyToken)
		}
		if ch.TuneDelay != nil && *ch.TuneDelay < 0 {
			v.AddError(field+".tune_delay", "must be >= 0", *ch.TuneDelay)
		}
		if ch.BlankingDuration < 0 {
			v.AddError(field+".blanking_duration", "must be >= 0", ch.BlankingDuration)
		}
		if ch.CCDelay < 0 {
			v.AddError(field+".cc_delay", "must be >= 0", ch.CCDelay)
		}
		if ch.KeepAlive != nil {
			v.NotEmpty(field+".keep_alive.key", ch.KeepAlive.Key)
			if ch.KeepAlive.IntervalMinutes <= 0 {
				v.AddError(field+".keep_alive.interval_minutes", "must be > 0", ch.KeepAlive.IntervalMinutes)
			}
		}
	}
}

// checkKeyToken accepts a remote key name or a "wait=<seconds>" pause.
func checkKeyToken(raw interface{}) error {
	tok := strings.TrimSpace(raw.(string))
	if rest, ok := strings.CutPrefix(tok, "wait="); ok {
		if secs, err := strconv.ParseFloat(rest, 64); err != nil || secs < 0 {
			return errors.New("invalid wait duration")
		}
		return nil
	}
	if tok == "" {
		return errors.New("empty key")
	}
	return nil
}

// listPosition reads plugin_data.list_position, which YAML decodes as an int
// and JSON as a float64.
func listPosition(data map[string]any) (int, bool) {
	switch n := data["list_position"].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
