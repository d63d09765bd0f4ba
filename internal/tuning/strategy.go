// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tuning drives a Roku from app launch to the requested channel.
package tuning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

// Kind selects how a channel is reached once its app is launched.
type Kind int

const (
	KindDeepLink Kind = iota
	KindKeySequence
	KindPlugin
)

func (k Kind) String() string {
	switch k {
	case KindDeepLink:
		return "deep_link"
	case KindKeySequence:
		return "key_sequence"
	case KindPlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// Step is one key-sequence element: a keypress or a pause.
type Step struct {
	Key  string
	Wait time.Duration
}

// IsWait reports whether the step pauses instead of pressing a key.
func (s Step) IsWait() bool {
	return s.Key == ""
}

// DefaultWait is the pause for a bare "wait" token.
const DefaultWait = time.Second

// DefaultMediaType is sent with deep links when the channel does not set one.
const DefaultMediaType = "live"

// Strategy is a fully resolved tuning plan for one channel.
type Strategy struct {
	Kind      Kind
	ChannelID string
	AppID     string

	ContentID string
	MediaType string

	Steps []Step

	PluginID   string
	PluginData json.RawMessage

	TuneDelay   time.Duration
	Blanking    time.Duration
	PressSelect bool
	EnableCC    bool
	CCDelay     time.Duration
}

// FromChannel resolves a channel record into a strategy.
func FromChannel(ch config.Channel) (Strategy, error) {
	if strings.TrimSpace(ch.RokuAppID) == "" {
		return Strategy{}, fmt.Errorf("%w: channel %q has no roku_app_id", domain.ErrConfigurationInvalid, ch.ID)
	}
	s := Strategy{
		Kind:        KindDeepLink,
		ChannelID:   ch.ID,
		AppID:       ch.RokuAppID,
		ContentID:   ch.DeepLinkContentID,
		MediaType:   ch.MediaType,
		TuneDelay:   ch.EffectiveTuneDelay(),
		Blanking:    ch.BlankingDuration.Duration(),
		PressSelect: ch.NeedsSelectKeypress,
		EnableCC:    ch.EnableCC,
		CCDelay:     ch.CCDelay.Duration(),
	}

	set := 0
	if ch.DeepLinkContentID != "" {
		set++
	}
	if len(ch.KeySequence) > 0 {
		set++
		steps, err := ParseSequence(ch.KeySequence)
		if err != nil {
			return Strategy{}, fmt.Errorf("%w: channel %q: %w", domain.ErrConfigurationInvalid, ch.ID, err)
		}
		s.Kind = KindKeySequence
		s.Steps = steps
	}
	if ch.PluginScript != "" {
		set++
		s.Kind = KindPlugin
		s.PluginID = ch.PluginScript
		if len(ch.PluginData) > 0 {
			raw, err := json.Marshal(ch.PluginData)
			if err != nil {
				return Strategy{}, fmt.Errorf("%w: channel %q plugin_data: %w", domain.ErrConfigurationInvalid, ch.ID, err)
			}
			s.PluginData = raw
		}
	}
	if set > 1 {
		return Strategy{}, fmt.Errorf("%w: channel %q sets more than one tuning method", domain.ErrConfigurationInvalid, ch.ID)
	}
	if s.Kind == KindDeepLink && s.MediaType == "" && s.ContentID != "" {
		s.MediaType = DefaultMediaType
	}
	return s, nil
}

// ForApp builds a launch-only strategy for an on-demand app.
func ForApp(appID string) Strategy {
	return Strategy{Kind: KindDeepLink, AppID: appID}
}

// ParseSequence converts key-sequence tokens into steps. "wait" pauses
// DefaultWait, "wait=N" pauses N (fractional) seconds, every other token is
// one keypress sent verbatim.
func ParseSequence(tokens []string) ([]Step, error) {
	steps := make([]Step, 0, len(tokens))
	for i, raw := range tokens {
		tok := strings.TrimSpace(raw)
		switch {
		case tok == "":
			return nil, fmt.Errorf("key_sequence[%d] is empty", i)
		case tok == "wait":
			steps = append(steps, Step{Wait: DefaultWait})
		case strings.HasPrefix(tok, "wait="):
			secs, err := strconv.ParseFloat(strings.TrimPrefix(tok, "wait="), 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("key_sequence[%d]: invalid wait %q", i, tok)
			}
			steps = append(steps, Step{Wait: time.Duration(secs * float64(time.Second))})
		default:
			steps = append(steps, Step{Key: tok})
		}
	}
	return steps, nil
}
