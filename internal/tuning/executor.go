// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuning

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

// Controller is the device surface the executor drives. *ecp.Client satisfies it.
type Controller interface {
	Keypress(ctx context.Context, key string) error
	Launch(ctx context.Context, appID string, params url.Values) error
	Literal(ctx context.Context, text string) error
}

// State is a tuning state machine state.
type State int

const (
	StateAppLaunch State = iota
	StateNavigating
	StateConfirming
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAppLaunch:
		return "app_launch"
	case StateNavigating:
		return "navigating"
	case StateConfirming:
		return "confirming"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// CCToggleKeys opens the player options overlay and flips its first entry,
// which is the captions toggle in the live-TV apps this bridge targets.
var CCToggleKeys = []string{"Info", "Select", "Back"}

// Result reports when the run entered AppLaunch (blanking is measured from
// there) and when it reached Ready.
type Result struct {
	LaunchedAt time.Time
	ReadyAt    time.Time
}

// Executor runs strategies against a device.
type Executor struct {
	plugins *Registry
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
}

// NewExecutor creates an executor backed by the given plugin registry.
func NewExecutor(plugins *Registry) *Executor {
	if plugins == nil {
		plugins = NewRegistry()
	}
	return &Executor{
		plugins: plugins,
		sleep:   sleepWithContext,
		now:     time.Now,
	}
}

// Execute walks AppLaunch, Navigating, Confirming and Ready in order. Any
// device failure aborts immediately; there is no retry or skip. observe, if
// set, is called on entry to every state.
func (e *Executor) Execute(ctx context.Context, s Strategy, dev Controller, observe func(State)) (Result, error) {
	logger := xglog.WithContext(ctx, xglog.WithComponent("tuning")).With().
		Str(xglog.FieldChannelID, s.ChannelID).
		Str(xglog.FieldStrategy, s.Kind.String()).
		Logger()

	var res Result
	enter := func(st State) {
		if st == StateAppLaunch {
			res.LaunchedAt = e.now()
		}
		metrics.RecordTuningState(s.Kind.String(), st.String())
		logger.Debug().Str(xglog.FieldEvent, "tuning.state").Str(xglog.FieldNewState, st.String()).Msg("tuning state")
		if observe != nil {
			observe(st)
		}
	}

	// Resolve the plugin before touching the device so a bad id fails cleanly.
	var plugin Plugin
	if s.Kind == KindPlugin {
		p, err := e.plugins.Lookup(s.PluginID)
		if err != nil {
			return res, err
		}
		plugin = p
	}

	start := e.now()
	err := e.run(ctx, s, dev, plugin, enter, logger)
	metrics.ObserveTune(s.Kind.String(), err, e.now().Sub(start))
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "tuning.failed").Msg("tuning aborted")
		return res, err
	}
	res.ReadyAt = e.now()
	return res, nil
}

func (e *Executor) run(ctx context.Context, s Strategy, dev Controller, plugin Plugin, enter func(State), logger zerolog.Logger) error {
	enter(StateAppLaunch)
	var params url.Values
	if s.Kind == KindDeepLink && s.ContentID != "" {
		params = url.Values{"contentId": {s.ContentID}}
		if s.MediaType != "" {
			params.Set("mediaType", s.MediaType)
		}
	}
	if err := dev.Launch(ctx, s.AppID, params); err != nil {
		return fmt.Errorf("launch app %s: %w", s.AppID, err)
	}
	if err := e.sleep(ctx, s.TuneDelay); err != nil {
		return err
	}

	enter(StateNavigating)
	switch s.Kind {
	case KindKeySequence:
		for i, step := range s.Steps {
			if step.IsWait() {
				if err := e.sleep(ctx, step.Wait); err != nil {
					return err
				}
				continue
			}
			if err := dev.Keypress(ctx, step.Key); err != nil {
				return fmt.Errorf("key_sequence[%d] %s: %w", i, step.Key, err)
			}
		}
	case KindPlugin:
		capab := capability{dev: dev, sleep: e.sleep}
		if err := plugin(ctx, capab, s.PluginData); err != nil {
			return classifyPluginError(ctx, s.PluginID, err)
		}
	}

	enter(StateConfirming)
	if s.PressSelect {
		if err := dev.Keypress(ctx, "Select"); err != nil {
			return fmt.Errorf("confirm select: %w", err)
		}
	}
	if s.EnableCC {
		if err := e.sleep(ctx, s.CCDelay); err != nil {
			return err
		}
		for _, key := range CCToggleKeys {
			if err := dev.Keypress(ctx, key); err != nil {
				return fmt.Errorf("toggle captions: %w", err)
			}
		}
		logger.Debug().Str(xglog.FieldEvent, "tuning.cc_enabled").Msg("closed captions toggled")
	}

	enter(StateReady)
	return nil
}

func classifyPluginError(ctx context.Context, id string, err error) error {
	if errors.Is(err, domain.ErrDeviceUnreachable) || ctx.Err() != nil {
		return fmt.Errorf("plugin %s: %w", id, err)
	}
	return fmt.Errorf("%w: plugin %s: %w", domain.ErrConfigurationInvalid, id, err)
}

func toValues(params map[string]string) url.Values {
	if len(params) == 0 {
		return nil
	}
	v := make(url.Values, len(params))
	for k, val := range params {
		v.Set(k, val)
	}
	return v
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
