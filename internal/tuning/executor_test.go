// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tuning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

// recorder logs device calls and sleeps into one ordered trace.
type recorder struct {
	mu     sync.Mutex
	events []string
	failOn string
}

func (r *recorder) add(ev string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.failOn != "" && ev == r.failOn {
		return fmt.Errorf("%s: %w", ev, domain.ErrDeviceUnreachable)
	}
	return nil
}

func (r *recorder) Keypress(_ context.Context, key string) error { return r.add("key:" + key) }
func (r *recorder) Literal(_ context.Context, text string) error { return r.add("text:" + text) }
func (r *recorder) Launch(_ context.Context, app string, p url.Values) error {
	if len(p) > 0 {
		return r.add("launch:" + app + "?" + p.Encode())
	}
	return r.add("launch:" + app)
}

func (r *recorder) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestExecutor(rec *recorder, plugins *Registry) *Executor {
	e := NewExecutor(plugins)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return rec.add("wait:" + d.String())
	}
	return e
}

func TestExecute_KeySequenceOrder(t *testing.T) {
	delay := config.Seconds(3)
	ch := config.Channel{ID: "c1", RokuAppID: "195316", KeySequence: []string{"Down", "wait=2", "Select"}, TuneDelay: &delay}
	s, err := FromChannel(ch)
	require.NoError(t, err)
	require.Equal(t, KindKeySequence, s.Kind)

	rec := &recorder{}
	var states []State
	_, err = newTestExecutor(rec, nil).Execute(context.Background(), s, rec, func(st State) { states = append(states, st) })
	require.NoError(t, err)

	assert.Equal(t, []string{"launch:195316", "wait:3s", "key:Down", "wait:2s", "key:Select"}, rec.trace())
	assert.Equal(t, []State{StateAppLaunch, StateNavigating, StateConfirming, StateReady}, states)
}

func TestExecute_KeySequenceRealSuspension(t *testing.T) {
	zero := config.Seconds(0)
	s, err := FromChannel(config.Channel{ID: "c", RokuAppID: "1", KeySequence: []string{"Down", "wait=0.15", "Select"}, TuneDelay: &zero})
	require.NoError(t, err)

	rec := &recorder{}
	var downAt, selectAt time.Time
	dev := &timedController{recorder: rec, at: map[string]*time.Time{"Down": &downAt, "Select": &selectAt}}
	_, err = NewExecutor(nil).Execute(context.Background(), s, dev, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, selectAt.Sub(downAt), 150*time.Millisecond)
}

type timedController struct {
	*recorder
	at map[string]*time.Time
}

func (c *timedController) Keypress(ctx context.Context, key string) error {
	if p, ok := c.at[key]; ok {
		*p = time.Now()
	}
	return c.recorder.Keypress(ctx, key)
}

func TestExecute_DeepLinkWithConfirmAndCC(t *testing.T) {
	delay := config.Seconds(1)
	s, err := FromChannel(config.Channel{
		ID: "espn", RokuAppID: "34376", DeepLinkContentID: "espn-live", TuneDelay: &delay,
		NeedsSelectKeypress: true, EnableCC: true, CCDelay: 2,
	})
	require.NoError(t, err)

	rec := &recorder{}
	res, err := newTestExecutor(rec, nil).Execute(context.Background(), s, rec, nil)
	require.NoError(t, err)
	assert.False(t, res.LaunchedAt.IsZero())
	assert.False(t, res.ReadyAt.Before(res.LaunchedAt))

	want := []string{"launch:34376?contentId=espn-live&mediaType=live", "wait:1s", "key:Select", "wait:2s"}
	for _, k := range CCToggleKeys {
		want = append(want, "key:"+k)
	}
	assert.Equal(t, want, rec.trace())
}

func TestExecute_AbortsOnDeviceFailure(t *testing.T) {
	s, err := FromChannel(config.Channel{ID: "c", RokuAppID: "1", KeySequence: []string{"Down", "Right", "Select"}})
	require.NoError(t, err)

	rec := &recorder{failOn: "key:Right"}
	_, err = newTestExecutor(rec, nil).Execute(context.Background(), s, rec, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeviceUnreachable)
	assert.NotContains(t, rec.trace(), "key:Select", "no step runs after a failure")
}

func TestExecute_CancelledBetweenSteps(t *testing.T) {
	s, err := FromChannel(config.Channel{ID: "c", RokuAppID: "1", KeySequence: []string{"Down", "wait=5", "Select"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	e := NewExecutor(nil)
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if d == 5*time.Second {
			cancel()
		}
		return sleepWithContext(ctx, d)
	}
	s.TuneDelay = 0

	_, err = e.Execute(ctx, s, rec, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, rec.trace(), "key:Select")
}

func TestExecute_PluginGetsCapabilityOnly(t *testing.T) {
	reg := NewRegistry()
	var gotData map[string]string
	require.NoError(t, reg.Register("guide", func(ctx context.Context, dev Capability, data json.RawMessage) error {
		require.NoError(t, json.Unmarshal(data, &gotData))
		if err := dev.SendKey(ctx, "Down"); err != nil {
			return err
		}
		if err := dev.SendText(ctx, "ab"); err != nil {
			return err
		}
		if err := dev.Wait(ctx, 500*time.Millisecond); err != nil {
			return err
		}
		return dev.Launch(ctx, "99", map[string]string{"contentId": "x"})
	}))

	s, err := FromChannel(config.Channel{ID: "p", RokuAppID: "1", PluginScript: "guide", PluginData: map[string]any{"row": "3"}})
	require.NoError(t, err)
	s.TuneDelay = 0

	rec := &recorder{}
	_, err = newTestExecutor(rec, reg).Execute(context.Background(), s, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"row": "3"}, gotData)
	assert.Equal(t, []string{"launch:1", "wait:0s", "key:Down", "text:ab", "wait:500ms", "launch:99?contentId=x"}, rec.trace())
}

func TestExecute_UnknownPluginIsConfigurationInvalid(t *testing.T) {
	s, err := FromChannel(config.Channel{ID: "p", RokuAppID: "1", PluginScript: "missing"})
	require.NoError(t, err)

	rec := &recorder{}
	_, err = newTestExecutor(rec, nil).Execute(context.Background(), s, rec, nil)
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
	assert.Empty(t, rec.trace(), "device untouched when plugin is unknown")
}

func TestExecute_PluginLogicErrorIsConfigurationInvalid(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("bad", func(context.Context, Capability, json.RawMessage) error {
		return errors.New("missing row")
	}))
	s := Strategy{Kind: KindPlugin, AppID: "1", PluginID: "bad"}

	rec := &recorder{}
	_, err := newTestExecutor(rec, reg).Execute(context.Background(), s, rec, nil)
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
}

func TestSearchPlugin(t *testing.T) {
	s, err := FromChannel(config.Channel{
		ID: "s", RokuAppID: "2285", PluginScript: SearchPluginID,
		PluginData: map[string]any{"query": "CNN", "open_search": []any{"Left", "Select"}, "typing_delay": 0.5},
	})
	require.NoError(t, err)
	s.TuneDelay = 0

	rec := &recorder{}
	_, err = newTestExecutor(rec, DefaultRegistry()).Execute(context.Background(), s, rec, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"launch:2285", "wait:0s", "key:Left", "key:Select", "wait:500ms", "text:CNN", "wait:2s", "key:Select"}, rec.trace())
}

func TestFuboPlugin(t *testing.T) {
	for _, id := range []string{FuboPluginID, config.PluginFuboLegacy} {
		t.Run(id, func(t *testing.T) {
			s, err := FromChannel(config.Channel{
				ID: "f", RokuAppID: "43465", PluginScript: id,
				PluginData: map[string]any{"list_position": 3},
			})
			require.NoError(t, err)
			s.TuneDelay = 0

			rec := &recorder{}
			_, err = newTestExecutor(rec, DefaultRegistry()).Execute(context.Background(), s, rec, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{
				"launch:43465", "wait:0s",
				"wait:4s",
				"key:Left", "wait:500ms",
				"key:Down", "wait:500ms",
				"key:Select", "wait:1.7s",
				"key:Down", "wait:100ms",
				"key:Down", "wait:100ms",
				"key:Select", "wait:700ms",
				"key:Select",
			}, rec.trace())
		})
	}
}

func TestFuboPlugin_FirstRowSkipsScrolling(t *testing.T) {
	rec := &recorder{}
	err := FuboPlugin(context.Background(), capability{dev: rec, sleep: func(context.Context, time.Duration) error { return nil }},
		json.RawMessage(`{"list_position": 1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"key:Left", "key:Down", "key:Select", "key:Select", "key:Select"}, rec.trace())
}

func TestFuboPlugin_RequiresListPosition(t *testing.T) {
	s := Strategy{Kind: KindPlugin, AppID: "43465", PluginID: FuboPluginID, PluginData: json.RawMessage(`{"list_position": 0}`)}

	rec := &recorder{}
	_, err := newTestExecutor(rec, DefaultRegistry()).Execute(context.Background(), s, rec, nil)
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
	require.NotEmpty(t, rec.trace())
	assert.Equal(t, "launch:43465", rec.trace()[0])
	assert.NotContains(t, rec.trace(), "key:Left")
}
