// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package tuning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

func TestParseSequence(t *testing.T) {
	steps, err := ParseSequence([]string{"Down", "wait", "wait=2.5", " Select "})
	require.NoError(t, err)
	assert.Equal(t, []Step{
		{Key: "Down"},
		{Wait: time.Second},
		{Wait: 2500 * time.Millisecond},
		{Key: "Select"},
	}, steps)
	assert.True(t, steps[1].IsWait())

	for _, bad := range [][]string{{""}, {"wait=x"}, {"wait=-1"}} {
		_, err := ParseSequence(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromChannel(t *testing.T) {
	s, err := FromChannel(config.Channel{ID: "a", RokuAppID: "12"})
	require.NoError(t, err)
	assert.Equal(t, KindDeepLink, s.Kind)
	assert.Equal(t, config.DefaultTuneDelay, s.TuneDelay)
	assert.Empty(t, s.MediaType, "plain app launch sends no deep-link params")

	s, err = FromChannel(config.Channel{ID: "b", RokuAppID: "12", DeepLinkContentID: "x", MediaType: "episode", BlankingDuration: 5})
	require.NoError(t, err)
	assert.Equal(t, "episode", s.MediaType)
	assert.Equal(t, 5*time.Second, s.Blanking)

	_, err = FromChannel(config.Channel{ID: "c", RokuAppID: "12", DeepLinkContentID: "x", PluginScript: "p"})
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)

	_, err = FromChannel(config.Channel{ID: "d"})
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{FuboPluginID, config.PluginFuboLegacy, SearchPluginID}, r.IDs())
	assert.Error(t, r.Register(SearchPluginID, SearchPlugin))
	_, err := r.Lookup("nope")
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
}
