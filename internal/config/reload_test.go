// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestConfigHolder_ReloadSwapsAndNotifies(t *testing.T) {
	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())
	path := writeFile(t, "config.yaml", sampleYAML)
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)

	holder := NewConfigHolder(initial, loader, path)
	updates := make(chan AppConfig, 1)
	holder.RegisterListener(updates)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+`
  - id: extra
    name: Extra
    roku_app_id: "99"
`), 0600))
	require.NoError(t, holder.Reload(context.Background()))

	select {
	case cfg := <-updates:
		assert.Len(t, cfg.OnDemandApps, 2)
	case <-time.After(time.Second):
		t.Fatal("listener not notified")
	}
	assert.Len(t, holder.Get().OnDemandApps, 2)
}

func TestConfigHolder_FailedReloadKeepsSnapshot(t *testing.T) {
	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())
	path := writeFile(t, "config.yaml", sampleYAML)
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader, path)

	require.NoError(t, os.WriteFile(path, []byte("tuners: [{name: \"\"}]\n"), 0600))
	require.Error(t, holder.Reload(context.Background()))
	assert.Len(t, holder.Get().Tuners, 2)
}

func TestConfigHolder_WatcherReloadsOnWrite(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Setenv(EnvPrefix+"DATA_DIR", t.TempDir())
	path := writeFile(t, "config.yaml", sampleYAML)
	loader := NewLoader(path, "")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := NewConfigHolder(initial, loader, path)

	updates := make(chan AppConfig, 1)
	holder.RegisterListener(updates)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, holder.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(sampleYAML, "logLevel: debug", "logLevel: warn", 1)), 0600))

	select {
	case cfg := <-updates:
		assert.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	cancel()
	// Let the watch loop observe cancellation and close the watcher.
	time.Sleep(100 * time.Millisecond)
}
