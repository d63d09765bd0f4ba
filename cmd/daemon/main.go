// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the Roku tuner bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/daemon"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

// resolveDefaultConfigPath returns ${ROKUTUNER_DATA_DIR}/config.yaml when it
// exists so catalogs saved through the API persist across restarts.
func resolveDefaultConfigPath() string {
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Defaults().DataDir))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML or JSON)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	source := "file"
	if path == "" {
		path = resolveDefaultConfigPath()
		source = "file(auto)"
		if path == "" {
			source = "env+defaults"
		}
	}

	rt, err := daemon.Bootstrap(ctx, daemon.Options{
		Version:    version.Version,
		ConfigPath: path,
	})
	logger := xglog.WithComponent("daemon")
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.bootstrap_failed").
			Str("config_path", path).
			Msg("failed to start")
	}

	cfg := rt.Config.Get()
	logger.Info().
		Str("event", "config.loaded").
		Str("source", source).
		Str("path", path).
		Msg("configuration loaded")
	for _, t := range cfg.Tuners {
		logger.Info().
			Str(xglog.FieldTuner, t.Name).
			Str("roku", t.RokuAddress).
			Str("encoder", maskURL(t.EncoderURL)).
			Msg("tuner configured")
	}

	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.API.ListenAddr).
		Msg("starting rokutuner")

	if err := rt.App.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.exit_error").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("daemon stopped")
}
