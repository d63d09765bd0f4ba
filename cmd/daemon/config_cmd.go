// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/version"
)

func runConfigCLI(args []string) int {
	return configCLI(args, os.Stdout, os.Stderr)
}

func configCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  rokutuner config validate [--file|-f config.yaml]")
	fmt.Fprintln(w, "  rokutuner config dump --effective [--file|-f config.yaml] [--format=yaml|json]")
}

func configFileFlag(fs *flag.FlagSet) *string {
	var file string
	fs.StringVar(&file, "file", "", "path to YAML or JSON configuration file")
	fs.StringVar(&file, "f", "", "path to YAML or JSON configuration file (shorthand)")
	return &file
}

func resolveConfigFile(file string, stderr io.Writer) (string, bool) {
	configPath := strings.TrimSpace(file)
	if configPath == "" {
		configPath = resolveDefaultConfigPath()
	}
	if configPath == "" {
		fmt.Fprintf(stderr, "Error: --file is required (no default config.yaml found in $%sDATA_DIR)\n", config.EnvPrefix)
		return "", false
	}
	return configPath, true
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rokutuner config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := configFileFlag(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath, ok := resolveConfigFile(*file, stderr)
	if !ok {
		return 2
	}

	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fmt.Fprintf(stdout, "%s is valid: %d tuners, %d channels, %d on-demand apps\n",
		configPath, len(cfg.Tuners), len(cfg.Channels), len(cfg.OnDemandApps))
	return 0
}

func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rokutuner config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := configFileFlag(fs)
	var format string
	var effective bool
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")
	fs.BoolVar(&effective, "effective", false, "dump effective configuration (defaults + file + env)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if !effective {
		fmt.Fprintln(stderr, "Error: --effective is required")
		return 2
	}

	configPath, ok := resolveConfigFile(*file, stderr)
	if !ok {
		return 2
	}

	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", configPath, err)
		return 1
	}

	fileCfg := fileConfigFromAppConfig(cfg)
	redactFileConfigSecrets(&fileCfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}

func fileConfigFromAppConfig(cfg config.AppConfig) config.FileConfig {
	api := cfg.API
	metrics := cfg.Metrics
	tracing := cfg.Tracing
	hdhr := cfg.HDHR
	store := cfg.Recording.Store
	handoff := cfg.Recording.Handoff
	blankFiller := cfg.Stream.BlankFiller

	return config.FileConfig{
		LogLevel: cfg.LogLevel,
		DataDir:  cfg.DataDir,
		API:      &api,
		Metrics:  &metrics,
		Tracing:  &tracing,
		ECP: &config.ECPFile{
			Port:             cfg.ECP.Port,
			Timeout:          durationString(cfg.ECP.Timeout),
			RateLimit:        cfg.ECP.RateLimit,
			RateBurst:        cfg.ECP.RateBurst,
			BreakerThreshold: cfg.ECP.BreakerThreshold,
			BreakerReset:     durationString(cfg.ECP.BreakerReset),
		},
		Stream: &config.StreamFile{
			FFmpegBin:     cfg.Stream.FFmpegBin,
			DefaultMode:   cfg.Stream.DefaultMode,
			HWAccel:       cfg.Stream.HWAccel,
			AudioBitrate:  cfg.Stream.AudioBitrate,
			AudioChannels: strconv.Itoa(cfg.Stream.AudioChannels),
			StartTimeout:  durationString(cfg.Stream.StartTimeout),
			StallTimeout:  durationString(cfg.Stream.StallTimeout),
			KillGrace:     durationString(cfg.Stream.KillGrace),
			BlankFiller:   &blankFiller,
		},
		Recording: &config.RecordingFile{
			Root:         cfg.Recording.Root,
			PollInterval: durationString(cfg.Recording.PollInterval),
			MaxDuration:  durationString(cfg.Recording.MaxDuration),
			Store:        &store,
			Handoff:      &handoff,
		},
		HDHR:     &hdhr,
		Tuners:   cfg.Tuners,
		Channels: cfg.Channels,
		OnDemand: cfg.OnDemandApps,
	}
}

func redactFileConfigSecrets(cfg *config.FileConfig) {
	if cfg == nil {
		return
	}
	tuners := make([]config.Tuner, len(cfg.Tuners))
	for i, t := range cfg.Tuners {
		t.EncoderURL = maskURL(t.EncoderURL)
		tuners[i] = t
	}
	cfg.Tuners = tuners
	if cfg.Recording != nil && cfg.Recording.Handoff != nil && cfg.Recording.Handoff.RedisPassword != "" {
		cfg.Recording.Handoff.RedisPassword = "***"
	}
}
