// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/validate"
)

// PerformStartupChecks validates the environment before the servers start.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	dirs := validate.New()
	dirs.Directory("dataDir", cfg.DataDir, false)
	if err := dirs.Err(); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkWritableDir(cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	logger.Info().Str("path", cfg.DataDir).Msg("data directory is writable")

	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(name, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	return nil
}

// transcodingRequired reports whether any configured mode runs ffmpeg on the
// live path.
func transcodingRequired(cfg config.AppConfig) bool {
	if cfg.Stream.DefaultMode != config.ModeProxy {
		return true
	}
	for _, t := range cfg.Tuners {
		if t.EncodingMode != "" && t.EncodingMode != config.ModeProxy {
			return true
		}
	}
	return false
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if err := checkListenAddr("API", cfg.API.ListenAddr); err != nil {
		return err
	}
	if cfg.Metrics.Enabled {
		if err := checkListenAddr("metrics", cfg.Metrics.ListenAddr); err != nil {
			return err
		}
	}

	if cfg.Recording.Root != "" {
		if !filepath.IsAbs(cfg.Recording.Root) {
			return fmt.Errorf("recording root must be an absolute path: %s", cfg.Recording.Root)
		}
		root := validate.New()
		root.Directory("recording.root", cfg.Recording.Root, false)
		if err := root.Err(); err != nil {
			return fmt.Errorf("failed to ensure recording root: %w", err)
		}
		logger.Info().Str("path", cfg.Recording.Root).Msg("recording root ready")
	}

	ffmpegBin := strings.TrimSpace(cfg.Stream.FFmpegBin)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if _, err := exec.LookPath(ffmpegBin); err != nil {
		if transcodingRequired(cfg) {
			return fmt.Errorf("ffmpeg binary not found (%s): %w", ffmpegBin, err)
		}
		logger.Warn().
			Str("ffmpeg", ffmpegBin).
			Msg("ffmpeg not found; proxy streaming works but recording and transcoding will fail")
	} else {
		logger.Info().Str("ffmpeg", ffmpegBin).Msg("ffmpeg available")
	}

	if len(cfg.Tuners) == 0 {
		logger.Warn().Msg("no tuners configured; every stream request will be rejected")
	}
	return nil
}
