// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hardware detects which H.264 encoder the host can actually run.
//
// Detection order is NVIDIA (h264_nvenc), Intel Quick Sync (h264_qsv with a
// render node), then software (libx264). An encoder only counts once it is
// listed by `ffmpeg -encoders` AND a real 5-frame test encode succeeds.
// The result is probed once per process, at startup, and never changes
// afterwards.
package hardware

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

// Accel names an acceleration backend.
type Accel string

const (
	AccelNVIDIA   Accel = "nvidia"
	AccelIntel    Accel = "intel"
	AccelSoftware Accel = "software"
)

// DefaultRenderNode is the DRM render node used for Quick Sync.
const DefaultRenderNode = "/dev/dri/renderD128"

// Capability is the immutable probe result.
type Capability struct {
	Accel   Accel
	Encoder string
	Device  string
}

var (
	nvidia   = Capability{Accel: AccelNVIDIA, Encoder: "h264_nvenc"}
	software = Capability{Accel: AccelSoftware, Encoder: "libx264"}
)

func intel(device string) Capability {
	return Capability{Accel: AccelIntel, Encoder: "h264_qsv", Device: device}
}

// Software returns the always-available libx264 capability.
func Software() Capability { return software }

// InputArgs are ffmpeg options that must precede -i.
func (c Capability) InputArgs() []string {
	switch c.Accel {
	case AccelNVIDIA:
		return []string{"-hwaccel", "cuda"}
	case AccelIntel:
		return []string{"-init_hw_device", "qsv=hw:" + c.Device, "-filter_hw_device", "hw"}
	default:
		return nil
	}
}

// VideoArgs are the output options selecting and tuning the video encoder.
func (c Capability) VideoArgs() []string {
	switch c.Accel {
	case AccelNVIDIA:
		return []string{"-c:v", c.Encoder, "-preset", "p4", "-tune", "ll", "-rc", "vbr", "-cq", "23"}
	case AccelIntel:
		return []string{"-vf", "format=nv12,hwupload=extra_hw_frames=64", "-c:v", c.Encoder, "-preset", "veryfast", "-global_quality", "23"}
	default:
		return []string{"-c:v", "libx264", "-preset", "veryfast", "-tune", "zerolatency", "-crf", "23"}
	}
}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- binary path is trusted from config
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Capabilities is the immutable probe result: the preferred encoder and
// every backend that passed its test encode.
type Capabilities struct {
	best    Capability
	working map[Accel]Capability
	logger  zerolog.Logger
}

// SoftwareOnly returns capabilities for a host without usable hardware encoders.
func SoftwareOnly() *Capabilities {
	return &Capabilities{
		best:    software,
		working: map[Accel]Capability{AccelSoftware: software},
		logger:  zerolog.Nop(),
	}
}

// Best returns the detected encoder.
func (c *Capabilities) Best() Capability { return c.best }

// Resolve applies a per-tuner override. "auto" and "" use the detected
// encoder; an explicit backend is honoured only if it passed detection.
// Resolve never runs ffmpeg.
func (c *Capabilities) Resolve(override string) Capability {
	accel := Accel(strings.ToLower(strings.TrimSpace(override)))
	switch accel {
	case "", "auto":
		return c.best
	case AccelSoftware, AccelNVIDIA, AccelIntel:
		if found, ok := c.working[accel]; ok {
			return found
		}
	}
	c.logger.Warn().
		Str("override", override).
		Str(xglog.FieldEncoder, c.best.Encoder).
		Msg("requested hardware acceleration unavailable, using detected encoder")
	return c.best
}

// Prober runs the detection once and caches it.
type Prober struct {
	ffmpeg       string
	renderNode   string
	probeTimeout time.Duration
	run          Runner
	stat         func(string) (os.FileInfo, error)
	logger       zerolog.Logger

	once   sync.Once
	result *Capabilities
}

// NewProber returns a prober for the given ffmpeg binary.
func NewProber(ffmpegBin string) *Prober {
	return &Prober{
		ffmpeg:       ffmpegBin,
		renderNode:   DefaultRenderNode,
		probeTimeout: 10 * time.Second,
		run:          execRunner,
		stat:         os.Stat,
		logger:       xglog.WithComponent("hardware"),
	}
}

// Detect probes every backend on first call and returns the cached result
// afterwards. Cancelling ctx does not cut the probe short: a partial probe
// would pin the software encoder for the life of the process.
func (p *Prober) Detect(ctx context.Context) *Capabilities {
	p.once.Do(func() {
		p.result = p.probe(context.WithoutCancel(ctx))
		best := p.result.best
		metrics.HardwareAccel.Reset()
		metrics.HardwareAccel.WithLabelValues(string(best.Accel), best.Encoder).Set(1)
		p.logger.Info().
			Str(xglog.FieldEvent, "hardware.detected").
			Str("accel", string(best.Accel)).
			Str(xglog.FieldEncoder, best.Encoder).
			Int("backends", len(p.result.working)).
			Msg("video encoder selected")
	})
	return p.result
}

func (p *Prober) probe(ctx context.Context) *Capabilities {
	caps := SoftwareOnly()
	caps.logger = p.logger

	listCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	out, err := p.run(listCtx, p.ffmpeg, "-hide_banner", "-encoders")
	cancel()
	if err != nil {
		p.logger.Warn().Err(err).Msg("ffmpeg -encoders failed, falling back to software")
		return caps
	}
	list := string(out)

	if strings.Contains(list, nvidia.Encoder) && p.verify(ctx, nvidia) {
		caps.working[AccelNVIDIA] = nvidia
	}
	if strings.Contains(list, "h264_qsv") {
		if _, err := p.stat(p.renderNode); err != nil {
			p.logger.Info().Str(xglog.FieldDevice, p.renderNode).Msg("render node not accessible, skipping quick sync")
		} else if qsv := intel(p.renderNode); p.verify(ctx, qsv) {
			caps.working[AccelIntel] = qsv
		}
	}

	for _, accel := range []Accel{AccelNVIDIA, AccelIntel} {
		if c, ok := caps.working[accel]; ok {
			caps.best = c
			break
		}
	}
	return caps
}

func (p *Prober) verify(ctx context.Context, c Capability) bool {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if err := p.testEncode(ctx, c); err != nil {
		p.logger.Info().Err(err).Str(xglog.FieldEncoder, c.Encoder).Msg("encoder test failed")
		return false
	}
	return true
}

func (p *Prober) testEncode(ctx context.Context, c Capability) error {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, c.InputArgs()...)
	args = append(args,
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=1280x720:rate=25",
	)
	args = append(args, c.VideoArgs()...)
	args = append(args, "-frames:v", "5", "-f", "null", "-")

	out, err := p.run(ctx, p.ffmpeg, args...)
	if err != nil {
		return fmt.Errorf("encode test failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
