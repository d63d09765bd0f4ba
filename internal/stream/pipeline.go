// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream opens the encoder feed for a tuner and, depending on the
// mode, passes it through or runs it through ffmpeg into MPEG-TS.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/hardware"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	platformnet "github.com/ManuGH/rokutuner/internal/platform/net"
)

// Options configures a Pipeline.
type Options struct {
	FFmpegBin     string
	AudioBitrate  string
	AudioChannels int
	StartTimeout  time.Duration
	StallTimeout  time.Duration
	KillGrace     time.Duration
	HTTPClient    *http.Client
}

// CommandFactory builds the transcoder command. Tests substitute shell scripts.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Pipeline opens streams. It is stateless and safe for concurrent use.
type Pipeline struct {
	opts    Options
	client  *http.Client
	command CommandFactory
	logger  zerolog.Logger
}

// NewPipeline builds a pipeline. Encoder requests are traced through otelhttp.
func NewPipeline(opts Options) *Pipeline {
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "128k"
	}
	if opts.AudioChannels <= 0 {
		opts.AudioChannels = 2
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 2 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.ResponseHeaderTimeout = opts.StartTimeout
		client = &http.Client{Transport: otelhttp.NewTransport(base)}
	}
	return &Pipeline{
		opts:    opts,
		client:  client,
		command: defaultCommand,
		logger:  xglog.WithComponent("stream"),
	}
}

func defaultCommand(name string, args ...string) *exec.Cmd {
	// #nosec G204 -- binary path is trusted from config
	return exec.Command(name, args...)
}

// WithCommandFactory replaces the transcoder command builder.
func (p *Pipeline) WithCommandFactory(f CommandFactory) *Pipeline {
	p.command = f
	return p
}

// Args returns the ffmpeg arguments for a transcoding mode. Input is read
// from stdin and MPEG-TS written to stdout.
func (p *Pipeline) Args(mode Mode, capability hardware.Capability) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if mode == ModeFullReencode {
		args = append(args, capability.InputArgs()...)
	}
	args = append(args, "-fflags", "+genpts+discardcorrupt", "-i", "pipe:0")

	audio := []string{"-c:a", "aac", "-b:a", p.opts.AudioBitrate, "-ac", strconv.Itoa(p.opts.AudioChannels)}
	switch mode {
	case ModeRemux:
		args = append(args, "-map", "0", "-c", "copy")
	case ModeReencode:
		args = append(args, "-map", "0:v?", "-map", "0:a?", "-c:v", "copy")
		args = append(args, audio...)
	case ModeFullReencode:
		args = append(args, "-map", "0:v?", "-map", "0:a?")
		args = append(args, capability.VideoArgs()...)
		args = append(args, audio...)
	}
	return append(args, "-avoid_negative_ts", "make_zero", "-f", "mpegts", "pipe:1")
}

// Open connects to the encoder and, for transcoding modes, starts ffmpeg.
// The stream lives until Close or until ctx is cancelled.
func (p *Pipeline) Open(ctx context.Context, source string, mode Mode, capability hardware.Capability) (*Stream, error) {
	logger := xglog.WithContext(ctx, p.logger).With().
		Str(xglog.FieldMode, string(mode)).
		Str(xglog.FieldSource, platformnet.SanitizeURL(source)).
		Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := p.openSource(streamCtx, source)
	if err != nil {
		cancel()
		metrics.StreamOpenFailures.WithLabelValues(string(mode), "source").Inc()
		logger.Warn().Err(err).Str(xglog.FieldEvent, "stream.source_failed").Msg("encoder source unreachable")
		return nil, err
	}

	s := newStream(streamCtx, cancel, mode, resp, p.opts, logger)
	if !mode.Transcodes() {
		s.start(resp.Body)
		return s, nil
	}

	args := p.Args(mode, capability)
	cmd := p.command(p.opts.FFmpegBin, args...)
	if err := s.attach(cmd); err != nil {
		s.Close()
		metrics.StreamOpenFailures.WithLabelValues(string(mode), "spawn").Inc()
		logger.Error().Err(err).Str(xglog.FieldEvent, "stream.spawn_failed").Msg("transcoder failed to start")
		return nil, fmt.Errorf("%w: start transcoder: %w", domain.ErrTranscodeFailure, err)
	}
	logger.Info().
		Str(xglog.FieldEvent, "stream.transcoder_started").
		Int(xglog.FieldPID, cmd.Process.Pid).
		Str(xglog.FieldEncoder, capability.Encoder).
		Msg("transcoder started")
	return s, nil
}

func (p *Pipeline) openSource(ctx context.Context, source string) (*http.Response, error) {
	u, err := platformnet.ParseSourceURL(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnreachable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnreachable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnreachable, platformnet.SanitizeURL(source), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", domain.ErrSourceUnreachable, platformnet.SanitizeURL(source), resp.Status)
	}
	return resp, nil
}
