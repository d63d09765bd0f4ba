// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package recording captures a live stream to disk, stops it when the
// player finishes the item, and hands the file to the tagging collaborator.
package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/ecp"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	"github.com/ManuGH/rokutuner/internal/procgroup"
)

// Player reports the device's media-player state.
type Player interface {
	MediaPlayer(ctx context.Context) (ecp.PlayerState, error)
}

// CommandFactory builds the capture command.
type CommandFactory func(name string, args ...string) *exec.Cmd

// Options configures the recorder.
type Options struct {
	Root         string
	FFmpegBin    string
	PollInterval time.Duration
	MaxDuration  time.Duration
	KillGrace    time.Duration
}

// Params describes one capture.
type Params struct {
	Tuner     string
	ChannelID string
	Source    io.Reader
	Player    Player
	Metadata  Metadata
	Padding   time.Duration
	// OnFinish runs once, after the catalog entry is final.
	OnFinish func(Entry)
}

// Recorder runs captures and tracks the active ones.
type Recorder struct {
	opts    Options
	store   Store
	handoff Handoff
	command CommandFactory
	now     func() time.Time
	logger  zerolog.Logger

	mu     sync.Mutex
	active map[string]*Recording
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder writing below opts.Root.
func NewRecorder(opts Options, store Store, handoff Handoff) *Recorder {
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 4 * time.Hour
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 2 * time.Second
	}
	return &Recorder{
		opts:    opts,
		store:   store,
		handoff: handoff,
		command: func(name string, args ...string) *exec.Cmd {
			// #nosec G204 -- binary path is trusted from config
			return exec.Command(name, args...)
		},
		now:    time.Now,
		logger: xglog.WithComponent("recording"),
		active: make(map[string]*Recording),
	}
}

// WithCommandFactory replaces the capture command builder.
func (r *Recorder) WithCommandFactory(f CommandFactory) *Recorder {
	r.command = f
	return r
}

// Recording is one running capture.
type Recording struct {
	rec    *Recorder
	params Params
	logger zerolog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	exited  chan struct{}
	waitCh  chan error
	exitErr error
	stderr  *tailWriter
	bytes   atomic.Int64
	feedErr error

	// feedFailed receives the source read error that ended the feed.
	feedFailed chan error

	stop     chan string
	stopOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	entry Entry
}

// ID returns the recording id.
func (rc *Recording) ID() string {
	return rc.Entry().ID
}

// Entry returns a snapshot of the catalog entry.
func (rc *Recording) Entry() Entry {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e := rc.entry
	e.Bytes = rc.bytes.Load()
	return e
}

// Done is closed once the recording is finalised.
func (rc *Recording) Done() <-chan struct{} {
	return rc.done
}

// Stop requests a stop with the given reason and waits for finalisation.
func (rc *Recording) Stop(reason string) Entry {
	rc.stopOnce.Do(func() {
		rc.stop <- reason
	})
	<-rc.done
	return rc.Entry()
}

// Start begins capturing p.Source. The capture outlives ctx; it ends on
// completion, max duration, Stop, or when the source fails.
func (r *Recorder) Start(ctx context.Context, p Params) (*Recording, error) {
	if err := p.Metadata.Validate(); err != nil {
		return nil, err
	}
	if p.Source == nil || p.Player == nil {
		return nil, fmt.Errorf("%w: recording needs a live stream and a player", domain.ErrInvalidRequest)
	}
	if p.Padding < 0 {
		return nil, fmt.Errorf("%w: padding must not be negative", domain.ErrInvalidRequest)
	}

	id := uuid.NewString()
	started := r.now()
	path, err := r.allocatePath(p.Metadata, started, id)
	if err != nil {
		return nil, err
	}

	logger := xglog.WithContext(ctx, r.logger).With().
		Str(xglog.FieldRecordingID, id).
		Str(xglog.FieldTuner, p.Tuner).
		Str(xglog.FieldPath, path).
		Logger()

	rc := &Recording{
		rec:        r,
		params:     p,
		logger:     logger,
		stderr:     &tailWriter{limit: 2048},
		exited:     make(chan struct{}),
		waitCh:     make(chan error, 1),
		feedFailed: make(chan error, 1),
		stop:       make(chan string, 1),
		done:       make(chan struct{}),
		entry: Entry{
			ID:        id,
			Tuner:     p.Tuner,
			ChannelID: p.ChannelID,
			Path:      path,
			Metadata:  p.Metadata,
			Status:    StatusRecording,
			StartedAt: started,
		},
	}

	if err := rc.startCapture(); err != nil {
		metrics.RecordingsFinished.WithLabelValues(ReasonError).Inc()
		return nil, fmt.Errorf("%w: start capture: %w", domain.ErrTranscodeFailure, err)
	}
	if err := r.store.Put(ctx, rc.Entry()); err != nil {
		logger.Warn().Err(err).Msg("persist recording entry failed")
	}

	r.mu.Lock()
	r.active[id] = rc
	r.mu.Unlock()
	metrics.RecordingsActive.Inc()

	r.wg.Add(1)
	go rc.supervise()

	logger.Info().
		Str(xglog.FieldEvent, "recording.started").
		Str("title", p.Metadata.Title).
		Dur("padding", p.Padding).
		Msg("recording started")
	return rc, nil
}

func (r *Recorder) allocatePath(m Metadata, started time.Time, id string) (string, error) {
	path := OutputPath(r.opts.Root, m, started)
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(path)
		path = strings.TrimSuffix(path, ext) + " (" + id[:8] + ")" + ext
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}
	return path, nil
}

func (rc *Recording) startCapture() error {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-fflags", "+genpts+discardcorrupt",
		"-i", "pipe:0",
		"-map", "0", "-c", "copy",
		"-f", "mpegts", "-y", rc.entry.Path,
	}
	cmd := rc.rec.command(rc.rec.opts.FFmpegBin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = rc.stderr
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	rc.cmd = cmd
	rc.stdin = stdin

	go func() {
		err := cmd.Wait()
		rc.exitErr = err
		close(rc.exited)
		rc.waitCh <- err
	}()
	go func() {
		_, err := io.Copy(&countingWriter{w: stdin, n: &rc.bytes}, rc.params.Source)
		rc.mu.Lock()
		rc.feedErr = err
		rc.mu.Unlock()
		_ = stdin.Close()
		if err != nil {
			rc.feedFailed <- err
		}
	}()
	return nil
}

func (rc *Recording) supervise() {
	defer rc.rec.wg.Done()
	opts := rc.rec.opts

	maxTimer := time.NewTimer(opts.MaxDuration)
	defer maxTimer.Stop()
	poll := time.NewTicker(opts.PollInterval)
	defer poll.Stop()

	var (
		detector     completionDetector
		padding      <-chan time.Time
		paddingTimer *time.Timer
		reason       string
	)
	defer func() {
		if paddingTimer != nil {
			paddingTimer.Stop()
		}
	}()

loop:
	for {
		select {
		case reason = <-rc.stop:
			break loop
		case <-maxTimer.C:
			reason = ReasonMaxDuration
			break loop
		case <-padding:
			reason = ReasonPlaybackEnded
			break loop
		case <-rc.exited:
			reason = ReasonError
			break loop
		case err := <-rc.feedFailed:
			rc.logger.Warn().Err(err).Msg("live source failed during capture")
			reason = ReasonError
			break loop
		case <-poll.C:
			if padding != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), opts.PollInterval)
			st, err := rc.params.Player.MediaPlayer(ctx)
			cancel()
			if err != nil {
				metrics.PlayerPollFailures.Inc()
				rc.logger.Debug().Err(err).Msg("media player poll failed")
				continue
			}
			if !detector.observe(st) {
				continue
			}
			rc.logger.Info().
				Str(xglog.FieldEvent, "recording.playback_ended").
				Str("player_state", st.State).
				Dur("padding", rc.params.Padding).
				Msg("playback completion detected")
			if rc.params.Padding <= 0 {
				reason = ReasonPlaybackEnded
				break loop
			}
			paddingTimer = time.NewTimer(rc.params.Padding)
			padding = paddingTimer.C
		}
	}
	rc.finish(reason)
}

// finish stops the capture process, finalises the entry and hands it off.
func (rc *Recording) finish(reason string) {
	r := rc.rec
	captureErr := rc.stopCapture(reason)

	rc.mu.Lock()
	rc.entry.EndedAt = r.now()
	rc.entry.Reason = reason
	rc.entry.Status = StatusCompleted
	if captureErr != nil {
		rc.entry.Status = StatusFailed
		rc.entry.Error = captureErr.Error()
	}
	rc.mu.Unlock()
	entry := rc.Entry()

	if entry.Status == StatusFailed {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			rc.logger.Warn().Err(err).Msg("remove partial recording failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.store.Put(ctx, entry); err != nil {
		rc.logger.Warn().Err(err).Msg("persist recording entry failed")
	}
	if entry.Status == StatusCompleted {
		if err := r.handoff.Submit(ctx, NewJob(entry)); err != nil {
			rc.logger.Error().Err(err).Msg("tagging handoff failed")
		}
	}

	r.mu.Lock()
	delete(r.active, entry.ID)
	r.mu.Unlock()
	metrics.RecordingsActive.Dec()
	metrics.RecordingsFinished.WithLabelValues(reason).Inc()

	ev := rc.logger.Info()
	if entry.Status == StatusFailed {
		ev = rc.logger.Error().Str("error", entry.Error)
	}
	ev.Str(xglog.FieldEvent, "recording.stopped").
		Str("reason", reason).
		Dur("duration", entry.Duration()).
		Int64("bytes", entry.Bytes).
		Msg("recording stopped")

	if rc.params.OnFinish != nil {
		rc.params.OnFinish(entry)
	}
	close(rc.done)
}

// stopCapture ends ffmpeg. Closing stdin lets it flush the file; if it does
// not exit within the grace period the process group is terminated.
func (rc *Recording) stopCapture(reason string) error {
	_ = rc.stdin.Close()

	grace := rc.rec.opts.KillGrace
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-rc.exited:
		<-rc.waitCh
	case <-timer.C:
		_ = procgroup.Terminate(rc.cmd, rc.waitCh, grace)
	}

	if reason != ReasonError {
		return nil
	}
	rc.mu.Lock()
	feedErr := rc.feedErr
	rc.mu.Unlock()

	msg := "capture ended before completion"
	if rc.exitErr != nil {
		msg = fmt.Sprintf("capture exited: %v", rc.exitErr)
	}
	if tail := rc.stderr.String(); tail != "" {
		msg += ": " + tail
	}
	if feedErr != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTranscodeFailure, msg, feedErr)
	}
	return fmt.Errorf("%w: %s", domain.ErrTranscodeFailure, msg)
}

// Get returns an active recording.
func (r *Recorder) Get(id string) (*Recording, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.active[id]
	return rc, ok
}

// Stop stops an active recording manually.
func (r *Recorder) Stop(id string) (Entry, error) {
	rc, ok := r.Get(id)
	if !ok {
		return Entry{}, notFound(id)
	}
	return rc.Stop(ReasonManual), nil
}

// Active lists running recordings.
func (r *Recorder) Active() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.active))
	for _, rc := range r.active {
		out = append(out, rc.Entry())
	}
	sortNewestFirst(out)
	return out
}

// List returns the catalog, newest first.
func (r *Recorder) List(ctx context.Context) ([]Entry, error) {
	return r.store.List(ctx)
}

// Shutdown stops every active recording and waits for them to finalise.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	active := make([]*Recording, 0, len(r.active))
	for _, rc := range r.active {
		active = append(active, rc)
	}
	r.mu.Unlock()

	for _, rc := range active {
		rc.stopOnce.Do(func() { rc.stop <- ReasonShutdown })
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type countingWriter struct {
	w io.Writer
	n *atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n.Add(int64(n))
	return n, err
}

type tailWriter struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailWriter) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
