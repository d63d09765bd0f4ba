// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	"github.com/ManuGH/rokutuner/internal/procgroup"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("stream closed")

const stderrTailBytes = 4096

// Stream is one open encoder feed. Read returns MPEG-TS bytes; any end of
// data not caused by Close is reported as an error, never a bare EOF.
type Stream struct {
	mode   Mode
	opts   Options
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	resp *http.Response
	out  io.Reader
	pipe *os.File

	cmd     *exec.Cmd
	waitCh  chan error
	exited  chan struct{}
	exitErr error
	stderr  *tailBuffer
	source  *sourceReader

	wd *Watchdog

	mu       sync.Mutex
	failure  error
	done     chan struct{}
	doneOnce sync.Once

	closed    atomic.Bool
	closeOnce sync.Once
	killOnce  sync.Once
	wg        sync.WaitGroup
	bytes     atomic.Int64
}

func newStream(ctx context.Context, cancel context.CancelFunc, mode Mode, resp *http.Response, opts Options, logger zerolog.Logger) *Stream {
	metrics.StreamsActive.WithLabelValues(string(mode)).Inc()
	return &Stream{
		mode:   mode,
		opts:   opts,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		resp:   resp,
		wd:     NewWatchdog(opts.StartTimeout, opts.StallTimeout),
		done:   make(chan struct{}),
	}
}

func (s *Stream) start(out io.Reader) {
	s.out = out
	s.wg.Add(1)
	go s.watch()
}

// attach wires the encoder body into cmd's stdin and its stdout into the
// stream. stdout is a plain os.Pipe so cmd.Wait never races our reads.
func (s *Stream) attach(cmd *exec.Cmd) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return err
	}
	cmd.Stdout = w
	s.stderr = newTailBuffer(stderrTailBytes)
	cmd.Stderr = s.stderr
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return err
	}
	_ = w.Close()

	s.cmd = cmd
	s.pipe = r
	s.waitCh = make(chan error, 1)
	s.exited = make(chan struct{})
	go func() {
		err := cmd.Wait()
		s.exitErr = err
		close(s.exited)
		s.waitCh <- err
	}()

	s.source = &sourceReader{r: s.resp.Body}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = io.Copy(stdin, s.source)
		_ = stdin.Close()
	}()

	s.start(r)
	return nil
}

func (s *Stream) watch() {
	defer s.wg.Done()
	err := s.wd.Run(s.ctx)
	if err == nil {
		return
	}
	class := domain.ErrTranscodeFailure
	if !s.mode.Transcodes() {
		class = domain.ErrSourceUnreachable
	}
	failure := fmt.Errorf("%w: %w", class, err)
	s.fail(failure, "stall")
	s.logger.Warn().Err(failure).Str(xglog.FieldEvent, "stream.stalled").Msg("stream watchdog tripped")
	s.cancel()
	go s.terminate()
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	n, err := s.out.Read(p)
	if n > 0 {
		s.wd.Observe(n)
		s.bytes.Add(int64(n))
		metrics.StreamBytes.WithLabelValues(string(s.mode)).Add(float64(n))
	}
	if err == nil {
		return n, nil
	}
	return n, s.readError(err)
}

func (s *Stream) readError(err error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if f := s.Err(); f != nil {
		return f
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var failure error
	if s.cmd == nil {
		if errors.Is(err, io.EOF) {
			failure = fmt.Errorf("%w: source closed the stream", domain.ErrSourceUnreachable)
		} else {
			failure = fmt.Errorf("%w: %w", domain.ErrSourceUnreachable, err)
		}
		s.fail(failure, "source_ended")
	} else {
		failure = s.transcoderFailure()
		s.fail(failure, "exited")
	}
	s.logger.Error().Err(failure).Str(xglog.FieldEvent, "stream.failed").Msg("stream ended unexpectedly")
	return s.Err()
}

func (s *Stream) transcoderFailure() error {
	timer := time.NewTimer(s.opts.KillGrace)
	defer timer.Stop()

	status := "still running"
	select {
	case <-s.exited:
		if s.exitErr != nil {
			status = s.exitErr.Error()
		} else {
			status = "exit status 0"
		}
	case <-timer.C:
		go s.terminate()
	}

	msg := fmt.Sprintf("transcoder output ended (%s)", status)
	if tail := s.stderr.String(); tail != "" {
		msg += ": " + tail
	}
	if srcErr := s.source.Err(); srcErr != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTranscodeFailure, msg, srcErr)
	}
	return fmt.Errorf("%w: %s", domain.ErrTranscodeFailure, msg)
}

func (s *Stream) fail(err error, reason string) {
	s.mu.Lock()
	first := s.failure == nil
	if first {
		s.failure = err
	}
	s.mu.Unlock()
	if first {
		if s.mode.Transcodes() {
			metrics.TranscoderFailures.WithLabelValues(string(s.mode), reason).Inc()
		}
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// Err returns the terminal failure, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Done is closed once the stream failed or was closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Mode returns the stream mode.
func (s *Stream) Mode() Mode {
	return s.mode
}

// BytesRead returns the number of bytes delivered so far.
func (s *Stream) BytesRead() int64 {
	return s.bytes.Load()
}

func (s *Stream) terminate() {
	s.killOnce.Do(func() {
		if s.cmd == nil {
			return
		}
		_ = procgroup.Terminate(s.cmd, s.waitCh, s.opts.KillGrace)
	})
}

// Close stops the stream: the encoder request is cancelled and the
// transcoder process group terminated. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.resp.Body.Close()
		s.terminate()
		if s.pipe != nil {
			_ = s.pipe.Close()
		}
		s.wg.Wait()
		s.doneOnce.Do(func() { close(s.done) })
		metrics.StreamsActive.WithLabelValues(string(s.mode)).Dec()
		s.logger.Info().
			Str(xglog.FieldEvent, "stream.closed").
			Int64("bytes", s.bytes.Load()).
			Msg("stream closed")
	})
	return nil
}

// sourceReader remembers how the encoder feed ended.
type sourceReader struct {
	r   io.Reader
	mu  sync.Mutex
	err error
}

func (r *sourceReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil {
		r.mu.Lock()
		if r.err == nil {
			r.err = err
		}
		r.mu.Unlock()
	}
	return n, err
}

// Err reports why the source stopped; EOF becomes ErrSourceUnreachable too
// since a live encoder never ends on its own.
func (r *sourceReader) Err() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.err == nil:
		return nil
	case errors.Is(r.err, io.EOF):
		return fmt.Errorf("%w: source closed the stream", domain.ErrSourceUnreachable)
	default:
		return fmt.Errorf("%w: %w", domain.ErrSourceUnreachable, r.err)
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
