// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/hardware"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/stream"
	"github.com/ManuGH/rokutuner/internal/tuner"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
	// ErrNoStream is returned by Relay before a stream was opened.
	ErrNoStream = errors.New("session has no stream")
	// ErrStreamClaimed is returned when the stream already has a consumer.
	ErrStreamClaimed = errors.New("session stream already consumed")
)

// Kind distinguishes channel sessions from manually driven pretune stages.
type Kind string

const (
	KindChannel Kind = "channel"
	KindPretune Kind = "pretune"
)

type closeReason string

const (
	closeRequested     closeReason = "requested"
	closeReleased      closeReason = "released"
	closeFailed        closeReason = "failed"
	closeStreamEnded   closeReason = "stream_ended"
	closeRecordingDone closeReason = "recording_done"
	closeShutdown      closeReason = "shutdown"
)

const homeTimeout = 3 * time.Second

// Session owns one locked tuner from admission until Close. Closing always
// releases the tuner.
type Session struct {
	id      string
	kind    Kind
	engine  *Engine
	handle  *tuner.Handle
	tuner   *tuner.Tuner
	device  Device
	started time.Time
	logger  zerolog.Logger

	// ctx outlives the admitting request so pretune and recording sessions
	// survive it; close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	channelID string
	blanking  time.Duration
	filler    bool

	mu         sync.Mutex
	launchedAt time.Time
	stream     *stream.Stream
	recording  *recording.Recording
	claimed    bool
	kaStop     func()

	closeOnce sync.Once
	closed    chan struct{}
}

// Info is a point-in-time view of a session.
type Info struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Tuner       string    `json:"tuner"`
	ChannelID   string    `json:"channel_id,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	RecordingID string    `json:"recording_id,omitempty"`
	Started     time.Time `json:"started"`
}

func newSession(parent context.Context, e *Engine, id string, kind Kind, h *tuner.Handle) *Session {
	ctx, cancel := context.WithCancel(xglog.ContextWithSessionID(context.WithoutCancel(parent), id))
	t := h.Tuner()
	return &Session{
		id:      id,
		kind:    kind,
		engine:  e,
		handle:  h,
		tuner:   t,
		device:  e.devices(t.RokuAddress),
		started: e.now(),
		logger: xglog.WithComponentFromContext(ctx, "session").With().
			Str(xglog.FieldTuner, t.Name).
			Str("kind", string(kind)).
			Logger(),
		ctx:    ctx,
		cancel: cancel,
		closed: make(chan struct{}),
	}
}

// ID returns the session id, which is also the tuner owner id.
func (s *Session) ID() string { return s.id }

// Kind returns the session kind.
func (s *Session) Kind() Kind { return s.kind }

// Tuner returns the locked tuner.
func (s *Session) Tuner() *tuner.Tuner { return s.tuner }

// ChannelID returns the tuned channel, empty for pretune sessions.
func (s *Session) ChannelID() string { return s.channelID }

// LaunchedAt returns when the app launch was sent; blanking is measured from it.
func (s *Session) LaunchedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launchedAt
}

// Done is closed once the session starts closing.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:        s.id,
		Kind:      s.kind,
		Tuner:     s.tuner.Name,
		ChannelID: s.channelID,
		Started:   s.started,
	}
	if s.stream != nil {
		info.Mode = string(s.stream.Mode())
	}
	if s.recording != nil {
		info.RecordingID = s.recording.ID()
	}
	return info
}

func (s *Session) setLaunchedAt(t time.Time) {
	s.mu.Lock()
	s.launchedAt = t
	s.mu.Unlock()
}

func (s *Session) claimStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// openStream starts the encoder pipeline for the session. A pipeline
// failure observed while nobody is reading still closes the session.
func (s *Session) openStream(mode stream.Mode) error {
	if s.isClosed() {
		return ErrClosed
	}
	capability := hardware.Software()
	if mode == stream.ModeFullReencode {
		capability = s.engine.hardware.Resolve(s.tuner.HWAccel)
	}
	st, err := s.engine.pipeline.Open(s.ctx, s.tuner.EncoderURL, mode, capability)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()

	s.engine.sessions.Go(func() {
		select {
		case <-s.closed:
		case <-st.Done():
			if err := st.Err(); err != nil {
				s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.stream_failed").Msg("stream failed, closing session")
				s.close(closeStreamEnded)
			}
		}
	})
	return nil
}

// Close ends the session: keep-alive stops, an active recording is
// finalised, the stream is closed, the Roku is sent Home and the tuner is
// released. Safe to call any number of times.
func (s *Session) Close() error {
	s.close(closeRequested)
	return nil
}

func (s *Session) close(reason closeReason) {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		kaStop := s.kaStop
		rec := s.recording
		st := s.stream
		s.mu.Unlock()

		if kaStop != nil {
			kaStop()
		}
		if rec != nil {
			rec.Stop(recordingStopReason(reason))
		}
		s.cancel()
		if st != nil {
			_ = st.Close()
		}

		if s.handle.Owned() {
			ctx, cancel := context.WithTimeout(context.Background(), homeTimeout)
			if err := s.device.Keypress(ctx, "Home"); err != nil {
				s.logger.Debug().Err(err).Msg("home keypress on release failed")
			}
			cancel()
		}
		s.handle.Release()
		s.engine.detach(s)

		metrics.SessionsActive.WithLabelValues(string(s.kind)).Dec()
		metrics.SessionsClosed.WithLabelValues(string(s.kind), string(reason)).Inc()
		s.logger.Info().
			Str(xglog.FieldEvent, "session.closed").
			Str("reason", string(reason)).
			Dur("duration", s.engine.now().Sub(s.started)).
			Msg("session closed")
	})
}

// recordingStopReason maps a session close onto the recording's stop reason.
// A failed stream fails the capture so its truncated output is discarded.
func recordingStopReason(reason closeReason) string {
	switch reason {
	case closeShutdown:
		return recording.ReasonShutdown
	case closeStreamEnded, closeFailed:
		return recording.ReasonError
	default:
		return recording.ReasonManual
	}
}

// markRecording flips the tuner to Recording. It reports false if the
// session lost its tuner in the meantime.
func (s *Session) markRecording(rec *recording.Recording) bool {
	s.mu.Lock()
	s.recording = rec
	s.mu.Unlock()
	return s.handle.SetStatus(domain.TunerRecording)
}
