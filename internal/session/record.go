// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/stream"
)

// ErrRecordingDisabled is returned when no recorder is configured.
var ErrRecordingDisabled = fmt.Errorf("%w: recording is not configured", domain.ErrConfigurationInvalid)

// RecordRequest starts a capture. With ChannelID set the channel is tuned
// first; otherwise the pretune stage, committed or not, is recorded.
type RecordRequest struct {
	ChannelID string
	TunerName string
	Mode      string
	Metadata  recording.Metadata
	Padding   time.Duration
}

// StartRecording starts a capture and returns its initial catalog entry.
// The session closes, releasing the tuner, when the recording finishes.
func (e *Engine) StartRecording(ctx context.Context, req RecordRequest) (recording.Entry, error) {
	if e.recorder == nil {
		return recording.Entry{}, ErrRecordingDisabled
	}
	if err := req.Metadata.Validate(); err != nil {
		return recording.Entry{}, err
	}
	if req.Padding < 0 {
		return recording.Entry{}, fmt.Errorf("%w: padding must not be negative", domain.ErrInvalidRequest)
	}

	var s *Session
	if req.ChannelID != "" {
		tuned, err := e.AcquireAndTune(ctx, Request{ChannelID: req.ChannelID, TunerName: req.TunerName, Mode: req.Mode})
		if err != nil {
			return recording.Entry{}, err
		}
		s = tuned
	} else {
		if req.Mode != "" {
			if _, err := stream.ParseMode(req.Mode); err != nil {
				return recording.Entry{}, err
			}
		}
		staged, err := e.takeStage()
		if err != nil {
			return recording.Entry{}, err
		}
		s = staged
		mode, err := stream.ResolveMode(req.Mode, s.tuner.EncodingMode, e.cfg.Get().Stream.DefaultMode)
		if err == nil {
			err = s.openStream(mode)
		}
		if err != nil {
			s.close(closeFailed)
			return recording.Entry{}, err
		}
	}

	entry, err := e.record(s, req.Metadata, req.Padding)
	if err != nil {
		s.close(closeFailed)
		return recording.Entry{}, err
	}
	return entry, nil
}

func (e *Engine) record(s *Session, m recording.Metadata, padding time.Duration) (recording.Entry, error) {
	if !s.claimStream() {
		return recording.Entry{}, ErrStreamClaimed
	}
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()

	rec, err := e.recorder.Start(s.ctx, recording.Params{
		Tuner:     s.tuner.Name,
		ChannelID: s.channelID,
		Source:    st,
		Player:    s.device,
		Metadata:  m,
		Padding:   padding,
		OnFinish: func(recording.Entry) {
			e.sessions.Go(func() { s.close(closeRecordingDone) })
		},
	})
	if err != nil {
		return recording.Entry{}, err
	}
	if !s.markRecording(rec) {
		rec.Stop(recording.ReasonError)
		return recording.Entry{}, ErrClosed
	}
	return rec.Entry(), nil
}

// StopRecording stops an active recording; its session closes afterwards.
func (e *Engine) StopRecording(id string) (recording.Entry, error) {
	if e.recorder == nil {
		return recording.Entry{}, ErrRecordingDisabled
	}
	return e.recorder.Stop(id)
}

// ListRecordings returns the catalog, newest first, with live byte counts
// for active captures.
func (e *Engine) ListRecordings(ctx context.Context) ([]recording.Entry, error) {
	if e.recorder == nil {
		return nil, ErrRecordingDisabled
	}
	entries, err := e.recorder.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make(map[string]recording.Entry)
	for _, a := range e.recorder.Active() {
		active[a.ID] = a
	}
	for i, entry := range entries {
		if a, ok := active[entry.ID]; ok {
			entries[i] = a
		}
	}
	return entries, nil
}
