// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/stream"
	"github.com/ManuGH/rokutuner/internal/tuner"
	"github.com/ManuGH/rokutuner/internal/tuning"
)

// PretuneState describes the pretune stage.
type PretuneState struct {
	Active     bool      `json:"active"`
	Committed  bool      `json:"committed"`
	SessionID  string    `json:"session_id,omitempty"`
	Tuner      string    `json:"tuner,omitempty"`
	RokuIP     string    `json:"roku_ip,omitempty"`
	EncoderURL string    `json:"encoder_url,omitempty"`
	Since      time.Time `json:"since,omitzero"`
}

func (e *Engine) pretuneStateLocked() PretuneState {
	if e.stage == nil {
		return PretuneState{}
	}
	t := e.stage.tuner
	return PretuneState{
		Active:     true,
		Committed:  e.committed,
		SessionID:  e.stage.id,
		Tuner:      t.Name,
		RokuIP:     t.RokuAddress,
		EncoderURL: t.EncoderURL,
		Since:      e.stage.started,
	}
}

// Pretune returns the current pretune stage.
func (e *Engine) Pretune() PretuneState {
	e.pretuneMu.Lock()
	defer e.pretuneMu.Unlock()
	return e.pretuneStateLocked()
}

// StartPretune locks a tuner for manual navigation. Only one stage exists
// at a time.
func (e *Engine) StartPretune(ctx context.Context, tunerName string) (PretuneState, error) {
	e.pretuneMu.Lock()
	defer e.pretuneMu.Unlock()
	if e.stage != nil {
		return PretuneState{}, domain.ErrPretuneActive
	}
	s, err := e.admit(ctx, KindPretune, tuner.Request{Name: tunerName})
	if err != nil {
		return PretuneState{}, err
	}
	e.stage = s
	e.committed = false
	s.logger.Info().Str(xglog.FieldEvent, "pretune.started").Msg("pretune stage started")
	return e.pretuneStateLocked(), nil
}

func (e *Engine) currentStage() (*Session, error) {
	e.pretuneMu.Lock()
	defer e.pretuneMu.Unlock()
	if e.stage == nil {
		return nil, domain.ErrNoPretuneSession
	}
	return e.stage, nil
}

// PretuneLaunch launches an on-demand app (by catalog id or Roku app id)
// on the staged tuner.
func (e *Engine) PretuneLaunch(ctx context.Context, appID string) error {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("%w: app id is required", domain.ErrInvalidRequest)
	}
	s, err := e.currentStage()
	if err != nil {
		return err
	}
	rokuApp := appID
	if app, ok := e.cfg.Get().OnDemandApp(appID); ok {
		rokuApp = app.RokuAppID
	}
	return e.tune(ctx, s, tuning.ForApp(rokuApp))
}

// PretuneKeypress forwards one remote key to the staged tuner.
func (e *Engine) PretuneKeypress(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", domain.ErrInvalidRequest)
	}
	s, err := e.currentStage()
	if err != nil {
		return err
	}
	return s.device.Keypress(xglog.ContextWithSessionID(ctx, s.id), key)
}

// CommitPretune marks the stage ready for the DVR's on-demand request.
func (e *Engine) CommitPretune() (PretuneState, error) {
	e.pretuneMu.Lock()
	defer e.pretuneMu.Unlock()
	if e.stage == nil {
		return PretuneState{}, domain.ErrNoPretuneSession
	}
	e.committed = true
	e.stage.logger.Info().Str(xglog.FieldEvent, "pretune.committed").Msg("pretune stage committed")
	return e.pretuneStateLocked(), nil
}

// TakeCommitted hands the committed stage to the caller with its stream
// open, and clears the stage. It succeeds at most once per commit.
func (e *Engine) TakeCommitted(_ context.Context, mode string) (*Session, error) {
	if mode != "" {
		if _, err := stream.ParseMode(mode); err != nil {
			return nil, err
		}
	}
	e.pretuneMu.Lock()
	s := e.stage
	if s == nil || !e.committed {
		e.pretuneMu.Unlock()
		return nil, domain.ErrNoPretuneSession
	}
	e.stage = nil
	e.committed = false
	e.pretuneMu.Unlock()

	resolved, err := stream.ResolveMode(mode, s.tuner.EncodingMode, e.cfg.Get().Stream.DefaultMode)
	if err == nil {
		err = s.openStream(resolved)
	}
	if err != nil {
		s.close(closeFailed)
		return nil, err
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "pretune.taken").
		Str(xglog.FieldMode, string(resolved)).
		Msg("committed pretune stream handed to client")
	return s, nil
}

// takeStage removes the stage, committed or not, for a recording.
func (e *Engine) takeStage() (*Session, error) {
	e.pretuneMu.Lock()
	defer e.pretuneMu.Unlock()
	if e.stage == nil {
		return nil, domain.ErrNoPretuneSession
	}
	s := e.stage
	e.stage = nil
	e.committed = false
	return s, nil
}

// StopPretune discards the stage and releases its tuner.
func (e *Engine) StopPretune() error {
	s, err := e.takeStage()
	if err != nil {
		return err
	}
	s.close(closeRequested)
	return nil
}
