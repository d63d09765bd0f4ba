// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session turns channel requests into tuned, streaming sessions:
// a tuner is locked, the Roku driven to the channel and the encoder
// pipeline opened, with every exit path releasing the tuner.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/ecp"
	"github.com/ManuGH/rokutuner/internal/hardware"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/stream"
	"github.com/ManuGH/rokutuner/internal/telemetry"
	"github.com/ManuGH/rokutuner/internal/tuner"
	"github.com/ManuGH/rokutuner/internal/tuning"
)

// ErrShuttingDown rejects admissions once shutdown started.
var ErrShuttingDown = fmt.Errorf("%w: shutting down", domain.ErrNoTunerAvailable)

// Device is the Roku surface a session drives. *ecp.Client satisfies it.
type Device interface {
	tuning.Controller
	MediaPlayer(ctx context.Context) (ecp.PlayerState, error)
}

// DeviceFunc returns the device client for a Roku address.
type DeviceFunc func(address string) Device

// Devices adapts an ecp.Registry.
func Devices(r *ecp.Registry) DeviceFunc {
	return func(address string) Device { return r.Client(address) }
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Get() config.AppConfig
}

// Opener opens encoder pipelines. *stream.Pipeline satisfies it.
type Opener interface {
	Open(ctx context.Context, source string, mode stream.Mode, capability hardware.Capability) (*stream.Stream, error)
}

// CapabilityResolver yields the encoder capability for a tuner override
// without probing. *hardware.Capabilities satisfies it.
type CapabilityResolver interface {
	Resolve(override string) hardware.Capability
}

// Deps wires the engine to its collaborators.
type Deps struct {
	Config   ConfigSource
	Pool     *tuner.Pool
	Devices  DeviceFunc
	Executor *tuning.Executor
	Pipeline Opener
	Hardware CapabilityResolver
	Recorder *recording.Recorder
}

// Request asks for a channel. TunerName optionally pins a tuner; Mode
// optionally overrides the stream mode.
type Request struct {
	ChannelID string
	TunerName string
	Mode      string
}

// Engine admits sessions and owns their lifecycle.
type Engine struct {
	cfg      ConfigSource
	pool     *tuner.Pool
	devices  DeviceFunc
	executor *tuning.Executor
	pipeline Opener
	hardware CapabilityResolver
	recorder *recording.Recorder
	sessions *registry
	now      func() time.Time
	logger   zerolog.Logger

	pretuneMu sync.Mutex
	stage     *Session
	committed bool
}

// NewEngine creates an engine.
func NewEngine(d Deps) *Engine {
	if d.Executor == nil {
		d.Executor = tuning.NewExecutor(tuning.DefaultRegistry())
	}
	if d.Hardware == nil {
		d.Hardware = hardware.SoftwareOnly()
	}
	return &Engine{
		cfg:      d.Config,
		pool:     d.Pool,
		devices:  d.Devices,
		executor: d.Executor,
		pipeline: d.Pipeline,
		hardware: d.Hardware,
		recorder: d.Recorder,
		sessions: newRegistry(),
		now:      time.Now,
		logger:   xglog.WithComponent("session"),
	}
}

// AcquireAndTune locks a tuner for the channel, drives the Roku to it and
// opens the stream. Any failure releases the tuner before returning.
func (e *Engine) AcquireAndTune(ctx context.Context, req Request) (s *Session, err error) {
	ctx, span := telemetry.Tracer("rokutuner.session").Start(ctx, "rokutuner.session.acquire_and_tune")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(telemetry.ErrorAttributes(err, domain.Code(err))...)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cfg := e.cfg.Get()
	ch, ok := cfg.Channel(req.ChannelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, req.ChannelID)
	}
	strategy, err := tuning.FromChannel(ch)
	if err != nil {
		return nil, err
	}
	if req.Mode != "" {
		if _, err := stream.ParseMode(req.Mode); err != nil {
			return nil, err
		}
	}

	s, err = e.admit(ctx, KindChannel, tuner.Request{Name: req.TunerName, AppID: strategy.AppID})
	if err != nil {
		return nil, err
	}
	s.channelID = ch.ID
	s.blanking = strategy.Blanking
	s.filler = cfg.Stream.BlankFiller
	s.logger = s.logger.With().Str(xglog.FieldChannelID, ch.ID).Logger()

	if err := e.tune(ctx, s, strategy); err != nil {
		s.close(closeFailed)
		return nil, err
	}

	mode, err := stream.ResolveMode(req.Mode, s.tuner.EncodingMode, cfg.Stream.DefaultMode)
	if err == nil {
		err = s.openStream(mode)
	}
	if err != nil {
		s.close(closeFailed)
		return nil, err
	}
	span.SetAttributes(telemetry.SessionAttributes(s.tuner.Name, ch.ID, strategy.Kind.String(), string(mode))...)
	if ch.KeepAlive != nil {
		s.startKeepAlive(*ch.KeepAlive)
	}

	s.logger.Info().
		Str(xglog.FieldEvent, "session.tuned").
		Str(xglog.FieldStrategy, strategy.Kind.String()).
		Str(xglog.FieldMode, string(mode)).
		Msg("channel tuned")
	return s, nil
}

// admit acquires a tuner and registers a session owning it.
func (e *Engine) admit(ctx context.Context, kind Kind, req tuner.Request) (*Session, error) {
	id := uuid.NewString()
	req.Owner = id
	h, err := e.pool.Acquire(req)
	if err != nil {
		return nil, err
	}
	s := newSession(ctx, e, id, kind, h)
	if !e.sessions.add(s) {
		s.cancel()
		h.Release()
		return nil, ErrShuttingDown
	}
	metrics.SessionsActive.WithLabelValues(string(kind)).Inc()
	s.logger.Info().Str(xglog.FieldEvent, "session.admitted").Msg("session admitted")
	return s, nil
}

// tune runs strategy against the session's device. The run aborts when
// either the caller's ctx ends or the session closes.
func (e *Engine) tune(ctx context.Context, s *Session, strategy tuning.Strategy) error {
	tctx, cancel := context.WithCancel(xglog.ContextWithSessionID(ctx, s.id))
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	res, err := e.executor.Execute(tctx, strategy, s.device, nil)
	if !res.LaunchedAt.IsZero() {
		s.setLaunchedAt(res.LaunchedAt)
	}
	if err != nil {
		if s.isClosed() && !errors.Is(err, domain.ErrDeviceUnreachable) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// detach forgets a closing session.
func (e *Engine) detach(s *Session) {
	e.sessions.remove(s.id)
	e.pretuneMu.Lock()
	if e.stage == s {
		e.stage = nil
		e.committed = false
	}
	e.pretuneMu.Unlock()
}

// Session returns a live session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	return e.sessions.get(id)
}

// Sessions lists live sessions, oldest first.
func (e *Engine) Sessions() []Info {
	live := e.sessions.list()
	out := make([]Info, 0, len(live))
	for _, s := range live {
		out = append(out, s.Info())
	}
	return out
}

// Status returns the tuner status snapshot.
func (e *Engine) Status() []tuner.Status {
	return e.pool.Status()
}

// TunerCount returns the number of configured tuners.
func (e *Engine) TunerCount() int {
	return e.pool.Len()
}

// Release frees a tuner by name. The owning session, if any, is closed;
// an orphaned lock is cleared directly.
func (e *Engine) Release(ctx context.Context, name string) error {
	t, ok := e.pool.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrTunerNotFound, name)
	}
	for _, st := range e.pool.Status() {
		if st.Name != name || st.Owner == "" {
			continue
		}
		if s, ok := e.sessions.get(st.Owner); ok {
			s.close(closeReleased)
			return nil
		}
	}

	displaced, err := e.pool.ReleaseByName(name)
	if err != nil {
		return err
	}
	if displaced != "" {
		hctx, cancel := context.WithTimeout(ctx, homeTimeout)
		defer cancel()
		if err := e.devices(t.RokuAddress).Keypress(hctx, "Home"); err != nil {
			e.logger.Debug().Err(err).Str(xglog.FieldTuner, name).Msg("home keypress on release failed")
		}
	}
	return nil
}

// ApplyConfig installs the tuner list of a new snapshot. Running sessions
// keep the snapshot they were admitted with.
func (e *Engine) ApplyConfig(cfg config.AppConfig) error {
	if err := e.pool.Replace(cfg.Tuners); err != nil {
		return err
	}
	e.logger.Info().
		Str(xglog.FieldEvent, "session.pool_reloaded").
		Int("tuners", len(cfg.Tuners)).
		Msg("tuner pool reloaded")
	return nil
}

// Run applies configuration updates until ctx ends.
func (e *Engine) Run(ctx context.Context, updates <-chan config.AppConfig) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg := <-updates:
			if err := e.ApplyConfig(cfg); err != nil {
				e.logger.Error().Err(err).Str(xglog.FieldEvent, "session.pool_reload_failed").Msg("tuner pool reload rejected")
			}
		}
	}
}

// Shutdown refuses new sessions, closes the live ones and waits for their
// workers and recordings to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.sessions.CloseAndWait(ctx)
	if e.recorder != nil {
		err = errors.Join(err, e.recorder.Shutdown(ctx))
	}
	return err
}
