// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the DVR-facing stream endpoints, the control API and
// the HDHomeRun discovery surface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/api/middleware"
	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/hdhr"
	"github.com/ManuGH/rokutuner/internal/health"
	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/session"
	"github.com/ManuGH/rokutuner/internal/tuner"
)

// Engine is the session engine surface the handlers drive.
type Engine interface {
	AcquireAndTune(ctx context.Context, req session.Request) (*session.Session, error)
	TakeCommitted(ctx context.Context, mode string) (*session.Session, error)
	Status() []tuner.Status
	Sessions() []session.Info
	TunerCount() int
	Release(ctx context.Context, name string) error

	Pretune() session.PretuneState
	StartPretune(ctx context.Context, tunerName string) (session.PretuneState, error)
	StopPretune() error
	CommitPretune() (session.PretuneState, error)
	PretuneLaunch(ctx context.Context, appID string) error
	PretuneKeypress(ctx context.Context, key string) error

	StartRecording(ctx context.Context, req session.RecordRequest) (recording.Entry, error)
	StopRecording(id string) (recording.Entry, error)
	ListRecordings(ctx context.Context) ([]recording.Entry, error)
}

// ConfigHolder exposes the running snapshot and triggers reloads.
type ConfigHolder interface {
	Get() config.AppConfig
	Reload(ctx context.Context) error
}

// CatalogSaver persists an edited device catalog.
type CatalogSaver interface {
	Save(current config.AppConfig, tuners []config.Tuner, channels []config.Channel, apps []config.OnDemandApp) error
}

// Deps wires the server. Catalog and Health are optional.
type Deps struct {
	Engine         Engine
	Config         ConfigHolder
	Catalog        CatalogSaver
	Health         *health.Manager
	Version        string
	TracingService string
}

// Server is the HTTP API server.
type Server struct {
	engine  Engine
	cfg     ConfigHolder
	catalog CatalogSaver
	health  *health.Manager
	hdhr    *hdhr.Server
	version string
	tracing string
	logger  zerolog.Logger
	router  http.Handler
}

// New builds the server and its routes.
func New(d Deps) *Server {
	if d.Health == nil {
		d.Health = health.NewManager(d.Version)
	}
	logger := log.WithComponent("api")
	s := &Server{
		engine:  d.Engine,
		cfg:     d.Config,
		catalog: d.Catalog,
		health:  d.Health,
		hdhr:    hdhr.NewServer(d.Config, d.Engine, d.Version, log.WithComponent("hdhr")),
		version: d.Version,
		tracing: d.TracingService,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		TracingService: s.tracing,
		EnableLogging:  true,
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	// HDHomeRun discovery
	r.Get("/discover.json", s.hdhr.HandleDiscover)
	r.Get("/device.xml", s.hdhr.HandleDeviceXML)
	r.Get("/lineup_status.json", s.hdhr.HandleLineupStatus)
	r.Get("/lineup.json", s.hdhr.HandleLineup)
	r.Post("/lineup.json", s.hdhr.HandleLineupPost)

	// Streams
	r.Get("/stream/ondemand", s.handleOnDemandStream)
	r.Get("/stream/ondemand_stream", s.handleOnDemandStream)
	r.Get("/stream/{channelID}", s.handleChannelStream)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/logs", s.handleLogs)
		r.Get("/pretune", s.handlePretuneState)
		r.Get("/recordings", s.handleListRecordings)
		r.Get("/config/catalog", s.handleGetCatalog)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ControlRateLimit(s.cfg.Get().API.RateLimit))

			r.Post("/tuners/{name}/release", s.handleReleaseTuner)

			r.Post("/pretune/start", s.handlePretuneStart)
			r.Post("/pretune/stop", s.handlePretuneStop)
			r.Post("/pretune/commit", s.handlePretuneCommit)
			r.Post("/pretune/launch/{appID}", s.handlePretuneLaunch)
			r.Post("/pretune/keypress/{key}", s.handlePretuneKeypress)

			r.Post("/recordings", s.handleStartRecording)
			r.Delete("/recordings/{id}", s.handleStopRecording)

			r.Post("/config/reload", s.handleConfigReload)
			r.Put("/config/catalog", s.handlePutCatalog)
		})
	})

	return r
}
