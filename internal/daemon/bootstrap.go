// SPDX-License-Identifier: MIT

// Package daemon wires the tuner bridge together and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rokutuner/internal/api"
	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/ecp"
	"github.com/ManuGH/rokutuner/internal/hardware"
	"github.com/ManuGH/rokutuner/internal/health"
	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/session"
	"github.com/ManuGH/rokutuner/internal/stream"
	"github.com/ManuGH/rokutuner/internal/telemetry"
	"github.com/ManuGH/rokutuner/internal/tuner"
	"github.com/ManuGH/rokutuner/internal/tuning"
)

// ServiceName tags logs and traces.
const ServiceName = "rokutuner"

// Options controls Bootstrap.
type Options struct {
	Version    string
	ConfigPath string
	// LogOutput defaults to stdout.
	LogOutput io.Writer
	// SkipStartupChecks disables the pre-flight environment checks.
	SkipStartupChecks bool
}

// Runtime is the wired daemon.
type Runtime struct {
	App     *App
	Manager Manager
	Config  *config.ConfigHolder
	Engine  *session.Engine
	API     *api.Server
}

// Bootstrap loads the configuration and builds every component. Resources
// opened before a failure are released before returning.
func Bootstrap(ctx context.Context, opts Options) (rt *Runtime, err error) {
	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Output:  out,
		Service: ServiceName,
		Version: opts.Version,
	})
	logger := log.WithComponent("daemon")

	if !opts.SkipStartupChecks {
		if err := health.PerformStartupChecks(ctx, cfg); err != nil {
			return nil, err
		}
	}

	var hooks []namedHook
	defer func() {
		if err == nil {
			return
		}
		for i := len(hooks) - 1; i >= 0; i-- {
			_ = hooks[i].hook(context.WithoutCancel(ctx))
		}
	}()

	tracingService := ""
	if cfg.Tracing.Enabled {
		provider, err := telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        true,
			ServiceName:    ServiceName,
			ServiceVersion: opts.Version,
			ExporterType:   cfg.Tracing.Exporter,
			Endpoint:       cfg.Tracing.Endpoint,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			logger.Warn().Err(err).Str(log.FieldEvent, "telemetry.init_failed").Msg("tracing disabled")
		} else {
			tracingService = ServiceName
			hooks = append(hooks, namedHook{name: "telemetry", hook: provider.Shutdown})
			logger.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sampling_rate", cfg.Tracing.SamplingRate).
				Msg("Telemetry initialized")
		}
	}

	holder := config.NewConfigHolder(cfg, loader, opts.ConfigPath)

	registry := ecp.NewRegistry(ecp.Options{
		Timeout:          cfg.ECP.Timeout,
		RateLimit:        rate.Limit(cfg.ECP.RateLimit),
		RateLimitBurst:   cfg.ECP.RateBurst,
		BreakerThreshold: cfg.ECP.BreakerThreshold,
		BreakerReset:     cfg.ECP.BreakerReset,
		UserAgent:        ServiceName + "/" + opts.Version,
	})

	pool, err := tuner.NewPool(cfg.Tuners, cfg.ECP.Port)
	if err != nil {
		return nil, fmt.Errorf("build tuner pool: %w", err)
	}

	pipeline := stream.NewPipeline(stream.Options{
		FFmpegBin:     cfg.Stream.FFmpegBin,
		AudioBitrate:  cfg.Stream.AudioBitrate,
		AudioChannels: cfg.Stream.AudioChannels,
		StartTimeout:  cfg.Stream.StartTimeout,
		StallTimeout:  cfg.Stream.StallTimeout,
		KillGrace:     cfg.Stream.KillGrace,
	})

	recorder, err := buildRecorder(cfg, &hooks)
	if err != nil {
		return nil, err
	}

	capabilities := hardware.NewProber(cfg.Stream.FFmpegBin).Detect(ctx)

	engine := session.NewEngine(session.Deps{
		Config:   holder,
		Pool:     pool,
		Devices:  session.Devices(registry),
		Executor: tuning.NewExecutor(tuning.DefaultRegistry()),
		Pipeline: pipeline,
		Hardware: capabilities,
		Recorder: recorder,
	})
	hooks = append(hooks, namedHook{name: "session_engine", hook: engine.Shutdown})

	hm := health.NewManager(opts.Version)
	hm.RegisterChecker(health.NewTunerChecker(pool, health.RegistryDevices(registry), 0))
	hm.RegisterChecker(health.NewDirChecker("recordings", cfg.Recording.Root))

	deps := api.Deps{
		Engine:         engine,
		Config:         holder,
		Health:         hm,
		Version:        opts.Version,
		TracingService: tracingService,
	}
	if opts.ConfigPath != "" {
		deps.Catalog = config.NewManager(opts.ConfigPath)
	}
	apiServer := api.New(deps)

	managerDeps := Deps{
		Logger:     logger,
		APIHandler: apiServer.Handler(),
	}
	if cfg.Metrics.Enabled {
		managerDeps.MetricsHandler = metricsHandler()
		managerDeps.MetricsAddr = cfg.Metrics.ListenAddr
	}
	mgr, err := NewManager(DefaultServerConfig(cfg.API.ListenAddr), managerDeps)
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}

	logger.Info().
		Str("version", opts.Version).
		Int("tuners", pool.Len()).
		Int("channels", len(cfg.Channels)).
		Bool("recording", recorder != nil).
		Msg("bridge assembled")

	return &Runtime{
		App:     NewApp(logger, mgr, holder, engine),
		Manager: mgr,
		Config:  holder,
		Engine:  engine,
		API:     apiServer,
	}, nil
}

// buildRecorder opens the catalog store and handoff. An empty recording root
// disables recording.
func buildRecorder(cfg config.AppConfig, hooks *[]namedHook) (*recording.Recorder, error) {
	if cfg.Recording.Root == "" {
		return nil, nil
	}
	store, err := recording.OpenStore(cfg.Recording.Store)
	if err != nil {
		return nil, fmt.Errorf("open recording store: %w", err)
	}
	*hooks = append(*hooks, namedHook{name: "recording_store", hook: closeHook(store)})

	handoff, err := recording.NewHandoff(cfg.Recording.Handoff, log.WithComponent("handoff"))
	if err != nil {
		return nil, fmt.Errorf("open recording handoff: %w", err)
	}
	*hooks = append(*hooks, namedHook{name: "recording_handoff", hook: closeHook(handoff)})

	return recording.NewRecorder(recording.Options{
		Root:         cfg.Recording.Root,
		FFmpegBin:    cfg.Stream.FFmpegBin,
		PollInterval: cfg.Recording.PollInterval,
		MaxDuration:  cfg.Recording.MaxDuration,
		KillGrace:    cfg.Stream.KillGrace,
	}, store, handoff), nil
}

func closeHook(c io.Closer) ShutdownHook {
	return func(context.Context) error {
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
		return nil
	}
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
