package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/GoCodeAlone/actionpipe"
	"github.com/GoCodeAlone/actionpipe/config"
	"github.com/GoCodeAlone/actionpipe/events"
	"github.com/GoCodeAlone/actionpipe/handlers"
	"github.com/GoCodeAlone/actionpipe/interfaces"
	"github.com/GoCodeAlone/actionpipe/observability/metrics"
	"github.com/GoCodeAlone/actionpipe/observability/sla"
	"github.com/GoCodeAlone/actionpipe/observability/tracing"
	"github.com/GoCodeAlone/actionpipe/pipeline"
	"github.com/GoCodeAlone/actionpipe/store"
)

// timelineSource is the query side of an event recorder.
type timelineSource interface {
	Timeline(ctx context.Context, dispatchID string) (*events.DispatchTimeline, error)
	Timelines(ctx context.Context, filter events.TimelineFilter) ([]events.DispatchTimeline, error)
}

// runtime is an ActionRegister assembled from a config with every
// configured store, observer and event sink attached.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	register  *actionpipe.ActionRegister
	binder    *config.Binder
	stores    *store.Registry
	collector *metrics.Collector
	sla       *sla.Monitor
	tracing   bool
	timelines timelineSource

	closers []func(context.Context) error
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}
	if err := rt.build(ctx); err != nil {
		_ = rt.close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(ctx context.Context) error {
	cfg, logger := rt.cfg, rt.logger

	stores, closeStores, err := config.OpenStores(ctx, cfg.Stores, logger)
	if err != nil {
		return err
	}
	rt.stores = stores
	rt.closers = append(rt.closers, func(context.Context) error { return closeStores() })

	var observers []pipeline.Observer

	if cfg.Metrics.Enabled {
		rt.collector = metrics.NewCollectorWithConfig(cfg.Metrics.Config)
		observers = append(observers, rt.collector)
	}

	if cfg.SLA.Enabled {
		if err := cfg.SLA.Validate(); err != nil {
			return err
		}
		rt.sla = sla.NewMonitor(cfg.SLA.Config)
		observers = append(observers, rt.sla)
	}

	if cfg.Tracing.Enabled {
		provider, err := tracing.NewProvider(ctx, cfg.Tracing.Config)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		rt.tracing = true
		rt.closers = append(rt.closers, provider.Shutdown)
		observers = append(observers, tracing.NewPipelineTracer(provider.Tracer()))
	}

	var publisher interfaces.Publisher
	if cfg.Events.Enabled() {
		emitterOpts := []events.EmitterOption{events.WithEmitterLogger(logger)}
		if cfg.Events.HandlerEvents != nil {
			emitterOpts = append(emitterOpts, events.WithHandlerEvents(*cfg.Events.HandlerEvents))
		}
		if cfg.Events.NATSURL != "" {
			conn, err := events.ConnectNATS(cfg.Events.NATSURL, firstNonEmpty(cfg.Name, "actionctl"), logger)
			if err != nil {
				return err
			}
			rt.closers = append(rt.closers, func(context.Context) error { return conn.Drain() })
			publisher = conn
			emitterOpts = append(emitterOpts, events.WithPublisher(conn, cfg.Events.SubjectPrefix))
		}
		if cfg.Events.SQLitePath != "" {
			rec, err := events.NewSQLiteRecorder(cfg.Events.SQLitePath)
			if err != nil {
				return err
			}
			rt.closers = append(rt.closers, func(context.Context) error { return rec.Close() })
			rt.timelines = rec
			emitterOpts = append(emitterOpts, events.WithRecorder(rec))
		}
		observers = append(observers, events.NewEmitter(emitterOpts...))
	}

	registerOpts := []actionpipe.Option{
		actionpipe.WithLogger(logger),
		actionpipe.WithDefaultScope(cfg.Engine.DefaultScope),
	}
	for _, o := range observers {
		registerOpts = append(registerOpts, actionpipe.WithObserver(o))
	}
	rt.register = actionpipe.New(registerOpts...)

	deps := handlers.Deps{Logger: logger, Stores: stores}
	if publisher != nil {
		deps.Publisher = publisher
	}
	rt.binder = config.NewBinder(rt.register, nil, deps, logger)
	return nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(rt.closers) {
		errs = append(errs, c(ctx))
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// loadRuntime reads the config at path and assembles its runtime. Log
// settings fall back to the config's engine section.
func loadRuntime(ctx context.Context, path string, s settings) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(stderr, firstNonEmpty(s.LogLevel, cfg.Engine.LogLevel), s.LogFormat)
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg, logger)
}
