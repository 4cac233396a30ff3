// Package app wires the arena server together and runs it until cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"arena-shooter/server/internal/config"
	"arena-shooter/server/internal/instance"
	servernet "arena-shooter/server/internal/net"
	"arena-shooter/server/internal/net/ws"
	"arena-shooter/server/internal/observability"
	"arena-shooter/server/internal/physics"
	"arena-shooter/server/internal/sim"
	"arena-shooter/server/internal/telemetry"
	"arena-shooter/server/logging"
	loggingSinks "arena-shooter/server/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Settings config.Config
	// Logger receives operational logs. Nil builds one from Settings.Logging.
	Logger *zap.Logger
	// Listener overrides Settings.Server.Address when set.
	Listener net.Listener
}

// Run serves until ctx is cancelled or a component fails. Cancellation is a
// clean shutdown and returns nil.
func Run(ctx context.Context, cfg Config) error {
	settings := cfg.Settings.Normalized()

	zapLogger := cfg.Logger
	if zapLogger == nil {
		built, err := newLogger(settings.Logging)
		if err != nil {
			return err
		}
		zapLogger = built
		defer zapLogger.Sync()
	}
	telemetryLogger := telemetry.WrapSugared(zapLogger.Sugar())

	stopProfile, err := observability.Start(settings.Observability)
	if err != nil {
		return fmt.Errorf("start profiling: %w", err)
	}
	defer stopProfile()

	logConfig := settings.Log()
	sinks, err := buildSinks(logConfig)
	if err != nil {
		return err
	}
	router, err := logging.NewRouter(logConfig, logging.SystemClock{}, zap.NewStdLog(zapLogger.Named("logging")), sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	var recentEvents func() []logging.Event
	if memory, ok := router.Sink("memory").(*loggingSinks.MemorySink); ok {
		recentEvents = memory.Events
	}

	metrics := &logging.Metrics{}
	telemetryMetrics := telemetry.WrapMetrics(metrics)

	manager, err := instance.NewManager(settings.Instance(), instance.Deps{
		Factory:   physics.ChipmunkFactory(settings.Physics()),
		Publisher: router,
		Logger:    telemetryLogger,
		Metrics:   telemetryMetrics,
		Seed:      settings.Simulation.Seed,
	})
	if err != nil {
		return fmt.Errorf("failed to construct instance manager: %w", err)
	}
	defer manager.Close()

	hub := ws.NewHub(telemetryLogger, telemetryMetrics)
	driver := sim.NewDriver(manager, hub, sim.DriverConfig{TickRate: settings.Simulation.TickRate}, sim.DriverDeps{
		Logger:    telemetryLogger,
		Metrics:   telemetryMetrics,
		Publisher: router,
	})
	wsHandler := ws.NewHandler(manager, hub, ws.HandlerConfig{
		Logger:       telemetryLogger,
		Publisher:    router,
		TickRate:     driver.TickRate(),
		WriteTimeout: settings.Server.WriteTimeout,
	})
	clientDir := settings.Server.ClientDir
	if clientDir == "" {
		if dir, err := resolveClientAssetsDir(); err == nil {
			clientDir = dir
		}
	}
	if clientDir != "" {
		telemetryLogger.Printf("serving client assets from %s", clientDir)
	}
	handler := servernet.NewHTTPHandler(manager, http.HandlerFunc(wsHandler.Handle), servernet.HTTPHandlerConfig{
		ClientDir:     clientDir,
		Logger:        telemetryLogger,
		TickRate:      driver.TickRate(),
		Observability: settings.Observability,
		Metrics:       metrics.Snapshot,
		EventStats:    router.Stats,
		RecentEvents:  recentEvents,
	})

	listener := cfg.Listener
	if listener == nil {
		listener, err = net.Listen("tcp", settings.Server.Address)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", settings.Server.Address, err)
		}
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return driver.Run(groupCtx)
	})
	group.Go(func() error {
		telemetryLogger.Printf("server listening on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		hub.CloseAll()
		return err
	})

	err = group.Wait()
	telemetryLogger.Printf("server stopped")
	return err
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func buildSinks(cfg logging.Config) ([]logging.NamedSink, error) {
	var sinks []logging.NamedSink
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(os.Stdout, cfg.Console)})
	}
	if cfg.HasSink("json") {
		sink, err := loggingSinks.NewZapFile(cfg.JSON.FilePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: sink})
	}
	if cfg.HasSink("memory") {
		sinks = append(sinks, logging.NamedSink{Name: "memory", Sink: loggingSinks.NewMemorySink(cfg.Memory.Limit)})
	}
	return sinks, nil
}
