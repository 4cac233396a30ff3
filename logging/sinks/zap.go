package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"arena-shooter/server/logging"
)

// Zap writes events as structured entries through a zap logger.
type Zap struct {
	logger     *zap.Logger
	reportSync bool
}

// NewZap wraps an existing logger. Sync errors are not reported on Close,
// since terminals reject fsync.
func NewZap(logger *zap.Logger) *Zap {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Zap{logger: logger}
}

// NewZapFile builds a JSON logger appending to path, or stdout when path is
// empty.
func NewZapFile(path string) (*Zap, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	reportSync := path != ""
	if path == "" {
		path = "stdout"
	}
	cfg.OutputPaths = []string{path}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap sink %s: %w", path, err)
	}
	return &Zap{logger: logger, reportSync: reportSync}, nil
}

func (s *Zap) Write(event logging.Event) error {
	ce := s.logger.Check(zapLevel(event.Severity), string(event.Type))
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.Uint64("tick", event.Tick),
		zap.Time("eventTime", event.Time),
		zap.String("category", event.Category),
		zap.String("actor", formatEntity(event.Actor)),
	}
	if len(event.Targets) > 0 {
		fields = append(fields, zap.Any("targets", event.Targets))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}
	if len(event.Extra) > 0 {
		fields = append(fields, zap.Any("extra", event.Extra))
	}
	if event.TraceID != "" {
		fields = append(fields, zap.String("traceId", event.TraceID))
	}
	if event.CommandID != "" {
		fields = append(fields, zap.String("commandId", event.CommandID))
	}
	ce.Write(fields...)
	return nil
}

func (s *Zap) Close(context.Context) error {
	err := s.logger.Sync()
	if !s.reportSync {
		return nil
	}
	return err
}

func zapLevel(sev logging.Severity) zapcore.Level {
	switch sev {
	case logging.SeverityDebug:
		return zapcore.DebugLevel
	case logging.SeverityWarn:
		return zapcore.WarnLevel
	case logging.SeverityError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
