package logger

import (
	"context"

	"github.com/hyperdxio/opentelemetry-go/otelzap"
	sdk "github.com/hyperdxio/opentelemetry-logs-go/sdk/logs"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConnectProps struct {
	Production     bool
	LoggerProvider *sdk.LoggerProvider
	// Quiet drops everything below warn in development; the console front end
	// shares the terminal with the logs.
	Quiet bool
}

type LogMiddleware struct {
	logger *zap.Logger
}

func Connect(args LoggerConnectProps) *LogMiddleware {
	var logger *zap.Logger

	if args.Production && args.LoggerProvider != nil {
		logger = zap.New(otelzap.NewOtelCore(args.LoggerProvider))
		zap.ReplaceGlobals(logger)
		logger.Info("[Logger] Starting Logger with Prod Config")
	} else {
		cfg := zap.NewDevelopmentConfig()
		if args.Quiet {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	return &LogMiddleware{logger: logger}
}

// Nop returns a middleware that discards everything. Used by tests.
func Nop() *LogMiddleware {
	return &LogMiddleware{logger: zap.NewNop()}
}

// Wrap builds a middleware around an existing logger, e.g. zaptest.NewLogger.
func Wrap(l *zap.Logger) *LogMiddleware {
	return &LogMiddleware{logger: l}
}

func (l *LogMiddleware) Logger(ctx context.Context) *zap.Logger {
	spanContext := trace.SpanContextFromContext(ctx)
	if !spanContext.IsValid() {
		return l.logger
	}

	return l.logger.With(
		zap.String("trace_id", spanContext.TraceID().String()),
		zap.String("span_id", spanContext.SpanID().String()),
	)
}

func (l *LogMiddleware) Sync() {
	_ = l.logger.Sync()
}
