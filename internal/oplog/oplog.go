// Package oplog turns ledger operation callbacks into log lines and metrics.
package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logMessage = "ledger operation"

// ZapLogger writes one structured line per operation.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger wraps logger; a nil logger discards everything.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (zapLogger *ZapLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("actor", entry.Actor),
	}
	if entry.EntityType != "" {
		fields = append(fields, zap.String("entity_type", string(entry.EntityType)))
	}
	if entry.EntityID != "" {
		fields = append(fields, zap.String("entity_id", entry.EntityID))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.StringFixed(2)))
	}
	if entry.Currency != "" {
		fields = append(fields, zap.String("currency", entry.Currency))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error), zap.String("error_code", ledger.ErrorCode(entry.Error)))
		level = levelFor(entry.Error)
	}
	if checked := zapLogger.logger.Check(level, logMessage); checked != nil {
		checked.Write(fields...)
	}
}

// Classified failures log at warn, unclassified ones at error.
func levelFor(err error) zapcore.Level {
	if ledger.KindOf(err) == ledger.KindInternal {
		return zapcore.ErrorLevel
	}
	return zapcore.WarnLevel
}

type fanout []ledger.OperationLogger

// Fanout forwards every record to each non-nil logger in order.
func Fanout(loggers ...ledger.OperationLogger) ledger.OperationLogger {
	targets := make(fanout, 0, len(loggers))
	for _, logger := range loggers {
		if logger != nil {
			targets = append(targets, logger)
		}
	}
	return targets
}

func (targets fanout) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	for _, target := range targets {
		target.LogOperation(ctx, entry)
	}
}
