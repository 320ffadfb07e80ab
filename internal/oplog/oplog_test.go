package oplog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func successEntry() ledger.OperationLog {
	return ledger.OperationLog{
		Operation:      "escrow.capture",
		Actor:          "payer-a",
		EntityType:     ledger.EntityEscrow,
		EntityID:       "escrow-1",
		Amount:         decimal.RequireFromString("33.3"),
		Currency:       "USD",
		IdempotencyKey: "capture-1",
		Status:         "ok",
	}
}

func TestZapLoggerWritesStructuredFields(test *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.LogOperation(context.Background(), successEntry())

	require.Equal(test, 1, logs.Len())
	line := logs.All()[0]
	assert.Equal(test, zapcore.InfoLevel, line.Level)
	assert.Equal(test, logMessage, line.Message)
	fields := line.ContextMap()
	assert.Equal(test, "escrow.capture", fields["operation"])
	assert.Equal(test, "ok", fields["status"])
	assert.Equal(test, "escrow", fields["entity_type"])
	assert.Equal(test, "33.30", fields["amount"])
	assert.Equal(test, "capture-1", fields["idempotency_key"])
	assert.NotContains(test, fields, "error")
}

func TestZapLoggerLevelsFollowErrorKind(test *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	forbidden := successEntry()
	forbidden.Status = "error"
	forbidden.Error = fmt.Errorf("%w: only the payer may capture", ledger.ErrForbidden)
	logger.LogOperation(context.Background(), forbidden)

	broken := successEntry()
	broken.Status = "error"
	broken.Error = errors.New("connection reset")
	logger.LogOperation(context.Background(), broken)

	require.Equal(test, 2, logs.Len())
	assert.Equal(test, zapcore.WarnLevel, logs.All()[0].Level)
	assert.Equal(test, "forbidden", logs.All()[0].ContextMap()["error_code"])
	assert.Equal(test, zapcore.ErrorLevel, logs.All()[1].Level)
	assert.Equal(test, "internal", logs.All()[1].ContextMap()["error_code"])
}

func TestNilZapLoggerIsSafe(test *testing.T) {
	assert.NotPanics(test, func() {
		NewZapLogger(nil).LogOperation(context.Background(), successEntry())
	})
}

func TestPrometheusRecorderCountsOperations(test *testing.T) {
	registry := prometheus.NewRegistry()
	recorder := NewPrometheusRecorder(registry)

	recorder.LogOperation(context.Background(), successEntry())
	recorder.LogOperation(context.Background(), successEntry())
	failed := successEntry()
	failed.Status = "error"
	failed.Error = ledger.ErrInsufficientFunds
	recorder.LogOperation(context.Background(), failed)

	assert.Equal(test, float64(2), testutil.ToFloat64(recorder.operationsTotal.WithLabelValues("escrow.capture", "ok")))
	assert.Equal(test, float64(1), testutil.ToFloat64(recorder.operationsTotal.WithLabelValues("escrow.capture", "error")))
	assert.InDelta(test, 66.6, testutil.ToFloat64(recorder.amountTotal.WithLabelValues("escrow.capture", "USD")), 0.0001)
	assert.Equal(test, float64(1), testutil.ToFloat64(recorder.errorsTotal.WithLabelValues("escrow.capture", "insufficient_funds")))

	count, err := testutil.GatherAndCount(registry, "escrow_ledger_operations_total")
	require.NoError(test, err)
	assert.Equal(test, 2, count)
}

type countingLogger struct {
	seen int
}

func (logger *countingLogger) LogOperation(context.Context, ledger.OperationLog) {
	logger.seen++
}

func TestFanoutSkipsNilTargets(test *testing.T) {
	first := &countingLogger{}
	second := &countingLogger{}
	combined := Fanout(first, nil, second)

	combined.LogOperation(context.Background(), successEntry())

	assert.Equal(test, 1, first.seen)
	assert.Equal(test, 1, second.seen)
}
