package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "escrow"
	metricsSubsystem = "ledger"
)

// PrometheusRecorder counts operations and observes moved amounts.
type PrometheusRecorder struct {
	operationsTotal *prometheus.CounterVec
	amountTotal     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the operation metrics with registerer.
// A nil registerer uses the default registry.
func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)
	return &PrometheusRecorder{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "operations_total",
				Help:      "Ledger operations partitioned by operation and status.",
			},
			[]string{"operation", "status"},
		),
		amountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "amount_total",
				Help:      "Sum of amounts moved by successful operations, per currency.",
			},
			[]string{"operation", "currency"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "errors_total",
				Help:      "Failed ledger operations partitioned by error kind.",
			},
			[]string{"operation", "kind"},
		),
	}
}

// LogOperation implements ledger.OperationLogger.
func (recorder *PrometheusRecorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	recorder.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		recorder.errorsTotal.WithLabelValues(entry.Operation, string(ledger.KindOf(entry.Error))).Inc()
		return
	}
	if entry.Amount.IsPositive() && entry.Currency != "" {
		amount, _ := entry.Amount.Float64()
		recorder.amountTotal.WithLabelValues(entry.Operation, entry.Currency).Add(amount)
	}
}
