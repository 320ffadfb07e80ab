package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Option configures an engine instance.
type Option func(*engineCore)

// OperationLogger records domain-level events emitted by engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	Actor          string
	EntityType     EntityType
	EntityID       string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) Option {
	return func(core *engineCore) {
		core.logger = logger
	}
}

// WithIDGenerator overrides how entity ids are minted.
func WithIDGenerator(generate func() string) Option {
	return func(core *engineCore) {
		if generate != nil {
			core.idFn = generate
		}
	}
}
