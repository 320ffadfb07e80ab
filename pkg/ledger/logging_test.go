package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
)

type recordingLogger struct {
	mutex   sync.Mutex
	entries []ledger.OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recordingLogger) last(test *testing.T) ledger.OperationLog {
	test.Helper()
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	if len(logger.entries) == 0 {
		test.Fatalf("expected a logged operation")
	}
	return logger.entries[len(logger.entries)-1]
}

func TestOperationLoggerReceivesOutcome(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	h := newHarness(test, ledger.WithOperationLogger(logger))
	ctx := context.Background()

	balances := h.fund(test, payerUserID, "25.50")
	entry := logger.last(test)
	if entry.Operation != "wallet.fund" || entry.Status != "ok" || entry.Error != nil {
		test.Fatalf("unexpected success log: %+v", entry)
	}
	if entry.Actor != adminUserID || entry.EntityType != ledger.EntityWallet || entry.EntityID != balances.WalletID {
		test.Fatalf("unexpected success log subject: %+v", entry)
	}
	requireDecimal(test, "logged amount", entry.Amount, "25.50")

	_, err := h.wallets.Fund(ctx, userActor(test, payerUserID), mustUserID(test, payerUserID), mustAmount(test, "1"), ledger.IdempotencyKey{}, ledger.MetadataJSON{})
	if !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	failure := logger.last(test)
	if failure.Status != "error" || !errors.Is(failure.Error, ledger.ErrForbidden) || failure.Actor != payerUserID {
		test.Fatalf("unexpected failure log: %+v", failure)
	}
}

func TestOperationLoggerSeesReconciliation(test *testing.T) {
	test.Parallel()
	logger := &recordingLogger{}
	h := newHarness(test, ledger.WithOperationLogger(logger))
	_, err := h.reconciliation.HandleEvent(context.Background(), ledger.Event{ID: "evt-1", Type: "unknown.type"})
	if !errors.Is(err, ledger.ErrUnsupportedEvent) {
		test.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
	entry := logger.last(test)
	if entry.Operation != "reconciliation.handle" || entry.Actor != "system" || entry.IdempotencyKey != "evt-1" || entry.Status != "error" {
		test.Fatalf("unexpected reconciliation log: %+v", entry)
	}
}
