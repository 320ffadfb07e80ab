package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/shopspring/decimal"
)

const (
	testCurrency = "USD"
	adminUserID  = "admin-1"
	payerUserID  = "payer-a"
	payeeUserID  = "payee-b"
	outsiderID   = "outsider-c"
)

// steppingClock advances one second per reading so created_at ordering is stable.
type steppingClock struct {
	mutex   sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *steppingClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(time.Second)
	return clock.current
}

type harness struct {
	store          *memstore.Store
	wallets        *ledger.WalletManager
	escrows        *ledger.EscrowEngine
	payouts        *ledger.PayoutEngine
	refunds        *ledger.RefundEngine
	reconciliation *ledger.ReconciliationGateway
}

func newHarness(test *testing.T, options ...ledger.Option) harness {
	test.Helper()
	store := memstore.New()
	clock := newSteppingClock()
	wallets, err := ledger.NewWalletManager(store, mustCurrency(test, testCurrency), clock.Now, options...)
	if err != nil {
		test.Fatalf("wallet manager: %v", err)
	}
	escrows, err := ledger.NewEscrowEngine(store, wallets, ledger.DefaultEscrowConfig(), clock.Now, options...)
	if err != nil {
		test.Fatalf("escrow engine: %v", err)
	}
	payouts, err := ledger.NewPayoutEngine(store, wallets, clock.Now, options...)
	if err != nil {
		test.Fatalf("payout engine: %v", err)
	}
	refunds, err := ledger.NewRefundEngine(store, wallets, clock.Now, options...)
	if err != nil {
		test.Fatalf("refund engine: %v", err)
	}
	reconciliation, err := ledger.NewReconciliationGateway(store, wallets, escrows, payouts, refunds, clock.Now, options...)
	if err != nil {
		test.Fatalf("reconciliation gateway: %v", err)
	}
	return harness{store: store, wallets: wallets, escrows: escrows, payouts: payouts, refunds: refunds, reconciliation: reconciliation}
}

func (h harness) fund(test *testing.T, userID string, amount string) ledger.Balances {
	test.Helper()
	balances, err := h.wallets.Fund(context.Background(), adminActor(test), mustUserID(test, userID), mustAmount(test, amount), ledger.IdempotencyKey{}, ledger.MetadataJSON{})
	if err != nil {
		test.Fatalf("fund %s: %v", userID, err)
	}
	return balances
}

func (h harness) balances(test *testing.T, userID string) ledger.Balances {
	test.Helper()
	balances, err := h.wallets.GetBalances(context.Background(), mustUserID(test, userID))
	if err != nil {
		test.Fatalf("balances %s: %v", userID, err)
	}
	return balances
}

func (h harness) authorize(test *testing.T, amount string, key string) ledger.EscrowIntent {
	test.Helper()
	intent, err := h.escrows.Create(context.Background(), userActor(test, payerUserID), ledger.CreateEscrowRequest{
		PayeeUserID:    mustUserID(test, payeeUserID),
		Reference:      mustReference(test, "order", "order-1"),
		Amount:         mustAmount(test, amount),
		IdempotencyKey: mustOptionalKey(test, key),
	})
	if err != nil {
		test.Fatalf("authorize: %v", err)
	}
	return intent
}

func (h harness) payoutAccount(test *testing.T, userID string) ledger.PayoutAccount {
	test.Helper()
	account, err := h.wallets.AddPayoutAccount(context.Background(), userActor(test, userID), ledger.PayoutAccountRequest{
		Type:       ledger.InstrumentBankAccount,
		Provider:   "processor",
		HolderName: "Account Holder",
		Last4:      "6789",
	})
	if err != nil {
		test.Fatalf("add payout account: %v", err)
	}
	return account
}

func (h harness) entries(test *testing.T, userID string) []ledger.Entry {
	test.Helper()
	entries, err := h.wallets.ListEntries(context.Background(), adminActor(test), mustUserID(test, userID), time.Time{}, 200)
	if err != nil {
		test.Fatalf("entries %s: %v", userID, err)
	}
	return entries
}

// assertConserved checks that the wallet balances equal the sum of entry deltas.
func (h harness) assertConserved(test *testing.T, userID string) {
	test.Helper()
	balances := h.balances(test, userID)
	available := decimal.Zero
	pending := decimal.Zero
	for _, entry := range h.entries(test, userID) {
		available = available.Add(entry.AvailableDelta)
		pending = pending.Add(entry.PendingDelta)
	}
	if !available.Equal(balances.AvailableBalance) || !pending.Equal(balances.PendingBalance) {
		test.Fatalf("%s: entries sum to %s/%s, balances are %s/%s", userID, available, pending, balances.AvailableBalance, balances.PendingBalance)
	}
}

func adminActor(test *testing.T) ledger.Actor {
	test.Helper()
	return ledger.NewActor(mustUserID(test, adminUserID), true)
}

func userActor(test *testing.T, userID string) ledger.Actor {
	test.Helper()
	return ledger.NewActor(mustUserID(test, userID), false)
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustCurrency(test *testing.T, raw string) ledger.Currency {
	test.Helper()
	currency, err := ledger.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func mustAmount(test *testing.T, raw string) ledger.PositiveAmount {
	test.Helper()
	amount, err := ledger.ParsePositiveAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustReference(test *testing.T, referenceType string, referenceID string) ledger.Reference {
	test.Helper()
	reference, err := ledger.NewReference(referenceType, referenceID)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return reference
}

func mustOptionalKey(test *testing.T, raw string) ledger.IdempotencyKey {
	test.Helper()
	key, err := ledger.OptionalIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustEscrowID(test *testing.T, raw string) ledger.EscrowID {
	test.Helper()
	escrowID, err := ledger.NewEscrowID(raw)
	if err != nil {
		test.Fatalf("escrow id: %v", err)
	}
	return escrowID
}

func mustPayoutID(test *testing.T, raw string) ledger.PayoutID {
	test.Helper()
	payoutID, err := ledger.NewPayoutID(raw)
	if err != nil {
		test.Fatalf("payout id: %v", err)
	}
	return payoutID
}

func mustRefundID(test *testing.T, raw string) ledger.RefundID {
	test.Helper()
	refundID, err := ledger.NewRefundID(raw)
	if err != nil {
		test.Fatalf("refund id: %v", err)
	}
	return refundID
}

func mustInstrumentID(test *testing.T, raw string) ledger.InstrumentID {
	test.Helper()
	instrumentID, err := ledger.NewInstrumentID(raw)
	if err != nil {
		test.Fatalf("instrument id: %v", err)
	}
	return instrumentID
}

func mustMetadata(test *testing.T, raw string) ledger.MetadataJSON {
	test.Helper()
	metadata, err := ledger.NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func requireDecimal(test *testing.T, label string, got decimal.Decimal, want string) {
	test.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		test.Fatalf("%s: expected %s, got %s", label, want, got.StringFixed(2))
	}
}
