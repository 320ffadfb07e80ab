package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/shopspring/decimal"
)

func TestNewEscrowEngineRejectsFeeRate(test *testing.T) {
	test.Parallel()
	store := memstore.New()
	wallets, err := ledger.NewWalletManager(store, mustCurrency(test, testCurrency), time.Now)
	if err != nil {
		test.Fatalf("wallet manager: %v", err)
	}
	for _, rate := range []string{"-0.01", "1", "1.5"} {
		_, err := ledger.NewEscrowEngine(store, wallets, ledger.EscrowConfig{FeeRate: decimal.RequireFromString(rate)}, time.Now)
		if !errors.Is(err, ledger.ErrInvalidServiceConfig) {
			test.Fatalf("rate %s: expected ErrInvalidServiceConfig, got %v", rate, err)
		}
	}
	engine, err := ledger.NewEscrowEngine(store, wallets, ledger.EscrowConfig{}, time.Now)
	if err != nil {
		test.Fatalf("zero fee engine: %v", err)
	}
	if !engine.FeeRate().IsZero() {
		test.Fatalf("expected zero fee rate, got %s", engine.FeeRate())
	}
}

func TestEscrowRoundTrip(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "500")

	intent := h.authorize(test, "100", "")
	if intent.Status != ledger.EscrowStatusAuthorized {
		test.Fatalf("expected authorized, got %s", intent.Status)
	}
	payer := h.balances(test, payerUserID)
	requireDecimal(test, "payer available after authorize", payer.AvailableBalance, "400")
	requireDecimal(test, "payer pending after authorize", payer.PendingBalance, "100")

	captured, err := h.escrows.Capture(ctx, userActor(test, payerUserID), mustEscrowID(test, intent.ID), ledger.CaptureRequest{Amount: mustAmount(test, "100")})
	if err != nil {
		test.Fatalf("capture: %v", err)
	}
	if captured.Status != ledger.EscrowStatusCaptured || captured.CapturedAt == nil {
		test.Fatalf("expected captured intent, got %+v", captured)
	}
	requireDecimal(test, "fee", captured.FeeAmount, "5")
	requireDecimal(test, "captured", captured.CapturedAmount, "100")

	payer = h.balances(test, payerUserID)
	payee := h.balances(test, payeeUserID)
	requireDecimal(test, "payer available after capture", payer.AvailableBalance, "400")
	requireDecimal(test, "payer pending after capture", payer.PendingBalance, "0")
	requireDecimal(test, "payee available after capture", payee.AvailableBalance, "95")

	invoice, err := h.store.GetInvoice(ctx, ledger.EntityEscrow, intent.ID)
	if err != nil {
		test.Fatalf("invoice: %v", err)
	}
	requireDecimal(test, "invoice amount paid", invoice.AmountPaid, "95")
	requireDecimal(test, "invoice amount due", invoice.AmountDue, "100")

	h.assertConserved(test, payerUserID)
	h.assertConserved(test, payeeUserID)
}

func TestEscrowPartialCaptureKeepsAuthorized(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "200")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)

	partial, err := h.escrows.Capture(ctx, userActor(test, payerUserID), escrowID, ledger.CaptureRequest{Amount: mustAmount(test, "33.33")})
	if err != nil {
		test.Fatalf("partial capture: %v", err)
	}
	if partial.Status != ledger.EscrowStatusAuthorized {
		test.Fatalf("expected authorized after partial capture, got %s", partial.Status)
	}
	requireDecimal(test, "partial fee", partial.FeeAmount, "1.67")
	requireDecimal(test, "payee after partial", h.balances(test, payeeUserID).AvailableBalance, "31.66")
	if _, err := h.store.GetInvoice(ctx, ledger.EntityEscrow, intent.ID); !errors.Is(err, ledger.ErrInvoiceNotFound) {
		test.Fatalf("expected no invoice before full capture, got %v", err)
	}

	rest, err := h.escrows.Capture(ctx, adminActor(test), escrowID, ledger.CaptureRequest{})
	if err != nil {
		test.Fatalf("capture remainder: %v", err)
	}
	if rest.Status != ledger.EscrowStatusCaptured {
		test.Fatalf("expected captured, got %s", rest.Status)
	}
	requireDecimal(test, "captured", rest.CapturedAmount, "100")

	_, err = h.escrows.Capture(ctx, adminActor(test), escrowID, ledger.CaptureRequest{})
	if !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState on exhausted capture, got %v", err)
	}
	h.assertConserved(test, payerUserID)
	h.assertConserved(test, payeeUserID)
}

func TestEscrowCreateValidation(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "50")
	payer := userActor(test, payerUserID)

	_, err := h.escrows.Create(ctx, payer, ledger.CreateEscrowRequest{
		PayeeUserID: mustUserID(test, payeeUserID),
		Reference:   mustReference(test, "order", "o-1"),
		Amount:      mustAmount(test, "50.01"),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	_, err = h.escrows.Create(ctx, payer, ledger.CreateEscrowRequest{
		PayeeUserID: mustUserID(test, payeeUserID),
		Reference:   mustReference(test, "order", "o-1"),
		Amount:      mustAmount(test, "10"),
		Currency:    mustCurrency(test, "EUR"),
	})
	if !errors.Is(err, ledger.ErrCurrencyMismatch) {
		test.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	_, err = h.escrows.Create(ctx, payer, ledger.CreateEscrowRequest{
		PayeeUserID: mustUserID(test, payerUserID),
		Reference:   mustReference(test, "order", "o-1"),
		Amount:      mustAmount(test, "10"),
	})
	if !errors.Is(err, ledger.ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID for self escrow, got %v", err)
	}
	_, err = h.escrows.Create(ctx, payer, ledger.CreateEscrowRequest{
		PayeeUserID: mustUserID(test, payeeUserID),
		Amount:      mustAmount(test, "10"),
	})
	if !errors.Is(err, ledger.ErrInvalidReference) {
		test.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	requireDecimal(test, "payer available untouched", h.balances(test, payerUserID).AvailableBalance, "50")
}

func TestEscrowCancelScenario(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "500")
	intent := h.authorize(test, "50", "")
	escrowID := mustEscrowID(test, intent.ID)

	cancelled, err := h.escrows.Cancel(ctx, userActor(test, payeeUserID), escrowID)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != ledger.EscrowStatusCancelled || cancelled.CancelledAt == nil {
		test.Fatalf("expected cancelled intent, got %+v", cancelled)
	}
	payer := h.balances(test, payerUserID)
	requireDecimal(test, "payer available", payer.AvailableBalance, "500")
	requireDecimal(test, "payer pending", payer.PendingBalance, "0")

	_, err = h.escrows.Capture(ctx, userActor(test, payerUserID), escrowID, ledger.CaptureRequest{})
	if !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState capturing a cancelled escrow, got %v", err)
	}
	_, err = h.escrows.Cancel(ctx, userActor(test, payerUserID), escrowID)
	if !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState cancelling twice, got %v", err)
	}
	h.assertConserved(test, payerUserID)
}

func TestEscrowCancelAfterPartialCaptureFails(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)
	if _, err := h.escrows.Capture(ctx, userActor(test, payerUserID), escrowID, ledger.CaptureRequest{Amount: mustAmount(test, "10")}); err != nil {
		test.Fatalf("capture: %v", err)
	}
	_, err := h.escrows.Cancel(ctx, userActor(test, payerUserID), escrowID)
	if !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEscrowHoldAndRelease(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)

	held, err := h.escrows.Hold(ctx, userActor(test, payeeUserID), escrowID, " dispute ")
	if err != nil {
		test.Fatalf("hold: %v", err)
	}
	if held.Status != ledger.EscrowStatusHeld || !held.IsOnHold || held.PreviousStatus != ledger.EscrowStatusAuthorized {
		test.Fatalf("unexpected held intent: %+v", held)
	}
	if held.HoldReason != "dispute" || held.HeldBy != payeeUserID {
		test.Fatalf("unexpected hold metadata: %+v", held)
	}
	if _, err := h.escrows.Hold(ctx, userActor(test, payerUserID), escrowID, "again"); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState holding twice, got %v", err)
	}
	if _, err := h.escrows.Release(ctx, userActor(test, payerUserID), escrowID); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden releasing another user's hold, got %v", err)
	}
	if _, err := h.escrows.Release(ctx, userActor(test, outsiderID), escrowID); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden for a non-participant, got %v", err)
	}

	released, err := h.escrows.Release(ctx, userActor(test, payeeUserID), escrowID)
	if err != nil {
		test.Fatalf("release: %v", err)
	}
	if released.Status != ledger.EscrowStatusAuthorized || released.IsOnHold || released.ReleasedAt == nil {
		test.Fatalf("unexpected released intent: %+v", released)
	}
	if _, err := h.escrows.Release(ctx, adminActor(test), escrowID); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState releasing an unheld escrow, got %v", err)
	}
	requireDecimal(test, "pending untouched by hold", h.balances(test, payerUserID).PendingBalance, "100")
}

func TestEscrowHoldRestoresCapturedStatus(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)
	if _, err := h.escrows.Capture(ctx, adminActor(test), escrowID, ledger.CaptureRequest{}); err != nil {
		test.Fatalf("capture: %v", err)
	}
	if _, err := h.escrows.Hold(ctx, adminActor(test), escrowID, "review"); err != nil {
		test.Fatalf("hold: %v", err)
	}
	released, err := h.escrows.Release(ctx, adminActor(test), escrowID)
	if err != nil {
		test.Fatalf("release: %v", err)
	}
	if released.Status != ledger.EscrowStatusCaptured {
		test.Fatalf("expected captured after release, got %s", released.Status)
	}
}

func TestEscrowVisibility(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "40", "")
	escrowID := mustEscrowID(test, intent.ID)

	if _, err := h.escrows.Get(ctx, userActor(test, payeeUserID), escrowID); err != nil {
		test.Fatalf("payee get: %v", err)
	}
	if _, err := h.escrows.Get(ctx, userActor(test, outsiderID), escrowID); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.escrows.Capture(ctx, userActor(test, payeeUserID), escrowID, ledger.CaptureRequest{}); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected payee capture to be forbidden, got %v", err)
	}
	if _, err := h.escrows.Get(ctx, adminActor(test), mustEscrowID(test, "missing")); !errors.Is(err, ledger.ErrEscrowNotFound) {
		test.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}

	asPayee, err := h.escrows.List(ctx, userActor(test, payeeUserID), ledger.EscrowListRequest{Role: ledger.EscrowRolePayee})
	if err != nil {
		test.Fatalf("list as payee: %v", err)
	}
	if len(asPayee) != 1 || asPayee[0].ID != intent.ID {
		test.Fatalf("expected payee to see the intent, got %+v", asPayee)
	}
	asPayer, err := h.escrows.List(ctx, userActor(test, payeeUserID), ledger.EscrowListRequest{Role: ledger.EscrowRolePayer})
	if err != nil {
		test.Fatalf("list as payer: %v", err)
	}
	if len(asPayer) != 0 {
		test.Fatalf("expected no intents where payee pays, got %d", len(asPayer))
	}
	outsider, err := h.escrows.List(ctx, userActor(test, outsiderID), ledger.EscrowListRequest{})
	if err != nil {
		test.Fatalf("list as outsider: %v", err)
	}
	if len(outsider) != 0 {
		test.Fatalf("expected outsider to see nothing, got %d", len(outsider))
	}
	reference := mustReference(test, "order", "order-1")
	all, err := h.escrows.List(ctx, adminActor(test), ledger.EscrowListRequest{Reference: &reference, Status: ledger.EscrowStatusAuthorized})
	if err != nil {
		test.Fatalf("list as admin: %v", err)
	}
	if len(all) != 1 {
		test.Fatalf("expected admin to see one intent, got %d", len(all))
	}
	if _, err := h.escrows.List(ctx, adminActor(test), ledger.EscrowListRequest{Role: "broker"}); !errors.Is(err, ledger.ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus for unknown role, got %v", err)
	}
}

func TestEscrowCreateReplaysIdempotencyKey(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	h.fund(test, payerUserID, "100")

	first := h.authorize(test, "60", "escrow-key")
	second := h.authorize(test, "60", "escrow-key")
	if first.ID != second.ID {
		test.Fatalf("expected replay to return %s, got %s", first.ID, second.ID)
	}
	requireDecimal(test, "available after replay", h.balances(test, payerUserID).AvailableBalance, "40")

	_, err := h.escrows.Create(context.Background(), userActor(test, payerUserID), ledger.CreateEscrowRequest{
		PayeeUserID:    mustUserID(test, payeeUserID),
		Reference:      mustReference(test, "order", "order-1"),
		Amount:         mustAmount(test, "30"),
		IdempotencyKey: mustOptionalKey(test, "escrow-key"),
	})
	if !errors.Is(err, ledger.ErrIdempotencyConflict) {
		test.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestEscrowCaptureReplaysIdempotencyKey(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)
	request := ledger.CaptureRequest{Amount: mustAmount(test, "40"), IdempotencyKey: mustOptionalKey(test, "capture-1")}

	for attempt := 0; attempt < 3; attempt++ {
		if _, err := h.escrows.Capture(ctx, userActor(test, payerUserID), escrowID, request); err != nil {
			test.Fatalf("capture attempt %d: %v", attempt, err)
		}
	}
	stored, err := h.escrows.Get(ctx, adminActor(test), escrowID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	requireDecimal(test, "captured after replays", stored.CapturedAmount, "40")
}

func TestConcurrentCapturesNeverExceedAmount(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	intent := h.authorize(test, "100", "")
	escrowID := mustEscrowID(test, intent.ID)
	request := ledger.CaptureRequest{Amount: mustAmount(test, "70")}
	actor := userActor(test, payerUserID)

	var group sync.WaitGroup
	errs := make([]error, 2)
	for index := range errs {
		group.Add(1)
		go func(index int) {
			defer group.Done()
			_, errs[index] = h.escrows.Capture(ctx, actor, escrowID, request)
		}(index)
	}
	group.Wait()
	for _, err := range errs {
		if err != nil {
			test.Fatalf("capture: %v", err)
		}
	}
	stored, err := h.escrows.Get(ctx, adminActor(test), escrowID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	requireDecimal(test, "captured total", stored.CapturedAmount, "100")
	if stored.Status != ledger.EscrowStatusCaptured {
		test.Fatalf("expected captured, got %s", stored.Status)
	}
	requireDecimal(test, "payer pending", h.balances(test, payerUserID).PendingBalance, "0")
	h.assertConserved(test, payerUserID)
	h.assertConserved(test, payeeUserID)
}
