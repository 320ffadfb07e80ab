package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
)

func createPayout(test *testing.T, h harness, userID string, accountID string, amount string) ledger.Payout {
	test.Helper()
	payout, err := h.payouts.Create(context.Background(), userActor(test, userID), ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, accountID),
		Amount:          mustAmount(test, amount),
	})
	if err != nil {
		test.Fatalf("create payout: %v", err)
	}
	return payout
}

func TestPayoutFailureRestoresFunds(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "440")
	account := h.payoutAccount(test, payerUserID)

	payout := createPayout(test, h, payerUserID, account.ID, "30")
	if payout.Status != ledger.PayoutStatusProcessing {
		test.Fatalf("expected processing, got %s", payout.Status)
	}
	balances := h.balances(test, payerUserID)
	requireDecimal(test, "available after create", balances.AvailableBalance, "410")
	requireDecimal(test, "pending after create", balances.PendingBalance, "30")

	failed, err := h.payouts.Finalize(ctx, mustPayoutID(test, payout.ID), ledger.PayoutOutcome{
		Status:         ledger.PayoutStatusFailed,
		FailureCode:    "account_closed",
		FailureMessage: "destination account closed",
	})
	if err != nil {
		test.Fatalf("finalize: %v", err)
	}
	if failed.Status != ledger.PayoutStatusFailed || failed.ProcessedAt == nil || failed.FailureCode != "account_closed" {
		test.Fatalf("unexpected failed payout: %+v", failed)
	}
	balances = h.balances(test, payerUserID)
	requireDecimal(test, "available after failure", balances.AvailableBalance, "440")
	requireDecimal(test, "pending after failure", balances.PendingBalance, "0")
	entriesBefore := len(h.entries(test, payerUserID))

	again, err := h.payouts.Finalize(ctx, mustPayoutID(test, payout.ID), ledger.PayoutOutcome{Status: ledger.PayoutStatusCompleted})
	if err != nil {
		test.Fatalf("second finalize: %v", err)
	}
	if again.Status != ledger.PayoutStatusFailed {
		test.Fatalf("expected second finalize to be a no-op, got %s", again.Status)
	}
	if got := len(h.entries(test, payerUserID)); got != entriesBefore {
		test.Fatalf("expected no new entries, got %d after %d", got, entriesBefore)
	}
	h.assertConserved(test, payerUserID)
}

func TestPayoutCompletionClearsPending(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	account := h.payoutAccount(test, payerUserID)
	payout := createPayout(test, h, payerUserID, account.ID, "25.50")

	completed, err := h.payouts.Finalize(ctx, mustPayoutID(test, payout.ID), ledger.PayoutOutcome{Status: ledger.PayoutStatusCompleted})
	if err != nil {
		test.Fatalf("finalize: %v", err)
	}
	if completed.Status != ledger.PayoutStatusCompleted {
		test.Fatalf("expected completed, got %s", completed.Status)
	}
	balances := h.balances(test, payerUserID)
	requireDecimal(test, "available", balances.AvailableBalance, "74.50")
	requireDecimal(test, "pending", balances.PendingBalance, "0")

	_, err = h.payouts.Finalize(ctx, mustPayoutID(test, payout.ID), ledger.PayoutOutcome{Status: ledger.PayoutStatusProcessing})
	if !errors.Is(err, ledger.ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus for a non-terminal outcome, got %v", err)
	}
	h.assertConserved(test, payerUserID)
}

func TestPayoutCreateValidation(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "10")
	account := h.payoutAccount(test, payerUserID)
	foreignAccount := h.payoutAccount(test, payeeUserID)

	_, err := h.payouts.Create(ctx, userActor(test, payerUserID), ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, account.ID),
		Amount:          mustAmount(test, "10.01"),
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		test.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	_, err = h.payouts.Create(ctx, userActor(test, payerUserID), ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, foreignAccount.ID),
		Amount:          mustAmount(test, "1"),
	})
	if !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden for another wallet's account, got %v", err)
	}
	_, err = h.payouts.Create(ctx, userActor(test, payerUserID), ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, account.ID),
		Amount:          mustAmount(test, "1"),
		Currency:        mustCurrency(test, "GBP"),
	})
	if !errors.Is(err, ledger.ErrCurrencyMismatch) {
		test.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
	_, err = h.payouts.Create(ctx, userActor(test, payerUserID), ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, "missing"),
		Amount:          mustAmount(test, "1"),
	})
	if !errors.Is(err, ledger.ErrPayoutAccountNotFound) {
		test.Fatalf("expected ErrPayoutAccountNotFound, got %v", err)
	}
	requireDecimal(test, "available untouched", h.balances(test, payerUserID).AvailableBalance, "10")
}

func TestPayoutUpdateRules(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	account := h.payoutAccount(test, payerUserID)
	payout := createPayout(test, h, payerUserID, account.ID, "40")
	payoutID := mustPayoutID(test, payout.ID)
	completed := ledger.PayoutStatusCompleted
	failed := ledger.PayoutStatusFailed

	if _, err := h.payouts.Update(ctx, userActor(test, payerUserID), payoutID, ledger.PayoutPatch{Status: &completed}); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected owner status change to be forbidden, got %v", err)
	}
	note := mustMetadata(test, `{"note":"rent"}`)
	annotated, err := h.payouts.Update(ctx, userActor(test, payerUserID), payoutID, ledger.PayoutPatch{Metadata: &note})
	if err != nil {
		test.Fatalf("owner metadata update: %v", err)
	}
	if annotated.Metadata.String() != `{"note":"rent"}` || annotated.Status != ledger.PayoutStatusProcessing {
		test.Fatalf("unexpected annotated payout: %+v", annotated)
	}
	if _, err := h.payouts.Update(ctx, userActor(test, outsiderID), payoutID, ledger.PayoutPatch{Metadata: &note}); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected outsider update to be forbidden, got %v", err)
	}

	finalized, err := h.payouts.Update(ctx, adminActor(test), payoutID, ledger.PayoutPatch{Status: &completed})
	if err != nil {
		test.Fatalf("admin completion: %v", err)
	}
	if finalized.Status != ledger.PayoutStatusCompleted {
		test.Fatalf("expected completed, got %s", finalized.Status)
	}
	if _, err := h.payouts.Update(ctx, adminActor(test), payoutID, ledger.PayoutPatch{Status: &failed}); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState leaving a terminal status, got %v", err)
	}
	stored, err := h.payouts.Get(ctx, userActor(test, payerUserID), payoutID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if stored.Status != ledger.PayoutStatusCompleted {
		test.Fatalf("expected status to stay completed, got %s", stored.Status)
	}
	h.assertConserved(test, payerUserID)
}

func TestPayoutDeleteAndList(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	account := h.payoutAccount(test, payerUserID)
	first := createPayout(test, h, payerUserID, account.ID, "10")
	second := createPayout(test, h, payerUserID, account.ID, "20")

	if err := h.payouts.Delete(ctx, userActor(test, payerUserID), mustPayoutID(test, first.ID)); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState deleting a processing payout, got %v", err)
	}
	if _, err := h.payouts.Finalize(ctx, mustPayoutID(test, first.ID), ledger.PayoutOutcome{Status: ledger.PayoutStatusCompleted}); err != nil {
		test.Fatalf("finalize: %v", err)
	}

	processing, err := h.payouts.List(ctx, userActor(test, payerUserID), ledger.PayoutListRequest{Status: ledger.PayoutStatusProcessing})
	if err != nil {
		test.Fatalf("list processing: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != second.ID {
		test.Fatalf("expected only %s processing, got %+v", second.ID, processing)
	}
	all, err := h.payouts.List(ctx, adminActor(test), ledger.PayoutListRequest{UserID: mustUserID(test, payerUserID)})
	if err != nil {
		test.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		test.Fatalf("expected newest payout first, got %+v", all)
	}

	if err := h.payouts.Delete(ctx, userActor(test, payerUserID), mustPayoutID(test, first.ID)); err != nil {
		test.Fatalf("delete: %v", err)
	}
	if _, err := h.payouts.Get(ctx, adminActor(test), mustPayoutID(test, first.ID)); !errors.Is(err, ledger.ErrPayoutNotFound) {
		test.Fatalf("expected ErrPayoutNotFound after delete, got %v", err)
	}
}

func TestPayoutCreateReplaysIdempotencyKey(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	h.fund(test, payerUserID, "100")
	account := h.payoutAccount(test, payerUserID)
	request := ledger.CreatePayoutRequest{
		PayoutAccountID: mustInstrumentID(test, account.ID),
		Amount:          mustAmount(test, "30"),
		IdempotencyKey:  mustOptionalKey(test, "payout-1"),
	}
	first, err := h.payouts.Create(ctx, userActor(test, payerUserID), request)
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	second, err := h.payouts.Create(ctx, userActor(test, payerUserID), request)
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		test.Fatalf("expected replay to return %s, got %s", first.ID, second.ID)
	}
	requireDecimal(test, "available after replay", h.balances(test, payerUserID).AvailableBalance, "70")
}
