package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
)

func addCard(test *testing.T, h harness, userID string, last4 string, makeDefault bool) ledger.PaymentMethod {
	test.Helper()
	method, err := h.wallets.AddPaymentMethod(context.Background(), userActor(test, userID), ledger.PaymentMethodRequest{
		Type:        ledger.InstrumentCard,
		Provider:    "processor",
		Brand:       "visa",
		Last4:       last4,
		ExpMonth:    12,
		ExpYear:     2030,
		MakeDefault: makeDefault,
	})
	if err != nil {
		test.Fatalf("add payment method: %v", err)
	}
	return method
}

func defaultMethodIDs(test *testing.T, h harness, userID string) []string {
	test.Helper()
	methods, err := h.wallets.ListPaymentMethods(context.Background(), userActor(test, userID))
	if err != nil {
		test.Fatalf("list payment methods: %v", err)
	}
	var defaults []string
	for _, method := range methods {
		if method.IsDefault {
			defaults = append(defaults, method.ID)
		}
	}
	return defaults
}

func TestFirstPaymentMethodBecomesDefault(test *testing.T) {
	test.Parallel()
	h := newHarness(test)

	first := addCard(test, h, payerUserID, "1111", false)
	if !first.IsDefault {
		test.Fatalf("expected first method to be default")
	}
	second := addCard(test, h, payerUserID, "2222", false)
	if second.IsDefault {
		test.Fatalf("expected second method not to be default")
	}
	third := addCard(test, h, payerUserID, "3333", true)

	defaults := defaultMethodIDs(test, h, payerUserID)
	if len(defaults) != 1 || defaults[0] != third.ID {
		test.Fatalf("expected only %s as default, got %v", third.ID, defaults)
	}
}

func TestDeletingDefaultPromotesNewestMethod(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()

	first := addCard(test, h, payerUserID, "1111", false)
	second := addCard(test, h, payerUserID, "2222", false)
	third := addCard(test, h, payerUserID, "3333", false)

	if err := h.wallets.DeletePaymentMethod(ctx, userActor(test, payerUserID), mustInstrumentID(test, first.ID)); err != nil {
		test.Fatalf("delete default: %v", err)
	}
	defaults := defaultMethodIDs(test, h, payerUserID)
	if len(defaults) != 1 || defaults[0] != third.ID {
		test.Fatalf("expected newest method %s promoted, got %v", third.ID, defaults)
	}

	if err := h.wallets.DeletePaymentMethod(ctx, userActor(test, payerUserID), mustInstrumentID(test, second.ID)); err != nil {
		test.Fatalf("delete non-default: %v", err)
	}
	defaults = defaultMethodIDs(test, h, payerUserID)
	if len(defaults) != 1 || defaults[0] != third.ID {
		test.Fatalf("expected default unchanged, got %v", defaults)
	}
}

func TestPaymentMethodValidation(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	cases := []struct {
		name    string
		request ledger.PaymentMethodRequest
	}{
		{name: "bad last4", request: ledger.PaymentMethodRequest{Type: ledger.InstrumentBankAccount, Provider: "processor", Last4: "12a4"}},
		{name: "missing provider", request: ledger.PaymentMethodRequest{Type: ledger.InstrumentBankAccount, Last4: "1234"}},
		{name: "card without expiry", request: ledger.PaymentMethodRequest{Type: ledger.InstrumentCard, Provider: "processor", Last4: "1234"}},
		{name: "unknown type", request: ledger.PaymentMethodRequest{Type: "voucher", Provider: "processor", Last4: "1234"}},
	}
	for _, testCase := range cases {
		_, err := h.wallets.AddPaymentMethod(context.Background(), userActor(test, payerUserID), testCase.request)
		if !errors.Is(err, ledger.ErrInvalidInstrument) {
			test.Fatalf("%s: expected ErrInvalidInstrument, got %v", testCase.name, err)
		}
	}
}

func TestUpdatePaymentMethodOwnership(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	addCard(test, h, payerUserID, "1111", false)
	second := addCard(test, h, payerUserID, "2222", false)
	month := 6

	_, err := h.wallets.UpdatePaymentMethod(ctx, userActor(test, outsiderID), mustInstrumentID(test, second.ID), ledger.PaymentMethodPatch{ExpMonth: &month})
	if !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}

	patchedMetadata := mustMetadata(test, `{"nickname":"travel"}`)
	updated, err := h.wallets.UpdatePaymentMethod(ctx, userActor(test, payerUserID), mustInstrumentID(test, second.ID), ledger.PaymentMethodPatch{
		MakeDefault: true,
		ExpMonth:    &month,
		Metadata:    &patchedMetadata,
	})
	if err != nil {
		test.Fatalf("update: %v", err)
	}
	if updated.ExpMonth != month || !updated.IsDefault {
		test.Fatalf("unexpected update result: %+v", updated)
	}
	if updated.Metadata.String() != `{"nickname":"travel"}` {
		test.Fatalf("unexpected metadata %s", updated.Metadata.String())
	}
	defaults := defaultMethodIDs(test, h, payerUserID)
	if len(defaults) != 1 || defaults[0] != second.ID {
		test.Fatalf("expected %s as the only default, got %v", second.ID, defaults)
	}

	invalidMonth := 13
	_, err = h.wallets.UpdatePaymentMethod(ctx, userActor(test, payerUserID), mustInstrumentID(test, second.ID), ledger.PaymentMethodPatch{ExpMonth: &invalidMonth})
	if !errors.Is(err, ledger.ErrInvalidInstrument) {
		test.Fatalf("expected ErrInvalidInstrument, got %v", err)
	}
	_, err = h.wallets.GetPaymentMethod(ctx, userActor(test, payerUserID), mustInstrumentID(test, "missing"))
	if !errors.Is(err, ledger.ErrPaymentMethodNotFound) {
		test.Fatalf("expected ErrPaymentMethodNotFound, got %v", err)
	}
}

func TestPayoutAccountLifecycle(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	actor := userActor(test, payeeUserID)

	first := h.payoutAccount(test, payeeUserID)
	if !first.IsDefault || first.Currency != testCurrency {
		test.Fatalf("unexpected first account: %+v", first)
	}
	second := h.payoutAccount(test, payeeUserID)

	_, err := h.wallets.AddPayoutAccount(ctx, actor, ledger.PayoutAccountRequest{
		Type:       ledger.InstrumentDebitCard,
		Provider:   "processor",
		HolderName: "Holder",
		Last4:      "4321",
		Currency:   mustCurrency(test, "EUR"),
	})
	if !errors.Is(err, ledger.ErrCurrencyMismatch) {
		test.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}

	holder := "  Renamed Holder "
	renamed, err := h.wallets.UpdatePayoutAccount(ctx, actor, mustInstrumentID(test, second.ID), ledger.PayoutAccountPatch{HolderName: &holder})
	if err != nil {
		test.Fatalf("update account: %v", err)
	}
	if renamed.HolderName != "Renamed Holder" {
		test.Fatalf("expected trimmed holder name, got %q", renamed.HolderName)
	}

	if err := h.wallets.DeletePayoutAccount(ctx, actor, mustInstrumentID(test, first.ID)); err != nil {
		test.Fatalf("delete account: %v", err)
	}
	promoted, err := h.wallets.GetPayoutAccount(ctx, actor, mustInstrumentID(test, second.ID))
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if !promoted.IsDefault {
		test.Fatalf("expected remaining account promoted to default")
	}
	if err := h.wallets.DeletePayoutAccount(ctx, userActor(test, outsiderID), mustInstrumentID(test, second.ID)); !errors.Is(err, ledger.ErrForbidden) {
		test.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPayoutAccountWithProcessingPayoutCannotBeDeleted(test *testing.T) {
	test.Parallel()
	h := newHarness(test)
	ctx := context.Background()
	actor := userActor(test, payeeUserID)
	h.fund(test, payeeUserID, "100")
	busy := h.payoutAccount(test, payeeUserID)
	idle := h.payoutAccount(test, payeeUserID)
	payout := createPayout(test, h, payeeUserID, busy.ID, "40")

	if err := h.wallets.DeletePayoutAccount(ctx, actor, mustInstrumentID(test, busy.ID)); !errors.Is(err, ledger.ErrInvalidState) {
		test.Fatalf("expected ErrInvalidState while a payout is processing, got %v", err)
	}
	if _, err := h.wallets.GetPayoutAccount(ctx, actor, mustInstrumentID(test, busy.ID)); err != nil {
		test.Fatalf("expected account to survive: %v", err)
	}
	if err := h.wallets.DeletePayoutAccount(ctx, actor, mustInstrumentID(test, idle.ID)); err != nil {
		test.Fatalf("delete idle account: %v", err)
	}

	if _, err := h.payouts.Finalize(ctx, mustPayoutID(test, payout.ID), ledger.PayoutOutcome{Status: ledger.PayoutStatusCompleted}); err != nil {
		test.Fatalf("finalize: %v", err)
	}
	if err := h.wallets.DeletePayoutAccount(ctx, actor, mustInstrumentID(test, busy.ID)); err != nil {
		test.Fatalf("expected delete after the payout settled: %v", err)
	}
}
