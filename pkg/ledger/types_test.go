package ledger

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewUserID(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
		{name: "reserved system identity", input: "system", wantErr: ErrInvalidUserID},
		{name: "reserved system identity any case", input: " System ", wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					test.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				test.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestEntityIdentifiersRejectBlank(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		build   func(string) error
		wantErr error
	}{
		{name: "escrow", build: func(raw string) error { _, err := NewEscrowID(raw); return err }, wantErr: ErrInvalidEscrowID},
		{name: "payout", build: func(raw string) error { _, err := NewPayoutID(raw); return err }, wantErr: ErrInvalidPayoutID},
		{name: "refund", build: func(raw string) error { _, err := NewRefundID(raw); return err }, wantErr: ErrInvalidRefundID},
		{name: "instrument", build: func(raw string) error { _, err := NewInstrumentID(raw); return err }, wantErr: ErrInvalidInstrumentID},
		{name: "idempotency", build: func(raw string) error { _, err := NewIdempotencyKey(raw); return err }, wantErr: ErrInvalidIdempotencyKey},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			if err := tc.build(" \t "); !errors.Is(err, tc.wantErr) {
				test.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if err := tc.build(" id-1 "); err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestOptionalIdempotencyKey(test *testing.T) {
	test.Parallel()
	key, err := OptionalIdempotencyKey("  ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if !key.IsZero() {
		test.Fatalf("expected zero key, got %q", key.String())
	}
	key, err = OptionalIdempotencyKey(" order-7 ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if key.String() != "order-7" {
		test.Fatalf("expected trimmed key, got %q", key.String())
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	meta, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if meta.String() != "{}" {
		test.Fatalf("expected default metadata to be '{}', got %q", meta.String())
	}
	for _, raw := range []string{"not-json", "[1,2]", "null", "42"} {
		if _, err := NewMetadataJSON(raw); !errors.Is(err, ErrInvalidMetadataJSON) {
			test.Fatalf("%q: expected ErrInvalidMetadataJSON, got %v", raw, err)
		}
	}
}

func TestMetadataMerge(test *testing.T) {
	test.Parallel()
	base, err := NewMetadataJSON(`{"source":"web","nickname":"old"}`)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	patch, err := NewMetadataJSON(`{"nickname":"travel"}`)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	var merged map[string]string
	if err := json.Unmarshal([]byte(base.Merge(patch).String()), &merged); err != nil {
		test.Fatalf("merged metadata is not json: %v", err)
	}
	if merged["source"] != "web" || merged["nickname"] != "travel" {
		test.Fatalf("unexpected merge result: %v", merged)
	}
}

func TestMetadataJSONRoundTripsInsideStructs(test *testing.T) {
	test.Parallel()
	type envelope struct {
		Metadata MetadataJSON `json:"metadata"`
	}
	var decoded envelope
	if err := json.Unmarshal([]byte(`{"metadata":{"tier":"gold"}}`), &decoded); err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	encoded, err := json.Marshal(decoded)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if string(encoded) != `{"metadata":{"tier":"gold"}}` {
		test.Fatalf("unexpected encoding %s", encoded)
	}
	if err := json.Unmarshal([]byte(`{"metadata":"text"}`), &decoded); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestNewCurrency(test *testing.T) {
	test.Parallel()
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "usd", want: "USD"},
		{input: " EUR ", want: "EUR"},
		{input: "US", wantErr: true},
		{input: "US1", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range cases {
		currency, err := NewCurrency(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidCurrency) {
				test.Fatalf("%q: expected ErrInvalidCurrency, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || currency.String() != tc.want {
			test.Fatalf("%q: expected %s, got %q (%v)", tc.input, tc.want, currency.String(), err)
		}
	}
}

func TestNewReference(test *testing.T) {
	test.Parallel()
	reference, err := NewReference(" order ", " 42 ")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if reference.Type() != "order" || reference.ID() != "42" {
		test.Fatalf("unexpected reference %q/%q", reference.Type(), reference.ID())
	}
	if _, err := NewReference("order", ""); !errors.Is(err, ErrInvalidReference) {
		test.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestParsePositiveAmount(test *testing.T) {
	test.Parallel()
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "10", want: "10.00"},
		{input: "0.01", want: "0.01"},
		{input: " 33.30 ", want: "33.30"},
		{input: "0", wantErr: true},
		{input: "-5", wantErr: true},
		{input: "1.005", wantErr: true},
		{input: "ten", wantErr: true},
	}
	for _, tc := range cases {
		amount, err := ParsePositiveAmount(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				test.Fatalf("%q: expected ErrInvalidAmount, got %v", tc.input, err)
			}
			continue
		}
		if err != nil {
			test.Fatalf("%q: unexpected error: %v", tc.input, err)
		}
		if amount.String() != tc.want {
			test.Fatalf("%q: expected %s, got %s", tc.input, tc.want, amount.String())
		}
	}
}

func TestRoundMoney(test *testing.T) {
	test.Parallel()
	fee := roundMoney(decimal.RequireFromString("0.05").Mul(decimal.RequireFromString("33.33")))
	if !fee.Equal(decimal.RequireFromString("1.67")) {
		test.Fatalf("expected 1.67, got %s", fee)
	}
}

func TestParseStatuses(test *testing.T) {
	test.Parallel()
	if status, err := ParseEscrowStatus("held"); err != nil || status != EscrowStatusHeld {
		test.Fatalf("unexpected escrow status %q (%v)", status, err)
	}
	if _, err := ParseEscrowStatus("settled"); !errors.Is(err, ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if status, err := ParsePayoutStatus("failed"); err != nil || status != PayoutStatusFailed {
		test.Fatalf("unexpected payout status %q (%v)", status, err)
	}
	if _, err := ParsePayoutStatus("queued"); !errors.Is(err, ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if status, err := ParseRefundStatus("processed"); err != nil || status != RefundStatusProcessed {
		test.Fatalf("unexpected refund status %q (%v)", status, err)
	}
	if _, err := ParseRefundStatus(""); !errors.Is(err, ErrInvalidStatus) {
		test.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestSystemActor(test *testing.T) {
	test.Parallel()
	actor := SystemActor()
	if !actor.IsSystem() || !actor.Admin || actor.UserID.String() != "system" {
		test.Fatalf("unexpected system actor: %+v", actor)
	}
	if NewActor(actor.UserID, true).IsSystem() {
		test.Fatalf("only SystemActor may be the system identity")
	}
}
