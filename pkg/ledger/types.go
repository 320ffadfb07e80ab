package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	moneyScale      = 2
	systemUserValue = "system"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// EscrowID identifies an escrow intent.
type EscrowID struct {
	value string
}

// PayoutID identifies a payout.
type PayoutID struct {
	value string
}

// RefundID identifies a refund.
type RefundID struct {
	value string
}

// InstrumentID identifies a payment method or payout account.
type InstrumentID struct {
	value string
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata as a JSON object.
type MetadataJSON struct {
	value string
}

// Currency is an upper-case ISO 4217 code.
type Currency struct {
	value string
}

// Reference names the external entity an escrow intent is scoped to.
type Reference struct {
	referenceType string
	referenceID   string
}

// PositiveAmount is a strictly positive money amount with at most two decimal places.
type PositiveAmount struct {
	value decimal.Decimal
}

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	UserID UserID
	Admin  bool
	system bool
}

func normalizeIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", sentinel)
	}
	return trimmed, nil
}

// NewUserID validates and normalizes a user id. The system identity is
// reserved and cannot be claimed by a caller.
func NewUserID(raw string) (UserID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidUserID)
	if err != nil {
		return UserID{}, err
	}
	if strings.EqualFold(value, systemUserValue) {
		return UserID{}, fmt.Errorf("%w: %q is reserved", ErrInvalidUserID, value)
	}
	return UserID{value: value}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewEscrowID validates and normalizes an escrow intent id.
func NewEscrowID(raw string) (EscrowID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidEscrowID)
	if err != nil {
		return EscrowID{}, err
	}
	return EscrowID{value: value}, nil
}

// String returns the normalized identifier.
func (id EscrowID) String() string {
	return id.value
}

// NewPayoutID validates and normalizes a payout id.
func NewPayoutID(raw string) (PayoutID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidPayoutID)
	if err != nil {
		return PayoutID{}, err
	}
	return PayoutID{value: value}, nil
}

// String returns the normalized identifier.
func (id PayoutID) String() string {
	return id.value
}

// NewRefundID validates and normalizes a refund id.
func NewRefundID(raw string) (RefundID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidRefundID)
	if err != nil {
		return RefundID{}, err
	}
	return RefundID{value: value}, nil
}

// String returns the normalized identifier.
func (id RefundID) String() string {
	return id.value
}

// NewInstrumentID validates and normalizes an instrument id.
func NewInstrumentID(raw string) (InstrumentID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidInstrumentID)
	if err != nil {
		return InstrumentID{}, err
	}
	return InstrumentID{value: value}, nil
}

// String returns the normalized identifier.
func (id InstrumentID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidIdempotencyKey)
	if err != nil {
		return IdempotencyKey{}, err
	}
	return IdempotencyKey{value: value}, nil
}

// OptionalIdempotencyKey returns the zero key for blank input.
func OptionalIdempotencyKey(raw string) (IdempotencyKey, error) {
	if strings.TrimSpace(raw) == "" {
		return IdempotencyKey{}, nil
	}
	return NewIdempotencyKey(raw)
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(normalized), &object); err != nil || object == nil {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Merge overlays the keys of patch onto metadata.
func (metadata MetadataJSON) Merge(patch MetadataJSON) MetadataJSON {
	base := map[string]any{}
	_ = json.Unmarshal([]byte(metadata.String()), &base)
	overlay := map[string]any{}
	_ = json.Unmarshal([]byte(patch.String()), &overlay)
	for key, value := range overlay {
		base[key] = value
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return metadata
	}
	return MetadataJSON{value: string(merged)}
}

// MarshalJSON embeds the metadata object verbatim.
func (metadata MetadataJSON) MarshalJSON() ([]byte, error) {
	return []byte(metadata.String()), nil
}

// UnmarshalJSON accepts any JSON object.
func (metadata *MetadataJSON) UnmarshalJSON(raw []byte) error {
	if string(raw) == "null" {
		*metadata = MetadataJSON{}
		return nil
	}
	parsed, err := NewMetadataJSON(string(raw))
	if err != nil {
		return err
	}
	*metadata = parsed
	return nil
}

// NewCurrency validates and upper-cases an ISO 4217 code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if !currencyPattern.MatchString(normalized) {
		return Currency{}, fmt.Errorf("%w: %q is not a three-letter code", ErrInvalidCurrency, raw)
	}
	return Currency{value: normalized}, nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return currency.value
}

// IsZero reports whether no currency was supplied.
func (currency Currency) IsZero() bool {
	return currency.value == ""
}

// NewReference validates an external reference.
func NewReference(referenceType string, referenceID string) (Reference, error) {
	normalizedType := strings.TrimSpace(referenceType)
	normalizedID := strings.TrimSpace(referenceID)
	if normalizedType == "" || normalizedID == "" {
		return Reference{}, fmt.Errorf("%w: type and id are required", ErrInvalidReference)
	}
	return Reference{referenceType: normalizedType, referenceID: normalizedID}, nil
}

// Type returns the reference type.
func (reference Reference) Type() string {
	return reference.referenceType
}

// ID returns the reference id.
func (reference Reference) ID() string {
	return reference.referenceID
}

// NewPositiveAmount validates an amount is above zero with at most two decimal places.
func NewPositiveAmount(value decimal.Decimal) (PositiveAmount, error) {
	if !value.IsPositive() {
		return PositiveAmount{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !value.Equal(value.Round(moneyScale)) {
		return PositiveAmount{}, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, moneyScale)
	}
	return PositiveAmount{value: value}, nil
}

// ParsePositiveAmount parses a decimal string into a PositiveAmount.
func ParsePositiveAmount(raw string) (PositiveAmount, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return PositiveAmount{}, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	return NewPositiveAmount(value)
}

// Decimal returns the underlying decimal value.
func (amount PositiveAmount) Decimal() decimal.Decimal {
	return amount.value
}

// IsZero reports whether the amount was never set.
func (amount PositiveAmount) IsZero() bool {
	return amount.value.IsZero()
}

// String renders the amount with two decimal places.
func (amount PositiveAmount) String() string {
	return amount.value.StringFixed(moneyScale)
}

// NewActor builds the identity of an authenticated caller.
func NewActor(userID UserID, admin bool) Actor {
	return Actor{UserID: userID, Admin: admin}
}

// SystemActor is the identity used for processor-driven transitions.
func SystemActor() Actor {
	return Actor{UserID: UserID{value: systemUserValue}, Admin: true, system: true}
}

// IsSystem reports whether the actor is the internal reconciliation identity.
func (actor Actor) IsSystem() bool {
	return actor.system
}

func roundMoney(value decimal.Decimal) decimal.Decimal {
	return value.Round(moneyScale)
}
