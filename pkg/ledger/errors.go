package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the engines.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrCurrencyMismatch        = errors.New("currency mismatch")
	ErrInvalidState            = errors.New("invalid state transition")
	ErrForbidden               = errors.New("forbidden")
	ErrUnsupportedEvent        = errors.New("unsupported event")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrIdempotencyConflict     = errors.New("idempotency key reused with a different request")

	ErrWalletNotFound        = errors.New("wallet not found")
	ErrEscrowNotFound        = errors.New("escrow intent not found")
	ErrPayoutNotFound        = errors.New("payout not found")
	ErrRefundNotFound        = errors.New("refund not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrPayoutAccountNotFound = errors.New("payout account not found")
	ErrInvoiceNotFound       = errors.New("invoice not found")
	ErrUnknownIdempotencyKey = errors.New("unknown idempotency key")

	ErrInvalidUserID         = errors.New("invalid user id")
	ErrInvalidEscrowID       = errors.New("invalid escrow id")
	ErrInvalidPayoutID       = errors.New("invalid payout id")
	ErrInvalidRefundID       = errors.New("invalid refund id")
	ErrInvalidInstrumentID   = errors.New("invalid instrument id")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidMetadataJSON   = errors.New("invalid metadata json")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidCurrency       = errors.New("invalid currency")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrInvalidInstrument     = errors.New("invalid instrument")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidEntry          = errors.New("invalid ledger entry")
	ErrInvalidEvent          = errors.New("invalid event")
	ErrInvalidListLimit      = errors.New("invalid list limit")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
)

// Kind groups errors into the taxonomy surfaced to callers.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindCurrencyMismatch  Kind = "currency_mismatch"
	KindUnsupportedEvent  Kind = "unsupported_event"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

type errorClass struct {
	sentinel error
	kind     Kind
	code     string
}

var errorClasses = []errorClass{
	{ErrInsufficientFunds, KindInsufficientFunds, "insufficient_funds"},
	{ErrCurrencyMismatch, KindCurrencyMismatch, "currency_mismatch"},
	{ErrInvalidState, KindInvalidState, "invalid_state"},
	{ErrForbidden, KindForbidden, "forbidden"},
	{ErrUnsupportedEvent, KindUnsupportedEvent, "unsupported_event"},
	{ErrDuplicateIdempotencyKey, KindConflict, "duplicate_idempotency_key"},
	{ErrIdempotencyConflict, KindConflict, "idempotency_conflict"},
	{ErrWalletNotFound, KindNotFound, "wallet_not_found"},
	{ErrEscrowNotFound, KindNotFound, "escrow_not_found"},
	{ErrPayoutNotFound, KindNotFound, "payout_not_found"},
	{ErrRefundNotFound, KindNotFound, "refund_not_found"},
	{ErrPaymentMethodNotFound, KindNotFound, "payment_method_not_found"},
	{ErrPayoutAccountNotFound, KindNotFound, "payout_account_not_found"},
	{ErrInvoiceNotFound, KindNotFound, "invoice_not_found"},
	{ErrUnknownIdempotencyKey, KindNotFound, "unknown_idempotency_key"},
	{ErrInvalidUserID, KindValidation, "invalid_user_id"},
	{ErrInvalidEscrowID, KindValidation, "invalid_escrow_id"},
	{ErrInvalidPayoutID, KindValidation, "invalid_payout_id"},
	{ErrInvalidRefundID, KindValidation, "invalid_refund_id"},
	{ErrInvalidInstrumentID, KindValidation, "invalid_instrument_id"},
	{ErrInvalidIdempotencyKey, KindValidation, "invalid_idempotency_key"},
	{ErrInvalidMetadataJSON, KindValidation, "invalid_metadata_json"},
	{ErrInvalidAmount, KindValidation, "invalid_amount"},
	{ErrInvalidCurrency, KindValidation, "invalid_currency"},
	{ErrInvalidReference, KindValidation, "invalid_reference"},
	{ErrInvalidInstrument, KindValidation, "invalid_instrument"},
	{ErrInvalidStatus, KindValidation, "invalid_status"},
	{ErrInvalidEntry, KindValidation, "invalid_entry"},
	{ErrInvalidEvent, KindValidation, "invalid_event"},
	{ErrInvalidListLimit, KindValidation, "invalid_list_limit"},
}

// KindOf classifies an error. Unrecognized errors are internal.
func KindOf(err error) Kind {
	if class, ok := classify(err); ok {
		return class.kind
	}
	return KindInternal
}

// ErrorCode returns the stable machine-readable code for an error.
func ErrorCode(err error) string {
	if class, ok := classify(err); ok {
		return class.code
	}
	return "internal"
}

func classify(err error) (errorClass, bool) {
	if err == nil {
		return errorClass{}, false
	}
	for _, class := range errorClasses {
		if errors.Is(err, class.sentinel) {
			return class, true
		}
	}
	return errorClass{}, false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
