package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates ledger entry directions.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// EntryCategory names the business reason for a balance mutation.
type EntryCategory string

const (
	CategoryWalletFunding       EntryCategory = "wallet_funding"
	CategoryEscrowAuthorize     EntryCategory = "escrow_authorize"
	CategoryEscrowCapture       EntryCategory = "escrow_capture"
	CategoryEscrowCaptureCredit EntryCategory = "escrow_capture_credit"
	CategoryEscrowCancel        EntryCategory = "escrow_cancel"
	CategoryRefundDebit         EntryCategory = "refund_debit"
	CategoryRefundCredit        EntryCategory = "refund_credit"
	CategoryPayoutInitiated     EntryCategory = "payout_initiated"
	CategoryPayoutCompleted     EntryCategory = "payout_completed"
	CategoryPayoutFailed        EntryCategory = "payout_failed"
	CategoryBalanceSync         EntryCategory = "balance_sync"
)

// EntityType names the lifecycle entity a ledger entry belongs to.
type EntityType string

const (
	EntityWallet EntityType = "wallet"
	EntityEscrow EntityType = "escrow"
	EntityPayout EntityType = "payout"
	EntityRefund EntityType = "refund"

	EntityPaymentMethod EntityType = "payment_method"
	EntityPayoutAccount EntityType = "payout_account"
)

// EscrowStatus defines the escrow intent lifecycle.
type EscrowStatus string

const (
	EscrowStatusAuthorized EscrowStatus = "authorized"
	EscrowStatusHeld       EscrowStatus = "held"
	EscrowStatusCaptured   EscrowStatus = "captured"
	EscrowStatusCancelled  EscrowStatus = "cancelled"
	EscrowStatusRefunded   EscrowStatus = "refunded"
)

// PayoutStatus defines the payout lifecycle.
type PayoutStatus string

const (
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (status PayoutStatus) IsTerminal() bool {
	return status == PayoutStatusCompleted || status == PayoutStatusFailed
}

// ParsePayoutStatus validates a payout status string.
func ParsePayoutStatus(raw string) (PayoutStatus, error) {
	switch status := PayoutStatus(raw); status {
	case PayoutStatusProcessing, PayoutStatusCompleted, PayoutStatusFailed:
		return status, nil
	}
	return "", ErrInvalidStatus
}

// RefundStatus defines the refund lifecycle.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (status RefundStatus) IsTerminal() bool {
	return status == RefundStatusProcessed || status == RefundStatusFailed
}

// ParseRefundStatus validates a refund status string.
func ParseRefundStatus(raw string) (RefundStatus, error) {
	switch status := RefundStatus(raw); status {
	case RefundStatusPending, RefundStatusProcessed, RefundStatusFailed:
		return status, nil
	}
	return "", ErrInvalidStatus
}

// ParseEscrowStatus validates an escrow status string.
func ParseEscrowStatus(raw string) (EscrowStatus, error) {
	switch status := EscrowStatus(raw); status {
	case EscrowStatusAuthorized, EscrowStatusHeld, EscrowStatusCaptured, EscrowStatusCancelled, EscrowStatusRefunded:
		return status, nil
	}
	return "", ErrInvalidStatus
}

// InstrumentType enumerates payment method and payout account kinds.
type InstrumentType string

const (
	InstrumentCard        InstrumentType = "card"
	InstrumentBankAccount InstrumentType = "bank_account"
	InstrumentDebitCard   InstrumentType = "debit_card"
)

// Wallet holds a user's balances in a single currency.
type Wallet struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Balances is the read-only snapshot returned to callers.
type Balances struct {
	WalletID         string          `json:"wallet_id"`
	UserID           string          `json:"user_id"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	PendingBalance   decimal.Decimal `json:"pending_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	ID             string          `json:"id"`
	WalletID       string          `json:"wallet_id"`
	EntityType     EntityType      `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	EntryType      EntryType       `json:"entry_type"`
	Category       EntryCategory   `json:"category"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	AvailableDelta decimal.Decimal `json:"available_delta"`
	PendingDelta   decimal.Decimal `json:"pending_delta"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	PendingAfter   decimal.Decimal `json:"pending_after"`
	Description    string          `json:"description"`
	Metadata       MetadataJSON    `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EscrowIntent reserves payer funds on behalf of a payee.
type EscrowIntent struct {
	ID             string          `json:"id"`
	PayerWalletID  string          `json:"payer_wallet_id"`
	PayeeWalletID  string          `json:"payee_wallet_id"`
	ReferenceType  string          `json:"reference_type"`
	ReferenceID    string          `json:"reference_id"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	CapturedAmount decimal.Decimal `json:"captured_amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	FeeAmount      decimal.Decimal `json:"fee_amount"`
	Status         EscrowStatus    `json:"status"`
	IsOnHold       bool            `json:"is_on_hold"`
	HoldReason     string          `json:"hold_reason,omitempty"`
	HeldBy         string          `json:"held_by,omitempty"`
	PreviousStatus EscrowStatus    `json:"previous_status,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       MetadataJSON    `json:"metadata"`
	AuthorizedAt   *time.Time      `json:"authorized_at,omitempty"`
	CapturedAt     *time.Time      `json:"captured_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	HeldAt         *time.Time      `json:"held_at,omitempty"`
	ReleasedAt     *time.Time      `json:"released_at,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RemainingCapturable is the authorized amount not yet captured.
func (intent EscrowIntent) RemainingCapturable() decimal.Decimal {
	return intent.Amount.Sub(intent.CapturedAmount)
}

// RemainingRefundable is the captured amount not yet refunded.
func (intent EscrowIntent) RemainingRefundable() decimal.Decimal {
	return intent.CapturedAmount.Sub(intent.RefundedAmount)
}

// Payout is a single disbursement to a payout account.
type Payout struct {
	ID              string          `json:"id"`
	WalletID        string          `json:"wallet_id"`
	PayoutAccountID string          `json:"payout_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          PayoutStatus    `json:"status"`
	FailureCode     string          `json:"failure_code,omitempty"`
	FailureMessage  string          `json:"failure_message,omitempty"`
	InitiatedAt     time.Time       `json:"initiated_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Metadata        MetadataJSON    `json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Refund reverses captured escrow funds.
type Refund struct {
	ID             string          `json:"id"`
	EscrowID       string          `json:"escrow_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         RefundStatus    `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       MetadataJSON    `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PaymentMethod is a funding instrument attached to a wallet.
type PaymentMethod struct {
	ID          string         `json:"id"`
	WalletID    string         `json:"wallet_id"`
	Type        InstrumentType `json:"type"`
	Provider    string         `json:"provider"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	Brand       string         `json:"brand,omitempty"`
	Last4       string         `json:"last4"`
	ExpMonth    int            `json:"exp_month,omitempty"`
	ExpYear     int            `json:"exp_year,omitempty"`
	IsDefault   bool           `json:"is_default"`
	Metadata    MetadataJSON   `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PayoutAccount is a disbursement destination attached to a wallet.
type PayoutAccount struct {
	ID          string         `json:"id"`
	WalletID    string         `json:"wallet_id"`
	Type        InstrumentType `json:"type"`
	Provider    string         `json:"provider"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	HolderName  string         `json:"holder_name"`
	Last4       string         `json:"last4"`
	Currency    string         `json:"currency"`
	IsDefault   bool           `json:"is_default"`
	Metadata    MetadataJSON   `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Invoice records a fully captured escrow intent.
type Invoice struct {
	ID            string          `json:"id"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	PayerWalletID string          `json:"payer_wallet_id"`
	PayeeWalletID string          `json:"payee_wallet_id"`
	Currency      string          `json:"currency"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	Status        string          `json:"status"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// IdempotencyRecord remembers the result of a keyed request.
type IdempotencyRecord struct {
	Scope       string
	Key         string
	Fingerprint string
	EntityType  EntityType
	EntityID    string
	CreatedAt   time.Time
}
