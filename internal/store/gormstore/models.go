package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents the wallets table.
type Wallet struct {
	ID               string          `gorm:"type:uuid;primaryKey"`
	UserID           string          `gorm:"not null;uniqueIndex:idx_wallets_user"`
	Currency         string          `gorm:"type:char(3);not null"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	PendingBalance   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	CreatedAt        time.Time       `gorm:"not null;autoCreateTime:false"`
	UpdatedAt        time.Time       `gorm:"not null;autoUpdateTime:false"`
}

func (Wallet) TableName() string { return "wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table. Rows are never updated.
type LedgerEntry struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	WalletID       string          `gorm:"type:uuid;not null;index:idx_ledger_wallet_created,priority:1"`
	EntityType     string          `gorm:"not null;index:idx_ledger_entity,priority:1"`
	EntityID       string          `gorm:"not null;index:idx_ledger_entity,priority:2"`
	EntryType      string          `gorm:"not null"`
	Category       string          `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency       string          `gorm:"type:char(3);not null"`
	AvailableDelta decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PendingDelta   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PendingAfter   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Description    string          `gorm:"not null;default:''"`
	Metadata       datatypes.JSON  `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time       `gorm:"not null;autoCreateTime:false;index:idx_ledger_wallet_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return nil
}

// EscrowIntent mirrors the escrow_intents table.
type EscrowIntent struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	PayerWalletID  string          `gorm:"type:uuid;not null;index:idx_escrow_payer"`
	PayeeWalletID  string          `gorm:"type:uuid;not null;index:idx_escrow_payee"`
	ReferenceType  string          `gorm:"not null;index:idx_escrow_reference,priority:1"`
	ReferenceID    string          `gorm:"not null;index:idx_escrow_reference,priority:2"`
	Currency       string          `gorm:"type:char(3);not null"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	CapturedAmount decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	RefundedAmount decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	FeeAmount      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Status         string          `gorm:"not null;index:idx_escrow_status"`
	IsOnHold       bool            `gorm:"not null;default:false"`
	HoldReason     string          `gorm:"not null;default:''"`
	HeldBy         string          `gorm:"not null;default:''"`
	PreviousStatus string          `gorm:"not null;default:''"`
	IdempotencyKey string          `gorm:"not null;default:''"`
	Metadata       datatypes.JSON  `gorm:"type:jsonb;not null"`
	AuthorizedAt   *time.Time
	CapturedAt     *time.Time
	CancelledAt    *time.Time
	HeldAt         *time.Time
	ReleasedAt     *time.Time
	RefundedAt     *time.Time
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (EscrowIntent) TableName() string { return "escrow_intents" }

// Payout mirrors the payouts table.
type Payout struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	WalletID        string          `gorm:"type:uuid;not null;index:idx_payouts_wallet"`
	PayoutAccountID string          `gorm:"type:uuid;not null;index:idx_payouts_account"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency        string          `gorm:"type:char(3);not null"`
	Status          string          `gorm:"not null;index:idx_payouts_status"`
	FailureCode     string          `gorm:"not null;default:''"`
	FailureMessage  string          `gorm:"not null;default:''"`
	InitiatedAt     time.Time       `gorm:"not null"`
	ProcessedAt     *time.Time
	IdempotencyKey  string         `gorm:"not null;default:''"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt       time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (Payout) TableName() string { return "payouts" }

// Refund mirrors the refunds table.
type Refund struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	EscrowID       string          `gorm:"type:uuid;not null;index:idx_refunds_escrow"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Currency       string          `gorm:"type:char(3);not null"`
	Status         string          `gorm:"not null"`
	Reason         string          `gorm:"not null;default:''"`
	ProcessedAt    *time.Time
	IdempotencyKey string         `gorm:"not null;default:''"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime:false"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime:false"`
}

func (Refund) TableName() string { return "refunds" }

// PaymentMethod mirrors the wallet_payment_methods table.
type PaymentMethod struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	WalletID    string         `gorm:"type:uuid;not null;index:idx_payment_methods_wallet"`
	Type        string         `gorm:"not null"`
	Provider    string         `gorm:"not null"`
	ProviderRef string         `gorm:"not null;default:''"`
	Brand       string         `gorm:"not null;default:''"`
	Last4       string         `gorm:"type:char(4);not null"`
	ExpMonth    int            `gorm:"not null;default:0"`
	ExpYear     int            `gorm:"not null;default:0"`
	IsDefault   bool           `gorm:"not null;default:false"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime:false"`
}

func (PaymentMethod) TableName() string { return "wallet_payment_methods" }

// PayoutAccount mirrors the wallet_payout_accounts table.
type PayoutAccount struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	WalletID    string         `gorm:"type:uuid;not null;index:idx_payout_accounts_wallet"`
	Type        string         `gorm:"not null"`
	Provider    string         `gorm:"not null"`
	ProviderRef string         `gorm:"not null;default:''"`
	HolderName  string         `gorm:"not null"`
	Last4       string         `gorm:"type:char(4);not null"`
	Currency    string         `gorm:"type:char(3);not null"`
	IsDefault   bool           `gorm:"not null;default:false"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime:false"`
}

func (PayoutAccount) TableName() string { return "wallet_payout_accounts" }

// Invoice mirrors the invoices table.
type Invoice struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	EntityType    string          `gorm:"not null;uniqueIndex:idx_invoices_entity,priority:1"`
	EntityID      string          `gorm:"not null;uniqueIndex:idx_invoices_entity,priority:2"`
	PayerWalletID string          `gorm:"type:uuid;not null"`
	PayeeWalletID string          `gorm:"type:uuid;not null"`
	Currency      string          `gorm:"type:char(3);not null"`
	AmountDue     decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	AmountPaid    decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Status        string          `gorm:"not null"`
	IssuedAt      time.Time       `gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

func (invoice *Invoice) BeforeCreate(tx *gorm.DB) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	return nil
}

// IdempotencyRecord mirrors the idempotency_records table.
type IdempotencyRecord struct {
	Scope       string    `gorm:"primaryKey"`
	Key         string    `gorm:"column:idempotency_key;primaryKey"`
	Fingerprint string    `gorm:"not null"`
	EntityType  string    `gorm:"not null;default:''"`
	EntityID    string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
}

func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// Models lists every table for auto-migration.
func Models() []any {
	return []any{
		&Wallet{},
		&LedgerEntry{},
		&EscrowIntent{},
		&Payout{},
		&Refund{},
		&PaymentMethod{},
		&PayoutAccount{},
		&Invoice{},
		&IdempotencyRecord{},
	}
}
