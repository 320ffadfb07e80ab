package ledger

import (
	"context"
	"time"
)

// EscrowRole narrows an escrow listing to one side of the intent.
type EscrowRole string

const (
	EscrowRoleAny   EscrowRole = ""
	EscrowRolePayer EscrowRole = "payer"
	EscrowRolePayee EscrowRole = "payee"
)

// EscrowFilter selects escrow intents for listing.
type EscrowFilter struct {
	WalletID      string
	Role          EscrowRole
	Status        EscrowStatus
	ReferenceType string
	ReferenceID   string
	Limit         int
	Offset        int
}

// PayoutFilter selects payouts for listing.
type PayoutFilter struct {
	WalletID        string
	PayoutAccountID string
	Status          PayoutStatus
	Limit           int
	Offset          int
}

// RefundFilter selects refunds for listing. WalletID matches either side of the escrow.
type RefundFilter struct {
	EscrowID string
	WalletID string
	Status   RefundStatus
	Limit    int
	Offset   int
}

// Store is the persistence contract used by the engines.
// Lock* methods take a row lock for the rest of the enclosing transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateWallet(ctx context.Context, userID UserID, currency Currency) (Wallet, error)
	FindWalletByUser(ctx context.Context, userID UserID) (Wallet, error)
	GetWallet(ctx context.Context, walletID string) (Wallet, error)
	// LockWallets locks the given wallets in ascending id order.
	LockWallets(ctx context.Context, walletIDs ...string) (map[string]Wallet, error)
	UpdateWalletBalances(ctx context.Context, wallet Wallet) error
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, walletID string, before time.Time, limit int) ([]Entry, error)

	CreateEscrow(ctx context.Context, intent EscrowIntent) error
	GetEscrow(ctx context.Context, escrowID string) (EscrowIntent, error)
	LockEscrow(ctx context.Context, escrowID string) (EscrowIntent, error)
	UpdateEscrow(ctx context.Context, intent EscrowIntent) error
	ListEscrows(ctx context.Context, filter EscrowFilter) ([]EscrowIntent, error)

	CreatePayout(ctx context.Context, payout Payout) error
	GetPayout(ctx context.Context, payoutID string) (Payout, error)
	LockPayout(ctx context.Context, payoutID string) (Payout, error)
	UpdatePayout(ctx context.Context, payout Payout) error
	DeletePayout(ctx context.Context, payoutID string) error
	ListPayouts(ctx context.Context, filter PayoutFilter) ([]Payout, error)

	CreateRefund(ctx context.Context, refund Refund) error
	GetRefund(ctx context.Context, refundID string) (Refund, error)
	LockRefund(ctx context.Context, refundID string) (Refund, error)
	UpdateRefund(ctx context.Context, refund Refund) error
	DeleteRefund(ctx context.Context, refundID string) error
	ListRefunds(ctx context.Context, filter RefundFilter) ([]Refund, error)

	CreatePaymentMethod(ctx context.Context, method PaymentMethod) error
	GetPaymentMethod(ctx context.Context, methodID string) (PaymentMethod, error)
	// ListPaymentMethods returns the wallet's methods, newest first.
	ListPaymentMethods(ctx context.Context, walletID string) ([]PaymentMethod, error)
	UpdatePaymentMethod(ctx context.Context, method PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, methodID string) error
	ClearDefaultPaymentMethods(ctx context.Context, walletID string) error

	CreatePayoutAccount(ctx context.Context, account PayoutAccount) error
	GetPayoutAccount(ctx context.Context, accountID string) (PayoutAccount, error)
	// ListPayoutAccounts returns the wallet's accounts, newest first.
	ListPayoutAccounts(ctx context.Context, walletID string) ([]PayoutAccount, error)
	UpdatePayoutAccount(ctx context.Context, account PayoutAccount) error
	DeletePayoutAccount(ctx context.Context, accountID string) error
	ClearDefaultPayoutAccounts(ctx context.Context, walletID string) error

	// UpsertInvoice inserts the invoice unless one exists for its entity and returns the stored row.
	UpsertInvoice(ctx context.Context, invoice Invoice) (Invoice, error)
	GetInvoice(ctx context.Context, entityType EntityType, entityID string) (Invoice, error)

	GetIdempotencyRecord(ctx context.Context, scope string, key string) (IdempotencyRecord, error)
	InsertIdempotencyRecord(ctx context.Context, record IdempotencyRecord) error
}
