package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryRequest describes one balance mutation. AvailableDelta overrides the
// amount-by-direction default; PendingDelta is applied as given.
type EntryRequest struct {
	Amount         decimal.Decimal
	Category       EntryCategory
	EntryType      EntryType
	Description    string
	EntityType     EntityType
	EntityID       string
	AvailableDelta *decimal.Decimal
	PendingDelta   decimal.Decimal
	Metadata       MetadataJSON
}

// WalletManager owns wallet balances, entries and instruments.
type WalletManager struct {
	engineCore
	defaultCurrency Currency
}

// NewWalletManager wires a WalletManager. New wallets are opened in defaultCurrency.
func NewWalletManager(store Store, defaultCurrency Currency, now func() time.Time, options ...Option) (*WalletManager, error) {
	if defaultCurrency.IsZero() {
		return nil, fmt.Errorf("%w: default currency is empty", ErrInvalidServiceConfig)
	}
	core, err := newEngineCore(store, now, options)
	if err != nil {
		return nil, err
	}
	return &WalletManager{engineCore: core, defaultCurrency: defaultCurrency}, nil
}

// DefaultCurrency returns the currency new wallets are opened in.
func (manager *WalletManager) DefaultCurrency() Currency {
	return manager.defaultCurrency
}

// EnsureWallet returns the user's wallet, creating it on first use.
func (manager *WalletManager) EnsureWallet(ctx context.Context, userID UserID) (Wallet, error) {
	return manager.ensureWallet(ctx, manager.store, userID)
}

func (manager *WalletManager) ensureWallet(ctx context.Context, store Store, userID UserID) (Wallet, error) {
	if userID.IsZero() {
		return Wallet{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return store.GetOrCreateWallet(ctx, userID, manager.defaultCurrency)
}

// GetBalances returns a snapshot of the user's balances.
func (manager *WalletManager) GetBalances(ctx context.Context, userID UserID) (Balances, error) {
	wallet, err := manager.EnsureWallet(ctx, userID)
	if err != nil {
		return Balances{}, err
	}
	return balancesOf(wallet), nil
}

func balancesOf(wallet Wallet) Balances {
	return Balances{
		WalletID:         wallet.ID,
		UserID:           wallet.UserID,
		Currency:         wallet.Currency,
		AvailableBalance: wallet.AvailableBalance,
		PendingBalance:   wallet.PendingBalance,
		UpdatedAt:        wallet.UpdatedAt,
	}
}

// ApplyLedgerEntry mutates wallet balances and appends the matching entry.
// It must run on the caller's transaction store with the wallet already locked.
func (manager *WalletManager) ApplyLedgerEntry(ctx context.Context, transactionStore Store, wallet Wallet, request EntryRequest) (Wallet, error) {
	if transactionStore == nil {
		return Wallet{}, fmt.Errorf("%w: transaction store is nil", ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(wallet.ID) == "" {
		return Wallet{}, fmt.Errorf("%w: wallet id is empty", ErrInvalidEntry)
	}
	if request.Amount.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: amount must not be negative", ErrInvalidEntry)
	}
	if request.Category == "" {
		return Wallet{}, fmt.Errorf("%w: category is empty", ErrInvalidEntry)
	}
	var availableDelta decimal.Decimal
	switch request.EntryType {
	case EntryCredit:
		availableDelta = request.Amount
	case EntryDebit:
		availableDelta = request.Amount.Neg()
	default:
		return Wallet{}, fmt.Errorf("%w: unknown entry type %q", ErrInvalidEntry, request.EntryType)
	}
	if request.AvailableDelta != nil {
		availableDelta = *request.AvailableDelta
	}
	nextAvailable := roundMoney(wallet.AvailableBalance.Add(availableDelta))
	nextPending := roundMoney(wallet.PendingBalance.Add(request.PendingDelta))
	if nextAvailable.IsNegative() || nextPending.IsNegative() {
		return Wallet{}, fmt.Errorf("%w: wallet %s", ErrInsufficientFunds, wallet.ID)
	}
	nowUTC := manager.now()
	wallet.AvailableBalance = nextAvailable
	wallet.PendingBalance = nextPending
	wallet.UpdatedAt = nowUTC
	if err := transactionStore.UpdateWalletBalances(ctx, wallet); err != nil {
		return Wallet{}, err
	}
	entry := Entry{
		ID:             manager.idFn(),
		WalletID:       wallet.ID,
		EntityType:     request.EntityType,
		EntityID:       request.EntityID,
		EntryType:      request.EntryType,
		Category:       request.Category,
		Amount:         request.Amount,
		Currency:       wallet.Currency,
		AvailableDelta: availableDelta,
		PendingDelta:   request.PendingDelta,
		BalanceAfter:   nextAvailable,
		PendingAfter:   nextPending,
		Description:    request.Description,
		Metadata:       request.Metadata,
		CreatedAt:      nowUTC,
	}
	if err := transactionStore.InsertEntry(ctx, entry); err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Fund credits available balance. Administrators only.
func (manager *WalletManager) Fund(ctx context.Context, actor Actor, userID UserID, amount PositiveAmount, idempotencyKey IdempotencyKey, metadata MetadataJSON) (Balances, error) {
	var balances Balances
	operationError := manager.fund(ctx, actor, userID, amount, idempotencyKey, metadata, &balances)
	manager.logOperation(ctx, OperationLog{
		Operation:      operationWalletFund,
		Actor:          actor.UserID.String(),
		EntityType:     EntityWallet,
		EntityID:       balances.WalletID,
		Amount:         amount.Decimal(),
		Currency:       balances.Currency,
		IdempotencyKey: idempotencyKey.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Balances{}, operationError
	}
	return balances, nil
}

func (manager *WalletManager) fund(ctx context.Context, actor Actor, userID UserID, amount PositiveAmount, idempotencyKey IdempotencyKey, metadata MetadataJSON, balances *Balances) error {
	if !actor.Admin {
		return fmt.Errorf("%w: funding requires an administrator", ErrForbidden)
	}
	if userID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	call := newIdempotentCall(operationWalletFund, actor, idempotencyKey, userID.String(), amount.String())
	return manager.runIdempotent(ctx, call, EntityWallet,
		func(ctx context.Context, transactionStore Store) (string, error) {
			wallet, err := manager.ensureWallet(ctx, transactionStore, userID)
			if err != nil {
				return "", err
			}
			wallet, err = lockWallet(ctx, transactionStore, wallet.ID)
			if err != nil {
				return "", err
			}
			wallet, err = manager.ApplyLedgerEntry(ctx, transactionStore, wallet, EntryRequest{
				Amount:      amount.Decimal(),
				Category:    CategoryWalletFunding,
				EntryType:   EntryCredit,
				Description: "wallet funding",
				EntityType:  EntityWallet,
				EntityID:    wallet.ID,
				Metadata:    metadata,
			})
			if err != nil {
				return "", err
			}
			*balances = balancesOf(wallet)
			return wallet.ID, nil
		},
		func(ctx context.Context, walletID string) error {
			wallet, err := manager.store.GetWallet(ctx, walletID)
			if err != nil {
				return err
			}
			*balances = balancesOf(wallet)
			return nil
		},
	)
}

// ListEntries returns the user's entries newest first. Owner or administrator.
func (manager *WalletManager) ListEntries(ctx context.Context, actor Actor, userID UserID, before time.Time, limit int) ([]Entry, error) {
	if actor.UserID.String() != userID.String() && !actor.Admin {
		return nil, fmt.Errorf("%w: entries belong to another user", ErrForbidden)
	}
	normalizedLimit, _, err := normalizeListWindow(limit, 0)
	if err != nil {
		return nil, err
	}
	var wallet Wallet
	if actor.UserID.String() == userID.String() {
		wallet, err = manager.EnsureWallet(ctx, userID)
	} else {
		wallet, err = manager.store.FindWalletByUser(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return manager.store.ListEntries(ctx, wallet.ID, before, normalizedLimit)
}

// walletForActor loads a wallet and checks the actor may see it.
func (manager *WalletManager) walletForActor(ctx context.Context, store Store, actor Actor, walletID string) (Wallet, error) {
	wallet, err := store.GetWallet(ctx, walletID)
	if err != nil {
		return Wallet{}, err
	}
	if !canAccessWallet(actor, wallet) {
		return Wallet{}, fmt.Errorf("%w: wallet belongs to another user", ErrForbidden)
	}
	return wallet, nil
}

func lockWallet(ctx context.Context, transactionStore Store, walletID string) (Wallet, error) {
	locked, err := transactionStore.LockWallets(ctx, walletID)
	if err != nil {
		return Wallet{}, err
	}
	wallet, ok := locked[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func lockWalletPair(ctx context.Context, transactionStore Store, firstID string, secondID string) (Wallet, Wallet, error) {
	locked, err := transactionStore.LockWallets(ctx, firstID, secondID)
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	first, firstFound := locked[firstID]
	second, secondFound := locked[secondID]
	if !firstFound || !secondFound {
		return Wallet{}, Wallet{}, ErrWalletNotFound
	}
	return first, second, nil
}
