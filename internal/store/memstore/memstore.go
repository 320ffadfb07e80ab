// Package memstore keeps the ledger in process memory. Transactions are serialized
// and run against a copy of the state that replaces the live state on commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	errorOperationStore     = "memstore"
	errorSubjectWallet      = "wallet"
	errorSubjectEscrow      = "escrow"
	errorSubjectPayout      = "payout"
	errorSubjectRefund      = "refund"
	errorSubjectMethod      = "payment_method"
	errorSubjectAccount     = "payout_account"
	errorSubjectInvoice     = "invoice"
	errorSubjectIdempotency = "idempotency"
	errorCodeGet            = "get"
	errorCodeDuplicate      = "duplicate"
	errorCodeUpdate         = "update"
	errorCodeDelete         = "delete"
)

type state struct {
	wallets        map[string]ledger.Wallet
	walletByUser   map[string]string
	entries        []ledger.Entry
	escrows        map[string]ledger.EscrowIntent
	payouts        map[string]ledger.Payout
	refunds        map[string]ledger.Refund
	paymentMethods map[string]ledger.PaymentMethod
	payoutAccounts map[string]ledger.PayoutAccount
	invoices       map[string]ledger.Invoice
	idempotency    map[string]ledger.IdempotencyRecord
}

func newState() *state {
	return &state{
		wallets:        map[string]ledger.Wallet{},
		walletByUser:   map[string]string{},
		escrows:        map[string]ledger.EscrowIntent{},
		payouts:        map[string]ledger.Payout{},
		refunds:        map[string]ledger.Refund{},
		paymentMethods: map[string]ledger.PaymentMethod{},
		payoutAccounts: map[string]ledger.PayoutAccount{},
		invoices:       map[string]ledger.Invoice{},
		idempotency:    map[string]ledger.IdempotencyRecord{},
	}
}

func (current *state) clone() *state {
	return &state{
		wallets:        cloneMap(current.wallets),
		walletByUser:   cloneMap(current.walletByUser),
		entries:        append([]ledger.Entry(nil), current.entries...),
		escrows:        cloneMap(current.escrows),
		payouts:        cloneMap(current.payouts),
		refunds:        cloneMap(current.refunds),
		paymentMethods: cloneMap(current.paymentMethods),
		payoutAccounts: cloneMap(current.payoutAccounts),
		invoices:       cloneMap(current.invoices),
		idempotency:    cloneMap(current.idempotency),
	}
}

func cloneMap[K comparable, V any](source map[K]V) map[K]V {
	cloned := make(map[K]V, len(source))
	for key, value := range source {
		cloned[key] = value
	}
	return cloned
}

type root struct {
	writeMutex sync.Mutex
	stateMutex sync.RWMutex
	state      *state
	nowFn      func() time.Time
}

// Store implements ledger.Store in memory.
type Store struct {
	root *root
	tx   *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{root: &root{state: newState(), nowFn: time.Now}}
}

// WithTx runs fn against a private copy of the state and publishes it when fn
// succeeds. Nested calls join the enclosing transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.tx != nil {
		return fn(ctx, store)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	store.root.writeMutex.Lock()
	defer store.root.writeMutex.Unlock()

	store.root.stateMutex.RLock()
	working := store.root.state.clone()
	store.root.stateMutex.RUnlock()

	if err := fn(ctx, &Store{root: store.root, tx: working}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	store.root.stateMutex.Lock()
	store.root.state = working
	store.root.stateMutex.Unlock()
	return nil
}

func (store *Store) read(fn func(current *state) error) error {
	if store.tx != nil {
		return fn(store.tx)
	}
	store.root.stateMutex.RLock()
	defer store.root.stateMutex.RUnlock()
	return fn(store.root.state)
}

func (store *Store) write(fn func(current *state) error) error {
	if store.tx != nil {
		return fn(store.tx)
	}
	store.root.writeMutex.Lock()
	defer store.root.writeMutex.Unlock()
	store.root.stateMutex.Lock()
	defer store.root.stateMutex.Unlock()
	return fn(store.root.state)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func (store *Store) GetOrCreateWallet(_ context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Wallet, error) {
	var wallet ledger.Wallet
	err := store.write(func(current *state) error {
		if walletID, ok := current.walletByUser[userID.String()]; ok {
			wallet = current.wallets[walletID]
			return nil
		}
		nowUTC := store.root.nowFn().UTC()
		wallet = ledger.Wallet{
			ID:               uuid.NewString(),
			UserID:           userID.String(),
			Currency:         currency.String(),
			AvailableBalance: decimal.Zero,
			PendingBalance:   decimal.Zero,
			CreatedAt:        nowUTC,
			UpdatedAt:        nowUTC,
		}
		current.wallets[wallet.ID] = wallet
		current.walletByUser[wallet.UserID] = wallet.ID
		return nil
	})
	return wallet, err
}

func (store *Store) FindWalletByUser(_ context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var wallet ledger.Wallet
	err := store.read(func(current *state) error {
		walletID, ok := current.walletByUser[userID.String()]
		if !ok {
			return wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrWalletNotFound)
		}
		wallet = current.wallets[walletID]
		return nil
	})
	return wallet, err
}

func (store *Store) GetWallet(_ context.Context, walletID string) (ledger.Wallet, error) {
	var wallet ledger.Wallet
	err := store.read(func(current *state) error {
		found, ok := current.wallets[walletID]
		if !ok {
			return wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrWalletNotFound)
		}
		wallet = found
		return nil
	})
	return wallet, err
}

func (store *Store) LockWallets(_ context.Context, walletIDs ...string) (map[string]ledger.Wallet, error) {
	locked := make(map[string]ledger.Wallet, len(walletIDs))
	err := store.read(func(current *state) error {
		for _, walletID := range walletIDs {
			wallet, ok := current.wallets[walletID]
			if !ok {
				return wrapStoreError(errorSubjectWallet, errorCodeGet, ledger.ErrWalletNotFound)
			}
			locked[walletID] = wallet
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locked, nil
}

func (store *Store) UpdateWalletBalances(_ context.Context, wallet ledger.Wallet) error {
	return store.write(func(current *state) error {
		stored, ok := current.wallets[wallet.ID]
		if !ok {
			return wrapStoreError(errorSubjectWallet, errorCodeUpdate, ledger.ErrWalletNotFound)
		}
		stored.AvailableBalance = wallet.AvailableBalance
		stored.PendingBalance = wallet.PendingBalance
		stored.UpdatedAt = wallet.UpdatedAt
		current.wallets[wallet.ID] = stored
		return nil
	})
}

func (store *Store) InsertEntry(_ context.Context, entry ledger.Entry) error {
	return store.write(func(current *state) error {
		current.entries = append(current.entries, entry)
		return nil
	})
}

func (store *Store) ListEntries(_ context.Context, walletID string, before time.Time, limit int) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := store.read(func(current *state) error {
		for index := len(current.entries) - 1; index >= 0; index-- {
			entry := current.entries[index]
			if entry.WalletID != walletID {
				continue
			}
			if !before.IsZero() && !entry.CreatedAt.Before(before) {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(left, right int) bool {
		return entries[left].CreatedAt.After(entries[right].CreatedAt)
	})
	return window(entries, limit, 0), nil
}

func (store *Store) CreateEscrow(_ context.Context, intent ledger.EscrowIntent) error {
	return store.write(func(current *state) error {
		if _, exists := current.escrows[intent.ID]; exists {
			return wrapStoreError(errorSubjectEscrow, errorCodeDuplicate, ledger.ErrInvalidEscrowID)
		}
		current.escrows[intent.ID] = intent
		return nil
	})
}

func (store *Store) GetEscrow(_ context.Context, escrowID string) (ledger.EscrowIntent, error) {
	var intent ledger.EscrowIntent
	err := store.read(func(current *state) error {
		found, ok := current.escrows[escrowID]
		if !ok {
			return wrapStoreError(errorSubjectEscrow, errorCodeGet, ledger.ErrEscrowNotFound)
		}
		intent = found
		return nil
	})
	return intent, err
}

// LockEscrow is GetEscrow; transactions are already serialized.
func (store *Store) LockEscrow(ctx context.Context, escrowID string) (ledger.EscrowIntent, error) {
	return store.GetEscrow(ctx, escrowID)
}

func (store *Store) UpdateEscrow(_ context.Context, intent ledger.EscrowIntent) error {
	return store.write(func(current *state) error {
		if _, ok := current.escrows[intent.ID]; !ok {
			return wrapStoreError(errorSubjectEscrow, errorCodeUpdate, ledger.ErrEscrowNotFound)
		}
		current.escrows[intent.ID] = intent
		return nil
	})
}

func (store *Store) ListEscrows(_ context.Context, filter ledger.EscrowFilter) ([]ledger.EscrowIntent, error) {
	var intents []ledger.EscrowIntent
	err := store.read(func(current *state) error {
		for _, intent := range current.escrows {
			if !matchesEscrowFilter(intent, filter) {
				continue
			}
			intents = append(intents, intent)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(intents, func(left, right int) bool {
		return newerFirst(intents[left].CreatedAt, intents[left].ID, intents[right].CreatedAt, intents[right].ID)
	})
	return window(intents, filter.Limit, filter.Offset), nil
}

func matchesEscrowFilter(intent ledger.EscrowIntent, filter ledger.EscrowFilter) bool {
	if filter.WalletID != "" {
		switch filter.Role {
		case ledger.EscrowRolePayer:
			if intent.PayerWalletID != filter.WalletID {
				return false
			}
		case ledger.EscrowRolePayee:
			if intent.PayeeWalletID != filter.WalletID {
				return false
			}
		default:
			if intent.PayerWalletID != filter.WalletID && intent.PayeeWalletID != filter.WalletID {
				return false
			}
		}
	}
	if filter.Status != "" && intent.Status != filter.Status {
		return false
	}
	if filter.ReferenceType != "" && intent.ReferenceType != filter.ReferenceType {
		return false
	}
	if filter.ReferenceID != "" && intent.ReferenceID != filter.ReferenceID {
		return false
	}
	return true
}

func (store *Store) CreatePayout(_ context.Context, payout ledger.Payout) error {
	return store.write(func(current *state) error {
		if _, exists := current.payouts[payout.ID]; exists {
			return wrapStoreError(errorSubjectPayout, errorCodeDuplicate, ledger.ErrInvalidPayoutID)
		}
		current.payouts[payout.ID] = payout
		return nil
	})
}

func (store *Store) GetPayout(_ context.Context, payoutID string) (ledger.Payout, error) {
	var payout ledger.Payout
	err := store.read(func(current *state) error {
		found, ok := current.payouts[payoutID]
		if !ok {
			return wrapStoreError(errorSubjectPayout, errorCodeGet, ledger.ErrPayoutNotFound)
		}
		payout = found
		return nil
	})
	return payout, err
}

func (store *Store) LockPayout(ctx context.Context, payoutID string) (ledger.Payout, error) {
	return store.GetPayout(ctx, payoutID)
}

func (store *Store) UpdatePayout(_ context.Context, payout ledger.Payout) error {
	return store.write(func(current *state) error {
		if _, ok := current.payouts[payout.ID]; !ok {
			return wrapStoreError(errorSubjectPayout, errorCodeUpdate, ledger.ErrPayoutNotFound)
		}
		current.payouts[payout.ID] = payout
		return nil
	})
}

func (store *Store) DeletePayout(_ context.Context, payoutID string) error {
	return store.write(func(current *state) error {
		if _, ok := current.payouts[payoutID]; !ok {
			return wrapStoreError(errorSubjectPayout, errorCodeDelete, ledger.ErrPayoutNotFound)
		}
		delete(current.payouts, payoutID)
		return nil
	})
}

func (store *Store) ListPayouts(_ context.Context, filter ledger.PayoutFilter) ([]ledger.Payout, error) {
	var payouts []ledger.Payout
	err := store.read(func(current *state) error {
		for _, payout := range current.payouts {
			if filter.WalletID != "" && payout.WalletID != filter.WalletID {
				continue
			}
			if filter.PayoutAccountID != "" && payout.PayoutAccountID != filter.PayoutAccountID {
				continue
			}
			if filter.Status != "" && payout.Status != filter.Status {
				continue
			}
			payouts = append(payouts, payout)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(payouts, func(left, right int) bool {
		return newerFirst(payouts[left].CreatedAt, payouts[left].ID, payouts[right].CreatedAt, payouts[right].ID)
	})
	return window(payouts, filter.Limit, filter.Offset), nil
}

func (store *Store) CreateRefund(_ context.Context, refund ledger.Refund) error {
	return store.write(func(current *state) error {
		if _, exists := current.refunds[refund.ID]; exists {
			return wrapStoreError(errorSubjectRefund, errorCodeDuplicate, ledger.ErrInvalidRefundID)
		}
		current.refunds[refund.ID] = refund
		return nil
	})
}

func (store *Store) GetRefund(_ context.Context, refundID string) (ledger.Refund, error) {
	var refund ledger.Refund
	err := store.read(func(current *state) error {
		found, ok := current.refunds[refundID]
		if !ok {
			return wrapStoreError(errorSubjectRefund, errorCodeGet, ledger.ErrRefundNotFound)
		}
		refund = found
		return nil
	})
	return refund, err
}

func (store *Store) LockRefund(ctx context.Context, refundID string) (ledger.Refund, error) {
	return store.GetRefund(ctx, refundID)
}

func (store *Store) UpdateRefund(_ context.Context, refund ledger.Refund) error {
	return store.write(func(current *state) error {
		if _, ok := current.refunds[refund.ID]; !ok {
			return wrapStoreError(errorSubjectRefund, errorCodeUpdate, ledger.ErrRefundNotFound)
		}
		current.refunds[refund.ID] = refund
		return nil
	})
}

func (store *Store) DeleteRefund(_ context.Context, refundID string) error {
	return store.write(func(current *state) error {
		if _, ok := current.refunds[refundID]; !ok {
			return wrapStoreError(errorSubjectRefund, errorCodeDelete, ledger.ErrRefundNotFound)
		}
		delete(current.refunds, refundID)
		return nil
	})
}

func (store *Store) ListRefunds(_ context.Context, filter ledger.RefundFilter) ([]ledger.Refund, error) {
	var refunds []ledger.Refund
	err := store.read(func(current *state) error {
		for _, refund := range current.refunds {
			if filter.EscrowID != "" && refund.EscrowID != filter.EscrowID {
				continue
			}
			if filter.Status != "" && refund.Status != filter.Status {
				continue
			}
			if filter.WalletID != "" {
				intent := current.escrows[refund.EscrowID]
				if intent.PayerWalletID != filter.WalletID && intent.PayeeWalletID != filter.WalletID {
					continue
				}
			}
			refunds = append(refunds, refund)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(refunds, func(left, right int) bool {
		return newerFirst(refunds[left].CreatedAt, refunds[left].ID, refunds[right].CreatedAt, refunds[right].ID)
	})
	return window(refunds, filter.Limit, filter.Offset), nil
}

func (store *Store) CreatePaymentMethod(_ context.Context, method ledger.PaymentMethod) error {
	return store.write(func(current *state) error {
		current.paymentMethods[method.ID] = method
		return nil
	})
}

func (store *Store) GetPaymentMethod(_ context.Context, methodID string) (ledger.PaymentMethod, error) {
	var method ledger.PaymentMethod
	err := store.read(func(current *state) error {
		found, ok := current.paymentMethods[methodID]
		if !ok {
			return wrapStoreError(errorSubjectMethod, errorCodeGet, ledger.ErrPaymentMethodNotFound)
		}
		method = found
		return nil
	})
	return method, err
}

func (store *Store) ListPaymentMethods(_ context.Context, walletID string) ([]ledger.PaymentMethod, error) {
	var methods []ledger.PaymentMethod
	err := store.read(func(current *state) error {
		for _, method := range current.paymentMethods {
			if method.WalletID == walletID {
				methods = append(methods, method)
			}
		}
		return nil
	})
	sort.Slice(methods, func(left, right int) bool {
		return newerFirst(methods[left].CreatedAt, methods[left].ID, methods[right].CreatedAt, methods[right].ID)
	})
	return methods, err
}

func (store *Store) UpdatePaymentMethod(_ context.Context, method ledger.PaymentMethod) error {
	return store.write(func(current *state) error {
		if _, ok := current.paymentMethods[method.ID]; !ok {
			return wrapStoreError(errorSubjectMethod, errorCodeUpdate, ledger.ErrPaymentMethodNotFound)
		}
		current.paymentMethods[method.ID] = method
		return nil
	})
}

func (store *Store) DeletePaymentMethod(_ context.Context, methodID string) error {
	return store.write(func(current *state) error {
		if _, ok := current.paymentMethods[methodID]; !ok {
			return wrapStoreError(errorSubjectMethod, errorCodeDelete, ledger.ErrPaymentMethodNotFound)
		}
		delete(current.paymentMethods, methodID)
		return nil
	})
}

func (store *Store) ClearDefaultPaymentMethods(_ context.Context, walletID string) error {
	return store.write(func(current *state) error {
		for methodID, method := range current.paymentMethods {
			if method.WalletID == walletID && method.IsDefault {
				method.IsDefault = false
				current.paymentMethods[methodID] = method
			}
		}
		return nil
	})
}

func (store *Store) CreatePayoutAccount(_ context.Context, account ledger.PayoutAccount) error {
	return store.write(func(current *state) error {
		current.payoutAccounts[account.ID] = account
		return nil
	})
}

func (store *Store) GetPayoutAccount(_ context.Context, accountID string) (ledger.PayoutAccount, error) {
	var account ledger.PayoutAccount
	err := store.read(func(current *state) error {
		found, ok := current.payoutAccounts[accountID]
		if !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrPayoutAccountNotFound)
		}
		account = found
		return nil
	})
	return account, err
}

func (store *Store) ListPayoutAccounts(_ context.Context, walletID string) ([]ledger.PayoutAccount, error) {
	var accounts []ledger.PayoutAccount
	err := store.read(func(current *state) error {
		for _, account := range current.payoutAccounts {
			if account.WalletID == walletID {
				accounts = append(accounts, account)
			}
		}
		return nil
	})
	sort.Slice(accounts, func(left, right int) bool {
		return newerFirst(accounts[left].CreatedAt, accounts[left].ID, accounts[right].CreatedAt, accounts[right].ID)
	})
	return accounts, err
}

func (store *Store) UpdatePayoutAccount(_ context.Context, account ledger.PayoutAccount) error {
	return store.write(func(current *state) error {
		if _, ok := current.payoutAccounts[account.ID]; !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrPayoutAccountNotFound)
		}
		current.payoutAccounts[account.ID] = account
		return nil
	})
}

func (store *Store) DeletePayoutAccount(_ context.Context, accountID string) error {
	return store.write(func(current *state) error {
		if _, ok := current.payoutAccounts[accountID]; !ok {
			return wrapStoreError(errorSubjectAccount, errorCodeDelete, ledger.ErrPayoutAccountNotFound)
		}
		delete(current.payoutAccounts, accountID)
		return nil
	})
}

func (store *Store) ClearDefaultPayoutAccounts(_ context.Context, walletID string) error {
	return store.write(func(current *state) error {
		for accountID, account := range current.payoutAccounts {
			if account.WalletID == walletID && account.IsDefault {
				account.IsDefault = false
				current.payoutAccounts[accountID] = account
			}
		}
		return nil
	})
}

func invoiceKey(entityType ledger.EntityType, entityID string) string {
	return string(entityType) + ":" + entityID
}

func (store *Store) UpsertInvoice(_ context.Context, invoice ledger.Invoice) (ledger.Invoice, error) {
	var stored ledger.Invoice
	err := store.write(func(current *state) error {
		key := invoiceKey(invoice.EntityType, invoice.EntityID)
		if existing, ok := current.invoices[key]; ok {
			stored = existing
			return nil
		}
		current.invoices[key] = invoice
		stored = invoice
		return nil
	})
	return stored, err
}

func (store *Store) GetInvoice(_ context.Context, entityType ledger.EntityType, entityID string) (ledger.Invoice, error) {
	var invoice ledger.Invoice
	err := store.read(func(current *state) error {
		found, ok := current.invoices[invoiceKey(entityType, entityID)]
		if !ok {
			return wrapStoreError(errorSubjectInvoice, errorCodeGet, ledger.ErrInvoiceNotFound)
		}
		invoice = found
		return nil
	})
	return invoice, err
}

func idempotencyKey(scope string, key string) string {
	return scope + "\x00" + key
}

func (store *Store) GetIdempotencyRecord(_ context.Context, scope string, key string) (ledger.IdempotencyRecord, error) {
	var record ledger.IdempotencyRecord
	err := store.read(func(current *state) error {
		found, ok := current.idempotency[idempotencyKey(scope, key)]
		if !ok {
			return wrapStoreError(errorSubjectIdempotency, errorCodeGet, ledger.ErrUnknownIdempotencyKey)
		}
		record = found
		return nil
	})
	return record, err
}

func (store *Store) InsertIdempotencyRecord(_ context.Context, record ledger.IdempotencyRecord) error {
	return store.write(func(current *state) error {
		composite := idempotencyKey(record.Scope, record.Key)
		if _, exists := current.idempotency[composite]; exists {
			return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
		}
		current.idempotency[composite] = record
		return nil
	})
}

func newerFirst(leftCreated time.Time, leftID string, rightCreated time.Time, rightID string) bool {
	if !leftCreated.Equal(rightCreated) {
		return leftCreated.After(rightCreated)
	}
	return leftID > rightID
}

func window[T any](items []T, limit int, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
