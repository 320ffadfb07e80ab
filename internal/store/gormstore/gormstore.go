package gormstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	lockStrengthUpdate      = "UPDATE"
	errorOperationStore     = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectEntry       = "entry"
	errorSubjectEscrow      = "escrow"
	errorSubjectPayout      = "payout"
	errorSubjectRefund      = "refund"
	errorSubjectMethod      = "payment_method"
	errorSubjectAccount     = "payout_account"
	errorSubjectInvoice     = "invoice"
	errorSubjectIdempotency = "idempotency"
	errorCodeCreate         = "create"
	errorCodeDelete         = "delete"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates every table the store uses.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateWallet(ctx context.Context, userID ledger.UserID, currency ledger.Currency) (ledger.Wallet, error) {
	nowUTC := time.Now().UTC()
	candidate := Wallet{
		ID:               uuid.NewString(),
		UserID:           userID.String(),
		Currency:         currency.String(),
		AvailableBalance: decimal.Zero,
		PendingBalance:   decimal.Zero,
		CreatedAt:        nowUTC,
		UpdatedAt:        nowUTC,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&candidate).Error
	if err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	var model Wallet
	if err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error; err != nil {
		return ledger.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeLookup, err)
	}
	return mapWallet(model), nil
}

func (store *Store) FindWalletByUser(ctx context.Context, userID ledger.UserID) (ledger.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if err != nil {
		return ledger.Wallet{}, notFoundOr(errorSubjectWallet, errorCodeGet, err, ledger.ErrWalletNotFound)
	}
	return mapWallet(model), nil
}

func (store *Store) GetWallet(ctx context.Context, walletID string) (ledger.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("id = ?", walletID).Take(&model).Error
	if err != nil {
		return ledger.Wallet{}, notFoundOr(errorSubjectWallet, errorCodeGet, err, ledger.ErrWalletNotFound)
	}
	return mapWallet(model), nil
}

// LockWallets takes row locks in ascending id order so concurrent transfers between
// the same wallets cannot deadlock.
func (store *Store) LockWallets(ctx context.Context, walletIDs ...string) (map[string]ledger.Wallet, error) {
	ordered := append([]string(nil), walletIDs...)
	sort.Strings(ordered)
	locked := make(map[string]ledger.Wallet, len(ordered))
	for _, walletID := range ordered {
		if _, seen := locked[walletID]; seen {
			continue
		}
		var model Wallet
		err := store.db.WithContext(ctx).
			Clauses(clause.Locking{Strength: lockStrengthUpdate}).
			Where("id = ?", walletID).
			Take(&model).Error
		if err != nil {
			return nil, notFoundOr(errorSubjectWallet, errorCodeLock, err, ledger.ErrWalletNotFound)
		}
		locked[walletID] = mapWallet(model)
	}
	return locked, nil
}

func (store *Store) UpdateWalletBalances(ctx context.Context, wallet ledger.Wallet) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"available_balance": wallet.AvailableBalance,
			"pending_balance":   wallet.PendingBalance,
			"updated_at":        wallet.UpdatedAt,
		})
	return checkUpdated(errorSubjectWallet, result, ledger.ErrWalletNotFound)
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	model := LedgerEntry{
		ID:             entry.ID,
		WalletID:       entry.WalletID,
		EntityType:     string(entry.EntityType),
		EntityID:       entry.EntityID,
		EntryType:      string(entry.EntryType),
		Category:       string(entry.Category),
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		AvailableDelta: entry.AvailableDelta,
		PendingDelta:   entry.PendingDelta,
		BalanceAfter:   entry.BalanceAfter,
		PendingAfter:   entry.PendingAfter,
		Description:    entry.Description,
		Metadata:       datatypesJSON(entry.Metadata.String()),
		CreatedAt:      entry.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, walletID string, before time.Time, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("wallet_id = ?", walletID)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before.UTC())
	}
	var rows []LedgerEntry
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CreateEscrow(ctx context.Context, intent ledger.EscrowIntent) error {
	model := escrowModel(intent)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEscrow, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetEscrow(ctx context.Context, escrowID string) (ledger.EscrowIntent, error) {
	return store.findEscrow(store.db.WithContext(ctx), escrowID, errorCodeGet)
}

func (store *Store) LockEscrow(ctx context.Context, escrowID string) (ledger.EscrowIntent, error) {
	return store.findEscrow(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), escrowID, errorCodeLock)
}

func (store *Store) findEscrow(query *gorm.DB, escrowID string, code string) (ledger.EscrowIntent, error) {
	var model EscrowIntent
	if err := query.Where("id = ?", escrowID).Take(&model).Error; err != nil {
		return ledger.EscrowIntent{}, notFoundOr(errorSubjectEscrow, code, err, ledger.ErrEscrowNotFound)
	}
	intent, err := mapEscrow(model)
	if err != nil {
		return ledger.EscrowIntent{}, wrapStoreError(errorSubjectEscrow, errorCodeInvalid, err)
	}
	return intent, nil
}

func (store *Store) UpdateEscrow(ctx context.Context, intent ledger.EscrowIntent) error {
	model := escrowModel(intent)
	result := store.db.WithContext(ctx).Model(&model).Select("*").Updates(&model)
	return checkUpdated(errorSubjectEscrow, result, ledger.ErrEscrowNotFound)
}

func (store *Store) ListEscrows(ctx context.Context, filter ledger.EscrowFilter) ([]ledger.EscrowIntent, error) {
	query := store.db.WithContext(ctx).Model(&EscrowIntent{})
	if filter.WalletID != "" {
		switch filter.Role {
		case ledger.EscrowRolePayer:
			query = query.Where("payer_wallet_id = ?", filter.WalletID)
		case ledger.EscrowRolePayee:
			query = query.Where("payee_wallet_id = ?", filter.WalletID)
		default:
			query = query.Where("payer_wallet_id = ? OR payee_wallet_id = ?", filter.WalletID, filter.WalletID)
		}
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.ReferenceType != "" {
		query = query.Where("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		query = query.Where("reference_id = ?", filter.ReferenceID)
	}
	var rows []EscrowIntent
	if err := paginate(query, "", filter.Limit, filter.Offset).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEscrow, errorCodeList, err)
	}
	intents := make([]ledger.EscrowIntent, 0, len(rows))
	for _, row := range rows {
		intent, err := mapEscrow(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEscrow, errorCodeInvalid, err)
		}
		intents = append(intents, intent)
	}
	return intents, nil
}

func (store *Store) CreatePayout(ctx context.Context, payout ledger.Payout) error {
	model := payoutModel(payout)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectPayout, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayout(ctx context.Context, payoutID string) (ledger.Payout, error) {
	return store.findPayout(store.db.WithContext(ctx), payoutID, errorCodeGet)
}

func (store *Store) LockPayout(ctx context.Context, payoutID string) (ledger.Payout, error) {
	return store.findPayout(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), payoutID, errorCodeLock)
}

func (store *Store) findPayout(query *gorm.DB, payoutID string, code string) (ledger.Payout, error) {
	var model Payout
	if err := query.Where("id = ?", payoutID).Take(&model).Error; err != nil {
		return ledger.Payout{}, notFoundOr(errorSubjectPayout, code, err, ledger.ErrPayoutNotFound)
	}
	payout, err := mapPayout(model)
	if err != nil {
		return ledger.Payout{}, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
	}
	return payout, nil
}

func (store *Store) UpdatePayout(ctx context.Context, payout ledger.Payout) error {
	model := payoutModel(payout)
	result := store.db.WithContext(ctx).Model(&model).Select("*").Updates(&model)
	return checkUpdated(errorSubjectPayout, result, ledger.ErrPayoutNotFound)
}

func (store *Store) DeletePayout(ctx context.Context, payoutID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", payoutID).Delete(&Payout{})
	return checkDeleted(errorSubjectPayout, result, ledger.ErrPayoutNotFound)
}

func (store *Store) ListPayouts(ctx context.Context, filter ledger.PayoutFilter) ([]ledger.Payout, error) {
	query := store.db.WithContext(ctx).Model(&Payout{})
	if filter.WalletID != "" {
		query = query.Where("wallet_id = ?", filter.WalletID)
	}
	if filter.PayoutAccountID != "" {
		query = query.Where("payout_account_id = ?", filter.PayoutAccountID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	var rows []Payout
	if err := paginate(query, "", filter.Limit, filter.Offset).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectPayout, errorCodeList, err)
	}
	payouts := make([]ledger.Payout, 0, len(rows))
	for _, row := range rows {
		payout, err := mapPayout(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayout, errorCodeInvalid, err)
		}
		payouts = append(payouts, payout)
	}
	return payouts, nil
}

func (store *Store) CreateRefund(ctx context.Context, refund ledger.Refund) error {
	model := refundModel(refund)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRefund, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRefund(ctx context.Context, refundID string) (ledger.Refund, error) {
	return store.findRefund(store.db.WithContext(ctx), refundID, errorCodeGet)
}

func (store *Store) LockRefund(ctx context.Context, refundID string) (ledger.Refund, error) {
	return store.findRefund(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate}), refundID, errorCodeLock)
}

func (store *Store) findRefund(query *gorm.DB, refundID string, code string) (ledger.Refund, error) {
	var model Refund
	if err := query.Where("id = ?", refundID).Take(&model).Error; err != nil {
		return ledger.Refund{}, notFoundOr(errorSubjectRefund, code, err, ledger.ErrRefundNotFound)
	}
	refund, err := mapRefund(model)
	if err != nil {
		return ledger.Refund{}, wrapStoreError(errorSubjectRefund, errorCodeInvalid, err)
	}
	return refund, nil
}

func (store *Store) UpdateRefund(ctx context.Context, refund ledger.Refund) error {
	model := refundModel(refund)
	result := store.db.WithContext(ctx).Model(&model).Select("*").Updates(&model)
	return checkUpdated(errorSubjectRefund, result, ledger.ErrRefundNotFound)
}

func (store *Store) DeleteRefund(ctx context.Context, refundID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", refundID).Delete(&Refund{})
	return checkDeleted(errorSubjectRefund, result, ledger.ErrRefundNotFound)
}

func (store *Store) ListRefunds(ctx context.Context, filter ledger.RefundFilter) ([]ledger.Refund, error) {
	query := store.db.WithContext(ctx).Model(&Refund{})
	if filter.WalletID != "" {
		query = query.
			Joins("JOIN escrow_intents ON escrow_intents.id = refunds.escrow_id").
			Where("escrow_intents.payer_wallet_id = ? OR escrow_intents.payee_wallet_id = ?", filter.WalletID, filter.WalletID)
	}
	if filter.EscrowID != "" {
		query = query.Where("refunds.escrow_id = ?", filter.EscrowID)
	}
	if filter.Status != "" {
		query = query.Where("refunds.status = ?", string(filter.Status))
	}
	var rows []Refund
	query = paginate(query.Select("refunds.*"), "refunds.", filter.Limit, filter.Offset)
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRefund, errorCodeList, err)
	}
	refunds := make([]ledger.Refund, 0, len(rows))
	for _, row := range rows {
		refund, err := mapRefund(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRefund, errorCodeInvalid, err)
		}
		refunds = append(refunds, refund)
	}
	return refunds, nil
}

func (store *Store) CreatePaymentMethod(ctx context.Context, method ledger.PaymentMethod) error {
	model := paymentMethodModel(method)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectMethod, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPaymentMethod(ctx context.Context, methodID string) (ledger.PaymentMethod, error) {
	var model PaymentMethod
	if err := store.db.WithContext(ctx).Where("id = ?", methodID).Take(&model).Error; err != nil {
		return ledger.PaymentMethod{}, notFoundOr(errorSubjectMethod, errorCodeGet, err, ledger.ErrPaymentMethodNotFound)
	}
	method, err := mapPaymentMethod(model)
	if err != nil {
		return ledger.PaymentMethod{}, wrapStoreError(errorSubjectMethod, errorCodeInvalid, err)
	}
	return method, nil
}

func (store *Store) ListPaymentMethods(ctx context.Context, walletID string) ([]ledger.PaymentMethod, error) {
	var rows []PaymentMethod
	err := store.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMethod, errorCodeList, err)
	}
	methods := make([]ledger.PaymentMethod, 0, len(rows))
	for _, row := range rows {
		method, err := mapPaymentMethod(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMethod, errorCodeInvalid, err)
		}
		methods = append(methods, method)
	}
	return methods, nil
}

func (store *Store) UpdatePaymentMethod(ctx context.Context, method ledger.PaymentMethod) error {
	model := paymentMethodModel(method)
	result := store.db.WithContext(ctx).Model(&model).Select("*").Updates(&model)
	return checkUpdated(errorSubjectMethod, result, ledger.ErrPaymentMethodNotFound)
}

func (store *Store) DeletePaymentMethod(ctx context.Context, methodID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", methodID).Delete(&PaymentMethod{})
	return checkDeleted(errorSubjectMethod, result, ledger.ErrPaymentMethodNotFound)
}

func (store *Store) ClearDefaultPaymentMethods(ctx context.Context, walletID string) error {
	err := store.db.WithContext(ctx).
		Model(&PaymentMethod{}).
		Where("wallet_id = ? AND is_default = ?", walletID, true).
		Update("is_default", false).Error
	if err != nil {
		return wrapStoreError(errorSubjectMethod, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) CreatePayoutAccount(ctx context.Context, account ledger.PayoutAccount) error {
	model := payoutAccountModel(account)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPayoutAccount(ctx context.Context, accountID string) (ledger.PayoutAccount, error) {
	var model PayoutAccount
	if err := store.db.WithContext(ctx).Where("id = ?", accountID).Take(&model).Error; err != nil {
		return ledger.PayoutAccount{}, notFoundOr(errorSubjectAccount, errorCodeGet, err, ledger.ErrPayoutAccountNotFound)
	}
	account, err := mapPayoutAccount(model)
	if err != nil {
		return ledger.PayoutAccount{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) ListPayoutAccounts(ctx context.Context, walletID string) ([]ledger.PayoutAccount, error) {
	var rows []PayoutAccount
	err := store.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.PayoutAccount, 0, len(rows))
	for _, row := range rows {
		account, err := mapPayoutAccount(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) UpdatePayoutAccount(ctx context.Context, account ledger.PayoutAccount) error {
	model := payoutAccountModel(account)
	result := store.db.WithContext(ctx).Model(&model).Select("*").Updates(&model)
	return checkUpdated(errorSubjectAccount, result, ledger.ErrPayoutAccountNotFound)
}

func (store *Store) DeletePayoutAccount(ctx context.Context, accountID string) error {
	result := store.db.WithContext(ctx).Where("id = ?", accountID).Delete(&PayoutAccount{})
	return checkDeleted(errorSubjectAccount, result, ledger.ErrPayoutAccountNotFound)
}

func (store *Store) ClearDefaultPayoutAccounts(ctx context.Context, walletID string) error {
	err := store.db.WithContext(ctx).
		Model(&PayoutAccount{}).
		Where("wallet_id = ? AND is_default = ?", walletID, true).
		Update("is_default", false).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) UpsertInvoice(ctx context.Context, invoice ledger.Invoice) (ledger.Invoice, error) {
	model := Invoice{
		ID:            invoice.ID,
		EntityType:    string(invoice.EntityType),
		EntityID:      invoice.EntityID,
		PayerWalletID: invoice.PayerWalletID,
		PayeeWalletID: invoice.PayeeWalletID,
		Currency:      invoice.Currency,
		AmountDue:     invoice.AmountDue,
		AmountPaid:    invoice.AmountPaid,
		Status:        invoice.Status,
		IssuedAt:      invoice.IssuedAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return ledger.Invoice{}, wrapStoreError(errorSubjectInvoice, errorCodeCreate, err)
	}
	return store.GetInvoice(ctx, invoice.EntityType, invoice.EntityID)
}

func (store *Store) GetInvoice(ctx context.Context, entityType ledger.EntityType, entityID string) (ledger.Invoice, error) {
	var model Invoice
	err := store.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", string(entityType), entityID).
		Take(&model).Error
	if err != nil {
		return ledger.Invoice{}, notFoundOr(errorSubjectInvoice, errorCodeGet, err, ledger.ErrInvoiceNotFound)
	}
	return ledger.Invoice{
		ID:            model.ID,
		EntityType:    ledger.EntityType(model.EntityType),
		EntityID:      model.EntityID,
		PayerWalletID: model.PayerWalletID,
		PayeeWalletID: model.PayeeWalletID,
		Currency:      model.Currency,
		AmountDue:     model.AmountDue,
		AmountPaid:    model.AmountPaid,
		Status:        model.Status,
		IssuedAt:      model.IssuedAt.UTC(),
	}, nil
}

func (store *Store) GetIdempotencyRecord(ctx context.Context, scope string, key string) (ledger.IdempotencyRecord, error) {
	var model IdempotencyRecord
	err := store.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ?", scope, key).
		Take(&model).Error
	if err != nil {
		return ledger.IdempotencyRecord{}, notFoundOr(errorSubjectIdempotency, errorCodeGet, err, ledger.ErrUnknownIdempotencyKey)
	}
	return ledger.IdempotencyRecord{
		Scope:       model.Scope,
		Key:         model.Key,
		Fingerprint: model.Fingerprint,
		EntityType:  ledger.EntityType(model.EntityType),
		EntityID:    model.EntityID,
		CreatedAt:   model.CreatedAt.UTC(),
	}, nil
}

func (store *Store) InsertIdempotencyRecord(ctx context.Context, record ledger.IdempotencyRecord) error {
	model := IdempotencyRecord{
		Scope:       record.Scope,
		Key:         record.Key,
		Fingerprint: record.Fingerprint,
		EntityType:  string(record.EntityType),
		EntityID:    record.EntityID,
		CreatedAt:   record.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectIdempotency, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectIdempotency, errorCodeInsert, err)
	}
	return nil
}

func paginate(query *gorm.DB, columnPrefix string, limit int, offset int) *gorm.DB {
	query = query.Order(columnPrefix + "created_at DESC").Order(columnPrefix + "id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

func checkUpdated(subject string, result *gorm.DB, missing error) error {
	if result.Error != nil {
		return wrapStoreError(subject, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(subject, errorCodeUpdate, missing)
	}
	return nil
}

func checkDeleted(subject string, result *gorm.DB, missing error) error {
	if result.Error != nil {
		return wrapStoreError(subject, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(subject, errorCodeDelete, missing)
	}
	return nil
}

func notFoundOr(subject string, code string, err error, missing error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(subject, code, missing)
	}
	return wrapStoreError(subject, code, err)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
