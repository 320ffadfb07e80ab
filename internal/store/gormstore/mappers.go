package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
)

func mapWallet(model Wallet) ledger.Wallet {
	return ledger.Wallet{
		ID:               model.ID,
		UserID:           model.UserID,
		Currency:         model.Currency,
		AvailableBalance: model.AvailableBalance,
		PendingBalance:   model.PendingBalance,
		CreatedAt:        model.CreatedAt.UTC(),
		UpdatedAt:        model.UpdatedAt.UTC(),
	}
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		ID:             row.ID,
		WalletID:       row.WalletID,
		EntityType:     ledger.EntityType(row.EntityType),
		EntityID:       row.EntityID,
		EntryType:      ledger.EntryType(row.EntryType),
		Category:       ledger.EntryCategory(row.Category),
		Amount:         row.Amount,
		Currency:       row.Currency,
		AvailableDelta: row.AvailableDelta,
		PendingDelta:   row.PendingDelta,
		BalanceAfter:   row.BalanceAfter,
		PendingAfter:   row.PendingAfter,
		Description:    row.Description,
		Metadata:       metadata,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}

func escrowModel(intent ledger.EscrowIntent) EscrowIntent {
	return EscrowIntent{
		ID:             intent.ID,
		PayerWalletID:  intent.PayerWalletID,
		PayeeWalletID:  intent.PayeeWalletID,
		ReferenceType:  intent.ReferenceType,
		ReferenceID:    intent.ReferenceID,
		Currency:       intent.Currency,
		Amount:         intent.Amount,
		CapturedAmount: intent.CapturedAmount,
		RefundedAmount: intent.RefundedAmount,
		FeeAmount:      intent.FeeAmount,
		Status:         string(intent.Status),
		IsOnHold:       intent.IsOnHold,
		HoldReason:     intent.HoldReason,
		HeldBy:         intent.HeldBy,
		PreviousStatus: string(intent.PreviousStatus),
		IdempotencyKey: intent.IdempotencyKey,
		Metadata:       datatypesJSON(intent.Metadata.String()),
		AuthorizedAt:   intent.AuthorizedAt,
		CapturedAt:     intent.CapturedAt,
		CancelledAt:    intent.CancelledAt,
		HeldAt:         intent.HeldAt,
		ReleasedAt:     intent.ReleasedAt,
		RefundedAt:     intent.RefundedAt,
		CreatedAt:      intent.CreatedAt,
		UpdatedAt:      intent.UpdatedAt,
	}
}

func mapEscrow(model EscrowIntent) (ledger.EscrowIntent, error) {
	status, err := ledger.ParseEscrowStatus(model.Status)
	if err != nil {
		return ledger.EscrowIntent{}, err
	}
	var previousStatus ledger.EscrowStatus
	if model.PreviousStatus != "" {
		previousStatus, err = ledger.ParseEscrowStatus(model.PreviousStatus)
		if err != nil {
			return ledger.EscrowIntent{}, err
		}
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.EscrowIntent{}, err
	}
	return ledger.EscrowIntent{
		ID:             model.ID,
		PayerWalletID:  model.PayerWalletID,
		PayeeWalletID:  model.PayeeWalletID,
		ReferenceType:  model.ReferenceType,
		ReferenceID:    model.ReferenceID,
		Currency:       model.Currency,
		Amount:         model.Amount,
		CapturedAmount: model.CapturedAmount,
		RefundedAmount: model.RefundedAmount,
		FeeAmount:      model.FeeAmount,
		Status:         status,
		IsOnHold:       model.IsOnHold,
		HoldReason:     model.HoldReason,
		HeldBy:         model.HeldBy,
		PreviousStatus: previousStatus,
		IdempotencyKey: model.IdempotencyKey,
		Metadata:       metadata,
		AuthorizedAt:   utcPointer(model.AuthorizedAt),
		CapturedAt:     utcPointer(model.CapturedAt),
		CancelledAt:    utcPointer(model.CancelledAt),
		HeldAt:         utcPointer(model.HeldAt),
		ReleasedAt:     utcPointer(model.ReleasedAt),
		RefundedAt:     utcPointer(model.RefundedAt),
		CreatedAt:      model.CreatedAt.UTC(),
		UpdatedAt:      model.UpdatedAt.UTC(),
	}, nil
}

func payoutModel(payout ledger.Payout) Payout {
	return Payout{
		ID:              payout.ID,
		WalletID:        payout.WalletID,
		PayoutAccountID: payout.PayoutAccountID,
		Amount:          payout.Amount,
		Currency:        payout.Currency,
		Status:          string(payout.Status),
		FailureCode:     payout.FailureCode,
		FailureMessage:  payout.FailureMessage,
		InitiatedAt:     payout.InitiatedAt,
		ProcessedAt:     payout.ProcessedAt,
		IdempotencyKey:  payout.IdempotencyKey,
		Metadata:        datatypesJSON(payout.Metadata.String()),
		CreatedAt:       payout.CreatedAt,
		UpdatedAt:       payout.UpdatedAt,
	}
}

func mapPayout(model Payout) (ledger.Payout, error) {
	status, err := ledger.ParsePayoutStatus(model.Status)
	if err != nil {
		return ledger.Payout{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.Payout{}, err
	}
	return ledger.Payout{
		ID:              model.ID,
		WalletID:        model.WalletID,
		PayoutAccountID: model.PayoutAccountID,
		Amount:          model.Amount,
		Currency:        model.Currency,
		Status:          status,
		FailureCode:     model.FailureCode,
		FailureMessage:  model.FailureMessage,
		InitiatedAt:     model.InitiatedAt.UTC(),
		ProcessedAt:     utcPointer(model.ProcessedAt),
		IdempotencyKey:  model.IdempotencyKey,
		Metadata:        metadata,
		CreatedAt:       model.CreatedAt.UTC(),
		UpdatedAt:       model.UpdatedAt.UTC(),
	}, nil
}

func refundModel(refund ledger.Refund) Refund {
	return Refund{
		ID:             refund.ID,
		EscrowID:       refund.EscrowID,
		Amount:         refund.Amount,
		Currency:       refund.Currency,
		Status:         string(refund.Status),
		Reason:         refund.Reason,
		ProcessedAt:    refund.ProcessedAt,
		IdempotencyKey: refund.IdempotencyKey,
		Metadata:       datatypesJSON(refund.Metadata.String()),
		CreatedAt:      refund.CreatedAt,
		UpdatedAt:      refund.UpdatedAt,
	}
}

func mapRefund(model Refund) (ledger.Refund, error) {
	status, err := ledger.ParseRefundStatus(model.Status)
	if err != nil {
		return ledger.Refund{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.Refund{}, err
	}
	return ledger.Refund{
		ID:             model.ID,
		EscrowID:       model.EscrowID,
		Amount:         model.Amount,
		Currency:       model.Currency,
		Status:         status,
		Reason:         model.Reason,
		ProcessedAt:    utcPointer(model.ProcessedAt),
		IdempotencyKey: model.IdempotencyKey,
		Metadata:       metadata,
		CreatedAt:      model.CreatedAt.UTC(),
		UpdatedAt:      model.UpdatedAt.UTC(),
	}, nil
}

func paymentMethodModel(method ledger.PaymentMethod) PaymentMethod {
	return PaymentMethod{
		ID:          method.ID,
		WalletID:    method.WalletID,
		Type:        string(method.Type),
		Provider:    method.Provider,
		ProviderRef: method.ProviderRef,
		Brand:       method.Brand,
		Last4:       method.Last4,
		ExpMonth:    method.ExpMonth,
		ExpYear:     method.ExpYear,
		IsDefault:   method.IsDefault,
		Metadata:    datatypesJSON(method.Metadata.String()),
		CreatedAt:   method.CreatedAt,
	}
}

func mapPaymentMethod(model PaymentMethod) (ledger.PaymentMethod, error) {
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.PaymentMethod{}, err
	}
	return ledger.PaymentMethod{
		ID:          model.ID,
		WalletID:    model.WalletID,
		Type:        ledger.InstrumentType(model.Type),
		Provider:    model.Provider,
		ProviderRef: model.ProviderRef,
		Brand:       model.Brand,
		Last4:       model.Last4,
		ExpMonth:    model.ExpMonth,
		ExpYear:     model.ExpYear,
		IsDefault:   model.IsDefault,
		Metadata:    metadata,
		CreatedAt:   model.CreatedAt.UTC(),
	}, nil
}

func payoutAccountModel(account ledger.PayoutAccount) PayoutAccount {
	return PayoutAccount{
		ID:          account.ID,
		WalletID:    account.WalletID,
		Type:        string(account.Type),
		Provider:    account.Provider,
		ProviderRef: account.ProviderRef,
		HolderName:  account.HolderName,
		Last4:       account.Last4,
		Currency:    account.Currency,
		IsDefault:   account.IsDefault,
		Metadata:    datatypesJSON(account.Metadata.String()),
		CreatedAt:   account.CreatedAt,
	}
}

func mapPayoutAccount(model PayoutAccount) (ledger.PayoutAccount, error) {
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.PayoutAccount{}, err
	}
	return ledger.PayoutAccount{
		ID:          model.ID,
		WalletID:    model.WalletID,
		Type:        ledger.InstrumentType(model.Type),
		Provider:    model.Provider,
		ProviderRef: model.ProviderRef,
		HolderName:  model.HolderName,
		Last4:       model.Last4,
		Currency:    model.Currency,
		IsDefault:   model.IsDefault,
		Metadata:    metadata,
		CreatedAt:   model.CreatedAt.UTC(),
	}, nil
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	normalized := value.UTC()
	return &normalized
}
