package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

// PaymentMethodRequest describes a funding instrument to attach.
type PaymentMethodRequest struct {
	Type        InstrumentType
	Provider    string
	ProviderRef string
	Brand       string
	Last4       string
	ExpMonth    int
	ExpYear     int
	MakeDefault bool
	Metadata    MetadataJSON
}

// PaymentMethodPatch updates a payment method. Nil fields are left unchanged.
type PaymentMethodPatch struct {
	MakeDefault bool
	ExpMonth    *int
	ExpYear     *int
	Metadata    *MetadataJSON
}

// PayoutAccountRequest describes a disbursement destination to attach.
type PayoutAccountRequest struct {
	Type        InstrumentType
	Provider    string
	ProviderRef string
	HolderName  string
	Last4       string
	Currency    Currency
	MakeDefault bool
	Metadata    MetadataJSON
}

// PayoutAccountPatch updates a payout account. Nil fields are left unchanged.
type PayoutAccountPatch struct {
	MakeDefault bool
	HolderName  *string
	Metadata    *MetadataJSON
}

func validateLast4(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !last4Pattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: last4 must be four digits", ErrInvalidInstrument)
	}
	return trimmed, nil
}

func validateExpiry(month int, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: exp_month must be between 1 and 12", ErrInvalidInstrument)
	}
	if year <= 0 {
		return fmt.Errorf("%w: exp_year is required", ErrInvalidInstrument)
	}
	return nil
}

func (request PaymentMethodRequest) validate() (PaymentMethodRequest, error) {
	switch request.Type {
	case InstrumentCard:
		if err := validateExpiry(request.ExpMonth, request.ExpYear); err != nil {
			return PaymentMethodRequest{}, err
		}
	case InstrumentBankAccount:
	default:
		return PaymentMethodRequest{}, fmt.Errorf("%w: unsupported payment method type %q", ErrInvalidInstrument, request.Type)
	}
	request.Provider = strings.TrimSpace(request.Provider)
	if request.Provider == "" {
		return PaymentMethodRequest{}, fmt.Errorf("%w: provider is required", ErrInvalidInstrument)
	}
	last4, err := validateLast4(request.Last4)
	if err != nil {
		return PaymentMethodRequest{}, err
	}
	request.Last4 = last4
	request.ProviderRef = strings.TrimSpace(request.ProviderRef)
	request.Brand = strings.TrimSpace(request.Brand)
	return request, nil
}

func (request PayoutAccountRequest) validate() (PayoutAccountRequest, error) {
	switch request.Type {
	case InstrumentBankAccount, InstrumentDebitCard:
	default:
		return PayoutAccountRequest{}, fmt.Errorf("%w: unsupported payout account type %q", ErrInvalidInstrument, request.Type)
	}
	request.Provider = strings.TrimSpace(request.Provider)
	if request.Provider == "" {
		return PayoutAccountRequest{}, fmt.Errorf("%w: provider is required", ErrInvalidInstrument)
	}
	request.HolderName = strings.TrimSpace(request.HolderName)
	if request.HolderName == "" {
		return PayoutAccountRequest{}, fmt.Errorf("%w: holder name is required", ErrInvalidInstrument)
	}
	last4, err := validateLast4(request.Last4)
	if err != nil {
		return PayoutAccountRequest{}, err
	}
	request.Last4 = last4
	request.ProviderRef = strings.TrimSpace(request.ProviderRef)
	return request, nil
}

// AddPaymentMethod attaches a payment method to the actor's wallet.
// The first method of a wallet becomes its default.
func (manager *WalletManager) AddPaymentMethod(ctx context.Context, actor Actor, request PaymentMethodRequest) (PaymentMethod, error) {
	var method PaymentMethod
	operationError := func() error {
		validated, err := request.validate()
		if err != nil {
			return err
		}
		return manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			wallet, err := manager.ensureWallet(ctx, transactionStore, actor.UserID)
			if err != nil {
				return err
			}
			if _, err := lockWallet(ctx, transactionStore, wallet.ID); err != nil {
				return err
			}
			existing, err := transactionStore.ListPaymentMethods(ctx, wallet.ID)
			if err != nil {
				return err
			}
			makeDefault := validated.MakeDefault || len(existing) == 0
			if makeDefault {
				if err := transactionStore.ClearDefaultPaymentMethods(ctx, wallet.ID); err != nil {
					return err
				}
			}
			method = PaymentMethod{
				ID:          manager.idFn(),
				WalletID:    wallet.ID,
				Type:        validated.Type,
				Provider:    validated.Provider,
				ProviderRef: validated.ProviderRef,
				Brand:       validated.Brand,
				Last4:       validated.Last4,
				ExpMonth:    validated.ExpMonth,
				ExpYear:     validated.ExpYear,
				IsDefault:   makeDefault,
				Metadata:    validated.Metadata,
				CreatedAt:   manager.now(),
			}
			return transactionStore.CreatePaymentMethod(ctx, method)
		})
	}()
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPaymentMethodAdd,
		Actor:      actor.UserID.String(),
		EntityType: EntityPaymentMethod,
		EntityID:   method.ID,
		Error:      operationError,
	})
	if operationError != nil {
		return PaymentMethod{}, operationError
	}
	return method, nil
}

// ListPaymentMethods returns the actor's payment methods, newest first.
func (manager *WalletManager) ListPaymentMethods(ctx context.Context, actor Actor) ([]PaymentMethod, error) {
	wallet, err := manager.EnsureWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return manager.store.ListPaymentMethods(ctx, wallet.ID)
}

// GetPaymentMethod returns a payment method owned by the actor.
func (manager *WalletManager) GetPaymentMethod(ctx context.Context, actor Actor, methodID InstrumentID) (PaymentMethod, error) {
	return manager.ownedPaymentMethod(ctx, manager.store, actor, methodID)
}

func (manager *WalletManager) ownedPaymentMethod(ctx context.Context, store Store, actor Actor, methodID InstrumentID) (PaymentMethod, error) {
	method, err := store.GetPaymentMethod(ctx, methodID.String())
	if err != nil {
		return PaymentMethod{}, err
	}
	if _, err := manager.walletForActor(ctx, store, actor, method.WalletID); err != nil {
		return PaymentMethod{}, err
	}
	return method, nil
}

// UpdatePaymentMethod applies patch to a payment method owned by the actor.
func (manager *WalletManager) UpdatePaymentMethod(ctx context.Context, actor Actor, methodID InstrumentID, patch PaymentMethodPatch) (PaymentMethod, error) {
	var method PaymentMethod
	operationError := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := manager.ownedPaymentMethod(ctx, transactionStore, actor, methodID)
		if err != nil {
			return err
		}
		if _, err := lockWallet(ctx, transactionStore, current.WalletID); err != nil {
			return err
		}
		if patch.ExpMonth != nil || patch.ExpYear != nil {
			month, year := current.ExpMonth, current.ExpYear
			if patch.ExpMonth != nil {
				month = *patch.ExpMonth
			}
			if patch.ExpYear != nil {
				year = *patch.ExpYear
			}
			if err := validateExpiry(month, year); err != nil {
				return err
			}
			current.ExpMonth, current.ExpYear = month, year
		}
		if patch.Metadata != nil {
			current.Metadata = current.Metadata.Merge(*patch.Metadata)
		}
		if patch.MakeDefault && !current.IsDefault {
			if err := transactionStore.ClearDefaultPaymentMethods(ctx, current.WalletID); err != nil {
				return err
			}
			current.IsDefault = true
		}
		if err := transactionStore.UpdatePaymentMethod(ctx, current); err != nil {
			return err
		}
		method = current
		return nil
	})
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPaymentMethodUpdate,
		Actor:      actor.UserID.String(),
		EntityType: EntityPaymentMethod,
		EntityID:   methodID.String(),
		Error:      operationError,
	})
	if operationError != nil {
		return PaymentMethod{}, operationError
	}
	return method, nil
}

// DeletePaymentMethod removes a payment method. Deleting the default promotes the
// most recently created remaining method.
func (manager *WalletManager) DeletePaymentMethod(ctx context.Context, actor Actor, methodID InstrumentID) error {
	operationError := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		method, err := manager.ownedPaymentMethod(ctx, transactionStore, actor, methodID)
		if err != nil {
			return err
		}
		if _, err := lockWallet(ctx, transactionStore, method.WalletID); err != nil {
			return err
		}
		if err := transactionStore.DeletePaymentMethod(ctx, method.ID); err != nil {
			return err
		}
		if !method.IsDefault {
			return nil
		}
		remaining, err := transactionStore.ListPaymentMethods(ctx, method.WalletID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		promoted := remaining[0]
		promoted.IsDefault = true
		return transactionStore.UpdatePaymentMethod(ctx, promoted)
	})
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPaymentMethodDelete,
		Actor:      actor.UserID.String(),
		EntityType: EntityPaymentMethod,
		EntityID:   methodID.String(),
		Error:      operationError,
	})
	return operationError
}

// AddPayoutAccount attaches a payout account to the actor's wallet. The account
// currency defaults to, and must equal, the wallet currency.
func (manager *WalletManager) AddPayoutAccount(ctx context.Context, actor Actor, request PayoutAccountRequest) (PayoutAccount, error) {
	var account PayoutAccount
	operationError := func() error {
		validated, err := request.validate()
		if err != nil {
			return err
		}
		return manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			wallet, err := manager.ensureWallet(ctx, transactionStore, actor.UserID)
			if err != nil {
				return err
			}
			if _, err := lockWallet(ctx, transactionStore, wallet.ID); err != nil {
				return err
			}
			currency := wallet.Currency
			if !validated.Currency.IsZero() {
				currency = validated.Currency.String()
			}
			if currency != wallet.Currency {
				return fmt.Errorf("%w: account %s, wallet %s", ErrCurrencyMismatch, currency, wallet.Currency)
			}
			existing, err := transactionStore.ListPayoutAccounts(ctx, wallet.ID)
			if err != nil {
				return err
			}
			makeDefault := validated.MakeDefault || len(existing) == 0
			if makeDefault {
				if err := transactionStore.ClearDefaultPayoutAccounts(ctx, wallet.ID); err != nil {
					return err
				}
			}
			account = PayoutAccount{
				ID:          manager.idFn(),
				WalletID:    wallet.ID,
				Type:        validated.Type,
				Provider:    validated.Provider,
				ProviderRef: validated.ProviderRef,
				HolderName:  validated.HolderName,
				Last4:       validated.Last4,
				Currency:    currency,
				IsDefault:   makeDefault,
				Metadata:    validated.Metadata,
				CreatedAt:   manager.now(),
			}
			return transactionStore.CreatePayoutAccount(ctx, account)
		})
	}()
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPayoutAccountAdd,
		Actor:      actor.UserID.String(),
		EntityType: EntityPayoutAccount,
		EntityID:   account.ID,
		Currency:   account.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return PayoutAccount{}, operationError
	}
	return account, nil
}

// ListPayoutAccounts returns the actor's payout accounts, newest first.
func (manager *WalletManager) ListPayoutAccounts(ctx context.Context, actor Actor) ([]PayoutAccount, error) {
	wallet, err := manager.EnsureWallet(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	return manager.store.ListPayoutAccounts(ctx, wallet.ID)
}

// GetPayoutAccount returns a payout account owned by the actor.
func (manager *WalletManager) GetPayoutAccount(ctx context.Context, actor Actor, accountID InstrumentID) (PayoutAccount, error) {
	return manager.ownedPayoutAccount(ctx, manager.store, actor, accountID)
}

func (manager *WalletManager) ownedPayoutAccount(ctx context.Context, store Store, actor Actor, accountID InstrumentID) (PayoutAccount, error) {
	account, err := store.GetPayoutAccount(ctx, accountID.String())
	if err != nil {
		return PayoutAccount{}, err
	}
	if _, err := manager.walletForActor(ctx, store, actor, account.WalletID); err != nil {
		return PayoutAccount{}, err
	}
	return account, nil
}

// UpdatePayoutAccount applies patch to a payout account owned by the actor.
func (manager *WalletManager) UpdatePayoutAccount(ctx context.Context, actor Actor, accountID InstrumentID, patch PayoutAccountPatch) (PayoutAccount, error) {
	var account PayoutAccount
	operationError := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := manager.ownedPayoutAccount(ctx, transactionStore, actor, accountID)
		if err != nil {
			return err
		}
		if _, err := lockWallet(ctx, transactionStore, current.WalletID); err != nil {
			return err
		}
		if patch.HolderName != nil {
			holderName := strings.TrimSpace(*patch.HolderName)
			if holderName == "" {
				return fmt.Errorf("%w: holder name is required", ErrInvalidInstrument)
			}
			current.HolderName = holderName
		}
		if patch.Metadata != nil {
			current.Metadata = current.Metadata.Merge(*patch.Metadata)
		}
		if patch.MakeDefault && !current.IsDefault {
			if err := transactionStore.ClearDefaultPayoutAccounts(ctx, current.WalletID); err != nil {
				return err
			}
			current.IsDefault = true
		}
		if err := transactionStore.UpdatePayoutAccount(ctx, current); err != nil {
			return err
		}
		account = current
		return nil
	})
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPayoutAccountUpdate,
		Actor:      actor.UserID.String(),
		EntityType: EntityPayoutAccount,
		EntityID:   accountID.String(),
		Error:      operationError,
	})
	if operationError != nil {
		return PayoutAccount{}, operationError
	}
	return account, nil
}

// DeletePayoutAccount removes a payout account. Accounts with a payout still
// processing cannot be removed. Deleting the default promotes the most recently
// created remaining account.
func (manager *WalletManager) DeletePayoutAccount(ctx context.Context, actor Actor, accountID InstrumentID) error {
	operationError := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := manager.ownedPayoutAccount(ctx, transactionStore, actor, accountID)
		if err != nil {
			return err
		}
		if _, err := lockWallet(ctx, transactionStore, account.WalletID); err != nil {
			return err
		}
		inFlight, err := transactionStore.ListPayouts(ctx, PayoutFilter{
			PayoutAccountID: account.ID,
			Status:          PayoutStatusProcessing,
			Limit:           1,
		})
		if err != nil {
			return err
		}
		if len(inFlight) > 0 {
			return fmt.Errorf("%w: payout account %s has a payout in progress", ErrInvalidState, account.ID)
		}
		if err := transactionStore.DeletePayoutAccount(ctx, account.ID); err != nil {
			return err
		}
		if !account.IsDefault {
			return nil
		}
		remaining, err := transactionStore.ListPayoutAccounts(ctx, account.WalletID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		promoted := remaining[0]
		promoted.IsDefault = true
		return transactionStore.UpdatePayoutAccount(ctx, promoted)
	})
	manager.logOperation(ctx, OperationLog{
		Operation:  operationPayoutAccountDelete,
		Actor:      actor.UserID.String(),
		EntityType: EntityPayoutAccount,
		EntityID:   accountID.String(),
		Error:      operationError,
	})
	return operationError
}
