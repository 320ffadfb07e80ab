package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreatePayoutRequest moves Amount from the actor's wallet to one of its payout accounts.
type CreatePayoutRequest struct {
	PayoutAccountID InstrumentID
	Amount          PositiveAmount
	Currency        Currency
	IdempotencyKey  IdempotencyKey
	Metadata        MetadataJSON
}

// PayoutOutcome is the terminal result of a payout reported by the processor.
type PayoutOutcome struct {
	Status         PayoutStatus
	FailureCode    string
	FailureMessage string
}

// PayoutPatch updates a payout. Nil fields are left unchanged.
type PayoutPatch struct {
	Status         *PayoutStatus
	FailureCode    *string
	FailureMessage *string
	Metadata       *MetadataJSON
}

// PayoutListRequest filters payout listings. UserID is honoured for administrators only.
type PayoutListRequest struct {
	UserID UserID
	Status PayoutStatus
	Limit  int
	Offset int
}

// PayoutEngine disburses wallet funds to payout accounts.
type PayoutEngine struct {
	engineCore
	wallets *WalletManager
}

// NewPayoutEngine wires a PayoutEngine.
func NewPayoutEngine(store Store, wallets *WalletManager, now func() time.Time, options ...Option) (*PayoutEngine, error) {
	if wallets == nil {
		return nil, fmt.Errorf("%w: wallet manager dependency is nil", ErrInvalidServiceConfig)
	}
	core, err := newEngineCore(store, now, options)
	if err != nil {
		return nil, err
	}
	return &PayoutEngine{engineCore: core, wallets: wallets}, nil
}

// Create starts a payout: available moves to pending until the processor settles it.
func (engine *PayoutEngine) Create(ctx context.Context, actor Actor, request CreatePayoutRequest) (Payout, error) {
	var payout Payout
	operationError := engine.create(ctx, actor, request, &payout)
	engine.logOperation(ctx, OperationLog{
		Operation:      operationPayoutCreate,
		Actor:          actor.UserID.String(),
		EntityType:     EntityPayout,
		EntityID:       payout.ID,
		Amount:         request.Amount.Decimal(),
		Currency:       payout.Currency,
		IdempotencyKey: request.IdempotencyKey.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Payout{}, operationError
	}
	return payout, nil
}

func (engine *PayoutEngine) create(ctx context.Context, actor Actor, request CreatePayoutRequest, payout *Payout) error {
	if request.Amount.IsZero() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if request.PayoutAccountID.String() == "" {
		return fmt.Errorf("%w: payout account is required", ErrInvalidInstrumentID)
	}
	call := newIdempotentCall(operationPayoutCreate, actor, request.IdempotencyKey,
		request.PayoutAccountID.String(),
		request.Amount.String(),
		request.Currency.String(),
	)
	return engine.runIdempotent(ctx, call, EntityPayout,
		func(ctx context.Context, transactionStore Store) (string, error) {
			wallet, err := engine.wallets.ensureWallet(ctx, transactionStore, actor.UserID)
			if err != nil {
				return "", err
			}
			account, err := transactionStore.GetPayoutAccount(ctx, request.PayoutAccountID.String())
			if err != nil {
				return "", err
			}
			if account.WalletID != wallet.ID {
				return "", fmt.Errorf("%w: payout account belongs to another wallet", ErrForbidden)
			}
			currency := wallet.Currency
			if !request.Currency.IsZero() {
				currency = request.Currency.String()
			}
			if currency != wallet.Currency || currency != account.Currency {
				return "", fmt.Errorf("%w: payout %s, wallet %s, account %s", ErrCurrencyMismatch, currency, wallet.Currency, account.Currency)
			}
			wallet, err = lockWallet(ctx, transactionStore, wallet.ID)
			if err != nil {
				return "", err
			}
			amount := request.Amount.Decimal()
			if wallet.AvailableBalance.LessThan(amount) {
				return "", fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, wallet.AvailableBalance.StringFixed(moneyScale), request.Amount)
			}
			nowUTC := engine.now()
			created := Payout{
				ID:              engine.idFn(),
				WalletID:        wallet.ID,
				PayoutAccountID: account.ID,
				Amount:          amount,
				Currency:        currency,
				Status:          PayoutStatusProcessing,
				InitiatedAt:     nowUTC,
				IdempotencyKey:  request.IdempotencyKey.String(),
				Metadata:        request.Metadata,
				CreatedAt:       nowUTC,
				UpdatedAt:       nowUTC,
			}
			if err := transactionStore.CreatePayout(ctx, created); err != nil {
				return "", err
			}
			if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, wallet, EntryRequest{
				Amount:       amount,
				Category:     CategoryPayoutInitiated,
				EntryType:    EntryDebit,
				Description:  "payout initiated",
				EntityType:   EntityPayout,
				EntityID:     created.ID,
				PendingDelta: amount,
			}); err != nil {
				return "", err
			}
			*payout = created
			return created.ID, nil
		},
		func(ctx context.Context, payoutID string) error {
			stored, err := engine.store.GetPayout(ctx, payoutID)
			if err != nil {
				return err
			}
			*payout = stored
			return nil
		},
	)
}

// Finalize settles a processing payout. Payouts that already left processing are
// returned unchanged.
func (engine *PayoutEngine) Finalize(ctx context.Context, payoutID PayoutID, outcome PayoutOutcome) (Payout, error) {
	var payout Payout
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockPayout(ctx, payoutID.String())
		if err != nil {
			return err
		}
		finalized, err := engine.finalizeLocked(ctx, transactionStore, locked, outcome)
		if err != nil {
			return err
		}
		payout = finalized
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationPayoutFinalize,
		Actor:      SystemActor().UserID.String(),
		EntityType: EntityPayout,
		EntityID:   payoutID.String(),
		Amount:     payout.Amount,
		Currency:   payout.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return Payout{}, operationError
	}
	return payout, nil
}

func (engine *PayoutEngine) finalizeLocked(ctx context.Context, transactionStore Store, payout Payout, outcome PayoutOutcome) (Payout, error) {
	if outcome.Status != PayoutStatusCompleted && outcome.Status != PayoutStatusFailed {
		return Payout{}, fmt.Errorf("%w: payout outcome must be completed or failed", ErrInvalidStatus)
	}
	if payout.Status != PayoutStatusProcessing {
		return payout, nil
	}
	wallet, err := lockWallet(ctx, transactionStore, payout.WalletID)
	if err != nil {
		return Payout{}, err
	}
	entry := EntryRequest{
		Amount:       payout.Amount,
		EntityType:   EntityPayout,
		EntityID:     payout.ID,
		PendingDelta: payout.Amount.Neg(),
	}
	if outcome.Status == PayoutStatusCompleted {
		noAvailableChange := decimal.Zero
		entry.Category = CategoryPayoutCompleted
		entry.EntryType = EntryDebit
		entry.Description = "payout completed"
		entry.AvailableDelta = &noAvailableChange
	} else {
		entry.Category = CategoryPayoutFailed
		entry.EntryType = EntryCredit
		entry.Description = "payout failed"
		payout.FailureCode = strings.TrimSpace(outcome.FailureCode)
		payout.FailureMessage = strings.TrimSpace(outcome.FailureMessage)
	}
	if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, wallet, entry); err != nil {
		return Payout{}, err
	}
	nowUTC := engine.now()
	payout.Status = outcome.Status
	payout.ProcessedAt = timePointer(nowUTC)
	payout.UpdatedAt = nowUTC
	if err := transactionStore.UpdatePayout(ctx, payout); err != nil {
		return Payout{}, err
	}
	return payout, nil
}

// Update applies patch to a payout. Only administrators change status or failure
// details; the owner may merge metadata.
func (engine *PayoutEngine) Update(ctx context.Context, actor Actor, payoutID PayoutID, patch PayoutPatch) (Payout, error) {
	var payout Payout
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := engine.lockOwned(ctx, transactionStore, actor, payoutID)
		if err != nil {
			return err
		}
		if (patch.Status != nil || patch.FailureCode != nil || patch.FailureMessage != nil) && !actor.Admin {
			return fmt.Errorf("%w: only administrators change payout status", ErrForbidden)
		}
		if patch.Metadata != nil {
			current.Metadata = current.Metadata.Merge(*patch.Metadata)
		}
		if patch.Status != nil && *patch.Status != current.Status {
			if current.Status.IsTerminal() {
				return fmt.Errorf("%w: payout is already %s", ErrInvalidState, current.Status)
			}
			outcome := PayoutOutcome{Status: *patch.Status}
			if patch.FailureCode != nil {
				outcome.FailureCode = *patch.FailureCode
			}
			if patch.FailureMessage != nil {
				outcome.FailureMessage = *patch.FailureMessage
			}
			finalized, err := engine.finalizeLocked(ctx, transactionStore, current, outcome)
			if err != nil {
				return err
			}
			payout = finalized
			return nil
		}
		if patch.FailureCode != nil {
			current.FailureCode = strings.TrimSpace(*patch.FailureCode)
		}
		if patch.FailureMessage != nil {
			current.FailureMessage = strings.TrimSpace(*patch.FailureMessage)
		}
		current.UpdatedAt = engine.now()
		if err := transactionStore.UpdatePayout(ctx, current); err != nil {
			return err
		}
		payout = current
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationPayoutUpdate,
		Actor:      actor.UserID.String(),
		EntityType: EntityPayout,
		EntityID:   payoutID.String(),
		Amount:     payout.Amount,
		Currency:   payout.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return Payout{}, operationError
	}
	return payout, nil
}

// Delete removes a settled payout. Owner or administrator.
func (engine *PayoutEngine) Delete(ctx context.Context, actor Actor, payoutID PayoutID) error {
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := engine.lockOwned(ctx, transactionStore, actor, payoutID)
		if err != nil {
			return err
		}
		if current.Status == PayoutStatusProcessing {
			return fmt.Errorf("%w: payout is still processing", ErrInvalidState)
		}
		return transactionStore.DeletePayout(ctx, current.ID)
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationPayoutDelete,
		Actor:      actor.UserID.String(),
		EntityType: EntityPayout,
		EntityID:   payoutID.String(),
		Error:      operationError,
	})
	return operationError
}

// Get returns a payout owned by the actor.
func (engine *PayoutEngine) Get(ctx context.Context, actor Actor, payoutID PayoutID) (Payout, error) {
	payout, err := engine.store.GetPayout(ctx, payoutID.String())
	if err != nil {
		return Payout{}, err
	}
	if _, err := engine.wallets.walletForActor(ctx, engine.store, actor, payout.WalletID); err != nil {
		return Payout{}, err
	}
	return payout, nil
}

// List returns the actor's payouts, or any payouts for administrators.
func (engine *PayoutEngine) List(ctx context.Context, actor Actor, request PayoutListRequest) ([]Payout, error) {
	limit, offset, err := normalizeListWindow(request.Limit, request.Offset)
	if err != nil {
		return nil, err
	}
	filter := PayoutFilter{Status: request.Status, Limit: limit, Offset: offset}
	subject := actor.UserID
	if actor.Admin {
		subject = request.UserID
	}
	if !subject.IsZero() {
		wallet, err := engine.wallets.EnsureWallet(ctx, subject)
		if err != nil {
			return nil, err
		}
		filter.WalletID = wallet.ID
	}
	return engine.store.ListPayouts(ctx, filter)
}

func (engine *PayoutEngine) lockOwned(ctx context.Context, transactionStore Store, actor Actor, payoutID PayoutID) (Payout, error) {
	payout, err := transactionStore.LockPayout(ctx, payoutID.String())
	if err != nil {
		return Payout{}, err
	}
	if _, err := engine.wallets.walletForActor(ctx, transactionStore, actor, payout.WalletID); err != nil {
		return Payout{}, err
	}
	return payout, nil
}
