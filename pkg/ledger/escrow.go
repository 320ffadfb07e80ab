package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EscrowConfig carries the tunables of the escrow engine.
type EscrowConfig struct {
	// FeeRate is the platform fraction withheld from every capture, in [0, 1).
	FeeRate decimal.Decimal
}

// DefaultEscrowConfig returns the stock platform fee of five percent.
func DefaultEscrowConfig() EscrowConfig {
	return EscrowConfig{FeeRate: decimal.RequireFromString(defaultFeeRate)}
}

// CreateEscrowRequest authorizes funds from the acting payer to a payee.
type CreateEscrowRequest struct {
	PayeeUserID    UserID
	Reference      Reference
	Amount         PositiveAmount
	Currency       Currency
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

// CaptureRequest captures Amount, or everything remaining when Amount is zero.
type CaptureRequest struct {
	Amount         PositiveAmount
	IdempotencyKey IdempotencyKey
}

// EscrowListRequest filters escrow listings. UserID is honoured for administrators only.
type EscrowListRequest struct {
	UserID    UserID
	Role      EscrowRole
	Status    EscrowStatus
	Reference *Reference
	Limit     int
	Offset    int
}

// EscrowEngine runs the authorize, capture, cancel, hold and release lifecycle.
type EscrowEngine struct {
	engineCore
	wallets *WalletManager
	feeRate decimal.Decimal
}

// NewEscrowEngine wires an EscrowEngine.
func NewEscrowEngine(store Store, wallets *WalletManager, config EscrowConfig, now func() time.Time, options ...Option) (*EscrowEngine, error) {
	if wallets == nil {
		return nil, fmt.Errorf("%w: wallet manager dependency is nil", ErrInvalidServiceConfig)
	}
	if config.FeeRate.IsNegative() || config.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: fee rate %s outside [0, 1)", ErrInvalidServiceConfig, config.FeeRate)
	}
	core, err := newEngineCore(store, now, options)
	if err != nil {
		return nil, err
	}
	return &EscrowEngine{engineCore: core, wallets: wallets, feeRate: config.FeeRate}, nil
}

// FeeRate returns the configured platform fee rate.
func (engine *EscrowEngine) FeeRate() decimal.Decimal {
	return engine.feeRate
}

// Create authorizes an escrow intent: payer available moves to pending.
func (engine *EscrowEngine) Create(ctx context.Context, actor Actor, request CreateEscrowRequest) (EscrowIntent, error) {
	var intent EscrowIntent
	operationError := engine.create(ctx, actor, request, &intent)
	engine.logOperation(ctx, OperationLog{
		Operation:      operationEscrowCreate,
		Actor:          actor.UserID.String(),
		EntityType:     EntityEscrow,
		EntityID:       intent.ID,
		Amount:         request.Amount.Decimal(),
		Currency:       intent.Currency,
		IdempotencyKey: request.IdempotencyKey.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return EscrowIntent{}, operationError
	}
	return intent, nil
}

func (engine *EscrowEngine) create(ctx context.Context, actor Actor, request CreateEscrowRequest, intent *EscrowIntent) error {
	if actor.UserID.IsZero() {
		return fmt.Errorf("%w: payer is required", ErrInvalidUserID)
	}
	if request.PayeeUserID.IsZero() {
		return fmt.Errorf("%w: payee is required", ErrInvalidUserID)
	}
	if request.PayeeUserID.String() == actor.UserID.String() {
		return fmt.Errorf("%w: payer and payee must differ", ErrInvalidUserID)
	}
	if request.Reference.Type() == "" {
		return fmt.Errorf("%w: type and id are required", ErrInvalidReference)
	}
	if request.Amount.IsZero() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	call := newIdempotentCall(operationEscrowCreate, actor, request.IdempotencyKey,
		request.PayeeUserID.String(),
		request.Reference.Type(),
		request.Reference.ID(),
		request.Amount.String(),
		request.Currency.String(),
	)
	return engine.runIdempotent(ctx, call, EntityEscrow,
		func(ctx context.Context, transactionStore Store) (string, error) {
			payer, err := engine.wallets.ensureWallet(ctx, transactionStore, actor.UserID)
			if err != nil {
				return "", err
			}
			payee, err := engine.wallets.ensureWallet(ctx, transactionStore, request.PayeeUserID)
			if err != nil {
				return "", err
			}
			currency := payer.Currency
			if !request.Currency.IsZero() {
				currency = request.Currency.String()
			}
			if currency != payer.Currency || currency != payee.Currency {
				return "", fmt.Errorf("%w: intent %s, payer %s, payee %s", ErrCurrencyMismatch, currency, payer.Currency, payee.Currency)
			}
			payer, _, err = lockWalletPair(ctx, transactionStore, payer.ID, payee.ID)
			if err != nil {
				return "", err
			}
			amount := request.Amount.Decimal()
			if payer.AvailableBalance.LessThan(amount) {
				return "", fmt.Errorf("%w: available %s, requested %s", ErrInsufficientFunds, payer.AvailableBalance.StringFixed(moneyScale), request.Amount)
			}
			nowUTC := engine.now()
			created := EscrowIntent{
				ID:             engine.idFn(),
				PayerWalletID:  payer.ID,
				PayeeWalletID:  payee.ID,
				ReferenceType:  request.Reference.Type(),
				ReferenceID:    request.Reference.ID(),
				Currency:       currency,
				Amount:         amount,
				CapturedAmount: decimal.Zero,
				RefundedAmount: decimal.Zero,
				FeeAmount:      decimal.Zero,
				Status:         EscrowStatusAuthorized,
				IdempotencyKey: request.IdempotencyKey.String(),
				Metadata:       request.Metadata,
				AuthorizedAt:   timePointer(nowUTC),
				CreatedAt:      nowUTC,
				UpdatedAt:      nowUTC,
			}
			if err := transactionStore.CreateEscrow(ctx, created); err != nil {
				return "", err
			}
			if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payer, EntryRequest{
				Amount:       amount,
				Category:     CategoryEscrowAuthorize,
				EntryType:    EntryDebit,
				Description:  "escrow authorized",
				EntityType:   EntityEscrow,
				EntityID:     created.ID,
				PendingDelta: amount,
			}); err != nil {
				return "", err
			}
			*intent = created
			return created.ID, nil
		},
		func(ctx context.Context, escrowID string) error {
			stored, err := engine.store.GetEscrow(ctx, escrowID)
			if err != nil {
				return err
			}
			*intent = stored
			return nil
		},
	)
}

// Capture moves captured funds from payer pending to payee available minus the
// platform fee. Payer or administrator.
func (engine *EscrowEngine) Capture(ctx context.Context, actor Actor, escrowID EscrowID, request CaptureRequest) (EscrowIntent, error) {
	var intent EscrowIntent
	call := newIdempotentCall(operationEscrowCapture, actor, request.IdempotencyKey, escrowID.String(), request.Amount.String())
	operationError := engine.runIdempotent(ctx, call, EntityEscrow,
		func(ctx context.Context, transactionStore Store) (string, error) {
			locked, err := transactionStore.LockEscrow(ctx, escrowID.String())
			if err != nil {
				return "", err
			}
			payer, _, err := escrowParticipants(ctx, transactionStore, locked)
			if err != nil {
				return "", err
			}
			if !actor.Admin && payer.UserID != actor.UserID.String() {
				return "", fmt.Errorf("%w: only the payer may capture", ErrForbidden)
			}
			captured, err := engine.captureLocked(ctx, transactionStore, locked, request.Amount)
			if err != nil {
				return "", err
			}
			intent = captured
			return captured.ID, nil
		},
		func(ctx context.Context, storedID string) error {
			stored, err := engine.store.GetEscrow(ctx, storedID)
			if err != nil {
				return err
			}
			intent = stored
			return nil
		},
	)
	engine.logOperation(ctx, OperationLog{
		Operation:      operationEscrowCapture,
		Actor:          actor.UserID.String(),
		EntityType:     EntityEscrow,
		EntityID:       escrowID.String(),
		Amount:         request.Amount.Decimal(),
		Currency:       intent.Currency,
		IdempotencyKey: request.IdempotencyKey.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return EscrowIntent{}, operationError
	}
	return intent, nil
}

// captureLocked performs the capture on an intent already row-locked by the caller.
func (engine *EscrowEngine) captureLocked(ctx context.Context, transactionStore Store, intent EscrowIntent, requested PositiveAmount) (EscrowIntent, error) {
	if intent.Status != EscrowStatusAuthorized && intent.Status != EscrowStatusHeld {
		return EscrowIntent{}, fmt.Errorf("%w: cannot capture a %s escrow", ErrInvalidState, intent.Status)
	}
	remaining := intent.RemainingCapturable()
	if !remaining.IsPositive() {
		return EscrowIntent{}, fmt.Errorf("%w: nothing left to capture", ErrInvalidState)
	}
	captureAmount := remaining
	if !requested.IsZero() && requested.Decimal().LessThan(remaining) {
		captureAmount = requested.Decimal()
	}
	fee := roundMoney(engine.feeRate.Mul(captureAmount))
	net := captureAmount.Sub(fee)

	payer, payee, err := lockWalletPair(ctx, transactionStore, intent.PayerWalletID, intent.PayeeWalletID)
	if err != nil {
		return EscrowIntent{}, err
	}
	noAvailableChange := decimal.Zero
	if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payer, EntryRequest{
		Amount:         captureAmount,
		Category:       CategoryEscrowCapture,
		EntryType:      EntryDebit,
		Description:    "escrow captured",
		EntityType:     EntityEscrow,
		EntityID:       intent.ID,
		AvailableDelta: &noAvailableChange,
		PendingDelta:   captureAmount.Neg(),
	}); err != nil {
		return EscrowIntent{}, err
	}
	if net.IsPositive() {
		if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payee, EntryRequest{
			Amount:      net,
			Category:    CategoryEscrowCaptureCredit,
			EntryType:   EntryCredit,
			Description: "escrow capture proceeds",
			EntityType:  EntityEscrow,
			EntityID:    intent.ID,
		}); err != nil {
			return EscrowIntent{}, err
		}
	}

	nowUTC := engine.now()
	intent.CapturedAmount = intent.CapturedAmount.Add(captureAmount)
	intent.FeeAmount = intent.FeeAmount.Add(fee)
	clearHold(&intent)
	intent.Status = EscrowStatusAuthorized
	if intent.CapturedAmount.GreaterThanOrEqual(intent.Amount) {
		intent.Status = EscrowStatusCaptured
		intent.CapturedAt = timePointer(nowUTC)
	}
	intent.UpdatedAt = nowUTC
	if err := transactionStore.UpdateEscrow(ctx, intent); err != nil {
		return EscrowIntent{}, err
	}
	if intent.Status == EscrowStatusCaptured {
		if _, err := transactionStore.UpsertInvoice(ctx, Invoice{
			ID:            engine.idFn(),
			EntityType:    EntityEscrow,
			EntityID:      intent.ID,
			PayerWalletID: intent.PayerWalletID,
			PayeeWalletID: intent.PayeeWalletID,
			Currency:      intent.Currency,
			AmountDue:     intent.CapturedAmount,
			AmountPaid:    intent.CapturedAmount.Sub(intent.FeeAmount),
			Status:        invoiceStatusPaid,
			IssuedAt:      nowUTC,
		}); err != nil {
			return EscrowIntent{}, err
		}
	}
	return intent, nil
}

// Cancel voids an uncaptured intent and returns the funds to the payer.
// Payer, payee or administrator.
func (engine *EscrowEngine) Cancel(ctx context.Context, actor Actor, escrowID EscrowID) (EscrowIntent, error) {
	var intent EscrowIntent
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := engine.lockForParticipant(ctx, transactionStore, actor, escrowID)
		if err != nil {
			return err
		}
		cancelled, err := engine.cancelLocked(ctx, transactionStore, locked)
		if err != nil {
			return err
		}
		intent = cancelled
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationEscrowCancel,
		Actor:      actor.UserID.String(),
		EntityType: EntityEscrow,
		EntityID:   escrowID.String(),
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return EscrowIntent{}, operationError
	}
	return intent, nil
}

func (engine *EscrowEngine) cancelLocked(ctx context.Context, transactionStore Store, intent EscrowIntent) (EscrowIntent, error) {
	if intent.Status != EscrowStatusAuthorized && intent.Status != EscrowStatusHeld {
		return EscrowIntent{}, fmt.Errorf("%w: cannot cancel a %s escrow", ErrInvalidState, intent.Status)
	}
	if !intent.CapturedAmount.IsZero() {
		return EscrowIntent{}, fmt.Errorf("%w: escrow already partially captured", ErrInvalidState)
	}
	payer, err := lockWallet(ctx, transactionStore, intent.PayerWalletID)
	if err != nil {
		return EscrowIntent{}, err
	}
	if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payer, EntryRequest{
		Amount:       intent.Amount,
		Category:     CategoryEscrowCancel,
		EntryType:    EntryCredit,
		Description:  "escrow cancelled",
		EntityType:   EntityEscrow,
		EntityID:     intent.ID,
		PendingDelta: intent.Amount.Neg(),
	}); err != nil {
		return EscrowIntent{}, err
	}
	nowUTC := engine.now()
	clearHold(&intent)
	intent.Status = EscrowStatusCancelled
	intent.CancelledAt = timePointer(nowUTC)
	intent.UpdatedAt = nowUTC
	if err := transactionStore.UpdateEscrow(ctx, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

// Hold freezes an authorized or captured intent. Payer, payee or administrator.
func (engine *EscrowEngine) Hold(ctx context.Context, actor Actor, escrowID EscrowID, reason string) (EscrowIntent, error) {
	var intent EscrowIntent
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := engine.lockForParticipant(ctx, transactionStore, actor, escrowID)
		if err != nil {
			return err
		}
		held, err := engine.holdLocked(ctx, transactionStore, locked, actor, reason)
		if err != nil {
			return err
		}
		intent = held
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationEscrowHold,
		Actor:      actor.UserID.String(),
		EntityType: EntityEscrow,
		EntityID:   escrowID.String(),
		Currency:   intent.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return EscrowIntent{}, operationError
	}
	return intent, nil
}

func (engine *EscrowEngine) holdLocked(ctx context.Context, transactionStore Store, intent EscrowIntent, actor Actor, reason string) (EscrowIntent, error) {
	if intent.Status != EscrowStatusAuthorized && intent.Status != EscrowStatusCaptured {
		return EscrowIntent{}, fmt.Errorf("%w: cannot hold a %s escrow", ErrInvalidState, intent.Status)
	}
	nowUTC := engine.now()
	intent.PreviousStatus = intent.Status
	intent.Status = EscrowStatusHeld
	intent.IsOnHold = true
	intent.HoldReason = strings.TrimSpace(reason)
	intent.HeldBy = actor.UserID.String()
	if actor.IsSystem() {
		intent.HeldBy = systemUserValue
	}
	intent.HeldAt = timePointer(nowUTC)
	intent.UpdatedAt = nowUTC
	if err := transactionStore.UpdateEscrow(ctx, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

// Release lifts a hold and restores the pre-hold status. Administrator or the
// participant who placed the hold; processor holds need an administrator.
func (engine *EscrowEngine) Release(ctx context.Context, actor Actor, escrowID EscrowID) (EscrowIntent, error) {
	var intent EscrowIntent
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		locked, err := transactionStore.LockEscrow(ctx, escrowID.String())
		if err != nil {
			return err
		}
		if err := authorizeParticipant(ctx, transactionStore, actor, locked); err != nil {
			return err
		}
		if !actor.Admin && (heldBySystem(locked) || locked.HeldBy != actor.UserID.String()) {
			return fmt.Errorf("%w: only an administrator or the holder may release", ErrForbidden)
		}
		released, err := engine.releaseLocked(ctx, transactionStore, locked)
		if err != nil {
			return err
		}
		intent = released
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationEscrowRelease,
		Actor:      actor.UserID.String(),
		EntityType: EntityEscrow,
		EntityID:   escrowID.String(),
		Currency:   intent.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return EscrowIntent{}, operationError
	}
	return intent, nil
}

func (engine *EscrowEngine) releaseLocked(ctx context.Context, transactionStore Store, intent EscrowIntent) (EscrowIntent, error) {
	if intent.Status != EscrowStatusHeld {
		return EscrowIntent{}, fmt.Errorf("%w: escrow is not held", ErrInvalidState)
	}
	restored := intent.PreviousStatus
	if restored == "" {
		restored = EscrowStatusAuthorized
	}
	nowUTC := engine.now()
	clearHold(&intent)
	intent.Status = restored
	intent.ReleasedAt = timePointer(nowUTC)
	intent.UpdatedAt = nowUTC
	if err := transactionStore.UpdateEscrow(ctx, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

// Get returns an intent visible to the actor.
func (engine *EscrowEngine) Get(ctx context.Context, actor Actor, escrowID EscrowID) (EscrowIntent, error) {
	intent, err := engine.store.GetEscrow(ctx, escrowID.String())
	if err != nil {
		return EscrowIntent{}, err
	}
	if err := authorizeParticipant(ctx, engine.store, actor, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

// List returns intents the actor participates in, or any intents for administrators.
func (engine *EscrowEngine) List(ctx context.Context, actor Actor, request EscrowListRequest) ([]EscrowIntent, error) {
	limit, offset, err := normalizeListWindow(request.Limit, request.Offset)
	if err != nil {
		return nil, err
	}
	switch request.Role {
	case EscrowRoleAny, EscrowRolePayer, EscrowRolePayee:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidStatus, request.Role)
	}
	filter := EscrowFilter{Role: request.Role, Status: request.Status, Limit: limit, Offset: offset}
	if request.Reference != nil {
		filter.ReferenceType = request.Reference.Type()
		filter.ReferenceID = request.Reference.ID()
	}
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
	return engine.store.ListEscrows(ctx, filter)
}

func (engine *EscrowEngine) lockForParticipant(ctx context.Context, transactionStore Store, actor Actor, escrowID EscrowID) (EscrowIntent, error) {
	intent, err := transactionStore.LockEscrow(ctx, escrowID.String())
	if err != nil {
		return EscrowIntent{}, err
	}
	if err := authorizeParticipant(ctx, transactionStore, actor, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

func escrowParticipants(ctx context.Context, store Store, intent EscrowIntent) (Wallet, Wallet, error) {
	payer, err := store.GetWallet(ctx, intent.PayerWalletID)
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	payee, err := store.GetWallet(ctx, intent.PayeeWalletID)
	if err != nil {
		return Wallet{}, Wallet{}, err
	}
	return payer, payee, nil
}

func authorizeParticipant(ctx context.Context, store Store, actor Actor, intent EscrowIntent) error {
	if actor.Admin {
		return nil
	}
	payer, payee, err := escrowParticipants(ctx, store, intent)
	if err != nil {
		return err
	}
	if payer.UserID != actor.UserID.String() && payee.UserID != actor.UserID.String() {
		return fmt.Errorf("%w: not a participant of escrow %s", ErrForbidden, intent.ID)
	}
	return nil
}

func heldBySystem(intent EscrowIntent) bool {
	return intent.HeldBy == systemUserValue
}

func clearHold(intent *EscrowIntent) {
	intent.IsOnHold = false
	intent.HoldReason = ""
	intent.HeldBy = ""
	intent.PreviousStatus = ""
}
