package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateRefundRequest reverses captured funds of an escrow intent. A zero Amount
// refunds everything remaining. Deferred refunds are recorded pending without
// moving money.
type CreateRefundRequest struct {
	EscrowID       EscrowID
	Amount         PositiveAmount
	Reason         string
	Deferred       bool
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

// RefundPatch updates a refund. Nil fields are left unchanged.
type RefundPatch struct {
	Status   *RefundStatus
	Reason   *string
	Metadata *MetadataJSON
}

// RefundListRequest filters refund listings.
type RefundListRequest struct {
	EscrowID string
	Status   RefundStatus
	Limit    int
	Offset   int
}

// RefundEngine moves captured escrow funds from the payee back to the payer.
type RefundEngine struct {
	engineCore
	wallets *WalletManager
}

// NewRefundEngine wires a RefundEngine.
func NewRefundEngine(store Store, wallets *WalletManager, now func() time.Time, options ...Option) (*RefundEngine, error) {
	if wallets == nil {
		return nil, fmt.Errorf("%w: wallet manager dependency is nil", ErrInvalidServiceConfig)
	}
	core, err := newEngineCore(store, now, options)
	if err != nil {
		return nil, err
	}
	return &RefundEngine{engineCore: core, wallets: wallets}, nil
}

// Create refunds a captured intent. Payee or administrator.
func (engine *RefundEngine) Create(ctx context.Context, actor Actor, request CreateRefundRequest) (Refund, error) {
	var refund Refund
	operationError := engine.create(ctx, actor, request, &refund)
	engine.logOperation(ctx, OperationLog{
		Operation:      operationRefundCreate,
		Actor:          actor.UserID.String(),
		EntityType:     EntityRefund,
		EntityID:       refund.ID,
		Amount:         refund.Amount,
		Currency:       refund.Currency,
		IdempotencyKey: request.IdempotencyKey.String(),
		Error:          operationError,
	})
	if operationError != nil {
		return Refund{}, operationError
	}
	return refund, nil
}

func (engine *RefundEngine) create(ctx context.Context, actor Actor, request CreateRefundRequest, refund *Refund) error {
	if request.EscrowID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidEscrowID)
	}
	if request.Deferred && !actor.Admin {
		return fmt.Errorf("%w: only administrators record deferred refunds", ErrForbidden)
	}
	call := newIdempotentCall(operationRefundCreate, actor, request.IdempotencyKey,
		request.EscrowID.String(),
		request.Amount.String(),
		fmt.Sprintf("%t", request.Deferred),
	)
	return engine.runIdempotent(ctx, call, EntityRefund,
		func(ctx context.Context, transactionStore Store) (string, error) {
			intent, err := transactionStore.LockEscrow(ctx, request.EscrowID.String())
			if err != nil {
				return "", err
			}
			if !actor.Admin {
				_, payee, err := escrowParticipants(ctx, transactionStore, intent)
				if err != nil {
					return "", err
				}
				if payee.UserID != actor.UserID.String() {
					return "", fmt.Errorf("%w: only the payee may refund", ErrForbidden)
				}
			}
			created, err := engine.createLocked(ctx, transactionStore, intent, request)
			if err != nil {
				return "", err
			}
			*refund = created
			return created.ID, nil
		},
		func(ctx context.Context, refundID string) error {
			stored, err := engine.store.GetRefund(ctx, refundID)
			if err != nil {
				return err
			}
			*refund = stored
			return nil
		},
	)
}

// createLocked records a refund against an intent already row-locked by the caller.
func (engine *RefundEngine) createLocked(ctx context.Context, transactionStore Store, intent EscrowIntent, request CreateRefundRequest) (Refund, error) {
	amount, err := refundableAmount(intent, request.Amount)
	if err != nil {
		return Refund{}, err
	}
	nowUTC := engine.now()
	refund := Refund{
		ID:             engine.idFn(),
		EscrowID:       intent.ID,
		Amount:         amount,
		Currency:       intent.Currency,
		Status:         RefundStatusPending,
		Reason:         strings.TrimSpace(request.Reason),
		IdempotencyKey: request.IdempotencyKey.String(),
		Metadata:       request.Metadata,
		CreatedAt:      nowUTC,
		UpdatedAt:      nowUTC,
	}
	if !request.Deferred {
		if _, err := engine.moveRefundFunds(ctx, transactionStore, intent, refund.ID, amount); err != nil {
			return Refund{}, err
		}
		refund.Status = RefundStatusProcessed
		refund.ProcessedAt = timePointer(nowUTC)
	}
	if err := transactionStore.CreateRefund(ctx, refund); err != nil {
		return Refund{}, err
	}
	return refund, nil
}

// refundableAmount clamps requested to what remains refundable. A zero request
// means everything remaining.
func refundableAmount(intent EscrowIntent, requested PositiveAmount) (decimal.Decimal, error) {
	if intent.Status != EscrowStatusCaptured && intent.Status != EscrowStatusRefunded {
		return decimal.Zero, fmt.Errorf("%w: cannot refund a %s escrow", ErrInvalidState, intent.Status)
	}
	remaining := intent.RemainingRefundable()
	if !remaining.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: nothing left to refund", ErrInvalidState)
	}
	if requested.IsZero() || requested.Decimal().GreaterThan(remaining) {
		return remaining, nil
	}
	return requested.Decimal(), nil
}

func (engine *RefundEngine) moveRefundFunds(ctx context.Context, transactionStore Store, intent EscrowIntent, refundID string, amount decimal.Decimal) (EscrowIntent, error) {
	payer, payee, err := lockWalletPair(ctx, transactionStore, intent.PayerWalletID, intent.PayeeWalletID)
	if err != nil {
		return EscrowIntent{}, err
	}
	if payee.AvailableBalance.LessThan(amount) {
		return EscrowIntent{}, fmt.Errorf("%w: payee available %s, refund %s", ErrInsufficientFunds, payee.AvailableBalance.StringFixed(moneyScale), amount.StringFixed(moneyScale))
	}
	if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payee, EntryRequest{
		Amount:      amount,
		Category:    CategoryRefundDebit,
		EntryType:   EntryDebit,
		Description: "refund issued",
		EntityType:  EntityRefund,
		EntityID:    refundID,
	}); err != nil {
		return EscrowIntent{}, err
	}
	if _, err := engine.wallets.ApplyLedgerEntry(ctx, transactionStore, payer, EntryRequest{
		Amount:      amount,
		Category:    CategoryRefundCredit,
		EntryType:   EntryCredit,
		Description: "refund received",
		EntityType:  EntityRefund,
		EntityID:    refundID,
	}); err != nil {
		return EscrowIntent{}, err
	}
	nowUTC := engine.now()
	intent.RefundedAmount = intent.RefundedAmount.Add(amount)
	if intent.RefundedAmount.GreaterThanOrEqual(intent.CapturedAmount) {
		intent.Status = EscrowStatusRefunded
		intent.RefundedAt = timePointer(nowUTC)
	}
	intent.UpdatedAt = nowUTC
	if err := transactionStore.UpdateEscrow(ctx, intent); err != nil {
		return EscrowIntent{}, err
	}
	return intent, nil
}

// Update applies patch to a refund. Status changes are for administrators; the
// payee may amend reason and metadata.
func (engine *RefundEngine) Update(ctx context.Context, actor Actor, refundID RefundID, patch RefundPatch) (Refund, error) {
	var refund Refund
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.LockRefund(ctx, refundID.String())
		if err != nil {
			return err
		}
		intent, err := transactionStore.LockEscrow(ctx, current.EscrowID)
		if err != nil {
			return err
		}
		if !actor.Admin {
			if patch.Status != nil {
				return fmt.Errorf("%w: only administrators change refund status", ErrForbidden)
			}
			_, payee, err := escrowParticipants(ctx, transactionStore, intent)
			if err != nil {
				return err
			}
			if payee.UserID != actor.UserID.String() {
				return fmt.Errorf("%w: only the payee may amend a refund", ErrForbidden)
			}
		}
		if patch.Reason != nil {
			current.Reason = strings.TrimSpace(*patch.Reason)
		}
		if patch.Metadata != nil {
			current.Metadata = current.Metadata.Merge(*patch.Metadata)
		}
		nowUTC := engine.now()
		if patch.Status != nil && *patch.Status != current.Status {
			if current.Status.IsTerminal() {
				return fmt.Errorf("%w: refund is already %s", ErrInvalidState, current.Status)
			}
			switch *patch.Status {
			case RefundStatusProcessed:
				if current.Amount.GreaterThan(intent.RemainingRefundable()) {
					return fmt.Errorf("%w: refund exceeds remaining refundable amount", ErrInvalidState)
				}
				if _, err := refundableAmount(intent, PositiveAmount{}); err != nil {
					return err
				}
				if _, err := engine.moveRefundFunds(ctx, transactionStore, intent, current.ID, current.Amount); err != nil {
					return err
				}
				current.ProcessedAt = timePointer(nowUTC)
			case RefundStatusFailed:
			default:
				return fmt.Errorf("%w: cannot move refund to %s", ErrInvalidState, *patch.Status)
			}
			current.Status = *patch.Status
		}
		current.UpdatedAt = nowUTC
		if err := transactionStore.UpdateRefund(ctx, current); err != nil {
			return err
		}
		refund = current
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation:  operationRefundUpdate,
		Actor:      actor.UserID.String(),
		EntityType: EntityRefund,
		EntityID:   refundID.String(),
		Amount:     refund.Amount,
		Currency:   refund.Currency,
		Error:      operationError,
	})
	if operationError != nil {
		return Refund{}, operationError
	}
	return refund, nil
}

// Delete removes a refund record. Administrators only.
func (engine *RefundEngine) Delete(ctx context.Context, actor Actor, refundID RefundID) error {
	operationError := func() error {
		if !actor.Admin {
			return fmt.Errorf("%w: only administrators delete refunds", ErrForbidden)
		}
		return engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.LockRefund(ctx, refundID.String()); err != nil {
				return err
			}
			return transactionStore.DeleteRefund(ctx, refundID.String())
		})
	}()
	engine.logOperation(ctx, OperationLog{
		Operation:  operationRefundDelete,
		Actor:      actor.UserID.String(),
		EntityType: EntityRefund,
		EntityID:   refundID.String(),
		Error:      operationError,
	})
	return operationError
}

// Get returns a refund visible to the actor.
func (engine *RefundEngine) Get(ctx context.Context, actor Actor, refundID RefundID) (Refund, error) {
	refund, err := engine.store.GetRefund(ctx, refundID.String())
	if err != nil {
		return Refund{}, err
	}
	intent, err := engine.store.GetEscrow(ctx, refund.EscrowID)
	if err != nil {
		return Refund{}, err
	}
	if err := authorizeParticipant(ctx, engine.store, actor, intent); err != nil {
		return Refund{}, err
	}
	return refund, nil
}

// List returns refunds on intents the actor participates in, or any refunds for
// administrators.
func (engine *RefundEngine) List(ctx context.Context, actor Actor, request RefundListRequest) ([]Refund, error) {
	limit, offset, err := normalizeListWindow(request.Limit, request.Offset)
	if err != nil {
		return nil, err
	}
	filter := RefundFilter{EscrowID: strings.TrimSpace(request.EscrowID), Status: request.Status, Limit: limit, Offset: offset}
	if !actor.Admin {
		wallet, err := engine.wallets.EnsureWallet(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		filter.WalletID = wallet.ID
	}
	return engine.store.ListRefunds(ctx, filter)
}
