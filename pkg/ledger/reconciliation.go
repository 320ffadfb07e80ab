package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Processor event types understood by the reconciliation gateway.
const (
	EventEscrowCaptured       = "escrow.captured"
	EventEscrowRefunded       = "escrow.refunded"
	EventEscrowHeld           = "escrow.held"
	EventEscrowReleased       = "escrow.released"
	EventPayoutCompleted      = "payout.completed"
	EventPayoutFailed         = "payout.failed"
	EventWalletBalanceUpdated = "wallet.balance.updated"
)

// Event is one processor callback.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EventResult reports what a handled event touched. Applied is false for replays
// and for transitions that had already happened.
type EventResult struct {
	EventID    string     `json:"event_id"`
	Type       string     `json:"type"`
	EntityType EntityType `json:"entity_type,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	Applied    bool       `json:"applied"`
}

type escrowEventData struct {
	EscrowID string           `json:"escrow_id"`
	Amount   *decimal.Decimal `json:"amount"`
	Reason   string           `json:"reason"`
}

type payoutEventData struct {
	PayoutID       string `json:"payout_id"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

type balanceEventData struct {
	UserID           string           `json:"user_id"`
	AvailableBalance *decimal.Decimal `json:"available_balance"`
	PendingBalance   *decimal.Decimal `json:"pending_balance"`
}

type eventHandler func(ctx context.Context, transactionStore Store, event Event, result *EventResult) error

// ReconciliationGateway replays processor callbacks against the engines with
// system authority.
type ReconciliationGateway struct {
	engineCore
	wallets  *WalletManager
	escrows  *EscrowEngine
	payouts  *PayoutEngine
	refunds  *RefundEngine
	handlers map[string]eventHandler
}

// NewReconciliationGateway wires a ReconciliationGateway.
func NewReconciliationGateway(
	store Store,
	wallets *WalletManager,
	escrows *EscrowEngine,
	payouts *PayoutEngine,
	refunds *RefundEngine,
	now func() time.Time,
	options ...Option,
) (*ReconciliationGateway, error) {
	if wallets == nil || escrows == nil || payouts == nil || refunds == nil {
		return nil, fmt.Errorf("%w: engine dependency is nil", ErrInvalidServiceConfig)
	}
	core, err := newEngineCore(store, now, options)
	if err != nil {
		return nil, err
	}
	gateway := &ReconciliationGateway{engineCore: core, wallets: wallets, escrows: escrows, payouts: payouts, refunds: refunds}
	gateway.handlers = map[string]eventHandler{
		EventEscrowCaptured:       gateway.handleEscrowCaptured,
		EventEscrowRefunded:       gateway.handleEscrowRefunded,
		EventEscrowHeld:           gateway.handleEscrowHeld,
		EventEscrowReleased:       gateway.handleEscrowReleased,
		EventPayoutCompleted:      gateway.handlePayoutOutcome(PayoutStatusCompleted),
		EventPayoutFailed:         gateway.handlePayoutOutcome(PayoutStatusFailed),
		EventWalletBalanceUpdated: gateway.handleBalanceUpdated,
	}
	return gateway, nil
}

// HandleEvent applies one processor event. Events are deduplicated by id.
func (gateway *ReconciliationGateway) HandleEvent(ctx context.Context, event Event) (EventResult, error) {
	result := EventResult{EventID: strings.TrimSpace(event.ID), Type: strings.TrimSpace(event.Type)}
	operationError := gateway.handle(ctx, event, &result)
	gateway.logOperation(ctx, OperationLog{
		Operation:      operationReconciliationHandle,
		Actor:          SystemActor().UserID.String(),
		EntityType:     result.EntityType,
		EntityID:       result.EntityID,
		IdempotencyKey: result.EventID,
		Error:          operationError,
	})
	if operationError != nil {
		return EventResult{}, operationError
	}
	return result, nil
}

func (gateway *ReconciliationGateway) handle(ctx context.Context, event Event, result *EventResult) error {
	if result.EventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidEvent)
	}
	handler, ok := gateway.handlers[result.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, result.Type)
	}
	fingerprint := eventFingerprint(result.Type, event.Data)
	transactionError := gateway.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		record, err := transactionStore.GetIdempotencyRecord(ctx, idempotencyScopeEvents, result.EventID)
		if err == nil {
			return replayedEvent(record, fingerprint, result)
		}
		if !errors.Is(err, ErrUnknownIdempotencyKey) {
			return err
		}
		if err := handler(ctx, transactionStore, event, result); err != nil {
			return err
		}
		return transactionStore.InsertIdempotencyRecord(ctx, IdempotencyRecord{
			Scope:       idempotencyScopeEvents,
			Key:         result.EventID,
			Fingerprint: fingerprint,
			EntityType:  result.EntityType,
			EntityID:    result.EntityID,
			CreatedAt:   gateway.now(),
		})
	})
	if errors.Is(transactionError, ErrDuplicateIdempotencyKey) {
		record, err := gateway.store.GetIdempotencyRecord(ctx, idempotencyScopeEvents, result.EventID)
		if err != nil {
			return err
		}
		transactionError = replayedEvent(record, fingerprint, result)
	}
	if errors.Is(transactionError, errEventSeen) {
		result.Applied = false
		return nil
	}
	return transactionError
}

// eventFingerprint hashes the event type with its compacted payload.
func eventFingerprint(eventType string, data json.RawMessage) string {
	var compacted bytes.Buffer
	payload := []byte(data)
	if err := json.Compact(&compacted, data); err == nil {
		payload = compacted.Bytes()
	}
	digest := sha256.Sum256(append([]byte(eventType+idempotencyFingerprintDelim), payload...))
	return hex.EncodeToString(digest[:])
}

func replayedEvent(record IdempotencyRecord, fingerprint string, result *EventResult) error {
	if record.Fingerprint != fingerprint {
		return fmt.Errorf("%w: event %s was already handled with a different type or payload", ErrIdempotencyConflict, result.EventID)
	}
	result.EntityType = record.EntityType
	result.EntityID = record.EntityID
	return errEventSeen
}

// errEventSeen aborts the transaction of a replayed event.
var errEventSeen = errors.New("event already handled")

func decodeEventData(event Event, target any) error {
	if len(event.Data) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidEvent)
	}
	if err := json.Unmarshal(event.Data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func (gateway *ReconciliationGateway) lockEventEscrow(ctx context.Context, transactionStore Store, event Event, result *EventResult) (EscrowIntent, escrowEventData, error) {
	var data escrowEventData
	if err := decodeEventData(event, &data); err != nil {
		return EscrowIntent{}, escrowEventData{}, err
	}
	escrowID, err := NewEscrowID(data.EscrowID)
	if err != nil {
		return EscrowIntent{}, escrowEventData{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	result.EntityType = EntityEscrow
	result.EntityID = escrowID.String()
	intent, err := transactionStore.LockEscrow(ctx, escrowID.String())
	if err != nil {
		return EscrowIntent{}, escrowEventData{}, err
	}
	return intent, data, nil
}

func optionalEventAmount(raw *decimal.Decimal) (PositiveAmount, error) {
	if raw == nil {
		return PositiveAmount{}, nil
	}
	amount, err := NewPositiveAmount(*raw)
	if err != nil {
		return PositiveAmount{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return amount, nil
}

func (gateway *ReconciliationGateway) handleEscrowCaptured(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
	intent, data, err := gateway.lockEventEscrow(ctx, transactionStore, event, result)
	if err != nil {
		return err
	}
	amount, err := optionalEventAmount(data.Amount)
	if err != nil {
		return err
	}
	if !intent.RemainingCapturable().IsPositive() {
		return nil
	}
	if _, err := gateway.escrows.captureLocked(ctx, transactionStore, intent, amount); err != nil {
		return err
	}
	result.Applied = true
	return nil
}

func (gateway *ReconciliationGateway) handleEscrowRefunded(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
	intent, data, err := gateway.lockEventEscrow(ctx, transactionStore, event, result)
	if err != nil {
		return err
	}
	amount, err := optionalEventAmount(data.Amount)
	if err != nil {
		return err
	}
	if intent.Status == EscrowStatusRefunded && !intent.RemainingRefundable().IsPositive() {
		return nil
	}
	refund, err := gateway.refunds.createLocked(ctx, transactionStore, intent, CreateRefundRequest{
		Amount: amount,
		Reason: data.Reason,
	})
	if err != nil {
		return err
	}
	result.EntityType = EntityRefund
	result.EntityID = refund.ID
	result.Applied = true
	return nil
}

func (gateway *ReconciliationGateway) handleEscrowHeld(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
	intent, data, err := gateway.lockEventEscrow(ctx, transactionStore, event, result)
	if err != nil {
		return err
	}
	if intent.Status == EscrowStatusHeld {
		return nil
	}
	if _, err := gateway.escrows.holdLocked(ctx, transactionStore, intent, SystemActor(), data.Reason); err != nil {
		return err
	}
	result.Applied = true
	return nil
}

func (gateway *ReconciliationGateway) handleEscrowReleased(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
	intent, _, err := gateway.lockEventEscrow(ctx, transactionStore, event, result)
	if err != nil {
		return err
	}
	if intent.Status != EscrowStatusHeld {
		return nil
	}
	if _, err := gateway.escrows.releaseLocked(ctx, transactionStore, intent); err != nil {
		return err
	}
	result.Applied = true
	return nil
}

func (gateway *ReconciliationGateway) handlePayoutOutcome(status PayoutStatus) eventHandler {
	return func(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
		var data payoutEventData
		if err := decodeEventData(event, &data); err != nil {
			return err
		}
		payoutID, err := NewPayoutID(data.PayoutID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		result.EntityType = EntityPayout
		result.EntityID = payoutID.String()
		payout, err := transactionStore.LockPayout(ctx, payoutID.String())
		if err != nil {
			return err
		}
		if payout.Status != PayoutStatusProcessing {
			return nil
		}
		if _, err := gateway.payouts.finalizeLocked(ctx, transactionStore, payout, PayoutOutcome{
			Status:         status,
			FailureCode:    data.FailureCode,
			FailureMessage: data.FailureMessage,
		}); err != nil {
			return err
		}
		result.Applied = true
		return nil
	}
}

func (gateway *ReconciliationGateway) handleBalanceUpdated(ctx context.Context, transactionStore Store, event Event, result *EventResult) error {
	var data balanceEventData
	if err := decodeEventData(event, &data); err != nil {
		return err
	}
	userID, err := NewUserID(data.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if data.AvailableBalance == nil && data.PendingBalance == nil {
		return fmt.Errorf("%w: no balance reported", ErrInvalidEvent)
	}
	wallet, err := gateway.wallets.ensureWallet(ctx, transactionStore, userID)
	if err != nil {
		return err
	}
	result.EntityType = EntityWallet
	result.EntityID = wallet.ID
	wallet, err = lockWallet(ctx, transactionStore, wallet.ID)
	if err != nil {
		return err
	}
	targetAvailable := wallet.AvailableBalance
	if data.AvailableBalance != nil {
		targetAvailable = *data.AvailableBalance
	}
	targetPending := wallet.PendingBalance
	if data.PendingBalance != nil {
		targetPending = *data.PendingBalance
	}
	if targetAvailable.IsNegative() || targetPending.IsNegative() || !targetAvailable.Equal(roundMoney(targetAvailable)) || !targetPending.Equal(roundMoney(targetPending)) {
		return fmt.Errorf("%w: balances must be non-negative with at most %d decimal places", ErrInvalidEvent, moneyScale)
	}
	availableDelta := targetAvailable.Sub(wallet.AvailableBalance)
	pendingDelta := targetPending.Sub(wallet.PendingBalance)
	if availableDelta.IsZero() && pendingDelta.IsZero() {
		return nil
	}
	entryType := EntryCredit
	if availableDelta.IsNegative() {
		entryType = EntryDebit
	}
	amount := availableDelta.Abs()
	if amount.IsZero() {
		amount = pendingDelta.Abs()
	}
	if _, err := gateway.wallets.ApplyLedgerEntry(ctx, transactionStore, wallet, EntryRequest{
		Amount:         amount,
		Category:       CategoryBalanceSync,
		EntryType:      entryType,
		Description:    "processor balance sync",
		EntityType:     EntityWallet,
		EntityID:       wallet.ID,
		AvailableDelta: &availableDelta,
		PendingDelta:   pendingDelta,
	}); err != nil {
		return err
	}
	result.Applied = true
	return nil
}
