package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type engineCore struct {
	store  Store
	nowFn  func() time.Time
	idFn   func() string
	logger OperationLogger
}

func newEngineCore(store Store, now func() time.Time, options []Option) (engineCore, error) {
	if store == nil {
		return engineCore{}, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return engineCore{}, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	core := engineCore{store: store, nowFn: now, idFn: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(&core)
		}
	}
	return core, nil
}

func (core *engineCore) now() time.Time {
	return core.nowFn().UTC()
}

func (core *engineCore) logOperation(ctx context.Context, entry OperationLog) {
	if core.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	core.logger.LogOperation(ctx, entry)
}

// idempotentCall identifies a keyed request: the scope is operation plus actor, the
// fingerprint hashes the request fields.
type idempotentCall struct {
	scope       string
	key         IdempotencyKey
	fingerprint string
}

func newIdempotentCall(operation string, actor Actor, key IdempotencyKey, parts ...string) idempotentCall {
	digest := sha256.Sum256([]byte(strings.Join(parts, idempotencyFingerprintDelim)))
	return idempotentCall{
		scope:       operation + idempotencyScopeDelimiter + actor.UserID.String(),
		key:         key,
		fingerprint: hex.EncodeToString(digest[:]),
	}
}

func (call idempotentCall) enabled() bool {
	return !call.key.IsZero()
}

func (call idempotentCall) lookup(ctx context.Context, store Store) (string, bool, error) {
	if !call.enabled() {
		return "", false, nil
	}
	record, err := store.GetIdempotencyRecord(ctx, call.scope, call.key.String())
	if errors.Is(err, ErrUnknownIdempotencyKey) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if record.Fingerprint != call.fingerprint {
		return "", false, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, call.key.String())
	}
	return record.EntityID, true, nil
}

func (call idempotentCall) remember(ctx context.Context, txStore Store, entityType EntityType, entityID string, now time.Time) error {
	if !call.enabled() {
		return nil
	}
	return txStore.InsertIdempotencyRecord(ctx, IdempotencyRecord{
		Scope:       call.scope,
		Key:         call.key.String(),
		Fingerprint: call.fingerprint,
		EntityType:  entityType,
		EntityID:    entityID,
		CreatedAt:   now,
	})
}

// runIdempotent applies mutate in one transaction and records the key with the
// resulting entity id. A key seen before skips mutate and calls replay instead.
func (core *engineCore) runIdempotent(
	ctx context.Context,
	call idempotentCall,
	entityType EntityType,
	mutate func(ctx context.Context, transactionStore Store) (string, error),
	replay func(ctx context.Context, entityID string) error,
) error {
	entityID, found, err := call.lookup(ctx, core.store)
	if err != nil {
		return err
	}
	if found {
		return replay(ctx, entityID)
	}
	transactionError := core.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		mutatedID, err := mutate(ctx, transactionStore)
		if err != nil {
			return err
		}
		return call.remember(ctx, transactionStore, entityType, mutatedID, core.now())
	})
	if transactionError != nil && call.enabled() && errors.Is(transactionError, ErrDuplicateIdempotencyKey) {
		winnerID, found, err := call.lookup(ctx, core.store)
		if err != nil {
			return err
		}
		if found {
			return replay(ctx, winnerID)
		}
	}
	return transactionError
}

func normalizeListWindow(limit int, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidListLimit)
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		return 0, 0, fmt.Errorf("%w: at most %d", ErrInvalidListLimit, maxListLimit)
	}
	return limit, offset, nil
}

func canAccessWallet(actor Actor, wallet Wallet) bool {
	return actor.Admin || wallet.UserID == actor.UserID.String()
}

func timePointer(value time.Time) *time.Time {
	return &value
}
