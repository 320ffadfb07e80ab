package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createEscrowRequest struct {
	PayeeUserID   string               `json:"payee_user_id"`
	ReferenceType string               `json:"reference_type"`
	ReferenceID   string               `json:"reference_id"`
	Amount        *decimal.Decimal     `json:"amount"`
	Currency      string               `json:"currency"`
	Metadata      *ledger.MetadataJSON `json:"metadata"`
}

type captureEscrowRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type holdEscrowRequest struct {
	Reason string `json:"reason"`
}

func (handler *httpHandler) handleCreateEscrow(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload createEscrowRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	request, err := buildCreateEscrowRequest(ctx, payload)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	intent, err := handler.services.Escrows.Create(ctx.Request.Context(), actor, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"escrow": intent})
}

func buildCreateEscrowRequest(ctx *gin.Context, payload createEscrowRequest) (ledger.CreateEscrowRequest, error) {
	payee, err := ledger.NewUserID(payload.PayeeUserID)
	if err != nil {
		return ledger.CreateEscrowRequest{}, err
	}
	reference, err := ledger.NewReference(payload.ReferenceType, payload.ReferenceID)
	if err != nil {
		return ledger.CreateEscrowRequest{}, err
	}
	amount, err := positiveAmount(payload.Amount)
	if err != nil {
		return ledger.CreateEscrowRequest{}, err
	}
	currency, err := optionalCurrency(payload.Currency)
	if err != nil {
		return ledger.CreateEscrowRequest{}, err
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		return ledger.CreateEscrowRequest{}, err
	}
	return ledger.CreateEscrowRequest{
		PayeeUserID:    payee,
		Reference:      reference,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Metadata:       metadataOrEmpty(payload.Metadata),
	}, nil
}

func (handler *httpHandler) handleGetEscrow(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	escrowID, err := ledger.NewEscrowID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	intent, err := handler.services.Escrows.Get(ctx.Request.Context(), actor, escrowID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"escrow": intent})
}

func (handler *httpHandler) handleListEscrows(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	window, ok := parseListWindow(ctx)
	if !ok {
		return
	}
	request := ledger.EscrowListRequest{
		Role:   ledger.EscrowRole(strings.TrimSpace(ctx.Query("role"))),
		Limit:  window.limit,
		Offset: window.offset,
	}
	var err error
	if request.UserID, err = optionalUserID(ctx.Query("user_id")); err != nil {
		handler.respondError(ctx, err)
		return
	}
	if rawStatus := strings.TrimSpace(ctx.Query("status")); rawStatus != "" {
		if request.Status, err = ledger.ParseEscrowStatus(rawStatus); err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	referenceType := ctx.Query("reference_type")
	referenceID := ctx.Query("reference_id")
	if referenceType != "" || referenceID != "" {
		reference, err := ledger.NewReference(referenceType, referenceID)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		request.Reference = &reference
	}
	intents, err := handler.services.Escrows.List(ctx.Request.Context(), actor, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"escrows": intents})
}

func (handler *httpHandler) handleCaptureEscrow(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload captureEscrowRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	escrowID, err := ledger.NewEscrowID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := optionalAmount(payload.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	intent, err := handler.services.Escrows.Capture(ctx.Request.Context(), actor, escrowID, ledger.CaptureRequest{
		Amount:         amount,
		IdempotencyKey: key,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"escrow": intent})
}

func (handler *httpHandler) handleCancelEscrow(ctx *gin.Context) {
	handler.transitionEscrow(ctx, func(ctx *gin.Context, actor ledger.Actor, escrowID ledger.EscrowID) (ledger.EscrowIntent, error) {
		return handler.services.Escrows.Cancel(ctx.Request.Context(), actor, escrowID)
	})
}

func (handler *httpHandler) handleHoldEscrow(ctx *gin.Context) {
	var payload holdEscrowRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	handler.transitionEscrow(ctx, func(ctx *gin.Context, actor ledger.Actor, escrowID ledger.EscrowID) (ledger.EscrowIntent, error) {
		return handler.services.Escrows.Hold(ctx.Request.Context(), actor, escrowID, payload.Reason)
	})
}

func (handler *httpHandler) handleReleaseEscrow(ctx *gin.Context) {
	handler.transitionEscrow(ctx, func(ctx *gin.Context, actor ledger.Actor, escrowID ledger.EscrowID) (ledger.EscrowIntent, error) {
		return handler.services.Escrows.Release(ctx.Request.Context(), actor, escrowID)
	})
}

type escrowTransition func(ctx *gin.Context, actor ledger.Actor, escrowID ledger.EscrowID) (ledger.EscrowIntent, error)

func (handler *httpHandler) transitionEscrow(ctx *gin.Context, transition escrowTransition) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	escrowID, err := ledger.NewEscrowID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	intent, err := transition(ctx, actor, escrowID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"escrow": intent})
}
