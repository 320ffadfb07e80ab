package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createRefundRequest struct {
	EscrowID string               `json:"escrow_id"`
	Amount   *decimal.Decimal     `json:"amount"`
	Reason   string               `json:"reason"`
	Deferred bool                 `json:"deferred"`
	Metadata *ledger.MetadataJSON `json:"metadata"`
}

type updateRefundRequest struct {
	Status   *string              `json:"status"`
	Reason   *string              `json:"reason"`
	Metadata *ledger.MetadataJSON `json:"metadata"`
}

func (handler *httpHandler) handleCreateRefund(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload createRefundRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	escrowID, err := ledger.NewEscrowID(payload.EscrowID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := positiveAmount(payload.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	refund, err := handler.services.Refunds.Create(ctx.Request.Context(), actor, ledger.CreateRefundRequest{
		EscrowID:       escrowID,
		Amount:         amount,
		Reason:         payload.Reason,
		Deferred:       payload.Deferred,
		IdempotencyKey: key,
		Metadata:       metadataOrEmpty(payload.Metadata),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"refund": refund})
}

func (handler *httpHandler) handleGetRefund(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	refundID, err := ledger.NewRefundID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	refund, err := handler.services.Refunds.Get(ctx.Request.Context(), actor, refundID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refund": refund})
}

func (handler *httpHandler) handleListRefunds(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	window, ok := parseListWindow(ctx)
	if !ok {
		return
	}
	request := ledger.RefundListRequest{
		EscrowID: ctx.Query("escrow_id"),
		Limit:    window.limit,
		Offset:   window.offset,
	}
	if rawStatus := strings.TrimSpace(ctx.Query("status")); rawStatus != "" {
		status, err := ledger.ParseRefundStatus(rawStatus)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		request.Status = status
	}
	refunds, err := handler.services.Refunds.List(ctx.Request.Context(), actor, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refunds": refunds})
}

func (handler *httpHandler) handleUpdateRefund(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload updateRefundRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	refundID, err := ledger.NewRefundID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	patch := ledger.RefundPatch{Reason: payload.Reason, Metadata: payload.Metadata}
	if payload.Status != nil {
		status, err := ledger.ParseRefundStatus(*payload.Status)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		patch.Status = &status
	}
	refund, err := handler.services.Refunds.Update(ctx.Request.Context(), actor, refundID, patch)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"refund": refund})
}

func (handler *httpHandler) handleDeleteRefund(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	refundID, err := ledger.NewRefundID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.services.Refunds.Delete(ctx.Request.Context(), actor, refundID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
