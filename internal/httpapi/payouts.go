package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createPayoutRequest struct {
	PayoutAccountID string               `json:"payout_account_id"`
	Amount          *decimal.Decimal     `json:"amount"`
	Currency        string               `json:"currency"`
	Metadata        *ledger.MetadataJSON `json:"metadata"`
}

type updatePayoutRequest struct {
	Status         *string              `json:"status"`
	FailureCode    *string              `json:"failure_code"`
	FailureMessage *string              `json:"failure_message"`
	Metadata       *ledger.MetadataJSON `json:"metadata"`
}

func (handler *httpHandler) handleCreatePayout(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload createPayoutRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	accountID, err := ledger.NewInstrumentID(payload.PayoutAccountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	amount, err := positiveAmount(payload.Amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	currency, err := optionalCurrency(payload.Currency)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	key, err := idempotencyKey(ctx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payout, err := handler.services.Payouts.Create(ctx.Request.Context(), actor, ledger.CreatePayoutRequest{
		PayoutAccountID: accountID,
		Amount:          amount,
		Currency:        currency,
		IdempotencyKey:  key,
		Metadata:        metadataOrEmpty(payload.Metadata),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"payout": payout})
}

func (handler *httpHandler) handleGetPayout(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	payoutID, err := ledger.NewPayoutID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payout, err := handler.services.Payouts.Get(ctx.Request.Context(), actor, payoutID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payout": payout})
}

func (handler *httpHandler) handleListPayouts(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	window, ok := parseListWindow(ctx)
	if !ok {
		return
	}
	request := ledger.PayoutListRequest{Limit: window.limit, Offset: window.offset}
	var err error
	if request.UserID, err = optionalUserID(ctx.Query("user_id")); err != nil {
		handler.respondError(ctx, err)
		return
	}
	if rawStatus := strings.TrimSpace(ctx.Query("status")); rawStatus != "" {
		if request.Status, err = ledger.ParsePayoutStatus(rawStatus); err != nil {
			handler.respondError(ctx, err)
			return
		}
	}
	payouts, err := handler.services.Payouts.List(ctx.Request.Context(), actor, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

func (handler *httpHandler) handleUpdatePayout(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload updatePayoutRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	payoutID, err := ledger.NewPayoutID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	patch := ledger.PayoutPatch{
		FailureCode:    payload.FailureCode,
		FailureMessage: payload.FailureMessage,
		Metadata:       payload.Metadata,
	}
	if payload.Status != nil {
		status, err := ledger.ParsePayoutStatus(*payload.Status)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		patch.Status = &status
	}
	payout, err := handler.services.Payouts.Update(ctx.Request.Context(), actor, payoutID, patch)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payout": payout})
}

func (handler *httpHandler) handleDeletePayout(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	payoutID, err := ledger.NewPayoutID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.services.Payouts.Delete(ctx.Request.Context(), actor, payoutID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
