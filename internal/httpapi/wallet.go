package httpapi

import (
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type fundRequest struct {
	Amount   *decimal.Decimal     `json:"amount"`
	Metadata *ledger.MetadataJSON `json:"metadata"`
}

// subjectUser resolves the ?user_id= override. Only admins may look at other users.
func subjectUser(ctx *gin.Context, actor ledger.Actor) (ledger.UserID, error) {
	requested, err := optionalUserID(ctx.Query("user_id"))
	if err != nil {
		return ledger.UserID{}, err
	}
	if requested.IsZero() || requested.String() == actor.UserID.String() {
		return actor.UserID, nil
	}
	if !actor.Admin {
		return ledger.UserID{}, fmt.Errorf("%w: wallet belongs to another user", ledger.ErrForbidden)
	}
	return requested, nil
}

func (handler *httpHandler) handleBalances(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	userID, err := subjectUser(ctx, actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	balances, err := handler.services.Wallets.GetBalances(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": balances})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	userID, err := subjectUser(ctx, actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	before, ok := parseBefore(ctx)
	if !ok {
		return
	}
	window, ok := parseListWindow(ctx)
	if !ok {
		return
	}
	entries, err := handler.services.Wallets.ListEntries(ctx.Request.Context(), actor, userID, before, window.limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (handler *httpHandler) handleFund(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload fundRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	userID, err := ledger.NewUserID(ctx.Param("user_id"))
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
	balances, err := handler.services.Wallets.Fund(ctx.Request.Context(), actor, userID, amount, key, metadataOrEmpty(payload.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": balances})
}
