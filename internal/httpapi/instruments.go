package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type paymentMethodRequest struct {
	Type        string               `json:"type"`
	Provider    string               `json:"provider"`
	ProviderRef string               `json:"provider_ref"`
	Brand       string               `json:"brand"`
	Last4       string               `json:"last4"`
	ExpMonth    int                  `json:"exp_month"`
	ExpYear     int                  `json:"exp_year"`
	MakeDefault bool                 `json:"make_default"`
	Metadata    *ledger.MetadataJSON `json:"metadata"`
}

type paymentMethodPatch struct {
	MakeDefault bool                 `json:"make_default"`
	ExpMonth    *int                 `json:"exp_month"`
	ExpYear     *int                 `json:"exp_year"`
	Metadata    *ledger.MetadataJSON `json:"metadata"`
}

type payoutAccountRequest struct {
	Type        string               `json:"type"`
	Provider    string               `json:"provider"`
	ProviderRef string               `json:"provider_ref"`
	HolderName  string               `json:"holder_name"`
	Last4       string               `json:"last4"`
	Currency    string               `json:"currency"`
	MakeDefault bool                 `json:"make_default"`
	Metadata    *ledger.MetadataJSON `json:"metadata"`
}

type payoutAccountPatch struct {
	MakeDefault bool                 `json:"make_default"`
	HolderName  *string              `json:"holder_name"`
	Metadata    *ledger.MetadataJSON `json:"metadata"`
}

func (handler *httpHandler) handleListPaymentMethods(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	methods, err := handler.services.Wallets.ListPaymentMethods(ctx.Request.Context(), actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment_methods": methods})
}

func (handler *httpHandler) handleAddPaymentMethod(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload paymentMethodRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	method, err := handler.services.Wallets.AddPaymentMethod(ctx.Request.Context(), actor, ledger.PaymentMethodRequest{
		Type:        ledger.InstrumentType(payload.Type),
		Provider:    payload.Provider,
		ProviderRef: payload.ProviderRef,
		Brand:       payload.Brand,
		Last4:       payload.Last4,
		ExpMonth:    payload.ExpMonth,
		ExpYear:     payload.ExpYear,
		MakeDefault: payload.MakeDefault,
		Metadata:    metadataOrEmpty(payload.Metadata),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"payment_method": method})
}

func (handler *httpHandler) handleGetPaymentMethod(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	methodID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	method, err := handler.services.Wallets.GetPaymentMethod(ctx.Request.Context(), actor, methodID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment_method": method})
}

func (handler *httpHandler) handleUpdatePaymentMethod(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload paymentMethodPatch
	if !bindJSON(ctx, &payload) {
		return
	}
	methodID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	method, err := handler.services.Wallets.UpdatePaymentMethod(ctx.Request.Context(), actor, methodID, ledger.PaymentMethodPatch{
		MakeDefault: payload.MakeDefault,
		ExpMonth:    payload.ExpMonth,
		ExpYear:     payload.ExpYear,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment_method": method})
}

func (handler *httpHandler) handleDeletePaymentMethod(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	methodID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.services.Wallets.DeletePaymentMethod(ctx.Request.Context(), actor, methodID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleListPayoutAccounts(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	accounts, err := handler.services.Wallets.ListPayoutAccounts(ctx.Request.Context(), actor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payout_accounts": accounts})
}

func (handler *httpHandler) handleAddPayoutAccount(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload payoutAccountRequest
	if !bindJSON(ctx, &payload) {
		return
	}
	currency, err := optionalCurrency(payload.Currency)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.services.Wallets.AddPayoutAccount(ctx.Request.Context(), actor, ledger.PayoutAccountRequest{
		Type:        ledger.InstrumentType(payload.Type),
		Provider:    payload.Provider,
		ProviderRef: payload.ProviderRef,
		HolderName:  payload.HolderName,
		Last4:       payload.Last4,
		Currency:    currency,
		MakeDefault: payload.MakeDefault,
		Metadata:    metadataOrEmpty(payload.Metadata),
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"payout_account": account})
}

func (handler *httpHandler) handleGetPayoutAccount(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	accountID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.services.Wallets.GetPayoutAccount(ctx.Request.Context(), actor, accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payout_account": account})
}

func (handler *httpHandler) handleUpdatePayoutAccount(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	var payload payoutAccountPatch
	if !bindJSON(ctx, &payload) {
		return
	}
	accountID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	account, err := handler.services.Wallets.UpdatePayoutAccount(ctx.Request.Context(), actor, accountID, ledger.PayoutAccountPatch{
		MakeDefault: payload.MakeDefault,
		HolderName:  payload.HolderName,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payout_account": account})
}

func (handler *httpHandler) handleDeletePayoutAccount(ctx *gin.Context) {
	actor, ok := handler.actor(ctx)
	if !ok {
		return
	}
	accountID, err := ledger.NewInstrumentID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := handler.services.Wallets.DeletePayoutAccount(ctx.Request.Context(), actor, accountID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
