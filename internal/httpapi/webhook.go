package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	maxWebhookBodyBytes = 1 << 20
	signaturePrefix     = "sha256="
)

// SignPayload returns the hex HMAC-SHA256 of body keyed by secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), signaturePrefix))
	if err != nil || len(provided) == 0 {
		return false
	}
	expected, _ := hex.DecodeString(SignPayload(secret, body))
	return hmac.Equal(provided, expected)
}

func (handler *httpHandler) handleProcessorWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		respondInvalidPayload(ctx, "unreadable body")
		return
	}
	if len(body) > maxWebhookBodyBytes {
		ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorResponse("payload_too_large", "event body too large"))
		return
	}
	if !validSignature(handler.webhookSecret, body, ctx.GetHeader(headerSignature)) {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid_signature", "signature mismatch"))
		return
	}
	var event ledger.Event
	if err := json.Unmarshal(body, &event); err != nil {
		respondInvalidPayload(ctx, "event must be a json object")
		return
	}
	result, err := handler.services.Reconciliation.HandleEvent(ctx.Request.Context(), event)
	if err != nil {
		handler.logger.Warn("processor event rejected",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"result": result})
}
