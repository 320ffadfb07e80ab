package httpapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const internalErrorMessage = "internal error"

var statusByKind = map[ledger.Kind]int{
	ledger.KindValidation:        http.StatusBadRequest,
	ledger.KindNotFound:          http.StatusNotFound,
	ledger.KindForbidden:         http.StatusForbidden,
	ledger.KindInvalidState:      http.StatusConflict,
	ledger.KindInsufficientFunds: http.StatusUnprocessableEntity,
	ledger.KindCurrencyMismatch:  http.StatusUnprocessableEntity,
	ledger.KindUnsupportedEvent:  http.StatusBadRequest,
	ledger.KindConflict:          http.StatusConflict,
}

// StatusForError maps an engine error to its HTTP status.
func StatusForError(err error) int {
	if status, ok := statusByKind[ledger.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status := StatusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("route", ctx.FullPath()),
			zap.Error(err),
		)
		message = internalErrorMessage
	}
	ctx.AbortWithStatusJSON(status, errorResponse(ledger.ErrorCode(err), message))
}

func respondInvalidPayload(ctx *gin.Context, message string) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse("invalid_payload", message))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
