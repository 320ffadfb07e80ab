package httpapi

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// bindJSON decodes an optional body. An empty body is accepted.
func bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		respondInvalidPayload(ctx, err.Error())
		return false
	}
	return true
}

func idempotencyKey(ctx *gin.Context) (ledger.IdempotencyKey, error) {
	return ledger.OptionalIdempotencyKey(ctx.GetHeader(headerIdempotencyKey))
}

func positiveAmount(value *decimal.Decimal) (ledger.PositiveAmount, error) {
	if value == nil {
		return ledger.PositiveAmount{}, fmt.Errorf("%w: amount is required", ledger.ErrInvalidAmount)
	}
	return ledger.NewPositiveAmount(*value)
}

// optionalAmount returns the zero amount when the field is absent.
func optionalAmount(value *decimal.Decimal) (ledger.PositiveAmount, error) {
	if value == nil {
		return ledger.PositiveAmount{}, nil
	}
	return ledger.NewPositiveAmount(*value)
}

func optionalCurrency(raw string) (ledger.Currency, error) {
	if strings.TrimSpace(raw) == "" {
		return ledger.Currency{}, nil
	}
	return ledger.NewCurrency(raw)
}

func metadataOrEmpty(metadata *ledger.MetadataJSON) ledger.MetadataJSON {
	if metadata == nil {
		return ledger.MetadataJSON{}
	}
	return *metadata
}

type listWindow struct {
	limit  int
	offset int
}

func parseListWindow(ctx *gin.Context) (listWindow, bool) {
	var window listWindow
	fields := []struct {
		name   string
		target *int
	}{{"limit", &window.limit}, {"offset", &window.offset}}
	for _, field := range fields {
		raw := strings.TrimSpace(ctx.Query(field.name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			respondInvalidPayload(ctx, field.name+" must be an integer")
			return listWindow{}, false
		}
		*field.target = value
	}
	return window, true
}

func parseBefore(ctx *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(ctx.Query("before"))
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		respondInvalidPayload(ctx, "before must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return parsed, true
}

// optionalUserID parses a user query filter; blank means no filter.
func optionalUserID(raw string) (ledger.UserID, error) {
	if strings.TrimSpace(raw) == "" {
		return ledger.UserID{}, nil
	}
	return ledger.NewUserID(raw)
}
