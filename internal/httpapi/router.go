// Package httpapi exposes the escrow engines over HTTP.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey     = "auth_claims"
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Processor-Signature"
	defaultAdminRole     = "admin"
)

var errMissingDependency = errors.New("httpapi: missing dependency")

// Config carries the HTTP-level settings.
type Config struct {
	AllowedOrigins []string
	AdminRole      string
	WebhookSecret  string
}

// Services bundles the engines the handlers call.
type Services struct {
	Wallets        *ledger.WalletManager
	Escrows        *ledger.EscrowEngine
	Payouts        *ledger.PayoutEngine
	Refunds        *ledger.RefundEngine
	Reconciliation *ledger.ReconciliationGateway
}

// NewRouter builds the gin engine. sessionMiddleware must store
// *sessionvalidator.Claims under "auth_claims"; see SessionMiddleware.
// A nil metricsHandler serves the default prometheus registry.
func NewRouter(cfg Config, services Services, sessionMiddleware gin.HandlerFunc, metricsHandler http.Handler, logger *zap.Logger) (*gin.Engine, error) {
	if services.Wallets == nil || services.Escrows == nil || services.Payouts == nil || services.Refunds == nil || services.Reconciliation == nil {
		return nil, errMissingDependency
	}
	if sessionMiddleware == nil {
		return nil, errMissingDependency
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("httpapi: webhook secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	adminRole := strings.TrimSpace(cfg.AdminRole)
	if adminRole == "" {
		adminRole = defaultAdminRole
	}
	handler := &httpHandler{
		logger:        logger,
		services:      services,
		adminRole:     adminRole,
		webhookSecret: cfg.WebhookSecret,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerIdempotencyKey},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	router.POST("/webhooks/processor", handler.handleProcessorWebhook)

	api := router.Group("/api")
	api.Use(sessionMiddleware)

	api.GET("/wallet", handler.handleBalances)
	api.GET("/wallet/entries", handler.handleEntries)
	api.POST("/admin/wallets/:user_id/fund", handler.handleFund)

	api.GET("/wallet/payment-methods", handler.handleListPaymentMethods)
	api.POST("/wallet/payment-methods", handler.handleAddPaymentMethod)
	api.GET("/wallet/payment-methods/:id", handler.handleGetPaymentMethod)
	api.PATCH("/wallet/payment-methods/:id", handler.handleUpdatePaymentMethod)
	api.DELETE("/wallet/payment-methods/:id", handler.handleDeletePaymentMethod)

	api.GET("/wallet/payout-accounts", handler.handleListPayoutAccounts)
	api.POST("/wallet/payout-accounts", handler.handleAddPayoutAccount)
	api.GET("/wallet/payout-accounts/:id", handler.handleGetPayoutAccount)
	api.PATCH("/wallet/payout-accounts/:id", handler.handleUpdatePayoutAccount)
	api.DELETE("/wallet/payout-accounts/:id", handler.handleDeletePayoutAccount)

	api.GET("/escrows", handler.handleListEscrows)
	api.POST("/escrows", handler.handleCreateEscrow)
	api.GET("/escrows/:id", handler.handleGetEscrow)
	api.POST("/escrows/:id/capture", handler.handleCaptureEscrow)
	api.POST("/escrows/:id/cancel", handler.handleCancelEscrow)
	api.POST("/escrows/:id/hold", handler.handleHoldEscrow)
	api.POST("/escrows/:id/release", handler.handleReleaseEscrow)

	api.GET("/payouts", handler.handleListPayouts)
	api.POST("/payouts", handler.handleCreatePayout)
	api.GET("/payouts/:id", handler.handleGetPayout)
	api.PATCH("/payouts/:id", handler.handleUpdatePayout)
	api.DELETE("/payouts/:id", handler.handleDeletePayout)

	api.GET("/refunds", handler.handleListRefunds)
	api.POST("/refunds", handler.handleCreateRefund)
	api.GET("/refunds/:id", handler.handleGetRefund)
	api.PATCH("/refunds/:id", handler.handleUpdateRefund)
	api.DELETE("/refunds/:id", handler.handleDeleteRefund)

	return router, nil
}

// SessionMiddleware validates the tauth session cookie and stores its claims.
func SessionMiddleware(signingKey string, issuer string, cookieName string) (gin.HandlerFunc, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(signingKey),
		Issuer:     issuer,
		CookieName: cookieName,
	})
	if err != nil {
		return nil, err
	}
	return validator.GinMiddleware(claimsContextKey), nil
}

type httpHandler struct {
	logger        *zap.Logger
	services      Services
	adminRole     string
	webhookSecret string
}

// actor resolves the caller or writes 401.
func (handler *httpHandler) actor(ctx *gin.Context) (ledger.Actor, bool) {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.Actor{}, false
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.Actor{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return ledger.Actor{}, false
	}
	admin := false
	for _, role := range claims.UserRoles {
		if role == handler.adminRole {
			admin = true
			break
		}
	}
	return ledger.NewActor(userID, admin), true
}
