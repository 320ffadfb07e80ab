// Package escrowd wires the escrow engines into a runnable daemon.
package escrowd

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"
)

const (
	defaultDatabaseURL    = "sqlite:///tmp/escrow.db"
	defaultListenAddr     = ":8080"
	defaultGRPCListenAddr = ":7000"
	defaultCurrency       = "USD"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultAdminRole      = "admin"
	defaultLogLevel       = "info"
)

// Config aggregates runtime settings for the escrow daemon.
type Config struct {
	DatabaseURL       string
	AutoMigrate       bool
	ListenAddr        string
	GRPCListenAddr    string
	PlatformFeeRate   decimal.Decimal
	DefaultCurrency   string
	WebhookSecret     string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	AdminRole         string
	LogLevel          string
}

// DefaultPlatformFeeRate is used when no fee rate is configured.
func DefaultPlatformFeeRate() decimal.Decimal {
	return ledger.DefaultEscrowConfig().FeeRate
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DefaultCurrency = defaultIfEmpty(cfg.DefaultCurrency, defaultCurrency)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.LogLevel = strings.ToLower(defaultIfEmpty(cfg.LogLevel, defaultLogLevel))

	if cfg.PlatformFeeRate.IsNegative() || cfg.PlatformFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("platform fee rate must be in [0, 1), got %s", cfg.PlatformFeeRate)
	}
	if _, err := ledger.NewCurrency(cfg.DefaultCurrency); err != nil {
		return fmt.Errorf("default currency: %w", err)
	}
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
