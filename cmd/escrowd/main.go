package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/escrow/internal/escrowd"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL     = "database-url"
	flagAutoMigrate     = "auto-migrate"
	flagListenAddr      = "listen-addr"
	flagGRPCListenAddr  = "grpc-listen-addr"
	flagPlatformFeeRate = "platform-fee-rate"
	flagDefaultCurrency = "default-currency"
	flagWebhookSecret   = "webhook-secret"
	flagAllowedOrigins  = "allowed-origins"
	flagJWTSigningKey   = "jwt-signing-key"
	flagJWTIssuer       = "jwt-issuer"
	flagJWTCookieName   = "jwt-cookie-name"
	flagAdminRole       = "admin-role"
	flagLogLevel        = "log-level"
	envPrefix           = "ESCROWD"
	envFeeRateAlias     = "PLATFORM_FEE_RATE"
)

var boundFlags = []string{
	flagDatabaseURL,
	flagAutoMigrate,
	flagListenAddr,
	flagGRPCListenAddr,
	flagPlatformFeeRate,
	flagDefaultCurrency,
	flagWebhookSecret,
	flagAllowedOrigins,
	flagJWTSigningKey,
	flagJWTIssuer,
	flagJWTCookieName,
	flagAdminRole,
	flagLogLevel,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := escrowd.Config{}
	cmd := &cobra.Command{
		Use:           "escrowd",
		Short:         "Escrow and payout ledger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return escrowd.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, "sqlite:///tmp/escrow.db", "postgres://, sqlite:// or memory:// database URL")
	cmd.Flags().Bool(flagAutoMigrate, false, "auto-migrate postgres schemas on start")
	cmd.Flags().String(flagListenAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, ":7000", "gRPC health listen address")
	cmd.Flags().String(flagPlatformFeeRate, escrowd.DefaultPlatformFeeRate().String(), "fraction of each capture withheld as platform fee")
	cmd.Flags().String(flagDefaultCurrency, "USD", "currency for new wallets")
	cmd.Flags().String(flagWebhookSecret, "", "shared secret for processor webhook signatures (required)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().String(flagAdminRole, "admin", "session role granting administrator access")
	cmd.Flags().String(flagLogLevel, "info", "log level (debug, info, warn, error)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *escrowd.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	if err := v.BindEnv(flagPlatformFeeRate, envPrefix+"_"+envFeeRateAlias, envFeeRateAlias); err != nil {
		return err
	}

	feeRate, err := decimal.NewFromString(strings.TrimSpace(v.GetString(flagPlatformFeeRate)))
	if err != nil {
		return fmt.Errorf("%s: %w", flagPlatformFeeRate, err)
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.AutoMigrate = v.GetBool(flagAutoMigrate)
	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.PlatformFeeRate = feeRate
	cfg.DefaultCurrency = strings.TrimSpace(v.GetString(flagDefaultCurrency))
	cfg.WebhookSecret = v.GetString(flagWebhookSecret)
	cfg.AllowedOrigins = escrowd.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagJWTIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagJWTCookieName))
	cfg.AdminRole = strings.TrimSpace(v.GetString(flagAdminRole))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))

	return cfg.Validate()
}
