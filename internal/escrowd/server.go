package escrowd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/escrow/internal/httpapi"
	"github.com/MarkoPoloResearchLab/escrow/internal/oplog"
	"github.com/MarkoPoloResearchLab/escrow/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const shutdownTimeout = 5 * time.Second

// NewServices builds the engines over one store.
func NewServices(store ledger.Store, cfg Config, now func() time.Time, options ...ledger.Option) (httpapi.Services, error) {
	currency, err := ledger.NewCurrency(cfg.DefaultCurrency)
	if err != nil {
		return httpapi.Services{}, err
	}
	wallets, err := ledger.NewWalletManager(store, currency, now, options...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("wallet manager: %w", err)
	}
	escrows, err := ledger.NewEscrowEngine(store, wallets, ledger.EscrowConfig{FeeRate: cfg.PlatformFeeRate}, now, options...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("escrow engine: %w", err)
	}
	payouts, err := ledger.NewPayoutEngine(store, wallets, now, options...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("payout engine: %w", err)
	}
	refunds, err := ledger.NewRefundEngine(store, wallets, now, options...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("refund engine: %w", err)
	}
	reconciliation, err := ledger.NewReconciliationGateway(store, wallets, escrows, payouts, refunds, now, options...)
	if err != nil {
		return httpapi.Services{}, fmt.Errorf("reconciliation gateway: %w", err)
	}
	return httpapi.Services{
		Wallets:        wallets,
		Escrows:        escrows,
		Payouts:        payouts,
		Refunds:        refunds,
		Reconciliation: reconciliation,
	}, nil
}

// NewLogger builds a production logger, or a development one for debug.
func NewLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if parsed == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parsed)
	return config.Build()
}

// NewHandler assembles the HTTP handler with metrics and operation logging.
func NewHandler(store ledger.Store, cfg Config, logger *zap.Logger, registry *prometheus.Registry) (http.Handler, error) {
	recorder := oplog.NewPrometheusRecorder(registry)
	operationLogger := oplog.Fanout(oplog.NewZapLogger(logger), recorder)
	now := func() time.Time { return time.Now().UTC() }
	services, err := NewServices(store, cfg, now, ledger.WithOperationLogger(operationLogger))
	if err != nil {
		return nil, err
	}
	sessionMiddleware, err := httpapi.SessionMiddleware(cfg.SessionSigningKey, cfg.SessionIssuer, cfg.SessionCookieName)
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		AdminRole:      cfg.AdminRole,
		WebhookSecret:  cfg.WebhookSecret,
	}, services, sessionMiddleware, metricsHandler, logger)
	if err != nil {
		return nil, err
	}
	return router, nil
}

// Run serves HTTP and gRPC health until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			logger.Warn("database close error", zap.Error(closeErr))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler, err := NewHandler(store, cfg, logger, registry)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("escrowd listening", zap.String("addr", cfg.ListenAddr))
		if serveErr := server.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()
	go func() {
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- serveErr
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("server shutdown error", zap.Error(shutdownErr))
	}
	grpcServer.GracefulStop()
	return runErr
}
