// Command merchantd is the merchant backend's process entrypoint: it loads
// configuration, opens the store, wires every component, and serves the
// HTTP surface until a termination or restart signal arrives, grounded on
// services/payments-gateway/main.go's wiring-and-graceful-shutdown shape.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"merchantbackend/config"
	"merchantbackend/exchange"
	"merchantbackend/httpapi"
	"merchantbackend/httpapi/middleware"
	"merchantbackend/instance"
	"merchantbackend/keystate"
	"merchantbackend/observability/logging"
	telemetry "merchantbackend/observability/otel"
	"merchantbackend/orders"
	"merchantbackend/payment"
	"merchantbackend/refund"
	"merchantbackend/store"
	"merchantbackend/wiretransfer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	env := strings.TrimSpace(os.Getenv("MERCHANT_ENV"))
	logger := logging.Setup("merchantd", env)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "merchantd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	notifier := store.NewNotifier()

	limiter := exchange.NewHostLimiter(exchange.HostLimit{RatePerSecond: 20, Burst: 20})
	exchangeClient := exchange.NewClient(15*time.Second, limiter)

	ksManager := keystate.NewManager(exchangeClient, masterVerifierFor(cfg), cfg.KeyLookahead)
	trustPolicy := keystate.NewTrustPolicy(cfg.RequireAuditing, auditorNames(cfg))
	for _, ex := range cfg.Exchanges {
		ksManager.RegisterExchange(ex.URL, trustPolicy)
	}
	coordinator := keystate.NewCoordinator(ksManager, logger, time.Minute)

	instances := instance.NewService(db, cfg.KeyDir)
	orderEngine := orders.NewEngine(db, instances, configTrust{cfg: cfg})
	pipeline := payment.NewPipeline(db, ksManager, exchangeClient, walletCoinVerifier{}, instances, notifier)
	refundEngine := refund.NewEngine(db, exchangeClient, instances, ksManager, notifier)
	transfers := wiretransfer.NewTracker(db, exchangeClient)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Secret: cfg.JWTSecret,
		Issuer: "merchantd",
	})

	server := httpapi.New(db, cfg, instances, orderEngine, pipeline, refundEngine, transfers, notifier, auth)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: otelhttp.NewHandler(server.Handler(), "merchantd"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("merchantd listening", slog.String("address", cfg.ListenAddress))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	exitCode := coordinator.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	return exitCode
}

func auditorNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Auditors))
	for _, a := range cfg.Auditors {
		names = append(names, a.Name)
	}
	return names
}
