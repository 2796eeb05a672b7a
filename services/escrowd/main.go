package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"escrowledger/config"
	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/core/types"
	"escrowledger/integrations/webhooks"
	"escrowledger/native/escrow"
	"escrowledger/observability"
	"escrowledger/observability/logging"
	telemetry "escrowledger/observability/otel"
	"escrowledger/services/escrowd/audit"
	"escrowledger/services/escrowd/middleware"
	"escrowledger/services/escrowd/server"
	"escrowledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to escrowd configuration file (yaml or toml)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("escrowd: load config: %v", err)
	}

	opts := []logging.Option{logging.WithLevel(cfg.Logging.Level)}
	if cfg.Logging.File != "" {
		opts = append(opts, logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays))
	}
	logger := logging.Setup("escrowd", cfg.Environment, opts...)
	logger.Info("escrowd: configuration loaded",
		"listen", cfg.ListenAddress,
		"storage", cfg.Storage.Backend,
		"audit", cfg.Audit.Enabled,
		logging.MaskField("auth_secret", cfg.Auth.HMACSecret),
		logging.MaskField("webhook_secret", cfg.Webhook.Secret),
	)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("escrowd: init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("escrowd: open storage: %v", err)
	}
	defer db.Close()

	bank := state.NewManager(db)
	engine := escrow.NewEngine(bank)
	bus := events.NewBus()
	engine.SetEmitter(bus)

	var history server.History
	if cfg.Audit.Enabled {
		auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
		if err != nil {
			log.Fatalf("escrowd: %v", err)
		}
		recorder, err := audit.NewRecorder(auditDB, logger)
		if err != nil {
			log.Fatalf("escrowd: %v", err)
		}
		bus.AddSink(recorder)
		history = recorder
	}

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		dispatcher, err := webhooks.NewDispatcher(url, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 2*time.Second, 30*time.Second),
		)
		if err != nil {
			log.Fatalf("escrowd: webhook: %v", err)
		}
		defer dispatcher.Close()
		bus.AddSink(dispatcher)
	}

	bus.AddSink(events.SinkFunc(func(evt *types.Event) {
		logger.Debug("escrowd: ledger event", slog.String("type", evt.Type), slog.String("id", evt.Attr("id")))
	}))

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AdminScope:    cfg.Auth.AdminScope,
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	}, server.Deps{
		Engine:   engine,
		Bank:     bank,
		Bus:      bus,
		History:  history,
		Metrics:  observability.Escrow(),
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("escrowd: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("escrowd: server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("escrowd: shut down")
}
