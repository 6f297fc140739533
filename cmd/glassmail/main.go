package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.io/infrasutra/glassmail/internal/api"
	"github.io/infrasutra/glassmail/internal/auth"
	"github.io/infrasutra/glassmail/internal/compose"
	"github.io/infrasutra/glassmail/internal/config"
	"github.io/infrasutra/glassmail/internal/dedup"
	"github.io/infrasutra/glassmail/internal/ingest"
	"github.io/infrasutra/glassmail/internal/metrics"
	"github.io/infrasutra/glassmail/internal/relay"
	"github.io/infrasutra/glassmail/internal/send"
	"github.io/infrasutra/glassmail/internal/sse"
	"github.io/infrasutra/glassmail/internal/store"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if cfg.DBDriver == store.DriverSQLite && cfg.DBPath == "" {
		logger.Warn("DB_PATH not set; mailbox is kept in memory")
	}

	authManager, err := auth.New(cfg.AuthSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("init auth", "error", err)
		os.Exit(1)
	}
	if cfg.AuthSecret == "" {
		logger.Warn("AUTH_SECRET not set; sessions reset on restart")
	}

	outbound, err := newRelay(cfg, logger)
	if err != nil {
		logger.Error("init relay", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	hub := sse.NewHub()
	sessions := compose.NewSessions(cfg.SuggestionDomains, compose.WithIdleTTL(cfg.ComposeIdleTTL))
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sessions.Run(sweepCtx, time.Minute)
	m.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "glassmail_compose_sessions",
		Help: "Open compose sessions.",
	}, func() float64 { return float64(sessions.Len()) }))

	ingestOpts := []ingest.Option{ingest.WithNotifier(hub), ingest.WithMetrics(m)}
	if cfg.RedisURL != "" {
		rdb, err := dedup.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		ingestOpts = append(ingestOpts, ingest.WithDeduper(dedup.NewFilter(rdb, cfg.DedupTTL)))
		logger.Info("webhook de-duplication enabled", "ttl", cfg.DedupTTL)
	}

	pipeline := send.New(outbound, db, logger, send.WithNotifier(hub), send.WithMetrics(m))
	ingester := ingest.New(db, logger, ingestOpts...)

	apiServer := api.NewServer(cfg, api.Dependencies{
		Store:    db,
		Auth:     authManager,
		Hub:      hub,
		Pipeline: pipeline,
		Ingester: ingester,
		Sessions: sessions,
		Metrics:  m,
	}, logger)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", httpAddr, "relay", cfg.RelayDriver, "store", cfg.DBDriver)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
}

func newRelay(cfg config.Config, logger *slog.Logger) (relay.Relay, error) {
	switch cfg.RelayDriver {
	case "smtp":
		return relay.NewSMTP(cfg.SMTPRelayAddr, cfg.SMTPRelayUsername, cfg.SMTPRelayPassword, cfg.DefaultFromAddress, logger), nil
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, errors.New("RESEND_API_KEY is required for the resend relay")
		}
		return relay.NewResend(cfg.ResendAPIKey, cfg.ResendBaseURL, cfg.DefaultFromAddress, logger), nil
	}
	return nil, fmt.Errorf("unknown relay driver %q", cfg.RelayDriver)
}
