package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/primaryrutabaga/ruby-gateway/pkg/boot"
	"github.com/primaryrutabaga/ruby-gateway/pkg/gateway"
	"github.com/primaryrutabaga/ruby-gateway/pkg/journal"
	"github.com/primaryrutabaga/ruby-gateway/pkg/metrics"
	"github.com/primaryrutabaga/ruby-gateway/pkg/natsx"
	"github.com/primaryrutabaga/ruby-gateway/pkg/schemas"
	"github.com/primaryrutabaga/ruby-gateway/pkg/tail"
)

const (
	serviceName     = "ruby-gateway"
	shutdownTimeout = 15 * time.Second
)

var (
	version   = "dev"
	commitSHA = "unknown"
)

func main() {
	cfg, err := boot.LoadConfig(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := boot.NewLogger(serviceName, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg boot.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gateway", zap.String("version", version), zap.String("commit", commitSHA))

	vault, err := boot.NewVault(cfg.VaultAddr, cfg.VaultToken, logger)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	seed, err := vault.NATSSeed(cfg.VaultNKEYPath)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	logger.Info("vault: fetched NATS seed", zap.String("path", cfg.VaultNKEYPath))

	var tlsMat *boot.TLSMaterial
	if cfg.NATSRequireMTLS || strings.HasPrefix(cfg.NATSUrl, "tls://") {
		tlsMat, err = vault.NATSTLS(cfg.VaultTLSPath)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
		logger.Info("vault: fetched NATS TLS material", zap.String("path", cfg.VaultTLSPath))
	}

	nc, err := boot.ConnectNATS(cfg, "ruby-core-gateway", seed, tlsMat, logger)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer nc.Close()
	logger.Info("connected to NATS", zap.String("url", cfg.NATSUrl))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	var rules *schemas.RuleFile
	if cfg.RulesPath != "" {
		rules, err = schemas.LoadRuleFile(cfg.RulesPath)
		if err != nil {
			return err
		}
		logger.Info("loaded rules", zap.String("path", cfg.RulesPath), zap.Int("rules", len(rules.Rules)))
	}

	hub := tail.NewHub(logger.Named("tail"), tail.WithClientCount(m.TailClients))
	opts := []gateway.Option{gateway.WithTail(hub)}

	databaseURL := cfg.DatabaseURL
	if databaseURL == "" && cfg.VaultDBPath != "" {
		databaseURL, err = vault.DatabaseURL(cfg.VaultDBPath)
		if err != nil {
			return fmt.Errorf("vault: %w", err)
		}
	}
	if databaseURL != "" {
		if err := journal.Migrate(databaseURL); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return fmt.Errorf("journal: connect: %w", err)
		}
		defer pool.Close()
		opts = append(opts, gateway.WithJournal(journal.New(pool)))
		logger.Info("journal enabled")
	} else {
		logger.Warn("DATABASE_URL not set, journal disabled")
	}

	router, err := gateway.NewRouter(rules, cfg.DefaultSource)
	if err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	handler := gateway.New(logger.Named("ingest"), m, router, natsx.NewPublisher(nc), cfg.MaxBodyBytes, opts...)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.Handle("/tail", hub)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- fmt.Errorf("http server: %w", err)
		}
		close(srvErr)
	}()
	logger.Info("listening", zap.String("addr", cfg.HTTPAddr))

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, reg)
	metricsErr := metricsSrv.Start()
	logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srvErr:
		return err
	case err := <-metricsErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	if err := nc.Drain(); err != nil {
		errs = append(errs, fmt.Errorf("nats drain: %w", err))
	}
	return errors.Join(errs...)
}
