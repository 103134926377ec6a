/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command verification-service wires the progressive-trust verification
// engine's orchestrator, durable store, and notification/metrics surfaces
// into one long-running process.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/communitytrust/verification/internal/config"
	"github.com/communitytrust/verification/internal/externalclients"
	"github.com/communitytrust/verification/pkg/notification"
	"github.com/communitytrust/verification/pkg/verification/activities"
	"github.com/communitytrust/verification/pkg/verification/authz"
	"github.com/communitytrust/verification/pkg/verification/metrics"
	"github.com/communitytrust/verification/pkg/verification/orchestrator"
	"github.com/communitytrust/verification/pkg/verification/saga"
	"github.com/communitytrust/verification/pkg/verification/store/postgres"
)

func main() {
	configPath := flag.String("config", "/etc/verification-service/config.yaml", "Path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := buildZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zapLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Postgres.DSN)
	if err != nil {
		log.Error(err, "postgres open failed")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxConns)

	if err := postgres.Migrate(db); err != nil {
		log.Error(err, "migration failed")
		os.Exit(1)
	}
	st := postgres.New(db, zapLog)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	defer redisClient.Close()
	gate := authz.NewRedisRecheckGate(redisClient)

	notifier := buildNotifier(cfg.Notification)
	scanner := buildDocumentScanner(cfg.ExternalServices)
	credentials := buildCredentialRegistry(cfg.ExternalServices)
	acts := activities.New(notifier, scanner, credentials)

	compensator := saga.NewCompensator(st, time.Now)
	m := metrics.NewMetrics()

	orchCfg := orchestrator.Config{
		Deadlines: orchestrator.Deadlines{
			EmailPhone:   cfg.Orchestrator.EmailPhoneDeadline.Duration,
			GovernmentID: cfg.Orchestrator.GovernmentIDDeadline.Duration,
			TwoParty:     cfg.Orchestrator.TwoPartyDeadline.Duration,
		},
		ExpirySweepInterval:  cfg.Orchestrator.ExpirySweepInterval.Duration,
		ContinueAsNewAfter:   cfg.Orchestrator.ContinueAsNewAfter,
		MaxWrongCodeAttempts: cfg.Orchestrator.MaxWrongCodeAttempts,
		QrTokenTTL:           cfg.Orchestrator.TwoPartyDeadline.Duration,
	}
	mgr := orchestrator.NewManager(st, acts, compensator, m, log, orchCfg, time.Now, acts, gate, cfg.Redis.CredentialCacheTTL.Duration)
	defer mgr.StopAll()

	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "metrics server error")
		}
	}()
	log.Info("verification-service started", "listen_addr", cfg.Server.ListenAddr, "metrics_addr", cfg.Server.MetricsAddr)

	_ = mgr // the signal/query dispatch surface (spec.md §6) is out of this
	// binary's scope to define a wire protocol for; mgr.Dispatch/mgr.Query
	// are the integration point an HTTP or gRPC front end would call.

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func buildZapLogger(level, format string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zapCfg.Build()
}

func buildNotifier(cfg config.NotificationConfig) notification.Notifier {
	switch cfg.Sink {
	case "slack":
		return notification.NewSlackNotifier(cfg.SlackWebhook)
	default:
		return notification.NewFileNotifier(cfg.FileOutputDir)
	}
}

func buildDocumentScanner(cfg config.ExternalServicesConfig) activities.DocumentScanner {
	if cfg.DocumentScannerURL == "" {
		return externalclients.NoopDocumentScanner{}
	}
	return externalclients.NewHTTPDocumentScanner(cfg.DocumentScannerURL, cfg.RequestTimeout.Duration)
}

func buildCredentialRegistry(cfg config.ExternalServicesConfig) activities.CredentialRegistry {
	if cfg.CredentialRegistryURL == "" {
		return externalclients.NoopCredentialRegistry{}
	}
	return externalclients.NewHTTPCredentialRegistry(cfg.CredentialRegistryURL, cfg.RequestTimeout.Duration)
}
