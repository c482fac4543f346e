// Copyright (c) 2026 Bambinounos
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// EIA — Email Intelligence Service
//
// Entry point for the ingestion and scoring service. It:
//  1. Loads account and pipeline configuration from config.yaml
//  2. Connects to PostgreSQL (ledger, opportunities) and Redis (queue, leases)
//  3. Loads the product catalog and watches it for changes
//  4. Schedules per-account IMAP polling through the job queue
//  5. Runs the staged pipeline in a worker pool
//  6. Serves a health endpoint and shuts down gracefully on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bambinounos/eia/internal/catalog"
	"github.com/bambinounos/eia/internal/classify"
	"github.com/bambinounos/eia/internal/config"
	"github.com/bambinounos/eia/internal/dedup"
	"github.com/bambinounos/eia/internal/extract"
	"github.com/bambinounos/eia/internal/ledger"
	"github.com/bambinounos/eia/internal/mailbox"
	"github.com/bambinounos/eia/internal/notify"
	"github.com/bambinounos/eia/internal/opportunity"
	"github.com/bambinounos/eia/internal/pipeline"
	"github.com/bambinounos/eia/internal/queue"
	"github.com/bambinounos/eia/internal/scheduler"
)

const promoteInterval = time.Second

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting EIA email intelligence service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"provider", cfg.Inference.Provider,
		"workers", cfg.Pipeline.Workers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	jobs := queue.New(rdb)
	if err := jobs.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	ledgerStore, err := ledger.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise ledger store", "error", err)
		os.Exit(1)
	}
	oppStore, err := opportunity.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise opportunity store", "error", err)
		os.Exit(1)
	}

	// --- Catalog ---
	catalogStore, err := catalog.NewStore(cfg.Matching.CatalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	if err := catalogStore.Watch(ctx); err != nil {
		slog.Warn("catalog watch unavailable, relying on scheduled refresh", "error", err)
	}

	// --- Inference Backends ---
	var (
		classifier classify.Classifier
		extractor  extract.Extractor
	)
	switch cfg.Inference.Provider {
	case "openai":
		classifier = classify.NewOpenAI(cfg.Inference.APIKey, cfg.Inference.BaseURL,
			cfg.Inference.Model, cfg.Inference.Timeout.Std())
		extractor = extract.NewOpenAI(cfg.Inference.APIKey, cfg.Inference.BaseURL,
			cfg.Inference.Model, cfg.Inference.Timeout.Std())
	default:
		classifier = classify.NewKeyword()
		extractor = extract.NewRules()
	}
	slog.Info("inference backend ready",
		"classifier", classifier.Version(), "extractor", extractor.Version())

	// --- Notifier ---
	var notifier notify.Notifier
	if cfg.Alerts.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Alerts.WebhookURL, cfg.Alerts.Channel)
	} else {
		notifier = &notify.Log{Logger: logger}
	}

	// --- Worker Pool ---
	accounts := make(map[string]mailbox.Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		acc := mailbox.Account{
			Email:    a.Email,
			Password: a.Password,
			Host:     a.Host,
			Port:     a.Port,
			UseSSL:   a.UseSSL,
			MarkSeen: a.MarkSeen,
		}
		if a.OAuthTokenURL != "" {
			acc.Tokens = mailbox.NewClientCredentialsTokens(
				a.OAuthClientID, a.OAuthClientSecret, a.OAuthTokenURL,
				strings.Fields(a.OAuthScope))
		}
		accounts[a.Email] = acc
	}

	worker := pipeline.NewWorker(
		pipeline.Deps{
			Ledger:        ledgerStore,
			Opportunities: oppStore,
			Jobs:          jobs,
			Lease:         dedup.NewLease(rdb, cfg.Pipeline.LeaseTTL.Std()),
			Window:        dedup.NewWindow(rdb, cfg.Alerts.DedupWindow.Std()),
			Catalog:       catalogStore,
			Matcher:       catalog.NewMatcher(cfg.Matching.MinSimilarity, cfg.Matching.TieMargin),
			Classifier: classifier,
			Extractor:  extractor,
			Generator: opportunity.NewGenerator(cfg.Alerts.Threshold,
				cfg.Alerts.ClassWeight, cfg.Alerts.MatchWeight, cfg.Alerts.DedupWindow.Std()),
			Notifier: notifier,
		},
		pipeline.Policy{
			NoiseThreshold: cfg.Pipeline.NoiseThreshold,
			EntityFloor:    cfg.Pipeline.EntityFloor,
			MaxAttempts:    cfg.Pipeline.MaxAttempts,
			RetryBase:      cfg.Pipeline.RetryBase.Std(),
		},
		mailbox.NewConnector(
			mailbox.WithRetry(cfg.Pipeline.RetryBase.Std(), cfg.Pipeline.MaxAttempts),
		),
		accounts,
	)

	workersDone := make(chan struct{})
	go func() {
		worker.Start(ctx, cfg.Pipeline.Workers)
		close(workersDone)
	}()
	jobs.StartPromoter(ctx, promoteInterval)

	// --- Scheduler ---
	sched := scheduler.New(jobs, catalogStore)
	if err := sched.Register(ctx, cfg.Accounts, cfg.Matching.RefreshInterval.Std()); err != nil {
		slog.Error("failed to register schedules", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx, cfg.Accounts)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := jobs.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		sched.Stop()
		cancel()
		<-workersDone

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("email intelligence service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("email intelligence service stopped")
}
