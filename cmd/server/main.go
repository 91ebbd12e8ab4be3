// Copyright (c) 2026 John Earle
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


// Elektrine inbound ingestion service.
//
// Entry point for the ingestion server. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Applies database migrations and connects to PostgreSQL and Redis
//  3. Builds the ingestion pipeline and its stages
//  4. Starts the worker pool draining the ingest queue
//  5. Serves the MTA webhook, filter API, health and metrics endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/elektrine/ingestion/internal/address"
	"github.com/elektrine/ingestion/internal/alert"
	"github.com/elektrine/ingestion/internal/config"
	"github.com/elektrine/ingestion/internal/dedup"
	"github.com/elektrine/ingestion/internal/filters"
	"github.com/elektrine/ingestion/internal/pipeline"
	"github.com/elektrine/ingestion/internal/queue"
	"github.com/elektrine/ingestion/internal/ratelimit"
	"github.com/elektrine/ingestion/internal/routing"
	"github.com/elektrine/ingestion/internal/security"
	"github.com/elektrine/ingestion/internal/sesmirror"
	"github.com/elektrine/ingestion/internal/store/postgres"
	"github.com/elektrine/ingestion/internal/suppression"
	"github.com/elektrine/ingestion/internal/webhook"
	"github.com/elektrine/ingestion/internal/worker"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"domains", cfg.Domains,
		"port", cfg.Port,
		"workers", cfg.WorkerConcurrency,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	if err := postgres.MigrateUp(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	jobs := queue.NewPublisher(rdb, cfg.IngestQueue)
	if err := jobs.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	forwards := queue.NewPublisher(rdb, cfg.ForwardQueue)
	consumer := queue.NewConsumer(rdb, cfg.IngestQueue, cfg.DeadLetterQueue)

	// --- Optional SES suppression mirror ---
	var mirror suppression.Mirror
	if cfg.SESEnabled {
		m, err := sesmirror.New(ctx, cfg.SESRegion)
		if err != nil {
			slog.Error("failed to configure SES mirror", "error", err)
			os.Exit(1)
		}
		mirror = m
		slog.Info("SES suppression mirror enabled", "region", cfg.SESRegion)
	}

	// --- Pipeline ---
	domains := address.NewDomains(cfg.Domains)
	p := pipeline.New(pipeline.Deps{
		Gate:       security.NewGate(domains, cfg.OriginSecret, cfg.OriginMaxAge),
		Resolver:   routing.NewResolver(store, store, domains, cfg.LoopbackWindow),
		Guard:      dedup.NewGuard(store, cfg.NearDuplicateTTL),
		Filters:    filters.NewEngine(store),
		Messages:   store,
		Suppressor: suppression.NewAnalyzer(store, domains, mirror),
		Limiter:    ratelimit.New(rdb, cfg.RateLimit, cfg.RateLimitWindow),
		Forwards:   forwards,
		Jobs:       jobs,
		Claims:     dedup.NewFilter(rdb, cfg.IdempotencyTTL),
		Alerts:     alert.New(ctx, cfg.Alerts),
	})

	// --- Worker Pool ---
	pool := worker.NewPool(worker.Config{
		Source:      consumer,
		Processor:   p,
		Concurrency: cfg.WorkerConcurrency,
		JobTimeout:  cfg.JobTimeout,
		MaxAttempts: cfg.MaxAttempts,
	})
	pool.Start(ctx)

	// --- HTTP Server ---
	handler := webhook.NewHandler(webhook.Config{
		Ingestor:     p,
		Filters:      filters.NewService(store),
		Suppressions: store,
		Secret:       cfg.WebhookSecret,
		Checks: map[string]webhook.HealthCheck{
			"postgres": store.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	})

	serverCtx, stopServer := context.WithCancel(ctx)
	ready, err := webhook.Serve(serverCtx, cfg.Port, handler.Router())
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("ingestion service started")

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("received shutdown signal", "signal", sig)

	stopServer()
	pool.Stop()
	cancel()

	slog.Info("ingestion service stopped")
}
