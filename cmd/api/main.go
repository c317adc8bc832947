package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/skillincome/backend/internal/config"
	"github.com/skillincome/backend/internal/dashboard"
	"github.com/skillincome/backend/internal/disputes"
	"github.com/skillincome/backend/internal/identity"
	"github.com/skillincome/backend/internal/ledger"
	"github.com/skillincome/backend/internal/pinetwork"
	"github.com/skillincome/backend/internal/repository"
	"github.com/skillincome/backend/internal/router"
	"github.com/skillincome/backend/internal/scheduler"
	"github.com/skillincome/backend/internal/tasks"
	"github.com/skillincome/backend/internal/wallets"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Invalid DATABASE_URL", "error", err)
		os.Exit(1)
	}
	// Balances are numeric(18,8); scan them straight into decimal.Decimal.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL (connection refused or invalid). Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed. If the error is 'connection refused', start PostgreSQL first (e.g. make dev-up)", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis unreachable, balance reads go straight to PostgreSQL", "error", err)
		redisClient = nil
	}

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	txnRepo := repository.NewTransactionRepo(pool)
	disputeRepo := repository.NewDisputeRepo(pool)
	withdrawalRepo := repository.NewWithdrawalRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)

	ledgerSvc := ledger.NewService(walletRepo, txnRepo, cfg.PlatformFeePercent)

	// Job inserts are set after the River client exists (breaks init cycle).
	var insertMu sync.Mutex
	var insertClient *river.Client[pgx.Tx]
	riverInsert := func(ctx context.Context, tx pgx.Tx, args river.JobArgs, opts *river.InsertOpts) error {
		insertMu.Lock()
		client := insertClient
		insertMu.Unlock()
		if client == nil {
			panic("river insert not wired")
		}
		_, err := client.InsertTx(ctx, tx, args, opts)
		return err
	}

	tasksSvc := tasks.NewService(pool, taskRepo, accountRepo, ledgerSvc, cfg, func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
		return riverInsert(ctx, tx, scheduler.AutoReleaseArgs{TaskID: taskID}, &river.InsertOpts{ScheduledAt: at})
	})
	disputesSvc := disputes.NewService(pool, disputeRepo, taskRepo, tasksSvc, func(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
		return riverInsert(ctx, tx, scheduler.DisputeEscalationArgs{TaskID: taskID}, &river.InsertOpts{ScheduledAt: at})
	})

	piClient := pinetwork.NewClient(cfg.PiNetworkURL, cfg.PiNetworkAPIKey)
	walletsSvc := wallets.NewService(pool, walletRepo, txnRepo, withdrawalRepo, ledgerSvc, piClient, redisClient,
		func(ctx context.Context, tx pgx.Tx, withdrawalID uuid.UUID) error {
			return riverInsert(ctx, tx, scheduler.WithdrawalArgs{WithdrawalID: withdrawalID}, nil)
		}, logger)

	identitySvc := identity.NewService(pool, accountRepo, walletRepo, cfg.JWTSecret)

	// Background workers
	workers := river.NewWorkers()
	river.AddWorker(workers, scheduler.NewAutoReleaseWorker(tasksSvc, logger))
	river.AddWorker(workers, scheduler.NewDisputeEscalationWorker(disputesSvc, logger))
	river.AddWorker(workers, scheduler.NewSettlementSweepWorker(&sweepSource{tasks: taskRepo, disputes: disputeRepo}, tasksSvc, disputesSvc, logger))
	river.AddWorker(workers, scheduler.NewLedgerAuditWorker(walletRepo, txnRepo, logger))
	river.AddWorker(workers, scheduler.NewWithdrawalWorker(withdrawalRepo, piClient, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return scheduler.SettlementSweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.AuditInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return scheduler.LedgerAuditArgs{}, nil
				},
				nil,
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertClient = riverClient
	insertMu.Unlock()

	// HTTP surface
	idHandler := identity.NewHandler(identitySvc, logger)
	dashHandler := dashboard.NewHandler(identitySvc, walletRepo, txnRepo, apiKeyRepo, taskRepo, disputeRepo, logger)
	apiV1Router := router.New(idHandler, dashHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	RegisterV1Routes(mux, tasksSvc, disputesSvc, walletsSvc, txnRepo, walletRepo, apiKeyRepo, identitySvc, accountRepo, logger)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes jobs)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
