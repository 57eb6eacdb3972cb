// Command followup-worker runs the follow-up scheduler as a standalone
// process. It sweeps cloud-transport bots only: session bots are swept by
// the API process, which owns their live connections.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/sellzap/sellzap/internal/bots"
	appconfig "github.com/sellzap/sellzap/internal/config"
	"github.com/sellzap/sellzap/internal/convo"
	"github.com/sellzap/sellzap/internal/followup"
	"github.com/sellzap/sellzap/internal/observability/metrics"
	"github.com/sellzap/sellzap/internal/transport"
	"github.com/sellzap/sellzap/internal/transport/cloudapi"
	"github.com/sellzap/sellzap/internal/vault"
	"github.com/sellzap/sellzap/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("followup worker requires DATABASE_URL")
		os.Exit(1)
	}

	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		logger.Error("invalid vault key", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	botRepo := bots.NewRepository(pool)
	secretStore := bots.NewSecretStore(pool, v)
	convoStore := convo.NewStore(sqlDB)

	cloudSender := cloudapi.NewSender(cfg.GraphBaseURL, secretStore, logger)
	resolver := transport.NewResolver(cloudSender, nil)

	scheduler := followup.NewScheduler(botRepo, convoStore, resolver,
		metrics.NewFollowUpMetrics(nil), logger).
		WithTransports(bots.TransportCloud)

	logger.Info("followup worker started", "interval", cfg.FollowUpInterval.String())
	go scheduler.Loop(ctx, cfg.FollowUpInterval)

	<-ctx.Done()
	logger.Info("followup worker shutting down")
	time.Sleep(2 * time.Second)
}
