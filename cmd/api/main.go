package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sellzap/sellzap/cmd/mainconfig"
	"github.com/sellzap/sellzap/internal/api/router"
	"github.com/sellzap/sellzap/internal/bots"
	appconfig "github.com/sellzap/sellzap/internal/config"
	"github.com/sellzap/sellzap/internal/convo"
	"github.com/sellzap/sellzap/internal/engine"
	"github.com/sellzap/sellzap/internal/followup"
	"github.com/sellzap/sellzap/internal/http/handlers"
	"github.com/sellzap/sellzap/internal/notify"
	"github.com/sellzap/sellzap/internal/observability/metrics"
	"github.com/sellzap/sellzap/internal/transport"
	"github.com/sellzap/sellzap/internal/transport/cloudapi"
	"github.com/sellzap/sellzap/internal/transport/wasession"
	"github.com/sellzap/sellzap/internal/vault"
	"github.com/sellzap/sellzap/pkg/logging"

	"github.com/google/uuid"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting sellzap API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The vault key protects every bot credential; refuse to run without it.
	v, err := vault.New(cfg.VaultKey)
	if err != nil {
		logger.Error("invalid vault key", "error", err)
		os.Exit(1)
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
	}

	// Repositories and stores.
	botRepo := bots.NewRepository(pool)
	secretStore := bots.NewSecretStore(pool, v)
	convoStore := convo.NewStore(sqlDB)
	var cache *convo.TranscriptCache
	if redisClient != nil {
		cache = convo.NewTranscriptCache(redisClient)
	}

	// Metrics (registered on the default registry, served at /metrics).
	engineMetrics := metrics.NewEngineMetrics(nil)
	followupMetrics := metrics.NewFollowUpMetrics(nil)
	sessionMetrics := metrics.NewSessionMetrics(nil)

	// Queue backing the conversation engine.
	var queue engine.Queue
	var sqsClient *sqs.Client
	var sesClient *sesv2.Client
	if cfg.UseMemoryQueue {
		queue = engine.NewMemoryQueue(1024)
		logger.Info("using in-memory engine queue")
	} else {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sqsClient = sqs.NewFromConfig(awsCfg)
		sesClient = sesv2.NewFromConfig(awsCfg)
		queue = engine.NewSQSQueue(sqsClient, cfg.EngineQueueURL, logger)
		logger.Info("using SQS engine queue", "queue_url", cfg.EngineQueueURL)
	}

	// Outbound transports. The session registry is created first so the
	// resolver can route to it; its inbound handler is bound after the
	// engine exists.
	cloudSender := cloudapi.NewSender(cfg.GraphBaseURL, secretStore, logger)

	var eng *engine.Engine

	sessionFactory, err := wasession.NewWhatsmeowFactory(ctx, cfg.SessionStoreDSN, logger)
	if err != nil {
		logger.Error("failed to init session credential store", "error", err)
		os.Exit(1)
	}
	registry := wasession.NewRegistry(sessionFactory.NewClient, botRepo, botRepo,
		func(ctx context.Context, botID uuid.UUID, msg wasession.InboundMessage) {
			if err := eng.Submit(ctx, engine.InboundEvent{
				BotID:       botID,
				Contact:     msg.From,
				DisplayName: msg.DisplayName,
				Text:        msg.Text,
				ProviderID:  msg.MessageID,
				ReceivedAt:  msg.Timestamp,
			}); err != nil {
				logger.Error("failed to enqueue session message", "bot_id", botID, "error", err)
			}
		}, sessionMetrics, logger)

	resolver := transport.NewResolver(cloudSender, registry)

	// Sale notifications: email plus a WhatsApp report to the owner.
	var emailSender notify.EmailSender
	switch {
	case cfg.SendGridAPIKey != "" && cfg.SaleEmailFrom != "":
		emailSender = notify.NewSendGridSender(cfg.SendGridAPIKey, cfg.SaleEmailFrom, cfg.SaleEmailFromName, logger)
		logger.Info("sendgrid email sender initialized for sale notifications")
	case sesClient != nil && cfg.SaleEmailFrom != "":
		emailSender = notify.NewSESSender(sesClient, cfg.SaleEmailFrom, cfg.SaleEmailFromName, logger)
		logger.Info("ses email sender initialized for sale notifications")
	default:
		emailSender = notify.NewStubEmailSender(logger)
		logger.Warn("email notifications disabled (no email sender configured)")
	}
	notifier := notify.NewService(emailSender, resolver, logger)

	// Per-bot LLM clients, with an optional shared Gemini fallback.
	llmFactory := func(apiKey string) (engine.LLMClient, error) {
		return engine.NewOpenAILLMClient(apiKey, cfg.OpenAIModel)
	}
	var fallbackLLM engine.LLMClient
	if cfg.GeminiAPIKey != "" {
		gemini, err := engine.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini fallback unavailable", "error", err)
		} else {
			fallbackLLM = gemini
			defer func() { _ = gemini.Close() }()
		}
	}

	eng = engine.New(botRepo, secretStore, convoStore, queue, resolver, llmFactory, engine.Options{
		Cache:         cache,
		Notifier:      notifier,
		Fallback:      fallbackLLM,
		Metrics:       engineMetrics,
		Logger:        logger,
		HistoryWindow: cfg.HistoryWindow,
	})

	dispatcher := engine.NewDispatcher(eng, queue, logger)
	dispatcher.Start(ctx)

	// Reconnect previously paired session bots.
	go registry.ReconnectAll(ctx)

	// Follow-up scheduler: in-process loop plus an HTTP cron trigger.
	scheduler := followup.NewScheduler(botRepo, convoStore, resolver, followupMetrics, logger)
	go scheduler.Loop(ctx, cfg.FollowUpInterval)

	// Inbound cloud webhook adapter feeding the engine.
	webhookAdapter := cloudapi.NewWebhookAdapter(botRepo,
		func(ctx context.Context, botID uuid.UUID, msg cloudapi.ParsedInboundMessage) {
			if err := eng.Submit(ctx, engine.InboundEvent{
				BotID:       botID,
				Contact:     msg.From,
				DisplayName: msg.DisplayName,
				Text:        msg.Text,
				ProviderID:  msg.MessageID,
				ReceivedAt:  msg.Timestamp,
			}); err != nil {
				logger.Error("failed to enqueue webhook message", "bot_id", botID, "error", err)
			}
		}, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(sqlDB),
		Bots:               handlers.NewBotsHandler(botRepo, secretStore, logger),
		Webhook:            handlers.NewWebhookHandler(webhookAdapter, logger),
		Session:            handlers.NewSessionHandler(registry, botRepo, logger),
		Cron:               handlers.NewCronHandler(scheduler, logger),
		MetricsHandler:     promhttp.Handler(),
		OwnerJWTSecret:     cfg.OwnerJWTSecret,
		CronToken:          cfg.CronToken,
		WebhookRate:        5,
		WebhookBurst:       20,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight turns drain before the process exits.
	dispatcher.Wait()

	logger.Info("server stopped")
}
