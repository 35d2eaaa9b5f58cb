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

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/havenline/support-ai-platform/cmd/mainconfig"
	"github.com/havenline/support-ai-platform/internal/api/router"
	appconfig "github.com/havenline/support-ai-platform/internal/config"
	"github.com/havenline/support-ai-platform/internal/engine"
	"github.com/havenline/support-ai-platform/internal/notify"
	"github.com/havenline/support-ai-platform/internal/observability/metrics"
	"github.com/havenline/support-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting support-ai-platform engine",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// LLM: Bedrock primary, Gemini fallback when configured.
	var llm engine.LLMClient = engine.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	if cfg.GeminiAPIKey != "" {
		gemini, err := engine.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Error("failed to initialize gemini client", "error", err)
			os.Exit(1)
		}
		defer gemini.Close()
		llm = engine.NewFallbackLLMClient(llm, gemini, logger)
	}

	failClosedLevel, ok := engine.ParseRiskLevel(cfg.FailClosedRiskLevel)
	if !ok {
		failClosedLevel = engine.RiskModerate
	}

	detector := engine.NewCrisisDetector(logger)
	classifier := engine.NewRiskClassifier(llm, detector, engine.RiskClassifierConfig{
		Model:           cfg.BedrockModelID,
		Timeout:         cfg.ClassifierTimeout,
		FailClosedLevel: failClosedLevel,
		HistoryWindow:   cfg.RecentHistoryWindow,
	}, logger)
	analyzer := engine.NewConversationAnalyzer(llm, engine.AnalyzerConfig{
		Model:   cfg.BedrockModelID,
		Timeout: cfg.AnalyzerTimeout,
		Window:  cfg.AnalysisWindow,
	}, logger)
	endDetector := engine.NewEndDetector(engine.EndDetectorConfig{
		FarewellTokens:    cfg.FarewellTokens,
		InactivityTimeout: cfg.InactivityTimeout,
	})

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	states := engine.NewRedisStateStore(redis.NewClient(redisOpts), otel.Tracer("havenline.engine.state"))

	caseStore := engine.NewCaseStore(dynamodb.NewFromConfig(awsCfg), cfg.CaseRecordsTable, logger)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else if cfg.SESFromEmail != "" {
		emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
		}, logger)
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	var smsSender notify.SMSSender
	if len(cfg.CounselorPhones) > 0 {
		if sn := notify.NewSNSSender(sns.NewFromConfig(awsCfg), logger); sn != nil {
			smsSender = sn
		}
	}
	counselorAlerts := notify.NewService(emailSender, smsSender, notify.Config{
		EmailRecipients: cfg.CounselorEmails,
		SMSRecipients:   cfg.CounselorPhones,
	}, logger)

	adapters := engine.AdapterSet{
		Coaching:       engine.NewCoachingAdapter(llm, cfg.BedrockModelID, 30*time.Second, logger),
		CaseManagement: engine.NewCaseManagementAdapter(caseStore, counselorAlerts, logger),
		SafetyTriage:   engine.NewSafetyTriageAdapter(logger),
	}

	var archive *engine.AssessmentArchive
	if cfg.AssessmentBucket != "" {
		archive = engine.NewAssessmentArchive(s3.NewFromConfig(awsCfg), cfg.AssessmentBucket, logger)
	}

	var transcripts *engine.TranscriptStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		transcripts = engine.NewTranscriptStore(db)
	}

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.NewEngineMetrics(registry)

	eng := engine.NewEngine(
		classifier,
		analyzer,
		endDetector,
		adapters,
		states,
		transcripts,
		archive,
		engineMetrics,
		logger,
		engine.EngineConfig{
			RecentHistoryWindow:    cfg.RecentHistoryWindow,
			AnalyzeAfterEscalation: cfg.AnalyzeAfterEscalation,
		},
	)

	var dispatcher *engine.Dispatcher
	if cfg.UseMemoryQueue || cfg.TurnQueueURL == "" {
		dispatcher = engine.NewDispatcher(eng, engine.NewMemoryQueue(256), logger,
			engine.WithWorkerCount(cfg.WorkerCount))
	} else {
		sqsQueue := engine.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.TurnQueueURL)
		dispatcher = engine.NewDispatcher(eng, sqsQueue, logger,
			engine.WithWorkerCount(cfg.WorkerCount))
	}

	handler := engine.NewHandler(dispatcher, transcripts, logger)
	r := router.New(&router.Config{
		Logger:         logger,
		TurnHandler:    handler,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher shutdown incomplete", "error", err)
	}

	logger.Info("server stopped")
}
