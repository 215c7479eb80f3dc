package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/askspm/backend/internal/api/handlers"
	"github.com/askspm/backend/internal/ask"
	cacheredis "github.com/askspm/backend/internal/cache/redis"
	"github.com/askspm/backend/internal/conversation"
	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/feedback"
	"github.com/askspm/backend/internal/generation"
	"github.com/askspm/backend/internal/knowledge"
	"github.com/askspm/backend/internal/library"
	"github.com/askspm/backend/internal/metrics"
	"github.com/askspm/backend/internal/middleware/ratelimit"
	"github.com/askspm/backend/internal/middleware/security"
	"github.com/askspm/backend/internal/middleware/validation"
	"github.com/askspm/backend/internal/storage/sqlite"
	"github.com/askspm/backend/pkg/config"
	appLogger "github.com/askspm/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting AskSPM API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	sessionTTL := time.Duration(cfg.Conversation.SessionTTLSec) * time.Second

	var embeddingCache embedding.Cache
	var conversations conversation.Store
	if cfg.Redis.Enabled {
		redisClient, err := cacheredis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Embedding.CacheTTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		embeddingCache = redisClient
		conversations = conversation.NewRedisStore(redisClient.Raw(), sessionTTL)
	} else {
		conversations = conversation.NewMemoryStore(sessionTTL)
	}

	embedder, err := embedding.NewAdapter(cfg.Embedding, embeddingCache)
	if err != nil {
		appLogger.Fatal("Failed to create embedding adapter", zap.Error(err))
	}
	appLogger.Info("Embedding adapter ready",
		zap.String("backend", embedder.Backend()),
		zap.String("model", embedder.Model()),
	)

	var cards knowledge.Store
	switch cfg.Pipeline.KnowledgeBackend {
	case "milvus":
		milvusStore, err := knowledge.NewMilvusStore(
			cfg.Milvus.Endpoint,
			cfg.Milvus.CollectionName,
			cfg.Embedding.TargetDimensions,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus store", zap.Error(err))
		}
		defer milvusStore.Close()

		if err := milvusStore.EnsureCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to ensure Milvus collection", zap.Error(err))
		}
		cards = milvusStore
	default:
		corpus, err := sqliteClient.ListCards(context.Background())
		if err != nil {
			appLogger.Fatal("Failed to load knowledge cards", zap.Error(err))
		}
		cards = knowledge.NewMemoryStore(corpus)
	}

	libParams := library.Params{
		InitialConfidence: cfg.Pipeline.InitialConfidence,
		ConfidenceStep:    cfg.Pipeline.ConfidenceStep,
		ConfidenceMin:     cfg.Pipeline.ConfidenceMin,
		ConfidenceMax:     cfg.Pipeline.ConfidenceMax,
	}
	answerLibrary := library.NewSQLiteLibrary(sqliteClient, libParams)

	generator := generation.NewClient(cfg.Generation)

	engine := ask.NewEngine(
		embedder,
		cards,
		answerLibrary,
		conversations,
		generator,
		sqliteClient,
		ask.Options{
			TopK:              cfg.Pipeline.TopK,
			CacheSimThreshold: cfg.Pipeline.CacheSimThreshold,
			HistoryWindow:     cfg.Pipeline.HistoryWindow,
		},
	)

	feedbackProcessor := feedback.NewProcessor(sqliteClient, answerLibrary)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: []string{"*"},
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Pipeline.RateLimitPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	askHandler := handlers.NewAskHandler(engine)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackProcessor)

	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api/v1")
	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Post("/ask", askHandler.HandleAsk)
	api.Post("/feedback", feedbackHandler.HandleFeedback)

	api.Use("/ask/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ask/ws", websocket.New(askHandler.HandleWS))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
