// Command ingest builds the knowledge card corpus from a directory of
// exported marketing pages and writes it to SQLite (and Milvus when that
// backend is configured).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	cacheredis "github.com/askspm/backend/internal/cache/redis"
	"github.com/askspm/backend/internal/embedding"
	"github.com/askspm/backend/internal/ingestion"
	"github.com/askspm/backend/internal/knowledge"
	"github.com/askspm/backend/internal/storage/sqlite"
	"github.com/askspm/backend/pkg/config"
	appLogger "github.com/askspm/backend/pkg/logger"
)

func main() {
	sourceDir := flag.String("source", "./content", "directory of exported HTML pages")
	flag.Parse()

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

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var embeddingCache embedding.Cache
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
	}

	embedder, err := embedding.NewAdapter(cfg.Embedding, embeddingCache)
	if err != nil {
		appLogger.Fatal("Failed to create embedding adapter", zap.Error(err))
	}

	var milvusStore *knowledge.MilvusStore
	if cfg.Pipeline.KnowledgeBackend == "milvus" {
		milvusStore, err = knowledge.NewMilvusStore(
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
	}

	processor := ingestion.NewProcessor(sqliteClient, embedder, milvusStore)

	if err := processor.ProcessDirectory(context.Background(), *sourceDir); err != nil {
		appLogger.Fatal("Ingestion failed", zap.Error(err))
	}

	count, err := sqliteClient.CountCards(context.Background())
	if err == nil {
		appLogger.Info("Ingestion complete", zap.Int("total_cards", count))
	}
}
