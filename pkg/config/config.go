package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	SQLite       SQLiteConfig
	Redis        RedisConfig
	Milvus       MilvusConfig
	Embedding    EmbeddingConfig
	Generation   GenerationConfig
	Pipeline     PipelineConfig
	Conversation ConversationConfig
	Logging      LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Endpoint       string
	CollectionName string
}

// EmbeddingConfig selects the embedding backend. When more than one backend
// is configured the adapter resolves them in a fixed precedence order:
// gateway, then hosted API, then the local server.
type EmbeddingConfig struct {
	GatewayURL       string
	GatewayAPIKey    string
	APIKey           string
	Model            string
	LocalURL         string
	TargetDimensions int
	NormalizeDims    bool
	TimeoutSec       int
	CacheTTLSec      int
}

type GenerationConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type PipelineConfig struct {
	KnowledgeBackend   string
	TopK               int
	CacheSimThreshold  float64
	InitialConfidence  float64
	ConfidenceStep     float64
	ConfidenceMin      float64
	ConfidenceMax      float64
	HistoryWindow      int
	RateLimitPerMinute int
}

type ConversationConfig struct {
	SessionTTLSec int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/askspm")

	viper.SetEnvPrefix("ASKSPM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 120)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/askspm.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "knowledge_cards")

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.localURL", "http://localhost:8089")
	viper.SetDefault("embedding.targetDimensions", 768)
	viper.SetDefault("embedding.normalizeDims", true)
	viper.SetDefault("embedding.timeoutSec", 15)
	viper.SetDefault("embedding.cacheTTLSec", 86400)

	viper.SetDefault("generation.model", "gpt-4o-mini")
	viper.SetDefault("generation.temperature", 0.2)
	viper.SetDefault("generation.maxTokens", 1024)
	viper.SetDefault("generation.timeoutSec", 60)

	viper.SetDefault("pipeline.knowledgeBackend", "memory")
	viper.SetDefault("pipeline.topK", 5)
	viper.SetDefault("pipeline.cacheSimThreshold", 0.92)
	viper.SetDefault("pipeline.initialConfidence", 0.5)
	viper.SetDefault("pipeline.confidenceStep", 0.1)
	viper.SetDefault("pipeline.confidenceMin", 0.0)
	viper.SetDefault("pipeline.confidenceMax", 1.0)
	viper.SetDefault("pipeline.historyWindow", 6)
	viper.SetDefault("pipeline.rateLimitPerMinute", 30)

	viper.SetDefault("conversation.sessionTTLSec", 1800)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
