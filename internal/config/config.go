package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig      `toml:"app"`
	LLM      LLMConfig      `toml:"llm"`
	RAG      RAGConfig      `toml:"rag"`
	Redis    RedisConfig    `toml:"redis"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq"`
	Log      LogConfig      `toml:"log"`
}

type AppConfig struct {
	Name        string   `toml:"name"`
	Env         string   `toml:"env"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	GinMode     string   `toml:"gin_mode"`
	CORSOrigins []string `toml:"cors_origins"`
}

type LLMConfig struct {
	BaseURL            string `toml:"base_url"`
	APIKey             string `toml:"api_key"`
	ChatModel          string `toml:"chat_model"`
	EmbeddingModel     string `toml:"embedding_model"`
	EmbeddingBatchSize int    `toml:"embedding_batch_size"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

type RAGConfig struct {
	ChunkSize                int   `toml:"chunk_size"`
	ChunkOverlap             int   `toml:"chunk_overlap"`
	TopK                     int   `toml:"top_k"`
	MaxUploadBytes           int64 `toml:"max_upload_bytes"`
	UploadReadTimeoutSeconds int   `toml:"upload_read_timeout_seconds"`
	BuildTimeoutSeconds      int   `toml:"build_timeout_seconds"`
	QueryTimeoutSeconds      int   `toml:"query_timeout_seconds"`
	Workers                  int   `toml:"workers"`
}

// RedisConfig enables the query embedding cache when Addr is set.
type RedisConfig struct {
	Addr                string `toml:"addr"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	EmbeddingTTLSeconds int    `toml:"embedding_ttl_seconds"`
}

// RabbitMQConfig enables session event publishing when URL is set.
type RabbitMQConfig struct {
	URL               string `toml:"url"`
	SessionEventQueue string `toml:"session_event_queue"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads .env (if present), then the TOML file named by CONFIG_FILE, then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	configPath := getEnv("CONFIG_FILE", "configs/config.toml")
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	}

	overrideByEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c LLMConfig) Configured() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func (c LLMConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

func (c RAGConfig) UploadReadTimeout() time.Duration {
	return seconds(c.UploadReadTimeoutSeconds)
}

func (c RAGConfig) BuildTimeout() time.Duration {
	return seconds(c.BuildTimeoutSeconds)
}

func (c RAGConfig) QueryTimeout() time.Duration {
	return seconds(c.QueryTimeoutSeconds)
}

func (c RedisConfig) EmbeddingTTL() time.Duration {
	return seconds(c.EmbeddingTTLSeconds)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "pdfchat",
			Env:         "dev",
			Host:        "0.0.0.0",
			Port:        8000,
			GinMode:     "debug",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		LLM: LLMConfig{
			BaseURL:            "https://generativelanguage.googleapis.com/v1beta/openai",
			APIKey:             "",
			ChatModel:          "gemini-1.5-flash",
			EmbeddingModel:     "text-embedding-004",
			EmbeddingBatchSize: 10,
			TimeoutSeconds:     90,
		},
		RAG: RAGConfig{
			ChunkSize:                1000,
			ChunkOverlap:             100,
			TopK:                     4,
			MaxUploadBytes:           10 << 20,
			UploadReadTimeoutSeconds: 30,
			BuildTimeoutSeconds:      60,
			QueryTimeoutSeconds:      30,
			Workers:                  0, // NumCPU
		},
		Redis: RedisConfig{
			Addr:                "",
			DB:                  0,
			EmbeddingTTLSeconds: 86400,
		},
		RabbitMQ: RabbitMQConfig{
			URL:               "",
			SessionEventQueue: "pdfchat.session.events",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.CORSOrigins = getEnvAsList("CORS_ORIGINS", cfg.App.CORSOrigins)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getFirstEnv([]string{"LLM_API_KEY", "GOOGLE_API_KEY"}, cfg.LLM.APIKey)
	cfg.LLM.ChatModel = getEnv("LLM_CHAT_MODEL", cfg.LLM.ChatModel)
	cfg.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.EmbeddingBatchSize = getEnvAsInt("LLM_EMBEDDING_BATCH_SIZE", cfg.LLM.EmbeddingBatchSize)
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)

	cfg.RAG.ChunkSize = getEnvAsInt("RAG_CHUNK_SIZE", cfg.RAG.ChunkSize)
	cfg.RAG.ChunkOverlap = getEnvAsInt("RAG_CHUNK_OVERLAP", cfg.RAG.ChunkOverlap)
	cfg.RAG.TopK = getEnvAsInt("RAG_TOP_K", cfg.RAG.TopK)
	cfg.RAG.MaxUploadBytes = getEnvAsInt64("RAG_MAX_UPLOAD_BYTES", cfg.RAG.MaxUploadBytes)
	cfg.RAG.UploadReadTimeoutSeconds = getEnvAsInt("RAG_UPLOAD_READ_TIMEOUT_SECONDS", cfg.RAG.UploadReadTimeoutSeconds)
	cfg.RAG.BuildTimeoutSeconds = getEnvAsInt("RAG_BUILD_TIMEOUT_SECONDS", cfg.RAG.BuildTimeoutSeconds)
	cfg.RAG.QueryTimeoutSeconds = getEnvAsInt("RAG_QUERY_TIMEOUT_SECONDS", cfg.RAG.QueryTimeoutSeconds)
	cfg.RAG.Workers = getEnvAsInt("RAG_WORKERS", cfg.RAG.Workers)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.EmbeddingTTLSeconds = getEnvAsInt("REDIS_EMBEDDING_TTL_SECONDS", cfg.Redis.EmbeddingTTLSeconds)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.SessionEventQueue = getEnv("RABBITMQ_SESSION_EVENT_QUEUE", cfg.RabbitMQ.SessionEventQueue)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func (c *Config) validate() error {
	if c.App.Port <= 0 || c.App.Port > 65535 {
		return fmt.Errorf("invalid app port %d", c.App.Port)
	}
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.MaxUploadBytes <= 0 {
		return fmt.Errorf("rag max_upload_bytes must be positive, got %d", c.RAG.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getFirstEnv returns the first non-empty variable among keys.
func getFirstEnv(keys []string, fallback string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsInt64(key string, fallback int64) int64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
