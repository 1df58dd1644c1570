package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"pdfchat/internal/ai"
	"pdfchat/internal/app"
	"pdfchat/internal/cache"
	"pdfchat/internal/config"
	"pdfchat/internal/logger"
	"pdfchat/internal/metrics"
	"pdfchat/internal/pkg/pdfextract"
	rabbitmqClient "pdfchat/internal/platform/rabbitmq"
	redisClient "pdfchat/internal/platform/redis"
	"pdfchat/internal/repository"
	"pdfchat/internal/worker"
)

// App owns every long-lived component. Redis, MQConn and Publisher are nil when not configured.
type App struct {
	Config    *config.Config
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Publisher *rabbitmqClient.EventPublisher
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Sessions  *repository.SessionStore
	RAG       *app.RAGService

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.Setup(cfg.Log)
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig wires the service graph from an already loaded config.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:    cfg,
		Registry:  prometheus.NewRegistry(),
		Sessions:  repository.NewSessionStore(),
		StartedAt: time.Now(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.New(a.Registry)

	if !cfg.LLM.Configured() {
		log.Warn().Msg("LLM_API_KEY (or GOOGLE_API_KEY) is not set; uploads and chat will fail until it is configured")
	}

	var queryCache ai.QueryCache
	if cfg.Redis.Addr != "" {
		cli, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		a.Redis = cli
		queryCache = cache.NewEmbeddingCache(cli, cfg.Redis.EmbeddingTTL())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("query embedding cache enabled")
	}

	var publisher app.SessionEventPublisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.MQConn = conn
		pub, err := rabbitmqClient.NewEventPublisher(conn, cfg.RabbitMQ.SessionEventQueue)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("start session event publisher failed: %w", err)
		}
		a.Publisher = pub
		publisher = pub
		log.Info().Str("queue", cfg.RabbitMQ.SessionEventQueue).Msg("session events enabled")
	}

	client := ai.NewOpenAICompatibleClient(ai.Config{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		BatchSize:      cfg.LLM.EmbeddingBatchSize,
		Timeout:        cfg.LLM.Timeout(),
	})

	a.RAG = app.NewRAGService(app.RAGDeps{
		Store:     a.Sessions,
		Extract:   pdfextract.ExtractPages,
		Embedder:  ai.NewEmbedder(client, cfg.LLM.EmbeddingBatchSize, queryCache),
		Completer: client,
		Pool:      worker.NewPool(cfg.RAG.Workers),
		Publisher: publisher,
		Metrics:   a.Metrics,
	}, app.Options{
		ChunkSize:      cfg.RAG.ChunkSize,
		ChunkOverlap:   cfg.RAG.ChunkOverlap,
		TopK:           cfg.RAG.TopK,
		MaxUploadBytes: cfg.RAG.MaxUploadBytes,
		BuildTimeout:   cfg.RAG.BuildTimeout(),
		QueryTimeout:   cfg.RAG.QueryTimeout(),
	})

	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
	}
	if a.MQConn != nil && !a.MQConn.IsClosed() {
		if err := a.MQConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
