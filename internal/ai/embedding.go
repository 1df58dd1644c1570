package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

const defaultBatchSize = 10

var ErrEmbeddingMismatch = errors.New("embedding response does not match request")

// QueryCache stores query vectors between requests. Implementations must be safe for concurrent use.
type QueryCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool, error)
	Set(ctx context.Context, model, text string, vec []float32) error
}

// Embedder turns chunks and questions into vectors through the OpenAI-compatible embeddings API.
type Embedder struct {
	client    *OpenAICompatibleClient
	batchSize int
	cache     QueryCache
}

// NewEmbedder returns an embedder sending at most batchSize texts per request. cache may be nil.
func NewEmbedder(client *OpenAICompatibleClient, batchSize int, cache QueryCache) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Embedder{
		client:    client,
		batchSize: batchSize,
		cache:     cache,
	}
}

func (e *Embedder) embedder() (embeddings.Embedder, error) {
	llm, err := e.client.model()
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(e.batchSize),
		embeddings.WithStripNewLines(true),
	)
}

// EmbedDocuments returns one vector per text, in order, all of the same dimension.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("embedding input is empty")
	}
	emb, err := e.embedder()
	if err != nil {
		return nil, err
	}

	// the langchaingo embedder rewrites its input slice in place
	input := make([]string, len(texts))
	copy(input, texts)

	vectors, err := emb.EmbedDocuments(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("embed documents failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d texts, %d vectors", ErrEmbeddingMismatch, len(texts), len(vectors))
	}
	dimension := len(vectors[0])
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != dimension {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEmbeddingMismatch, i, len(vec), dimension)
		}
	}
	return vectors, nil
}

// EmbedQuery returns the vector of a single question, consulting the cache first when one is set.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("embedding input is empty")
	}

	model := e.client.EmbeddingModel()
	if e.cache != nil {
		vec, ok, err := e.cache.Get(ctx, model, text)
		if err != nil {
			log.Warn().Err(err).Msg("read query embedding cache failed")
		} else if ok {
			return vec, nil
		}
	}

	emb, err := e.embedder()
	if err != nil {
		return nil, err
	}
	vec, err := emb.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrEmbeddingMismatch)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, model, text, vec); err != nil {
			log.Warn().Err(err).Msg("write query embedding cache failed")
		}
	}
	return vec, nil
}
