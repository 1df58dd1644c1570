package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var ErrMissingCredential = errors.New("llm api key is not configured")

// Config points the client at any OpenAI-compatible endpoint (Gemini exposes one).
type Config struct {
	BaseURL        string
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	BatchSize      int
	Timeout        time.Duration
}

// OpenAICompatibleClient wraps a langchaingo openai model. The model is built on first use so a
// process without a key can start and report the problem per request.
type OpenAICompatibleClient struct {
	cfg        Config
	httpClient *http.Client

	mu  sync.Mutex
	llm *openai.LLM
}

func NewOpenAICompatibleClient(cfg Config) *OpenAICompatibleClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAICompatibleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *OpenAICompatibleClient) Configured() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

func (c *OpenAICompatibleClient) EmbeddingModel() string {
	return c.cfg.EmbeddingModel
}

func (c *OpenAICompatibleClient) model() (*openai.LLM, error) {
	if !c.Configured() {
		return nil, ErrMissingCredential
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.llm != nil {
		return c.llm, nil
	}

	llm, err := openai.New(
		openai.WithToken(strings.TrimSpace(c.cfg.APIKey)),
		openai.WithBaseURL(strings.TrimRight(c.cfg.BaseURL, "/")),
		openai.WithModel(c.cfg.ChatModel),
		openai.WithEmbeddingModel(c.cfg.EmbeddingModel),
		openai.WithHTTPClient(c.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("create llm client failed: %w", err)
	}
	c.llm = llm
	return llm, nil
}

// Complete sends prompt as a single user message and returns the reply unchanged.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, prompt string) (string, error) {
	llm, err := c.model()
	if err != nil {
		return "", err
	}
	answer, err := llms.GenerateFromSinglePrompt(ctx, llm, prompt)
	if err != nil {
		return "", fmt.Errorf("llm completion failed: %w", err)
	}
	return answer, nil
}
