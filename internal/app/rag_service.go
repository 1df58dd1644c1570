package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pdfchat/internal/metrics"
	"pdfchat/internal/model"
	"pdfchat/internal/rag"
	"pdfchat/internal/repository"
	"pdfchat/internal/worker"
)

const (
	DefaultSessionID      = "default"
	defaultMaxUploadBytes = 10 << 20 // 10 MiB
	defaultBuildTimeout   = 60 * time.Second
	defaultQueryTimeout   = 30 * time.Second
	publishTimeout        = 3 * time.Second
)

const (
	stageExtract    = "extract_pages"
	stageChunk      = "chunk"
	stageEmbed      = "embed_chunks"
	stageIndex      = "build_index"
	stageEmbedQuery = "embed_query"
	stageRetrieve   = "retrieve"
	stageGenerate   = "generate"
)

// PageExtractor converts raw PDF bytes into pages of plain text.
type PageExtractor func(data []byte) ([]model.Page, error)

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type SessionEventPublisher interface {
	Publish(ctx context.Context, event model.SessionEvent) error
}

type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	MaxUploadBytes int64
	BuildTimeout   time.Duration
	QueryTimeout   time.Duration
}

// RAGDeps are the collaborators of RAGService. Publisher and Metrics are optional.
type RAGDeps struct {
	Store     *repository.SessionStore
	Extract   PageExtractor
	Embedder  Embedder
	Completer rag.Completer
	Pool      *worker.Pool
	Publisher SessionEventPublisher
	Metrics   *metrics.Metrics
}

// RAGService runs the build path (PDF to session index) and the query path (question to answer).
type RAGService struct {
	store     *repository.SessionStore
	extract   PageExtractor
	chunker   *rag.Chunker
	embedder  Embedder
	generator *rag.Generator
	pool      *worker.Pool
	publisher SessionEventPublisher
	metrics   *metrics.Metrics
	opts      Options
}

func NewRAGService(deps RAGDeps, opts Options) *RAGService {
	if opts.TopK <= 0 {
		opts.TopK = rag.DefaultTopK
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = defaultBuildTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	pool := deps.Pool
	if pool == nil {
		pool = worker.NewPool(0)
	}
	return &RAGService{
		store:     deps.Store,
		extract:   deps.Extract,
		chunker:   rag.NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		embedder:  deps.Embedder,
		generator: rag.NewGenerator(deps.Completer),
		pool:      pool,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		opts:      opts,
	}
}

// UploadInput is one PDF destined for a session.
type UploadInput struct {
	SessionID string
	Filename  string
	Data      []byte
}

type UploadResult struct {
	SessionID  string `json:"session_id"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	PageCount  int    `json:"page_count"`
	ChunkCount int    `json:"chunk_count"`
}

type buildOutput struct {
	retriever  *rag.Retriever
	pageCount  int
	chunkCount int
}

// Upload builds a fresh index from the PDF and stores it under the session id, replacing any
// previous one. A failed build leaves the session exactly as it was.
func (s *RAGService) Upload(ctx context.Context, input UploadInput) (*UploadResult, error) {
	sessionID := NormalizeSessionID(input.SessionID)
	if !IsPDFFilename(input.Filename) {
		s.metrics.Upload("invalid")
		return nil, fmt.Errorf("%w: only PDF files are allowed", ErrValidation)
	}
	size := int64(len(input.Data))
	if size == 0 {
		s.metrics.Upload("invalid")
		return nil, fmt.Errorf("%w: uploaded file is empty", ErrValidation)
	}
	if size > s.opts.MaxUploadBytes {
		s.metrics.Upload("too_large")
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrResourceLimit, size, s.opts.MaxUploadBytes)
	}

	buildCtx, cancel := context.WithTimeout(ctx, s.opts.BuildTimeout)
	defer cancel()

	out, err := worker.Do(buildCtx, s.pool, func(ctx context.Context) (*buildOutput, error) {
		return s.build(ctx, sessionID, input.Data)
	})
	if err != nil {
		err = classify(err, "build index")
		s.metrics.Upload(resultLabel(err))
		log.Warn().Err(err).Str("session_id", sessionID).Str("filename", input.Filename).Msg("pdf upload failed")
		return nil, err
	}

	s.store.Put(sessionID, out.retriever)
	s.metrics.Upload("ok")
	s.metrics.SetActiveSessions(s.store.Count())
	log.Info().
		Str("session_id", sessionID).
		Str("filename", input.Filename).
		Int64("file_size", size).
		Int("pages", out.pageCount).
		Int("chunks", out.chunkCount).
		Msg("session index stored")

	s.publish(ctx, model.SessionEvent{
		Type:       model.SessionIndexed,
		SessionID:  sessionID,
		Filename:   input.Filename,
		ChunkCount: out.chunkCount,
	})

	return &UploadResult{
		SessionID:  sessionID,
		Filename:   input.Filename,
		FileSize:   size,
		PageCount:  out.pageCount,
		ChunkCount: out.chunkCount,
	}, nil
}

func (s *RAGService) build(ctx context.Context, sessionID string, data []byte) (*buildOutput, error) {
	var pages []model.Page
	if err := s.runStage(ctx, sessionID, stageExtract, func() (err error) {
		pages, err = s.extract(data)
		return err
	}); err != nil {
		return nil, err
	}

	var chunks []model.Chunk
	if err := s.runStage(ctx, sessionID, stageChunk, func() (err error) {
		chunks, err = s.chunker.Split(pages)
		return err
	}); err != nil {
		return nil, err
	}

	var vectors [][]float32
	if err := s.runStage(ctx, sessionID, stageEmbed, func() (err error) {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err = s.embedder.EmbedDocuments(ctx, texts)
		return err
	}); err != nil {
		return nil, err
	}

	var index *rag.Index
	if err := s.runStage(ctx, sessionID, stageIndex, func() (err error) {
		index, err = rag.BuildIndex(ctx, chunks, vectors)
		return err
	}); err != nil {
		return nil, err
	}

	return &buildOutput{
		retriever:  rag.NewRetriever(index, s.opts.TopK),
		pageCount:  len(pages),
		chunkCount: index.Len(),
	}, nil
}

type AskInput struct {
	SessionID string
	Question  string
}

type AskResult struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

// Ask retrieves the top-k chunks of the session's document and asks the chat model to answer from them.
func (s *RAGService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		s.metrics.Query("invalid")
		return nil, fmt.Errorf("%w: question must not be empty", ErrValidation)
	}
	sessionID := NormalizeSessionID(input.SessionID)

	retriever, err := s.store.Get(sessionID)
	if err != nil {
		s.metrics.Query("not_found")
		return nil, fmt.Errorf("%w: no document uploaded for session %q", ErrNotFound, sessionID)
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	answer, err := worker.Do(queryCtx, s.pool, func(ctx context.Context) (string, error) {
		return s.answer(ctx, sessionID, retriever, question)
	})
	if err != nil {
		err = classify(err, "answer question")
		s.metrics.Query(resultLabel(err))
		log.Warn().Err(err).Str("session_id", sessionID).Msg("chat query failed")
		return nil, err
	}

	s.metrics.Query("ok")
	return &AskResult{Answer: answer, SessionID: sessionID}, nil
}

func (s *RAGService) answer(ctx context.Context, sessionID string, retriever *rag.Retriever, question string) (string, error) {
	var query []float32
	if err := s.runStage(ctx, sessionID, stageEmbedQuery, func() (err error) {
		query, err = s.embedder.EmbedQuery(ctx, question)
		return err
	}); err != nil {
		return "", err
	}

	var chunks []model.Chunk
	if err := s.runStage(ctx, sessionID, stageRetrieve, func() (err error) {
		chunks, err = retriever.Retrieve(ctx, query)
		return err
	}); err != nil {
		return "", err
	}

	var answer string
	if err := s.runStage(ctx, sessionID, stageGenerate, func() (err error) {
		answer, err = s.generator.Generate(ctx, question, chunks)
		return err
	}); err != nil {
		return "", err
	}
	return answer, nil
}

// DeleteSession drops the session's index.
func (s *RAGService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return fmt.Errorf("%w: session %q", ErrNotFound, sessionID)
		}
		return err
	}
	s.metrics.SetActiveSessions(s.store.Count())
	log.Info().Str("session_id", sessionID).Msg("session deleted")
	s.publish(ctx, model.SessionEvent{Type: model.SessionDeleted, SessionID: sessionID})
	return nil
}

// DeleteAllSessions drops every index and reports how many sessions existed.
func (s *RAGService) DeleteAllSessions(ctx context.Context) int {
	cleared := s.store.DeleteAll()
	s.metrics.SetActiveSessions(s.store.Count())
	log.Info().Int("cleared", cleared).Msg("all sessions cleared")
	s.publish(ctx, model.SessionEvent{Type: model.SessionsCleared, Cleared: cleared})
	return cleared
}

func (s *RAGService) SessionCount() int {
	return s.store.Count()
}

func (s *RAGService) runStage(ctx context.Context, sessionID, stage string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := fn()
	took := time.Since(start)
	s.metrics.ObserveStage(stage, took)
	log.Debug().
		Str("session_id", sessionID).
		Str("stage", stage).
		Dur("took", took).
		AnErr("error", err).
		Msg("pipeline stage finished")
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func (s *RAGService) publish(ctx context.Context, event model.SessionEvent) {
	if s.publisher == nil {
		return
	}
	event.At = time.Now().UTC()
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		log.Warn().Err(err).Str("event", string(event.Type)).Msg("publish session event failed")
	}
}

// classify maps a pipeline error onto one error kind.
func classify(err error, op string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	case errors.Is(err, rag.ErrNoChunks):
		return fmt.Errorf("%w: PDF contains no extractable text: %w", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

// NormalizeSessionID trims the id and falls back to DefaultSessionID when nothing is left.
func NormalizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}

// IsPDFFilename reports whether name carries a .pdf extension, ignoring case.
func IsPDFFilename(name string) bool {
	return strings.EqualFold(filepath.Ext(strings.TrimSpace(name)), ".pdf")
}
