package rag

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"pdfchat/internal/model"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100

	pageMetadataKey = "page"
)

var ErrNoChunks = errors.New("document produced no chunks")

// paragraph, line, sentence, word, character
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits page text into overlapping windows measured in runes.
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(chunkSeparators),
		),
	}
}

// Split returns the chunks of all pages in document order. Every chunk remembers its source page.
// A document without any text returns ErrNoChunks.
func (c *Chunker) Split(pages []model.Page) ([]model.Chunk, error) {
	docs := make([]schema.Document, 0, len(pages))
	for _, page := range pages {
		text := normalizeText(page.Text)
		if text == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: text,
			Metadata:    map[string]any{pageMetadataKey: page.Number},
		})
	}
	if len(docs) == 0 {
		return nil, ErrNoChunks
	}

	split, err := textsplitter.SplitDocuments(c.splitter, docs)
	if err != nil {
		return nil, fmt.Errorf("split pages failed: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(split))
	for _, doc := range split {
		text := strings.TrimSpace(doc.PageContent)
		if text == "" {
			continue
		}
		page, _ := doc.Metadata[pageMetadataKey].(int)
		chunks = append(chunks, model.Chunk{
			Index: len(chunks),
			Page:  page,
			Text:  text,
		})
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	return chunks, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
