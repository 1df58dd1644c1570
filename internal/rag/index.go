package rag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strconv"

	"github.com/philippgille/chromem-go"

	"pdfchat/internal/model"
)

var (
	ErrEmptyIndex     = errors.New("index needs at least one chunk")
	ErrVectorMismatch = errors.New("chunk and vector counts differ")
	ErrInvalidVector  = errors.New("invalid embedding vector")
)

const collectionName = "chunks"

// ScoredChunk is a search hit with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk model.Chunk
	Score float32
}

// Index is a read-only nearest-neighbour structure over the chunks of one document.
// It is backed by an in-memory chromem collection and is safe for concurrent searches.
type Index struct {
	chunks     []model.Chunk
	dimension  int
	collection *chromem.Collection
}

// BuildIndex stores every chunk with its precomputed vector. It either returns a complete index or an
// error; nothing is kept from a failed build.
func BuildIndex(ctx context.Context, chunks []model.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyIndex
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorMismatch, len(chunks), len(vectors))
	}

	dimension := len(vectors[0])
	owned := make([]model.Chunk, len(chunks))
	docs := make([]chromem.Document, len(chunks))
	for i, vec := range vectors {
		if err := validateVector(vec, dimension); err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		owned[i] = chunks[i]
		owned[i].Index = i
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Metadata:  map[string]string{pageMetadataKey: strconv.Itoa(chunks[i].Page)},
			Embedding: slices.Clone(vec),
			Content:   chunks[i].Text,
		}
	}

	collection, err := chromem.NewDB().CreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("create collection failed: %w", err)
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("add documents failed: %w", err)
	}

	return &Index{
		chunks:     owned,
		dimension:  dimension,
		collection: collection,
	}, nil
}

func (idx *Index) Len() int {
	return len(idx.chunks)
}

func (idx *Index) Dimension() int {
	return idx.dimension
}

// Search returns at most k chunks by descending similarity. Equal scores keep insertion order.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := validateVector(query, idx.dimension); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	// chromem does not order ties, so rank the whole collection here
	results, err := idx.collection.QueryEmbedding(ctx, query, idx.collection.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection failed: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, res := range results {
		pos, err := strconv.Atoi(res.ID)
		if err != nil || pos < 0 || pos >= len(idx.chunks) {
			return nil, fmt.Errorf("unknown document id %q in collection", res.ID)
		}
		scored = append(scored, ScoredChunk{Chunk: idx.chunks[pos], Score: res.Similarity})
	}
	slices.SortFunc(scored, func(a, b ScoredChunk) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Chunk.Index, b.Chunk.Index)
	})

	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k], nil
}

func validateVector(vec []float32, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	if len(vec) != dimension {
		return fmt.Errorf("%w: dimension %d, want %d", ErrInvalidVector, len(vec), dimension)
	}
	var norm float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidVector)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero norm", ErrInvalidVector)
	}
	return nil
}

func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("index only accepts precomputed embeddings")
}
