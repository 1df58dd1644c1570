package rag

import (
	"context"

	"pdfchat/internal/model"
)

const DefaultTopK = 4

// Retriever answers fixed top-k queries against one index.
type Retriever struct {
	index *Index
	k     int
}

func NewRetriever(index *Index, k int) *Retriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{index: index, k: k}
}

// Retrieve returns the k nearest chunks, nearest first. Fewer come back when the index is smaller than k.
func (r *Retriever) Retrieve(ctx context.Context, query []float32) ([]model.Chunk, error) {
	hits, err := r.index.Search(ctx, query, r.k)
	if err != nil {
		return nil, err
	}
	chunks := make([]model.Chunk, len(hits))
	for i, hit := range hits {
		chunks[i] = hit.Chunk
	}
	return chunks, nil
}

func (r *Retriever) Size() int {
	return r.index.Len()
}
