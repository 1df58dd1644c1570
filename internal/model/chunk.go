package model

// Chunk is a bounded slice of page text and the unit of indexing and retrieval.
type Chunk struct {
	Index int    `json:"index"`
	Page  int    `json:"page"`
	Text  string `json:"text"`
}
