package models

// Chunk is the unit of embedding and retrieval: a bounded text span that
// always knows which page(s) it was cut from, so answers can cite pages
// rather than opaque chunk ids.
type Chunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Order      int    `json:"order"`
	Text       string `json:"text"`
	Pages      []int  `json:"pages"` // contributing page numbers, ascending, never empty
}
