package models

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Question   string `json:"question" binding:"required"`
	DocumentID string `json:"document_id"` // optional: restrict retrieval to one document
	TopK       int    `json:"top_k"`       // optional: defaults to the configured retrieval count
}

// QueryResponse carries the grounded answer and its page-level citations.
type QueryResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	LatencyMS int64      `json:"latency_ms"`
}

// UploadResponse is returned after a document upload is accepted.
type UploadResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	TaskID     string `json:"task_id,omitempty"` // set for async processing
	Message    string `json:"message"`
}
