package models

import "time"

// Document is the registry record for one uploaded PDF. The index store keeps
// the chunk vectors; this record only tracks identity and processing state.
type Document struct {
	ID           string     `bson:"_id" json:"id"`
	Filename     string     `bson:"filename" json:"filename"`
	OriginalName string     `bson:"original_name" json:"original_name"`
	FilePath     string     `bson:"file_path" json:"file_path"`
	FileHash     string     `bson:"file_hash" json:"file_hash"` // For deduplication
	Size         int64      `bson:"size" json:"size"`
	Pages        int        `bson:"pages" json:"pages"`
	ChunkCount   int        `bson:"chunk_count" json:"chunk_count"`
	Status       string     `bson:"status" json:"status"` // pending, processing, completed, failed, pending_embeddings
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// Page is one page of extracted text. Numbering is 1-based and contiguous
// within a document; Text may be empty for image-only pages that defeated
// extraction.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document processing status constants
const (
	StatusPending           = "pending"
	StatusProcessing        = "processing"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusPendingEmbeddings = "pending_embeddings"
)
