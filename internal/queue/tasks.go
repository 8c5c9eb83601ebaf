package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"athena-rag-backend/internal/logger"
	"athena-rag-backend/services"
)

const (
	TaskIngestDocument = "document:ingest"
)

type IngestPayload struct {
	DocumentID string `json:"document_id"`
	FilePath   string `json:"file_path"`
}

// NewIngestTask builds the background ingestion task for one uploaded
// document. Ingestion runs on the critical queue: until it finishes the
// document cannot be queried.
func NewIngestTask(documentID, filePath string) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{
		DocumentID: documentID,
		FilePath:   filePath,
	})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue("critical"),
	), nil
}

// TaskProcessor dispatches background tasks to the ingestion pipeline.
type TaskProcessor struct {
	ingestor *services.Ingestor
}

func NewTaskProcessor(ingestor *services.Ingestor) *TaskProcessor {
	return &TaskProcessor{ingestor: ingestor}
}

func (p *TaskProcessor) HandleIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}

	logger.Info("Ingesting document", "document_id", payload.DocumentID, "file_path", payload.FilePath)

	chunks, err := p.ingestor.IngestFile(ctx, payload.DocumentID, payload.FilePath)
	if err != nil {
		// Extraction failures are deterministic: the same bytes fail the
		// same way, so retrying burns the queue for nothing.
		if errors.Is(err, services.ErrExtraction) {
			logger.Error("Extraction failed, not retrying", "document_id", payload.DocumentID, "error", err)
			return fmt.Errorf("extraction: %v: %w", err, asynq.SkipRetry)
		}
		logger.Error("Ingestion failed", "document_id", payload.DocumentID, "error", err)
		return err
	}

	logger.Info("Document ingested", "document_id", payload.DocumentID, "chunks", chunks)
	return nil
}
