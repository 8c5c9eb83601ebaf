package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"athena-rag-backend/internal/ai"
	"athena-rag-backend/internal/config"
	"athena-rag-backend/internal/index"
	"athena-rag-backend/internal/logger"
	"athena-rag-backend/internal/telemetry"
	"athena-rag-backend/models"
)

// Ingestor runs the upload-to-index pipeline: extract pages, chunk with
// page attribution, embed, and write the document's partition. Embedding
// outages do not fail the document; its chunks park in the pending store
// and a later sweep finishes the job.
type Ingestor struct {
	config    *config.Config
	extractor *PageExtractor
	chunker   *Chunker
	embedder  ai.Embedder
	store     *index.Store
	documents *mongo.Collection
	pending   *PendingStore
	metrics   *telemetry.Metrics
}

func NewIngestor(
	cfg *config.Config,
	extractor *PageExtractor,
	chunker *Chunker,
	embedder ai.Embedder,
	store *index.Store,
	documents *mongo.Collection,
	pending *PendingStore,
	metrics *telemetry.Metrics,
) *Ingestor {
	return &Ingestor{
		config:    cfg,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		documents: documents,
		pending:   pending,
		metrics:   metrics,
	}
}

// IngestFile processes one document end to end and returns the number of
// chunks indexed. A zero count with a nil error means embedding was
// deferred and the document is in the pending_embeddings state.
func (g *Ingestor) IngestFile(ctx context.Context, documentID, filePath string) (int, error) {
	start := time.Now()
	g.updateStatus(ctx, documentID, models.StatusProcessing, "")

	pages, err := g.extractor.ExtractPages(ctx, filePath)
	if err != nil {
		g.updateStatus(ctx, documentID, models.StatusFailed, err.Error())
		g.recordIngest(start, 0, models.StatusFailed)
		return 0, err
	}

	chunks := g.chunker.Chunk(documentID, pages)
	if len(chunks) == 0 {
		err := fmt.Errorf("%w: document contains no text", ErrExtraction)
		g.updateStatus(ctx, documentID, models.StatusFailed, err.Error())
		g.recordIngest(start, 0, models.StatusFailed)
		return 0, err
	}

	vectors, err := g.embedChunks(ctx, chunks)
	if err != nil {
		logger.Warn("Embedding unavailable, deferring document",
			"document_id", documentID, "chunks", len(chunks), "error", err)
		if saveErr := g.pending.Save(PendingSet{DocumentID: documentID, Chunks: chunks}); saveErr != nil {
			g.updateStatus(ctx, documentID, models.StatusFailed, saveErr.Error())
			g.recordIngest(start, 0, models.StatusFailed)
			return 0, saveErr
		}
		g.setPageCount(ctx, documentID, len(pages))
		g.updateStatus(ctx, documentID, models.StatusPendingEmbeddings, "")
		g.recordIngest(start, 0, models.StatusPendingEmbeddings)
		return 0, nil
	}

	if err := g.indexChunks(documentID, chunks, vectors); err != nil {
		g.updateStatus(ctx, documentID, models.StatusFailed, err.Error())
		g.recordIngest(start, 0, models.StatusFailed)
		return 0, err
	}

	g.markCompleted(ctx, documentID, len(pages), len(chunks))
	g.recordIngest(start, len(chunks), models.StatusCompleted)
	return len(chunks), nil
}

// PromotePending retries embedding for every parked document. It returns
// how many documents were promoted into the index and how many remain.
func (g *Ingestor) PromotePending(ctx context.Context) (promoted, remaining int, err error) {
	ids, err := g.pending.List()
	if err != nil {
		return 0, 0, err
	}

	for _, documentID := range ids {
		set, err := g.pending.Load(documentID)
		if err != nil {
			logger.Error("Unreadable pending set", "document_id", documentID, "error", err)
			remaining++
			continue
		}

		vectors, err := g.embedChunks(ctx, set.Chunks)
		if err != nil {
			// Still unavailable; leave the set for the next sweep.
			remaining++
			continue
		}

		if err := g.indexChunks(documentID, set.Chunks, vectors); err != nil {
			logger.Error("Failed to index promoted chunks", "document_id", documentID, "error", err)
			remaining++
			continue
		}

		g.markCompleted(ctx, documentID, 0, len(set.Chunks))
		if err := g.pending.Remove(documentID); err != nil {
			logger.Error("Failed to remove pending set", "document_id", documentID, "error", err)
		}
		promoted++
	}
	return promoted, remaining, nil
}

func (g *Ingestor) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		vec, err := g.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ChunkID, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// indexChunks replaces the document's partition. Remove-then-add keeps
// re-ingestion from doubling a document's entries.
func (g *Ingestor) indexChunks(documentID string, chunks []models.Chunk, vectors [][]float32) error {
	if err := g.store.Remove(documentID); err != nil {
		return err
	}
	return g.store.Add(documentID, chunks, vectors)
}

func (g *Ingestor) updateStatus(ctx context.Context, documentID, status, errMsg string) {
	if g.documents == nil {
		return
	}
	set := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errMsg != "" {
		set["error_message"] = errMsg
	}
	_, err := g.documents.UpdateOne(ctx, bson.M{"_id": documentID}, bson.M{"$set": set})
	if err != nil {
		logger.Error("Failed to update document status", "document_id", documentID, "status", status, "error", err)
	}
}

func (g *Ingestor) setPageCount(ctx context.Context, documentID string, pages int) {
	if g.documents == nil || pages <= 0 {
		return
	}
	_, err := g.documents.UpdateOne(ctx, bson.M{"_id": documentID},
		bson.M{"$set": bson.M{"pages": pages}})
	if err != nil {
		logger.Error("Failed to update page count", "document_id", documentID, "error", err)
	}
}

func (g *Ingestor) markCompleted(ctx context.Context, documentID string, pages, chunkCount int) {
	if g.documents == nil {
		return
	}
	now := time.Now()
	set := bson.M{
		"status":       models.StatusCompleted,
		"chunk_count":  chunkCount,
		"processed_at": now,
		"updated_at":   now,
	}
	if pages > 0 {
		set["pages"] = pages
	}
	_, err := g.documents.UpdateOne(ctx, bson.M{"_id": documentID}, bson.M{"$set": set})
	if err != nil {
		logger.Error("Failed to mark document completed", "document_id", documentID, "error", err)
	}
}

func (g *Ingestor) recordIngest(start time.Time, chunks int, status string) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordIngest(time.Since(start).Seconds(), chunks, status)
}

// RemoveDocument drops a document from the index and clears any pending
// set, used by the delete endpoint.
func (g *Ingestor) RemoveDocument(documentID string) error {
	if err := g.store.Remove(documentID); err != nil {
		return err
	}
	return g.pending.Remove(documentID)
}
