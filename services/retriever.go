package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"athena-rag-backend/internal/ai"
	"athena-rag-backend/internal/index"
)

// ErrRetrieval marks a query for which the index holds no context to
// retrieve. The answer path maps it to the fixed insufficient-context
// reply. Failures of the embedding call are not this error: they say
// nothing about document content and surface as plain errors.
var ErrRetrieval = errors.New("retriever: no context retrieved")

// Retriever embeds a question and finds its nearest indexed chunks.
type Retriever struct {
	embedder ai.Embedder
	store    *index.Store
	topK     int
}

func NewRetriever(embedder ai.Embedder, store *index.Store, topK int) *Retriever {
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// Retrieve returns up to k chunks nearest to the question, most similar
// first. k <= 0 uses the configured default. documentID narrows the search
// to one document; empty searches the whole index.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int, documentID string) ([]index.Result, error) {
	tracer := otel.Tracer("retriever")
	ctx, span := tracer.Start(ctx, "retriever.retrieve")
	defer span.End()

	if k <= 0 {
		k = r.topK
	}
	span.SetAttributes(
		attribute.Int("retriever.top_k", k),
		attribute.String("retriever.document_id", documentID),
	)

	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := r.store.Search(vector, k, documentID)
	if err != nil {
		if errors.Is(err, index.ErrEmptyIndex) {
			return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("retriever.results", len(results)))
	return results, nil
}
