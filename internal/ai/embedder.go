package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"athena-rag-backend/internal/config"
)

// Embedder turns a piece of text into a fixed-dimension vector. The
// ingestion pipeline and the retriever both depend on this interface, so
// tests can substitute a deterministic local implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// GeminiEmbedder calls the Google Generative AI embeddings endpoint.
type GeminiEmbedder struct {
	client  *genai.Client
	model   string
	dim     int
	timeout time.Duration
	retries int
	backoff time.Duration
}

func NewGeminiEmbedder(ctx context.Context, cfg *config.Config) (*GeminiEmbedder, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for embeddings")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}
	return &GeminiEmbedder{
		client:  client,
		model:   cfg.EmbeddingsModel,
		dim:     cfg.EmbeddingDim,
		timeout: time.Duration(cfg.EmbedTimeoutSecs) * time.Second,
		retries: cfg.ExternalRetries,
		backoff: time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	}, nil
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dim
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var values []float32
	err := withRetry(ctx, e.retries, e.backoff, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		model := e.client.EmbeddingModel(e.model)
		resp, err := model.EmbedContent(callCtx, genai.Text(text))
		if err != nil {
			return err
		}
		if resp.Embedding == nil {
			return fmt.Errorf("no embedding returned")
		}
		values = resp.Embedding.Values
		return nil
	})
	if err != nil {
		return nil, err
	}

	// A dimension drift here means the configured model changed under us.
	// Retrying cannot fix that, so fail loudly.
	if len(values) != e.dim {
		return nil, fmt.Errorf("embedding model %s returned dimension %d, expected %d",
			e.model, len(values), e.dim)
	}
	return values, nil
}

func (e *GeminiEmbedder) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
