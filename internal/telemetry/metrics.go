package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	ChunksIndexed       metric.Int64Counter
	IngestDuration      metric.Float64Histogram
	QueryDuration       metric.Float64Histogram
	UngroundedCitations metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("athena-rag-backend")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"index.chunks.total",
		metric.WithDescription("Total chunks written to the vector index"),
	)
	if err != nil {
		return nil, err
	}

	ingestDuration, err := meter.Float64Histogram(
		"ingest.duration",
		metric.WithDescription("Document ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"query.duration",
		metric.WithDescription("End-to-end question answering duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ungroundedCitations, err := meter.Int64Counter(
		"answer.ungrounded_citations.total",
		metric.WithDescription("Citations dropped because the model cited pages outside the retrieved context"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		ChunksIndexed:       chunksIndexed,
		IngestDuration:      ingestDuration,
		QueryDuration:       queryDuration,
		UngroundedCitations: ungroundedCitations,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIngest records one completed (or failed) ingestion run.
func (m *Metrics) RecordIngest(duration float64, chunks int, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("ingest.status", status),
	}

	m.IngestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if chunks > 0 {
		m.ChunksIndexed.Add(context.Background(), int64(chunks), metric.WithAttributes(attrs...))
	}
}

// RecordQuery records one answered question.
func (m *Metrics) RecordQuery(duration float64, status string) {
	attrs := []attribute.KeyValue{
		attribute.String("query.status", status),
	}

	m.QueryDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordUngroundedCitation counts pages the model cited that were not in
// the retrieved context.
func (m *Metrics) RecordUngroundedCitation(documentID string, count int) {
	if count <= 0 {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("document.id", documentID),
	}

	m.UngroundedCitations.Add(context.Background(), int64(count), metric.WithAttributes(attrs...))
}
