package services

import (
	"context"
	"hash/fnv"
	"reflect"
	"strings"
	"testing"

	"athena-rag-backend/internal/index"
	"athena-rag-backend/models"
)

const stubDim = 16

// stubEmbedder buckets words into a fixed-size histogram, so texts that
// share words get similar vectors without any network calls.
type stubEmbedder struct{}

func (stubEmbedder) Dimension() int { return stubDim }

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, stubDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%stubDim]++
	}
	return vec, nil
}

type stubGenerator struct {
	answer string
	calls  int
}

func (g *stubGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.calls++
	return g.answer, nil
}

func newTestIndex(t *testing.T, chunks []models.Chunk) *index.Store {
	t.Helper()
	store, err := index.Open(t.TempDir(), index.MetricCosine, stubDim)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(chunks) == 0 {
		return store
	}

	emb := stubEmbedder{}
	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		vec, err := emb.Embed(context.Background(), ch.Text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		vectors[i] = vec
	}
	byDoc := make(map[string][]int)
	for i, ch := range chunks {
		byDoc[ch.DocumentID] = append(byDoc[ch.DocumentID], i)
	}
	for docID, idxs := range byDoc {
		docChunks := make([]models.Chunk, len(idxs))
		docVecs := make([][]float32, len(idxs))
		for j, i := range idxs {
			docChunks[j] = chunks[i]
			docVecs[j] = vectors[i]
		}
		if err := store.Add(docID, docChunks, docVecs); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return store
}

func newTestAnswerer(t *testing.T, chunks []models.Chunk, gen *stubGenerator) *Answerer {
	t.Helper()
	store := newTestIndex(t, chunks)
	retriever := NewRetriever(stubEmbedder{}, store, 5)
	return NewAnswerer(retriever, gen, nil)
}

func TestEmptyIndexNeverCallsModel(t *testing.T) {
	gen := &stubGenerator{answer: "should never be returned"}
	answerer := newTestAnswerer(t, nil, gen)

	answer, citations, err := answerer.Answer(context.Background(), "anything at all", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != InsufficientContextAnswer {
		t.Errorf("expected the fixed insufficient-context answer, got %q", answer)
	}
	if len(citations) != 0 {
		t.Errorf("expected no citations, got %v", citations)
	}
	if gen.calls != 0 {
		t.Errorf("generator was called %d times with no context", gen.calls)
	}
}

func TestUngroundedCitationsAreDropped(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "the solar panel efficiency results", Pages: []int{2}},
	}
	gen := &stubGenerator{answer: "Efficiency peaked at noon (p. 2). See also p. 9 for methodology."}
	answerer := newTestAnswerer(t, chunks, gen)

	_, citations, err := answerer.Answer(context.Background(), "solar panel efficiency", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	want := []models.Citation{{DocumentID: "doc1", Page: 2}}
	if !reflect.DeepEqual(citations, want) {
		t.Errorf("expected %v, got %v", want, citations)
	}
}

func TestCitationFallbackToRetrievedPages(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "glacier retreat measurements alpine", Pages: []int{3, 4}},
	}
	gen := &stubGenerator{answer: "The glaciers retreated steadily over the decade."}
	answerer := newTestAnswerer(t, chunks, gen)

	_, citations, err := answerer.Answer(context.Background(), "glacier retreat", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	want := []models.Citation{
		{DocumentID: "doc1", Page: 3},
		{DocumentID: "doc1", Page: 4},
	}
	if !reflect.DeepEqual(citations, want) {
		t.Errorf("expected fallback to retrieved pages %v, got %v", want, citations)
	}
}

func TestCitationsDedupedAndSorted(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "tidal energy turbine output", Pages: []int{1, 2}},
	}
	gen := &stubGenerator{answer: "Output doubled (p. 2, page 2) after the upgrade described on p. 1."}
	answerer := newTestAnswerer(t, chunks, gen)

	_, citations, err := answerer.Answer(context.Background(), "tidal energy turbine", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	want := []models.Citation{
		{DocumentID: "doc1", Page: 1},
		{DocumentID: "doc1", Page: 2},
	}
	if !reflect.DeepEqual(citations, want) {
		t.Errorf("expected %v, got %v", want, citations)
	}
}

func TestCitationPageRanges(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "census population growth tables", Pages: []int{5, 6, 7}},
	}
	gen := &stubGenerator{answer: "Growth is tabulated on pages 5-7."}
	answerer := newTestAnswerer(t, chunks, gen)

	_, citations, err := answerer.Answer(context.Background(), "population growth", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	want := []models.Citation{
		{DocumentID: "doc1", Page: 5},
		{DocumentID: "doc1", Page: 6},
		{DocumentID: "doc1", Page: 7},
	}
	if !reflect.DeepEqual(citations, want) {
		t.Errorf("expected %v, got %v", want, citations)
	}
}

// Full pipeline over a three-page document: chunk with the real chunker,
// index with the stub embedder, ask about page 2, and expect a page 2
// citation and nothing else.
func TestAnswerCitesThePageTheContextCameFrom(t *testing.T) {
	pages := []models.Page{
		{Number: 1, Text: "chapter one covers the history of lunar settlements and early habitats"},
		{Number: 2, Text: "the mass driver payload capacity reached forty tons per launch window"},
		{Number: 3, Text: "appendix three lists the crew rotation schedules for each quarter"},
	}
	chunks := NewChunker(70, 10).Chunk("doc1", pages)
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}

	gen := &stubGenerator{answer: "Payload capacity reached forty tons (p. 2)."}
	store := newTestIndex(t, chunks)
	retriever := NewRetriever(stubEmbedder{}, store, 5)
	answerer := NewAnswerer(retriever, gen, nil)

	_, citations, err := answerer.Answer(context.Background(), "mass driver payload capacity", 1, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times", gen.calls)
	}

	want := []models.Citation{{DocumentID: "doc1", Page: 2}}
	if !reflect.DeepEqual(citations, want) {
		t.Errorf("expected %v, got %v", want, citations)
	}
}

// An embedding outage is not the same thing as an empty index: the caller
// must see the failure, not a confident claim that nothing relevant exists.
func TestEmbedderFailureSurfacesAsError(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "reactor coolant flow rates", Pages: []int{1}},
	}
	gen := &stubGenerator{answer: "should never be returned"}
	store := newTestIndex(t, chunks)
	retriever := NewRetriever(failingEmbedder{}, store, 5)
	answerer := NewAnswerer(retriever, gen, nil)

	answer, citations, err := answerer.Answer(context.Background(), "coolant flow", 0, "")
	if err == nil {
		t.Fatal("expected an error when embedding fails")
	}
	if answer != "" {
		t.Errorf("expected no answer alongside the error, got %q", answer)
	}
	if len(citations) != 0 {
		t.Errorf("expected no citations, got %v", citations)
	}
	if gen.calls != 0 {
		t.Errorf("generator was called %d times despite the embedding failure", gen.calls)
	}
}

// When every page the model cited was outside the retrieved context, the
// fallback must not dress the answer up with the full context's pages.
func TestAllUngroundedCitationsYieldNoFallback(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "volcanic ash dispersion modelling", Pages: []int{2}},
	}
	gen := &stubGenerator{answer: "Dispersion patterns are detailed on p. 9."}
	answerer := newTestAnswerer(t, chunks, gen)

	_, citations, err := answerer.Answer(context.Background(), "ash dispersion", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(citations) != 0 {
		t.Errorf("expected no citations when every cited page was ungrounded, got %v", citations)
	}
}

func TestBlankModelAnswerBecomesInsufficientContext(t *testing.T) {
	chunks := []models.Chunk{
		{ChunkID: "doc1_0", DocumentID: "doc1", Order: 0, Text: "wind speed measurement coastal", Pages: []int{1}},
	}
	gen := &stubGenerator{answer: "   "}
	answerer := newTestAnswerer(t, chunks, gen)

	answer, citations, err := answerer.Answer(context.Background(), "wind speed", 0, "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if answer != InsufficientContextAnswer {
		t.Errorf("expected the fixed insufficient-context answer, got %q", answer)
	}
	if len(citations) != 0 {
		t.Errorf("expected no citations, got %v", citations)
	}
}
