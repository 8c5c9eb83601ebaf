package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"athena-rag-backend/models"
)

func testChunks(docID string, n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ChunkID:    fmt.Sprintf("%s_%d", docID, i),
			DocumentID: docID,
			Order:      i,
			Text:       fmt.Sprintf("chunk %d of %s", i, docID),
			Pages:      []int{i + 1},
		}
	}
	return chunks
}

func TestSearchRanksBySimilarity(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.9, 0.1, 0, 0},
	}
	if err := store.Add("doc1", testChunks("doc1", 3), vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := store.Search([]float32{1, 0, 0, 0}, 2, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Entry.ChunkID != "doc1_0" {
		t.Errorf("expected doc1_0 first, got %s", results[0].Entry.ChunkID)
	}
	if results[1].Entry.ChunkID != "doc1_2" {
		t.Errorf("expected doc1_2 second, got %s", results[1].Entry.ChunkID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %f < %f", results[0].Score, results[1].Score)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err = store.Search([]float32{1, 0, 0, 0}, 5, "")
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestSearchUnknownDocumentFilter(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// A filter naming a document with no entries has nothing to search.
	_, err = store.Search([]float32{1, 0, 0, 0}, 5, "missing")
	if !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex for unknown document, got %v", err)
	}
}

func TestDocumentFilterRestrictsResults(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 2), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}); err != nil {
		t.Fatalf("Add doc1: %v", err)
	}
	if err := store.Add("doc2", testChunks("doc2", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add doc2: %v", err)
	}

	results, err := store.Search([]float32{1, 0, 0, 0}, 10, "doc2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Entry.DocumentID != "doc2" {
			t.Errorf("filtered search leaked entry from %s", r.Entry.DocumentID)
		}
	}
}

func TestAddDimensionMismatchLeavesStoreUnchanged(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	bad := [][]float32{{1, 0, 0, 0}, {1, 0}}
	err = store.Add("doc1", testChunks("doc1", 2), bad)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("failed Add changed the store: count = %d", store.Count())
	}
}

func TestSearchDimensionMismatch(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = store.Search([]float32{1, 0}, 5, "")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestTieBreakByInsertionOrder(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Identical vectors score identically; insertion order decides.
	same := [][]float32{{0, 0, 1, 0}, {0, 0, 1, 0}, {0, 0, 1, 0}}
	if err := store.Add("doc1", testChunks("doc1", 3), same); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := store.Search([]float32{0, 0, 1, 0}, 3, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i, r := range results {
		want := fmt.Sprintf("doc1_%d", i)
		if r.Entry.ChunkID != want {
			t.Errorf("result %d: expected %s, got %s", i, want, r.Entry.ChunkID)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, MetricL2, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	vectors := [][]float32{{1, 2, 3, 4}, {4, 3, 2, 1}}
	if err := store.Add("doc1", testChunks("doc1", 2), vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, err := store.Search([]float32{1, 2, 3, 4}, 2, "")
	if err != nil {
		t.Fatalf("Search before reopen: %v", err)
	}

	reopened, err := Open(dir, MetricL2, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", reopened.Count())
	}
	after, err := reopened.Search([]float32{1, 2, 3, 4}, 2, "")
	if err != nil {
		t.Fatalf("Search after reopen: %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("result count changed across reopen: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i].Entry.ChunkID != after[i].Entry.ChunkID {
			t.Errorf("result %d changed across reopen: %s vs %s",
				i, before[i].Entry.ChunkID, after[i].Entry.ChunkID)
		}
		if before[i].Score != after[i].Score {
			t.Errorf("score %d changed across reopen: %f vs %f",
				i, before[i].Score, after[i].Score)
		}
	}
}

func TestSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 2), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := reopened.Add("doc2", testChunks("doc2", 1), [][]float32{{0, 0, 1, 0}}); err != nil {
		t.Fatalf("Add after reopen: %v", err)
	}

	results, err := reopened.Search([]float32{0, 0, 1, 0}, 3, "doc2")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Entry.Seq < 2 {
		t.Errorf("new entry reused an old sequence number: %d", results[0].Entry.Seq)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Remove("doc1"); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if err := store.Remove("doc1"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := store.Remove("never-existed"); err != nil {
		t.Fatalf("Remove of unknown document: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty store, got %d entries", store.Count())
	}
}

func TestCorruptPartitionFailsLoad(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 2), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Truncate the vector file so it no longer matches its header.
	vecPath := filepath.Join(dir, "doc1", vectorsFile)
	info, err := os.Stat(vecPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(vecPath, info.Size()-4); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err = Open(dir, MetricCosine, 4)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestDimensionChangeFailsLoad(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err = Open(dir, MetricCosine, 8)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt on dimension change, got %v", err)
	}
}

// Racing Add against Remove for the same document must never strand a
// partition directory on disk that memory no longer knows about: after the
// final Remove, a reopen of the same directory finds nothing.
func TestConcurrentAddRemoveLeavesNoOrphanPartition(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
				t.Errorf("Add: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := store.Remove("doc1"); err != nil {
				t.Errorf("Remove: %v", err)
			}
		}()
	}
	wg.Wait()

	if err := store.Remove("doc1"); err != nil {
		t.Fatalf("final Remove: %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("expected empty store after final Remove, got %d entries", store.Count())
	}

	reopened, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n := reopened.Count(); n != 0 {
		t.Errorf("removed document resurrected with %d entries on reopen", n)
	}
}

// Document IDs that only differ in characters unsafe for directory names
// must still get distinct partitions.
func TestDistinctIDsNeverSharePartition(t *testing.T) {
	if sanitizeID("a/b") == sanitizeID("a_b") {
		t.Fatal("a/b and a_b map to the same partition directory")
	}

	dir := t.TempDir()
	store, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("a/b", testChunks("a/b", 1), [][]float32{{1, 0, 0, 0}}); err != nil {
		t.Fatalf("Add a/b: %v", err)
	}
	if err := store.Add("a_b", testChunks("a_b", 1), [][]float32{{0, 1, 0, 0}}); err != nil {
		t.Fatalf("Add a_b: %v", err)
	}
	if store.Count() != 2 {
		t.Fatalf("expected 2 entries across 2 documents, got %d", store.Count())
	}

	reopened, err := Open(dir, MetricCosine, 4)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Count() != 2 {
		t.Fatalf("expected 2 entries after reopen, got %d", reopened.Count())
	}
	results, err := reopened.Search([]float32{1, 0, 0, 0}, 5, "a/b")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.Entry.DocumentID != "a/b" {
			t.Errorf("partition for a/b holds entry from %s", r.Entry.DocumentID)
		}
	}
}

func TestReingestReplacesPartition(t *testing.T) {
	store, err := Open(t.TempDir(), MetricCosine, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 3), [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Remove("doc1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Add("doc1", testChunks("doc1", 1), [][]float32{{0, 0, 0, 1}}); err != nil {
		t.Fatalf("re-Add: %v", err)
	}

	if store.Count() != 1 {
		t.Errorf("expected 1 entry after re-ingest, got %d", store.Count())
	}
}
