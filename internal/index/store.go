package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"athena-rag-backend/models"
)

// Entry is one indexed chunk plus its position metadata. Seq is a global
// insertion sequence used to break similarity ties deterministically:
// the earlier-indexed chunk wins.
type Entry struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Pages      []int  `json:"pages"`
	Text       string `json:"text"`
	Order      int    `json:"order"`
	Seq        uint64 `json:"seq"`
}

// Result is a single search hit.
type Result struct {
	Entry Entry
	Score float64
}

// partition holds one document's entries. Each partition has its own
// read-write lock so a re-index of one document never blocks searches
// against other documents.
type partition struct {
	mu      sync.RWMutex
	entries []Entry
	vectors [][]float32
}

// Store is a disk-backed vector index partitioned by document. Each
// partition persists as a vector file plus a position-parallel metadata
// table; both are rewritten together on every mutation.
type Store struct {
	dir    string
	metric Metric
	dim    int

	mu      sync.RWMutex // guards parts and nextSeq
	parts   map[string]*partition
	nextSeq uint64
}

// Open loads the index rooted at dir, creating the directory if needed.
// dim and metric are fixed for the lifetime of the index; partitions on
// disk that disagree with them fail the load with ErrCorrupt.
func Open(dir string, metric Metric, dim int) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("index: dimension must be positive, got %d", dim)
	}
	if metric != MetricCosine && metric != MetricL2 {
		return nil, fmt.Errorf("index: unknown similarity metric %q", metric)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("index: create dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		metric: metric,
		dim:    dim,
		parts:  make(map[string]*partition),
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("index: read dir: %w", err)
	}

	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		docID, entries, vectors, err := loadPartition(filepath.Join(dir, de.Name()), metric, dim)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", de.Name(), err)
		}
		s.parts[docID] = &partition{entries: entries, vectors: vectors}
		for _, e := range entries {
			if e.Seq >= s.nextSeq {
				s.nextSeq = e.Seq + 1
			}
		}
	}

	return s, nil
}

// Add appends one document's chunks and their vectors to that document's
// partition. A vector whose dimension does not match the index dimension
// rejects the whole batch before anything is written, so a failed Add
// leaves both memory and disk unchanged.
func (s *Store) Add(documentID string, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("index: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != s.dim {
			return fmt.Errorf("%w: entry %d has dimension %d, index expects %d",
				ErrDimensionMismatch, i, len(v), s.dim)
		}
	}

	// Copy vectors so normalization never mutates the caller's slices.
	prepared := make([][]float32, len(vectors))
	for i, v := range vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		if s.metric == MetricCosine {
			normalize(cp)
		}
		prepared[i] = cp
	}

	// Lock the partition, then confirm it is still the registered one. A
	// concurrent Remove may have unregistered it between the two locks; if
	// so its directory is gone and writing through the stale partition
	// would leave an orphan on disk, so start over.
	var part *partition
	for {
		s.mu.Lock()
		p, ok := s.parts[documentID]
		if !ok {
			p = &partition{}
			s.parts[documentID] = p
		}
		s.mu.Unlock()

		p.mu.Lock()
		s.mu.RLock()
		current := s.parts[documentID]
		s.mu.RUnlock()
		if current == p {
			part = p
			break
		}
		p.mu.Unlock()
	}
	defer part.mu.Unlock()

	s.mu.Lock()
	firstSeq := s.nextSeq
	s.nextSeq += uint64(len(chunks))
	s.mu.Unlock()

	entries := make([]Entry, 0, len(part.entries)+len(chunks))
	entries = append(entries, part.entries...)
	vecs := make([][]float32, 0, len(part.vectors)+len(prepared))
	vecs = append(vecs, part.vectors...)

	for i, ch := range chunks {
		entries = append(entries, Entry{
			ChunkID:    ch.ChunkID,
			DocumentID: documentID,
			Pages:      ch.Pages,
			Text:       ch.Text,
			Order:      ch.Order,
			Seq:        firstSeq + uint64(i),
		})
		vecs = append(vecs, prepared[i])
	}

	if err := writePartition(s.partitionDir(documentID), documentID, s.metric, s.dim, entries, vecs); err != nil {
		return fmt.Errorf("index: persist partition %s: %w", documentID, err)
	}

	// Disk write succeeded; swap the in-memory view.
	part.entries = entries
	part.vectors = vecs
	return nil
}

// Search returns up to k entries nearest to query, descending by score.
// documentID restricts the search to that document's partition; an empty
// string searches everything. ErrEmptyIndex is returned when there is
// nothing to search.
func (s *Store) Search(query []float32, k int, documentID string) ([]Result, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	var candidates []*partition
	if documentID != "" {
		if part, ok := s.parts[documentID]; ok {
			candidates = []*partition{part}
		}
	} else {
		candidates = make([]*partition, 0, len(s.parts))
		for _, part := range s.parts {
			candidates = append(candidates, part)
		}
	}
	s.mu.RUnlock()

	q := query
	if s.metric == MetricCosine {
		q = make([]float32, len(query))
		copy(q, query)
		normalize(q)
	}

	var results []Result
	for _, part := range candidates {
		part.mu.RLock()
		for i, e := range part.entries {
			results = append(results, Result{Entry: e, Score: score(s.metric, q, part.vectors[i])})
		}
		part.mu.RUnlock()
	}

	if len(results) == 0 {
		return nil, ErrEmptyIndex
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.Seq < results[j].Entry.Seq
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove deletes all entries for a document. Removing a document with no
// entries is a no-op, not an error, so re-ingestion can always Remove first.
func (s *Store) Remove(documentID string) error {
	s.mu.Lock()
	part, ok := s.parts[documentID]
	delete(s.parts, documentID)
	s.mu.Unlock()

	if ok {
		// Wait for in-flight searches over this partition to drain.
		part.mu.Lock()
		part.entries = nil
		part.vectors = nil
		part.mu.Unlock()
	}

	if err := os.RemoveAll(s.partitionDir(documentID)); err != nil {
		return fmt.Errorf("index: remove partition %s: %w", documentID, err)
	}
	return nil
}

// Count returns the total number of indexed entries.
func (s *Store) Count() int {
	s.mu.RLock()
	parts := make([]*partition, 0, len(s.parts))
	for _, part := range s.parts {
		parts = append(parts, part)
	}
	s.mu.RUnlock()

	total := 0
	for _, part := range parts {
		part.mu.RLock()
		total += len(part.entries)
		part.mu.RUnlock()
	}
	return total
}

// Dimension returns the fixed vector dimension of the index.
func (s *Store) Dimension() int {
	return s.dim
}
