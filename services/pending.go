package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	"athena-rag-backend/internal/logger"
	"athena-rag-backend/models"
)

// PendingSet holds chunks that were produced but could not be embedded,
// usually because the embeddings API was down or rate limited. The set
// stays on disk until a sweep promotes it into the index.
type PendingSet struct {
	DocumentID string         `json:"document_id"`
	SavedAt    time.Time      `json:"saved_at"`
	Chunks     []models.Chunk `json:"chunks"`
}

// PendingStore keeps one JSON file per stalled document.
type PendingStore struct {
	dir string
}

func NewPendingStore(dir string) (*PendingStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("pending: create dir: %w", err)
	}
	return &PendingStore{dir: dir}, nil
}

func (s *PendingStore) path(documentID string) string {
	return filepath.Join(s.dir, documentID+".json")
}

func (s *PendingStore) Save(set PendingSet) error {
	if set.SavedAt.IsZero() {
		set.SavedAt = time.Now()
	}
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	tmp := s.path(set.DocumentID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(set.DocumentID))
}

func (s *PendingStore) Load(documentID string) (*PendingSet, error) {
	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		return nil, err
	}
	var set PendingSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// List returns the document IDs with pending chunk sets, oldest first not
// guaranteed; callers retry all of them anyway.
func (s *PendingStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *PendingStore) Remove(documentID string) error {
	err := os.Remove(s.path(documentID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// PendingSweeper periodically retries embedding for documents stuck in
// the pending_embeddings state.
type PendingSweeper struct {
	scheduler *gocron.Scheduler
	ingestor  *Ingestor
	interval  time.Duration
}

func NewPendingSweeper(ingestor *Ingestor, interval time.Duration) *PendingSweeper {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	return &PendingSweeper{
		scheduler: s,
		ingestor:  ingestor,
		interval:  interval,
	}
}

func (p *PendingSweeper) Start() error {
	_, err := p.scheduler.Every(p.interval).Tag("pending-sweep").Do(p.sweep)
	if err != nil {
		return err
	}
	p.scheduler.StartAsync()
	return nil
}

func (p *PendingSweeper) Stop() {
	p.scheduler.Stop()
}

func (p *PendingSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	promoted, remaining, err := p.ingestor.PromotePending(ctx)
	if err != nil {
		logger.Error("Pending sweep failed", "error", err)
		return
	}
	if promoted > 0 || remaining > 0 {
		logger.Info("Pending sweep finished", "promoted", promoted, "remaining", remaining)
	}
}
