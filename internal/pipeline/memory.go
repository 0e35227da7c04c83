package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/shipnotes/pkg/models"
)

// MemoryRecordStore keeps records in process memory. Backs the CLI
// one-shot mode and tests; the API server uses the Postgres-backed
// store. Like that store it also holds render state, so an artifact
// URL set by the renderer lands on the record itself.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*models.GenerationRecord
	renders map[string]*models.RenderState
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[int64]*models.GenerationRecord),
		renders: make(map[string]*models.RenderState),
	}
}

func (s *MemoryRecordStore) CreateRecord(ctx context.Context, record *models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = s.nextID
	copied := *record
	s.records[record.ID] = &copied
	return nil
}

// ListRecords returns records newest first
func (s *MemoryRecordStore) ListRecords(ctx context.Context, limit int) ([]*models.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.GenerationRecord, 0, len(s.records))
	for _, record := range s.records {
		copied := *record
		list = append(list, &copied)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryRecordStore) GetRecord(ctx context.Context, id int64) (*models.GenerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryRecordStore) UpdateRecord(ctx context.Context, record *models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[record.ID]
	if !ok {
		return ErrRecordNotFound
	}
	copied := *record
	// The artifact URL is owned by SetArtifactURL, matching the
	// Postgres store where UpdateRecord leaves that column alone.
	copied.ArtifactURL = existing.ArtifactURL
	s.records[record.ID] = &copied
	return nil
}

func (s *MemoryRecordStore) SaveRenderState(ctx context.Context, state *models.RenderState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.renders[state.RenderID] = &copied
	return nil
}

// ActiveRender returns the record's non-terminal render attempt, or nil
// when there is none.
func (s *MemoryRecordStore) ActiveRender(ctx context.Context, recordID int64) (*models.RenderState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, state := range s.renders {
		if state.RecordID == recordID && !state.Status.IsTerminal() {
			copied := *state
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryRecordStore) ArtifactURL(ctx context.Context, recordID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok || record.ArtifactURL == nil {
		return "", nil
	}
	return *record.ArtifactURL, nil
}

func (s *MemoryRecordStore) SetArtifactURL(ctx context.Context, recordID int64, artifactURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok {
		return ErrRecordNotFound
	}
	record.ArtifactURL = &artifactURL
	return nil
}
