package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// RecordData is the stored form of a record. Content is the JSON array of
// arrays produced by EncodeContent.
type RecordData struct {
	ID           uuid.UUID
	Kind         string
	Title        string
	ImporterSlug string
	Author       string
	Content      []byte
	RowCount     int
	Progress     Progress
	CreatedAt    time.Time
	StartedAt    *time.Time
}

// RecordSummary describes a record without its rows.
type RecordSummary struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	ImporterSlug string     `json:"importer"`
	Author       string     `json:"author"`
	RowCount     int        `json:"row_count"`
	CurrentRow   int        `json:"current_row"`
	Running      bool       `json:"running"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// Percent reports import progress from 0 to 100.
func (s RecordSummary) Percent() int {
	if s.RowCount == 0 {
		return 100
	}
	return s.CurrentRow * 100 / s.RowCount
}

// ListFilter narrows ListRecords. An empty ImporterSlug lists every importer.
type ListFilter struct {
	ImporterSlug string
	Limit        int
}

// Store is the durable record store. Implementations return
// ErrRecordNotFound from GetRecord and UpdateProgress for unknown ids.
type Store interface {
	InsertRecord(ctx context.Context, data RecordData) error
	GetRecord(ctx context.Context, id uuid.UUID) (RecordData, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, p Progress) error
	DeleteRecord(ctx context.Context, id uuid.UUID) (bool, error)
	ListRecords(ctx context.Context, f ListFilter) ([]RecordSummary, error)

	// PurgeStale deletes records never started and created before cutoff.
	PurgeStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore keeps records in process memory. It suits development and
// tests; records do not survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]RecordData
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]RecordData)}
}

func (m *MemoryStore) InsertRecord(_ context.Context, data RecordData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[data.ID]; exists {
		return errors.Newf("duplicate key: record %s already exists", data.ID)
	}
	data.Content = append([]byte(nil), data.Content...)
	data.Progress = Progress{}
	data.StartedAt = nil
	m.records[data.ID] = data
	return nil
}

func (m *MemoryStore) GetRecord(_ context.Context, id uuid.UUID) (RecordData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[id]
	if !ok {
		return RecordData{}, ErrRecordNotFound
	}
	data.Content = append([]byte(nil), data.Content...)
	return data, nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, id uuid.UUID, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if p.Running && data.StartedAt == nil {
		now := time.Now().UTC()
		data.StartedAt = &now
	}
	data.Progress = p
	m.records[id] = data
	return nil
}

func (m *MemoryStore) DeleteRecord(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, f ListFilter) ([]RecordSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RecordSummary, 0, len(m.records))
	for _, data := range m.records {
		if data.Kind != RecordKind {
			continue
		}
		if f.ImporterSlug != "" && data.ImporterSlug != f.ImporterSlug {
			continue
		}
		out = append(out, summarize(data))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) PurgeStale(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, data := range m.records {
		if data.Kind != RecordKind || data.Progress.Running || data.StartedAt != nil {
			continue
		}
		if data.CreatedAt.Before(cutoff) {
			delete(m.records, id)
			purged++
		}
	}
	return purged, nil
}

func summarize(data RecordData) RecordSummary {
	return RecordSummary{
		ID:           data.ID,
		Title:        data.Title,
		ImporterSlug: data.ImporterSlug,
		Author:       data.Author,
		RowCount:     data.RowCount,
		CurrentRow:   data.Progress.CurrentRow,
		Running:      data.Progress.Running,
		CreatedAt:    data.CreatedAt,
		StartedAt:    data.StartedAt,
	}
}
