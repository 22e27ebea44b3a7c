package repository

import (
	"context"
	"sort"
	"sync"

	"visitstats/internal/domain"
)

// MemoryVisitRepository keeps visits in a map guarded by an RWMutex.
// It backs STORE_BACKEND=memory and the service tests.
type MemoryVisitRepository struct {
	mu      sync.RWMutex
	records map[string]domain.VisitRecord
}

// NewMemoryVisitRepository creates an empty in-memory repository
func NewMemoryVisitRepository() *MemoryVisitRepository {
	return &MemoryVisitRepository{
		records: make(map[string]domain.VisitRecord),
	}
}

func (m *MemoryVisitRepository) GetByKey(ctx context.Context, key string) (*domain.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryVisitRepository) PutIfAbsent(ctx context.Context, record *domain.VisitRecord) (domain.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.DedupKey]; ok {
		return domain.AlreadyExists, nil
	}
	m.records[record.DedupKey] = *record
	return domain.Inserted, nil
}

// ScanAll returns copies of all records ordered by dedup key
func (m *MemoryVisitRepository) ScanAll(ctx context.Context) ([]*domain.VisitRecord, error) {
	m.mu.RLock()
	records := make([]*domain.VisitRecord, 0, len(m.records))
	for _, rec := range m.records {
		rec := rec
		records = append(records, &rec)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].DedupKey < records[j].DedupKey })
	return records, nil
}

func (m *MemoryVisitRepository) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryVisitRepository) Health(ctx context.Context) error {
	return nil
}

// Load stores records unconditionally, overwriting existing keys. Used to seed
// legacy or malformed rows in tests.
func (m *MemoryVisitRepository) Load(records ...*domain.VisitRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		m.records[rec.DedupKey] = *rec
	}
}
