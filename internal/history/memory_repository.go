package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type MemoryRepository struct {
	records map[string]*Record
	mu      sync.RWMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
	}
}

func (r *MemoryRepository) Create(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("upload record %s already exists", record.ID)
	}
	stored := *record
	r.records[record.ID] = &stored
	return nil
}

func (r *MemoryRepository) Finish(_ context.Context, id string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	record.Status = outcome.Status
	record.Checksum = outcome.Checksum
	record.ArchivePath = outcome.ArchivePath
	record.ModelIDs = append([]string(nil), outcome.ModelIDs...)
	record.Error = outcome.Error
	record.FinishedAt = outcome.FinishedAt
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	result := *record
	return &result, nil
}

func (r *MemoryRepository) List(_ context.Context, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*Record, 0, len(r.records))
	for _, record := range r.records {
		result := *record
		records = append(records, &result)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt != records[j].CreatedAt {
			return records[i].CreatedAt > records[j].CreatedAt
		}
		return records[i].ID > records[j].ID
	})

	if limit = normalizeLimit(limit); len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, record := range r.records {
		if record.Status != StatusPending && record.FinishedAt < cutoff {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}
