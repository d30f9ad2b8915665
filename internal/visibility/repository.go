package visibility

import (
	"context"
	"sync"
	"time"
)

// Repository defines persistence for visibility records. One row per
// detective; Upsert writes all override fields together so concurrent admin
// writes cannot interleave partial records.
type Repository interface {
	// Get retrieves the record for a detective.
	// Returns ErrRecordNotFound when no record exists.
	Get(ctx context.Context, detectiveID string) (*Record, error)

	// GetAll retrieves the records for the given detectives. Detectives with
	// no record are absent from the result map.
	GetAll(ctx context.Context, detectiveIDs []string) (map[string]*Record, error)

	// Upsert atomically inserts or replaces the record.
	Upsert(ctx context.Context, record *Record) error
}

// InMemoryRepository implements Repository with in-memory storage.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory visibility repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[string]*Record),
	}
}

// Get retrieves the record for a detective.
func (r *InMemoryRepository) Get(ctx context.Context, detectiveID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[detectiveID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(record), nil
}

// GetAll retrieves the records for the given detectives.
func (r *InMemoryRepository) GetAll(ctx context.Context, detectiveIDs []string) (map[string]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Record, len(detectiveIDs))
	for _, id := range detectiveIDs {
		if record, ok := r.records[id]; ok {
			out[id] = copyRecord(record)
		}
	}
	return out, nil
}

// Upsert atomically inserts or replaces the record.
func (r *InMemoryRepository) Upsert(ctx context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyRecord(record)
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	r.records[record.DetectiveID] = stored
	return nil
}

// Len returns the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// copyRecord creates a deep copy of a Record.
func copyRecord(record *Record) *Record {
	if record == nil {
		return nil
	}
	copied := *record
	if record.ManualRank != nil {
		rank := *record.ManualRank
		copied.ManualRank = &rank
	}
	return &copied
}
