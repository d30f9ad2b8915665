package detective

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines read operations over detectives, services, and review
// aggregates for the ranking read path.
type Repository interface {
	// GetByID retrieves a detective by ID.
	GetByID(ctx context.Context, id string) (*Detective, error)

	// ListCandidates retrieves detectives matching the filter. Only the status
	// filter is applied here; visibility gating and ordering happen in the
	// listing layer. A zero filter limit means no bound at this stage.
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Detective, error)

	// ReviewAggregates returns published-review statistics for the given
	// detective IDs. Detectives with no published reviews are absent from the
	// result map.
	ReviewAggregates(ctx context.Context, detectiveIDs []string) (map[string]ReviewAggregate, error)

	// TopServiceByDetective returns, for each given detective, its best active
	// image-bearing service (highest order count, most recently updated as a
	// tie-break). Detectives with no qualifying service are absent.
	TopServiceByDetective(ctx context.Context, detectiveIDs []string) (map[string]*Service, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex. Used by unit tests and local runs without Postgres.
type InMemoryRepository struct {
	mu         sync.RWMutex
	detectives map[string]*Detective
	services   map[string]*Service
	aggregates map[string]ReviewAggregate
}

// NewInMemoryRepository creates a new in-memory detective repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		detectives: make(map[string]*Detective),
		services:   make(map[string]*Service),
		aggregates: make(map[string]ReviewAggregate),
	}
}

// PutDetective inserts or replaces a detective. Assigns an ID if missing.
func (r *InMemoryRepository) PutDetective(d *Detective) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	detCopy := *d
	r.detectives[d.ID] = &detCopy
	return d.ID
}

// PutService inserts or replaces a service. Assigns an ID if missing.
func (r *InMemoryRepository) PutService(s *Service) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}

	svcCopy := *s
	svcCopy.Images = append([]string(nil), s.Images...)
	r.services[s.ID] = &svcCopy
	return s.ID
}

// PutReviewAggregate sets the review statistics for a detective.
func (r *InMemoryRepository) PutReviewAggregate(agg ReviewAggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggregates[agg.DetectiveID] = agg
}

// GetByID retrieves a detective by ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Detective, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.detectives[id]
	if !ok {
		return nil, ErrDetectiveNotFound
	}
	detCopy := *d
	return &detCopy, nil
}

// ListCandidates retrieves detectives matching the filter.
func (r *InMemoryRepository) ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Detective, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := filter.Status
	if status == "" {
		status = StatusActive
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	var results []*Detective
	for _, d := range r.detectives {
		if d.Status != status {
			continue
		}
		if filter.Country != "" && !strings.EqualFold(d.Country, filter.Country) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(d.BusinessName), query) {
			continue
		}
		detCopy := *d
		results = append(results, &detCopy)
	}
	return results, nil
}

// ReviewAggregates returns published-review statistics for the given IDs.
func (r *InMemoryRepository) ReviewAggregates(ctx context.Context, detectiveIDs []string) (map[string]ReviewAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ReviewAggregate, len(detectiveIDs))
	for _, id := range detectiveIDs {
		if agg, ok := r.aggregates[id]; ok && agg.Count > 0 {
			out[id] = agg
		}
	}
	return out, nil
}

// TopServiceByDetective returns each detective's best active image-bearing
// service.
func (r *InMemoryRepository) TopServiceByDetective(ctx context.Context, detectiveIDs []string) (map[string]*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[string]bool, len(detectiveIDs))
	for _, id := range detectiveIDs {
		wanted[id] = true
	}

	out := make(map[string]*Service)
	for _, s := range r.services {
		if !s.IsActive || !s.HasImages() || !wanted[s.DetectiveID] {
			continue
		}
		best, ok := out[s.DetectiveID]
		if !ok || betterService(s, best) {
			svcCopy := *s
			svcCopy.Images = append([]string(nil), s.Images...)
			out[s.DetectiveID] = &svcCopy
		}
	}
	return out, nil
}

// betterService reports whether a should replace b as the detective's top
// service: higher order count first, then most recently updated, then ID for
// determinism.
func betterService(a, b *Service) bool {
	if a.OrderCount != b.OrderCount {
		return a.OrderCount > b.OrderCount
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}
