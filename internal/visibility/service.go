package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sleuthsite/detectory/internal/cache"
	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/ranking"
)

// Service is the admin write path for visibility overrides. Every successful
// write invalidates the cached listing results that could include the
// affected detective before the call returns.
type Service struct {
	records    Repository
	detectives detective.Repository
	cache      *cache.Cache
	points     *ranking.Points
	// invalidate holds the cache key prefixes cleared after a write.
	// Coarse on purpose: over-invalidating beats serving stale visibility.
	invalidate []string
	logger     *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithPoints sets calibrated score points for Recalculate.
func WithPoints(p *ranking.Points) ServiceOption {
	return func(s *Service) {
		s.points = p
	}
}

// NewService creates the override write path. invalidatePrefixes lists the
// cache key prefixes to clear after every successful write (typically the
// listing and featured-services prefixes).
func NewService(records Repository, detectives detective.Repository, c *cache.Cache, invalidatePrefixes []string, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		records:    records,
		detectives: detectives,
		cache:      c,
		invalidate: invalidatePrefixes,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the override record for a detective, or ErrRecordNotFound if
// the detective exists but no admin has touched it yet.
func (s *Service) Get(ctx context.Context, detectiveID string) (*Record, error) {
	record, err := s.records.Get(ctx, detectiveID)
	if err == ErrRecordNotFound {
		// Distinguish "never touched" from "no such detective".
		if _, derr := s.detectives.GetByID(ctx, detectiveID); derr != nil {
			return nil, derr
		}
		return nil, err
	}
	return record, err
}

// SetOverride validates and applies an admin update. The record is created
// lazily on first write, seeded visible so a partial update never changes
// whether the detective is listed; the three override fields are persisted
// together in one upsert, last write wins. Identical payloads are idempotent.
// Relevant cache entries are invalidated before returning.
func (s *Service) SetOverride(ctx context.Context, detectiveID string, update Update) (*Record, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	// The detective must exist; overrides are never created for unknown IDs.
	if _, err := s.detectives.GetByID(ctx, detectiveID); err != nil {
		return nil, err
	}

	record, err := s.records.Get(ctx, detectiveID)
	if err == ErrRecordNotFound {
		record = NewRecord(detectiveID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load visibility record: %w", err)
	}

	record.Apply(update)
	record.UpdatedAt = s.now()

	if err := s.records.Upsert(ctx, record); err != nil {
		return nil, err
	}

	s.invalidateCaches(detectiveID)

	s.logger.Info("visibility override updated",
		slog.String("detective_id", detectiveID),
		slog.Bool("is_visible", record.IsVisible),
		slog.Bool("is_featured", record.IsFeatured),
		slog.String("manual_rank", manualRankValue(record.ManualRank)))

	return copyRecord(record), nil
}

// Recalculate recomputes the detective's visibility score and persists it on
// the record for display and debugging. The persisted value is never the
// ranking source of truth; the read path always recomputes.
func (s *Service) Recalculate(ctx context.Context, detectiveID string) (*Record, error) {
	det, err := s.detectives.GetByID(ctx, detectiveID)
	if err != nil {
		return nil, err
	}

	record, err := s.records.Get(ctx, detectiveID)
	if err == ErrRecordNotFound {
		record = NewRecord(detectiveID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load visibility record: %w", err)
	}

	aggs, err := s.detectives.ReviewAggregates(ctx, []string{detectiveID})
	if err != nil {
		return nil, fmt.Errorf("failed to load review aggregate: %w", err)
	}
	agg := aggs[detectiveID]

	now := s.now()
	record.VisibilityScore = ranking.Score(ranking.Signals{
		Level:        det.Level,
		Badges:       det.Badges,
		LastActiveAt: det.LastActiveAt,
		ReviewCount:  agg.Count,
		AvgRating:    agg.AvgRating,
		ManualRank:   record.ManualRank,
	}, now, s.points)
	record.LastEvaluatedAt = now
	record.UpdatedAt = now

	if err := s.records.Upsert(ctx, record); err != nil {
		return nil, err
	}

	return copyRecord(record), nil
}

// manualRankValue renders a nullable rank for log output.
func manualRankValue(rank *int) string {
	if rank == nil {
		return "none"
	}
	return strconv.Itoa(*rank)
}

// invalidateCaches clears every configured prefix. Cache failures are
// swallowed by the cache layer itself, so this cannot fail the write.
func (s *Service) invalidateCaches(detectiveID string) {
	if s.cache == nil {
		return
	}
	total := 0
	for _, prefix := range s.invalidate {
		total += s.cache.DelPrefix(prefix)
	}
	if total > 0 {
		s.logger.Debug("invalidated cached listings",
			slog.String("detective_id", detectiveID),
			slog.Int("entries", total))
	}
}
