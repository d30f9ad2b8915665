// Package listing assembles the ordered, cache-accelerated result sets
// consumed by listing surfaces: the ranked directory and the featured
// home-page services.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/sleuthsite/detectory/internal/cache"
	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/ranking"
	"github.com/sleuthsite/detectory/internal/visibility"
)

// Cache key prefixes. The admin write path invalidates both wholesale after
// every override change.
const (
	CacheKeyPrefix      = "listing:"
	FeaturedCachePrefix = "services:featured:"
)

// Defaults for result bounds and cache TTL.
const (
	DefaultLimit       = 100
	MaxLimit           = 500
	DefaultTTLSeconds  = 300 // 5 minutes
	DefaultFeaturedMax = 8
)

// Query selects and bounds a ranked directory listing. Anonymous controls
// cache participation: only unauthenticated traffic may be served cached
// results, so admin and session views never see stale visibility state.
type Query struct {
	Country   string
	Search    string
	Limit     int
	Anonymous bool
}

// RankedDetective is one entry of a ranked listing.
type RankedDetective struct {
	Detective       detective.Detective `json:"detective"`
	VisibilityScore int                 `json:"visibility_score"`
	RankPosition    int                 `json:"rank_position"`
	IsFeatured      bool                `json:"is_featured"`
	ReviewCount     int                 `json:"review_count"`
	AvgRating       float64             `json:"avg_rating"`
}

// FeaturedService is one entry of the featured home-page surface: a
// detective's best image-bearing service plus the owning profile summary.
type FeaturedService struct {
	Service      detective.Service `json:"service"`
	DetectiveID  string            `json:"detective_id"`
	BusinessName string            `json:"business_name"`
	Slug         string            `json:"slug"`
	Country      string            `json:"country,omitempty"`
	ReviewCount  int               `json:"review_count"`
	AvgRating    float64           `json:"avg_rating"`
}

// Service is the ranking read path.
type Service struct {
	detectives    detective.Repository
	overrides     visibility.Repository
	cache         *cache.Cache
	points        *ranking.Points
	ttlSeconds    int
	featuredLimit int
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithPoints sets calibrated score points.
func WithPoints(p *ranking.Points) Option {
	return func(s *Service) {
		s.points = p
	}
}

// WithCacheTTL sets the TTL in seconds for anonymous result caching.
func WithCacheTTL(seconds int) Option {
	return func(s *Service) {
		s.ttlSeconds = seconds
	}
}

// WithFeaturedLimit sets the size of the featured home surface.
func WithFeaturedLimit(n int) Option {
	return func(s *Service) {
		s.featuredLimit = n
	}
}

// NewService creates the listing read path. The cache may be nil, in which
// case every request recomputes.
func NewService(detectives detective.Repository, overrides visibility.Repository, c *cache.Cache, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		detectives:    detectives,
		overrides:     overrides,
		cache:         c,
		ttlSeconds:    DefaultTTLSeconds,
		featuredLimit: DefaultFeaturedMax,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RankDetectives returns the ordered listing for the query. Store failures
// propagate to the caller; they are never masked as an empty result. For
// anonymous queries the fully assembled result may be served from cache and
// is repopulated on miss; cache failures degrade silently.
func (s *Service) RankDetectives(ctx context.Context, q Query) ([]RankedDetective, error) {
	limit := normalizeLimit(q.Limit)
	key := rankedCacheKey(q, limit)

	if q.Anonymous && s.cache != nil {
		var cached []RankedDetective
		if s.cache.Get(key, &cached) {
			return cached, nil
		}
	}

	results, err := s.assemble(ctx, q, limit)
	if err != nil {
		return nil, err
	}

	if q.Anonymous && s.cache != nil {
		s.cache.Set(key, results, s.ttlSeconds)
	}
	return results, nil
}

// assemble loads candidates, applies the visibility gate before scoring,
// scores, sorts, and truncates.
func (s *Service) assemble(ctx context.Context, q Query, limit int) ([]RankedDetective, error) {
	candidates, err := s.detectives.ListCandidates(ctx, detective.CandidateFilter{
		Status:  detective.StatusActive,
		Country: q.Country,
		Query:   q.Search,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}

	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}

	records, err := s.overrides.GetAll(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load visibility records: %w", err)
	}

	// The gate runs before scoring and before the bound so hidden detectives
	// can never cause an undercounted page.
	visible := candidates[:0]
	for _, d := range candidates {
		if rec, ok := records[d.ID]; ok && !rec.IsVisible {
			continue
		}
		visible = append(visible, d)
	}

	visibleIDs := make([]string, len(visible))
	for i, d := range visible {
		visibleIDs[i] = d.ID
	}
	aggs, err := s.detectives.ReviewAggregates(ctx, visibleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load review aggregates: %w", err)
	}

	now := s.now()
	type scored struct {
		entry RankedDetective
		keys  ranking.Ranked
	}
	entries := make([]scored, 0, len(visible))
	for _, d := range visible {
		agg := aggs[d.ID]
		var manualRank *int
		var isFeatured bool
		if rec, ok := records[d.ID]; ok {
			manualRank = rec.ManualRank
			isFeatured = rec.IsFeatured
		}

		score := ranking.Score(ranking.Signals{
			Level:        d.Level,
			Badges:       d.Badges,
			LastActiveAt: d.LastActiveAt,
			ReviewCount:  agg.Count,
			AvgRating:    agg.AvgRating,
			ManualRank:   manualRank,
		}, now, s.points)

		entries = append(entries, scored{
			entry: RankedDetective{
				Detective:       *d,
				VisibilityScore: score,
				IsFeatured:      isFeatured,
				ReviewCount:     agg.Count,
				AvgRating:       agg.AvgRating,
			},
			keys: ranking.Ranked{
				DetectiveID:     d.ID,
				ManualRank:      manualRank,
				VisibilityScore: score,
				ReviewCount:     agg.Count,
				LastActiveAt:    d.LastActiveAt,
			},
		})
	}

	slices.SortFunc(entries, func(a, b scored) int {
		return ranking.Compare(a.keys, b.keys)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}

	results := make([]RankedDetective, len(entries))
	for i, e := range entries {
		e.entry.RankPosition = i + 1
		results[i] = e.entry
	}
	return results, nil
}

// FeaturedHomeServices returns the top featured services, at most one per
// detective, detectives ordered by the ranking chain and services restricted
// to active image-bearing offerings. Cached for anonymous traffic.
func (s *Service) FeaturedHomeServices(ctx context.Context, anonymous bool) ([]FeaturedService, error) {
	key := fmt.Sprintf("%shome:%dunique", FeaturedCachePrefix, s.featuredLimit)

	if anonymous && s.cache != nil {
		var cached []FeaturedService
		if s.cache.Get(key, &cached) {
			return cached, nil
		}
	}

	// Rank more detectives than the surface needs: some of the best-ranked
	// may have no qualifying service.
	ranked, err := s.assemble(ctx, Query{}, MaxLimit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(ranked))
	for i, rd := range ranked {
		ids[i] = rd.Detective.ID
	}
	topServices, err := s.detectives.TopServiceByDetective(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load featured services: %w", err)
	}

	results := make([]FeaturedService, 0, s.featuredLimit)
	for _, rd := range ranked {
		svc, ok := topServices[rd.Detective.ID]
		if !ok {
			continue
		}
		results = append(results, FeaturedService{
			Service:      *svc,
			DetectiveID:  rd.Detective.ID,
			BusinessName: rd.Detective.BusinessName,
			Slug:         rd.Detective.Slug,
			Country:      rd.Detective.Country,
			ReviewCount:  rd.ReviewCount,
			AvgRating:    rd.AvgRating,
		})
		if len(results) == s.featuredLimit {
			break
		}
	}

	if anonymous && s.cache != nil {
		s.cache.Set(key, results, s.ttlSeconds)
	}
	return results, nil
}

// normalizeLimit applies the default and upper bound.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// rankedCacheKey builds a key specific enough that two different predicates
// can never collide: every predicate parameter and the bound participate, and
// the free-text components are escaped so a ":" inside one predicate cannot
// masquerade as the delimiter.
func rankedCacheKey(q Query, limit int) string {
	return fmt.Sprintf("%sranked:%s:%s:%d",
		CacheKeyPrefix, url.QueryEscape(q.Country), url.QueryEscape(q.Search), limit)
}
