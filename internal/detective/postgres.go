package detective

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/sleuthsite/detectory/internal/ranking"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

const detectiveColumns = `
	id, user_id, business_name, slug, level, status,
	blue_tick, pro_badge, recommended_badge,
	country, city, last_active_at, created_at, updated_at`

// GetByID retrieves a detective by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Detective, error) {
	query := `SELECT` + detectiveColumns + `
		FROM detectives WHERE id = $1`

	d, err := scanDetective(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrDetectiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load detective %s: %w", id, err)
	}
	return d, nil
}

// ListCandidates retrieves detectives matching the filter. Only the status,
// country, and name predicates are applied in SQL; visibility gating and
// ordering happen in the listing layer against a complete candidate set.
func (r *PostgresRepository) ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Detective, error) {
	status := filter.Status
	if status == "" {
		status = StatusActive
	}

	query := `SELECT` + detectiveColumns + `
		FROM detectives WHERE status = $1`
	args := []any{status}

	if filter.Country != "" {
		args = append(args, filter.Country)
		query += fmt.Sprintf(" AND lower(country) = lower($%d)", len(args))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+q+"%")
		query += fmt.Sprintf(" AND business_name ILIKE $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close candidate rows", slog.String("error", err.Error()))
		}
	}()

	var results []*Detective
	for rows.Next() {
		d, err := scanDetective(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return results, nil
}

// ReviewAggregates returns published-review statistics for the given IDs.
// Reviews attach to services, so the aggregate joins through the services
// table. Detectives with no published reviews are absent from the result.
func (r *PostgresRepository) ReviewAggregates(ctx context.Context, detectiveIDs []string) (map[string]ReviewAggregate, error) {
	if len(detectiveIDs) == 0 {
		return map[string]ReviewAggregate{}, nil
	}

	query := `
		SELECT s.detective_id, COUNT(rv.id), COALESCE(AVG(rv.rating), 0)
		FROM reviews rv
		JOIN services s ON s.id = rv.service_id
		WHERE rv.is_published = true AND s.detective_id = ANY($1)
		GROUP BY s.detective_id`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(detectiveIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load review aggregates: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close aggregate rows", slog.String("error", err.Error()))
		}
	}()

	out := make(map[string]ReviewAggregate, len(detectiveIDs))
	for rows.Next() {
		var agg ReviewAggregate
		if err := rows.Scan(&agg.DetectiveID, &agg.Count, &agg.AvgRating); err != nil {
			return nil, fmt.Errorf("failed to scan review aggregate: %w", err)
		}
		out[agg.DetectiveID] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review aggregates: %w", err)
	}
	return out, nil
}

// TopServiceByDetective returns each detective's best active image-bearing
// service using a window over (order_count DESC, updated_at DESC).
func (r *PostgresRepository) TopServiceByDetective(ctx context.Context, detectiveIDs []string) (map[string]*Service, error) {
	if len(detectiveIDs) == 0 {
		return map[string]*Service{}, nil
	}

	query := `
		WITH ranked_services AS (
			SELECT
				id, detective_id, title, category, description, images,
				base_price, offer_price, is_on_enquiry, order_count, is_active, updated_at,
				ROW_NUMBER() OVER (
					PARTITION BY detective_id
					ORDER BY order_count DESC, updated_at DESC, id ASC
				) AS rn
			FROM services
			WHERE is_active = true
			  AND images IS NOT NULL
			  AND cardinality(images) > 0
			  AND detective_id = ANY($1)
		)
		SELECT id, detective_id, title, category, description, images,
		       base_price, offer_price, is_on_enquiry, order_count, is_active, updated_at
		FROM ranked_services WHERE rn = 1`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(detectiveIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load top services: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close service rows", slog.String("error", err.Error()))
		}
	}()

	out := make(map[string]*Service)
	for rows.Next() {
		var s Service
		var images pq.StringArray
		if err := rows.Scan(
			&s.ID, &s.DetectiveID, &s.Title, &s.Category, &s.Description, &images,
			&s.BasePrice, &s.OfferPrice, &s.IsOnEnquiry, &s.OrderCount, &s.IsActive, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		s.Images = []string(images)
		out[s.DetectiveID] = &s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate services: %w", err)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDetective scans one detective row in detectiveColumns order.
func scanDetective(row rowScanner) (*Detective, error) {
	var d Detective
	var level string
	var country, city sql.NullString
	var lastActive sql.NullTime

	err := row.Scan(
		&d.ID, &d.UserID, &d.BusinessName, &d.Slug, &level, &d.Status,
		&d.Badges.BlueTick, &d.Badges.Pro, &d.Badges.Recommended,
		&country, &city, &lastActive, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Level = ranking.Level(level)
	d.Country = country.String
	d.City = city.String
	if lastActive.Valid {
		d.LastActiveAt = lastActive.Time
	} else {
		d.LastActiveAt = time.Time{}
	}
	return &d, nil
}
