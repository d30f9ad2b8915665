package visibility

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL. The override row
// is keyed by detective_id and written as a single upsert so concurrent admin
// writes stay last-write-wins without partial records.
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

// Get retrieves the record for a detective.
func (r *PostgresRepository) Get(ctx context.Context, detectiveID string) (*Record, error) {
	query := `
		SELECT detective_id, is_visible, is_featured, manual_rank,
		       visibility_score, last_evaluated_at, updated_at
		FROM detective_visibility WHERE detective_id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, detectiveID))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visibility record for %s: %w", detectiveID, err)
	}
	return record, nil
}

// GetAll retrieves the records for the given detectives.
func (r *PostgresRepository) GetAll(ctx context.Context, detectiveIDs []string) (map[string]*Record, error) {
	if len(detectiveIDs) == 0 {
		return map[string]*Record{}, nil
	}

	query := `
		SELECT detective_id, is_visible, is_featured, manual_rank,
		       visibility_score, last_evaluated_at, updated_at
		FROM detective_visibility WHERE detective_id = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(detectiveIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load visibility records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Warn("failed to close visibility rows", slog.String("error", err.Error()))
		}
	}()

	out := make(map[string]*Record, len(detectiveIDs))
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visibility record: %w", err)
		}
		out[record.DetectiveID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate visibility records: %w", err)
	}
	return out, nil
}

// Upsert atomically inserts or replaces the record. All three override fields
// plus the display score are written in one statement.
func (r *PostgresRepository) Upsert(ctx context.Context, record *Record) error {
	query := `
		INSERT INTO detective_visibility
			(detective_id, is_visible, is_featured, manual_rank,
			 visibility_score, last_evaluated_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (detective_id) DO UPDATE SET
			is_visible = EXCLUDED.is_visible,
			is_featured = EXCLUDED.is_featured,
			manual_rank = EXCLUDED.manual_rank,
			visibility_score = EXCLUDED.visibility_score,
			last_evaluated_at = EXCLUDED.last_evaluated_at,
			updated_at = NOW()`

	var manualRank sql.NullInt64
	if record.ManualRank != nil {
		manualRank = sql.NullInt64{Int64: int64(*record.ManualRank), Valid: true}
	}
	var lastEvaluated sql.NullTime
	if !record.LastEvaluatedAt.IsZero() {
		lastEvaluated = sql.NullTime{Time: record.LastEvaluatedAt, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query,
		record.DetectiveID, record.IsVisible, record.IsFeatured,
		manualRank, record.VisibilityScore, lastEvaluated,
	); err != nil {
		return fmt.Errorf("failed to upsert visibility record for %s: %w", record.DetectiveID, err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var manualRank sql.NullInt64
	var lastEvaluated sql.NullTime

	err := row.Scan(
		&record.DetectiveID, &record.IsVisible, &record.IsFeatured, &manualRank,
		&record.VisibilityScore, &lastEvaluated, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if manualRank.Valid {
		rank := int(manualRank.Int64)
		record.ManualRank = &rank
	}
	if lastEvaluated.Valid {
		record.LastEvaluatedAt = lastEvaluated.Time
	}
	return &record, nil
}
