package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"storescout/internal/candidate/models"
	"storescout/pkg/platform/sentinel"
)

// Postgres persists candidates in PostgreSQL. Creation relies on the unique
// constraint over canonical_url; a conflicting insert affects zero rows and
// is reported as sentinel.ErrConflict, never as a driver error. Lifecycle
// writes encode the transition table in SQL so concurrent phase runs cannot
// interleave a stale read with a destructive write.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres wires a sql.DB (see schema.sql for the expected table).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// lifecycleGuardSQL mirrors models.CanTransition: nonexistent never moves,
// and terminal negatives only move to a positive state when the writing
// phase strictly re-confirmed health ($strict placeholder).
const lifecycleGuardSQL = `CASE
        WHEN lifecycle_status = 'nonexistent' THEN lifecycle_status
        WHEN lifecycle_status IN ('inactive_platform', 'dead', 'blocked')
             AND NOT %s
             AND %s IN ('active', 'possibly_inactive') THEN lifecycle_status
        ELSE %s
    END`

func (p *Postgres) Create(ctx context.Context, c *models.Candidate) error {
	metadata, err := json.Marshal(c.DiscoveryMetadata)
	if err != nil {
		return fmt.Errorf("marshal discovery metadata: %w", err)
	}

	query := `
		INSERT INTO candidates (
			id, canonical_url, display_name, discovery_source, discovery_metadata,
			platform_status, lifecycle_status, quantity_status,
			retry_count, date_added, last_observed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $9)
		ON CONFLICT (canonical_url) DO NOTHING
	`
	res, err := p.db.ExecContext(ctx, query,
		c.ID, c.CanonicalURL, c.DisplayName, c.DiscoverySource, metadata,
		string(c.PlatformStatus), string(c.LifecycleStatus), string(c.QuantityStatus),
		c.DateAdded,
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert candidate rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (p *Postgres) FindByID(ctx context.Context, id uuid.UUID) (*models.Candidate, error) {
	return p.findOne(ctx, `WHERE id = $1`, id)
}

func (p *Postgres) FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Candidate, error) {
	return p.findOne(ctx, `WHERE canonical_url = $1`, canonicalURL)
}

func (p *Postgres) TouchObserved(ctx context.Context, id uuid.UUID, at time.Time) error {
	return p.exec(ctx,
		`UPDATE candidates SET last_observed_at = $2 WHERE id = $1`,
		id, at)
}

func (p *Postgres) ApplyVerification(ctx context.Context, id uuid.UUID, update models.VerificationUpdate, at time.Time) error {
	signals, err := json.Marshal(update.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}

	query := `
		UPDATE candidates SET
			platform_confidence = $2,
			platform_status = $3,
			platform_signals = $4,
			verified = strict_passed AND $2 >= 0.4,
			last_observed_at = $5
		WHERE id = $1
	`
	return p.exec(ctx, query, id, update.Confidence, string(update.Status), signals, at)
}

func (p *Postgres) ApplyStrict(ctx context.Context, id uuid.UUID, update models.StrictUpdate, at time.Time) error {
	guard := fmt.Sprintf(lifecycleGuardSQL, "$4", "$3", "$3")
	query := fmt.Sprintf(`
		UPDATE candidates SET
			strict_passed = $2,
			lifecycle_status = %s,
			strict_reasons = $5,
			verified = $2 AND platform_confidence IS NOT NULL AND platform_confidence >= 0.4,
			last_observed_at = $6
		WHERE id = $1
	`, guard)
	return p.exec(ctx, query,
		id, update.Verified, string(update.Status), update.Active,
		textArray(update.Reasons), at)
}

func (p *Postgres) ApplyHealth(ctx context.Context, id uuid.UUID, update models.HealthUpdate, at time.Time) error {
	// Health never strictly confirms, so the guard gets a constant false.
	guard := fmt.Sprintf(lifecycleGuardSQL, "FALSE",
		`CASE WHEN $2 = '' THEN lifecycle_status ELSE $2 END`,
		`CASE WHEN $2 = '' THEN lifecycle_status ELSE $2 END`)
	query := fmt.Sprintf(`
		UPDATE candidates SET
			lifecycle_status = %s,
			quantity_status = CASE WHEN $3 = '' THEN quantity_status ELSE $3 END,
			quantity_metric = CASE
				WHEN $3 = 'confirmed' THEN $4
				WHEN $3 = '' THEN quantity_metric
				ELSE NULL
			END,
			last_observed_at = $5
		WHERE id = $1
	`, guard)
	if err := p.exec(ctx, query,
		id, string(update.Lifecycle), string(update.QuantityStatus),
		nullableInt(update.QuantityMetric), at); err != nil {
		return err
	}

	// Nonexistent leaves the retry rotation permanently. Zero rows affected
	// just means the candidate is not in that state.
	if _, err := p.db.ExecContext(ctx,
		`UPDATE candidates SET next_retry_at = NULL WHERE id = $1 AND lifecycle_status = 'nonexistent'`,
		id); err != nil {
		return fmt.Errorf("clear retry for nonexistent candidate: %w", err)
	}
	return nil
}

func (p *Postgres) ApplyClassification(ctx context.Context, id uuid.UUID, update models.ClassificationUpdate, at time.Time) error {
	query := `
		UPDATE candidates SET
			display_name = CASE WHEN $2 = '' THEN display_name ELSE $2 END,
			locale = CASE WHEN $3 = '' THEN locale ELSE $3 END,
			visual_theme = CASE WHEN $4 = '' THEN visual_theme ELSE $4 END,
			primary_category = CASE WHEN $5 = '' THEN primary_category ELSE $5 END,
			category_confidence = CASE WHEN $5 = '' THEN category_confidence ELSE $6 END,
			category_tags = CASE WHEN cardinality($7::text[]) = 0 THEN category_tags ELSE $7 END,
			last_observed_at = $8
		WHERE id = $1
	`
	return p.exec(ctx, query,
		id, update.DisplayName, update.Locale, update.VisualTheme,
		update.PrimaryCategory, update.CategoryConfidence,
		textArray(update.CategoryTags), at)
}

func (p *Postgres) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE candidates SET retry_count = $2, next_retry_at = $3
		 WHERE id = $1 AND lifecycle_status <> 'nonexistent'`,
		id, retryCount, nextRetryAt)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("schedule retry rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish "missing" from "terminal" for callers.
		if _, findErr := p.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (p *Postgres) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Candidate, error) {
	query := selectColumns + `
		WHERE lifecycle_status <> 'nonexistent'
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY last_observed_at ASC
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due candidates: %w", err)
	}
	defer rows.Close()

	var due []*models.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due iteration: %w", err)
	}
	return due, nil
}

func (p *Postgres) CountByLifecycle(ctx context.Context) (map[models.LifecycleStatus]int, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT lifecycle_status, COUNT(*) FROM candidates GROUP BY lifecycle_status`)
	if err != nil {
		return nil, fmt.Errorf("count by lifecycle: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LifecycleStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan lifecycle count: %w", err)
		}
		counts[models.LifecycleStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count iteration: %w", err)
	}
	return counts, nil
}

const selectColumns = `
	SELECT id, canonical_url, display_name, discovery_source, discovery_metadata,
	       platform_status, platform_confidence, platform_signals,
	       lifecycle_status, verified, strict_passed, strict_reasons,
	       quantity_metric, quantity_status,
	       locale, visual_theme, category_tags, primary_category, category_confidence,
	       retry_count, next_retry_at, date_added, last_observed_at
	FROM candidates
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *Postgres) findOne(ctx context.Context, where string, arg any) (*models.Candidate, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+where, arg)
	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return c, err
}

func scanCandidate(row rowScanner) (*models.Candidate, error) {
	var (
		c              models.Candidate
		metadata       []byte
		signals        []byte
		confidence     sql.NullFloat64
		quantityMetric sql.NullInt64
		locale         sql.NullString
		visualTheme    sql.NullString
		primary        sql.NullString
		nextRetryAt    sql.NullTime
		reasons        pq.StringArray
		tags           pq.StringArray
	)

	err := row.Scan(
		&c.ID, &c.CanonicalURL, &c.DisplayName, &c.DiscoverySource, &metadata,
		&c.PlatformStatus, &confidence, &signals,
		&c.LifecycleStatus, &c.Verified, &c.StrictPassed, &reasons,
		&quantityMetric, &c.QuantityStatus,
		&locale, &visualTheme, &tags, &primary, &c.CategoryConfidence,
		&c.RetryCount, &nextRetryAt, &c.DateAdded, &c.LastObservedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan candidate: %w", err)
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.DiscoveryMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal discovery metadata: %w", err)
		}
	}
	if len(signals) > 0 {
		if err := json.Unmarshal(signals, &c.PlatformSignals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
	}
	if confidence.Valid {
		v := confidence.Float64
		c.PlatformConfidence = &v
	}
	if quantityMetric.Valid {
		v := int(quantityMetric.Int64)
		c.QuantityMetric = &v
	}
	c.Locale = locale.String
	c.VisualTheme = visualTheme.String
	c.PrimaryCategory = primary.String
	if nextRetryAt.Valid {
		v := nextRetryAt.Time
		c.NextRetryAt = &v
	}
	c.StrictReasons = reasons
	c.CategoryTags = tags
	return &c, nil
}

func (p *Postgres) exec(ctx context.Context, query string, args ...any) error {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update candidate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update candidate rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// textArray adapts a string slice for a NOT NULL text[] column. A nil
// slice must serialize as '{}', not SQL NULL.
func textArray(values []string) driver.Valuer {
	if values == nil {
		values = []string{}
	}
	return pq.Array(values)
}
