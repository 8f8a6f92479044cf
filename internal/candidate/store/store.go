// Package store persists candidate storefronts. Two implementations share
// the Store contract: an in-memory store for tests and single-process runs,
// and a PostgreSQL store for production.
//
// The contract deliberately exposes only narrow, field-scoped writes. Each
// pipeline phase owns its own update payload; full-record overwrites would
// clobber fields written concurrently by a different phase.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storescout/internal/candidate/models"
)

// Store is the persistence contract for candidates.
//
// Create is atomic create-if-absent keyed on canonical URL and returns
// sentinel.ErrConflict when the key is already taken; concurrent duplicate
// discovery must resolve to exactly one row. Apply* methods enforce the
// lifecycle transition table, so a terminal negative state cannot be
// silently overwritten by a softer phase.
type Store interface {
	Create(ctx context.Context, candidate *models.Candidate) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Candidate, error)
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Candidate, error)

	// TouchObserved refreshes last_observed_at without touching enrichment.
	TouchObserved(ctx context.Context, id uuid.UUID, at time.Time) error

	ApplyVerification(ctx context.Context, id uuid.UUID, update models.VerificationUpdate, at time.Time) error
	ApplyStrict(ctx context.Context, id uuid.UUID, update models.StrictUpdate, at time.Time) error
	ApplyHealth(ctx context.Context, id uuid.UUID, update models.HealthUpdate, at time.Time) error
	ApplyClassification(ctx context.Context, id uuid.UUID, update models.ClassificationUpdate, at time.Time) error

	// ScheduleRetry records backoff state. It refuses (ErrInvalidState) for
	// nonexistent candidates, whose next_retry_at stays null permanently.
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error

	// ListDue returns schedulable candidates whose retry window has passed
	// (or who have never been scheduled), capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Candidate, error)

	CountByLifecycle(ctx context.Context) (map[models.LifecycleStatus]int, error)
}
