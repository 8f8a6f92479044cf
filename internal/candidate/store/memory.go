package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"storescout/internal/candidate/models"
	"storescout/pkg/platform/sentinel"
)

// InMemory keeps candidates in process memory. It is the reference
// implementation for tests and mirrors the transition guarantees of the
// PostgreSQL store.
type InMemory struct {
	mu          sync.RWMutex
	byID        map[uuid.UUID]*models.Candidate
	byCanonical map[string]uuid.UUID
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:        make(map[uuid.UUID]*models.Candidate),
		byCanonical: make(map[string]uuid.UUID),
	}
}

// Create inserts the candidate unless its canonical URL is already taken.
func (s *InMemory) Create(_ context.Context, candidate *models.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCanonical[candidate.CanonicalURL]; ok {
		return sentinel.ErrConflict
	}

	clone := cloneCandidate(candidate)
	s.byID[clone.ID] = clone
	s.byCanonical[clone.CanonicalURL] = clone.ID
	return nil
}

// FindByID returns a copy of the candidate or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, id uuid.UUID) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCandidate(c), nil
}

// FindByCanonicalURL returns a copy of the candidate or sentinel.ErrNotFound.
func (s *InMemory) FindByCanonicalURL(_ context.Context, canonicalURL string) (*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCanonical[canonicalURL]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCandidate(s.byID[id]), nil
}

// TouchObserved refreshes last_observed_at only.
func (s *InMemory) TouchObserved(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.LastObservedAt = at
	return nil
}

// ApplyVerification writes confidence, status, and the full signal map, then
// recomputes the verified flag against the stored strict verdict.
func (s *InMemory) ApplyVerification(_ context.Context, id uuid.UUID, update models.VerificationUpdate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}

	confidence := update.Confidence
	c.PlatformConfidence = &confidence
	c.PlatformStatus = update.Status
	c.PlatformSignals = maps.Clone(update.Signals)
	c.Verified = verifiedFlag(c)
	c.LastObservedAt = at
	return nil
}

// ApplyStrict writes the strict overlay verdict. Lifecycle writes go through
// the transition table: a passing strict check is the only automated path
// out of a terminal negative state.
func (s *InMemory) ApplyStrict(_ context.Context, id uuid.UUID, update models.StrictUpdate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}

	c.StrictPassed = update.Verified
	c.StrictReasons = slices.Clone(update.Reasons)
	if models.CanTransition(c.LifecycleStatus, update.Status, update.Active) {
		c.LifecycleStatus = update.Status
	}
	c.Verified = verifiedFlag(c)
	c.LastObservedAt = at
	return nil
}

// ApplyHealth writes lifecycle and quantity state from a health pass. Health
// is a soft check: it can never promote a terminal negative back to a
// positive state on its own.
func (s *InMemory) ApplyHealth(_ context.Context, id uuid.UUID, update models.HealthUpdate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}

	if update.Lifecycle != "" && models.CanTransition(c.LifecycleStatus, update.Lifecycle, false) {
		c.LifecycleStatus = update.Lifecycle
	}
	if update.QuantityStatus != "" {
		c.QuantityStatus = update.QuantityStatus
		if update.QuantityStatus == models.QuantityConfirmed && update.QuantityMetric != nil {
			metric := *update.QuantityMetric
			c.QuantityMetric = &metric
		} else {
			c.QuantityMetric = nil
		}
	}
	if c.LifecycleStatus == models.LifecycleNonexistent {
		// Terminal: out of the retry rotation permanently.
		c.NextRetryAt = nil
	}
	c.LastObservedAt = at
	return nil
}

// ApplyClassification upgrades descriptive attributes. Empty fields leave
// the current value in place.
func (s *InMemory) ApplyClassification(_ context.Context, id uuid.UUID, update models.ClassificationUpdate, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}

	if update.DisplayName != "" {
		c.DisplayName = update.DisplayName
	}
	if update.Locale != "" {
		c.Locale = update.Locale
	}
	if update.VisualTheme != "" {
		c.VisualTheme = update.VisualTheme
	}
	if update.PrimaryCategory != "" {
		c.PrimaryCategory = update.PrimaryCategory
		c.CategoryConfidence = update.CategoryConfidence
	}
	if len(update.CategoryTags) > 0 {
		c.CategoryTags = slices.Clone(update.CategoryTags)
	}
	c.LastObservedAt = at
	return nil
}

// ScheduleRetry records backoff state for the next pipeline pass.
func (s *InMemory) ScheduleRetry(_ context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if c.LifecycleStatus == models.LifecycleNonexistent {
		return sentinel.ErrInvalidState
	}

	c.RetryCount = retryCount
	next := nextRetryAt
	c.NextRetryAt = &next
	return nil
}

// ListDue returns schedulable candidates whose retry window has passed,
// oldest observation first.
func (s *InMemory) ListDue(_ context.Context, now time.Time, limit int) ([]*models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Candidate
	for _, c := range s.byID {
		if !c.LifecycleStatus.Schedulable() {
			continue
		}
		if c.NextRetryAt != nil && c.NextRetryAt.After(now) {
			continue
		}
		due = append(due, cloneCandidate(c))
	}

	slices.SortFunc(due, func(a, b *models.Candidate) int {
		return a.LastObservedAt.Compare(b.LastObservedAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// CountByLifecycle aggregates candidates per lifecycle status.
func (s *InMemory) CountByLifecycle(_ context.Context) (map[models.LifecycleStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.LifecycleStatus]int)
	for _, c := range s.byID {
		counts[c.LifecycleStatus]++
	}
	return counts, nil
}

// verifiedFlag derives the verified gate from both components: the strict
// overlay must have passed and the confidence score must reach the probable
// threshold. Recomputed on every write that touches either input.
func verifiedFlag(c *models.Candidate) bool {
	return c.StrictPassed &&
		c.PlatformConfidence != nil && *c.PlatformConfidence >= 0.4
}

func cloneCandidate(c *models.Candidate) *models.Candidate {
	clone := *c
	clone.DiscoveryMetadata = maps.Clone(c.DiscoveryMetadata)
	clone.PlatformSignals = maps.Clone(c.PlatformSignals)
	clone.StrictReasons = slices.Clone(c.StrictReasons)
	clone.CategoryTags = slices.Clone(c.CategoryTags)
	if c.PlatformConfidence != nil {
		v := *c.PlatformConfidence
		clone.PlatformConfidence = &v
	}
	if c.QuantityMetric != nil {
		v := *c.QuantityMetric
		clone.QuantityMetric = &v
	}
	if c.NextRetryAt != nil {
		v := *c.NextRetryAt
		clone.NextRetryAt = &v
	}
	return &clone
}
