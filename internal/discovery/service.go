// Package discovery registers candidate storefronts. Discovery is
// append-only idempotent registration: a raw URL either creates exactly one
// new candidate or refreshes the observation timestamp of the existing one.
// It never overwrites enrichment written by later phases.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storescout/internal/candidate/models"
	"storescout/internal/platform/metrics"
	"storescout/pkg/canonical"
	dErrors "storescout/pkg/domain-errors"
	"storescout/pkg/platform/sentinel"
)

// Reasons reported in Result and counted in batch summaries.
const (
	ReasonCreated       = "created"
	ReasonAlreadyExists = "already_exists"
	ReasonInvalidURL    = "invalid_url"
)

// Store is the narrow persistence surface discovery needs.
type Store interface {
	Create(ctx context.Context, candidate *models.Candidate) error
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (*models.Candidate, error)
	TouchObserved(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Result reports what a single Discover call did.
type Result struct {
	Created bool      `json:"created"`
	ID      uuid.UUID `json:"id,omitempty"`
	Reason  string    `json:"reason"`
}

// Service implements the discovery phase.
type Service struct {
	store  Store
	logger *slog.Logger
	meter  *metrics.Metrics
	clock  func() time.Time
}

// Option configures the service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.meter = m
	}
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs a discovery service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover canonicalizes rawURL and registers it once. Malformed input is
// reported as invalid_url with no side effects and must not be retried. A
// uniqueness conflict means another worker already registered the identity;
// that is the already-exists branch, not an error.
func (s *Service) Discover(ctx context.Context, rawURL, source string, metadata map[string]string) (*Result, error) {
	canonicalURL, err := canonical.Normalize(rawURL)
	if err != nil {
		s.observe(ReasonInvalidURL)
		return &Result{Reason: ReasonInvalidURL}, nil
	}

	now := s.clock()
	cand, err := models.NewCandidate(uuid.New(), canonicalURL, source, metadata, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Create(ctx, cand)
	if err == nil {
		s.observe(ReasonCreated)
		s.logger.InfoContext(ctx, "candidate discovered",
			"candidate_id", cand.ID,
			"canonical_url", canonicalURL,
			"source", source,
		)
		return &Result{Created: true, ID: cand.ID, Reason: ReasonCreated}, nil
	}

	if !errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "create candidate")
	}

	existing, err := s.store.FindByCanonicalURL(ctx, canonicalURL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load existing candidate")
	}
	if err := s.store.TouchObserved(ctx, existing.ID, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "refresh observation")
	}

	s.observe(ReasonAlreadyExists)
	return &Result{Created: false, ID: existing.ID, Reason: ReasonAlreadyExists}, nil
}

func (s *Service) observe(result string) {
	if s.meter != nil {
		s.meter.ObserveDiscovery(result)
	}
}
