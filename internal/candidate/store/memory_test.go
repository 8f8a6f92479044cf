package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"storescout/internal/candidate/models"
	"storescout/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) newCandidate(canonicalURL string) *models.Candidate {
	c, err := models.NewCandidate(uuid.New(), canonicalURL, "search", map[string]string{"query": "tee shirts"}, s.now)
	s.Require().NoError(err)
	return c
}

func (s *MemoryStoreSuite) TestCreateAndLookups() {
	s.Run("creates and finds by ID and canonical URL", func() {
		c := s.newCandidate("example.test")
		s.Require().NoError(s.store.Create(s.ctx, c))

		byID, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal("example.test", byID.CanonicalURL)
		s.Equal(models.LifecyclePending, byID.LifecycleStatus)
		s.Nil(byID.PlatformConfidence)

		byURL, err := s.store.FindByCanonicalURL(s.ctx, "example.test")
		s.Require().NoError(err)
		s.Equal(c.ID, byURL.ID)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, uuid.New())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate canonical URL with ErrConflict", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newCandidate("dup.test")))
		err := s.store.Create(s.ctx, s.newCandidate("dup.test"))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("returned candidates are copies", func() {
		c := s.newCandidate("copy.test")
		s.Require().NoError(s.store.Create(s.ctx, c))

		got, err := s.store.FindByCanonicalURL(s.ctx, "copy.test")
		s.Require().NoError(err)
		got.DiscoveryMetadata["query"] = "mutated"
		got.DisplayName = "mutated"

		again, err := s.store.FindByCanonicalURL(s.ctx, "copy.test")
		s.Require().NoError(err)
		s.Equal("tee shirts", again.DiscoveryMetadata["query"])
		s.NotEqual("mutated", again.DisplayName)
	})
}

func (s *MemoryStoreSuite) TestConcurrentCreate() {
	// Concurrent duplicate discovery must resolve to exactly one row.
	const workers = 16
	var wg sync.WaitGroup
	conflicts := make(chan error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conflicts <- s.store.Create(s.ctx, s.newCandidate("race.test"))
		}()
	}
	wg.Wait()
	close(conflicts)

	var created, conflicted int
	for err := range conflicts {
		switch {
		case err == nil:
			created++
		case s.ErrorIs(err, sentinel.ErrConflict):
			conflicted++
		}
	}
	s.Equal(1, created)
	s.Equal(workers-1, conflicted)
}

func (s *MemoryStoreSuite) TestVerifiedRequiresBothComponents() {
	c := s.newCandidate("verified.test")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Run("confidence alone does not verify", func() {
		update := models.VerificationUpdate{
			Confidence: 0.85,
			Status:     models.PlatformConfirmed,
			Signals:    map[string]bool{"cart_endpoint": true, "platform_header": true},
		}
		s.Require().NoError(s.store.ApplyVerification(s.ctx, c.ID, update, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.False(got.Verified)
		s.Equal(0.85, *got.PlatformConfidence)
		s.True(got.PlatformSignals["cart_endpoint"])
	})

	s.Run("strict pass completes the gate", func() {
		strict := models.StrictUpdate{Verified: true, Active: true, Status: models.LifecycleActive}
		s.Require().NoError(s.store.ApplyStrict(s.ctx, c.ID, strict, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.True(got.Verified)
		s.Equal(models.LifecycleActive, got.LifecycleStatus)
	})

	s.Run("strict failure revokes verified regardless of confidence", func() {
		strict := models.StrictUpdate{
			Verified: false,
			Status:   models.LifecycleInactivePlatform,
			Reasons:  []string{"inactive_marker"},
		}
		s.Require().NoError(s.store.ApplyStrict(s.ctx, c.ID, strict, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.False(got.Verified)
		s.Equal(models.LifecycleInactivePlatform, got.LifecycleStatus)
		s.Equal([]string{"inactive_marker"}, got.StrictReasons)
	})

	s.Run("low confidence never verifies even with strict pass", func() {
		weak := s.newCandidate("weak.test")
		s.Require().NoError(s.store.Create(s.ctx, weak))

		s.Require().NoError(s.store.ApplyVerification(s.ctx, weak.ID, models.VerificationUpdate{
			Confidence: 0.15,
			Status:     models.PlatformUnlikely,
		}, s.now))
		s.Require().NoError(s.store.ApplyStrict(s.ctx, weak.ID, models.StrictUpdate{
			Verified: true, Active: true, Status: models.LifecycleActive,
		}, s.now))

		got, err := s.store.FindByID(s.ctx, weak.ID)
		s.Require().NoError(err)
		s.False(got.Verified)
	})
}

func (s *MemoryStoreSuite) TestLifecycleTransitionGuard() {
	c := s.newCandidate("guard.test")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Require().NoError(s.store.ApplyStrict(s.ctx, c.ID, models.StrictUpdate{
		Verified: false, Status: models.LifecycleDead, Reasons: []string{"root_unreachable"},
	}, s.now))

	s.Run("health cannot promote a dead candidate", func() {
		s.Require().NoError(s.store.ApplyHealth(s.ctx, c.ID, models.HealthUpdate{
			Lifecycle: models.LifecycleActive,
		}, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.LifecycleDead, got.LifecycleStatus)
	})

	s.Run("passing strict check promotes it again", func() {
		s.Require().NoError(s.store.ApplyStrict(s.ctx, c.ID, models.StrictUpdate{
			Verified: true, Active: true, Status: models.LifecycleActive,
		}, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.LifecycleActive, got.LifecycleStatus)
	})
}

func (s *MemoryStoreSuite) TestNonexistentIsTerminal() {
	c := s.newCandidate("gone.test")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Require().NoError(s.store.ScheduleRetry(s.ctx, c.ID, 1, s.now.Add(time.Hour)))
	s.Require().NoError(s.store.ApplyHealth(s.ctx, c.ID, models.HealthUpdate{
		Lifecycle: models.LifecycleNonexistent,
	}, s.now))

	got, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.LifecycleNonexistent, got.LifecycleStatus)
	s.Nil(got.NextRetryAt)

	s.Run("retry scheduling is refused afterwards", func() {
		err := s.store.ScheduleRetry(s.ctx, c.ID, 2, s.now.Add(time.Hour))
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Nil(got.NextRetryAt)
	})

	s.Run("never listed as due again", func() {
		due, err := s.store.ListDue(s.ctx, s.now.Add(24*time.Hour), 100)
		s.Require().NoError(err)
		for _, d := range due {
			s.NotEqual(c.ID, d.ID)
		}
	})
}

func (s *MemoryStoreSuite) TestQuantityWrites() {
	c := s.newCandidate("qty.test")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Run("confirmed zero is stored as zero", func() {
		zero := 0
		s.Require().NoError(s.store.ApplyHealth(s.ctx, c.ID, models.HealthUpdate{
			Lifecycle:      models.LifecycleActive,
			QuantityStatus: models.QuantityConfirmed,
			QuantityMetric: &zero,
		}, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.QuantityConfirmed, got.QuantityStatus)
		s.Require().NotNil(got.QuantityMetric)
		s.Equal(0, *got.QuantityMetric)
	})

	s.Run("rate limited leaves metric null", func() {
		s.Require().NoError(s.store.ApplyHealth(s.ctx, c.ID, models.HealthUpdate{
			QuantityStatus: models.QuantityRateLimited,
		}, s.now))

		got, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(models.QuantityRateLimited, got.QuantityStatus)
		s.Nil(got.QuantityMetric)
	})
}

func (s *MemoryStoreSuite) TestListDue() {
	oldest := s.newCandidate("oldest.test")
	oldest.LastObservedAt = s.now.Add(-2 * time.Hour)
	newest := s.newCandidate("newest.test")
	scheduled := s.newCandidate("scheduled.test")

	s.Require().NoError(s.store.Create(s.ctx, oldest))
	s.Require().NoError(s.store.Create(s.ctx, newest))
	s.Require().NoError(s.store.Create(s.ctx, scheduled))
	s.Require().NoError(s.store.ScheduleRetry(s.ctx, scheduled.ID, 1, s.now.Add(time.Hour)))

	s.Run("skips candidates inside their backoff window", func() {
		due, err := s.store.ListDue(s.ctx, s.now, 10)
		s.Require().NoError(err)
		s.Len(due, 2)
		s.Equal(oldest.ID, due[0].ID, "oldest observation first")
	})

	s.Run("includes them after the window passes", func() {
		due, err := s.store.ListDue(s.ctx, s.now.Add(2*time.Hour), 10)
		s.Require().NoError(err)
		s.Len(due, 3)
	})

	s.Run("caps the result size", func() {
		due, err := s.store.ListDue(s.ctx, s.now, 1)
		s.Require().NoError(err)
		s.Len(due, 1)
	})
}

func (s *MemoryStoreSuite) TestCountByLifecycle() {
	a := s.newCandidate("a.test")
	b := s.newCandidate("b.test")
	s.Require().NoError(s.store.Create(s.ctx, a))
	s.Require().NoError(s.store.Create(s.ctx, b))
	s.Require().NoError(s.store.ApplyStrict(s.ctx, b.ID, models.StrictUpdate{
		Verified: true, Active: true, Status: models.LifecycleActive,
	}, s.now))

	counts, err := s.store.CountByLifecycle(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, counts[models.LifecyclePending])
	s.Equal(1, counts[models.LifecycleActive])
}
