package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"storescout/internal/candidate/models"
	"storescout/internal/candidate/store"
)

type DiscoveryServiceSuite struct {
	suite.Suite
	store   *store.InMemory
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestDiscoveryServiceSuite(t *testing.T) {
	suite.Run(t, new(DiscoveryServiceSuite))
}

func (s *DiscoveryServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.now = time.Date(2026, time.August, 30, 9, 0, 0, 0, time.UTC)
	s.service = New(s.store, WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *DiscoveryServiceSuite) TestDiscoverCreatesOnce() {
	s.Run("first discovery creates", func() {
		result, err := s.service.Discover(s.ctx, "https://example.test", "search", map[string]string{"query": "mugs"})
		s.Require().NoError(err)
		s.True(result.Created)
		s.Equal(ReasonCreated, result.Reason)
		s.NotEqual(uuid.Nil, result.ID)

		cand, err := s.store.FindByCanonicalURL(s.ctx, "example.test")
		s.Require().NoError(err)
		s.Equal(models.LifecyclePending, cand.LifecycleStatus)
		s.Equal(models.PlatformUnset, cand.PlatformStatus)
		s.Nil(cand.PlatformConfidence, "verification state is never guessed at discovery")
		s.Equal("search", cand.DiscoverySource)
		s.Equal("example", cand.DisplayName)
	})

	s.Run("second discovery reports already exists", func() {
		first, err := s.service.Discover(s.ctx, "example.test", "search", nil)
		s.Require().NoError(err)

		later := s.now.Add(time.Hour)
		s.service.clock = func() time.Time { return later }

		second, err := s.service.Discover(s.ctx, "example.test", "crawl", nil)
		s.Require().NoError(err)
		s.False(second.Created)
		s.Equal(ReasonAlreadyExists, second.Reason)
		s.Equal(first.ID, second.ID)

		cand, err := s.store.FindByID(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal("search", cand.DiscoverySource, "provenance is write-once")
		s.Equal(later, cand.LastObservedAt, "observation timestamp refreshed")
	})
}

// TestEquivalentSpellings verifies that every spelling of the same identity
// lands on one entity.
func (s *DiscoveryServiceSuite) TestEquivalentSpellings() {
	spellings := []string{
		"EXAMPLE.test/",
		"https://example.test",
		"http://www.example.test/collections/all?page=2",
		"example.test",
	}

	ids := make(map[uuid.UUID]struct{})
	for _, raw := range spellings {
		result, err := s.service.Discover(s.ctx, raw, "search", nil)
		s.Require().NoError(err)
		ids[result.ID] = struct{}{}
	}
	s.Len(ids, 1, "all spellings must resolve to one entity")
}

func (s *DiscoveryServiceSuite) TestInvalidURL() {
	for _, raw := range []string{"", "   ", "ftp://example.test", "localhost"} {
		result, err := s.service.Discover(s.ctx, raw, "search", nil)
		s.Require().NoError(err, "input errors are reported, not raised")
		s.False(result.Created)
		s.Equal(ReasonInvalidURL, result.Reason)
	}

	due, err := s.store.ListDue(s.ctx, s.now.Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Empty(due, "invalid input must leave no side effects")
}

func (s *DiscoveryServiceSuite) TestConcurrentDiscovery() {
	const workers = 12
	var wg sync.WaitGroup
	results := make(chan *Result, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.service.Discover(s.ctx, "race.test", "search", nil)
			s.NoError(err)
			results <- result
		}()
	}
	wg.Wait()
	close(results)

	var created int
	ids := make(map[uuid.UUID]struct{})
	for r := range results {
		if r.Created {
			created++
		}
		ids[r.ID] = struct{}{}
	}
	s.Equal(1, created, "exactly one worker wins the insert")
	s.Len(ids, 1, "all workers see the same entity")
}
