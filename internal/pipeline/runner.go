// Package pipeline pulls due candidates from the store and walks each one
// through its remaining phases: verification with the strict overlay, the
// health check, and classification. Batches run under a single-flight lease
// with bounded concurrency; one candidate failing never stops the batch.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storescout/internal/candidate/models"
	"storescout/internal/candidate/store"
	"storescout/internal/classify"
	"storescout/internal/health"
	"storescout/internal/platform/metrics"
	"storescout/internal/verify"
	"storescout/internal/verify/strict"
	"storescout/pkg/canonical"
	dErrors "storescout/pkg/domain-errors"
)

// ErrBatchInFlight is returned when a run is requested while another batch
// holds the lease.
var ErrBatchInFlight = dErrors.New(dErrors.CodeConflict, "a pipeline batch is already running")

const (
	defaultConcurrency = 8
	defaultBaseDelay   = 15 * time.Minute
	defaultMaxDelay    = 24 * time.Hour
)

// Verifier scores platform signals for a candidate.
type Verifier interface {
	Verify(ctx context.Context, canonicalURL, origin string) *verify.Outcome
}

// StrictChecker runs the fail-closed verification overlay.
type StrictChecker interface {
	Check(ctx context.Context, canonicalURL, origin string) *strict.Result
}

// HealthChecker runs the soft operational checks.
type HealthChecker interface {
	Check(ctx context.Context, cand *models.Candidate, origin string) *health.Outcome
}

// Classifier derives the descriptive attribute set.
type Classifier interface {
	Classify(ctx context.Context, canonicalURL, origin string) *classify.Outcome
}

// Summary describes one finished batch run. Breakdown counts candidates by
// the lifecycle they ended the pass with; Reasons counts the phase verdicts
// behind those lifecycles, so an all-throttled batch is distinguishable
// from a healthy one even though neither moves any lifecycle.
type Summary struct {
	StartedAt  time.Time                      `json:"started_at"`
	Duration   time.Duration                  `json:"-"`
	DurationMS int64                          `json:"duration_ms"`
	Processed  int                            `json:"processed"`
	Errors     int                            `json:"errors"`
	Breakdown  map[models.LifecycleStatus]int `json:"breakdown"`
	Reasons    map[string]int                 `json:"reasons"`
}

// Status is the runner's externally visible state.
type Status struct {
	Running bool     `json:"running"`
	LastRun *Summary `json:"last_run,omitempty"`
}

// Runner orchestrates batch runs.
type Runner struct {
	store      store.Store
	verifier   Verifier
	strict     StrictChecker
	health     HealthChecker
	classifier Classifier
	lease      Lease

	logger      *slog.Logger
	meter       *metrics.Metrics
	clock       func() time.Time
	concurrency int
	baseDelay   time.Duration
	maxDelay    time.Duration
	origin      func(canonicalURL string) string

	mu      sync.Mutex
	running bool
	lastRun *Summary
}

// Option configures the runner.
type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.meter = m
	}
}

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		r.clock = clock
	}
}

// WithConcurrency bounds how many candidates are processed at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBackoff sets the linear retry delay and its ceiling.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(r *Runner) {
		r.baseDelay = base
		r.maxDelay = ceiling
	}
}

// WithOriginResolver overrides how a canonical URL maps to the origin the
// probes hit. Tests point this at an httptest server.
func WithOriginResolver(resolve func(canonicalURL string) string) Option {
	return func(r *Runner) {
		r.origin = resolve
	}
}

// New constructs a batch runner.
func New(st store.Store, verifier Verifier, strictChecker StrictChecker, healthChecker HealthChecker, classifier Classifier, lease Lease, opts ...Option) *Runner {
	r := &Runner{
		store:       st,
		verifier:    verifier,
		strict:      strictChecker,
		health:      healthChecker,
		classifier:  classifier,
		lease:       lease,
		logger:      slog.Default(),
		clock:       time.Now,
		concurrency: defaultConcurrency,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		origin:      canonical.BaseURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status reports whether a batch is running and the last finished summary.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, LastRun: r.lastRun}
}

// RunBatch pulls up to limit due candidates and processes them. Overlapping
// runs are rejected with ErrBatchInFlight. A store failure listing the
// batch is fatal; failures on individual candidates are counted and logged
// but never abort the rest.
func (r *Runner) RunBatch(ctx context.Context, limit int) (*Summary, error) {
	acquired, err := r.lease.TryAcquire(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire batch lease")
	}
	if !acquired {
		r.observeRun("rejected")
		return nil, ErrBatchInFlight
	}
	defer func() {
		if err := r.lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WarnContext(ctx, "release batch lease", "error", err)
		}
	}()

	r.setRunning(true)
	defer r.setRunning(false)

	started := r.clock()
	summary := &Summary{
		StartedAt: started,
		Breakdown: make(map[models.LifecycleStatus]int),
		Reasons:   make(map[string]int),
	}

	candidates, err := r.store.ListDue(ctx, started, limit)
	if err != nil {
		r.observeRun("failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list due candidates")
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.concurrency)
	for _, cand := range candidates {
		cand := cand
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			final, reasons, err := r.process(groupCtx, cand)

			mu.Lock()
			defer mu.Unlock()
			summary.Processed++
			if err != nil {
				summary.Errors++
				r.logger.ErrorContext(groupCtx, "candidate processing failed",
					"candidate_id", cand.ID,
					"canonical_url", cand.CanonicalURL,
					"error", err,
				)
				return nil
			}
			summary.Breakdown[final]++
			for _, reason := range reasons {
				summary.Reasons[reason]++
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		r.observeRun("failed")
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "batch interrupted")
	}

	summary.Duration = r.clock().Sub(started)
	summary.DurationMS = summary.Duration.Milliseconds()
	r.finish(summary)
	r.logger.InfoContext(ctx, "batch run finished",
		"processed", summary.Processed,
		"errors", summary.Errors,
		"duration", summary.Duration,
	)
	return summary, nil
}

// process runs the phases a candidate is still missing, in order. It
// returns the lifecycle the candidate ended the pass with and the phase
// reasons behind it for the batch summary.
func (r *Runner) process(ctx context.Context, cand *models.Candidate) (models.LifecycleStatus, []string, error) {
	origin := r.origin(cand.CanonicalURL)
	final := cand.LifecycleStatus

	if !cand.Verified {
		vout := r.verifier.Verify(ctx, cand.CanonicalURL, origin)
		update := models.VerificationUpdate{
			Confidence: vout.Confidence,
			Status:     vout.Status,
			Signals:    vout.Signals,
		}
		if err := r.store.ApplyVerification(ctx, cand.ID, update, r.clock()); err != nil {
			return final, nil, err
		}

		sres := r.strict.Check(ctx, cand.CanonicalURL, origin)
		strictUpdate := models.StrictUpdate{
			Verified: sres.Verified,
			Active:   sres.Active,
			Status:   sres.Status,
			Reasons:  sres.Reasons,
		}
		if err := r.store.ApplyStrict(ctx, cand.ID, strictUpdate, r.clock()); err != nil {
			return final, nil, err
		}
		final = sres.Status

		if !sres.Verified {
			return final, sres.Reasons, r.reschedule(ctx, cand, final)
		}
	}

	hout := r.health.Check(ctx, cand, origin)
	reasons := []string{hout.Reason}
	if err := r.store.ApplyHealth(ctx, cand.ID, hout.Update(), r.clock()); err != nil {
		return final, nil, err
	}
	if hout.Lifecycle != "" {
		final = hout.Lifecycle
	}
	if hout.Retryable {
		if err := r.reschedule(ctx, cand, final); err != nil {
			return final, reasons, err
		}
	}
	if final != models.LifecycleActive {
		return final, reasons, nil
	}

	cout := r.classifier.Classify(ctx, cand.CanonicalURL, origin)
	if err := r.store.ApplyClassification(ctx, cand.ID, cout.Update(), r.clock()); err != nil {
		return final, reasons, err
	}
	return final, reasons, nil
}

// reschedule books the next attempt with linear backoff. Candidates whose
// lifecycle left the retry rotation are skipped.
func (r *Runner) reschedule(ctx context.Context, cand *models.Candidate, lifecycle models.LifecycleStatus) error {
	if !lifecycle.Schedulable() {
		return nil
	}
	count := cand.RetryCount + 1
	next := NextRetry(r.clock(), count, r.baseDelay, r.maxDelay)
	return r.store.ScheduleRetry(ctx, cand.ID, count, next)
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	r.running = running
	r.mu.Unlock()
}

func (r *Runner) finish(summary *Summary) {
	r.mu.Lock()
	r.lastRun = summary
	r.mu.Unlock()

	if r.meter == nil {
		return
	}
	r.meter.BatchRuns.WithLabelValues("completed").Inc()
	r.meter.BatchDuration.Observe(summary.Duration.Seconds())
	r.meter.BatchSize.Observe(float64(summary.Processed))
	counts, err := r.store.CountByLifecycle(context.Background())
	if err != nil {
		return
	}
	for status, count := range counts {
		r.meter.LifecycleCounts.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (r *Runner) observeRun(result string) {
	if r.meter != nil {
		r.meter.BatchRuns.WithLabelValues(result).Inc()
	}
}
