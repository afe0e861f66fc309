// Package orchestrator is the core of analyzd: the bounded-concurrency
// scheduler that drives analysis requests through discovery, fan-out
// job execution over the message bus, and result consolidation, while
// enforcing the request and job state machines.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/bus"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/store"
	"github.com/fyrsmithlabs/analyzd/internal/telemetry"
)

// Discoverer is the discovery collaborator: it clones and introspects
// the repository behind a request, returning its shared context. It is
// invoked exactly once per request at the DiscoveryRunning stage.
type Discoverer interface {
	Discover(ctx context.Context, req *analysis.Request, accessToken string) (*analysis.SharedContext, error)
}

// DispatchPublisher publishes job dispatch messages. *bus.Bus satisfies
// it; tests substitute a fake.
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, d *bus.JobDispatch) error
}

// Config tunes the scheduler and job protocol.
type Config struct {
	PollInterval        time.Duration
	MaxParallelRequests int
	MaxJobRetries       int
	DependencyThreshold int
	DependencyBatchSize int
	DispatchRate        float64
	DispatchBurst       int
}

// Scheduler polls for queued requests and drives each admitted request
// through the full pipeline. Admission is gated by a weighted semaphore
// so at most MaxParallelRequests are mid-pipeline regardless of poll
// frequency; within one request, analysis types run strictly in
// submission order.
type Scheduler struct {
	cfg         Config
	store       store.Store
	publisher   DispatchPublisher
	discoverer  Discoverer
	consolidate *Consolidator
	prompts     *analysis.PromptRegistry
	correlation *Correlation
	sem         *semaphore.Weighted
	limiter     *rate.Limiter
	metrics     *telemetry.Metrics
	logger      *logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires the scheduler. The correlation store must be the
// same instance handed to the ResultHandler.
func NewScheduler(
	cfg Config,
	st store.Store,
	publisher DispatchPublisher,
	discoverer Discoverer,
	consolidator *Consolidator,
	prompts *analysis.PromptRegistry,
	correlation *Correlation,
	metrics *telemetry.Metrics,
	logger *logging.Logger,
) *Scheduler {
	burst := cfg.DispatchBurst
	if burst < 1 {
		burst = 1
	}
	dispatchRate := rate.Limit(cfg.DispatchRate)
	if cfg.DispatchRate <= 0 {
		dispatchRate = rate.Inf
	}
	return &Scheduler{
		cfg:         cfg,
		store:       st,
		publisher:   publisher,
		discoverer:  discoverer,
		consolidate: consolidator,
		prompts:     prompts,
		correlation: correlation,
		sem:         semaphore.NewWeighted(int64(cfg.MaxParallelRequests)),
		limiter:     rate.NewLimiter(dispatchRate, burst),
		metrics:     metrics,
		logger:      logger.Named("scheduler"),
		inFlight:    make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, then waits for in-flight requests
// to observe the cancellation and unwind.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Int("max_parallel_requests", s.cfg.MaxParallelRequests))

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info(context.Background(), "scheduler stopped")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce admits queued requests up to the pool bound. Requests that
// cannot get a slot stay queued for the next poll.
func (s *Scheduler) pollOnce(ctx context.Context) {
	queued, err := s.store.ListQueuedRequests(ctx, s.cfg.MaxParallelRequests)
	if err != nil {
		s.logger.Error(ctx, "failed to poll queued requests", zap.Error(err))
		return
	}

	for _, req := range queued {
		if !s.markInFlight(req.ID) {
			continue
		}
		if !s.sem.TryAcquire(1) {
			s.clearInFlight(req.ID)
			return
		}
		s.metrics.RequestsAdmitted.Inc()
		s.metrics.RequestsInFlight.Inc()
		s.wg.Add(1)
		go func(req *analysis.Request) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.clearInFlight(req.ID)
			defer s.metrics.RequestsInFlight.Dec()
			defer s.correlation.RemoveRequest(req.ID)
			s.process(ctx, req)
		}(req)
	}
}

func (s *Scheduler) markInFlight(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[requestID]; ok {
		return false
	}
	s.inFlight[requestID] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, requestID)
}

// process drives one request through the pipeline. Every failure path,
// including panics, converges on failRequest so one request's fault
// never stops the other admitted requests.
func (s *Scheduler) process(ctx context.Context, req *analysis.Request) {
	ctx = logging.WithRequestID(ctx, req.ID)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "panic in request pipeline", zap.Any("panic", r))
			s.failRequest(ctx, req, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	if err := s.runPipeline(ctx, req); err != nil {
		s.failRequest(ctx, req, err)
		return
	}
	s.metrics.RequestsCompleted.Inc()
	s.logger.Info(ctx, "request completed")
}

func (s *Scheduler) runPipeline(ctx context.Context, req *analysis.Request) error {
	// Stage 1: discovery.
	if err := s.advance(ctx, req, analysis.StatusDiscoveryRunning); err != nil {
		return err
	}
	token := s.correlation.Token(req.ID)
	sc, err := s.discoverer.Discover(ctx, req, token)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if err := s.store.SaveContext(ctx, sc); err != nil {
		return fmt.Errorf("persist shared context: %w", err)
	}
	s.logger.Info(ctx, "discovery finished",
		zap.Int("languages", len(sc.Languages)),
		zap.Int("dependencies", len(sc.Dependencies)))

	// Stage 2: analysis jobs, strictly in submission order.
	if err := s.advance(ctx, req, analysis.StatusAnalysisRunning); err != nil {
		return err
	}
	for _, analysisType := range req.AnalysisTypes {
		if err := s.runAnalysisType(ctx, req, sc, analysisType, token); err != nil {
			return fmt.Errorf("analysis type %s: %w", analysisType, err)
		}
	}

	// Stage 3: consolidation.
	if err := s.advance(ctx, req, analysis.StatusConsolidating); err != nil {
		return err
	}
	if _, err := s.consolidate.Consolidate(ctx, req.ID); err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}
	// The consolidator finalizes the request; pick up the new status.
	updated, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		return err
	}
	*req = *updated
	return nil
}

// advance applies one forward transition and persists it.
func (s *Scheduler) advance(ctx context.Context, req *analysis.Request, next analysis.RequestStatus) error {
	if err := req.Transition(next); err != nil {
		return err
	}
	if err := s.store.SaveRequest(ctx, req); err != nil {
		return fmt.Errorf("persist request at %s: %w", next, err)
	}
	s.logger.Debug(ctx, "request advanced", zap.String("status", string(next)))
	return nil
}

// runAnalysisType fans one analysis type out into dependency batches
// and runs the job protocol for each payload sequentially. A failed
// protocol run fails the whole analysis type, which fails the request.
func (s *Scheduler) runAnalysisType(ctx context.Context, req *analysis.Request, sc *analysis.SharedContext, analysisType, token string) error {
	prompt, ok := s.prompts.Lookup(analysisType)
	if !ok {
		return fmt.Errorf("no prompt registered for analysis type %q", analysisType)
	}

	batches := planBatches(sc.Dependencies, s.cfg.DependencyThreshold, s.cfg.DependencyBatchSize)
	s.logger.Debug(ctx, "planned job payloads",
		zap.String("analysis_type", analysisType),
		zap.Int("batches", len(batches)))

	for _, batch := range batches {
		dispatch := &bus.JobDispatch{
			RequestID:     req.ID,
			RepositoryURL: req.RepositoryURL,
			Provider:      string(req.Provider),
			AccessToken:   token,
			Context: bus.ContextPayload{
				Languages:     sc.Languages,
				Frameworks:    sc.Frameworks,
				Dependencies:  batch,
				DirectoryTree: sc.DirectoryTree,
			},
			Prompt:         prompt.Text,
			AnalysisType:   analysisType,
			TimeoutSeconds: int(prompt.Timeout.Seconds()),
		}
		if err := s.executeJob(ctx, req, dispatch); err != nil {
			return err
		}
	}
	return nil
}

// executeJob runs the dispatch/await/retry protocol for one payload.
//
// The await on the correlation handle is the pipeline's sole suspension
// point: the goroutine blocks until the result handler resolves the
// handle or ctx is cancelled. A FAILED result retries with the same job
// identifier until MaxJobRetries is exceeded; any other non-COMPLETED
// status fails without retry.
func (s *Scheduler) executeJob(ctx context.Context, req *analysis.Request, dispatch *bus.JobDispatch) error {
	job := &analysis.Job{
		ID:           uuid.New().String(),
		RequestID:    req.ID,
		AnalysisType: dispatch.AnalysisType,
		Status:       analysis.JobPending,
		CreatedAt:    time.Now().UTC(),
	}
	dispatch.JobID = job.ID
	ctx = logging.WithJobID(ctx, job.ID)

	if err := s.store.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}

	for {
		future := s.correlation.Register(job.ID)

		if err := s.limiter.Wait(ctx); err != nil {
			s.correlation.Remove(job.ID)
			return err
		}
		if err := s.publisher.PublishDispatch(ctx, dispatch); err != nil {
			s.correlation.Remove(job.ID)
			return fmt.Errorf("dispatch job: %w", err)
		}
		s.metrics.JobsDispatched.Inc()

		var result *bus.JobResult
		select {
		case result = <-future:
		case <-ctx.Done():
			s.correlation.Remove(job.ID)
			return ctx.Err()
		}

		switch strings.ToUpper(strings.TrimSpace(result.Status)) {
		case bus.ResultCompleted:
			s.correlation.Remove(job.ID)
			return nil

		case bus.ResultFailed:
			attempt := s.correlation.IncrementRetry(job.ID)
			if attempt > s.cfg.MaxJobRetries {
				s.correlation.Remove(job.ID)
				return fmt.Errorf("job %s failed after %d attempts: %s", job.ID, attempt, result.Error)
			}
			s.metrics.JobRetries.Inc()
			req.RetryCount++
			if err := s.store.SaveRequest(ctx, req); err != nil {
				s.correlation.Remove(job.ID)
				return fmt.Errorf("persist retry count: %w", err)
			}
			// Reuse the same job entity for the next attempt.
			fresh, err := s.store.GetJob(ctx, job.ID)
			if err != nil {
				s.correlation.Remove(job.ID)
				return err
			}
			fresh.Reset()
			if err := s.store.SaveJob(ctx, fresh); err != nil {
				s.correlation.Remove(job.ID)
				return fmt.Errorf("reset job for retry: %w", err)
			}
			s.logger.Warn(ctx, "job failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("error", result.Error))

		default:
			s.correlation.Remove(job.ID)
			s.logger.Error(ctx, "job resolved with unexpected status",
				zap.String("status", result.Status))
			return fmt.Errorf("job %s resolved with unexpected status %q", job.ID, result.Status)
		}
	}
}

// failRequest converts any pipeline error into a terminal Failed state,
// unless the request already reached a terminal state.
func (s *Scheduler) failRequest(ctx context.Context, req *analysis.Request, cause error) {
	s.logger.Error(ctx, "request failed", zap.Error(cause))

	fresh, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		s.logger.Error(ctx, "failed to reload request for failure", zap.Error(err))
		fresh = req
	}
	if fresh.Status.Terminal() {
		return
	}
	fresh.Error = cause.Error()
	if err := fresh.Transition(analysis.StatusFailed); err != nil {
		s.logger.Error(ctx, "failed to transition request to failed", zap.Error(err))
		return
	}
	if err := s.store.SaveRequest(ctx, fresh); err != nil {
		s.logger.Error(ctx, "failed to persist failed request", zap.Error(err))
		return
	}
	s.metrics.RequestsFailed.Inc()
}
