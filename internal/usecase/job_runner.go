package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
)

// Pipeline computes the recommendation for one job request
type Pipeline func(ctx context.Context, req domain.JobRequest) (*domain.Recommendation, error)

// JobRunnerConfig holds configuration for the job runner
type JobRunnerConfig struct {
	Workers         int
	QueueSize       int
	Retention       time.Duration // finished jobs are kept this long
	IdleTimeout     time.Duration // pending jobs nobody polls are abandoned after this
	JanitorInterval time.Duration
}

type job struct {
	id          string
	req         domain.JobRequest
	state       domain.JobState
	result      *domain.Recommendation
	reason      string
	submittedAt time.Time
	completedAt time.Time
	lastSeen    time.Time
	holders     map[string]struct{} // outstanding reference tokens

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) status() domain.JobStatus {
	return domain.JobStatus{
		ID:          j.id,
		State:       j.state,
		Result:      j.result,
		Error:       j.reason,
		SubmittedAt: j.submittedAt,
		CompletedAt: j.completedAt,
	}
}

// JobRunner executes similarity jobs on a fixed pool of workers. Identical
// requests submitted while a job is pending share that job.
type JobRunner struct {
	pipeline Pipeline
	config   JobRunnerConfig
	queue    chan *job

	mu      sync.Mutex
	jobs    map[string]*job
	pending map[domain.JobRequest]*job
	stopped bool

	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewJobRunner creates a runner. Call Start to launch the workers.
func NewJobRunner(pipeline Pipeline, config JobRunnerConfig, logger *zap.Logger, m *metrics.Metrics) *JobRunner {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 16
	}
	if config.Retention <= 0 {
		config.Retention = 15 * time.Minute
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Minute
	}
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobRunner{
		pipeline: pipeline,
		config:   config,
		queue:    make(chan *job, config.QueueSize),
		jobs:     make(map[string]*job),
		pending:  make(map[domain.JobRequest]*job),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("jobs"),
		metrics:  m,
	}
}

// Start launches the workers and the janitor
func (r *JobRunner) Start() {
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.janitor()
}

// Stop fails every unfinished job, cancels running pipelines and waits for
// the workers to exit.
func (r *JobRunner) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		for _, j := range r.jobs {
			if !j.state.Terminal() {
				r.terminate(j, nil, "job runner stopped")
			}
		}
		r.mu.Unlock()

		r.cancel()
		r.wg.Wait()
	})
}

// Submit enqueues req and returns immediately. A request equal to one that
// is still pending joins that job instead of starting a new one.
func (r *JobRunner) Submit(req domain.JobRequest) (domain.JobHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return domain.JobHandle{}, domain.ErrRunnerStopped
	}

	now := r.now()
	if j, ok := r.pending[req]; ok {
		ref := j.hold()
		j.lastSeen = now
		r.metrics.IncJobSubmitted(true)
		r.logger.Debug("joined pending job", zap.String("job_id", j.id), zap.Int("holders", len(j.holders)))
		return domain.JobHandle{ID: j.id, Ref: ref}, nil
	}

	ctx, cancel := context.WithCancel(r.ctx)
	j := &job{
		id:          uuid.NewString(),
		req:         req,
		state:       domain.JobPending,
		submittedAt: now,
		lastSeen:    now,
		holders:     make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	select {
	case r.queue <- j:
	default:
		cancel()
		return domain.JobHandle{}, domain.ErrJobQueueFull
	}

	ref := j.hold()
	r.jobs[j.id] = j
	r.pending[req] = j
	r.metrics.IncJobSubmitted(false)
	r.logger.Debug("job submitted",
		zap.String("job_id", j.id),
		zap.Int64("product_id", req.ProductID),
		zap.String("search_term", req.SearchTerm),
	)
	return domain.JobHandle{ID: j.id, Ref: ref}, nil
}

// Poll returns the current status of a job without blocking
func (r *JobRunner) Poll(id string) (domain.JobStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	j.lastSeen = r.now()
	return j.status(), nil
}

// Wait blocks until the job finishes or ctx is done and returns the status
// at that point, which is still pending if ctx ended first.
func (r *JobRunner) Wait(ctx context.Context, id string) (domain.JobStatus, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if ok {
		j.lastSeen = r.now()
	}
	r.mu.Unlock()
	if !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return j.status(), nil
}

// Release gives up the reference ref obtained from Submit. Each reference
// is released at most once. When the last holder releases, a finished job is
// evicted and a pending one is cancelled.
func (r *JobRunner) Release(id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.drop(id, ref)
	if err != nil {
		return err
	}
	if len(j.holders) > 0 {
		return nil
	}
	if !j.state.Terminal() {
		r.terminate(j, nil, "cancelled: no remaining references")
	}
	delete(r.jobs, id)
	return nil
}

// Detach gives up ref like Release but leaves the job running. A job with
// no holders left is then governed by the idle timeout and retention only.
func (r *JobRunner) Detach(id, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.drop(id, ref)
	return err
}

// drop consumes ref. Callers hold r.mu.
func (r *JobRunner) drop(id, ref string) (*job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if _, held := j.holders[ref]; !held {
		return nil, fmt.Errorf("%w: no reference %q on job %s", domain.ErrJobNotFound, ref, id)
	}
	delete(j.holders, ref)
	return j, nil
}

func (j *job) hold() string {
	ref := uuid.NewString()
	j.holders[ref] = struct{}{}
	return ref
}

// Len returns the number of tracked jobs
func (r *JobRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *JobRunner) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			r.run(j)
		}
	}
}

func (r *JobRunner) run(j *job) {
	if j.ctx.Err() != nil {
		return // abandoned or released while queued
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked",
				zap.String("job_id", j.id),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			r.finish(j, nil, fmt.Errorf("panic: %v", rec))
		}
	}()

	result, err := r.pipeline(j.ctx, j.req)
	r.finish(j, result, err)
}

func (r *JobRunner) finish(j *job, result *domain.Recommendation, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j.state.Terminal() {
		return
	}
	if err != nil {
		r.logger.Warn("job failed", zap.String("job_id", j.id), zap.Error(err))
		r.terminate(j, nil, err.Error())
	} else {
		r.terminate(j, result, "")
	}
}

// terminate moves j to its final state. Callers hold r.mu.
func (r *JobRunner) terminate(j *job, result *domain.Recommendation, reason string) {
	if reason != "" {
		j.state = domain.JobFailed
		j.reason = reason
	} else {
		j.state = domain.JobReady
		j.result = result
	}
	j.completedAt = r.now()
	if r.pending[j.req] == j {
		delete(r.pending, j.req)
	}
	j.cancel()
	close(j.done)
	r.metrics.ObserveJobCompleted(string(j.state), j.completedAt.Sub(j.submittedAt).Seconds())
}

func (r *JobRunner) janitor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep evicts finished jobs past retention and abandons idle pending jobs
func (r *JobRunner) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, j := range r.jobs {
		switch {
		case j.state.Terminal() && now.Sub(j.completedAt) >= r.config.Retention:
			delete(r.jobs, id)
		case !j.state.Terminal() && now.Sub(j.lastSeen) >= r.config.IdleTimeout:
			r.logger.Info("abandoning idle job", zap.String("job_id", id))
			r.terminate(j, nil, "abandoned")
		}
	}
}
