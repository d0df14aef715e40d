// Package jobs runs deferred work on a worker pool: large generation runs
// and report exports that would block an interactive caller.
package jobs

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/facturio/invoicing-engine/domain/entity"
	"github.com/facturio/invoicing-engine/pkg/metrics"
	"github.com/facturio/invoicing-engine/shared/common"
)

// Handler executes one job kind. Implementations report fractional progress
// through the supplied callback at coarse milestones and return the path of
// a result artifact, when one exists.
type Handler func(ctx context.Context, job *entity.AsyncJob, progress func(percent int)) (artifactPath string, err error)

// DeliveryFunc receives finished jobs. Failures arrive through the same
// channel as successes so a caller is never left silently waiting.
type DeliveryFunc func(job *entity.AsyncJob)

// Runner is the worker-pool job executor
type Runner struct {
	queue             chan *entity.AsyncJob
	workers           int
	handlers          map[entity.JobKind]Handler
	deliver           DeliveryFunc
	artifactRetention time.Duration
	jobRetention      time.Duration
	collector         *metrics.Collector
	logger            *zap.Logger

	// mu guards the tracking map, every field mutation of tracked jobs,
	// the timer set and the stopped flag. Enqueue sends on the queue while
	// holding it so a send can never race the close in Stop.
	mu      sync.RWMutex
	jobs    map[string]*entity.AsyncJob
	timers  map[*time.Timer]struct{}
	stopped bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// Config controls the runner
type Config struct {
	Workers           int
	QueueSize         int
	ArtifactRetention time.Duration
	JobRetention      time.Duration
}

// NewRunner creates a job runner. Call Start before enqueueing.
func NewRunner(cfg Config, deliver DeliveryFunc, collector *metrics.Collector, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.ArtifactRetention <= 0 {
		cfg.ArtifactRetention = 6 * time.Hour
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = time.Hour
	}

	r := &Runner{
		queue:             make(chan *entity.AsyncJob, cfg.QueueSize),
		workers:           cfg.Workers,
		handlers:          make(map[entity.JobKind]Handler),
		deliver:           deliver,
		artifactRetention: cfg.ArtifactRetention,
		jobRetention:      cfg.JobRetention,
		collector:         collector,
		logger:            logger,
		jobs:              make(map[string]*entity.AsyncJob),
		timers:            make(map[*time.Timer]struct{}),
	}

	// Artifact cleanup is itself a job kind, scheduled with a delay after
	// delivery so a slow consumer is never punished by premature deletion.
	r.handlers[entity.JobKindCleanup] = r.cleanupHandler

	return r
}

// Register binds a handler to a job kind
func (r *Runner) Register(kind entity.JobKind, handler Handler) {
	r.handlers[kind] = handler
}

// Start launches the worker pool
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	r.logger.Info("Job runner started", zap.Int("workers", r.workers))
}

// Stop cancels workers, fails jobs still sitting in the queue and waits for
// the in-flight ones to finish. Pending retention timers are cancelled so a
// late cleanup never fires against a stopped runner.
func (r *Runner) Stop() {
	r.once.Do(func() {
		r.mu.Lock()
		r.stopped = true
		for t := range r.timers {
			t.Stop()
		}
		r.timers = nil
		r.mu.Unlock()

		if r.cancel != nil {
			r.cancel()
		}
		close(r.queue)
	})
	r.wg.Wait()
	r.logger.Info("Job runner stopped")
}

// Enqueue queues work without blocking the caller. A full queue is an
// error, never a stall; so is a stopped runner.
func (r *Runner) Enqueue(kind entity.JobKind, payload []byte) (string, error) {
	if _, ok := r.handlers[kind]; !ok {
		return "", common.NewAppError(common.ErrCodeInvalidInput, "no handler for job kind").
			WithContext("kind", string(kind))
	}

	job := entity.NewAsyncJob(kind, payload)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", common.NewAppError(common.ErrCodeServiceUnavailable, "job runner is stopped")
	}
	select {
	case r.queue <- job:
		r.jobs[job.JobID] = job
	default:
		r.mu.Unlock()
		return "", common.NewAppError(common.ErrCodeServiceUnavailable, "job queue is full")
	}
	r.mu.Unlock()

	r.logger.Debug("Job enqueued", zap.String("job_id", job.JobID), zap.String("kind", string(kind)))
	return job.JobID, nil
}

// Job returns a snapshot of a tracked job
func (r *Runner) Job(jobID string) (*entity.AsyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, common.NewAppError(common.ErrCodeNotFound, "unknown job").WithContext("job_id", jobID)
	}

	snapshot := *job
	return &snapshot, nil
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	r.logger.Debug("Worker started", zap.Int("worker", id))

	for job := range r.queue {
		if ctx.Err() != nil {
			r.abort(job)
			continue
		}
		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job *entity.AsyncJob) {
	handler := r.handlers[job.Kind]

	started := time.Now().UTC()
	r.mu.Lock()
	job.Status = entity.JobStatusRunning
	job.StartedAt = started
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.JobsRunning.Inc()
		defer r.collector.JobsRunning.Dec()
	}

	// Progress updates are fire-and-forget from the worker's perspective;
	// they mutate the tracked snapshot and never block job execution.
	progress := func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		r.mu.Lock()
		job.Progress = percent
		r.mu.Unlock()
	}

	artifactPath, err := handler(ctx, job, progress)

	finished := time.Now().UTC()
	if r.collector != nil {
		r.collector.JobDuration.WithLabelValues(string(job.Kind)).Observe(finished.Sub(started).Seconds())
	}

	r.mu.Lock()
	job.FinishedAt = finished
	if err != nil {
		job.ErrorMessage = err.Error()
		job.Status = entity.JobStatusFailed
	} else {
		job.ResultArtifactPath = artifactPath
		job.Progress = 100
		job.Status = entity.JobStatusSucceeded
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Job failed",
			zap.String("job_id", job.JobID),
			zap.String("kind", string(job.Kind)),
			zap.Error(err))
	}

	// Success and failure flow through the same delivery channel. Internal
	// cleanup jobs have no caller waiting and are not delivered.
	if r.deliver != nil && job.Kind != entity.JobKindCleanup {
		r.deliver(r.snapshot(job))
	}

	if err == nil && artifactPath != "" && job.Kind != entity.JobKindCleanup {
		r.scheduleCleanup(job, artifactPath)
	}

	// Delivered jobs stay queryable for a grace period, then drop out so
	// the tracking map does not grow without bound.
	r.evictAfter(job.JobID)
}

// abort fails a job drained from the queue during shutdown. The caller
// still receives an outcome instead of waiting on work that never ran.
func (r *Runner) abort(job *entity.AsyncJob) {
	now := time.Now().UTC()
	r.mu.Lock()
	job.Status = entity.JobStatusFailed
	job.ErrorMessage = "job runner stopped before the job could run"
	job.FinishedAt = now
	r.mu.Unlock()

	r.logger.Warn("Job aborted by shutdown",
		zap.String("job_id", job.JobID),
		zap.String("kind", string(job.Kind)))

	if r.deliver != nil && job.Kind != entity.JobKindCleanup {
		r.deliver(r.snapshot(job))
	}
}

func (r *Runner) snapshot(job *entity.AsyncJob) *entity.AsyncJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := *job
	return &snapshot
}

// scheduleCleanup queues a delayed second job that deletes the artifact
// after the retention window, decoupling delivery from storage reclaim.
func (r *Runner) scheduleCleanup(job *entity.AsyncJob, artifactPath string) {
	cleanupAt := time.Now().UTC().Add(r.artifactRetention)

	r.mu.Lock()
	job.ScheduledCleanupAt = cleanupAt
	r.mu.Unlock()

	r.after(r.artifactRetention, func() {
		if _, err := r.Enqueue(entity.JobKindCleanup, []byte(artifactPath)); err != nil {
			r.logger.Warn("Failed to enqueue artifact cleanup",
				zap.String("artifact", artifactPath),
				zap.Error(err))
		}
	})

	r.logger.Debug("Artifact cleanup scheduled",
		zap.String("job_id", job.JobID),
		zap.String("artifact", artifactPath),
		zap.Time("cleanup_at", cleanupAt))
}

func (r *Runner) evictAfter(jobID string) {
	r.after(r.jobRetention, func() {
		r.mu.Lock()
		delete(r.jobs, jobID)
		r.mu.Unlock()
	})
}

// after runs fn on a tracked timer. Stop cancels every pending timer, and a
// timer that already fired re-checks the stopped flag before running fn, so
// no delayed work executes against a stopped runner.
func (r *Runner) after(d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		delete(r.timers, t)
		r.mu.Unlock()
		fn()
	})
	r.timers[t] = struct{}{}
}

func (r *Runner) cleanupHandler(_ context.Context, job *entity.AsyncJob, _ func(int)) (string, error) {
	path := string(job.Payload)
	if path == "" {
		return "", nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove artifact %s: %w", path, err)
	}

	r.logger.Debug("Artifact removed", zap.String("artifact", path))
	return "", nil
}
