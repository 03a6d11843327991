package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/voxgate/voxgate/pkg/models"
)

// Scheduler polls the store for queued jobs and dispatches each to the
// processor registered for its type. Workers run fire-and-forget; the
// conditional claim in the store is what guarantees single ownership, so
// overlapping schedulers are safe.
type Scheduler struct {
	deps       *Deps
	registry   map[models.JobType]Processor
	interval   time.Duration
	fetchLimit int

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	workers sync.WaitGroup
}

// NewScheduler creates a scheduler with an empty registry.
func NewScheduler(deps *Deps) *Scheduler {
	return &Scheduler{
		deps:       deps,
		registry:   make(map[models.JobType]Processor),
		interval:   deps.Jobs.PollInterval,
		fetchLimit: deps.Jobs.FetchLimit,
	}
}

// Register adds a processor for its job type, replacing any previous one.
// Must be called before Start.
func (s *Scheduler) Register(p Processor) {
	s.registry[p.Type()] = p
}

// Start launches the polling loop. It returns immediately; use Stop for
// shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	if len(s.registry) == 0 {
		return fmt.Errorf("no processors registered")
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})

	slog.Info("job scheduler started",
		"interval", s.interval, "fetch_limit", s.fetchLimit, "types", len(s.registry))
	go s.loop(loopCtx)
	return nil
}

// Stop halts polling and waits for in-flight workers to finish, up to ctx's
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("job scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping scheduler: %w", ctx.Err())
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick lists pending jobs per registered type and hands each to a worker.
// A list failure for one type is logged and the remaining types still run.
// Workers run on a context detached from the loop's cancel: Stop drains
// in-flight jobs rather than aborting them, and provider clients bound
// their own calls with request timeouts.
func (s *Scheduler) tick(ctx context.Context) {
	workerCtx := context.WithoutCancel(ctx)
	for jobType, proc := range s.registry {
		pending, err := s.deps.Store.ListPendingJobs(ctx, jobType, s.fetchLimit)
		if err != nil {
			slog.Error("listing pending jobs", "type", jobType, "error", err)
			continue
		}
		for _, job := range pending {
			s.workers.Add(1)
			go s.runWorker(workerCtx, proc, job)
		}
	}
}

// runWorker claims and processes one job. A lost claim means another worker
// owns the job and is a silent skip. Panics in a processor fail the job
// instead of taking the process down.
func (s *Scheduler) runWorker(ctx context.Context, proc Processor, job *models.Job) {
	defer s.workers.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processor panicked",
				"job_id", job.ID, "type", job.Type, "panic", r, "stack", string(debug.Stack()))
			s.deps.fail(ctx, job, fmt.Errorf("internal error: %v", r))
		}
	}()

	claimed, err := s.deps.Store.ClaimJob(ctx, job.ID)
	if err != nil {
		slog.Error("claiming job", "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		return
	}
	_ = s.deps.Cache.SetJobStatus(ctx, job.ID, models.JobStatusProcessing, statusTTL)

	slog.Info("processing job", "job_id", job.ID, "type", job.Type, "user_id", job.UserID)
	start := time.Now()

	if err := proc.Process(ctx, job); err != nil {
		s.deps.fail(ctx, job, err)
		return
	}
	slog.Info("job completed", "job_id", job.ID, "type", job.Type, "duration", time.Since(start))
}
