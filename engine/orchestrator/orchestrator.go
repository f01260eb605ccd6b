// Package orchestrator implements the Processor Orchestrator worker loop
// (§5, §6): claims job batches, runs each through the Extractor, tracks
// cost accounting against a budget, and shuts down gracefully on budget
// exhaustion, idleness, or an operator signal.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/extract"
	"github.com/hrkg/platform/engine/extractor"
	"github.com/hrkg/platform/engine/objectpool"
	"github.com/hrkg/platform/engine/queue"
	"github.com/hrkg/platform/engine/telemetry"
	"github.com/hrkg/platform/pkg/metrics"
)

// ShutdownReason identifies why the worker loop stopped (§5, §6's exit
// code contract).
type ShutdownReason int

const (
	// ShutdownNone is the zero value; Run never returns it (cancellation
	// of the caller's ctx is reported as ShutdownSignal).
	ShutdownNone ShutdownReason = iota
	ShutdownBudgetExceeded
	ShutdownIdle
	ShutdownSignal
)

// Default timing constants (§5's concurrency model).
const (
	JobSoftTimeout     = 3600 * time.Second
	BudgetGraceWindow  = 300 * time.Second
	DequeueBatchSize   = 4
	DequeueWaitTimeout = 5 * time.Second
)

var met = metrics.New()

var (
	mJobsProcessed = met.Counter("hrkg_orchestrator_jobs_processed_total", "Jobs completed successfully")
	mJobsFailed    = met.Counter("hrkg_orchestrator_jobs_failed_total", "Jobs that failed irrecoverably")
	mCostDollars   = met.Gauge("hrkg_orchestrator_cost_dollars_hundredths", "Accrued cost in hundredths of a dollar")
)

// Config configures a worker's budget and idle-shutdown thresholds
// (§6's --cost_per_hour/--max_budget CLI flags).
type Config struct {
	WorkerID      string
	CostPerHour   float64
	MaxBudget     float64
	IdleTimeout   time.Duration
	SchedulerPoll time.Duration
}

// Worker runs the claim-extract-complete loop against a Queue and Pool,
// running the Scheduler's pending recurring telemetry tasks between batches.
type Worker struct {
	cfg       Config
	queue     *queue.Queue
	pool      *objectpool.Pool
	extractor *extractor.Extractor
	scheduler *telemetry.Scheduler
	log       *slog.Logger

	mu        sync.Mutex
	startedAt time.Time
	costCents int64 // accrued cost, in hundredths of a dollar
}

// New creates a Worker.
func New(cfg Config, q *queue.Queue, pool *objectpool.Pool, ex *extractor.Extractor, sched *telemetry.Scheduler, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.SchedulerPoll == 0 {
		cfg.SchedulerPoll = time.Minute
	}
	return &Worker{cfg: cfg, queue: q, pool: pool, extractor: ex, scheduler: sched, log: log}
}

// Run claims and processes job batches until ctx is cancelled, the
// configured budget is exceeded (after a grace window), or the worker
// sits idle past IdleTimeout. It returns the reason the loop stopped.
func (w *Worker) Run(ctx context.Context) ShutdownReason {
	w.startedAt = time.Now()
	lastWork := time.Now()
	var budgetExceededAt time.Time

	for {
		select {
		case <-ctx.Done():
			return ShutdownSignal
		default:
		}

		if w.scheduler != nil {
			w.scheduler.RunPending(ctx)
		}

		if exceeded := w.budgetExceeded(); exceeded {
			if budgetExceededAt.IsZero() {
				budgetExceededAt = time.Now()
				w.log.Warn("orchestrator: budget exceeded, entering grace window", "worker_id", w.cfg.WorkerID)
			} else if time.Since(budgetExceededAt) > BudgetGraceWindow {
				return ShutdownBudgetExceeded
			}
		}

		jobs, err := w.queue.DequeueBatch(ctx, w.cfg.WorkerID, DequeueBatchSize, DequeueWaitTimeout)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return ShutdownSignal
			}
			w.log.Error("orchestrator: dequeue failed", "err", err)
			continue
		}

		if len(jobs) == 0 {
			if time.Since(lastWork) > w.cfg.IdleTimeout {
				return ShutdownIdle
			}
			continue
		}
		lastWork = time.Now()

		for _, job := range jobs {
			w.processJob(ctx, job)
		}
	}
}

// processJob fetches the document, runs it through the Extractor, and
// marks the job Completed/Failed. A per-job soft timeout bounds the
// whole operation (§5).
func (w *Worker) processJob(ctx context.Context, job domain.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, JobSoftTimeout)
	defer cancel()

	if err := w.runJob(jobCtx, job); err != nil {
		mJobsFailed.Inc()
		w.log.Error("orchestrator: job failed", "job_id", job.ID, "err", err)
		if err := w.queue.Fail(ctx, job.ID, err.Error()); err != nil {
			w.log.Error("orchestrator: mark job failed errored", "job_id", job.ID, "err", err)
		}
		return
	}
	mJobsProcessed.Inc()
	w.accrueCost()
	if err := w.queue.Complete(ctx, job.ID, "ok"); err != nil {
		w.log.Error("orchestrator: mark job complete errored", "job_id", job.ID, "err", err)
	}
}

func (w *Worker) runJob(ctx context.Context, job domain.Job) error {
	localPath, err := w.pool.Fetch(ctx, job.DocRef)
	if err != nil {
		return err
	}
	text, err := extract.ExtractText(localPath)
	if err != nil {
		return err
	}
	if _, err := w.extractor.Process(ctx, job.DocRef, text); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return nil
		}
		return err
	}
	return nil
}

// accrueCost adds CostPerHour's share for the elapsed wall-clock time
// since the worker started, in hundredths of a dollar.
func (w *Worker) accrueCost() {
	if w.cfg.CostPerHour <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	elapsedHours := time.Since(w.startedAt).Hours()
	w.costCents = int64(w.cfg.CostPerHour * elapsedHours * 100)
	mCostDollars.Set(w.costCents)
}

func (w *Worker) budgetExceeded() bool {
	if w.cfg.MaxBudget <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(w.costCents)/100.0 >= w.cfg.MaxBudget
}
