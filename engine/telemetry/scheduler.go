package telemetry

import (
	"container/heap"
	"context"
	"log/slog"
	"time"
)

// scheduledTask is a single recurring task entry in the scheduler's timer
// queue (§9's "run_pending" collapsed into a small priority queue of
// timer events polled between batches — no callback machinery).
type scheduledTask struct {
	name     string
	interval time.Duration
	nextRun  time.Time
	run      func(ctx context.Context) error
	index    int
}

type taskQueue []*scheduledTask

func (q taskQueue) Len() int            { return len(q) }
func (q taskQueue) Less(i, j int) bool  { return q[i].nextRun.Before(q[j].nextRun) }
func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *taskQueue) Push(x any) {
	t := x.(*scheduledTask)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	*q = old[:n-1]
	return t
}

// Scheduler runs registered recurring tasks (traffic every 15 minutes,
// weather every 60 minutes) by polling pending tasks between job batches
// (§4.8).
type Scheduler struct {
	queue taskQueue
	log   *slog.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

// Register adds a recurring task that first runs immediately, then every
// interval.
func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	t := &scheduledTask{name: name, interval: interval, nextRun: time.Now(), run: run}
	heap.Push(&s.queue, t)
}

// RunPending executes every task whose nextRun has elapsed, rescheduling
// each for interval later. Intended to be called between job batches.
func (s *Scheduler) RunPending(ctx context.Context) {
	now := time.Now()
	for s.queue.Len() > 0 && s.queue[0].nextRun.Before(now) {
		t := heap.Pop(&s.queue).(*scheduledTask)
		if err := t.run(ctx); err != nil {
			s.log.Warn("telemetry: scheduled task failed", "task", t.name, "err", err)
		}
		t.nextRun = now.Add(t.interval)
		heap.Push(&s.queue, t)
	}
}
