// Package queue implements the durable Job Queue: enqueue, batch dequeue
// with claim ownership, completion/failure, requeue, and stale-claim
// reaping, built on the Coordination Adapter.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
)

const (
	// ListName is the coordination-store list backing enqueue/dequeue.
	ListName = "doc_jobs"
	// JobHash stores the authoritative Job record per job id.
	JobHash = "jobs"
)

// Queue is the durable Job Queue described in §4.2.
type Queue struct {
	ca *coord.Adapter
}

// New creates a Job Queue over the given Coordination Adapter.
func New(ca *coord.Adapter) *Queue {
	return &Queue{ca: ca}
}

// Enqueue creates a Pending job referencing docRef and pushes it onto the
// work queue.
func (q *Queue) Enqueue(ctx context.Context, docRef, submitterID string, meta map[string]string) (domain.Job, error) {
	job := domain.Job{
		ID:          uuid.NewString(),
		DocRef:      docRef,
		SubmitterID: submitterID,
		SubmittedAt: time.Now().UTC(),
		Status:      domain.JobPending,
	}
	if err := q.saveJob(ctx, job); err != nil {
		return domain.Job{}, err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.ca.Push(ctx, ListName, data); err != nil {
		return domain.Job{}, fmt.Errorf("queue: push job %s: %w", job.ID, err)
	}
	return job, nil
}

// DequeueBatch atomically claims up to n jobs for workerID, waiting up to
// timeout for the first one to arrive.
func (q *Queue) DequeueBatch(ctx context.Context, workerID string, n int, timeout time.Duration) ([]domain.Job, error) {
	items, err := q.ca.PopBlocking(ctx, ListName, n, timeout)
	if err != nil {
		if err == coord.ErrTimeout {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	jobs := make([]domain.Job, 0, len(items))
	for _, item := range items {
		var job domain.Job
		if err := json.Unmarshal(item.Payload, &job); err != nil {
			_ = item.Ack() // malformed entry; drop rather than poison the queue
			continue
		}
		job.Status = domain.JobProcessing
		job.ClaimedBy = workerID
		job.ClaimHistory = append(job.ClaimHistory, workerID)
		now := time.Now().UTC()
		job.StartedAt = &now
		if err := q.saveJob(ctx, job); err != nil {
			_ = item.Nack()
			continue
		}
		if err := item.Ack(); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Complete marks a job Completed with the given result payload.
func (q *Queue) Complete(ctx context.Context, jobID, result string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = domain.JobCompleted
	job.Result = result
	now := time.Now().UTC()
	job.FinishedAt = &now
	return q.saveJob(ctx, job)
}

// Fail marks a job Failed with the given error message.
func (q *Queue) Fail(ctx context.Context, jobID, errMsg string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = domain.JobFailed
	job.Error = errMsg
	now := time.Now().UTC()
	job.FinishedAt = &now
	return q.saveJob(ctx, job)
}

// Requeue transitions a Failed (or stuck Processing) job back to Pending
// and re-pushes it onto the work queue.
func (q *Queue) Requeue(ctx context.Context, jobID string) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = domain.JobPending
	job.ClaimedBy = ""
	job.StartedAt = nil
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", jobID, err)
	}
	return q.ca.Push(ctx, ListName, data)
}

// RetryStaleClaims requeues every Processing job whose claiming worker
// isWorkerLive reports as not live. The caller's callback decides liveness
// (heartbeat age), so this package does not import the registry.
func (q *Queue) RetryStaleClaims(ctx context.Context, isWorkerLive func(workerID string) bool) (int, error) {
	ids, err := q.ca.HashKeys(ctx, JobHash)
	if err != nil {
		return 0, fmt.Errorf("queue: list jobs: %w", err)
	}
	requeued := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			continue
		}
		if job.Status != domain.JobProcessing {
			continue
		}
		if isWorkerLive(job.ClaimedBy) {
			continue
		}
		if err := q.Requeue(ctx, id); err == nil {
			requeued++
		}
	}
	return requeued, nil
}

// Get fetches a job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (domain.Job, error) {
	data, err := q.ca.HashGet(ctx, JobHash, jobID)
	if err != nil {
		if err == coord.ErrNotFound {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("queue: get job %s: %w", jobID, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return domain.Job{}, fmt.Errorf("queue: unmarshal job %s: %w", jobID, err)
	}
	return job, nil
}

func (q *Queue) saveJob(ctx context.Context, job domain.Job) error {
	if err := domain.ValidateJob(job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job %s: %w", job.ID, err)
	}
	return q.ca.HashSet(ctx, JobHash, job.ID, data)
}
