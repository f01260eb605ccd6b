// Package registry implements the Worker Registry and Storage-Node
// Registry: liveness-tracked peer sets built on the generic KV-backed
// Repository over the Coordination Adapter.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/pkg/repo"
)

// WorkerRegistry tracks compute workers and their heartbeats.
type WorkerRegistry struct {
	repo *repo.KVRepo[domain.Worker, string]
}

func NewWorkerRegistry(store repo.KVStore) *WorkerRegistry {
	return &WorkerRegistry{
		repo: repo.NewKVRepo[domain.Worker, string](store, "workers",
			func(w domain.Worker) string { return w.ID },
			func(id string) string { return id },
			domain.ErrWorkerNotFound,
		),
	}
}

// Register creates a new Worker with the given capabilities and an initial
// heartbeat, returning its id.
func (r *WorkerRegistry) Register(ctx context.Context, capabilities map[string]string) (string, error) {
	w := domain.Worker{
		ID:            uuid.NewString(),
		Capabilities:  capabilities,
		LastHeartbeat: time.Now().UTC(),
	}
	if _, err := r.repo.Create(ctx, w); err != nil {
		return "", fmt.Errorf("registry: register worker: %w", err)
	}
	return w.ID, nil
}

// Heartbeat refreshes a worker's liveness timestamp.
func (r *WorkerRegistry) Heartbeat(ctx context.Context, workerID string) error {
	w, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return err
	}
	w.LastHeartbeat = time.Now().UTC()
	_, err = r.repo.Update(ctx, w)
	return err
}

// IsLive reports whether workerID's heartbeat is within threshold of now.
func (r *WorkerRegistry) IsLive(ctx context.Context, workerID string, threshold time.Duration) bool {
	w, err := r.repo.Get(ctx, workerID)
	if err != nil {
		return false
	}
	return time.Since(w.LastHeartbeat) < threshold
}

// ListActive returns every worker whose heartbeat is within threshold.
func (r *WorkerRegistry) ListActive(ctx context.Context, threshold time.Duration) ([]domain.Worker, error) {
	all, err := r.repo.List(ctx, repo.ListOpts{Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("registry: list workers: %w", err)
	}
	var active []domain.Worker
	now := time.Now()
	for _, w := range all {
		if now.Sub(w.LastHeartbeat) < threshold {
			active = append(active, w)
		}
	}
	return active, nil
}

// ReapStale removes every worker whose heartbeat has aged past threshold,
// returning the removed ids.
func (r *WorkerRegistry) ReapStale(ctx context.Context, threshold time.Duration) ([]string, error) {
	all, err := r.repo.List(ctx, repo.ListOpts{Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("registry: list workers: %w", err)
	}
	var reaped []string
	now := time.Now()
	for _, w := range all {
		if now.Sub(w.LastHeartbeat) >= threshold {
			if err := r.repo.Delete(ctx, w.ID); err == nil {
				reaped = append(reaped, w.ID)
			}
		}
	}
	return reaped, nil
}

// StorageNodeRegistry tracks replica-holding storage nodes and their
// reported capacity.
type StorageNodeRegistry struct {
	repo *repo.KVRepo[domain.StorageNode, string]
}

func NewStorageNodeRegistry(store repo.KVStore) *StorageNodeRegistry {
	return &StorageNodeRegistry{
		repo: repo.NewKVRepo[domain.StorageNode, string](store, "storage_nodes",
			func(n domain.StorageNode) string { return n.ID },
			func(id string) string { return id },
			domain.ErrStorageNodeNotFound,
		),
	}
}

// RegisterOrUpdate upserts a storage node's reported capacity/usage.
func (r *StorageNodeRegistry) RegisterOrUpdate(ctx context.Context, node domain.StorageNode) error {
	node.LastUpdated = time.Now().UTC()
	_, err := r.repo.Update(ctx, node)
	return err
}

// List returns every registered storage node.
func (r *StorageNodeRegistry) List(ctx context.Context) ([]domain.StorageNode, error) {
	return r.repo.List(ctx, repo.ListOpts{Limit: 10000})
}

// PickNode selects the peer with the largest free space able to hold
// needBytes, ties broken by lexicographic node id (§4.1).
func (r *StorageNodeRegistry) PickNode(ctx context.Context, needBytes int64, exclude map[string]bool) (domain.StorageNode, bool, error) {
	nodes, err := r.List(ctx)
	if err != nil {
		return domain.StorageNode{}, false, fmt.Errorf("registry: pick node: %w", err)
	}
	var candidates []domain.StorageNode
	for _, n := range nodes {
		if exclude[n.ID] {
			continue
		}
		if n.FreeBytes() >= needBytes {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return domain.StorageNode{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FreeBytes() != candidates[j].FreeBytes() {
			return candidates[i].FreeBytes() > candidates[j].FreeBytes()
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true, nil
}
