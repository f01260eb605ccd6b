// Package objectpool implements the Distributed Object Pool (§4.1): local
// replica placement across storage nodes chosen by largest-free-space
// first, promotion of local replicas to the content-addressed store, and
// retry/cleanup of that promotion pipeline.
package objectpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/engine/registry"
)

const (
	// DocHash stores the authoritative Document record per file id.
	DocHash = "documents"
	// RetryList holds file ids whose promotion to the object store failed
	// and should be retried.
	RetryList = "promotion_retry"
	// DefaultReplicas is how many storage nodes hold a copy before
	// promotion, absent an explicit replicate=false request.
	DefaultReplicas = 2
)

// Pool is the Distributed Object Pool.
type Pool struct {
	ca       *coord.Adapter
	storage  *registry.StorageNodeRegistry
	osa      *osa.Adapter
	selfNode string // this node's id, used to resolve local paths
	log      *slog.Logger
}

// New creates a Pool bound to the local storage node selfNode.
func New(ca *coord.Adapter, storage *registry.StorageNodeRegistry, store *osa.Adapter, selfNode string, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{ca: ca, storage: storage, osa: store, selfNode: selfNode, log: log}
}

// StorageInfo is the result of a successful Store call.
type StorageInfo struct {
	Document domain.Document
	Replicas []string
}

// Store copies the file at sourcePath onto DefaultReplicas storage nodes
// (largest-free-space-first, §4.1) and records a Document. replicate=false
// skips placement beyond the local node, used for ephemeral intermediates.
func (p *Pool) Store(ctx context.Context, sourcePath string, metadata map[string]string, replicate bool) (StorageInfo, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return StorageInfo{}, fmt.Errorf("objectpool: read %s: %w", sourcePath, err)
	}
	fileID := domain.FileID(data)
	size := int64(len(data))

	if existing, err := p.get(ctx, fileID); err == nil {
		// Deduplicate on content digest: already known, nothing to do.
		return StorageInfo{Document: existing, Replicas: existing.Replicas}, nil
	}

	replicas := []string{p.selfNode}
	if err := p.placeLocal(p.selfNode, fileID, data); err != nil {
		return StorageInfo{}, err
	}

	if replicate {
		targets, err := p.pickReplicaTargets(ctx, size, DefaultReplicas-1, map[string]bool{p.selfNode: true})
		if err != nil {
			p.log.Warn("objectpool: replica selection failed", "file_id", fileID, "err", err)
		}
		for _, node := range targets {
			if err := p.replicateTo(ctx, node, fileID, data); err != nil {
				p.log.Warn("objectpool: replicate failed", "file_id", fileID, "node", node.ID, "err", err)
				continue
			}
			replicas = append(replicas, node.ID)
		}
	}

	doc := domain.Document{
		ID:        fileID,
		Filename:  filepath.Base(sourcePath),
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
		Replicas:  replicas,
		Promotion: domain.PromotionPending,
		Metadata:  metadata,
	}
	if err := domain.ValidateDocument(doc); err != nil {
		return StorageInfo{}, err
	}
	if err := p.save(ctx, doc); err != nil {
		return StorageInfo{}, err
	}

	if err := p.promote(ctx, &doc, data); err != nil {
		p.log.Warn("objectpool: promotion failed, queued for retry", "file_id", fileID, "err", err)
		if pushErr := p.ca.Push(ctx, RetryList, []byte(fileID)); pushErr != nil {
			p.log.Error("objectpool: queue retry failed", "file_id", fileID, "err", pushErr)
		}
	}
	if err := p.save(ctx, doc); err != nil {
		return StorageInfo{}, err
	}

	return StorageInfo{Document: doc, Replicas: replicas}, nil
}

// pickReplicaTargets selects up to n additional storage nodes, largest
// free space first, excluding the ids already in exclude.
func (p *Pool) pickReplicaTargets(ctx context.Context, size int64, n int, exclude map[string]bool) ([]domain.StorageNode, error) {
	excl := make(map[string]bool, len(exclude))
	for k, v := range exclude {
		excl[k] = v
	}
	var chosen []domain.StorageNode
	for i := 0; i < n; i++ {
		node, ok, err := p.storage.PickNode(ctx, size, excl)
		if err != nil {
			return chosen, err
		}
		if !ok {
			break
		}
		chosen = append(chosen, node)
		excl[node.ID] = true
	}
	return chosen, nil
}

func (p *Pool) localPath(nodeID, fileID string) (string, error) {
	nodes, err := p.storage.List(context.Background())
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.ID == nodeID {
			return filepath.Join(n.MountPath, fileID), nil
		}
	}
	return "", fmt.Errorf("objectpool: unknown storage node %s", nodeID)
}

func (p *Pool) placeLocal(nodeID, fileID string, data []byte) error {
	path, err := p.localPath(nodeID, fileID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("objectpool: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("objectpool: write %s: %w", path, err)
	}
	return nil
}

// replicateTo pushes the file to a remote storage node's HTTP endpoint.
// Grounded on the original's remote-replication POST, but peer selection
// above is largest-free-space-first rather than random.
func (p *Pool) replicateTo(ctx context.Context, node domain.StorageNode, fileID string, data []byte) error {
	if node.Endpoint == "" {
		// Co-located node: mount path is directly reachable.
		return p.placeLocal(node.ID, fileID, data)
	}
	return httpPutFile(ctx, node.Endpoint, fileID, data)
}

// Fetch returns a local filesystem path for fileID, retrieving from a
// remote replica or the object store if no local copy exists.
func (p *Pool) Fetch(ctx context.Context, fileID string) (string, error) {
	doc, err := p.get(ctx, fileID)
	if err != nil {
		return "", err
	}

	if path, err := p.localPath(p.selfNode, fileID); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path, nil
		}
	}

	nodes, err := p.storage.List(ctx)
	if err != nil {
		return "", fmt.Errorf("objectpool: fetch %s: list nodes: %w", fileID, err)
	}
	byID := make(map[string]domain.StorageNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, replicaID := range doc.Replicas {
		if replicaID == p.selfNode {
			continue
		}
		node, ok := byID[replicaID]
		if !ok || node.Endpoint == "" {
			continue
		}
		if path, err := p.fetchFromRemote(ctx, node.Endpoint, fileID); err == nil {
			return path, nil
		}
	}

	if doc.CID != "" && p.osa != nil {
		data, err := p.osa.Get(ctx, doc.CID)
		if err != nil {
			return "", fmt.Errorf("objectpool: fetch %s from object store: %w", fileID, err)
		}
		localPath, err := p.localPath(p.selfNode, fileID)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return "", err
		}
		return localPath, nil
	}

	return "", fmt.Errorf("objectpool: %s: %w", fileID, domain.ErrDocumentNotFound)
}

func (p *Pool) fetchFromRemote(ctx context.Context, endpoint, fileID string) (string, error) {
	data, err := httpGetFile(ctx, endpoint, fileID)
	if err != nil {
		return "", err
	}
	path, err := p.localPath(p.selfNode, fileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// RetryPromotions pops up to limit file ids from the retry queue and
// re-attempts promotion for each.
func (p *Pool) RetryPromotions(ctx context.Context, limit int) error {
	items, err := p.ca.PopBlocking(ctx, RetryList, limit, 2*time.Second)
	if err != nil {
		if err == coord.ErrTimeout {
			return nil
		}
		return fmt.Errorf("objectpool: retry promotions: %w", err)
	}
	for _, item := range items {
		fileID := string(item.Payload)
		if err := p.retryOne(ctx, fileID); err != nil {
			p.log.Warn("objectpool: retry promotion failed, re-queuing", "file_id", fileID, "err", err)
			_ = item.Nack()
			continue
		}
		_ = item.Ack()
	}
	return nil
}

func (p *Pool) retryOne(ctx context.Context, fileID string) error {
	doc, err := p.get(ctx, fileID)
	if err != nil {
		return err
	}
	if doc.Promotion == domain.PromotionStored {
		return nil
	}
	path, err := p.localPath(p.selfNode, fileID)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("objectpool: retry %s: local copy missing: %w", fileID, err)
	}
	if err := p.promote(ctx, &doc, data); err != nil {
		return err
	}
	return p.save(ctx, doc)
}

func (p *Pool) promote(ctx context.Context, doc *domain.Document, data []byte) error {
	if p.osa == nil {
		return fmt.Errorf("objectpool: promote %s: no object store configured", doc.ID)
	}
	cid, err := p.osa.Put(ctx, data)
	if err != nil {
		doc.Promotion = domain.PromotionFailed
		return fmt.Errorf("objectpool: promote %s: %w", doc.ID, err)
	}
	if err := p.osa.Pin(ctx, cid, doc.Metadata); err != nil {
		doc.Promotion = domain.PromotionFailed
		return fmt.Errorf("objectpool: pin %s: %w", doc.ID, err)
	}
	doc.CID = cid
	doc.Promotion = domain.PromotionStored
	return nil
}

// Cleanup removes local replicas on this node for documents whose
// promotion is Stored and whose CreatedAt is older than maxAge.
func (p *Pool) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := p.ca.HashKeys(ctx, DocHash)
	if err != nil {
		return 0, fmt.Errorf("objectpool: cleanup: list documents: %w", err)
	}
	removed := 0
	now := time.Now()
	for _, id := range ids {
		doc, err := p.get(ctx, id)
		if err != nil {
			continue
		}
		if doc.Promotion != domain.PromotionStored {
			continue
		}
		if now.Sub(doc.CreatedAt) < maxAge {
			continue
		}
		ownsLocal := false
		remaining := doc.Replicas[:0:0]
		for _, r := range doc.Replicas {
			if r == p.selfNode {
				ownsLocal = true
				continue
			}
			remaining = append(remaining, r)
		}
		if !ownsLocal {
			continue
		}
		path, err := p.localPath(p.selfNode, id)
		if err == nil {
			_ = os.Remove(path)
		}
		doc.Replicas = remaining
		if err := p.save(ctx, doc); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (p *Pool) get(ctx context.Context, fileID string) (domain.Document, error) {
	data, err := p.ca.HashGet(ctx, DocHash, fileID)
	if err != nil {
		if err == coord.ErrNotFound {
			return domain.Document{}, domain.ErrDocumentNotFound
		}
		return domain.Document{}, fmt.Errorf("objectpool: get %s: %w", fileID, err)
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("objectpool: unmarshal %s: %w", fileID, err)
	}
	return doc, nil
}

func (p *Pool) save(ctx context.Context, doc domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("objectpool: marshal %s: %w", doc.ID, err)
	}
	return p.ca.HashSet(ctx, DocHash, doc.ID, data)
}

