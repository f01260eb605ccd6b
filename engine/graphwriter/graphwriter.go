// Package graphwriter implements the Graph Writer Service (§4.6): the
// single consumer of the graph-update stream that merges each processed
// document into the in-memory graph, publishes a fresh snapshot, and
// acknowledges the stream event only on full success.
package graphwriter

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/hrkg/platform/engine/locality"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/pkg/natsutil"
)

// SnapshotUpdatedSubject is broadcast after every successful snapshot
// publish so other processes (the Read API) can hot-reload (§4.10).
const SnapshotUpdatedSubject = "hrkg.graph.snapshot_updated"

// SnapshotUpdated is the payload published on SnapshotUpdatedSubject.
type SnapshotUpdated struct {
	Path string `json:"path"`
	CID  string `json:"cid,omitempty"`
}

// graphUpdateStream/ConsumerGroup mirror engine/extractor's producer side
// (§4.5 step 10, §4.6).
const (
	graphUpdateStream = "graph_updates"
	consumerGroup     = "graph_writers"
)

// SnapshotName is the mutable OSA name published on every successful
// write (§4.6 step 8, §6's GRAPH_IPNS_KEY).
const SnapshotName = "graph_ipns_key"

// SimilarToWeight is the fixed edge weight for every SIMILAR_TO relation
// (§4.6 step 7).
const SimilarToWeight = 0.5

// event is the wire payload appended by the Extractor.
type event struct {
	Path string                   `json:"path"`
	Data domain.ProcessedDocument `json:"data"`
}

// Writer merges graph-update events into a single in-memory graph and
// republishes its snapshot (§4.6).
type Writer struct {
	CA           *coord.Adapter
	Graph        *graph.Graph
	OSA          *osa.Adapter
	EdgeMap      *graph.CanonicalEdgeMap
	Localities   locality.Config
	SnapshotPath string
	ConsumerName string
	Log          *slog.Logger
}

// New creates a Writer. consumerName must be unique per process sharing
// the "graph_writers" group (§4.6's single-consumer-per-process model).
func New(ca *coord.Adapter, g *graph.Graph, store *osa.Adapter, edgeMap *graph.CanonicalEdgeMap, consumerName, snapshotPath string, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{
		CA:           ca,
		Graph:        g,
		OSA:          store,
		EdgeMap:      edgeMap,
		Localities:   locality.DefaultConfig,
		SnapshotPath: snapshotPath,
		ConsumerName: consumerName,
		Log:          log,
	}
}

// RunBatch reads up to n pending graph-update events and processes each.
// Returns the count successfully acknowledged.
func (w *Writer) RunBatch(ctx context.Context, n int, wait time.Duration) (int, error) {
	events, err := w.CA.StreamReadGroup(ctx, graphUpdateStream, consumerGroup, n, wait)
	if err != nil {
		return 0, fmt.Errorf("graphwriter: read batch: %w", err)
	}
	processed := 0
	for _, e := range events {
		if err := w.handle(ctx, e.Payload); err != nil {
			w.Log.Error("graphwriter: event handling failed, leaving unacked for retry", "err", err)
			continue
		}
		if err := e.Ack(); err != nil {
			w.Log.Error("graphwriter: ack failed", "err", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// handle implements §4.6 steps 1-8 for a single event; the caller
// acknowledges the stream message only if handle returns nil (step 9).
func (w *Writer) handle(ctx context.Context, payload []byte) error {
	var ev event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	pd := ev.Data

	docNodeID := stableDocumentNodeID(ev.Path)
	docNode := domain.GraphNode{ID: docNodeID, Type: domain.NodeDocument, Label: docNodeID}

	if w.OSA != nil {
		if raw, err := os.ReadFile(ev.Path); err == nil {
			if cid, err := w.OSA.Put(ctx, raw); err == nil {
				docNode.CID = cid
			} else {
				w.Log.Warn("graphwriter: pin original file failed, node created without CID", "path", ev.Path, "err", err)
			}
		}
	}
	w.Graph.UpsertNode(docNode)

	locality.AddLocalityRelations(w.Localities, w.Graph, docNodeID, pd.TextContent)

	targetNodeID := docNodeID
	if pd.Project != nil && pd.Project.Name != "" {
		projectID := "project_" + domain.ContentDigest(pd.Project.Name)[:12]
		w.Graph.GetOrCreateNode(domain.NodeProject, pd.Project.Name, func() domain.GraphNode {
			return domain.GraphNode{ID: projectID, Type: domain.NodeProject, Label: pd.Project.Name,
				Properties: map[string]string{"description": pd.Project.Description, "status": pd.Project.Status}}
		})
		w.Graph.AddEdge(domain.GraphEdge{Source: docNodeID, Target: projectID, Type: domain.EdgeContainsDocument, Timestamp: time.Now()})
		for _, localityNodeID := range localityNamesWithNode(w.Graph, docNodeID) {
			w.Graph.AddEdge(domain.GraphEdge{Source: projectID, Target: localityNodeID, Type: domain.EdgeLocatedIn, Timestamp: time.Now()})
		}
		targetNodeID = projectID
	}

	w.wireEntities(pd.Entities.People, domain.NodePerson, targetNodeID)
	w.wireEntities(pd.Entities.Organizations, domain.NodeOrganization, targetNodeID)
	w.wireEntities(pd.Entities.Companies, domain.NodeCompany, targetNodeID)

	for _, rel := range pd.Relationships {
		sourceID, ok1 := findAnyLabel(w.Graph, rel.Source)
		targetID, ok2 := findAnyLabel(w.Graph, rel.Target)
		if !ok1 || !ok2 {
			continue
		}
		edgeType, ok := w.EdgeMap.Canonical(rel.Relationship)
		if !ok {
			continue
		}
		w.Graph.AddEdge(domain.GraphEdge{Source: sourceID, Target: targetID, Type: edgeType, Timestamp: time.Now(), Message: rel.Relationship})
	}

	for _, similarKey := range pd.SimilarDocs {
		if pd.MetadataCID == "" || similarKey == "" {
			continue
		}
		w.Graph.AddEdge(domain.GraphEdge{
			Source: pd.MetadataCID, Target: similarKey, Type: domain.EdgeSimilarTo,
			Confidence: SimilarToWeight, Timestamp: time.Now(),
		})
	}

	return w.publishSnapshot(ctx)
}

// wireEntities looks up or creates each entity node, then adds an edge
// typed by the entity's canonicalised role (§4.6 step 5).
func (w *Writer) wireEntities(refs []domain.EntityRef, nodeType domain.NodeType, targetNodeID string) {
	for _, ref := range refs {
		if ref.Name == "" {
			continue
		}
		entityID := w.Graph.GetOrCreateNode(nodeType, ref.Name, func() domain.GraphNode {
			return domain.GraphNode{ID: entityNodeID(nodeType, ref.Name), Type: nodeType, Label: ref.Name}
		}).ID

		edgeType, ok := w.EdgeMap.Canonical(ref.Role)
		if !ok {
			edgeType = domain.EdgeInvolvedIn
		}
		w.Graph.AddEdge(domain.GraphEdge{Source: entityID, Target: targetNodeID, Type: edgeType, Timestamp: time.Now()})
	}
}

// publishSnapshot writes the graph to disk atomically, pins it to OSA,
// and republishes the mutable name (§4.6 step 8).
func (w *Writer) publishSnapshot(ctx context.Context) error {
	if err := w.Graph.WriteSnapshot(w.SnapshotPath); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if w.OSA == nil {
		w.notifySnapshotUpdated(ctx, "")
		return nil
	}
	data, err := os.ReadFile(w.SnapshotPath)
	if err != nil {
		return fmt.Errorf("reread snapshot: %w", err)
	}
	cid, err := w.OSA.Put(ctx, data)
	if err != nil {
		return fmt.Errorf("pin snapshot: %w", err)
	}
	if err := w.OSA.Pin(ctx, cid, nil); err != nil {
		return fmt.Errorf("pin snapshot: %w", err)
	}
	if _, err := w.OSA.PublishName(ctx, SnapshotName, cid); err != nil {
		return fmt.Errorf("publish name: %w", err)
	}
	w.notifySnapshotUpdated(ctx, cid)
	return nil
}

// notifySnapshotUpdated broadcasts the new snapshot over the coordination
// substrate's plain NATS connection; failures are logged, not fatal, since
// hot-reload is a convenience and every process also loads from disk at
// startup.
func (w *Writer) notifySnapshotUpdated(ctx context.Context, cid string) {
	if w.CA == nil {
		return
	}
	msg := SnapshotUpdated{Path: w.SnapshotPath, CID: cid}
	if err := natsutil.Publish(ctx, w.CA.Conn(), SnapshotUpdatedSubject, msg); err != nil {
		w.Log.Warn("graphwriter: snapshot-updated broadcast failed", "err", err)
	}
}

// stableDocumentNodeID derives "doc_<first-8-hex-of-md5(basename)>"
// (§4.6 step 1).
func stableDocumentNodeID(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			base = path[i+1:]
			break
		}
	}
	sum := md5.Sum([]byte(base))
	return "doc_" + hex.EncodeToString(sum[:])[:8]
}

func entityNodeID(t domain.NodeType, label string) string {
	sum := md5.Sum([]byte(string(t) + "|" + label))
	return string(t) + "_" + hex.EncodeToString(sum[:])[:12]
}

// localityNamesWithNode returns every locality/region node id already
// attached to the document by locality detection, for project
// LOCATED_IN wiring (§4.6 step 4).
func localityNamesWithNode(g *graph.Graph, docNodeID string) []string {
	var ids []string
	for _, e := range g.Edges(docNodeID) {
		if e.Source == docNodeID && e.Type == domain.EdgeLocatedIn {
			ids = append(ids, e.Target)
		}
	}
	return ids
}

// findAnyLabel looks up label across every node type that an explicit
// relationship's source/target might name (§4.6 step 6).
func findAnyLabel(g *graph.Graph, label string) (string, bool) {
	for _, t := range []domain.NodeType{
		domain.NodeProject, domain.NodePerson, domain.NodeOrganization,
		domain.NodeCompany, domain.NodeFunding, domain.NodeDocument,
		domain.NodeLocality, domain.NodeRegion, domain.NodePatent,
		domain.NodeResearchPaper,
	} {
		if id, ok := g.FindByLabel(t, label); ok {
			return id, true
		}
	}
	return "", false
}
