// Package graph implements the in-memory directed multigraph (§4.6, §9):
// arrays of nodes and edges plus two hash indexes — id→node and
// (type,label)→id — replacing the teacher's Neo4j-backed store. The
// graph is mutated by the Graph Writer, by locality.Seed at worker
// startup, and by the telemetry Processor's graph wiring; the Read API
// only reads it.
package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/hrkg/platform/engine/domain"
)

// Graph is an in-memory directed multigraph, safe for concurrent readers
// while a single writer mutates it (§5's single-writer shared-resource
// policy).
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]domain.GraphNode
	edges []domain.GraphEdge

	// byTypeLabel indexes nodes by (type, label) for get-or-create lookups.
	byTypeLabel map[string]string // "type|label" -> node id
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[string]domain.GraphNode),
		byTypeLabel: make(map[string]string),
	}
}

func typeLabelKey(t domain.NodeType, label string) string {
	return string(t) + "|" + label
}

// UpsertNode inserts n if absent (keyed by id), or replaces it if present.
func (g *Graph) UpsertNode(n domain.GraphNode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[n.ID] = n
	g.byTypeLabel[typeLabelKey(n.Type, n.Label)] = n.ID
}

// GetNode returns the node with id, if present.
func (g *Graph) GetNode(id string) (domain.GraphNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// GetOrCreateNode looks up a node by (type, label), inserting a fresh one
// via makeNew when absent (§4.6 steps 4-5).
func (g *Graph) GetOrCreateNode(t domain.NodeType, label string, makeNew func() domain.GraphNode) domain.GraphNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := typeLabelKey(t, label)
	if id, ok := g.byTypeLabel[key]; ok {
		if n, ok := g.nodes[id]; ok {
			return n
		}
	}
	n := makeNew()
	g.nodes[n.ID] = n
	g.byTypeLabel[key] = n.ID
	return n
}

// FindByLabel looks up a node id by (type, label) without creating one.
func (g *Graph) FindByLabel(t domain.NodeType, label string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byTypeLabel[typeLabelKey(t, label)]
	return id, ok
}

// HasEdge reports whether an edge of type et already connects source to
// target in either direction — used to skip redundant reverse edges
// (§4.9) and duplicate-edge detection on replay (§8).
func (g *Graph) HasEdge(source, target string, et domain.EdgeType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.edges {
		if e.Type != et {
			continue
		}
		if (e.Source == source && e.Target == target) || (e.Source == target && e.Target == source) {
			return true
		}
	}
	return false
}

// AddEdge appends an edge unless an identical (source, target, type) edge
// already exists, in which case the call is a no-op (idempotent replay,
// §8's "replaying the same graph-update event yields an unchanged graph
// snapshot").
func (g *Graph) AddEdge(e domain.GraphEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.edges {
		if existing.Source == e.Source && existing.Target == e.Target && existing.Type == e.Type {
			return
		}
	}
	g.edges = append(g.edges, e)
}

// Edges returns every edge touching nodeID, in either direction.
func (g *Graph) Edges(nodeID string) []domain.GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []domain.GraphEdge
	for _, e := range g.edges {
		if e.Source == nodeID || e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// AllNodes returns a snapshot copy of every node.
func (g *Graph) AllNodes() []domain.GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.GraphNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// AllEdges returns a snapshot copy of every edge.
func (g *Graph) AllEdges() []domain.GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.GraphEdge, len(g.edges))
	copy(out, g.edges)
	return out
}

// snapshot is the JSON-serialisable form (§4.6): nodes/edges plus the
// convenience arrays projects and locations used by map-style read
// endpoints.
type snapshot struct {
	Nodes     []domain.GraphNode `json:"nodes"`
	Edges     []domain.GraphEdge `json:"edges"`
	Projects  []domain.GraphNode `json:"projects"`
	Locations []domain.GraphNode `json:"locations"`
}

// Snapshot serialises the graph to JSON.
func (g *Graph) Snapshot() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	snap := snapshot{Edges: append([]domain.GraphEdge(nil), g.edges...)}
	for _, n := range g.nodes {
		snap.Nodes = append(snap.Nodes, n)
		switch n.Type {
		case domain.NodeProject:
			snap.Projects = append(snap.Projects, n)
		case domain.NodeLocality, domain.NodeRegion:
			snap.Locations = append(snap.Locations, n)
		}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// WriteSnapshot atomically writes the JSON snapshot to path (write to a
// temp file, then rename), per §4.6 step 8.
func (g *Graph) WriteSnapshot(path string) error {
	data, err := g.Snapshot()
	if err != nil {
		return fmt.Errorf("graph: snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("graph: write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("graph: rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot builds and returns a new graph from the snapshot at path.
func LoadSnapshot(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("graph: parse snapshot: %w", err)
	}
	g := New()
	for _, n := range snap.Nodes {
		g.UpsertNode(n)
	}
	g.edges = snap.Edges
	return g, nil
}

// ReloadFrom replaces g's contents in place with the snapshot at path,
// without changing the *Graph pointer any caller already holds. Used by
// long-lived readers (the Read API) to pick up a fresh snapshot without
// restarting.
func (g *Graph) ReloadFrom(path string) error {
	fresh, err := LoadSnapshot(path)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = fresh.nodes
	g.byTypeLabel = fresh.byTypeLabel
	g.edges = fresh.edges
	return nil
}
