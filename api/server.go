// Package api implements the Read API (§4.10): a read-only HTTP surface
// over the in-memory graph, the vector index, and lineage history. The
// graph is never mutated here — only the Graph Writer Service holds
// write access.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/hrkg/platform/engine/lineage"
	"github.com/hrkg/platform/engine/locality"
	"github.com/hrkg/platform/engine/vector"
	"github.com/hrkg/platform/pkg/mid"
)

// Embedder turns a free-text query into an embedding for the vector
// similarity endpoints. Satisfied by engine/extractor.HTTPEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Server holds the read-only dependencies backing every handler.
type Server struct {
	Graph       *graph.Graph
	Vector      *vector.Store
	Embedder    Embedder
	Localities  locality.Config
	SevenCities map[string]bool
	CORSOrigin  string
	Log         *slog.Logger
}

// New creates a Server with sensible defaults. vecStore and embedder may
// both be nil, in which case the semantic-search endpoints fall back to
// keyword matching only.
func New(g *graph.Graph, vecStore *vector.Store, embedder Embedder, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		Graph:       g,
		Vector:      vecStore,
		Embedder:    embedder,
		Localities:  locality.DefaultConfig,
		SevenCities: locality.SevenCities,
		CORSOrigin:  "*",
		Log:         log,
	}
}

// Routes builds the full handler chain (§4.10's fixed endpoint surface).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /projects", s.handleListProjects)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("GET /projects/{id}/documents", s.handleProjectDocuments)
	mux.HandleFunc("GET /projects/{id}/git-history", s.handleProjectGitHistory)
	mux.HandleFunc("GET /projects/by-locality/{name}", s.handleProjectsByLocality)

	mux.HandleFunc("GET /documents/{id}/related", s.handleDocumentRelated)

	mux.HandleFunc("GET /graph/subgraph/{nodeId}", s.handleSubgraph)
	mux.HandleFunc("GET /graph/map-data", s.handleMapData)

	mux.HandleFunc("GET /localities", s.handleLocalities)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/search/multi", s.handleSearchMulti)
	mux.HandleFunc("GET /api/search/suggest", s.handleSearchSuggest)

	mux.HandleFunc("GET /api/telemetry/streams", s.handleTelemetryStreams)
	mux.HandleFunc("GET /api/telemetry/{streamId}", s.handleTelemetryStream)
	mux.HandleFunc("GET /api/telemetry/map-data", s.handleTelemetryMapData)

	return mid.Chain(mux,
		mid.Recover(s.Log),
		mid.Logger(s.Log),
		mid.CORS(s.CORSOrigin),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListProjects returns every project node.
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	var out []domain.GraphNode
	for _, n := range s.Graph.AllNodes() {
		if n.Type == domain.NodeProject {
			out = append(out, n)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, ok := s.Graph.GetNode(id)
	if !ok || n.Type != domain.NodeProject {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleProjectDocuments returns every document node with a
// CONTAINS_DOCUMENT edge into the project.
func (s *Server) handleProjectDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.Graph.GetNode(id); !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	var docs []domain.GraphNode
	for _, e := range s.Graph.Edges(id) {
		if e.Type != domain.EdgeContainsDocument || e.Target != id {
			continue
		}
		if n, ok := s.Graph.GetNode(e.Source); ok {
			docs = append(docs, n)
		}
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleProjectGitHistory delegates to the Lineage module (§4.11).
func (s *Server) handleProjectGitHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.Graph.GetNode(id); !ok {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	history := lineage.BuildHistory(s.Graph, id, s.SevenCities)
	writeJSON(w, http.StatusOK, history)
}

// handleProjectsByLocality finds the locality node by name and walks its
// LOCATED_IN edges back to projects.
func (s *Server) handleProjectsByLocality(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	localityID, ok := s.Graph.FindByLabel(domain.NodeLocality, name)
	if !ok {
		writeJSON(w, http.StatusOK, []domain.GraphNode{})
		return
	}
	var projects []domain.GraphNode
	for _, e := range s.Graph.Edges(localityID) {
		if e.Type != domain.EdgeLocatedIn || e.Target != localityID {
			continue
		}
		if n, ok := s.Graph.GetNode(e.Source); ok && n.Type == domain.NodeProject {
			projects = append(projects, n)
		}
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleDocumentRelated returns SIMILAR_TO neighbours of the given
// document node.
func (s *Server) handleDocumentRelated(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.Graph.GetNode(id); !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	var related []domain.GraphNode
	for _, e := range s.Graph.Edges(id) {
		if e.Type != domain.EdgeSimilarTo {
			continue
		}
		otherID := e.Target
		if e.Target == id {
			otherID = e.Source
		}
		if n, ok := s.Graph.GetNode(otherID); ok {
			related = append(related, n)
		}
	}
	writeJSON(w, http.StatusOK, related)
}

// subgraphResult is the BFS-bounded response body for
// GET /graph/subgraph/{nodeId}?depth=k.
type subgraphResult struct {
	Nodes []domain.GraphNode `json:"nodes"`
	Edges []domain.GraphEdge `json:"edges"`
}

const maxSubgraphDepth = 5

// handleSubgraph runs a breadth-first traversal from nodeId out to the
// requested depth (clamped to maxSubgraphDepth).
func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("nodeId")
	if _, ok := s.Graph.GetNode(nodeID); !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	depth := 2
	if v := r.URL.Query().Get("depth"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			depth = parsed
		}
	}
	if depth < 0 {
		depth = 0
	}
	if depth > maxSubgraphDepth {
		depth = maxSubgraphDepth
	}

	visitedNodes := map[string]bool{nodeID: true}
	visitedEdges := map[string]domain.GraphEdge{}
	frontier := []string{nodeID}

	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			for _, e := range s.Graph.Edges(id) {
				key := e.Source + "|" + e.Target + "|" + string(e.Type)
				visitedEdges[key] = e
				other := e.Target
				if e.Target == id {
					other = e.Source
				}
				if !visitedNodes[other] {
					visitedNodes[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}

	result := subgraphResult{}
	for id := range visitedNodes {
		if n, ok := s.Graph.GetNode(id); ok {
			result.Nodes = append(result.Nodes, n)
		}
	}
	for _, e := range visitedEdges {
		result.Edges = append(result.Edges, e)
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].ID < result.Nodes[j].ID })
	writeJSON(w, http.StatusOK, result)
}

// geoFeature and geoFeatureCollection implement the minimal RFC 7946
// GeoJSON shapes needed by /graph/map-data and /api/telemetry/map-data.
type geoFeature struct {
	Type       string         `json:"type"`
	Geometry   geoGeometry    `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geoGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type geoFeatureCollection struct {
	Type     string       `json:"type"`
	Features []geoFeature `json:"features"`
}

// handleMapData returns every node with coordinates as a GeoJSON
// FeatureCollection (§4.10).
func (s *Server) handleMapData(w http.ResponseWriter, r *http.Request) {
	fc := geoFeatureCollection{Type: "FeatureCollection"}
	for _, n := range s.Graph.AllNodes() {
		if n.Coords == nil {
			continue
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:     "Feature",
			Geometry: geoGeometry{Type: "Point", Coordinates: []float64{n.Coords.Lng, n.Coords.Lat}},
			Properties: map[string]any{
				"id":    n.ID,
				"type":  n.Type,
				"label": n.Label,
			},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

// handleLocalities returns every locality/region node.
func (s *Server) handleLocalities(w http.ResponseWriter, r *http.Request) {
	var out []domain.GraphNode
	for _, n := range s.Graph.AllNodes() {
		if n.Type == domain.NodeLocality || n.Type == domain.NodeRegion {
			out = append(out, n)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSearch implements a label-substring keyword search across every
// node type (§4.10's /search and /api/search surface).
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusOK, []domain.GraphNode{})
		return
	}
	out := keywordMatch(s.Graph.AllNodes(), q)
	writeJSON(w, http.StatusOK, out)
}

func keywordMatch(nodes []domain.GraphNode, q string) []domain.GraphNode {
	var out []domain.GraphNode
	for _, n := range nodes {
		if strings.Contains(strings.ToLower(n.Label), q) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// searchMultiResult merges keyword matches with vector-similarity matches
// against the document-embedding index (§4.10's /api/search/multi).
type searchMultiResult struct {
	Keyword  []domain.GraphNode  `json:"keyword"`
	Semantic []vector.SimilarDoc `json:"semantic,omitempty"`
}

// handleSearchMulti runs both the keyword matcher and, when an Embedder
// and Vector store are both configured, a k-NN similarity lookup over
// the query's embedding.
func (s *Server) handleSearchMulti(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, searchMultiResult{})
		return
	}
	result := searchMultiResult{Keyword: keywordMatch(s.Graph.AllNodes(), strings.ToLower(q))}

	if s.Embedder != nil && s.Vector != nil {
		topK := 10
		if v := r.URL.Query().Get("k"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
				topK = parsed
			}
		}
		embedding, err := s.Embedder.Embed(r.Context(), q)
		if err != nil {
			s.Log.Error("api: embed query failed", "err", err)
		} else {
			docs, err := s.Vector.SimilarTo(r.Context(), embedding, topK)
			if err != nil {
				s.Log.Error("api: vector similarity lookup failed", "err", err)
			} else {
				result.Semantic = docs
			}
		}
	}
	writeJSON(w, http.StatusOK, result)
}

const maxSuggestions = 10

// handleSearchSuggest returns up to maxSuggestions node labels whose
// prefix matches q, for autocomplete (§4.10's /api/search/suggest).
func (s *Server) handleSearchSuggest(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	seen := map[string]bool{}
	var out []string
	for _, n := range s.Graph.AllNodes() {
		label := n.Label
		if !strings.HasPrefix(strings.ToLower(label), q) || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	sort.Strings(out)
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTelemetryStreams lists every telemetry_stream node.
func (s *Server) handleTelemetryStreams(w http.ResponseWriter, r *http.Request) {
	var out []domain.GraphNode
	for _, n := range s.Graph.AllNodes() {
		if n.Type == domain.NodeTelemetryStream {
			out = append(out, n)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTelemetryStream lists every reading CONTAINed by a stream.
func (s *Server) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	nodeID := "stream_" + streamID
	if _, ok := s.Graph.GetNode(nodeID); !ok {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}
	var readings []domain.GraphNode
	for _, e := range s.Graph.Edges(nodeID) {
		if e.Type != domain.EdgeContains || e.Source != nodeID {
			continue
		}
		if n, ok := s.Graph.GetNode(e.Target); ok {
			readings = append(readings, n)
		}
	}
	writeJSON(w, http.StatusOK, readings)
}

// handleTelemetryMapData returns every telemetry_reading node as GeoJSON.
func (s *Server) handleTelemetryMapData(w http.ResponseWriter, r *http.Request) {
	fc := geoFeatureCollection{Type: "FeatureCollection"}
	for _, n := range s.Graph.AllNodes() {
		if n.Type != domain.NodeTelemetryReading || n.Coords == nil {
			continue
		}
		fc.Features = append(fc.Features, geoFeature{
			Type:     "Feature",
			Geometry: geoGeometry{Type: "Point", Coordinates: []float64{n.Coords.Lng, n.Coords.Lat}},
			Properties: map[string]any{"id": n.ID},
		})
	}
	writeJSON(w, http.StatusOK, fc)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
