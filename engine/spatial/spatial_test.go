package spatial

import (
	"testing"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "virginia_beach", NormalizeID("Virginia Beach"))
	assert.Equal(t, "norfolk", NormalizeID("  Norfolk  "))
}

func TestHaversineKmKnownDistance(t *testing.T) {
	norfolk := domain.Coordinates{Lat: 36.8508, Lng: -76.2859}
	virginiaBeach := domain.Coordinates{Lat: 36.8529, Lng: -75.9780}
	d := HaversineKm(norfolk, virginiaBeach)
	assert.InDelta(t, 27.7, d, 2.0)
}

func TestAddNearestEdgesRespectsKAndMaxKm(t *testing.T) {
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "a", Type: domain.NodeLocality, Label: "a", Coords: &domain.Coordinates{Lat: 0, Lng: 0}})
	g.UpsertNode(domain.GraphNode{ID: "b", Type: domain.NodeLocality, Label: "b", Coords: &domain.Coordinates{Lat: 0.01, Lng: 0}})
	g.UpsertNode(domain.GraphNode{ID: "c", Type: domain.NodeLocality, Label: "c", Coords: &domain.Coordinates{Lat: 50, Lng: 50}})

	AddNearestEdges(g, 1, 100)

	edges := g.Edges("a")
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].Target)
	assert.Equal(t, domain.EdgeNearby, edges[0].Type)
}

func TestAddNearestEdgesSkipsExistingReverse(t *testing.T) {
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "a", Type: domain.NodeLocality, Label: "a", Coords: &domain.Coordinates{Lat: 0, Lng: 0}})
	g.UpsertNode(domain.GraphNode{ID: "b", Type: domain.NodeLocality, Label: "b", Coords: &domain.Coordinates{Lat: 0.01, Lng: 0}})
	g.AddEdge(domain.GraphEdge{Source: "b", Target: "a", Type: domain.EdgeNearby})

	AddNearestEdges(g, 5, 100)

	assert.Len(t, g.Edges("a"), 1) // no new a->b edge added on top of b->a
}

func TestNearestCity(t *testing.T) {
	cities := map[string]domain.Coordinates{
		"Norfolk":    {Lat: 36.8508, Lng: -76.2859},
		"Chesapeake": {Lat: 36.7682, Lng: -76.2875},
	}
	name, _ := NearestCity(domain.Coordinates{Lat: 36.85, Lng: -76.28}, cities)
	assert.Equal(t, "Norfolk", name)
}
