package locality

import (
	"testing"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLocalitiesEmptyText(t *testing.T) {
	counts := DetectLocalities(DefaultConfig, "")
	assert.Empty(t, counts)
}

func TestDetectLocalitiesWholeWordMatch(t *testing.T) {
	counts := DetectLocalities(DefaultConfig, "The project is located in Norfolk, near Norfolk State.")
	require.Contains(t, counts, "Norfolk")
	assert.Equal(t, 2, counts["Norfolk"])
}

func TestDetectRegion(t *testing.T) {
	assert.True(t, DetectRegion(DefaultConfig, "A Hampton Roads initiative."))
	assert.False(t, DetectRegion(DefaultConfig, "A Chicago initiative."))
}

func TestAddLocalityRelations(t *testing.T) {
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "loc-norfolk", Type: domain.NodeLocality, Label: "Norfolk"})
	g.UpsertNode(domain.GraphNode{ID: "region-hr", Type: domain.NodeRegion, Label: "Hampton Roads"})
	g.UpsertNode(domain.GraphNode{ID: "doc1", Type: domain.NodeDocument, Label: "doc1"})

	attached := AddLocalityRelations(DefaultConfig, g, "doc1", "A Hampton Roads project based in Norfolk.")
	assert.ElementsMatch(t, []string{"loc-norfolk", "region-hr"}, attached)

	edges := g.Edges("doc1")
	require.Len(t, edges, 2)
}
