package lineage

import (
	"testing"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildLineageFixture(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "research-1", Type: domain.NodeResearchPaper, Label: "Foundational Paper"})
	g.UpsertNode(domain.GraphNode{ID: "patent-1", Type: domain.NodePatent, Label: "Derived Patent"})
	g.UpsertNode(domain.GraphNode{ID: "project-1", Type: domain.NodeProject, Label: "Built Project",
		Properties: map[string]string{"locality": "Norfolk"}})

	// Subject-relationship-object direction (§4.11): "patent-1 DERIVES_FROM
	// research-1" and "project-1 IMPLEMENTS patent-1" both point from the
	// descendant to its predecessor, matching what engine/graphwriter
	// actually writes for an explicit relationship.
	g.AddEdge(domain.GraphEdge{Source: "patent-1", Target: "research-1", Type: domain.EdgeDerivesFrom})
	g.AddEdge(domain.GraphEdge{Source: "project-1", Target: "patent-1", Type: domain.EdgeImplements})
	return g
}

func TestBuildHistoryOrdersPredecessorsBeforeDescendants(t *testing.T) {
	g := buildLineageFixture(t)
	h := BuildHistory(g, "project-1", map[string]bool{"Norfolk": true})

	require.Len(t, h.Commits, 3)
	order := map[string]int{}
	for i, c := range h.Commits {
		order[c.ID] = i
	}
	assert.Less(t, order["research-1"], order["patent-1"])
	assert.Less(t, order["patent-1"], order["project-1"])
}

func TestBuildHistoryGroupsBranchesByType(t *testing.T) {
	g := buildLineageFixture(t)
	h := BuildHistory(g, "project-1", nil)

	names := map[string]bool{}
	for _, b := range h.Branches {
		names[b.Name] = true
	}
	assert.True(t, names["research/research-1"])
	assert.True(t, names["patent/patent-1"])
	assert.True(t, names["project/project-1"])
}

func TestBuildHistoryMarksInSevenCities(t *testing.T) {
	g := buildLineageFixture(t)
	h := BuildHistory(g, "project-1", map[string]bool{"Norfolk": true})

	var found bool
	for _, c := range h.Commits {
		if c.ID == "project-1" {
			found = true
			assert.True(t, c.InSevenCities)
			assert.Equal(t, "Norfolk", c.Locality)
		}
	}
	assert.True(t, found)
}
