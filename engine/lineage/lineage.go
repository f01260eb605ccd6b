// Package lineage implements the Git-Like Project Lineage view (§4.11):
// a predecessor traversal over DERIVES_FROM/IMPLEMENTS/INFLUENCED edges,
// topological ordering, and grouping into research/patent/project
// branches.
package lineage

import (
	"time"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
)

// Commit is one emitted lineage entry (§4.11 step 3).
type Commit struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Type           domain.NodeType `json:"type"`
	Message        string    `json:"message,omitempty"`
	Parents        []string  `json:"parents"`
	CID            string    `json:"cid,omitempty"`
	Author         string    `json:"author,omitempty"`
	Locality       string    `json:"locality,omitempty"`
	Localities     []string  `json:"localities,omitempty"`
	Coordinates    *domain.Coordinates `json:"coordinates,omitempty"`
	InSevenCities  bool      `json:"in_seven_cities"`
}

// Branch groups commits by lineage role (§4.11 step 4).
type Branch struct {
	Name           string   `json:"name"`
	Commits        []string `json:"commits"`
	ResearchParents []string `json:"research_parents,omitempty"`
}

// History is the full git-like view for a project.
type History struct {
	Commits  []Commit `json:"commits"`
	Branches []Branch `json:"branches"`
}

// BuildHistory computes the git-like lineage view for projectID
// (§4.11).
func BuildHistory(g *graph.Graph, projectID string, sevenCities map[string]bool) History {
	predecessors := map[string][]string{} // node -> direct lineage predecessors
	visited := map[string]bool{}
	var order []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, e := range g.Edges(id) {
			if e.Source != id || !domain.LineageEdgeTypes[e.Type] {
				continue
			}
			predecessors[id] = append(predecessors[id], e.Target)
			visit(e.Target)
		}
		order = append(order, id)
	}
	visit(projectID)
	order = topoSort(order, predecessors)

	commits := make([]Commit, 0, len(order))
	branchByID := map[string]*Branch{}
	var branches []Branch

	for _, id := range order {
		n, ok := g.GetNode(id)
		if !ok {
			continue
		}
		ts := commitTimestamp(g, id)
		commit := Commit{
			ID:        id,
			Timestamp: ts,
			Type:      n.Type,
			Parents:   predecessors[id],
			CID:       n.CID,
			Coordinates: n.Coords,
		}
		if loc, ok := n.Properties["locality"]; ok {
			commit.Locality = loc
			commit.InSevenCities = sevenCities[loc]
		}
		commits = append(commits, commit)

		branchName, researchParents := branchFor(n, predecessors[id])
		if b, ok := branchByID[branchName]; ok {
			b.Commits = append(b.Commits, id)
		} else {
			b := Branch{Name: branchName, Commits: []string{id}, ResearchParents: researchParents}
			branchByID[branchName] = &b
			branches = append(branches, b)
		}
	}

	// Reconcile pointer mutations back into the slice (branchByID entries
	// are separate copies from the slice append above).
	for i := range branches {
		branches[i] = *branchByID[branches[i].Name]
	}

	return History{Commits: commits, Branches: branches}
}

func branchFor(n domain.GraphNode, parents []string) (string, []string) {
	switch n.Type {
	case domain.NodeResearchPaper:
		return "research/" + n.ID, nil
	case domain.NodePatent:
		return "patent/" + n.ID, parents
	case domain.NodeProject:
		return "project/" + n.ID, nil
	default:
		return "other/" + n.ID, nil
	}
}

// commitTimestamp resolves the commit timestamp per §4.11 step 3: the
// node's date attribute, else the earliest incoming edge timestamp, else
// now.
func commitTimestamp(g *graph.Graph, id string) time.Time {
	if n, ok := g.GetNode(id); ok {
		if dateStr, ok := n.Properties["date"]; ok {
			if t, err := time.Parse(time.RFC3339, dateStr); err == nil {
				return t
			}
		}
	}
	var earliest time.Time
	for _, e := range g.Edges(id) {
		if e.Target != id {
			continue
		}
		if earliest.IsZero() || e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
	}
	if !earliest.IsZero() {
		return earliest
	}
	return time.Now().UTC()
}

// topoSort orders ids so that every id appears after all of its
// predecessors (depth-first post-order walk over the predecessors map
// restricted to nodes already collected).
func topoSort(ids []string, predecessors map[string][]string) []string {
	inSet := map[string]bool{}
	for _, id := range ids {
		inSet[id] = true
	}
	visited := map[string]bool{}
	var out []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] || !inSet[id] {
			return
		}
		visited[id] = true
		for _, p := range predecessors[id] {
			visit(p)
		}
		out = append(out, id)
	}
	for _, id := range ids {
		visit(id)
	}
	return out
}
