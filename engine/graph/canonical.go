package graph

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"gopkg.in/yaml.v3"
)

// CanonicalEdgeMap loads a hot-reloadable YAML map of free-text relation
// labels to EdgeType enum names (§4.6's canonical_edge). Reload is
// triggered by file mtime change, checked lazily on each lookup.
type CanonicalEdgeMap struct {
	path    string
	mu      sync.RWMutex
	table   map[string]domain.EdgeType
	modTime atomic.Int64 // unix nanos of the last loaded mtime
}

// DefaultEdgeMap is the built-in seed table, used when no YAML override
// file is configured or present.
var DefaultEdgeMap = map[string]domain.EdgeType{
	"derives from":     domain.EdgeDerivesFrom,
	"implements":       domain.EdgeImplements,
	"influenced":       domain.EdgeInfluenced,
	"influenced by":    domain.EdgeInfluenced,
	"supersedes":       domain.EdgeSupersedes,
	"located in":       domain.EdgeLocatedIn,
	"nearby":           domain.EdgeNearby,
	"contains document": domain.EdgeContainsDocument,
	"similar to":        domain.EdgeSimilarTo,
	"worked with":       domain.EdgeWorkedWith,
	"collaborated with": domain.EdgeWorkedWith,
	"collaborated on":   domain.EdgeCollaboratedOn,
	"advised by":        domain.EdgeAdvisedBy,
	"employed by":       domain.EdgeEmployedBy,
	"member of":         domain.EdgeMemberOf,
	"merged with":       domain.EdgeMergedWith,
	"acquired":          domain.EdgeAcquired,
	"partnered with":    domain.EdgePartneredWith,
	"invested in":       domain.EdgeInvestedIn,
	"supplies to":       domain.EdgeSuppliesTo,
	"funded by":         domain.EdgeFundedBy,
	"involved in":       domain.EdgeInvolvedIn,
	"contains":          domain.EdgeContains,
	"measures":          domain.EdgeMeasures,
	"reports to":        domain.EdgeReportsTo,
}

// NewCanonicalEdgeMap creates a map seeded from DefaultEdgeMap, optionally
// overlaid with a YAML file at path (absent is not an error: the default
// table is used until the file appears).
func NewCanonicalEdgeMap(path string) *CanonicalEdgeMap {
	m := &CanonicalEdgeMap{path: path, table: cloneDefault()}
	m.reloadIfChanged()
	return m
}

func cloneDefault() map[string]domain.EdgeType {
	out := make(map[string]domain.EdgeType, len(DefaultEdgeMap))
	for k, v := range DefaultEdgeMap {
		out[k] = v
	}
	return out
}

func (m *CanonicalEdgeMap) reloadIfChanged() {
	if m.path == "" {
		return
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return // absent override file: keep the current table
	}
	mtime := info.ModTime().UnixNano()
	if mtime == m.modTime.Load() {
		return
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return
	}
	table := cloneDefault()
	for text, enumName := range overrides {
		table[strings.ToLower(strings.TrimSpace(text))] = domain.EdgeType(enumName)
	}
	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
	m.modTime.Store(mtime)
}

// Canonical returns the EdgeType for text, or ("", false) when unmatched
// — the caller drops the edge (§4.6, §9's "unmapped relations dropped").
func (m *CanonicalEdgeMap) Canonical(text string) (domain.EdgeType, bool) {
	m.reloadIfChanged()
	key := strings.ToLower(strings.TrimSpace(text))
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.table[key]
	return et, ok
}

// pollInterval is how often a background watcher checks mtime, for
// callers that want proactive reload rather than lazy reload-on-lookup.
const pollInterval = 5 * time.Second

// Watch starts a background goroutine that polls for file changes until
// stop is closed.
func (m *CanonicalEdgeMap) Watch(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.reloadIfChanged()
			}
		}
	}()
}
