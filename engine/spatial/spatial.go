// Package spatial implements the Spatial Utilities (§4.9): name
// normalisation and haversine-metric nearest-neighbour edge attachment.
package spatial

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
)

// EarthRadiusKm is the radius used by the haversine distance (§4.9).
const EarthRadiusKm = 6371.0088

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeID lowercases name and replaces runs of non-alphanumeric
// characters with a single underscore, producing a stable node id.
func NormalizeID(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	id := nonAlnum.ReplaceAllString(lower, "_")
	return strings.Trim(id, "_")
}

// HaversineKm returns the great-circle distance between two WGS-84
// coordinates in kilometres.
func HaversineKm(a, b domain.Coordinates) float64 {
	lat1, lon1 := a.Lat*math.Pi/180, a.Lng*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lng*math.Pi/180
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

type neighbor struct {
	id   string
	dist float64
}

// AddNearestEdges connects every node carrying coordinates to its up-to-k
// nearest neighbours within maxKm, adding NEARBY edges with
// distance_km rounded to 2 decimal places. A reverse edge already present
// is not duplicated (§4.9).
func AddNearestEdges(g *graph.Graph, k int, maxKm float64) {
	nodes := g.AllNodes()
	var located []domain.GraphNode
	for _, n := range nodes {
		if n.Coords != nil {
			located = append(located, n)
		}
	}

	for _, n := range located {
		var candidates []neighbor
		for _, other := range located {
			if other.ID == n.ID {
				continue
			}
			d := HaversineKm(*n.Coords, *other.Coords)
			if d <= maxKm {
				candidates = append(candidates, neighbor{id: other.ID, dist: d})
			}
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		for _, c := range candidates {
			if g.HasEdge(n.ID, c.id, domain.EdgeNearby) {
				continue
			}
			g.AddEdge(domain.GraphEdge{
				Source:     n.ID,
				Target:     c.id,
				Type:       domain.EdgeNearby,
				DistanceKm: math.Round(c.dist*100) / 100,
			})
		}
	}
}

// NearestCity returns the canonical name of the closest entry in cities
// to point, by planar (non-haversine) distance — used by the traffic
// ingestor's cheap nearest-of-seven-cities snap (§4.8).
func NearestCity(point domain.Coordinates, cities map[string]domain.Coordinates) (string, float64) {
	best := ""
	bestDist := math.MaxFloat64
	names := make([]string, 0, len(cities))
	for name := range cities {
		names = append(names, name)
	}
	sort.Strings(names) // stable tie-break
	for _, name := range names {
		c := cities[name]
		dLat := point.Lat - c.Lat
		dLng := point.Lng - c.Lng
		d := dLat*dLat + dLng*dLng
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best, math.Sqrt(bestDist)
}
