package locality

import (
	"strings"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
)

// regionID is the fixed node ID for the Hampton Roads region node, matching
// seed_localities.py's HAMPTON_ROADS_REGION_ID.
const regionID = "region_hampton_roads"

// regionLabel is the canonical display name for the region node, looked up
// by FindByLabel throughout the Read API and AddLocalityRelations.
const regionLabel = "Hampton Roads"

// coordinates gives an approximate centroid per locality, ported from
// seed_localities.py's LOCALITY_COORDINATES.
var coordinates = map[string]domain.Coordinates{
	"Norfolk":        {Lat: 36.8508, Lng: -76.2859},
	"Virginia Beach": {Lat: 36.8529, Lng: -75.9780},
	"Chesapeake":     {Lat: 36.7682, Lng: -76.2874},
	"Portsmouth":     {Lat: 36.8354, Lng: -76.2983},
	"Suffolk":        {Lat: 36.7282, Lng: -76.5836},
	"Hampton":        {Lat: 37.0311, Lng: -76.3452},
	"Newport News":   {Lat: 37.0871, Lng: -76.4730},
	"Williamsburg":   {Lat: 37.2707, Lng: -76.7075},
	"James City":     {Lat: 37.3136, Lng: -76.7681},
	"Gloucester":     {Lat: 37.4098, Lng: -76.5250},
	"York":           {Lat: 37.2419, Lng: -76.5125},
	"Poquoson":       {Lat: 37.1224, Lng: -76.3193},
	"Isle of Wight":  {Lat: 36.9087, Lng: -76.7048},
	"Surry":          {Lat: 37.1374, Lng: -76.8850},
	"Southampton":    {Lat: 36.7787, Lng: -77.1025},
	"Smithfield":     {Lat: 36.9824, Lng: -76.6322},
}

// normalizeID turns a locality display name into the "loc_<name>" node ID
// seed_localities.py uses, e.g. "Newport News" -> "loc_newport_news".
func normalizeID(name string) string {
	return "loc_" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Seed populates g with the Hampton Roads region node and all 16 locality
// nodes from DefaultConfig, each wired to the region via a LOCATED_IN edge
// (ported from seed_localities.py's add_locality_to_graph/add_region_to_graph
// and main; the GeoJSON-file and IPFS-pin side effects are not graph
// structure and are left out). Safe to call on every process start: node
// and edge upserts are both idempotent.
func Seed(g *graph.Graph) {
	g.UpsertNode(domain.GraphNode{
		ID:    regionID,
		Type:  domain.NodeRegion,
		Label: regionLabel,
	})

	for name := range DefaultConfig.Localities {
		localityID := normalizeID(name)
		coords := coordinates[name]
		g.UpsertNode(domain.GraphNode{
			ID:    localityID,
			Type:  domain.NodeLocality,
			Label: name,
			Properties: map[string]string{
				"region":          "hampton_roads",
				"is_seven_cities": boolString(SevenCities[name]),
			},
			Coords: &coords,
		})
		g.AddEdge(domain.GraphEdge{
			Source: localityID,
			Target: regionID,
			Type:   domain.EdgeLocatedIn,
		})
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
