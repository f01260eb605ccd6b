package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/spatial"
	"golang.org/x/time/rate"
)

// SevenCities is the canonical list of Hampton Roads localities used for
// nearest-city snapping (Glossary's "Seven cities").
var SevenCities = map[string]domain.Coordinates{
	"Norfolk":        {Lat: 36.8508, Lng: -76.2859},
	"Virginia Beach": {Lat: 36.8529, Lng: -75.9780},
	"Chesapeake":     {Lat: 36.7682, Lng: -76.2875},
	"Portsmouth":     {Lat: 36.8354, Lng: -76.2983},
	"Suffolk":        {Lat: 36.7282, Lng: -76.5836},
	"Hampton":        {Lat: 37.0299, Lng: -76.3452},
	"Newport News":   {Lat: 37.0871, Lng: -76.4730},
}

// congestionScores maps a qualitative congestion label to a numeric
// count, used when no numeric property is present on the feature (§4.8).
var congestionScores = map[string]float64{
	"high":   100,
	"medium": 50,
	"low":    20,
}

// trafficCountProperties is the prioritised list of GeoJSON feature
// properties checked for a numeric count (§4.8).
var trafficCountProperties = []string{"vehicle_count", "volume", "count", "aadt"}

// TrafficIngestor fetches region-scoped GeoJSON traffic-count feeds.
type TrafficIngestor struct {
	FeedURL    string
	HTTPClient *http.Client
	Bounds     BoundingBox
	Limiter    *rate.Limiter
}

// NewTrafficIngestor creates an ingestor polling feedURL every 15 minutes
// (§4.8's scheduling), rate-limited to one feed fetch per 10 seconds so a
// misconfigured scheduler can't hammer the upstream feed.
func NewTrafficIngestor(feedURL string) *TrafficIngestor {
	return &TrafficIngestor{
		FeedURL:    feedURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Bounds:     HamptonRoadsBoundingBox,
		Limiter:    rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

func (t *TrafficIngestor) Name() string { return "traffic" }

type geoJSONFeatureCollection struct {
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
}

// FetchData fetches the configured GeoJSON feed and normalises each
// point feature within the bounding box into a reading.
func (t *TrafficIngestor) FetchData(ctx context.Context) ([]domain.TelemetryReading, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.FeedURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("traffic: fetch feed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var fc geoJSONFeatureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("traffic: parse geojson: %w", err)
	}

	now := time.Now().UTC()
	var readings []domain.TelemetryReading
	for _, f := range fc.Features {
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		lng, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if !t.Bounds.InBounds(lat, lng) {
			continue
		}
		count, ok := extractTrafficCount(f.Properties)
		if !ok {
			continue
		}
		nearestCity, _ := spatial.NearestCity(domain.Coordinates{Lat: lat, Lng: lng}, SevenCities)
		readings = append(readings, domain.TelemetryReading{
			ID:        fmt.Sprintf("traffic_%d_%d", int64(lat*1e6), int64(lng*1e6)),
			StreamID:  "traffic",
			Value:     count,
			Unit:      "vehicles",
			Lat:       lat,
			Lng:       lng,
			Timestamp: now,
			SourceURL: t.FeedURL,
			Locality:  nearestCity,
		})
	}
	return readings, nil
}

func extractTrafficCount(props map[string]any) (float64, bool) {
	for _, key := range trafficCountProperties {
		if v, ok := props[key]; ok {
			if n, ok := v.(float64); ok {
				return n, true
			}
		}
	}
	if label, ok := props["congestion"].(string); ok {
		if score, ok := congestionScores[label]; ok {
			return score, true
		}
	}
	return 0, false
}
