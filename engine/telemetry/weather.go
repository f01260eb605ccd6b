package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"golang.org/x/time/rate"
)

// WeatherVariables are the forecast fields fetched per grid point (§4.8).
var WeatherVariables = []string{"temperature", "precipitation", "wind_speed"}

// WeatherIngestor fetches gridded forecasts for the seven canonical city
// centres.
type WeatherIngestor struct {
	APIBase    string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewWeatherIngestor creates an ingestor polling every 60 minutes (§4.8),
// rate-limited to 2 requests/second across the seven grid-point fetches.
func NewWeatherIngestor(apiBase string) *WeatherIngestor {
	return &WeatherIngestor{
		APIBase:    apiBase,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}
}

func (w *WeatherIngestor) Name() string { return "weather" }

// FetchData fetches the nearest-in-time forecast value for each
// configured variable, at each of the seven cities.
func (w *WeatherIngestor) FetchData(ctx context.Context) ([]domain.TelemetryReading, error) {
	now := time.Now().UTC()
	var readings []domain.TelemetryReading
	for city, coords := range SevenCities {
		if w.Limiter != nil {
			if err := w.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		url := fmt.Sprintf("%s/forecast?lat=%f&lng=%f", w.APIBase, coords.Lat, coords.Lng)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := w.HTTPClient.Do(req)
		if err != nil {
			continue // a single grid point's transient failure should not abort the whole fetch
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}

		var grid struct {
			Times  []string             `json:"times"`
			Values map[string][]float64 `json:"values"`
		}
		if err := json.Unmarshal(body, &grid); err != nil {
			continue
		}

		idx := nearestTimeIndex(grid.Times, now)
		if idx < 0 {
			continue
		}
		for _, variable := range WeatherVariables {
			series, ok := grid.Values[variable]
			if !ok || idx >= len(series) {
				continue
			}
			readings = append(readings, domain.TelemetryReading{
				ID:        fmt.Sprintf("weather_%s_%s_%d", city, variable, now.Unix()),
				StreamID:  "weather_" + variable,
				Value:     series[idx],
				Unit:      variable,
				Lat:       coords.Lat,
				Lng:       coords.Lng,
				Timestamp: now,
				SourceURL: url,
				Locality:  city,
			})
		}
	}
	return readings, nil
}

// nearestTimeIndex returns the index in times whose parsed timestamp is
// closest to now, or -1 if times is empty or unparseable.
func nearestTimeIndex(times []string, now time.Time) int {
	best := -1
	bestDelta := math.MaxFloat64
	for i, ts := range times {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		delta := math.Abs(now.Sub(t).Seconds())
		if delta < bestDelta {
			bestDelta = delta
			best = i
		}
	}
	return best
}
