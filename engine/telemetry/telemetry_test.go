package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessReadingRejectsOutOfBounds(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(nil, dir, graph.New(), nil)

	err := p.ProcessReading(context.Background(), domain.TelemetryReading{
		ID: "r1", StreamID: "weather_temperature", Lat: 40.00, Lng: -74.00, Timestamp: time.Now(),
	})
	require.Error(t, err)
}

func TestProcessReadingAcceptsInBoundsAndWiresGraph(t *testing.T) {
	dir := t.TempDir()
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "loc-norfolk", Type: domain.NodeLocality, Label: "Norfolk"})
	p := NewProcessor(nil, dir, g, nil)

	err := p.ProcessReading(context.Background(), domain.TelemetryReading{
		ID: "r2", StreamID: "weather_temperature", Lat: 36.85, Lng: -76.28,
		Timestamp: time.Now(), Locality: "Norfolk", License: "CC0",
	})
	require.NoError(t, err)

	edges := g.Edges("r2")
	assert.NotEmpty(t, edges)
}

func TestProcessReadingRejectsDisallowedLicense(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(nil, dir, graph.New(), nil)

	err := p.ProcessReading(context.Background(), domain.TelemetryReading{
		ID: "r3", StreamID: "traffic", Lat: 36.85, Lng: -76.28,
		Timestamp: time.Now(), License: "proprietary",
	})
	require.Error(t, err)
}

func TestSchedulerRunsDueTasks(t *testing.T) {
	s := NewScheduler(nil)
	ran := 0
	s.Register("test-task", time.Hour, func(ctx context.Context) error {
		ran++
		return nil
	})
	s.RunPending(context.Background())
	assert.Equal(t, 1, ran)

	// Immediately re-running should not fire again (next run is an hour out).
	s.RunPending(context.Background())
	assert.Equal(t, 1, ran)
}
