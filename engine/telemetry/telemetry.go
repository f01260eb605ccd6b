// Package telemetry implements the Telemetry Framework (§4.8): an
// ingestor interface, the shared processReading pipeline (region gating,
// PII screening, license allow-listing, OSA/local persistence, graph
// wiring), and counters for rejected readings.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/graph"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/pkg/metrics"
)

// Ingestor is the collapsed inheritance hierarchy (§9): fetchData plus a
// name, with processReading supplied externally rather than inherited.
type Ingestor interface {
	Name() string
	FetchData(ctx context.Context) ([]domain.TelemetryReading, error)
}

// BoundingBox is the region of interest readings are scoped to (Glossary).
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// HamptonRoadsBoundingBox is the region of interest (§2C).
var HamptonRoadsBoundingBox = BoundingBox{
	MinLat: 36.5, MaxLat: 37.3,
	MinLng: -76.8, MaxLng: -75.8,
}

// InBounds reports whether (lat, lng) falls within b.
func (b BoundingBox) InBounds(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// DefaultPIIPatterns flags payloads carrying obvious personal data; a
// reading matching any is dropped rather than stored (§7's PIIDetected).
var DefaultPIIPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                       // SSN-shaped
	regexp.MustCompile(`(?i)\b[\w.+-]+@[\w-]+\.[a-z]{2,}\b`),          // email
	regexp.MustCompile(`\b\d{3}[\s.-]?\d{3}[\s.-]?\d{4}\b`),           // phone-shaped
}

// DefaultLicenseAllowList is the closed set of licenses telemetry
// ingestors are permitted to store (§7's LicenseNotAllowed).
var DefaultLicenseAllowList = map[string]bool{
	"CC0":        true,
	"CC-BY-4.0":  true,
	"public-domain": true,
	"ODbL":       true,
}

// Processor runs the shared processReading pipeline: region/PII/license
// gating, persistence, and graph wiring.
type Processor struct {
	Bounds      BoundingBox
	PIIPatterns []*regexp.Regexp
	Licenses    map[string]bool
	OSA         *osa.Adapter
	LocalRoot   string // used when OSA is unavailable or pinning fails
	Graph       *graph.Graph
	Metrics     *metrics.Registry

	rejected *metrics.Counter
}

// NewProcessor creates a Processor with the Hampton Roads defaults.
func NewProcessor(store *osa.Adapter, localRoot string, g *graph.Graph, reg *metrics.Registry) *Processor {
	p := &Processor{
		Bounds:      HamptonRoadsBoundingBox,
		PIIPatterns: DefaultPIIPatterns,
		Licenses:    DefaultLicenseAllowList,
		OSA:         store,
		LocalRoot:   localRoot,
		Graph:       g,
		Metrics:     reg,
	}
	if reg != nil {
		p.rejected = reg.Counter("telemetry_readings_rejected_total", "Telemetry readings dropped by the ingestion gate")
	}
	return p
}

// Run calls ingestor.FetchData and processes every reading returned,
// returning the count successfully processed (§4.8).
func (p *Processor) Run(ctx context.Context, ingestor Ingestor) (int, error) {
	readings, err := ingestor.FetchData(ctx)
	if err != nil {
		return 0, fmt.Errorf("telemetry: %s: fetch: %w", ingestor.Name(), err)
	}
	count := 0
	for _, r := range readings {
		if err := p.ProcessReading(ctx, r); err != nil {
			continue // rejected readings are silently dropped, counter incremented (§7)
		}
		count++
	}
	return count, nil
}

func (p *Processor) reject(reason string) error {
	if p.rejected != nil {
		p.rejected.Inc()
	}
	return fmt.Errorf("telemetry: rejected (%s)", reason)
}

// ProcessReading applies the region/PII/license gate, persists the
// reading (OSA or local time-partitioned directory), and wires
// {telemetry_stream CONTAINS reading, reading LOCATED_IN locality} edges
// when a graph is configured (§4.8).
func (p *Processor) ProcessReading(ctx context.Context, r domain.TelemetryReading) error {
	if !p.Bounds.InBounds(r.Lat, r.Lng) {
		return p.reject("out_of_bounds")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("telemetry: marshal reading %s: %w", r.ID, err)
	}
	for _, re := range p.PIIPatterns {
		if re.Match(payload) {
			return p.reject("pii_detected")
		}
	}
	if r.License != "" && !p.Licenses[r.License] {
		return p.reject("license_not_allowed")
	}

	if err := p.persist(ctx, &r, payload); err != nil {
		return fmt.Errorf("telemetry: persist reading %s: %w", r.ID, err)
	}

	if p.Graph != nil {
		p.wireGraph(r)
	}
	return nil
}

func (p *Processor) persist(ctx context.Context, r *domain.TelemetryReading, payload []byte) error {
	if p.OSA != nil {
		cid, err := p.OSA.Put(ctx, payload)
		if err == nil {
			r.PayloadLocation = cid
			return nil
		}
	}
	sum := sha256.Sum256(payload)
	digest := hex.EncodeToString(sum[:])
	dir := filepath.Join(p.LocalRoot, r.StreamID, r.Timestamp.Format("2006/01/02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, digest+".json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return err
	}
	r.PayloadLocation = path
	return nil
}

func (p *Processor) wireGraph(r domain.TelemetryReading) {
	streamNode := p.Graph.GetOrCreateNode(domain.NodeTelemetryStream, r.StreamID, func() domain.GraphNode {
		return domain.GraphNode{ID: "stream_" + r.StreamID, Type: domain.NodeTelemetryStream, Label: r.StreamID}
	})
	readingNode := domain.GraphNode{
		ID:    r.ID,
		Type:  domain.NodeTelemetryReading,
		Label: r.ID,
		Coords: &domain.Coordinates{Lat: r.Lat, Lng: r.Lng},
	}
	p.Graph.UpsertNode(readingNode)
	p.Graph.AddEdge(domain.GraphEdge{Source: streamNode.ID, Target: readingNode.ID, Type: domain.EdgeContains, Timestamp: time.Now().UTC()})

	if r.Locality != "" {
		if localityID, ok := p.Graph.FindByLabel(domain.NodeLocality, r.Locality); ok {
			p.Graph.AddEdge(domain.GraphEdge{Source: readingNode.ID, Target: localityID, Type: domain.EdgeLocatedIn})
		}
	}
}
