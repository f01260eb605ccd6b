// Package domain defines the core entities of the document-to-graph
// pipeline: documents, processed documents, jobs, workers, storage nodes,
// graph nodes/edges, and telemetry readings. It is the validation gate at
// every pipeline entry point.
package domain

import "time"

// PromotionState tracks a Document's journey from local replica to the
// content-addressed store.
type PromotionState string

const (
	PromotionPending PromotionState = "pending"
	PromotionStored  PromotionState = "stored"
	PromotionFailed  PromotionState = "failed"
)

// Document is a file held by the Distributed Object Pool.
type Document struct {
	ID         string            `json:"id"` // "file_" + sha256(content)
	Filename   string            `json:"filename"`
	SizeBytes  int64             `json:"size_bytes"`
	CreatedAt  time.Time         `json:"created_at"`
	Replicas   []string          `json:"replicas"` // storage node ids
	Promotion  PromotionState    `json:"promotion"`
	CID        string            `json:"cid,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DocumentClass classifies a ProcessedDocument.
type DocumentClass string

const (
	ClassProject  DocumentClass = "project"
	ClassPatent   DocumentClass = "patent"
	ClassResearch DocumentClass = "research"
	ClassOther    DocumentClass = "other"
)

// Location is a named place with coordinates, as attached to a ProcessedDocument.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// EntityRef is a person/organization/company mention with an optional role.
type EntityRef struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// EntityBlock groups the three entity kinds extracted from a document.
type EntityBlock struct {
	People        []EntityRef `json:"people,omitempty"`
	Organizations []EntityRef `json:"organizations,omitempty"`
	Companies     []EntityRef `json:"companies,omitempty"`
}

// Relationship is an explicit source→target relation mentioned in a document.
type Relationship struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	Relationship string `json:"relationship"`
}

// Funding describes a funding mention.
type Funding struct {
	Amount  string `json:"amount,omitempty"`
	Source  string `json:"source,omitempty"`
	Details string `json:"details,omitempty"`
}

// ContactInfo is a contact block mention.
type ContactInfo struct {
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
}

// DateRef is a bare date mention.
type DateRef struct {
	Date string `json:"date"`
}

// ProjectBlock, PatentBlock and ResearchBlock are the class-specific bodies
// of a ProcessedDocument. Only the block matching DocumentClass is populated.
type ProjectBlock struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

type PatentBlock struct {
	Title      string `json:"title,omitempty"`
	PatentNo   string `json:"patent_no,omitempty"`
	FiledDate  string `json:"filed_date,omitempty"`
}

type ResearchBlock struct {
	Title   string `json:"title,omitempty"`
	Journal string `json:"journal,omitempty"`
	Authors string `json:"authors,omitempty"`
}

// ExtractError records a parse/validation failure that demoted a document
// to DocumentClass "other" rather than aborting the pipeline.
type ExtractError struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// ProcessedDocument is the sum type produced by the Extractor. Exactly one
// of Project, Patent, Research is meaningful, selected by DocumentType.
type ProcessedDocument struct {
	DocumentID   string         `json:"document_id"`
	DocumentType DocumentClass  `json:"document_type"`
	Project      *ProjectBlock  `json:"project,omitempty"`
	Patent       *PatentBlock   `json:"patent,omitempty"`
	Research     *ResearchBlock `json:"research,omitempty"`
	Locations    []Location     `json:"locations,omitempty"`
	Entities     EntityBlock    `json:"entities"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Funding      Funding        `json:"funding"`
	ContactInfo  ContactInfo    `json:"contact_info"`
	Dates        []DateRef      `json:"dates,omitempty"`
	TextContent  string         `json:"text_content"`
	MetadataCID  string         `json:"metadata_cid,omitempty"`
	SimilarDocs  []string       `json:"similar_docs,omitempty"`
	Error        *ExtractError  `json:"error,omitempty"`
}

// JobStatus tracks a Job's position in its state machine.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is a unit of document-ingestion work tracked by the Job Queue.
type Job struct {
	ID           string    `json:"id"`
	DocRef       string    `json:"doc_ref"`
	SubmitterID  string    `json:"submitter_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Status       JobStatus `json:"status"`
	ClaimedBy    string    `json:"claimed_by,omitempty"`
	ClaimHistory []string  `json:"claim_history,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
	Result       string    `json:"result,omitempty"`
}

// Worker is a registered compute node capable of claiming jobs.
type Worker struct {
	ID            string            `json:"id"`
	Capabilities  map[string]string `json:"capabilities"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
}

// StorageNode is a registered holder of Document replicas.
type StorageNode struct {
	ID          string    `json:"id"`
	MountPath   string    `json:"mount_path"`
	CapacityBytes int64   `json:"capacity_bytes"`
	UsedBytes   int64     `json:"used_bytes"`
	LastUpdated time.Time `json:"last_updated"`
	Endpoint    string    `json:"endpoint"`
}

// FreeBytes returns the node's remaining capacity.
func (n StorageNode) FreeBytes() int64 {
	free := n.CapacityBytes - n.UsedBytes
	if free < 0 {
		return 0
	}
	return free
}

// NodeType is the closed enum of Graph Node kinds.
type NodeType string

const (
	NodeResearchPaper    NodeType = "research_paper"
	NodePatent           NodeType = "patent"
	NodeProject          NodeType = "project"
	NodeBuilding         NodeType = "building"
	NodeDataset          NodeType = "dataset"
	NodePerson           NodeType = "person"
	NodeOrganization     NodeType = "organization"
	NodeCompany          NodeType = "company"
	NodeFunding          NodeType = "funding"
	NodeDocument         NodeType = "document"
	NodeLocality         NodeType = "locality"
	NodeRegion           NodeType = "region"
	NodeTelemetryStream  NodeType = "telemetry_stream"
	NodeTelemetryReading NodeType = "telemetry_reading"
	NodeMetric           NodeType = "metric"
	NodeSensor           NodeType = "sensor"
)

// Coordinates is a WGS-84 lat/lng pair in degrees (invariant 7).
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GraphNode is a node in the knowledge graph, keyed idempotently by
// (Type, a stable identifying property — usually Label).
type GraphNode struct {
	ID         string            `json:"id"`
	Type       NodeType          `json:"type"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`
	Coords     *Coordinates      `json:"coords,omitempty"`
	CID        string            `json:"cid,omitempty"`
}

// EdgeType is the closed enum of ~25 relation kinds: lineage, spatial,
// collaboration, business, and telemetry relations.
type EdgeType string

const (
	// Lineage
	EdgeDerivesFrom EdgeType = "DERIVES_FROM"
	EdgeImplements  EdgeType = "IMPLEMENTS"
	EdgeInfluenced  EdgeType = "INFLUENCED"
	EdgeSupersedes  EdgeType = "SUPERSEDES"

	// Spatial
	EdgeLocatedIn EdgeType = "LOCATED_IN"
	EdgeNearby    EdgeType = "NEARBY"

	// Document/graph structure
	EdgeContainsDocument EdgeType = "CONTAINS_DOCUMENT"
	EdgeSimilarTo        EdgeType = "SIMILAR_TO"

	// Collaboration
	EdgeWorkedWith     EdgeType = "WORKED_WITH"
	EdgeCollaboratedOn EdgeType = "COLLABORATED_ON"
	EdgeAdvisedBy      EdgeType = "ADVISED_BY"
	EdgeEmployedBy     EdgeType = "EMPLOYED_BY"
	EdgeMemberOf       EdgeType = "MEMBER_OF"

	// Business
	EdgeMergedWith    EdgeType = "MERGED_WITH"
	EdgeAcquired      EdgeType = "ACQUIRED"
	EdgePartneredWith EdgeType = "PARTNERED_WITH"
	EdgeInvestedIn    EdgeType = "INVESTED_IN"
	EdgeSuppliesTo    EdgeType = "SUPPLIES_TO"
	EdgeFundedBy      EdgeType = "FUNDED_BY"
	EdgeInvolvedIn    EdgeType = "INVOLVED_IN"

	// Telemetry
	EdgeContains  EdgeType = "CONTAINS"
	EdgeMeasures  EdgeType = "MEASURES"
	EdgeReportsTo EdgeType = "REPORTS_TO"
)

// LineageEdgeTypes are the edge types that participate in Git-like lineage
// traversal (§4.11).
var LineageEdgeTypes = map[EdgeType]bool{
	EdgeDerivesFrom: true,
	EdgeImplements:  true,
	EdgeInfluenced:  true,
	EdgeSupersedes:  true,
}

// GraphEdge is an edge in the knowledge graph, keyed idempotently by
// (Source, Target, Type).
type GraphEdge struct {
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Type       EdgeType  `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	Message    string    `json:"message,omitempty"`
	Subtype    string    `json:"subtype,omitempty"`
	DistanceKm float64   `json:"distance_km,omitempty"`
	SourceDocument string `json:"source_document,omitempty"`
}

// TelemetryReading is an immutable time-series fact ingested by a telemetry
// ingestor.
type TelemetryReading struct {
	ID        string    `json:"id"` // "{stream_id}_{timestamp}"
	StreamID  string    `json:"stream_id"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	SourceURL string    `json:"source_url"`
	License   string    `json:"license"`
	// PayloadLocation is either a CID (if pinned to the object store) or a
	// local filesystem path (if kept in the time-partitioned local store).
	PayloadLocation string `json:"payload_location,omitempty"`
	Locality        string `json:"locality,omitempty"`
}
