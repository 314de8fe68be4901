// Package domain defines the core types of the document-understanding
// pipeline: documents, the typed entity/edge knowledge graph, citations,
// risks, chat sessions, and extraction jobs. It acts as the validation gate
// at pipeline entry points and the shared vocabulary every other package
// in the module builds on.
package domain

import "time"

// DocStatus is a position in the document processing lattice. Status only
// advances monotonically except for the escape hatch to StatusFailed.
type DocStatus string

const (
	StatusPending     DocStatus = "pending"
	StatusUploaded    DocStatus = "uploaded"
	StatusExtracting  DocStatus = "extracting"
	StatusExtracted   DocStatus = "extracted"
	StatusNormalizing DocStatus = "normalizing"
	StatusNormalized  DocStatus = "normalized"
	StatusIndexing    DocStatus = "indexing"
	StatusIndexed     DocStatus = "indexed"
	StatusFailed      DocStatus = "failed"
)

// statusRank orders the lattice for monotonicity checks. StatusFailed is
// deliberately excluded: it is reachable from any rank, not a rank itself.
var statusRank = map[DocStatus]int{
	StatusPending:     0,
	StatusUploaded:    1,
	StatusExtracting:  2,
	StatusExtracted:   3,
	StatusNormalizing: 4,
	StatusNormalized:  5,
	StatusIndexing:    6,
	StatusIndexed:     7,
}

// CanAdvance reports whether moving from 'from' to 'to' respects the
// status lattice. Moving to StatusFailed is always allowed.
func CanAdvance(from, to DocStatus) bool {
	if to == StatusFailed {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr >= fr
}

// AtLeast reports whether status s has reached at least the rank of min.
func AtLeast(s, min DocStatus) bool {
	if s == StatusFailed {
		return min == StatusFailed
	}
	sr, ok1 := statusRank[s]
	mr, ok2 := statusRank[min]
	return ok1 && ok2 && sr >= mr
}

// MediaType is a declared content type accepted at ingestion.
type MediaType string

const (
	MediaPDF  MediaType = "application/pdf"
	MediaDOC  MediaType = "application/msword"
	MediaDOCX MediaType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MediaPPT  MediaType = "application/vnd.ms-powerpoint"
	MediaPPTX MediaType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MediaODT  MediaType = "application/vnd.oasis.opendocument.text"
	MediaODP  MediaType = "application/vnd.oasis.opendocument.presentation"
	MediaJPEG MediaType = "image/jpeg"
	MediaPNG  MediaType = "image/png"
	MediaZIP  MediaType = "application/zip"
	MediaXLS  MediaType = "application/vnd.ms-excel"
	MediaXLSX MediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MediaCSV  MediaType = "text/csv"
)

// AcceptedMediaTypes is the closed set Ingestion will accept.
var AcceptedMediaTypes = map[MediaType]bool{
	MediaPDF: true, MediaDOC: true, MediaDOCX: true, MediaPPT: true, MediaPPTX: true,
	MediaODT: true, MediaODP: true, MediaJPEG: true, MediaPNG: true, MediaZIP: true,
	MediaXLS: true, MediaXLSX: true, MediaCSV: true,
}

// Extraction is the parsed and structured output of one extraction run.
type Extraction struct {
	Markdown             string            `json:"markdown"`
	StructuredExtraction *StructuredRecord `json:"structured_extraction,omitempty"`
	Tables               []Table           `json:"tables,omitempty"`
	KeyValues            map[string]string `json:"key_values,omitempty"`
	TotalPages           int               `json:"total_pages"`
	Confidence           float64           `json:"confidence"`
	ExtractionID         string            `json:"extraction_id"`
}

// StructuredRecord is the schema-shaped payload returned by the remote
// extraction call; Entities/Summary are the two shapes the normalizer
// cascade understands. Raw holds anything else verbatim so it is never
// silently discarded.
type StructuredRecord struct {
	Entities []RawEntity    `json:"entities,omitempty"`
	Summary  string         `json:"summary,omitempty"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// RawEntity is an entity as produced by the remote extraction service,
// before type-mapping into the closed Entity.Type set.
type RawEntity struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Citation   *Citation      `json:"citation,omitempty"`
}

// Table is one HTML or pipe-delimited table recovered from markdown.
type Table struct {
	ID      string     `json:"id"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Page    int        `json:"page,omitempty"`
}

// Document is one uploaded file, or a ZIP of files, moving through the
// pipeline. The pipeline coordinator is the sole owner of Status.
type Document struct {
	ID           string      `json:"id"`
	Filename     string      `json:"filename"`
	FilePath     string      `json:"file_path"`
	SizeBytes    int64       `json:"size_bytes"`
	MediaType    MediaType   `json:"media_type"`
	Status       DocStatus   `json:"status"`
	ExtractionID string      `json:"extraction_id,omitempty"`
	GraphID      string      `json:"graph_id,omitempty"`
	EntityCount  int         `json:"entity_count"`
	EdgeCount    int         `json:"edge_count"`
	Extraction   *Extraction `json:"extraction,omitempty"`
	PageCount    int         `json:"page_count"`
	Confidence   float64     `json:"confidence"`
	Error        string      `json:"error,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// EntityType is a member of the closed entity taxonomy.
type EntityType string

const (
	EntityCompany    EntityType = "Company"
	EntitySubsidiary EntityType = "Subsidiary"
	EntityLoan       EntityType = "Loan"
	EntityInvoice    EntityType = "Invoice"
	EntityMetric     EntityType = "Metric"
	EntityClause     EntityType = "Clause"
	EntityInstrument EntityType = "Instrument"
	EntityVendor     EntityType = "Vendor"
	EntityPerson     EntityType = "Person"
	EntityLocation   EntityType = "Location"
)

// ValidEntityTypes is the closed entity-type set.
var ValidEntityTypes = map[EntityType]bool{
	EntityCompany: true, EntitySubsidiary: true, EntityLoan: true, EntityInvoice: true,
	EntityMetric: true, EntityClause: true, EntityInstrument: true, EntityVendor: true,
	EntityPerson: true, EntityLocation: true,
}

// PropValue is a flat scalar, string, or null property value.
type PropValue = any

// Citation anchors an Entity, Edge, or Risk back to its evidentiary location.
type Citation struct {
	Page       int      `json:"page"`
	Section    string   `json:"section,omitempty"`
	TableID    string   `json:"table_id,omitempty"`
	Cell       string   `json:"cell,omitempty"`
	ClauseID   string   `json:"clause_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Entity is one node in a document's knowledge graph.
type Entity struct {
	ID           string               `json:"id"`
	Type         EntityType           `json:"type"`
	Name         string               `json:"name"`
	DisplayType  string               `json:"display_type,omitempty"`
	OriginalType string               `json:"original_type,omitempty"`
	Properties   map[string]PropValue `json:"properties"`
	Citations    []Citation           `json:"citations,omitempty"`
	Embedding    []float32            `json:"-"`
	DocumentID   string               `json:"document_id"`
	GraphID      string               `json:"graph_id"`
}

// EdgeType is a member of the closed relation taxonomy.
type EdgeType string

const (
	EdgeHasLoan             EdgeType = "HAS_LOAN"
	EdgeOwns                EdgeType = "OWNS"
	EdgePartyTo             EdgeType = "PARTY_TO"
	EdgeHasMetric           EdgeType = "HAS_METRIC"
	EdgeContains            EdgeType = "CONTAINS"
	EdgeReportsTo           EdgeType = "REPORTS_TO"
	EdgeIssuedBy            EdgeType = "ISSUED_BY"
	EdgeGuarantees          EdgeType = "GUARANTEES"
	EdgeRelatedTo           EdgeType = "RELATED_TO"
	EdgeLocatedIn           EdgeType = "LOCATED_IN"
	EdgeWorksFor            EdgeType = "WORKS_FOR"
	EdgeSubsidiaryOf        EdgeType = "SUBSIDIARY_OF"
	EdgeSuppliesTo          EdgeType = "SUPPLIES_TO"
	EdgeMentionedIn         EdgeType = "MENTIONED_IN"
	EdgeAcquired            EdgeType = "ACQUIRED"
	EdgeInvestedIn          EdgeType = "INVESTED_IN"
	EdgePartnersWith        EdgeType = "PARTNERS_WITH"
	EdgeProvidesServiceFor  EdgeType = "PROVIDES_SERVICE_FOR"
	EdgeReceivesServiceFrom EdgeType = "RECEIVES_SERVICE_FROM"
	EdgeOwes                EdgeType = "OWES"
	EdgeHasRisk             EdgeType = "HAS_RISK"
	EdgeRegulatedBy         EdgeType = "REGULATED_BY"
	EdgeFinancedBy          EdgeType = "FINANCED_BY"
	EdgeReportsOn           EdgeType = "REPORTS_ON"
	EdgeReferences          EdgeType = "REFERENCES"
	EdgeAssociatedWith      EdgeType = "ASSOCIATED_WITH"
)

// ValidEdgeTypes is the closed edge-type set.
var ValidEdgeTypes = map[EdgeType]bool{
	EdgeHasLoan: true, EdgeOwns: true, EdgePartyTo: true, EdgeHasMetric: true,
	EdgeContains: true, EdgeReportsTo: true, EdgeIssuedBy: true, EdgeGuarantees: true,
	EdgeRelatedTo: true, EdgeLocatedIn: true, EdgeWorksFor: true, EdgeSubsidiaryOf: true,
	EdgeSuppliesTo: true, EdgeMentionedIn: true, EdgeAcquired: true, EdgeInvestedIn: true,
	EdgePartnersWith: true, EdgeProvidesServiceFor: true, EdgeReceivesServiceFrom: true,
	EdgeOwes: true, EdgeHasRisk: true, EdgeRegulatedBy: true, EdgeFinancedBy: true,
	EdgeReportsOn: true, EdgeReferences: true, EdgeAssociatedWith: true,
}

// Edge is one directed relationship between two entities in the same graph.
type Edge struct {
	ID         string               `json:"id"`
	Source     string               `json:"source_id"`
	Target     string               `json:"target_id"`
	Type       EdgeType             `json:"type"`
	Properties map[string]PropValue `json:"properties,omitempty"`
	GraphID    string               `json:"graph_id"`
}

// Severity classifies how urgently a Risk needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Subgraph is a projection of entities and edges relevant to one Risk.
type Subgraph struct {
	Entities []Entity `json:"entities"`
	Edges    []Edge   `json:"edges"`
}

// Risk is one detected anomaly, rule violation, or LLM-flagged concern.
type Risk struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Severity          Severity   `json:"severity"`
	Description       string     `json:"description"`
	AffectedEntityIDs []string   `json:"affected_entity_ids"`
	Citations         []Citation `json:"citations,omitempty"`
	Score             float64    `json:"score"`
	Threshold         float64    `json:"threshold,omitempty"`
	ActualValue       float64    `json:"actual_value,omitempty"`
	Recommendation    string     `json:"recommendation"`
	GraphData         *Subgraph  `json:"graph_data,omitempty"`
	DocumentID        string     `json:"document_id"`
	GraphID           string     `json:"graph_id"`
	DetectedAt        time.Time  `json:"detected_at"`
}

// ChatRole distinguishes user turns from assistant turns.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatSession is one conversation thread, optionally scoped to documents.
type ChatSession struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DocumentIDs  []string  `json:"document_ids,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// ChatMessage is one turn within a ChatSession.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	GraphData *Subgraph `json:"graph_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobStatus tracks an asynchronous extraction job.
type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one remote extraction job: a synchronous wrapper, or one unit of
// a ZIP fan-out.
type Job struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Status      JobStatus  `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	ResultPath  string     `json:"result_path,omitempty"`
	SchemaLabel string     `json:"schema_label,omitempty"`
}

// Progress is the snapshot exposed to SSE and polling observers of one
// document's extraction. Only the orchestrator mutates it.
type Progress struct {
	Status    JobStatus `json:"status"`
	Total     int       `json:"total"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}

// Done reports whether the progress record represents a terminal state.
func (p Progress) Done() bool {
	return p.Status == JobCompleted || p.Status == JobFailed
}
