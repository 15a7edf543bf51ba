package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultScope       ResultType = "scope"
	ResultDeliverable ResultType = "deliverable"
	ResultIncident    ResultType = "incident"
	ResultAuditEvent  ResultType = "audit_event"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	ScopeID   string     `json:"scopeId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push governance entities into a search index.
type Indexer interface {
	IndexScope(s ScopeRecord) error
	IndexDeliverable(d DeliverableRecord) error
	IndexIncident(i IncidentRecord) error
	IndexAuditEvent(e AuditEventRecord) error
	DeleteScope(id string) error
	DeleteDeliverable(id string) error
}

// ScopeRecord is the data we index for a scope.
type ScopeRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Purpose   string `json:"purpose"`
}

// DeliverableRecord is the data we index for a deliverable.
type DeliverableRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ScopeID     string `json:"scopeId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// IncidentRecord is the data we index for a credential incident.
type IncidentRecord struct {
	ID             string `json:"id"`
	ProjectID      string `json:"projectId"`
	IncidentNumber string `json:"incidentNumber"`
	Status         string `json:"status"`
	CredentialName string `json:"credentialName"`
}

// AuditEventRecord is the data we index for an audit event.
type AuditEventRecord struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	EventType string `json:"eventType"`
	Actor     string `json:"actor"`
}
