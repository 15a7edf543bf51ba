package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID            string
	Name          string
	Phase         string
	ReassessCount int
	WUTotal       int
	WUInitialized bool
	Version       int
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Gate struct {
	ProjectID   string
	GateID      string
	Category    string
	Label       string
	Remediation string
	Passed      bool
	Required    bool
	UpdatedAt   time.Time
}

type Classification struct {
	ProjectID    string
	PII          string
	PHI          string
	Financial    string
	Legal        string
	MinorData    string
	Jurisdiction string
	Regulations  []string
	AIExposure   string
	UpdatedAt    time.Time
}

type PhaseTransition struct {
	ID            string
	ProjectID     string
	FromPhase     string
	ToPhase       string
	Kind          string
	Level         int
	Reason        string
	ReviewSummary string
	Actor         string
	CreatedAt     time.Time
}

type ProjectArtifact struct {
	ID           string
	ProjectID    string
	Phase        string
	Name         string
	Content      string
	Status       string
	CreatedAt    time.Time
	SupersededAt *time.Time
}

type Scope struct {
	ID               string
	ProjectID        string
	Tier             int
	ParentScopeID    *string
	Name             string
	Purpose          string
	Boundary         string
	Assumptions      []string
	AssumptionStatus string
	Status           string
	AllocatedWU      int
	VerifiedWU       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Deliverable struct {
	ID                    string
	ProjectID             string
	ScopeID               string
	Name                  string
	Description           string
	DoDEvidenceSpec       string
	DoDVerificationMethod string
	DoDQualityBar         string
	DoDFailureModes       string
	UpstreamDeps          []string
	DependencyType        string
	Status                string
	DMAICPhase            string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type IntegrityReport struct {
	ID        string
	ProjectID string
	RunAt     time.Time
	AllPassed bool
	Checks    map[string]IntegrityCheck
	Totals    map[string]int
}

type IntegrityCheck struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

type CCSIncident struct {
	ID                   string
	ProjectID            string
	IncidentNumber       string
	Status               string
	Phase                string
	CredentialType       string
	CredentialName       string
	ExposureSource       string
	ExposureDescription  string
	ImpactAssessment     string
	AffectedSystems      []string
	ReportedBy           string
	PhaseCompletedAt     map[string]time.Time
	AttestedBy           string
	AttestationStatement string
	AttestedAt           *time.Time
	CreatedAt            time.Time
	ResolvedAt           *time.Time
}

type CCSArtifact struct {
	ID           string
	IncidentID   string
	ArtifactType string
	Title        string
	Content      string
	ObjectKey    string
	CreatedBy    string
	CreatedAt    time.Time
}

type CCSVerificationTest struct {
	ID         string
	IncidentID string
	TestType   string
	Detail     string
	Passed     bool
	RecordedBy string
	RecordedAt time.Time
}

type ReconciliationItem struct {
	ID        string
	ProjectID string
	List      string
	Item      string
	Position  int
	CreatedAt time.Time
}

type AuditEvent struct {
	ID        string
	ProjectID string
	EventType string
	Actor     string
	Detail    map[string]any
	CreatedAt time.Time
}

type WUAuditEntry struct {
	ID        string
	ProjectID string
	ScopeID   string
	Action    string
	Amount    int
	Detail    string
	Actor     string
	CreatedAt time.Time
}

type ExposureLogEntry struct {
	ID        string
	ProjectID string
	Exposure  string
	Allowed   bool
	Reason    string
	CreatedAt time.Time
}
