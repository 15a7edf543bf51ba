// Package export renders governance dashboards and incident reports to PDF.
package export

import (
	"errors"
	"time"
)

// DashboardData is everything the dashboard PDF shows.
type DashboardData struct {
	ProjectName     string
	ProjectID       string
	Phase           string
	Kingdom         string
	CCSBlocked      bool
	Conservation    Conservation
	Readiness       []ScopeReadiness
	Divergences     []string
	IsReconciled    bool
	RecentEvents    []AuditLine
	GeneratedAt     time.Time
	ReassessCount   int
	ActiveIncidents int
}

// Conservation is the work-unit budget snapshot.
type Conservation struct {
	Total    int
	Formula  int
	Verified int
	Delta    int
	Valid    bool
}

// ScopeReadiness is one row of the readiness table.
type ScopeReadiness struct {
	ScopeName   string
	L           float64
	P           float64
	V           float64
	R           float64
	AllocatedWU int
	VerifiedWU  int
}

// AuditLine is one row of the recent-activity table.
type AuditLine struct {
	EventType string
	Actor     string
	CreatedAt time.Time
}

// IncidentData is everything the incident report PDF shows.
type IncidentData struct {
	ProjectName         string
	IncidentNumber      string
	Status              string
	Phase               string
	CredentialType      string
	CredentialName      string
	ExposureSource      string
	ExposureDescription string
	ImpactAssessment    string
	AffectedSystems     []string
	Artifacts           []IncidentArtifact
	Tests               []IncidentTest
	AttestedBy          string
	Statement           string
	ReportedAt          time.Time
	ResolvedAt          *time.Time
	GeneratedAt         time.Time
}

// IncidentArtifact is one artifact row.
type IncidentArtifact struct {
	ArtifactType string
	Title        string
	CreatedAt    time.Time
}

// IncidentTest is one verification-test row.
type IncidentTest struct {
	TestType   string
	Detail     string
	Passed     bool
	RecordedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
