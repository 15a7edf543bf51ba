package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderDashboardHTML(t *testing.T) {
	data := DashboardData{
		ProjectName:   "Payment Rework",
		ProjectID:     "proj_1",
		Phase:         "EXECUTE",
		Kingdom:       "REALIZATION",
		CCSBlocked:    true,
		Conservation:  Conservation{Total: 100, Formula: 40, Verified: 30, Delta: 30, Valid: true},
		Readiness:     []ScopeReadiness{{ScopeName: "Checkout", L: 1, P: 0.5, V: 0.6, R: 0.3, AllocatedWU: 40, VerifiedWU: 10}},
		Divergences:   []string{`CLAIMED "login api" is not VERIFIED`},
		RecentEvents:  []AuditLine{{EventType: "PHASE_ADVANCED", Actor: "usr_1", CreatedAt: time.Now()}},
		GeneratedAt:   time.Now(),
		ReassessCount: 2,
	}

	html, err := RenderDashboardHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"Payment Rework",
		"EXECUTE",
		"EXECUTION BLOCKED",
		"0.300",
		"CLAIMED &#34;login api&#34; is not VERIFIED",
		"PHASE_ADVANCED",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("dashboard html missing %q", want)
		}
	}
}

func TestRenderDashboardHTMLEmpty(t *testing.T) {
	html, err := RenderDashboardHTML(DashboardData{ProjectName: "Empty", Phase: "BRAINSTORM", Kingdom: "IDEATION", GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "No scopes defined.") {
		t.Error("expected empty readiness placeholder")
	}
	if !strings.Contains(html, "No active credential incidents.") {
		t.Error("expected clear banner")
	}
}

func TestRenderIncidentHTML(t *testing.T) {
	resolved := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	data := IncidentData{
		ProjectName:         "Payment Rework",
		IncidentNumber:      "CCS-2026-03-01-001",
		Status:              "RESOLVED",
		Phase:               "UNLOCK",
		CredentialType:      "API_KEY",
		CredentialName:      "stripe-live-key",
		ExposureSource:      "git history",
		ExposureDescription: "Key committed to a public branch",
		AffectedSystems:     []string{"billing", "webhooks"},
		Artifacts:           []IncidentArtifact{{ArtifactType: "CCS-01", Title: "Exposure Report", CreatedAt: time.Now()}},
		Tests:               []IncidentTest{{TestType: "OLD_REJECTED", Passed: true, Detail: "401 from API", RecordedAt: time.Now()}},
		AttestedBy:          "usr_2",
		Statement:           "No further exposure paths exist.",
		ReportedAt:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ResolvedAt:          &resolved,
		GeneratedAt:         time.Now(),
	}

	html, err := RenderIncidentHTML(data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"CCS-2026-03-01-001",
		"stripe-live-key",
		"billing, webhooks",
		"Exposure Report",
		"OLD_REJECTED",
		"PASSED",
		"No further exposure paths exist.",
		"Resolved Mar 2, 2026",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("incident html missing %q", want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Payment Rework dashboard", "Payment-Rework-dashboard"},
		{"CCS-2026-03-01-001", "CCS-2026-03-01-001"},
		{"///", "report"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b+c")
	if got != "a%20b%2Bc" {
		t.Errorf("got %q", got)
	}
}
