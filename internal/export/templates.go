package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var (
	dashboardTemplate *template.Template
	incidentTemplate  *template.Template
)

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%.3f", f)
		},
	}

	dashboardTemplate = template.Must(template.New("dashboard").Funcs(funcMap).Parse(dashboardHTML))
	incidentTemplate = template.Must(template.New("incident").Funcs(funcMap).Parse(incidentHTML))
}

// RenderDashboardHTML renders the project dashboard report.
func RenderDashboardHTML(data DashboardData) (string, error) {
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderIncidentHTML renders the credential incident report.
func RenderIncidentHTML(data IncidentData) (string, error) {
	var buf bytes.Buffer
	if err := incidentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.ProjectName}} Dashboard</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; border-bottom: 1px solid #ccc; padding-bottom: 0.3rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; font-size: 0.9em; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
    .badge { display: inline-block; padding: 0.15rem 0.5rem; border-radius: 3px; font-size: 0.85em; }
    .ok { background: #e6f4ea; color: #1e7e34; }
    .bad { background: #fdecea; color: #cc3300; }
    .divergence { background: #fff8e1; padding: 0.5rem 0.8rem; margin: 0.3rem 0; border-left: 3px solid #f0a000; font-size: 0.9em; }
  </style>
</head>
<body>
  <h1>{{.ProjectName}}</h1>
  <div class="meta">
    Phase {{.Phase}} ({{.Kingdom}}) | Reassessments: {{.ReassessCount}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}
  </div>

  {{if .CCSBlocked}}
  <p><span class="badge bad">EXECUTION BLOCKED</span> {{.ActiveIncidents}} active credential incident(s).</p>
  {{else}}
  <p><span class="badge ok">CLEAR</span> No active credential incidents.</p>
  {{end}}

  <h2>Work Unit Conservation</h2>
  <table>
    <tr><th>Total</th><th>Formula</th><th>Verified</th><th>Delta</th><th>Status</th></tr>
    <tr>
      <td>{{.Conservation.Total}}</td>
      <td>{{.Conservation.Formula}}</td>
      <td>{{.Conservation.Verified}}</td>
      <td>{{.Conservation.Delta}}</td>
      <td>{{if .Conservation.Valid}}<span class="badge ok">VALID</span>{{else}}<span class="badge bad">VIOLATED</span>{{end}}</td>
    </tr>
  </table>

  <h2>Readiness</h2>
  {{if .Readiness}}
  <table>
    <tr><th>Scope</th><th>L</th><th>P</th><th>V</th><th>R</th><th>Allocated</th><th>Verified</th></tr>
    {{range .Readiness}}
    <tr>
      <td>{{.ScopeName}}</td>
      <td>{{pct .L}}</td>
      <td>{{pct .P}}</td>
      <td>{{pct .V}}</td>
      <td>{{pct .R}}</td>
      <td>{{.AllocatedWU}}</td>
      <td>{{.VerifiedWU}}</td>
    </tr>
    {{end}}
  </table>
  {{else}}
  <p class="meta">No scopes defined.</p>
  {{end}}

  <h2>Reconciliation</h2>
  {{if .IsReconciled}}
  <p><span class="badge ok">RECONCILED</span></p>
  {{else if .Divergences}}
  {{range .Divergences}}<div class="divergence">{{.}}</div>{{end}}
  {{else}}
  <p class="meta">No reconciliation lists recorded.</p>
  {{end}}

  <h2>Recent Activity</h2>
  {{if .RecentEvents}}
  <table>
    <tr><th>Event</th><th>Actor</th><th>When</th></tr>
    {{range .RecentEvents}}
    <tr><td>{{.EventType}}</td><td>{{.Actor}}</td><td>{{formatDate .CreatedAt "Jan 2 15:04"}}</td></tr>
    {{end}}
  </table>
  {{else}}
  <p class="meta">No recorded events.</p>
  {{end}}
</body>
</html>`

const incidentHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.IncidentNumber}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #cc3300; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; border-bottom: 1px solid #ccc; padding-bottom: 0.3rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; font-size: 0.9em; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; vertical-align: top; }
    th { background: #f5f5f5; }
    .badge { display: inline-block; padding: 0.15rem 0.5rem; border-radius: 3px; font-size: 0.85em; }
    .ok { background: #e6f4ea; color: #1e7e34; }
    .bad { background: #fdecea; color: #cc3300; }
    .attestation { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>Credential Incident {{.IncidentNumber}}</h1>
  <div class="meta">
    {{.ProjectName}} | Reported {{formatDate .ReportedAt "Jan 2, 2006 15:04"}} | Generated {{formatDate .GeneratedAt "Jan 2, 2006 15:04"}}
  </div>

  <p>
    Status: {{if eq .Status "RESOLVED"}}<span class="badge ok">{{.Status}}</span>{{else}}<span class="badge bad">{{.Status}}</span>{{end}}
    &nbsp; Phase: <strong>{{.Phase}}</strong>
    {{if .ResolvedAt}} &nbsp; Resolved {{.ResolvedAt.Format "Jan 2, 2006 15:04"}}{{end}}
  </p>

  <h2>Exposure</h2>
  <table>
    <tr><th>Credential</th><td>{{.CredentialName}} ({{.CredentialType}})</td></tr>
    <tr><th>Source</th><td>{{.ExposureSource}}</td></tr>
    <tr><th>Description</th><td>{{.ExposureDescription}}</td></tr>
    {{if .ImpactAssessment}}<tr><th>Impact</th><td>{{.ImpactAssessment}}</td></tr>{{end}}
    {{if .AffectedSystems}}<tr><th>Affected systems</th><td>{{range $i, $s := .AffectedSystems}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>{{end}}
  </table>

  <h2>Artifacts</h2>
  {{if .Artifacts}}
  <table>
    <tr><th>Type</th><th>Title</th><th>When</th></tr>
    {{range .Artifacts}}
    <tr><td>{{.ArtifactType}}</td><td>{{.Title}}</td><td>{{formatDate .CreatedAt "Jan 2 15:04"}}</td></tr>
    {{end}}
  </table>
  {{else}}
  <p class="meta">No artifacts recorded.</p>
  {{end}}

  <h2>Verification Tests</h2>
  {{if .Tests}}
  <table>
    <tr><th>Test</th><th>Result</th><th>Detail</th><th>When</th></tr>
    {{range .Tests}}
    <tr>
      <td>{{.TestType}}</td>
      <td>{{if .Passed}}<span class="badge ok">PASSED</span>{{else}}<span class="badge bad">FAILED</span>{{end}}</td>
      <td>{{.Detail}}</td>
      <td>{{formatDate .RecordedAt "Jan 2 15:04"}}</td>
    </tr>
    {{end}}
  </table>
  {{else}}
  <p class="meta">No verification tests recorded.</p>
  {{end}}

  {{if .AttestedBy}}
  <h2>Forward-Safety Attestation</h2>
  <div class="attestation">
    <p>{{.Statement}}</p>
    <p class="meta">Attested by {{.AttestedBy}}</p>
  </div>
  {{end}}
</body>
</html>`
