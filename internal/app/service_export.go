package app

import (
	"context"
	"time"

	"warden/api/internal/export"
)

// ExportDashboardPDF renders the governance dashboard for a project as PDF.
func (s *Service) ExportDashboardPDF(ctx context.Context, projectID string) (*export.Result, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	factors, err := s.Readiness(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListReconciliationItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	planned, claimed, verified := splitTriad(items)
	divergences := computeDivergences(planned, claimed, verified)
	events, err := s.store.ListAuditEvents(ctx, projectID, 20, 0)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	formula, verifiedWU := 0, 0
	for _, scope := range snapshot.Scopes {
		remaining := scope.AllocatedWU - scope.VerifiedWU
		if remaining < 0 {
			remaining = 0
		}
		formula += remaining
		verifiedWU += scope.VerifiedWU
	}

	data := export.DashboardData{
		ProjectName: snapshot.Project.Name,
		ProjectID:   snapshot.Project.ID,
		Phase:       snapshot.Project.Phase,
		Kingdom:     kingdomOf(snapshot.Project.Phase),
		CCSBlocked:  active > 0,
		Conservation: export.Conservation{
			Total:    snapshot.Project.WUTotal,
			Formula:  formula,
			Verified: verifiedWU,
			Delta:    snapshot.Project.WUTotal - (formula + verifiedWU),
			Valid:    formula+verifiedWU <= snapshot.Project.WUTotal,
		},
		Divergences:     divergences,
		IsReconciled:    len(planned) > 0 && len(divergences) == 0 && len(verified) >= len(planned),
		GeneratedAt:     time.Now().UTC(),
		ReassessCount:   snapshot.Project.ReassessCount,
		ActiveIncidents: active,
	}
	for _, f := range factors {
		data.Readiness = append(data.Readiness, export.ScopeReadiness{
			ScopeName:   f.ScopeName,
			L:           f.L,
			P:           f.P,
			V:           f.V,
			R:           f.R,
			AllocatedWU: f.AllocatedWU,
			VerifiedWU:  f.VerifiedWU,
		})
	}
	for _, event := range events {
		data.RecentEvents = append(data.RecentEvents, export.AuditLine{
			EventType: event.EventType,
			Actor:     event.Actor,
			CreatedAt: event.CreatedAt,
		})
	}

	return s.exporter.DashboardPDF(data)
}

// ExportIncidentPDF renders a credential incident report as PDF.
func (s *Service) ExportIncidentPDF(ctx context.Context, projectID, incidentID string) (*export.Result, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListCCSArtifacts(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	tests, err := s.store.ListCCSVerificationTests(ctx, incident.ID)
	if err != nil {
		return nil, err
	}

	data := export.IncidentData{
		ProjectName:         project.Name,
		IncidentNumber:      incident.IncidentNumber,
		Status:              incident.Status,
		Phase:               incident.Phase,
		CredentialType:      incident.CredentialType,
		CredentialName:      incident.CredentialName,
		ExposureSource:      incident.ExposureSource,
		ExposureDescription: incident.ExposureDescription,
		ImpactAssessment:    incident.ImpactAssessment,
		AffectedSystems:     incident.AffectedSystems,
		AttestedBy:          incident.AttestedBy,
		Statement:           incident.AttestationStatement,
		ReportedAt:          incident.CreatedAt,
		ResolvedAt:          incident.ResolvedAt,
		GeneratedAt:         time.Now().UTC(),
	}
	for _, artifact := range artifacts {
		data.Artifacts = append(data.Artifacts, export.IncidentArtifact{
			ArtifactType: artifact.ArtifactType,
			Title:        artifact.Title,
			CreatedAt:    artifact.CreatedAt,
		})
	}
	for _, test := range tests {
		data.Tests = append(data.Tests, export.IncidentTest{
			TestType:   test.TestType,
			Detail:     test.Detail,
			Passed:     test.Passed,
			RecordedAt: test.RecordedAt,
		})
	}

	return s.exporter.IncidentPDF(data)
}
