package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"warden/api/internal/search"
	"warden/api/internal/store"
	"warden/api/internal/util"
)

var ccsPhaseOrder = []string{"DETECT", "CONTAIN", "ROTATE", "INVALIDATE", "VERIFY", "ATTEST", "UNLOCK"}

// ccsArtifactPhases binds each artifact type to the lifecycle phase it
// documents. The binding is informational until unlock, which requires the
// full set.
var ccsArtifactPhases = map[string]string{
	"CCS-01": "DETECT",  // Exposure Report
	"CCS-02": "CONTAIN", // Containment Record
	"CCS-03": "VERIFY",  // Rotation Proof
	"CCS-04": "ATTEST",  // Forward-Safety Attestation
	"CCS-05": "UNLOCK",  // Audit Trail
}

var ccsTestTypes = map[string]struct{}{
	"OLD_REJECTED":     {},
	"NEW_SUCCESS":      {},
	"DEPENDENT_SYSTEM": {},
}

func ccsPhaseIndex(phase string) int {
	for i, p := range ccsPhaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

type ReportIncidentInput struct {
	CredentialType      string   `json:"credentialType"`
	CredentialName      string   `json:"credentialName"`
	ExposureSource      string   `json:"exposureSource"`
	ExposureDescription string   `json:"exposureDescription"`
	ImpactAssessment    string   `json:"impactAssessment"`
	AffectedSystems     []string `json:"affectedSystems"`
}

// ReportIncident opens a credential-compromise incident. From this moment on
// execution is blocked for the project until the incident reaches UNLOCK.
func (s *Service) ReportIncident(ctx context.Context, projectID, actor string, input ReportIncidentInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.CredentialType) == "" || strings.TrimSpace(input.CredentialName) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Credential type and name are required", nil)
	}

	now := time.Now().UTC()
	sameDay, err := s.store.CountIncidentsOnDate(ctx, now)
	if err != nil {
		return nil, err
	}
	incident := store.CCSIncident{
		ID:                  util.NewID("inc"),
		ProjectID:           projectID,
		IncidentNumber:      fmt.Sprintf("CCS-%s-%03d", now.Format("2006-01-02"), sameDay+1),
		Status:              "ACTIVE",
		Phase:               "DETECT",
		CredentialType:      strings.TrimSpace(input.CredentialType),
		CredentialName:      strings.TrimSpace(input.CredentialName),
		ExposureSource:      strings.TrimSpace(input.ExposureSource),
		ExposureDescription: strings.TrimSpace(input.ExposureDescription),
		ImpactAssessment:    strings.TrimSpace(input.ImpactAssessment),
		AffectedSystems:     input.AffectedSystems,
		ReportedBy:          actor,
	}
	if incident.AffectedSystems == nil {
		incident.AffectedSystems = []string{}
	}
	if err := s.store.InsertIncident(ctx, incident); err != nil {
		return nil, err
	}

	s.audit(ctx, projectID, "CCS_INCIDENT_REPORTED", actor, map[string]any{
		"incidentId":     incident.ID,
		"incidentNumber": incident.IncidentNumber,
	})
	s.notifyIncident(ctx, incident, "reported")
	s.indexIncident(incident)
	s.snapshotState(ctx, projectID, "ccs incident "+incident.IncidentNumber+" reported")
	return s.incidentResponse(ctx, incident)
}

func (s *Service) GetIncident(ctx context.Context, projectID, incidentID string) (map[string]any, error) {
	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	return s.incidentResponse(ctx, incident)
}

func (s *Service) ListIncidents(ctx context.Context, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	incidents, err := s.store.ListIncidents(ctx, projectID)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(incidents))
	for _, incident := range incidents {
		entry, err := s.incidentResponse(ctx, incident)
		if err != nil {
			return nil, err
		}
		response = append(response, entry)
	}
	return response, nil
}

// AdvanceIncidentPhase moves an incident exactly one step forward. UNLOCK is
// not reachable through here; it has its own operation with stricter
// preconditions.
func (s *Service) AdvanceIncidentPhase(ctx context.Context, projectID, incidentID, actor, targetPhase string) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != "ACTIVE" {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Incident "+incident.IncidentNumber+" is already resolved", nil)
	}

	target := strings.ToUpper(strings.TrimSpace(targetPhase))
	targetIdx := ccsPhaseIndex(target)
	if targetIdx < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Unknown incident phase "+target, nil)
	}
	currentIdx := ccsPhaseIndex(incident.Phase)
	if target == "UNLOCK" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"UNLOCK is only reachable through the unlock operation", nil)
	}
	if targetIdx != currentIdx+1 {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			fmt.Sprintf("Incident phase can only advance one step: %s to %s is not permitted", incident.Phase, target),
			map[string]any{"currentPhase": incident.Phase, "targetPhase": target})
	}

	// Leaving VERIFY requires proof that the old credential is dead and the
	// new one works.
	if incident.Phase == "VERIFY" {
		if err := s.requireVerificationPassed(ctx, incident); err != nil {
			return nil, err
		}
	}

	if err := s.store.AdvanceIncidentPhase(ctx, incident.ID, incident.Phase, target); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CCS_PHASE_ADVANCED", actor, map[string]any{
		"incidentId": incident.ID,
		"fromPhase":  incident.Phase,
		"toPhase":    target,
	})

	incident, err = s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	return s.incidentResponse(ctx, incident)
}

func (s *Service) requireVerificationPassed(ctx context.Context, incident store.CCSIncident) error {
	tests, err := s.store.ListCCSVerificationTests(ctx, incident.ID)
	if err != nil {
		return err
	}
	passed := make(map[string]bool)
	for _, test := range tests {
		if test.Passed {
			passed[test.TestType] = true
		}
	}
	var missing []string
	for _, required := range []string{"OLD_REJECTED", "NEW_SUCCESS"} {
		if !passed[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return domainError(http.StatusConflict, "CCS_BLOCKED",
			"Verification is incomplete: "+strings.Join(missing, ", ")+" must pass before attestation",
			map[string]any{"missingTests": missing})
	}
	return nil
}

type ArtifactInput struct {
	ArtifactType string `json:"artifactType"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Evidence     []byte `json:"evidence,omitempty"`
	EvidenceName string `json:"evidenceName,omitempty"`
}

// AddArtifact records a lifecycle artifact. Raw evidence, when attached,
// goes to object storage and only the key is kept on the row.
func (s *Service) AddArtifact(ctx context.Context, projectID, incidentID, actor string, input ArtifactInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != "ACTIVE" {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Artifacts cannot be added to a resolved incident", nil)
	}
	artifactType := strings.ToUpper(strings.TrimSpace(input.ArtifactType))
	boundPhase, ok := ccsArtifactPhases[artifactType]
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Artifact type must be one of CCS-01 through CCS-05", nil)
	}

	artifact := store.CCSArtifact{
		ID:           util.NewID("art"),
		IncidentID:   incident.ID,
		ArtifactType: artifactType,
		Title:        strings.TrimSpace(input.Title),
		Content:      input.Content,
		CreatedBy:    actor,
	}
	if len(input.Evidence) > 0 {
		if s.blobs == nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Evidence uploads are not configured on this deployment", nil)
		}
		key, err := s.blobs.PutEvidence(ctx, incident.ID, artifact.ID, input.EvidenceName, input.Evidence)
		if err != nil {
			return nil, fmt.Errorf("store artifact evidence: %w", err)
		}
		artifact.ObjectKey = key
	}
	if err := s.store.InsertCCSArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CCS_ARTIFACT_ADDED", actor, map[string]any{
		"incidentId":   incident.ID,
		"artifactId":   artifact.ID,
		"artifactType": artifactType,
	})
	return map[string]any{
		"id":           artifact.ID,
		"artifactType": artifact.ArtifactType,
		"boundPhase":   boundPhase,
		"title":        artifact.Title,
		"objectKey":    artifact.ObjectKey,
	}, nil
}

type VerificationTestInput struct {
	TestType string `json:"testType"`
	Detail   string `json:"detail"`
	Passed   bool   `json:"passed"`
}

func (s *Service) AddVerificationTest(ctx context.Context, projectID, incidentID, actor string, input VerificationTestInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != "ACTIVE" || incident.Phase != "VERIFY" {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Verification tests can only be recorded while an active incident is in VERIFY",
			map[string]any{"phase": incident.Phase, "status": incident.Status})
	}
	testType := strings.ToUpper(strings.TrimSpace(input.TestType))
	if _, ok := ccsTestTypes[testType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Test type must be OLD_REJECTED, NEW_SUCCESS or DEPENDENT_SYSTEM", nil)
	}

	test := store.CCSVerificationTest{
		ID:         util.NewID("vt"),
		IncidentID: incident.ID,
		TestType:   testType,
		Detail:     strings.TrimSpace(input.Detail),
		Passed:     input.Passed,
		RecordedBy: actor,
	}
	if err := s.store.InsertCCSVerificationTest(ctx, test); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CCS_VERIFICATION_RECORDED", actor, map[string]any{
		"incidentId": incident.ID,
		"testType":   testType,
		"passed":     input.Passed,
	})
	return map[string]any{
		"id":       test.ID,
		"testType": test.TestType,
		"passed":   test.Passed,
	}, nil
}

type AttestInput struct {
	Statement string `json:"statement"`
}

// Attest records the forward-safety attestation. Write-once: a second
// attempt fails even with an identical statement.
func (s *Service) Attest(ctx context.Context, projectID, incidentID, actor string, input AttestInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != "ACTIVE" || incident.Phase != "ATTEST" {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Attestation is only permitted while an active incident is in ATTEST",
			map[string]any{"phase": incident.Phase, "status": incident.Status})
	}
	if incident.AttestedBy != "" {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"Incident "+incident.IncidentNumber+" is already attested by "+incident.AttestedBy, nil)
	}
	statement := strings.TrimSpace(input.Statement)
	if statement == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Attestation statement is required", nil)
	}

	if err := s.store.AttestIncident(ctx, incident.ID, actor, statement); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CCS_ATTESTED", actor, map[string]any{"incidentId": incident.ID})

	incident, err = s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	return s.incidentResponse(ctx, incident)
}

// Unlock closes the incident. Requires the incident to be in ATTEST with all
// five artifact types on record and an attestation in place; anything less
// is rejected deterministically with the missing pieces listed.
func (s *Service) Unlock(ctx context.Context, projectID, incidentID, actor string) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	incident, err := s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	if incident.Status != "ACTIVE" {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"Incident "+incident.IncidentNumber+" is already resolved", nil)
	}
	if incident.Phase != "ATTEST" {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Unlock requires the incident to be in ATTEST",
			map[string]any{"currentPhase": incident.Phase})
	}

	artifacts, err := s.store.ListCCSArtifacts(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(artifacts))
	for _, artifact := range artifacts {
		present[artifact.ArtifactType] = true
	}
	var missing []string
	for _, artifactType := range []string{"CCS-01", "CCS-02", "CCS-03", "CCS-04", "CCS-05"} {
		if !present[artifactType] {
			missing = append(missing, artifactType)
		}
	}
	if incident.AttestedBy == "" {
		missing = append(missing, "attestation")
	}
	if len(missing) > 0 {
		return nil, domainError(http.StatusConflict, "CCS_BLOCKED",
			"Unlock denied: "+strings.Join(missing, ", ")+" still missing",
			map[string]any{"missing": missing})
	}

	if err := s.store.UnlockIncident(ctx, incident.ID); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CCS_UNLOCKED", actor, map[string]any{
		"incidentId":     incident.ID,
		"incidentNumber": incident.IncidentNumber,
	})

	incident, err = s.store.GetIncident(ctx, projectID, incidentID)
	if err != nil {
		return nil, err
	}
	s.notifyIncident(ctx, incident, "resolved")
	s.indexIncident(incident)
	s.snapshotState(ctx, projectID, "ccs incident "+incident.IncidentNumber+" resolved")
	return s.incidentResponse(ctx, incident)
}

// IncidentStatus reports whether the project is currently under a CCS block.
func (s *Service) IncidentStatus(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	active, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"blocked":         active > 0,
		"activeIncidents": active,
	}, nil
}

func (s *Service) incidentResponse(ctx context.Context, incident store.CCSIncident) (map[string]any, error) {
	artifacts, err := s.store.ListCCSArtifacts(ctx, incident.ID)
	if err != nil {
		return nil, err
	}
	tests, err := s.store.ListCCSVerificationTests(ctx, incident.ID)
	if err != nil {
		return nil, err
	}

	artifactList := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		artifactList = append(artifactList, map[string]any{
			"id":           artifact.ID,
			"artifactType": artifact.ArtifactType,
			"boundPhase":   ccsArtifactPhases[artifact.ArtifactType],
			"title":        artifact.Title,
			"content":      artifact.Content,
			"objectKey":    artifact.ObjectKey,
			"createdBy":    artifact.CreatedBy,
			"createdAt":    artifact.CreatedAt,
		})
	}
	testList := make([]map[string]any, 0, len(tests))
	for _, test := range tests {
		testList = append(testList, map[string]any{
			"id":         test.ID,
			"testType":   test.TestType,
			"detail":     test.Detail,
			"passed":     test.Passed,
			"recordedBy": test.RecordedBy,
			"recordedAt": test.RecordedAt,
		})
	}

	response := map[string]any{
		"id":                  incident.ID,
		"incidentNumber":      incident.IncidentNumber,
		"status":              incident.Status,
		"phase":               incident.Phase,
		"credentialType":      incident.CredentialType,
		"credentialName":      incident.CredentialName,
		"exposureSource":      incident.ExposureSource,
		"exposureDescription": incident.ExposureDescription,
		"impactAssessment":    incident.ImpactAssessment,
		"affectedSystems":     incident.AffectedSystems,
		"phaseCompletedAt":    incident.PhaseCompletedAt,
		"reportedBy":          incident.ReportedBy,
		"reportedAt":          incident.CreatedAt,
		"artifacts":           artifactList,
		"verificationTests":   testList,
	}
	if incident.AttestedBy != "" {
		response["attestedBy"] = incident.AttestedBy
		response["attestationStatement"] = incident.AttestationStatement
		response["attestedAt"] = incident.AttestedAt
	}
	if incident.ResolvedAt != nil {
		response["resolvedAt"] = incident.ResolvedAt
	}
	return response, nil
}

func (s *Service) notifyIncident(ctx context.Context, incident store.CCSIncident, event string) {
	if s.email == nil {
		return
	}
	if err := s.email.SendIncidentNotice(ctx, incident.IncidentNumber, incident.CredentialName, event); err != nil {
		log.Printf("incident notice for %s dropped: %v", incident.IncidentNumber, err)
	}
}

func (s *Service) indexIncident(incident store.CCSIncident) {
	if s.indexer == nil {
		return
	}
	_ = s.indexer.IndexIncident(search.IncidentRecord{
		ID:             incident.ID,
		ProjectID:      incident.ProjectID,
		IncidentNumber: incident.IncidentNumber,
		Status:         incident.Status,
		CredentialName: incident.CredentialName,
	})
}
