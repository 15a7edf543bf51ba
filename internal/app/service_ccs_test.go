package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"warden/api/internal/store"
)

func activeIncident(phase string) store.CCSIncident {
	return store.CCSIncident{
		ID:             "inc_1",
		ProjectID:      "proj_1",
		IncidentNumber: "CCS-2026-08-30-001",
		Status:         "ACTIVE",
		Phase:          phase,
		CredentialType: "api_key",
		CredentialName: "stripe-live-key",
	}
}

func allArtifacts(incidentID string) []store.CCSArtifact {
	types := []string{"CCS-01", "CCS-02", "CCS-03", "CCS-04", "CCS-05"}
	artifacts := make([]store.CCSArtifact, 0, len(types))
	for i, artifactType := range types {
		artifacts = append(artifacts, store.CCSArtifact{
			ID:           fmt.Sprintf("art_%d", i+1),
			IncidentID:   incidentID,
			ArtifactType: artifactType,
			Title:        artifactType + " record",
		})
	}
	return artifacts
}

func TestReportIncidentNumbering(t *testing.T) {
	var inserted store.CCSIncident
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1", Phase: "EXECUTE"}, nil
		},
		countOnDateFn: func(context.Context, time.Time) (int, error) {
			return 2, nil
		},
		insertIncidentFn: func(_ context.Context, incident store.CCSIncident) error {
			inserted = incident
			return nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ReportIncident(context.Background(), "proj_1", "usr_1", ReportIncidentInput{
		CredentialType: "api_key",
		CredentialName: "stripe-live-key",
	})
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}

	want := "CCS-" + time.Now().UTC().Format("2006-01-02") + "-003"
	if inserted.IncidentNumber != want {
		t.Errorf("incident number = %s, want %s", inserted.IncidentNumber, want)
	}
	if inserted.Status != "ACTIVE" || inserted.Phase != "DETECT" {
		t.Errorf("new incident = %s/%s, want ACTIVE/DETECT", inserted.Status, inserted.Phase)
	}
}

func TestReportIncidentRequiresCredential(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ReportIncident(context.Background(), "proj_1", "usr_1", ReportIncidentInput{CredentialType: "api_key"})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAdvanceIncidentOneStepOnly(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("DETECT"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AdvanceIncidentPhase(context.Background(), "proj_1", "inc_1", "usr_1", "ROTATE")
	wantDomainError(t, err, 409, "CCS_BLOCKED")
}

func TestAdvanceIncidentUnlockUnreachable(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("ATTEST"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AdvanceIncidentPhase(context.Background(), "proj_1", "inc_1", "usr_1", "UNLOCK")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAdvanceIncidentResolvedRejected(t *testing.T) {
	incident := activeIncident("DETECT")
	incident.Status = "RESOLVED"
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return incident, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AdvanceIncidentPhase(context.Background(), "proj_1", "inc_1", "usr_1", "CONTAIN")
	wantDomainError(t, err, 409, "CCS_BLOCKED")
}

func TestLeavingVerifyRequiresBothTests(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("VERIFY"), nil
		},
		listCCSTestsFn: func(context.Context, string) ([]store.CCSVerificationTest, error) {
			return []store.CCSVerificationTest{
				{TestType: "OLD_REJECTED", Passed: true},
				{TestType: "NEW_SUCCESS", Passed: false},
			}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AdvanceIncidentPhase(context.Background(), "proj_1", "inc_1", "usr_1", "ATTEST")
	de := wantDomainError(t, err, 409, "CCS_BLOCKED")
	if !strings.Contains(de.Message, "NEW_SUCCESS") {
		t.Errorf("message = %q, want the failing test named", de.Message)
	}
}

func TestLeavingVerifyWithPassingTests(t *testing.T) {
	advanced := false
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			if advanced {
				return activeIncident("ATTEST"), nil
			}
			return activeIncident("VERIFY"), nil
		},
		listCCSTestsFn: func(context.Context, string) ([]store.CCSVerificationTest, error) {
			return []store.CCSVerificationTest{
				{TestType: "OLD_REJECTED", Passed: true},
				{TestType: "NEW_SUCCESS", Passed: true},
			}, nil
		},
		advanceIncidentFn: func(_ context.Context, _, fromPhase, toPhase string) error {
			if fromPhase != "VERIFY" || toPhase != "ATTEST" {
				t.Errorf("advance %s -> %s, want VERIFY -> ATTEST", fromPhase, toPhase)
			}
			advanced = true
			return nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.AdvanceIncidentPhase(context.Background(), "proj_1", "inc_1", "usr_1", "ATTEST")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result["phase"] != "ATTEST" {
		t.Errorf("phase = %v, want ATTEST", result["phase"])
	}
}

func TestAddArtifactRejectsUnknownType(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("DETECT"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddArtifact(context.Background(), "proj_1", "inc_1", "usr_1", ArtifactInput{
		ArtifactType: "CCS-09",
		Title:        "bogus",
	})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestAddArtifactReportsBoundPhase(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("CONTAIN"), nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.AddArtifact(context.Background(), "proj_1", "inc_1", "usr_1", ArtifactInput{
		ArtifactType: "ccs-03",
		Title:        "rotation proof",
	})
	if err != nil {
		t.Fatalf("add artifact: %v", err)
	}
	if result["artifactType"] != "CCS-03" || result["boundPhase"] != "VERIFY" {
		t.Errorf("result = %v", result)
	}
}

func TestAddVerificationTestOutsideVerifyRejected(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("ROTATE"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddVerificationTest(context.Background(), "proj_1", "inc_1", "usr_1", VerificationTestInput{
		TestType: "OLD_REJECTED",
		Passed:   true,
	})
	wantDomainError(t, err, 409, "CCS_BLOCKED")
}

func TestAttestIsWriteOnce(t *testing.T) {
	incident := activeIncident("ATTEST")
	incident.AttestedBy = "usr_director"
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return incident, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Attest(context.Background(), "proj_1", "inc_1", "usr_other", AttestInput{
		Statement: "the new credential is safe going forward",
	})
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestAttestRequiresStatement(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("ATTEST"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Attest(context.Background(), "proj_1", "inc_1", "usr_1", AttestInput{Statement: "   "})
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestUnlockListsMissingPieces(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("ATTEST"), nil
		},
		listCCSArtifactsFn: func(context.Context, string) ([]store.CCSArtifact, error) {
			return allArtifacts("inc_1")[:3], nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Unlock(context.Background(), "proj_1", "inc_1", "usr_1")
	de := wantDomainError(t, err, 409, "CCS_BLOCKED")

	details := de.Details.(map[string]any)
	missing := details["missing"].([]string)
	want := []string{"CCS-04", "CCS-05", "attestation"}
	if len(missing) != len(want) {
		t.Fatalf("missing = %v, want %v", missing, want)
	}
	for i, piece := range want {
		if missing[i] != piece {
			t.Errorf("missing[%d] = %s, want %s", i, missing[i], piece)
		}
	}
}

func TestUnlockOutsideAttestRejected(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("VERIFY"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Unlock(context.Background(), "proj_1", "inc_1", "usr_1")
	wantDomainError(t, err, 409, "CCS_BLOCKED")
}

func TestUnlockResolvesIncident(t *testing.T) {
	unlocked := false
	incident := activeIncident("ATTEST")
	incident.AttestedBy = "usr_director"
	incident.AttestationStatement = "rotation verified, forward safe"
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			if unlocked {
				resolved := incident
				resolved.Status = "RESOLVED"
				resolved.Phase = "UNLOCK"
				now := time.Now().UTC()
				resolved.ResolvedAt = &now
				return resolved, nil
			}
			return incident, nil
		},
		listCCSArtifactsFn: func(context.Context, string) ([]store.CCSArtifact, error) {
			return allArtifacts("inc_1"), nil
		},
		unlockIncidentFn: func(context.Context, string) error {
			unlocked = true
			return nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.Unlock(context.Background(), "proj_1", "inc_1", "usr_1")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if result["status"] != "RESOLVED" || result["phase"] != "UNLOCK" {
		t.Errorf("result = %v", result)
	}
}

func TestIncidentStatus(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1"}, nil
		},
		countActiveFn: func(context.Context, string) (int, error) {
			return 1, nil
		},
	}
	svc := newTestService(fs)

	status, err := svc.IncidentStatus(context.Background(), "proj_1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["blocked"] != true || status["activeIncidents"] != 1 {
		t.Errorf("status = %v", status)
	}
}
