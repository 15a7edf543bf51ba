package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ccsPhaseColumns = map[string]string{
	"DETECT":     "detect_completed_at",
	"CONTAIN":    "contain_completed_at",
	"ROTATE":     "rotate_completed_at",
	"INVALIDATE": "invalidate_completed_at",
	"VERIFY":     "verify_completed_at",
	"ATTEST":     "attest_completed_at",
	"UNLOCK":     "unlock_completed_at",
}

func (s *PostgresStore) InsertIncident(ctx context.Context, incident CCSIncident) error {
	systems, err := json.Marshal(incident.AffectedSystems)
	if err != nil {
		return fmt.Errorf("encode affected systems: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ccs_incidents (id, project_id, incident_number, status, phase, credential_type, credential_name,
			exposure_source, exposure_description, impact_assessment, affected_systems, reported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, incident.ID, incident.ProjectID, incident.IncidentNumber, incident.Status, incident.Phase,
		incident.CredentialType, incident.CredentialName, incident.ExposureSource, incident.ExposureDescription,
		incident.ImpactAssessment, systems, incident.ReportedBy)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIncident(ctx context.Context, projectID, incidentID string) (CCSIncident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, incident_number, status, phase, credential_type, credential_name,
		       exposure_source, exposure_description, impact_assessment, affected_systems, reported_by,
		       detect_completed_at, contain_completed_at, rotate_completed_at, invalidate_completed_at,
		       verify_completed_at, attest_completed_at, unlock_completed_at,
		       attested_by, attestation_statement, attested_at, created_at, resolved_at
		FROM ccs_incidents WHERE project_id = $1 AND id = $2
	`, projectID, incidentID)
	return scanIncident(row)
}

func scanIncident(row *sql.Row) (CCSIncident, error) {
	var incident CCSIncident
	var systems []byte
	completed := make([]*time.Time, 7)
	err := row.Scan(&incident.ID, &incident.ProjectID, &incident.IncidentNumber, &incident.Status, &incident.Phase,
		&incident.CredentialType, &incident.CredentialName, &incident.ExposureSource, &incident.ExposureDescription,
		&incident.ImpactAssessment, &systems, &incident.ReportedBy,
		&completed[0], &completed[1], &completed[2], &completed[3], &completed[4], &completed[5], &completed[6],
		&incident.AttestedBy, &incident.AttestationStatement, &incident.AttestedAt, &incident.CreatedAt, &incident.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CCSIncident{}, ErrNotFound
	}
	if err != nil {
		return CCSIncident{}, fmt.Errorf("scan incident: %w", err)
	}
	if err := json.Unmarshal(systems, &incident.AffectedSystems); err != nil {
		return CCSIncident{}, fmt.Errorf("decode affected systems: %w", err)
	}
	incident.PhaseCompletedAt = make(map[string]time.Time)
	for i, phase := range []string{"DETECT", "CONTAIN", "ROTATE", "INVALIDATE", "VERIFY", "ATTEST", "UNLOCK"} {
		if completed[i] != nil {
			incident.PhaseCompletedAt[phase] = *completed[i]
		}
	}
	return incident, nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, projectID string) ([]CCSIncident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM ccs_incidents WHERE project_id = $1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}

	incidents := make([]CCSIncident, 0, len(ids))
	for _, id := range ids {
		incident, err := s.GetIncident(ctx, projectID, id)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

// CountActiveIncidents backs the execution override. It always reads the
// database directly: a stale cached answer here is a safety violation.
func (s *PostgresStore) CountActiveIncidents(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ccs_incidents WHERE project_id = $1 AND status = 'ACTIVE'
	`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active incidents: %w", err)
	}
	return count, nil
}

// CountIncidentsOnDate supports per-day incident numbering.
func (s *PostgresStore) CountIncidentsOnDate(ctx context.Context, day time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ccs_incidents WHERE created_at::date = $1::date
	`, day).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count incidents on date: %w", err)
	}
	return count, nil
}

// AdvanceIncidentPhase moves the incident one phase and stamps completion of
// the phase being left. The caller validates ordering.
func (s *PostgresStore) AdvanceIncidentPhase(ctx context.Context, incidentID, fromPhase, toPhase string) error {
	column, ok := ccsPhaseColumns[fromPhase]
	if !ok {
		return fmt.Errorf("unknown ccs phase %q", fromPhase)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE ccs_incidents SET phase = $2, `+column+` = NOW() WHERE id = $1 AND phase = $3
	`, incidentID, toPhase, fromPhase)
	if err != nil {
		return fmt.Errorf("advance incident phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance incident rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// AttestIncident is write-once: it only succeeds while attested_by is empty.
func (s *PostgresStore) AttestIncident(ctx context.Context, incidentID, attestedBy, statement string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ccs_incidents SET attested_by = $2, attestation_statement = $3, attested_at = NOW()
		WHERE id = $1 AND attested_by = ''
	`, incidentID, attestedBy, statement)
	if err != nil {
		return fmt.Errorf("attest incident: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("attest incident rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// UnlockIncident resolves the incident. The caller has already verified the
// artifact and attestation preconditions; the phase guard here keeps a
// concurrent double-unlock from applying twice.
func (s *PostgresStore) UnlockIncident(ctx context.Context, incidentID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ccs_incidents
		SET phase = 'UNLOCK', status = 'RESOLVED', attest_completed_at = COALESCE(attest_completed_at, NOW()),
		    unlock_completed_at = NOW(), resolved_at = NOW()
		WHERE id = $1 AND phase = 'ATTEST' AND status = 'ACTIVE'
	`, incidentID)
	if err != nil {
		return fmt.Errorf("unlock incident: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unlock incident rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// Incident artifacts and verification tests

func (s *PostgresStore) InsertCCSArtifact(ctx context.Context, artifact CCSArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ccs_artifacts (id, incident_id, artifact_type, title, content, object_key, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, artifact.ID, artifact.IncidentID, artifact.ArtifactType, artifact.Title, artifact.Content, artifact.ObjectKey, artifact.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert ccs artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCCSArtifacts(ctx context.Context, incidentID string) ([]CCSArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, artifact_type, title, content, object_key, created_by, created_at
		FROM ccs_artifacts WHERE incident_id = $1 ORDER BY created_at
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list ccs artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []CCSArtifact
	for rows.Next() {
		var artifact CCSArtifact
		if err := rows.Scan(&artifact.ID, &artifact.IncidentID, &artifact.ArtifactType, &artifact.Title,
			&artifact.Content, &artifact.ObjectKey, &artifact.CreatedBy, &artifact.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ccs artifact: %w", err)
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (s *PostgresStore) InsertCCSVerificationTest(ctx context.Context, test CCSVerificationTest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ccs_verification_tests (id, incident_id, test_type, detail, passed, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, test.ID, test.IncidentID, test.TestType, test.Detail, test.Passed, test.RecordedBy)
	if err != nil {
		return fmt.Errorf("insert ccs verification test: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCCSVerificationTests(ctx context.Context, incidentID string) ([]CCSVerificationTest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, test_type, detail, passed, recorded_by, recorded_at
		FROM ccs_verification_tests WHERE incident_id = $1 ORDER BY recorded_at
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list ccs verification tests: %w", err)
	}
	defer rows.Close()

	var tests []CCSVerificationTest
	for rows.Next() {
		var test CCSVerificationTest
		if err := rows.Scan(&test.ID, &test.IncidentID, &test.TestType, &test.Detail, &test.Passed, &test.RecordedBy, &test.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan ccs verification test: %w", err)
		}
		tests = append(tests, test)
	}
	return tests, rows.Err()
}
