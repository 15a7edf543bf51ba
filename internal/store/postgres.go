package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, deactivated_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.DeactivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, deactivated_at
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &user.DeactivatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token = $2, verification_expires_at = $3, updated_at = NOW() WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = '', verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("insert password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets WHERE token = $1 AND expires_at > NOW() AND used_at IS NULL
	`, token).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup password reset: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// Refresh sessions and access-token revocation

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti = $1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check token revocation: %w", err)
	}
	return revoked, nil
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, project Project, gates []Gate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, phase, created_by) VALUES ($1, $2, $3, $4)
	`, project.ID, project.Name, project.Phase, project.CreatedBy); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	for _, gate := range gates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO gates (project_id, gate_id, category, label, remediation, passed, required)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, project.ID, gate.GateID, gate.Category, gate.Label, gate.Remediation, gate.Passed, gate.Required); err != nil {
			return fmt.Errorf("seed gate %s: %w", gate.GateID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO classifications (project_id) VALUES ($1)
	`, project.ID); err != nil {
		return fmt.Errorf("seed classification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var project Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phase, reassess_count, wu_total, wu_initialized, version, created_by, created_at, updated_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&project.ID, &project.Name, &project.Phase, &project.ReassessCount, &project.WUTotal,
		&project.WUInitialized, &project.Version, &project.CreatedBy, &project.CreatedAt, &project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("lookup project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phase, reassess_count, wu_total, wu_initialized, version, created_by, created_at, updated_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var project Project
		if err := rows.Scan(&project.ID, &project.Name, &project.Phase, &project.ReassessCount, &project.WUTotal,
			&project.WUInitialized, &project.Version, &project.CreatedBy, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// AdvancePhase moves the phase pointer and records the transition in one transaction.
func (s *PostgresStore) AdvancePhase(ctx context.Context, projectID string, expectedVersion int, toPhase string, transition PhaseTransition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin advance phase: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE projects SET phase = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, projectID, expectedVersion, toPhase)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	if err := insertPhaseTransition(ctx, tx, transition); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit advance phase: %w", err)
	}
	return nil
}

// Reassess moves the phase pointer backward, bumps the reassessment counter,
// supersedes artifacts of the undone phases when asked, and records the
// transition. All of it commits or none of it does.
func (s *PostgresStore) Reassess(ctx context.Context, projectID string, expectedVersion int, toPhase string, supersedePhases []string, transition PhaseTransition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reassess: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE projects SET phase = $3, reassess_count = reassess_count + 1, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`, projectID, expectedVersion, toPhase)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	for _, phase := range supersedePhases {
		if _, err := tx.ExecContext(ctx, `
			UPDATE project_artifacts SET status = 'SUPERSEDED', superseded_at = NOW()
			WHERE project_id = $1 AND phase = $2 AND status = 'ACTIVE'
		`, projectID, phase); err != nil {
			return fmt.Errorf("supersede artifacts for %s: %w", phase, err)
		}
	}

	if err := insertPhaseTransition(ctx, tx, transition); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reassess: %w", err)
	}
	return nil
}

func insertPhaseTransition(ctx context.Context, tx *sql.Tx, t PhaseTransition) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO phase_history (id, project_id, from_phase, to_phase, kind, level, reason, review_summary, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.ProjectID, t.FromPhase, t.ToPhase, t.Kind, t.Level, t.Reason, t.ReviewSummary, t.Actor)
	if err != nil {
		return fmt.Errorf("insert phase transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPhaseHistory(ctx context.Context, projectID string, limit int) ([]PhaseTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, from_phase, to_phase, kind, level, reason, review_summary, actor, created_at
		FROM phase_history WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list phase history: %w", err)
	}
	defer rows.Close()

	var history []PhaseTransition
	for rows.Next() {
		var t PhaseTransition
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.FromPhase, &t.ToPhase, &t.Kind, &t.Level, &t.Reason, &t.ReviewSummary, &t.Actor, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan phase transition: %w", err)
		}
		history = append(history, t)
	}
	return history, rows.Err()
}

func (s *PostgresStore) InsertProjectArtifact(ctx context.Context, artifact ProjectArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_artifacts (id, project_id, phase, name, content, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, artifact.ID, artifact.ProjectID, artifact.Phase, artifact.Name, artifact.Content, artifact.Status)
	if err != nil {
		return fmt.Errorf("insert project artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectArtifacts(ctx context.Context, projectID string) ([]ProjectArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, phase, name, content, status, created_at, superseded_at
		FROM project_artifacts WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []ProjectArtifact
	for rows.Next() {
		var a ProjectArtifact
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Phase, &a.Name, &a.Content, &a.Status, &a.CreatedAt, &a.SupersededAt); err != nil {
			return nil, fmt.Errorf("scan project artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Gates

func (s *PostgresStore) ListGates(ctx context.Context, projectID string) ([]Gate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, gate_id, category, label, remediation, passed, required, updated_at
		FROM gates WHERE project_id = $1 ORDER BY gate_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	defer rows.Close()

	var gates []Gate
	for rows.Next() {
		var gate Gate
		if err := rows.Scan(&gate.ProjectID, &gate.GateID, &gate.Category, &gate.Label, &gate.Remediation, &gate.Passed, &gate.Required, &gate.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		gates = append(gates, gate)
	}
	return gates, rows.Err()
}

func (s *PostgresStore) GetGate(ctx context.Context, projectID, gateID string) (Gate, error) {
	var gate Gate
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, gate_id, category, label, remediation, passed, required, updated_at
		FROM gates WHERE project_id = $1 AND gate_id = $2
	`, projectID, gateID).Scan(&gate.ProjectID, &gate.GateID, &gate.Category, &gate.Label, &gate.Remediation, &gate.Passed, &gate.Required, &gate.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Gate{}, ErrNotFound
	}
	if err != nil {
		return Gate{}, fmt.Errorf("lookup gate: %w", err)
	}
	return gate, nil
}

func (s *PostgresStore) SetGate(ctx context.Context, projectID, gateID string, passed bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE gates SET passed = $3, updated_at = NOW() WHERE project_id = $1 AND gate_id = $2
	`, projectID, gateID, passed)
	if err != nil {
		return fmt.Errorf("set gate: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set gate rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Classification

func (s *PostgresStore) GetClassification(ctx context.Context, projectID string) (Classification, error) {
	var c Classification
	var regulations []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, pii, phi, financial, legal, minor_data, jurisdiction, regulations, ai_exposure, updated_at
		FROM classifications WHERE project_id = $1
	`, projectID).Scan(&c.ProjectID, &c.PII, &c.PHI, &c.Financial, &c.Legal, &c.MinorData, &c.Jurisdiction, &regulations, &c.AIExposure, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Classification{}, ErrNotFound
	}
	if err != nil {
		return Classification{}, fmt.Errorf("lookup classification: %w", err)
	}
	if err := json.Unmarshal(regulations, &c.Regulations); err != nil {
		return Classification{}, fmt.Errorf("decode regulations: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SaveClassification(ctx context.Context, c Classification) error {
	regulations, err := json.Marshal(c.Regulations)
	if err != nil {
		return fmt.Errorf("encode regulations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifications (project_id, pii, phi, financial, legal, minor_data, jurisdiction, regulations, ai_exposure, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (project_id) DO UPDATE SET
			pii = EXCLUDED.pii, phi = EXCLUDED.phi, financial = EXCLUDED.financial,
			legal = EXCLUDED.legal, minor_data = EXCLUDED.minor_data,
			jurisdiction = EXCLUDED.jurisdiction, regulations = EXCLUDED.regulations,
			ai_exposure = EXCLUDED.ai_exposure, updated_at = NOW()
	`, c.ProjectID, c.PII, c.PHI, c.Financial, c.Legal, c.MinorData, c.Jurisdiction, regulations, c.AIExposure)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

// Audit events

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, project_id, event_type, actor, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.ProjectID, event.EventType, event.Actor, detail)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, projectID string, limit, offset int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, event_type, actor, detail, created_at
		FROM audit_events WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var event AuditEvent
		var detail []byte
		if err := rows.Scan(&event.ID, &event.ProjectID, &event.EventType, &event.Actor, &detail, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if err := json.Unmarshal(detail, &event.Detail); err != nil {
			return nil, fmt.Errorf("decode audit detail: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *PostgresStore) InsertExposureLog(ctx context.Context, entry ExposureLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_exposure_log (id, project_id, exposure, allowed, reason)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.ProjectID, entry.Exposure, entry.Allowed, entry.Reason)
	if err != nil {
		return fmt.Errorf("insert exposure log: %w", err)
	}
	return nil
}
