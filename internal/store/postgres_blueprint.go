package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// BlueprintSnapshot is a consistent view of a project's blueprint used by the
// integrity validator and the readiness engine.
type BlueprintSnapshot struct {
	Project      Project
	Scopes       []Scope
	Deliverables []Deliverable
}

// GetBlueprintSnapshot reads the project, scopes, and deliverables inside one
// repeatable-read transaction so a validation run never sees a partial write.
func (s *PostgresStore) GetBlueprintSnapshot(ctx context.Context, projectID string) (BlueprintSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return BlueprintSnapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var snapshot BlueprintSnapshot
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, phase, reassess_count, wu_total, wu_initialized, version, created_by, created_at, updated_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&snapshot.Project.ID, &snapshot.Project.Name, &snapshot.Project.Phase,
		&snapshot.Project.ReassessCount, &snapshot.Project.WUTotal, &snapshot.Project.WUInitialized,
		&snapshot.Project.Version, &snapshot.Project.CreatedBy, &snapshot.Project.CreatedAt, &snapshot.Project.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return BlueprintSnapshot{}, ErrNotFound
	}
	if err != nil {
		return BlueprintSnapshot{}, fmt.Errorf("snapshot project: %w", err)
	}

	snapshot.Scopes, err = scanScopes(ctx, tx, projectID)
	if err != nil {
		return BlueprintSnapshot{}, err
	}
	snapshot.Deliverables, err = scanDeliverables(ctx, tx, projectID)
	if err != nil {
		return BlueprintSnapshot{}, err
	}

	if err := tx.Commit(); err != nil {
		return BlueprintSnapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}
	return snapshot, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanScopes(ctx context.Context, q queryer, projectID string) ([]Scope, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, project_id, tier, parent_scope_id, name, purpose, boundary, assumptions, assumption_status,
		       status, allocated_wu, verified_wu, created_at, updated_at
		FROM scopes WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []Scope
	for rows.Next() {
		var scope Scope
		var assumptions []byte
		if err := rows.Scan(&scope.ID, &scope.ProjectID, &scope.Tier, &scope.ParentScopeID, &scope.Name,
			&scope.Purpose, &scope.Boundary, &assumptions, &scope.AssumptionStatus, &scope.Status,
			&scope.AllocatedWU, &scope.VerifiedWU, &scope.CreatedAt, &scope.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		if err := json.Unmarshal(assumptions, &scope.Assumptions); err != nil {
			return nil, fmt.Errorf("decode assumptions: %w", err)
		}
		scopes = append(scopes, scope)
	}
	return scopes, rows.Err()
}

func scanDeliverables(ctx context.Context, q queryer, projectID string) ([]Deliverable, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, project_id, scope_id, name, description, dod_evidence_spec, dod_verification_method,
		       dod_quality_bar, dod_failure_modes, upstream_deps, dependency_type, status, dmaic_phase,
		       created_at, updated_at
		FROM deliverables WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list deliverables: %w", err)
	}
	defer rows.Close()

	var deliverables []Deliverable
	for rows.Next() {
		var d Deliverable
		var deps []byte
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.ScopeID, &d.Name, &d.Description, &d.DoDEvidenceSpec,
			&d.DoDVerificationMethod, &d.DoDQualityBar, &d.DoDFailureModes, &deps, &d.DependencyType,
			&d.Status, &d.DMAICPhase, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan deliverable: %w", err)
		}
		if err := json.Unmarshal(deps, &d.UpstreamDeps); err != nil {
			return nil, fmt.Errorf("decode upstream deps: %w", err)
		}
		deliverables = append(deliverables, d)
	}
	return deliverables, rows.Err()
}

func (s *PostgresStore) ListScopes(ctx context.Context, projectID string) ([]Scope, error) {
	return scanScopes(ctx, s.db, projectID)
}

func (s *PostgresStore) ListDeliverables(ctx context.Context, projectID string) ([]Deliverable, error) {
	return scanDeliverables(ctx, s.db, projectID)
}

func (s *PostgresStore) GetScope(ctx context.Context, projectID, scopeID string) (Scope, error) {
	scopes, err := scanScopes(ctx, s.db, projectID)
	if err != nil {
		return Scope{}, err
	}
	for _, scope := range scopes {
		if scope.ID == scopeID {
			return scope, nil
		}
	}
	return Scope{}, ErrNotFound
}

func (s *PostgresStore) GetDeliverable(ctx context.Context, projectID, deliverableID string) (Deliverable, error) {
	deliverables, err := scanDeliverables(ctx, s.db, projectID)
	if err != nil {
		return Deliverable{}, err
	}
	for _, d := range deliverables {
		if d.ID == deliverableID {
			return d, nil
		}
	}
	return Deliverable{}, ErrNotFound
}

func (s *PostgresStore) InsertScope(ctx context.Context, scope Scope) error {
	assumptions, err := json.Marshal(scope.Assumptions)
	if err != nil {
		return fmt.Errorf("encode assumptions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scopes (id, project_id, tier, parent_scope_id, name, purpose, boundary, assumptions, assumption_status, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, scope.ID, scope.ProjectID, scope.Tier, scope.ParentScopeID, scope.Name, scope.Purpose, scope.Boundary,
		assumptions, scope.AssumptionStatus, scope.Status)
	if err != nil {
		return fmt.Errorf("insert scope: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateScope(ctx context.Context, scope Scope) error {
	assumptions, err := json.Marshal(scope.Assumptions)
	if err != nil {
		return fmt.Errorf("encode assumptions: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE scopes SET name = $3, purpose = $4, boundary = $5, assumptions = $6, assumption_status = $7,
		       status = $8, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
	`, scope.ID, scope.ProjectID, scope.Name, scope.Purpose, scope.Boundary, assumptions, scope.AssumptionStatus, scope.Status)
	if err != nil {
		return fmt.Errorf("update scope: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update scope rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteScope removes a scope, its sub-scopes, and all their deliverables,
// then scrubs dangling upstream references from the remaining deliverables.
func (s *PostgresStore) DeleteScope(ctx context.Context, projectID, scopeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete scope: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	scopeIDs := []string{scopeID}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM scopes WHERE project_id = $1 AND parent_scope_id = $2`, projectID, scopeID)
	if err != nil {
		return fmt.Errorf("list sub-scopes: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan sub-scope: %w", err)
		}
		scopeIDs = append(scopeIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list sub-scopes: %w", err)
	}

	removed := make(map[string]struct{})
	for _, id := range scopeIDs {
		deliverableRows, err := tx.QueryContext(ctx, `SELECT id FROM deliverables WHERE scope_id = $1`, id)
		if err != nil {
			return fmt.Errorf("list scope deliverables: %w", err)
		}
		for deliverableRows.Next() {
			var did string
			if err := deliverableRows.Scan(&did); err != nil {
				deliverableRows.Close()
				return fmt.Errorf("scan deliverable id: %w", err)
			}
			removed[did] = struct{}{}
		}
		deliverableRows.Close()
		if err := deliverableRows.Err(); err != nil {
			return fmt.Errorf("list scope deliverables: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM deliverables WHERE scope_id = $1`, id); err != nil {
			return fmt.Errorf("delete scope deliverables: %w", err)
		}
	}

	var deleted int64
	for _, id := range scopeIDs {
		result, err := tx.ExecContext(ctx, `DELETE FROM scopes WHERE project_id = $1 AND id = $2`, projectID, id)
		if err != nil {
			return fmt.Errorf("delete scope %s: %w", id, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete scope rows: %w", err)
		}
		deleted += affected
	}
	if deleted == 0 {
		return ErrNotFound
	}

	if err := scrubUpstreamDeps(ctx, tx, projectID, removed); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete scope: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDeliverable(ctx context.Context, d Deliverable) error {
	deps, err := json.Marshal(d.UpstreamDeps)
	if err != nil {
		return fmt.Errorf("encode upstream deps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliverables (id, project_id, scope_id, name, description, dod_evidence_spec,
			dod_verification_method, dod_quality_bar, dod_failure_modes, upstream_deps, dependency_type, status, dmaic_phase)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, d.ID, d.ProjectID, d.ScopeID, d.Name, d.Description, d.DoDEvidenceSpec, d.DoDVerificationMethod,
		d.DoDQualityBar, d.DoDFailureModes, deps, d.DependencyType, d.Status, d.DMAICPhase)
	if err != nil {
		return fmt.Errorf("insert deliverable: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDeliverable(ctx context.Context, d Deliverable) error {
	deps, err := json.Marshal(d.UpstreamDeps)
	if err != nil {
		return fmt.Errorf("encode upstream deps: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE deliverables SET name = $3, description = $4, dod_evidence_spec = $5, dod_verification_method = $6,
		       dod_quality_bar = $7, dod_failure_modes = $8, upstream_deps = $9, dependency_type = $10,
		       status = $11, dmaic_phase = $12, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
	`, d.ID, d.ProjectID, d.Name, d.Description, d.DoDEvidenceSpec, d.DoDVerificationMethod, d.DoDQualityBar,
		d.DoDFailureModes, deps, d.DependencyType, d.Status, d.DMAICPhase)
	if err != nil {
		return fmt.Errorf("update deliverable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update deliverable rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDeliverable removes a deliverable and scrubs it from every other
// deliverable's upstream references.
func (s *PostgresStore) DeleteDeliverable(ctx context.Context, projectID, deliverableID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete deliverable: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM deliverables WHERE project_id = $1 AND id = $2`, projectID, deliverableID)
	if err != nil {
		return fmt.Errorf("delete deliverable: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete deliverable rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := scrubUpstreamDeps(ctx, tx, projectID, map[string]struct{}{deliverableID: {}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete deliverable: %w", err)
	}
	return nil
}

func scrubUpstreamDeps(ctx context.Context, tx *sql.Tx, projectID string, removed map[string]struct{}) error {
	if len(removed) == 0 {
		return nil
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, upstream_deps FROM deliverables WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("list deps for scrub: %w", err)
	}

	type patch struct {
		id   string
		deps []string
	}
	var patches []patch
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("scan deps for scrub: %w", err)
		}
		var deps []string
		if err := json.Unmarshal(raw, &deps); err != nil {
			rows.Close()
			return fmt.Errorf("decode deps for scrub: %w", err)
		}
		kept := deps[:0]
		changed := false
		for _, dep := range deps {
			if _, gone := removed[dep]; gone {
				changed = true
				continue
			}
			kept = append(kept, dep)
		}
		if changed {
			patches = append(patches, patch{id: id, deps: append([]string(nil), kept...)})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list deps for scrub: %w", err)
	}

	for _, p := range patches {
		encoded, err := json.Marshal(p.deps)
		if err != nil {
			return fmt.Errorf("encode scrubbed deps: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE deliverables SET upstream_deps = $2, updated_at = NOW() WHERE id = $1`, p.id, encoded); err != nil {
			return fmt.Errorf("scrub deps on %s: %w", p.id, err)
		}
	}
	return nil
}

// ImportBlueprint replaces nothing; it inserts the given scopes and
// deliverables atomically so a half-imported blueprint never becomes visible.
func (s *PostgresStore) ImportBlueprint(ctx context.Context, projectID string, scopes []Scope, deliverables []Deliverable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, scope := range scopes {
		assumptions, err := json.Marshal(scope.Assumptions)
		if err != nil {
			return fmt.Errorf("encode assumptions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scopes (id, project_id, tier, parent_scope_id, name, purpose, boundary, assumptions, assumption_status, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, scope.ID, scope.ProjectID, scope.Tier, scope.ParentScopeID, scope.Name, scope.Purpose, scope.Boundary,
			assumptions, scope.AssumptionStatus, scope.Status); err != nil {
			return fmt.Errorf("import scope %s: %w", scope.Name, err)
		}
	}
	for _, d := range deliverables {
		deps, err := json.Marshal(d.UpstreamDeps)
		if err != nil {
			return fmt.Errorf("encode upstream deps: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deliverables (id, project_id, scope_id, name, description, dod_evidence_spec,
				dod_verification_method, dod_quality_bar, dod_failure_modes, upstream_deps, dependency_type, status, dmaic_phase)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, d.ID, d.ProjectID, d.ScopeID, d.Name, d.Description, d.DoDEvidenceSpec, d.DoDVerificationMethod,
			d.DoDQualityBar, d.DoDFailureModes, deps, d.DependencyType, d.Status, d.DMAICPhase); err != nil {
			return fmt.Errorf("import deliverable %s: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// Integrity reports

func (s *PostgresStore) InsertIntegrityReport(ctx context.Context, report IntegrityReport) error {
	checks, err := json.Marshal(report.Checks)
	if err != nil {
		return fmt.Errorf("encode checks: %w", err)
	}
	totals, err := json.Marshal(report.Totals)
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrity_reports (id, project_id, run_at, all_passed, checks, totals)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, report.ID, report.ProjectID, report.RunAt, report.AllPassed, checks, totals)
	if err != nil {
		return fmt.Errorf("insert integrity report: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestIntegrityReport(ctx context.Context, projectID string) (IntegrityReport, error) {
	var report IntegrityReport
	var checks, totals []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, run_at, all_passed, checks, totals
		FROM integrity_reports WHERE project_id = $1 ORDER BY run_at DESC LIMIT 1
	`, projectID).Scan(&report.ID, &report.ProjectID, &report.RunAt, &report.AllPassed, &checks, &totals)
	if errors.Is(err, sql.ErrNoRows) {
		return IntegrityReport{}, ErrNotFound
	}
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("latest integrity report: %w", err)
	}
	if err := json.Unmarshal(checks, &report.Checks); err != nil {
		return IntegrityReport{}, fmt.Errorf("decode checks: %w", err)
	}
	if err := json.Unmarshal(totals, &report.Totals); err != nil {
		return IntegrityReport{}, fmt.Errorf("decode totals: %w", err)
	}
	return report, nil
}

// Reconciliation

func (s *PostgresStore) ListReconciliationItems(ctx context.Context, projectID string) ([]ReconciliationItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, list, item, position, created_at
		FROM reconciliation_items WHERE project_id = $1 ORDER BY list, position
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation items: %w", err)
	}
	defer rows.Close()

	var items []ReconciliationItem
	for rows.Next() {
		var item ReconciliationItem
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.List, &item.Item, &item.Position, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reconciliation item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReplaceReconciliationItems swaps a project's triad in one transaction.
func (s *PostgresStore) ReplaceReconciliationItems(ctx context.Context, projectID string, items []ReconciliationItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace reconciliation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reconciliation_items WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear reconciliation items: %w", err)
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reconciliation_items (id, project_id, list, item, position)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, item.ProjectID, item.List, item.Item, item.Position); err != nil {
			return fmt.Errorf("insert reconciliation item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace reconciliation: %w", err)
	}
	return nil
}

// Work units

func (s *PostgresStore) InitializeWU(ctx context.Context, projectID string, total int, audit WUAuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wu init: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE projects SET wu_total = $2, wu_initialized = TRUE, updated_at = NOW()
		WHERE id = $1 AND wu_initialized = FALSE
	`, projectID, total)
	if err != nil {
		return fmt.Errorf("initialize wu: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("initialize wu rows: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}

	if err := insertWUAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wu init: %w", err)
	}
	return nil
}

// AllocateWU writes per-scope allocations in one transaction.
func (s *PostgresStore) AllocateWU(ctx context.Context, projectID string, allocations map[string]int, audits []WUAuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wu allocate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for scopeID, amount := range allocations {
		result, err := tx.ExecContext(ctx, `
			UPDATE scopes SET allocated_wu = $3, updated_at = NOW() WHERE project_id = $1 AND id = $2
		`, projectID, scopeID, amount)
		if err != nil {
			return fmt.Errorf("allocate wu to %s: %w", scopeID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("allocate wu rows: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
	}
	for _, audit := range audits {
		if err := insertWUAudit(ctx, tx, audit); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wu allocate: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetScopeVerifiedWU(ctx context.Context, projectID, scopeID string, verified int, audit WUAuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wu transfer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE scopes SET verified_wu = $3, updated_at = NOW() WHERE project_id = $1 AND id = $2
	`, projectID, scopeID, verified)
	if err != nil {
		return fmt.Errorf("transfer wu: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer wu rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := insertWUAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wu transfer: %w", err)
	}
	return nil
}

func insertWUAudit(ctx context.Context, tx *sql.Tx, entry WUAuditEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wu_audit_log (id, project_id, scope_id, action, amount, detail, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ProjectID, nullableText(entry.ScopeID), entry.Action, entry.Amount, entry.Detail, entry.Actor)
	if err != nil {
		return fmt.Errorf("insert wu audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWUAudit(ctx context.Context, projectID string, limit, offset int) ([]WUAuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, COALESCE(scope_id, ''), action, amount, detail, actor, created_at
		FROM wu_audit_log WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list wu audit: %w", err)
	}
	defer rows.Close()

	var entries []WUAuditEntry
	for rows.Next() {
		var entry WUAuditEntry
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.ScopeID, &entry.Action, &entry.Amount, &entry.Detail, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wu audit: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}
