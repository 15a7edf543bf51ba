package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across scopes, deliverables, incidents
// and audit events using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	projectFilter := ""
	if q.FilterProjectID != "" {
		projectFilter = fmt.Sprintf(" AND project_id = $%d", argN)
		args = append(args, q.FilterProjectID)
	}

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultScope {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'scope'::text AS type, id, name AS title,
				ts_headline('english', coalesce(purpose, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				project_id, id AS scope_id, status,
				ts_rank(fts, %s) AS rank
			FROM scopes
			WHERE fts @@ %s%s`, tsQuery, tsQuery, tsQuery, projectFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultDeliverable {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'deliverable'::text AS type, id, name AS title,
				ts_headline('english', coalesce(description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				project_id, scope_id, status,
				ts_rank(fts, %s) AS rank
			FROM deliverables
			WHERE fts @@ %s%s`, tsQuery, tsQuery, tsQuery, projectFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultIncident {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'incident'::text AS type, id, incident_number AS title,
				ts_headline('english', coalesce(exposure_description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				project_id, ''::text AS scope_id, status,
				ts_rank(fts, %s) AS rank
			FROM ccs_incidents
			WHERE fts @@ %s%s`, tsQuery, tsQuery, tsQuery, projectFilter))
	}

	if q.FilterType == "" || q.FilterType == ResultAuditEvent {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'audit_event'::text AS type, id, event_type AS title,
				actor AS snippet,
				project_id, ''::text AS scope_id, ''::text AS status,
				ts_rank(fts, %s) AS rank
			FROM audit_events
			WHERE fts @@ %s%s`, tsQuery, tsQuery, projectFilter))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, scope_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.ScopeID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ScopeRecord, []DeliverableRecord, []IncidentRecord, error) {
	scopeRows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, name, purpose
		FROM scopes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load scopes: %w", err)
	}
	defer scopeRows.Close()

	scopes := make([]ScopeRecord, 0)
	for scopeRows.Next() {
		var s ScopeRecord
		if err := scopeRows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Purpose); err != nil {
			return nil, nil, nil, fmt.Errorf("scan scope: %w", err)
		}
		scopes = append(scopes, s)
	}
	if err := scopeRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate scopes: %w", err)
	}

	deliverableRows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, scope_id, name, description
		FROM deliverables
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load deliverables: %w", err)
	}
	defer deliverableRows.Close()

	deliverables := make([]DeliverableRecord, 0)
	for deliverableRows.Next() {
		var d DeliverableRecord
		if err := deliverableRows.Scan(&d.ID, &d.ProjectID, &d.ScopeID, &d.Name, &d.Description); err != nil {
			return nil, nil, nil, fmt.Errorf("scan deliverable: %w", err)
		}
		deliverables = append(deliverables, d)
	}
	if err := deliverableRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate deliverables: %w", err)
	}

	incidentRows, err := p.db.QueryContext(ctx, `
		SELECT id, project_id, incident_number, status, credential_name
		FROM ccs_incidents
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load incidents: %w", err)
	}
	defer incidentRows.Close()

	incidents := make([]IncidentRecord, 0)
	for incidentRows.Next() {
		var i IncidentRecord
		if err := incidentRows.Scan(&i.ID, &i.ProjectID, &i.IncidentNumber, &i.Status, &i.CredentialName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, i)
	}
	if err := incidentRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return scopes, deliverables, incidents, nil
}
