package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxScopes       = "warden_scopes"
	idxDeliverables = "warden_deliverables"
	idxIncidents    = "warden_incidents"
	idxAuditEvents  = "warden_audit_events"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The instance
// is returned even when the initial connection fails; the health loop keeps
// trying in the background.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxScopes,
			primaryKey: "id",
			filterable: []string{"projectId"},
			searchable: []string{"name", "purpose"},
		},
		{
			uid:        idxDeliverables,
			primaryKey: "id",
			filterable: []string{"projectId", "scopeId"},
			searchable: []string{"name", "description"},
		},
		{
			uid:        idxIncidents,
			primaryKey: "id",
			filterable: []string{"projectId", "status"},
			searchable: []string{"incidentNumber", "credentialName"},
		},
		{
			uid:        idxAuditEvents,
			primaryKey: "id",
			filterable: []string{"projectId", "eventType"},
			searchable: []string{"eventType", "actor"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all four indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxScopes, ResultScope},
		{idxDeliverables, ResultDeliverable},
		{idxIncidents, ResultIncident},
		{idxAuditEvents, ResultAuditEvent},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterProjectID != "" {
			sr.Filter = []string{fmt.Sprintf("projectId = %q", q.FilterProjectID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxScopes:
		return ResultScope
	case idxDeliverables:
		return ResultDeliverable
	case idxIncidents:
		return ResultIncident
	case idxAuditEvents:
		return ResultAuditEvent
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.ProjectID = decodeString(hit, "projectId")
	r.ScopeID = decodeString(hit, "scopeId")
	r.Status = decodeString(hit, "status")

	switch rtyp {
	case ResultScope:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "purpose"), decodeString(hit, "purpose"))
		r.ScopeID = r.ID
	case ResultDeliverable:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	case ResultIncident:
		r.Title = firstNonBlank(decodeFormattedString(hit, "incidentNumber"), decodeString(hit, "incidentNumber"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "credentialName"), decodeString(hit, "credentialName"))
	case ResultAuditEvent:
		r.Title = firstNonBlank(decodeFormattedString(hit, "eventType"), decodeString(hit, "eventType"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "actor"), decodeString(hit, "actor"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexScope adds or updates a scope in the search index.
func (m *Meili) IndexScope(s ScopeRecord) error {
	_, err := m.client.Index(idxScopes).AddDocuments([]ScopeRecord{s}, nil)
	return err
}

// IndexDeliverable adds or updates a deliverable in the search index.
func (m *Meili) IndexDeliverable(d DeliverableRecord) error {
	_, err := m.client.Index(idxDeliverables).AddDocuments([]DeliverableRecord{d}, nil)
	return err
}

// IndexIncident adds or updates an incident in the search index.
func (m *Meili) IndexIncident(i IncidentRecord) error {
	_, err := m.client.Index(idxIncidents).AddDocuments([]IncidentRecord{i}, nil)
	return err
}

// IndexAuditEvent adds an audit event to the search index.
func (m *Meili) IndexAuditEvent(e AuditEventRecord) error {
	_, err := m.client.Index(idxAuditEvents).AddDocuments([]AuditEventRecord{e}, nil)
	return err
}

// DeleteScope removes a scope from the search index.
func (m *Meili) DeleteScope(id string) error {
	_, err := m.client.Index(idxScopes).DeleteDocument(id, nil)
	return err
}

// DeleteDeliverable removes a deliverable from the search index.
func (m *Meili) DeleteDeliverable(id string) error {
	_, err := m.client.Index(idxDeliverables).DeleteDocument(id, nil)
	return err
}

// IndexScopes bulk-indexes scopes.
func (m *Meili) IndexScopes(scopes []ScopeRecord) error {
	if len(scopes) == 0 {
		return nil
	}
	_, err := m.client.Index(idxScopes).AddDocuments(scopes, nil)
	return err
}

// IndexDeliverables bulk-indexes deliverables.
func (m *Meili) IndexDeliverables(deliverables []DeliverableRecord) error {
	if len(deliverables) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDeliverables).AddDocuments(deliverables, nil)
	return err
}

// IndexIncidents bulk-indexes incidents.
func (m *Meili) IndexIncidents(incidents []IncidentRecord) error {
	if len(incidents) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIncidents).AddDocuments(incidents, nil)
	return err
}
