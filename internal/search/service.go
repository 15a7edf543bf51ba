package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexScope indexes a scope (fire-and-forget to Meilisearch).
func (s *Service) IndexScope(record ScopeRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.IndexScope(record); err != nil {
			log.Printf("search: index scope %s: %v", record.ID, err)
		}
	}()
	return nil
}

// IndexDeliverable indexes a deliverable (fire-and-forget to Meilisearch).
func (s *Service) IndexDeliverable(record DeliverableRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.IndexDeliverable(record); err != nil {
			log.Printf("search: index deliverable %s: %v", record.ID, err)
		}
	}()
	return nil
}

// IndexIncident indexes a credential incident (fire-and-forget to Meilisearch).
func (s *Service) IndexIncident(record IncidentRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.IndexIncident(record); err != nil {
			log.Printf("search: index incident %s: %v", record.ID, err)
		}
	}()
	return nil
}

// IndexAuditEvent indexes an audit event (fire-and-forget to Meilisearch).
func (s *Service) IndexAuditEvent(record AuditEventRecord) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.IndexAuditEvent(record); err != nil {
			log.Printf("search: index audit event %s: %v", record.ID, err)
		}
	}()
	return nil
}

// DeleteScope removes a scope from the search index (fire-and-forget).
func (s *Service) DeleteScope(id string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.DeleteScope(id); err != nil {
			log.Printf("search: delete scope %s: %v", id, err)
		}
	}()
	return nil
}

// DeleteDeliverable removes a deliverable from the search index (fire-and-forget).
func (s *Service) DeleteDeliverable(id string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	go func() {
		if err := s.meili.DeleteDeliverable(id); err != nil {
			log.Printf("search: delete deliverable %s: %v", id, err)
		}
	}()
	return nil
}

// ReindexAll pushes the given records to Meilisearch in bulk.
func (s *Service) ReindexAll(scopes []ScopeRecord, deliverables []DeliverableRecord, incidents []IncidentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(scopes) > 0 {
		if err := s.meili.IndexScopes(scopes); err != nil {
			log.Printf("search: reindex scopes: %v", err)
		}
	}
	if len(deliverables) > 0 {
		if err := s.meili.IndexDeliverables(deliverables); err != nil {
			log.Printf("search: reindex deliverables: %v", err)
		}
	}
	if len(incidents) > 0 {
		if err := s.meili.IndexIncidents(incidents); err != nil {
			log.Printf("search: reindex incidents: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	scopes, deliverables, incidents, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(scopes, deliverables, incidents)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
