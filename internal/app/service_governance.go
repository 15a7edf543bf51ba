package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"warden/api/internal/readiness"
	"warden/api/internal/store"
	"warden/api/internal/util"
)

// Reconciliation

type ReconciliationInput struct {
	Planned  []string `json:"planned"`
	Claimed  []string `json:"claimed"`
	Verified []string `json:"verified"`
}

func (s *Service) GetReconciliation(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := s.store.ListReconciliationItems(ctx, projectID)
	if err != nil {
		return nil, err
	}
	planned, claimed, verified := splitTriad(items)
	return reconciliationResponse(planned, claimed, verified), nil
}

// PutReconciliation replaces the whole triad. Divergences are recomputed on
// every write, never stored.
func (s *Service) PutReconciliation(ctx context.Context, projectID, actor string, input ReconciliationInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	planned := cleanItems(input.Planned)
	claimed := cleanItems(input.Claimed)
	verified := cleanItems(input.Verified)

	items := make([]store.ReconciliationItem, 0, len(planned)+len(claimed)+len(verified))
	appendList := func(list string, values []string) {
		for i, value := range values {
			items = append(items, store.ReconciliationItem{
				ID:        util.NewID("rec"),
				ProjectID: projectID,
				List:      list,
				Item:      value,
				Position:  i,
			})
		}
	}
	appendList("planned", planned)
	appendList("claimed", claimed)
	appendList("verified", verified)

	if err := s.store.ReplaceReconciliationItems(ctx, projectID, items); err != nil {
		return nil, err
	}
	response := reconciliationResponse(planned, claimed, verified)
	s.audit(ctx, projectID, "RECONCILIATION_UPDATED", actor, map[string]any{
		"planned":     len(planned),
		"claimed":     len(claimed),
		"verified":    len(verified),
		"divergences": len(response["divergences"].([]string)),
	})
	return response, nil
}

func cleanItems(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func splitTriad(items []store.ReconciliationItem) (planned, claimed, verified []string) {
	planned, claimed, verified = []string{}, []string{}, []string{}
	for _, item := range items {
		switch item.List {
		case "planned":
			planned = append(planned, item.Item)
		case "claimed":
			claimed = append(claimed, item.Item)
		case "verified":
			verified = append(verified, item.Item)
		}
	}
	return planned, claimed, verified
}

// itemsMatch is the reconciliation heuristic: case-insensitive substring
// containment in either direction. Deliberately no fuzzier than that.
func itemsMatch(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

func hasMatch(item string, list []string) bool {
	for _, other := range list {
		if itemsMatch(item, other) {
			return true
		}
	}
	return false
}

func computeDivergences(planned, claimed, verified []string) []string {
	divergences := []string{}
	for _, item := range claimed {
		if !hasMatch(item, verified) {
			divergences = append(divergences, fmt.Sprintf("CLAIMED %q is not VERIFIED", item))
		}
	}
	for _, item := range planned {
		if !hasMatch(item, claimed) {
			divergences = append(divergences, fmt.Sprintf("PLANNED %q is not CLAIMED", item))
		}
	}
	for _, item := range verified {
		if !hasMatch(item, planned) {
			divergences = append(divergences, fmt.Sprintf("VERIFIED %q was not PLANNED (scope creep?)", item))
		}
	}
	return divergences
}

func reconciliationResponse(planned, claimed, verified []string) map[string]any {
	divergences := computeDivergences(planned, claimed, verified)
	return map[string]any{
		"planned":      planned,
		"claimed":      claimed,
		"verified":     verified,
		"divergences":  divergences,
		"isReconciled": len(planned) > 0 && len(divergences) == 0 && len(verified) >= len(planned),
	}
}

// Work-unit ledger

type InitializeWUInput struct {
	Total int `json:"total"`
}

func (s *Service) InitializeWU(ctx context.Context, projectID, actor string, input InitializeWUInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if input.Total < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"WU total must be non-negative", nil)
	}
	audit := store.WUAuditEntry{
		ID:        util.NewID("wua"),
		ProjectID: projectID,
		Action:    "INITIALIZE",
		Amount:    input.Total,
		Detail:    fmt.Sprintf("budget initialized at %d WU", input.Total),
		Actor:     actor,
	}
	if err := s.store.InitializeWU(ctx, projectID, input.Total, audit); err != nil {
		if isConflict(err) {
			return nil, domainError(http.StatusConflict, "CONFLICT",
				"WU budget is already initialized for this project", nil)
		}
		return nil, err
	}
	s.audit(ctx, projectID, "WU_INITIALIZED", actor, map[string]any{"total": input.Total})
	return s.ConservationSnapshot(ctx, projectID)
}

type AllocateWUInput struct {
	Allocations map[string]int `json:"allocations"`
}

// AllocateWU sets per-scope allocations. The sum over all scopes, including
// those untouched by this call, must stay within the project total.
func (s *Service) AllocateWU(ctx context.Context, projectID, actor string, input AllocateWUInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !project.WUInitialized {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"WU budget must be initialized before allocation", nil)
	}
	if len(input.Allocations) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"At least one allocation is required", nil)
	}

	scopes, err := s.store.ListScopes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Scope, len(scopes))
	for _, scope := range scopes {
		byID[scope.ID] = scope
	}

	total := 0
	for _, scope := range scopes {
		if amount, ok := input.Allocations[scope.ID]; ok {
			total += amount
		} else {
			total += scope.AllocatedWU
		}
	}
	audits := make([]store.WUAuditEntry, 0, len(input.Allocations))
	for scopeID, amount := range input.Allocations {
		scope, ok := byID[scopeID]
		if !ok {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Scope "+scopeID+" does not exist", nil)
		}
		if amount < 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Allocations must be non-negative", map[string]any{"scopeId": scopeID})
		}
		if scope.Status == "LOCKED" || scope.Status == "CANCELLED" {
			return nil, domainError(http.StatusConflict, "CONFLICT",
				"Scope "+scopeID+" is "+scope.Status+" and cannot be reallocated", nil)
		}
		if amount < scope.VerifiedWU {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Allocation cannot drop below already-verified WU",
				map[string]any{"scopeId": scopeID, "verifiedWu": scope.VerifiedWU})
		}
		audits = append(audits, store.WUAuditEntry{
			ID:        util.NewID("wua"),
			ProjectID: projectID,
			ScopeID:   scopeID,
			Action:    "ALLOCATE",
			Amount:    amount,
			Detail:    fmt.Sprintf("allocation set to %d WU", amount),
			Actor:     actor,
		})
	}
	if total > project.WUTotal {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			fmt.Sprintf("Allocations sum to %d WU, exceeding the project total of %d", total, project.WUTotal),
			map[string]any{"allocated": total, "total": project.WUTotal})
	}

	if err := s.store.AllocateWU(ctx, projectID, input.Allocations, audits); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "WU_ALLOCATED", actor, map[string]any{"scopes": len(input.Allocations)})
	return s.ConservationSnapshot(ctx, projectID)
}

type TransferWUInput struct {
	ScopeID string `json:"scopeId"`
	// Amount overrides the readiness-derived transfer when positive.
	Amount int `json:"amount,omitempty"`
}

// TransferWU moves work units from allocated to verified as a scope
// completes. The default transfer is allocated multiplied by the scope's
// readiness score, never exceeding what remains unverified.
func (s *Service) TransferWU(ctx context.Context, projectID, actor string, input TransferWUInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !snapshot.Project.WUInitialized {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"WU budget must be initialized before transfer", nil)
	}
	var scope store.Scope
	found := false
	for _, candidate := range snapshot.Scopes {
		if candidate.ID == input.ScopeID {
			scope = candidate
			found = true
			break
		}
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Scope "+input.ScopeID+" does not exist", nil)
	}
	if scope.Status == "LOCKED" || scope.Status == "CANCELLED" {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"Scope "+scope.ID+" is "+scope.Status+" and its WU ledger is immutable", nil)
	}
	if input.Amount < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Transfer amount must be non-negative", nil)
	}

	remaining := scope.AllocatedWU - scope.VerifiedWU
	if remaining <= 0 {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"Scope "+scope.ID+" has no unverified WU left to transfer", nil)
	}
	transfer := input.Amount
	if transfer == 0 {
		factors := s.scopeReadiness(ctx, snapshot, scope)
		transfer = int(float64(scope.AllocatedWU) * factors.R)
	}
	if transfer > remaining {
		transfer = remaining
	}
	if transfer <= 0 {
		return nil, domainError(http.StatusConflict, "CONFLICT",
			"Readiness is too low to transfer any WU for scope "+scope.ID, nil)
	}

	verified := scope.VerifiedWU + transfer
	audit := store.WUAuditEntry{
		ID:        util.NewID("wua"),
		ProjectID: projectID,
		ScopeID:   scope.ID,
		Action:    "TRANSFER",
		Amount:    transfer,
		Detail:    fmt.Sprintf("verified WU raised to %d of %d allocated", verified, scope.AllocatedWU),
		Actor:     actor,
	}
	if err := s.store.SetScopeVerifiedWU(ctx, projectID, scope.ID, verified, audit); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "WU_TRANSFERRED", actor, map[string]any{
		"scopeId":  scope.ID,
		"amount":   transfer,
		"verified": verified,
	})
	return s.ConservationSnapshot(ctx, projectID)
}

// Readiness and dashboards

func (s *Service) scopeReadiness(ctx context.Context, snapshot store.BlueprintSnapshot, scope store.Scope) readiness.Factors {
	deliverables := readinessDeliverables(snapshot, scope)
	integrityPassed := false
	if report, err := s.store.LatestIntegrityReport(ctx, snapshot.Project.ID); err == nil {
		integrityPassed = report.AllPassed
	}
	return readiness.Compute(s.readiness, scope, deliverables, integrityPassed)
}

func (s *Service) Readiness(ctx context.Context, projectID string) ([]readiness.Factors, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	integrityPassed := false
	if report, err := s.store.LatestIntegrityReport(ctx, projectID); err == nil {
		integrityPassed = report.AllPassed
	} else if !isNotFound(err) {
		return nil, err
	}

	factors := make([]readiness.Factors, 0, len(snapshot.Scopes))
	for _, scope := range snapshot.Scopes {
		factors = append(factors, readiness.Compute(s.readiness, scope, readinessDeliverables(snapshot, scope), integrityPassed))
	}
	return factors, nil
}

// readinessDeliverables collects a scope's own deliverables plus those of its
// direct sub-scopes, so a tier-1 scope is scored over everything under it.
func readinessDeliverables(snapshot store.BlueprintSnapshot, scope store.Scope) []store.Deliverable {
	children := make(map[string]struct{})
	for _, candidate := range snapshot.Scopes {
		if candidate.ParentScopeID != nil && *candidate.ParentScopeID == scope.ID {
			children[candidate.ID] = struct{}{}
		}
	}
	deliverables := make([]store.Deliverable, 0)
	for _, d := range snapshot.Deliverables {
		if d.ScopeID == scope.ID {
			deliverables = append(deliverables, d)
			continue
		}
		if _, ok := children[d.ScopeID]; ok {
			deliverables = append(deliverables, d)
		}
	}
	return deliverables
}

func (s *Service) ConservationSnapshot(ctx context.Context, projectID string) (map[string]any, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	summary := conservation(snapshot.Project, snapshot.Scopes)
	summary["initialized"] = snapshot.Project.WUInitialized
	return summary, nil
}

// Dashboard aggregates everything the governance view needs in one call.
func (s *Service) Dashboard(ctx context.Context, projectID string) (map[string]any, error) {
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
	events, err := s.store.ListAuditEvents(ctx, projectID, 20, 0)
	if err != nil {
		return nil, err
	}
	active, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	conservationSummary := conservation(snapshot.Project, snapshot.Scopes)
	conservationSummary["initialized"] = snapshot.Project.WUInitialized

	auditList := make([]map[string]any, 0, len(events))
	for _, event := range events {
		auditList = append(auditList, auditEventResponse(event))
	}
	return map[string]any{
		"projectId":       projectID,
		"phase":           snapshot.Project.Phase,
		"kingdom":         kingdomOf(snapshot.Project.Phase),
		"ccsBlocked":      active > 0,
		"conservation":    conservationSummary,
		"readiness":       factors,
		"reconciliation":  reconciliationResponse(planned, claimed, verified),
		"recentAudit":     auditList,
		"generatedAt":     time.Now().UTC(),
		"reassessCount":   snapshot.Project.ReassessCount,
		"activeIncidents": active,
	}, nil
}

func (s *Service) AuditLog(ctx context.Context, projectID string, limit, offset int) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	events, err := s.store.ListAuditEvents(ctx, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(events))
	for _, event := range events {
		response = append(response, auditEventResponse(event))
	}
	return response, nil
}

func auditEventResponse(event store.AuditEvent) map[string]any {
	return map[string]any{
		"id":        event.ID,
		"eventType": event.EventType,
		"actor":     event.Actor,
		"detail":    event.Detail,
		"createdAt": event.CreatedAt,
	}
}

func (s *Service) WUAuditLog(ctx context.Context, projectID string, limit, offset int) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListWUAudit(ctx, projectID, limit, offset)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		response = append(response, map[string]any{
			"id":        entry.ID,
			"scopeId":   entry.ScopeID,
			"action":    entry.Action,
			"amount":    entry.Amount,
			"detail":    entry.Detail,
			"actor":     entry.Actor,
			"createdAt": entry.CreatedAt,
		})
	}
	return response, nil
}
