package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"warden/api/internal/readiness"
	"warden/api/internal/search"
	"warden/api/internal/store"
	"warden/api/internal/util"
)

var allowedAssumptionStatuses = map[string]struct{}{
	"OPEN":      {},
	"CONFIRMED": {},
	"UNKNOWN":   {},
}

var allowedDependencyTypes = map[string]struct{}{
	"hard": {},
	"soft": {},
}

var allowedDeliverableStatuses = map[string]struct{}{
	"PENDING":     {},
	"IN_PROGRESS": {},
	"DONE":        {},
	"VERIFIED":    {},
	"LOCKED":      {},
	"CANCELLED":   {},
}

var allowedDMAICPhases = map[string]struct{}{
	"DEFINE":  {},
	"MEASURE": {},
	"ANALYZE": {},
	"IMPROVE": {},
	"CONTROL": {},
}

type ScopeInput struct {
	Name             string   `json:"name"`
	ParentScopeID    string   `json:"parentScopeId"`
	Purpose          string   `json:"purpose"`
	Boundary         string   `json:"boundary"`
	Assumptions      []string `json:"assumptions"`
	AssumptionStatus string   `json:"assumptionStatus"`
	Status           string   `json:"status"`
}

type DeliverableInput struct {
	ScopeID               string   `json:"scopeId"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	DoDEvidenceSpec       string   `json:"dodEvidenceSpec"`
	DoDVerificationMethod string   `json:"dodVerificationMethod"`
	DoDQualityBar         string   `json:"dodQualityBar"`
	DoDFailureModes       string   `json:"dodFailureModes"`
	UpstreamDeps          []string `json:"upstreamDeps"`
	DependencyType        string   `json:"dependencyType"`
	Status                string   `json:"status"`
	DMAICPhase            string   `json:"dmaicPhase"`
}

// Scopes

func (s *Service) CreateScope(ctx context.Context, projectID, actor string, input ScopeInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Scope name is required", nil)
	}

	scope := store.Scope{
		ID:               util.NewID("scope"),
		ProjectID:        projectID,
		Tier:             1,
		Name:             strings.TrimSpace(input.Name),
		Purpose:          strings.TrimSpace(input.Purpose),
		Boundary:         strings.TrimSpace(input.Boundary),
		Assumptions:      input.Assumptions,
		AssumptionStatus: strings.ToUpper(strings.TrimSpace(input.AssumptionStatus)),
		Status:           strings.ToUpper(strings.TrimSpace(input.Status)),
	}
	if scope.Assumptions == nil {
		scope.Assumptions = []string{}
	}
	if scope.AssumptionStatus == "" {
		scope.AssumptionStatus = "OPEN"
	}
	if _, ok := allowedAssumptionStatuses[scope.AssumptionStatus]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Unknown assumption status "+scope.AssumptionStatus, nil)
	}
	if scope.Status == "" {
		scope.Status = "DRAFT"
	}

	// A parent makes this a tier-2 sub-scope; the parent must be tier 1.
	if parent := strings.TrimSpace(input.ParentScopeID); parent != "" {
		parentScope, err := s.store.GetScope(ctx, projectID, parent)
		if err != nil {
			return nil, err
		}
		if parentScope.Tier != 1 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Sub-scopes can only be created under a tier-1 scope", map[string]any{"parentScopeId": parent})
		}
		scope.Tier = 2
		scope.ParentScopeID = &parentScope.ID
	}

	if err := s.store.InsertScope(ctx, scope); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "SCOPE_CREATED", actor, map[string]any{"scopeId": scope.ID, "tier": scope.Tier})
	s.indexScope(scope)
	return scopeResponse(scope), nil
}

func (s *Service) GetScope(ctx context.Context, projectID, scopeID string) (map[string]any, error) {
	scope, err := s.store.GetScope(ctx, projectID, scopeID)
	if err != nil {
		return nil, err
	}
	return scopeResponse(scope), nil
}

func (s *Service) ListScopes(ctx context.Context, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	scopes, err := s.store.ListScopes(ctx, projectID)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(scopes))
	for _, scope := range scopes {
		response = append(response, scopeResponse(scope))
	}
	return response, nil
}

func (s *Service) UpdateScope(ctx context.Context, projectID, scopeID, actor string, input ScopeInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	scope, err := s.store.GetScope(ctx, projectID, scopeID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		scope.Name = name
	}
	if input.Purpose != "" {
		scope.Purpose = strings.TrimSpace(input.Purpose)
	}
	if input.Boundary != "" {
		scope.Boundary = strings.TrimSpace(input.Boundary)
	}
	if input.Assumptions != nil {
		scope.Assumptions = input.Assumptions
	}
	if status := strings.ToUpper(strings.TrimSpace(input.AssumptionStatus)); status != "" {
		if _, ok := allowedAssumptionStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Unknown assumption status "+status, nil)
		}
		scope.AssumptionStatus = status
	}
	if status := strings.ToUpper(strings.TrimSpace(input.Status)); status != "" {
		scope.Status = status
	}
	if err := s.store.UpdateScope(ctx, scope); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "SCOPE_UPDATED", actor, map[string]any{"scopeId": scope.ID})
	s.indexScope(scope)
	return scopeResponse(scope), nil
}

func (s *Service) DeleteScope(ctx context.Context, projectID, scopeID, actor string) error {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetScope(ctx, projectID, scopeID); err != nil {
		return err
	}
	if err := s.store.DeleteScope(ctx, projectID, scopeID); err != nil {
		return err
	}
	s.audit(ctx, projectID, "SCOPE_DELETED", actor, map[string]any{"scopeId": scopeID})
	if s.indexer != nil {
		_ = s.indexer.DeleteScope(scopeID)
	}
	return nil
}

func scopeResponse(scope store.Scope) map[string]any {
	response := map[string]any{
		"id":               scope.ID,
		"tier":             scope.Tier,
		"name":             scope.Name,
		"purpose":          scope.Purpose,
		"boundary":         scope.Boundary,
		"assumptions":      scope.Assumptions,
		"assumptionStatus": scope.AssumptionStatus,
		"status":           scope.Status,
		"allocatedWu":      scope.AllocatedWU,
		"verifiedWu":       scope.VerifiedWU,
		"createdAt":        scope.CreatedAt,
		"updatedAt":        scope.UpdatedAt,
	}
	if scope.ParentScopeID != nil {
		response["parentScopeId"] = *scope.ParentScopeID
	}
	return response
}

func (s *Service) indexScope(scope store.Scope) {
	if s.indexer == nil {
		return
	}
	_ = s.indexer.IndexScope(search.ScopeRecord{
		ID:        scope.ID,
		ProjectID: scope.ProjectID,
		Name:      scope.Name,
		Purpose:   scope.Purpose,
	})
}

// Deliverables

func (s *Service) CreateDeliverable(ctx context.Context, projectID, actor string, input DeliverableInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Deliverable name is required", nil)
	}
	if _, err := s.store.GetScope(ctx, projectID, strings.TrimSpace(input.ScopeID)); err != nil {
		return nil, err
	}

	d := store.Deliverable{
		ID:                    util.NewID("dlv"),
		ProjectID:             projectID,
		ScopeID:               strings.TrimSpace(input.ScopeID),
		Name:                  strings.TrimSpace(input.Name),
		Description:           strings.TrimSpace(input.Description),
		DoDEvidenceSpec:       strings.TrimSpace(input.DoDEvidenceSpec),
		DoDVerificationMethod: strings.TrimSpace(input.DoDVerificationMethod),
		DoDQualityBar:         strings.TrimSpace(input.DoDQualityBar),
		DoDFailureModes:       strings.TrimSpace(input.DoDFailureModes),
		UpstreamDeps:          input.UpstreamDeps,
		DependencyType:        strings.ToLower(strings.TrimSpace(input.DependencyType)),
		Status:                strings.ToUpper(strings.TrimSpace(input.Status)),
		DMAICPhase:            strings.ToUpper(strings.TrimSpace(input.DMAICPhase)),
	}
	if d.UpstreamDeps == nil {
		d.UpstreamDeps = []string{}
	}
	if d.DependencyType == "" {
		d.DependencyType = "hard"
	}
	if _, ok := allowedDependencyTypes[d.DependencyType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Dependency type must be hard or soft", nil)
	}
	if d.Status == "" {
		d.Status = "PENDING"
	}
	if _, ok := allowedDeliverableStatuses[d.Status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Unknown deliverable status "+d.Status, nil)
	}
	if d.DMAICPhase == "" {
		d.DMAICPhase = "DEFINE"
	}
	if _, ok := allowedDMAICPhases[d.DMAICPhase]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Unknown DMAIC phase "+d.DMAICPhase, nil)
	}

	if err := s.checkUpstreamDeps(ctx, projectID, d); err != nil {
		return nil, err
	}
	if err := s.store.InsertDeliverable(ctx, d); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "DELIVERABLE_CREATED", actor, map[string]any{"deliverableId": d.ID, "scopeId": d.ScopeID})
	s.indexDeliverable(d)
	return deliverableResponse(d), nil
}

func (s *Service) GetDeliverable(ctx context.Context, projectID, deliverableID string) (map[string]any, error) {
	d, err := s.store.GetDeliverable(ctx, projectID, deliverableID)
	if err != nil {
		return nil, err
	}
	return deliverableResponse(d), nil
}

func (s *Service) ListDeliverables(ctx context.Context, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	deliverables, err := s.store.ListDeliverables(ctx, projectID)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(deliverables))
	for _, d := range deliverables {
		response = append(response, deliverableResponse(d))
	}
	return response, nil
}

func (s *Service) UpdateDeliverable(ctx context.Context, projectID, deliverableID, actor string, input DeliverableInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	d, err := s.store.GetDeliverable(ctx, projectID, deliverableID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		d.Name = name
	}
	if input.Description != "" {
		d.Description = strings.TrimSpace(input.Description)
	}
	if input.DoDEvidenceSpec != "" {
		d.DoDEvidenceSpec = strings.TrimSpace(input.DoDEvidenceSpec)
	}
	if input.DoDVerificationMethod != "" {
		d.DoDVerificationMethod = strings.TrimSpace(input.DoDVerificationMethod)
	}
	if input.DoDQualityBar != "" {
		d.DoDQualityBar = strings.TrimSpace(input.DoDQualityBar)
	}
	if input.DoDFailureModes != "" {
		d.DoDFailureModes = strings.TrimSpace(input.DoDFailureModes)
	}
	if input.UpstreamDeps != nil {
		d.UpstreamDeps = input.UpstreamDeps
	}
	if depType := strings.ToLower(strings.TrimSpace(input.DependencyType)); depType != "" {
		if _, ok := allowedDependencyTypes[depType]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Dependency type must be hard or soft", nil)
		}
		d.DependencyType = depType
	}
	if status := strings.ToUpper(strings.TrimSpace(input.Status)); status != "" {
		if _, ok := allowedDeliverableStatuses[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Unknown deliverable status "+status, nil)
		}
		d.Status = status
	}
	if phase := strings.ToUpper(strings.TrimSpace(input.DMAICPhase)); phase != "" {
		if _, ok := allowedDMAICPhases[phase]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Unknown DMAIC phase "+phase, nil)
		}
		d.DMAICPhase = phase
	}

	if err := s.checkUpstreamDeps(ctx, projectID, d); err != nil {
		return nil, err
	}
	if err := s.store.UpdateDeliverable(ctx, d); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "DELIVERABLE_UPDATED", actor, map[string]any{"deliverableId": d.ID})
	s.indexDeliverable(d)
	return deliverableResponse(d), nil
}

func (s *Service) DeleteDeliverable(ctx context.Context, projectID, deliverableID, actor string) error {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetDeliverable(ctx, projectID, deliverableID); err != nil {
		return err
	}
	if err := s.store.DeleteDeliverable(ctx, projectID, deliverableID); err != nil {
		return err
	}
	s.audit(ctx, projectID, "DELIVERABLE_DELETED", actor, map[string]any{"deliverableId": deliverableID})
	if s.indexer != nil {
		_ = s.indexer.DeleteDeliverable(deliverableID)
	}
	return nil
}

// checkUpstreamDeps rejects references to nonexistent deliverables and
// self-references at write time. The validator re-checks the whole graph on
// every run; this is just the cheap early error.
func (s *Service) checkUpstreamDeps(ctx context.Context, projectID string, d store.Deliverable) error {
	if len(d.UpstreamDeps) == 0 {
		return nil
	}
	deliverables, err := s.store.ListDeliverables(ctx, projectID)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(deliverables))
	for _, existing := range deliverables {
		known[existing.ID] = struct{}{}
	}
	for _, dep := range d.UpstreamDeps {
		if dep == d.ID {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"A deliverable cannot depend on itself", map[string]any{"deliverableId": d.ID})
		}
		if _, ok := known[dep]; !ok {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Upstream dependency does not exist", map[string]any{"upstreamDep": dep})
		}
	}
	return nil
}

func deliverableResponse(d store.Deliverable) map[string]any {
	return map[string]any{
		"id":                    d.ID,
		"scopeId":               d.ScopeID,
		"name":                  d.Name,
		"description":           d.Description,
		"dodEvidenceSpec":       d.DoDEvidenceSpec,
		"dodVerificationMethod": d.DoDVerificationMethod,
		"dodQualityBar":         d.DoDQualityBar,
		"dodFailureModes":       d.DoDFailureModes,
		"upstreamDeps":          d.UpstreamDeps,
		"dependencyType":        d.DependencyType,
		"status":                d.Status,
		"dmaicPhase":            d.DMAICPhase,
		"createdAt":             d.CreatedAt,
		"updatedAt":             d.UpdatedAt,
	}
}

func (s *Service) indexDeliverable(d store.Deliverable) {
	if s.indexer == nil {
		return
	}
	_ = s.indexer.IndexDeliverable(search.DeliverableRecord{
		ID:          d.ID,
		ProjectID:   d.ProjectID,
		ScopeID:     d.ScopeID,
		Name:        d.Name,
		Description: d.Description,
	})
}

// Integrity validation

// conservation computes the work-unit conservation snapshot. A failed check
// is report data, never an error.
func conservation(project store.Project, scopes []store.Scope) map[string]any {
	formula, verified := 0, 0
	for _, scope := range scopes {
		remaining := scope.AllocatedWU - scope.VerifiedWU
		if remaining < 0 {
			remaining = 0
		}
		formula += remaining
		verified += scope.VerifiedWU
	}
	delta := project.WUTotal - (formula + verified)
	return map[string]any{
		"total":    project.WUTotal,
		"formula":  formula,
		"verified": verified,
		"delta":    delta,
		"valid":    formula+verified <= project.WUTotal,
	}
}

// RunValidation executes the five integrity checks over a consistent snapshot
// and persists the report. Previous reports stay immutable; the new one
// supersedes them as "latest".
func (s *Service) RunValidation(ctx context.Context, projectID, actor string) (map[string]any, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	checks := map[string]store.IntegrityCheck{
		"formula":     checkFormula(snapshot),
		"structural":  checkStructural(snapshot),
		"dag":         checkDAG(snapshot.Deliverables),
		"deliverable": checkDeliverable(snapshot.Deliverables),
		"assumption":  checkAssumption(snapshot.Scopes),
	}
	allPassed := true
	for _, check := range checks {
		if !check.Passed {
			allPassed = false
		}
	}

	edges := 0
	for _, d := range snapshot.Deliverables {
		edges += len(d.UpstreamDeps)
	}
	report := store.IntegrityReport{
		ID:        util.NewID("rpt"),
		ProjectID: projectID,
		RunAt:     time.Now().UTC(),
		AllPassed: allPassed,
		Checks:    checks,
		Totals: map[string]int{
			"scopes":       len(snapshot.Scopes),
			"deliverables": len(snapshot.Deliverables),
			"edges":        edges,
		},
	}
	if err := s.store.InsertIntegrityReport(ctx, report); err != nil {
		return nil, err
	}

	// A passing run satisfies the integrity gate; a failing run clears it.
	if err := s.store.SetGate(ctx, projectID, "GA:IVL", allPassed); err != nil && !isNotFound(err) {
		return nil, err
	}
	s.audit(ctx, projectID, "VALIDATION_RUN", actor, map[string]any{"reportId": report.ID, "allPassed": allPassed})

	return integrityReportResponse(report), nil
}

func (s *Service) LatestValidation(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	report, err := s.store.LatestIntegrityReport(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return integrityReportResponse(report), nil
}

func integrityReportResponse(report store.IntegrityReport) map[string]any {
	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = map[string]any{"passed": check.Passed, "detail": check.Detail}
	}
	return map[string]any{
		"id":        report.ID,
		"runAt":     report.RunAt,
		"allPassed": report.AllPassed,
		"checks":    checks,
		"totals":    report.Totals,
	}
}

func checkFormula(snapshot store.BlueprintSnapshot) store.IntegrityCheck {
	summary := conservation(snapshot.Project, snapshot.Scopes)
	formula := summary["formula"].(int)
	verified := summary["verified"].(int)
	total := summary["total"].(int)
	if formula+verified <= total {
		return store.IntegrityCheck{
			Passed: true,
			Detail: fmt.Sprintf("Conservation holds: formula %d + verified %d <= total %d.", formula, verified, total),
		}
	}
	return store.IntegrityCheck{
		Passed: false,
		Detail: fmt.Sprintf("Conservation violated: formula %d + verified %d > total %d (delta %d).",
			formula, verified, total, summary["delta"].(int)),
	}
}

func checkStructural(snapshot store.BlueprintSnapshot) store.IntegrityCheck {
	var problems []string
	for _, scope := range snapshot.Scopes {
		if scope.Purpose == "" {
			problems = append(problems, fmt.Sprintf("scope %s has no purpose", scope.ID))
		}
		if scope.Boundary == "" {
			problems = append(problems, fmt.Sprintf("scope %s has no boundary", scope.ID))
		}
	}
	for _, d := range snapshot.Deliverables {
		if !readiness.DoDComplete(d) {
			problems = append(problems, fmt.Sprintf("deliverable %s has an incomplete definition of done", d.ID))
		}
	}
	if len(problems) == 0 {
		return store.IntegrityCheck{
			Passed: true,
			Detail: fmt.Sprintf("All %d scopes and %d deliverables are structurally complete.",
				len(snapshot.Scopes), len(snapshot.Deliverables)),
		}
	}
	return store.IntegrityCheck{Passed: false, Detail: strings.Join(problems, "; ")}
}

// checkDAG verifies the upstream dependency graph: every reference resolves
// and the graph is acyclic. Cycle detection is a DFS with a recursion stack;
// the first cycle found is reported by node ids.
func checkDAG(deliverables []store.Deliverable) store.IntegrityCheck {
	nodes := make(map[string][]string, len(deliverables))
	for _, d := range deliverables {
		nodes[d.ID] = d.UpstreamDeps
	}

	edges := 0
	for id, deps := range nodes {
		for _, dep := range deps {
			if _, ok := nodes[dep]; !ok {
				return store.IntegrityCheck{
					Passed: false,
					Detail: fmt.Sprintf("Deliverable %s references nonexistent dependency %s.", id, dep),
				}
			}
			edges++
		}
	}

	const (
		colorWhite = 0
		colorGray  = 1
		colorBlack = 2
	)
	color := make(map[string]int, len(nodes))
	parent := make(map[string]string, len(nodes))

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = colorGray
		for _, dep := range nodes[id] {
			switch color[dep] {
			case colorWhite:
				parent[dep] = id
				if visit(dep) {
					return true
				}
			case colorGray:
				// Found a back edge: walk the recursion stack to
				// reconstruct the cycle.
				stack := []string{id}
				for at := id; at != dep; {
					at = parent[at]
					stack = append(stack, at)
				}
				cycle = make([]string, 0, len(stack)+1)
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
				}
				cycle = append(cycle, dep)
				return true
			}
		}
		color[id] = colorBlack
		return false
	}

	ids := make([]string, 0, len(deliverables))
	for _, d := range deliverables {
		ids = append(ids, d.ID)
	}
	for _, id := range ids {
		if color[id] == colorWhite && visit(id) {
			return store.IntegrityCheck{
				Passed: false,
				Detail: fmt.Sprintf("Dependency cycle detected: %s.", strings.Join(cycle, " -> ")),
			}
		}
	}
	return store.IntegrityCheck{
		Passed: true,
		Detail: fmt.Sprintf("DAG is acyclic. %d nodes, %d edges.", len(nodes), edges),
	}
}

func checkDeliverable(deliverables []store.Deliverable) store.IntegrityCheck {
	complete := 0
	var problems []string
	for _, d := range deliverables {
		if d.DoDEvidenceSpec == "" || d.DoDVerificationMethod == "" {
			problems = append(problems, fmt.Sprintf("deliverable %s is missing evidence spec or verification method", d.ID))
		}
		if readiness.DoDComplete(d) {
			complete++
		}
	}
	ratio := 1.0
	if len(deliverables) > 0 {
		ratio = float64(complete) / float64(len(deliverables))
	}
	if len(problems) == 0 {
		return store.IntegrityCheck{
			Passed: true,
			Detail: fmt.Sprintf("All deliverables carry evidence specs and verification methods (DoD completeness %.0f%%).", ratio*100),
		}
	}
	return store.IntegrityCheck{Passed: false, Detail: strings.Join(problems, "; ")}
}

func checkAssumption(scopes []store.Scope) store.IntegrityCheck {
	var open []string
	for _, scope := range scopes {
		if scope.AssumptionStatus == "UNKNOWN" {
			open = append(open, scope.ID)
		}
	}
	if len(open) == 0 {
		return store.IntegrityCheck{
			Passed: true,
			Detail: fmt.Sprintf("No scope has unknown assumptions (%d scopes checked).", len(scopes)),
		}
	}
	return store.IntegrityCheck{
		Passed: false,
		Detail: fmt.Sprintf("Scopes with UNKNOWN assumption status: %s.", strings.Join(open, ", ")),
	}
}

// DAG and summary views

func (s *Service) BlueprintDAG(ctx context.Context, projectID string) (map[string]any, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}
	nodes := make([]map[string]any, 0, len(snapshot.Deliverables))
	edges := make([]map[string]any, 0)
	for _, d := range snapshot.Deliverables {
		nodes = append(nodes, map[string]any{
			"id":      d.ID,
			"name":    d.Name,
			"scopeId": d.ScopeID,
			"status":  d.Status,
		})
		for _, dep := range d.UpstreamDeps {
			edges = append(edges, map[string]any{
				"from": dep,
				"to":   d.ID,
				"type": d.DependencyType,
			})
		}
	}
	return map[string]any{"nodes": nodes, "edges": edges}, nil
}

func (s *Service) BlueprintSummary(ctx context.Context, projectID string) (map[string]any, error) {
	snapshot, err := s.store.GetBlueprintSnapshot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	tier1, tier2 := 0, 0
	for _, scope := range snapshot.Scopes {
		if scope.Tier == 2 {
			tier2++
		} else {
			tier1++
		}
	}
	byStatus := make(map[string]int)
	dodComplete := 0
	for _, d := range snapshot.Deliverables {
		byStatus[d.Status]++
		if readiness.DoDComplete(d) {
			dodComplete++
		}
	}

	summary := map[string]any{
		"scopes":                 len(snapshot.Scopes),
		"tier1Scopes":            tier1,
		"tier2Scopes":            tier2,
		"deliverables":           len(snapshot.Deliverables),
		"deliverablesByStatus":   byStatus,
		"dodCompleteCount":       dodComplete,
		"conservation":           conservation(snapshot.Project, snapshot.Scopes),
		"latestValidationPassed": false,
	}
	report, err := s.store.LatestIntegrityReport(ctx, projectID)
	if err == nil {
		summary["latestValidationPassed"] = report.AllPassed
		summary["latestValidationAt"] = report.RunAt
	} else if !isNotFound(err) {
		return nil, err
	}
	return summary, nil
}

// Import

type ImportScope struct {
	Name             string   `json:"name"`
	Parent           string   `json:"parent"`
	Purpose          string   `json:"purpose"`
	Boundary         string   `json:"boundary"`
	Assumptions      []string `json:"assumptions"`
	AssumptionStatus string   `json:"assumptionStatus"`
}

type ImportDeliverable struct {
	Scope                 string   `json:"scope"`
	Name                  string   `json:"name"`
	Description           string   `json:"description"`
	DoDEvidenceSpec       string   `json:"dodEvidenceSpec"`
	DoDVerificationMethod string   `json:"dodVerificationMethod"`
	DoDQualityBar         string   `json:"dodQualityBar"`
	DoDFailureModes       string   `json:"dodFailureModes"`
	DependsOn             []string `json:"dependsOn"`
	DependencyType        string   `json:"dependencyType"`
}

type ImportInput struct {
	Scopes       []ImportScope       `json:"scopes"`
	Deliverables []ImportDeliverable `json:"deliverables"`
}

// ImportBlueprint loads a whole blueprint in one shot. Scope parents and
// deliverable dependencies are given by name and resolved to ids; the write
// is atomic, so a bad reference imports nothing.
func (s *Service) ImportBlueprint(ctx context.Context, projectID, actor string, input ImportInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if len(input.Scopes) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Import requires at least one scope", nil)
	}

	scopeIDs := make(map[string]string, len(input.Scopes))
	scopes := make([]store.Scope, 0, len(input.Scopes))
	for _, in := range input.Scopes {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Imported scope has no name", nil)
		}
		if _, dup := scopeIDs[name]; dup {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Duplicate scope name in import: "+name, nil)
		}
		scope := store.Scope{
			ID:               util.NewID("scope"),
			ProjectID:        projectID,
			Tier:             1,
			Name:             name,
			Purpose:          strings.TrimSpace(in.Purpose),
			Boundary:         strings.TrimSpace(in.Boundary),
			Assumptions:      in.Assumptions,
			AssumptionStatus: strings.ToUpper(strings.TrimSpace(in.AssumptionStatus)),
			Status:           "DRAFT",
		}
		if scope.Assumptions == nil {
			scope.Assumptions = []string{}
		}
		if scope.AssumptionStatus == "" {
			scope.AssumptionStatus = "OPEN"
		}
		scopeIDs[name] = scope.ID
		scopes = append(scopes, scope)
	}
	// Second pass: resolve parents now that every scope has an id.
	for i, in := range input.Scopes {
		parent := strings.TrimSpace(in.Parent)
		if parent == "" {
			continue
		}
		parentID, ok := scopeIDs[parent]
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Imported scope references unknown parent "+parent, nil)
		}
		scopes[i].Tier = 2
		scopes[i].ParentScopeID = &parentID
	}

	deliverableIDs := make(map[string]string, len(input.Deliverables))
	deliverables := make([]store.Deliverable, 0, len(input.Deliverables))
	for _, in := range input.Deliverables {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Imported deliverable has no name", nil)
		}
		scopeID, ok := scopeIDs[strings.TrimSpace(in.Scope)]
		if !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Imported deliverable references unknown scope "+in.Scope, nil)
		}
		if _, dup := deliverableIDs[name]; dup {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"Duplicate deliverable name in import: "+name, nil)
		}
		depType := strings.ToLower(strings.TrimSpace(in.DependencyType))
		if depType == "" {
			depType = "hard"
		}
		d := store.Deliverable{
			ID:                    util.NewID("dlv"),
			ProjectID:             projectID,
			ScopeID:               scopeID,
			Name:                  name,
			Description:           strings.TrimSpace(in.Description),
			DoDEvidenceSpec:       strings.TrimSpace(in.DoDEvidenceSpec),
			DoDVerificationMethod: strings.TrimSpace(in.DoDVerificationMethod),
			DoDQualityBar:         strings.TrimSpace(in.DoDQualityBar),
			DoDFailureModes:       strings.TrimSpace(in.DoDFailureModes),
			UpstreamDeps:          []string{},
			DependencyType:        depType,
			Status:                "PENDING",
			DMAICPhase:            "DEFINE",
		}
		deliverableIDs[name] = d.ID
		deliverables = append(deliverables, d)
	}
	for i, in := range input.Deliverables {
		for _, depName := range in.DependsOn {
			depID, ok := deliverableIDs[strings.TrimSpace(depName)]
			if !ok {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
					"Imported deliverable depends on unknown deliverable "+depName, nil)
			}
			deliverables[i].UpstreamDeps = append(deliverables[i].UpstreamDeps, depID)
		}
	}

	if err := s.store.ImportBlueprint(ctx, projectID, scopes, deliverables); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "BLUEPRINT_IMPORTED", actor, map[string]any{
		"scopes":       len(scopes),
		"deliverables": len(deliverables),
	})
	for _, scope := range scopes {
		s.indexScope(scope)
	}
	for _, d := range deliverables {
		s.indexDeliverable(d)
	}
	return map[string]any{
		"imported":     true,
		"scopes":       len(scopes),
		"deliverables": len(deliverables),
	}, nil
}
