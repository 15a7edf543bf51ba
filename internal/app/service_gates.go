package app

import (
	"context"
	"net/http"
	"strings"

	"warden/api/internal/store"
)

const (
	categorySetup    = "SETUP"
	categoryWork     = "WORK"
	categorySecurity = "SECURITY"
	categoryCCS      = "CCS"
)

type gateRule struct {
	ID          string
	Category    string
	Label       string
	Remediation string
}

// gateCatalog is the static registry of toggleable gates seeded into every
// project. Security gates are not here: they are derived from the data
// classification, never stored or toggled.
var gateCatalog = []gateRule{
	{ID: "GA:LIC", Category: categorySetup, Label: "License accepted", Remediation: "Accept the license agreement"},
	{ID: "GA:DIS", Category: categorySetup, Label: "Disclaimer acknowledged", Remediation: "Acknowledge the working disclaimer"},
	{ID: "GA:TIR", Category: categorySetup, Label: "Tier selected", Remediation: "Select a project tier"},
	{ID: "GA:ENV", Category: categorySetup, Label: "Environment declared", Remediation: "Declare the target environment"},
	{ID: "GA:FLD", Category: categorySetup, Label: "Folder structure confirmed", Remediation: "Confirm the working folder structure"},
	{ID: "GA:BP", Category: categorySetup, Label: "Blueprint approved", Remediation: "Approve the blueprint"},
	{ID: "GA:IVL", Category: categorySetup, Label: "Integrity validation passed", Remediation: "Run blueprint validation until all checks pass"},
	{ID: "GW:PRE", Category: categoryWork, Label: "Preflight complete", Remediation: "Complete the preflight checklist"},
	{ID: "GW:VAL", Category: categoryWork, Label: "Validation complete", Remediation: "Validate the produced work"},
	{ID: "GW:VER", Category: categoryWork, Label: "Verification complete", Remediation: "Verify the work against its evidence spec"},
}

var gateCatalogByID = func() map[string]gateRule {
	byID := make(map[string]gateRule, len(gateCatalog))
	for _, rule := range gateCatalog {
		byID[rule.ID] = rule
	}
	return byID
}()

func seedGates(projectID string) []store.Gate {
	gates := make([]store.Gate, 0, len(gateCatalog))
	for _, rule := range gateCatalog {
		gates = append(gates, store.Gate{
			ProjectID:   projectID,
			GateID:      rule.ID,
			Category:    rule.Category,
			Label:       rule.Label,
			Remediation: rule.Remediation,
			Passed:      false,
			Required:    true,
		})
	}
	return gates
}

// Gates returns the full gate set: stored setup and work gates plus the
// derived security gates and the CCS override state.
func (s *Service) Gates(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	gates, err := s.store.ListGates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	classification, err := s.store.GetClassification(ctx, projectID)
	if err != nil {
		return nil, err
	}
	activeIncidents, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return nil, err
	}

	workRelevant := project.Phase == phaseExecute || project.Phase == phaseReview
	gateList := make([]map[string]any, 0, len(gates)+6)
	for _, gate := range gates {
		gateList = append(gateList, map[string]any{
			"id":          gate.GateID,
			"category":    gate.Category,
			"label":       gate.Label,
			"remediation": gate.Remediation,
			"passed":      gate.Passed,
			"required":    gate.Required,
			"relevant":    gate.Category != categoryWork || workRelevant,
		})
	}
	for _, gate := range deriveSecurityGates(classification) {
		gateList = append(gateList, map[string]any{
			"id":          gate.ID,
			"category":    categorySecurity,
			"label":       gate.Label,
			"remediation": gate.Remediation,
			"passed":      gate.Passed,
			"required":    gate.Required,
			"relevant":    true,
			"derived":     true,
		})
	}

	return map[string]any{
		"projectId":       projectID,
		"phase":           project.Phase,
		"gates":           gateList,
		"ccsOverride":     activeIncidents > 0,
		"activeIncidents": activeIncidents,
	}, nil
}

// ToggleGate sets a stored gate. Security gates are rejected here: they only
// move when the classification moves. Toggling never touches phase or
// blueprint state.
func (s *Service) ToggleGate(ctx context.Context, projectID, gateID string, passed bool, actor string) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if strings.HasPrefix(gateID, "GS:") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Security gates are derived from the data classification and cannot be toggled", map[string]any{"gateId": gateID})
	}
	if gateID == "GA:CCS" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"The CCS gate is controlled by the incident lifecycle", map[string]any{"gateId": gateID})
	}
	if _, ok := gateCatalogByID[gateID]; !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Unknown gate "+gateID, nil)
	}

	if err := s.store.SetGate(ctx, projectID, gateID, passed); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "GATE_TOGGLED", actor, map[string]any{"gateId": gateID, "passed": passed})

	gate, err := s.store.GetGate(ctx, projectID, gateID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       gate.GateID,
		"category": gate.Category,
		"passed":   gate.Passed,
		"required": gate.Required,
	}, nil
}

// Derived security gates

type derivedGate struct {
	ID          string
	Label       string
	Remediation string
	Passed      bool
	Required    bool
}

const flagUnknown = "UNKNOWN"

func classificationDeclared(c store.Classification) bool {
	for _, flag := range []string{c.PII, c.PHI, c.Financial, c.Legal, c.MinorData} {
		if flag == flagUnknown {
			return false
		}
	}
	return true
}

func hasSensitiveData(c store.Classification) bool {
	for _, flag := range []string{c.PII, c.PHI, c.Financial, c.Legal, c.MinorData} {
		if flag == "YES" {
			return true
		}
	}
	return false
}

var exposureRank = map[string]int{
	"PUBLIC":       0,
	"INTERNAL":     1,
	"CONFIDENTIAL": 2,
	"RESTRICTED":   3,
	"PROHIBITED":   4,
}

// deriveSecurityGates computes the GS gates from the classification record.
// GS:DC and GS:AC are required for execution; the rest are advisory.
func deriveSecurityGates(c store.Classification) []derivedGate {
	declared := classificationDeclared(c)
	sensitive := hasSensitiveData(c)

	accessControlled := declared && (!sensitive || exposureRank[c.AIExposure] >= exposureRank["CONFIDENTIAL"])
	protection := !sensitive || exposureRank[c.AIExposure] >= exposureRank["CONFIDENTIAL"]

	return []derivedGate{
		{
			ID: "GS:DC", Label: "Data classification declared",
			Remediation: "Declare all five sensitivity flags",
			Passed:      declared, Required: true,
		},
		{
			ID: "GS:DP", Label: "Data protection level adequate",
			Remediation: "Raise the AI exposure level to match the declared sensitivity",
			Passed:      protection, Required: false,
		},
		{
			ID: "GS:AC", Label: "Access control matched to sensitivity",
			Remediation: "Declare the classification and restrict exposure for sensitive data",
			Passed:      accessControlled, Required: true,
		},
		{
			ID: "GS:AI", Label: "AI exposure declared",
			Remediation: "Declare all sensitivity flags and pick an AI exposure level",
			Passed:      declared && c.AIExposure != "", Required: false,
		},
		{
			ID: "GS:JR", Label: "Jurisdiction recorded",
			Remediation: "Record the governing jurisdiction",
			Passed:      c.Jurisdiction != "", Required: false,
		},
		{
			ID: "GS:RT", Label: "Regulations tracked",
			Remediation: "List the regulations that apply to the declared data",
			Passed:      !sensitive || len(c.Regulations) > 0, Required: false,
		},
	}
}

// Execution pipeline

// checkCCSOverride is the safety check that runs before any other gate
// evaluation. It reads the store directly so the answer is never stale.
func (s *Service) checkCCSOverride(ctx context.Context, projectID string) error {
	active, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return err
	}
	if active > 0 {
		return domainError(http.StatusConflict, "CCS_BLOCKED",
			"A credential compromise incident is active; all execution is blocked until it is resolved", map[string]any{
				"activeIncidents": active,
			})
	}
	return nil
}

func gateBlocked(missing []store.Gate) *DomainError {
	blockers := make([]map[string]any, 0, len(missing))
	ids := make([]string, 0, len(missing))
	for _, gate := range missing {
		rule := gateCatalogByID[gate.GateID]
		label := gate.Label
		if label == "" {
			label = rule.Label
		}
		remediation := gate.Remediation
		if remediation == "" {
			remediation = rule.Remediation
		}
		ids = append(ids, gate.GateID)
		blockers = append(blockers, map[string]any{
			"id":          gate.GateID,
			"type":        "gate",
			"label":       label + " is not satisfied",
			"remediation": remediation,
		})
	}
	return domainError(http.StatusConflict, "GATE_BLOCKED", "Required gates are not satisfied", map[string]any{
		"gateIds":  ids,
		"blockers": blockers,
	})
}

// evaluateGates runs the ordered evaluator pipeline below the CCS override:
// security, then work, then setup. The first denial wins. A nil, nil return
// means execution is allowed.
func (s *Service) evaluateGates(ctx context.Context, project store.Project) (*DomainError, error) {
	classification, err := s.store.GetClassification(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	gates, err := s.store.ListGates(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	evaluators := []func() *DomainError{
		func() *DomainError { return evaluateSecurity(classification) },
		func() *DomainError { return evaluateCategory(gates, categoryWork, project.Phase) },
		func() *DomainError { return evaluateCategory(gates, categorySetup, project.Phase) },
	}
	for _, evaluate := range evaluators {
		if denial := evaluate(); denial != nil {
			return denial, nil
		}
	}
	return nil, nil
}

func evaluateSecurity(c store.Classification) *DomainError {
	var missing []store.Gate
	for _, gate := range deriveSecurityGates(c) {
		if gate.Required && !gate.Passed {
			missing = append(missing, store.Gate{
				GateID:      gate.ID,
				Label:       gate.Label,
				Remediation: gate.Remediation,
			})
		}
	}
	if len(missing) > 0 {
		return gateBlocked(missing)
	}
	return nil
}

func evaluateCategory(gates []store.Gate, category, phase string) *DomainError {
	if category == categoryWork && phase != phaseExecute && phase != phaseReview {
		return nil
	}
	var missing []store.Gate
	for _, gate := range gates {
		if gate.Category != category || !gate.Required || gate.Passed {
			continue
		}
		// Setup gates become binding as the pipeline reaches them: the
		// plan-exit gates do not block work during BRAINSTORM.
		if category == categorySetup && phase == phaseBrainstorm && isPlanExitGate(gate.GateID) {
			continue
		}
		missing = append(missing, gate)
	}
	if len(missing) > 0 {
		return gateBlocked(missing)
	}
	return nil
}

func isPlanExitGate(gateID string) bool {
	for _, id := range phaseExitGates[phasePlan] {
		if id == gateID {
			return true
		}
	}
	return false
}

// ExecutionAllowed answers whether AI work may run right now. The pipeline
// order is CCS, then security, then work, then setup; the first denial is
// returned with its remediation payload.
func (s *Service) ExecutionAllowed(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCCSOverride(ctx, projectID); err != nil {
		var denial *DomainError
		if asDomainError(err, &denial) {
			return executionDenied(denial), nil
		}
		return nil, err
	}
	denial, err := s.evaluateGates(ctx, project)
	if err != nil {
		return nil, err
	}
	if denial != nil {
		return executionDenied(denial), nil
	}
	return map[string]any{"allowed": true}, nil
}

func executionDenied(denial *DomainError) map[string]any {
	return map[string]any{
		"allowed": false,
		"code":    denial.Code,
		"reason":  denial.Message,
		"details": denial.Details,
	}
}
