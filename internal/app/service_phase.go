package app

import (
	"context"
	"net/http"
	"strings"

	"warden/api/internal/store"
	"warden/api/internal/util"
)

const (
	phaseBrainstorm = "BRAINSTORM"
	phasePlan       = "PLAN"
	phaseExecute    = "EXECUTE"
	phaseReview     = "REVIEW"
)

var phaseOrder = map[string]int{
	phaseBrainstorm: 0,
	phasePlan:       1,
	phaseExecute:    2,
	phaseReview:     3,
}

// The two kingdoms: ideation covers BRAINSTORM and PLAN, realization covers
// EXECUTE and REVIEW. Reassessing across the boundary is a bigger deal than
// stepping back within one.
func kingdomOf(phase string) string {
	if phaseOrder[phase] <= phaseOrder[phasePlan] {
		return "IDEATION"
	}
	return "REALIZATION"
}

// normalizePhase accepts full phase names and single-letter short codes.
func normalizePhase(raw string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case phaseBrainstorm, "B":
		return phaseBrainstorm, true
	case phasePlan, "P":
		return phasePlan, true
	case phaseExecute, "E":
		return phaseExecute, true
	case phaseReview, "R":
		return phaseReview, true
	default:
		return "", false
	}
}

// phaseExitGates lists the gates that must pass before leaving a phase.
var phaseExitGates = map[string][]string{
	phaseBrainstorm: {"GA:LIC", "GA:DIS", "GA:TIR"},
	phasePlan:       {"GA:ENV", "GA:FLD", "GA:BP", "GA:IVL"},
	phaseExecute:    {"GW:PRE", "GW:VAL", "GW:VER"},
}

type SetPhaseInput struct {
	TargetPhase    string `json:"targetPhase"`
	ReassessReason string `json:"reassessReason"`
	ReviewSummary  string `json:"reviewSummary"`
	Force          bool   `json:"force"`
	ForceReason    string `json:"forceReason"`
}

// SetPhase moves the phase pointer forward (advance) or backward (reassess).
func (s *Service) SetPhase(ctx context.Context, projectID, actor string, input SetPhaseInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	target, ok := normalizePhase(input.TargetPhase)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown phase "+input.TargetPhase, nil)
	}
	if target == project.Phase {
		return map[string]any{"phase": project.Phase, "changed": false}, nil
	}

	if phaseOrder[target] > phaseOrder[project.Phase] {
		return s.advancePhase(ctx, project, target, actor, input)
	}
	return s.reassessPhase(ctx, project, target, actor, input)
}

func (s *Service) advancePhase(ctx context.Context, project store.Project, target, actor string, input SetPhaseInput) (map[string]any, error) {
	if phaseOrder[target] != phaseOrder[project.Phase]+1 {
		return nil, domainError(http.StatusConflict, "PHASE_TRANSITION_DENIED",
			"Phase can only advance one step at a time", map[string]any{
				"from": project.Phase,
				"to":   target,
			})
	}

	// The safety override is checked before anything else, and an
	// active incident can never be argued around with force.
	if err := s.checkCCSOverride(ctx, project.ID); err != nil {
		return nil, err
	}

	if !input.Force {
		if denial, err := s.evaluateGates(ctx, project); err != nil {
			return nil, err
		} else if denial != nil {
			return nil, denial
		}
		if missing, err := s.missingExitGates(ctx, project.ID, project.Phase); err != nil {
			return nil, err
		} else if len(missing) > 0 {
			return nil, gateBlocked(missing)
		}
		if project.Phase == phasePlan {
			if err := s.requirePassingIntegrity(ctx, project.ID); err != nil {
				return nil, err
			}
		}
	} else {
		if strings.TrimSpace(input.ForceReason) == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
				"A force override requires a reason", nil)
		}
	}

	transition := store.PhaseTransition{
		ID:        util.NewID("pht"),
		ProjectID: project.ID,
		FromPhase: project.Phase,
		ToPhase:   target,
		Kind:      "ADVANCE",
		Reason:    strings.TrimSpace(input.ForceReason),
		Actor:     actor,
	}
	if err := s.store.AdvancePhase(ctx, project.ID, project.Version, target, transition); err != nil {
		return nil, err
	}

	detail := map[string]any{"from": project.Phase, "to": target}
	if input.Force {
		detail["forced"] = true
		detail["forceReason"] = strings.TrimSpace(input.ForceReason)
	}
	s.audit(ctx, project.ID, "PHASE_ADVANCED", actor, detail)
	s.snapshotState(ctx, project.ID, "phase advanced to "+target)

	return map[string]any{"phase": target, "changed": true, "kind": "ADVANCE"}, nil
}

func (s *Service) reassessPhase(ctx context.Context, project store.Project, target, actor string, input SetPhaseInput) (map[string]any, error) {
	distance := phaseOrder[project.Phase] - phaseOrder[target]
	crossKingdom := kingdomOf(project.Phase) == "REALIZATION" && kingdomOf(target) == "IDEATION"
	fullPipeline := project.Phase == phaseReview && target == phaseBrainstorm

	level := 1
	switch {
	case project.ReassessCount >= 2 || fullPipeline:
		level = 3
	case crossKingdom:
		level = 2
	}

	reason := strings.TrimSpace(input.ReassessReason)
	if len(reason) < 20 {
		return nil, domainError(http.StatusUnprocessableEntity, "PHASE_TRANSITION_DENIED",
			"Reassessment requires a reason of at least 20 characters", map[string]any{
				"level":     level,
				"minLength": 20,
				"got":       len(reason),
			})
	}
	summary := strings.TrimSpace(input.ReviewSummary)
	if level == 3 && len(summary) < 50 {
		return nil, domainError(http.StatusUnprocessableEntity, "PHASE_TRANSITION_DENIED",
			"A level 3 reassessment requires a review summary of at least 50 characters", map[string]any{
				"level":     level,
				"minLength": 50,
				"got":       len(summary),
			})
	}

	// Level 1 touches only the phase pointer. Level 2 and up supersedes
	// the active artifacts of every phase being undone.
	var supersede []string
	if level >= 2 {
		for phase, order := range phaseOrder {
			if order > phaseOrder[target] && order <= phaseOrder[project.Phase] {
				supersede = append(supersede, phase)
			}
		}
	}

	transition := store.PhaseTransition{
		ID:            util.NewID("pht"),
		ProjectID:     project.ID,
		FromPhase:     project.Phase,
		ToPhase:       target,
		Kind:          "REASSESS",
		Level:         level,
		Reason:        reason,
		ReviewSummary: summary,
		Actor:         actor,
	}
	if err := s.store.Reassess(ctx, project.ID, project.Version, target, supersede, transition); err != nil {
		return nil, err
	}

	s.audit(ctx, project.ID, "PHASE_REASSESSED", actor, map[string]any{
		"from":         project.Phase,
		"to":           target,
		"level":        level,
		"distance":     distance,
		"crossKingdom": crossKingdom,
	})
	s.snapshotState(ctx, project.ID, "reassessed to "+target)

	return map[string]any{
		"phase":        target,
		"changed":      true,
		"kind":         "REASSESS",
		"level":        level,
		"distance":     distance,
		"crossKingdom": crossKingdom,
	}, nil
}

// missingExitGates returns the unmet required gates for leaving a phase.
func (s *Service) missingExitGates(ctx context.Context, projectID, phase string) ([]store.Gate, error) {
	required := phaseExitGates[phase]
	if len(required) == 0 {
		return nil, nil
	}
	gates, err := s.store.ListGates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]store.Gate, len(gates))
	for _, gate := range gates {
		byID[gate.GateID] = gate
	}
	var missing []store.Gate
	for _, id := range required {
		gate, ok := byID[id]
		if !ok || (gate.Required && !gate.Passed) {
			if !ok {
				gate = store.Gate{GateID: id}
			}
			missing = append(missing, gate)
		}
	}
	return missing, nil
}

func (s *Service) requirePassingIntegrity(ctx context.Context, projectID string) error {
	report, err := s.store.LatestIntegrityReport(ctx, projectID)
	if isNotFound(err) {
		return domainError(http.StatusConflict, "GATE_BLOCKED",
			"Leaving PLAN requires a passing integrity validation run", map[string]any{
				"blockers": []map[string]any{{
					"id":          "integrity:none",
					"type":        "integrity",
					"label":       "No integrity validation has been run",
					"remediation": "Run blueprint validation and resolve any failures",
				}},
			})
	}
	if err != nil {
		return err
	}
	if !report.AllPassed {
		var blockers []map[string]any
		for name, check := range report.Checks {
			if check.Passed {
				continue
			}
			blockers = append(blockers, map[string]any{
				"id":          "integrity:" + name,
				"type":        "integrity",
				"label":       "Integrity check " + name + " failed: " + check.Detail,
				"remediation": "Fix the blueprint and re-run validation",
			})
		}
		return domainError(http.StatusConflict, "GATE_BLOCKED",
			"Leaving PLAN requires the latest integrity report to pass", map[string]any{
				"reportId": report.ID,
				"runAt":    report.RunAt,
				"blockers": blockers,
			})
	}
	return nil
}

func (s *Service) PhaseHistory(ctx context.Context, projectID string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	history, err := s.store.ListPhaseHistory(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(history))
	for _, t := range history {
		entry := map[string]any{
			"id":        t.ID,
			"from":      t.FromPhase,
			"to":        t.ToPhase,
			"kind":      t.Kind,
			"actor":     t.Actor,
			"createdAt": t.CreatedAt,
		}
		if t.Kind == "REASSESS" {
			entry["level"] = t.Level
			entry["reason"] = t.Reason
			if t.ReviewSummary != "" {
				entry["reviewSummary"] = t.ReviewSummary
			}
		} else if t.Reason != "" {
			entry["forceReason"] = t.Reason
		}
		response = append(response, entry)
	}
	return response, nil
}
