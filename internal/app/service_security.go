package app

import (
	"context"
	"net/http"
	"strings"

	"warden/api/internal/store"
	"warden/api/internal/util"
)

var allowedFlagValues = map[string]struct{}{
	"YES":     {},
	"NO":      {},
	"UNKNOWN": {},
}

var allowedExposures = map[string]struct{}{
	"PUBLIC":       {},
	"INTERNAL":     {},
	"CONFIDENTIAL": {},
	"RESTRICTED":   {},
	"PROHIBITED":   {},
}

type ClassificationInput struct {
	PII          string   `json:"pii"`
	PHI          string   `json:"phi"`
	Financial    string   `json:"financial"`
	Legal        string   `json:"legal"`
	MinorData    string   `json:"minorData"`
	Jurisdiction string   `json:"jurisdiction"`
	Regulations  []string `json:"regulations"`
	AIExposure   string   `json:"aiExposure"`
}

func (s *Service) GetClassification(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	classification, err := s.store.GetClassification(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return classificationResponse(classification), nil
}

// SaveClassification validates and stores the declaration, which in turn
// moves the derived security gates.
func (s *Service) SaveClassification(ctx context.Context, projectID, actor string, input ClassificationInput) (map[string]any, error) {
	unlock := s.lockProject(projectID)
	defer unlock()

	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	classification := store.Classification{
		ProjectID:    projectID,
		PII:          normalizeFlag(input.PII),
		PHI:          normalizeFlag(input.PHI),
		Financial:    normalizeFlag(input.Financial),
		Legal:        normalizeFlag(input.Legal),
		MinorData:    normalizeFlag(input.MinorData),
		Jurisdiction: strings.TrimSpace(input.Jurisdiction),
		Regulations:  input.Regulations,
		AIExposure:   strings.ToUpper(strings.TrimSpace(input.AIExposure)),
	}
	if classification.Regulations == nil {
		classification.Regulations = []string{}
	}
	if classification.AIExposure == "" {
		// Undeclared projects default to the most protective usable level.
		classification.AIExposure = "RESTRICTED"
	}

	if problems := validateClassification(classification); len(problems) > 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Data classification is not consistent", map[string]any{"problems": problems})
	}

	// Any UNKNOWN flag forces exposure up to at least CONFIDENTIAL.
	if !classificationDeclared(classification) && exposureRank[classification.AIExposure] < exposureRank["CONFIDENTIAL"] {
		classification.AIExposure = "CONFIDENTIAL"
	}

	if err := s.store.SaveClassification(ctx, classification); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "CLASSIFICATION_DECLARED", actor, map[string]any{
		"declared":   classificationDeclared(classification),
		"aiExposure": classification.AIExposure,
	})

	saved, err := s.store.GetClassification(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return classificationResponse(saved), nil
}

func normalizeFlag(raw string) string {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := allowedFlagValues[value]; !ok {
		return "UNKNOWN"
	}
	return value
}

func validateClassification(c store.Classification) []string {
	var problems []string
	if _, ok := allowedExposures[c.AIExposure]; !ok {
		problems = append(problems, "unknown AI exposure level "+c.AIExposure)
		return problems
	}
	if hasSensitiveData(c) && c.AIExposure == "PUBLIC" {
		problems = append(problems, "sensitive data cannot have PUBLIC exposure")
	}
	if c.PHI == "YES" && exposureRank[c.AIExposure] < exposureRank["CONFIDENTIAL"] {
		problems = append(problems, "PHI requires CONFIDENTIAL exposure or stricter")
	}
	if c.MinorData == "YES" && exposureRank[c.AIExposure] < exposureRank["RESTRICTED"] {
		problems = append(problems, "data about minors requires RESTRICTED or PROHIBITED exposure")
	}
	return problems
}

func classificationResponse(c store.Classification) map[string]any {
	return map[string]any{
		"projectId":    c.ProjectID,
		"pii":          c.PII,
		"phi":          c.PHI,
		"financial":    c.Financial,
		"legal":        c.Legal,
		"minorData":    c.MinorData,
		"jurisdiction": c.Jurisdiction,
		"regulations":  c.Regulations,
		"aiExposure":   c.AIExposure,
		"declared":     classificationDeclared(c),
		"updatedAt":    c.UpdatedAt,
	}
}

// SecurityGates returns the derived GS gate states with the execution verdict
// the security evaluator would give.
func (s *Service) SecurityGates(ctx context.Context, projectID string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	classification, err := s.store.GetClassification(ctx, projectID)
	if err != nil {
		return nil, err
	}

	derived := deriveSecurityGates(classification)
	gates := make([]map[string]any, 0, len(derived))
	allowed := true
	var reasons []string
	for _, gate := range derived {
		gates = append(gates, map[string]any{
			"id":          gate.ID,
			"label":       gate.Label,
			"remediation": gate.Remediation,
			"passed":      gate.Passed,
			"required":    gate.Required,
		})
		if gate.Required && !gate.Passed {
			allowed = false
			reasons = append(reasons, gate.Label+" is not satisfied")
		}
	}
	return map[string]any{
		"projectId":        projectID,
		"gates":            gates,
		"executionAllowed": allowed,
		"reasons":          reasons,
	}, nil
}

// ValidateExposure checks a proposed exposure of content against the
// project's classification and records the decision.
func (s *Service) ValidateExposure(ctx context.Context, projectID, actor, proposed string) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	classification, err := s.store.GetClassification(ctx, projectID)
	if err != nil {
		return nil, err
	}

	exposure := strings.ToUpper(strings.TrimSpace(proposed))
	if _, ok := allowedExposures[exposure]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"Unknown exposure level "+proposed, nil)
	}

	allowed := true
	reason := "exposure is within the declared classification"
	switch {
	case classification.AIExposure == "PROHIBITED":
		allowed = false
		reason = "project classification prohibits AI exposure entirely"
	case !classificationDeclared(classification) && exposure == "PUBLIC":
		allowed = false
		reason = "classification is undeclared; public exposure is blocked"
	case exposureRank[exposure] < exposureRank[classification.AIExposure] && hasSensitiveData(classification):
		allowed = false
		reason = "proposed exposure is weaker than the declared level for sensitive data"
	}

	entry := store.ExposureLogEntry{
		ID:        util.NewID("exp"),
		ProjectID: projectID,
		Exposure:  exposure,
		Allowed:   allowed,
		Reason:    reason,
	}
	if err := s.store.InsertExposureLog(ctx, entry); err != nil {
		return nil, err
	}
	if !allowed {
		s.audit(ctx, projectID, "EXPOSURE_DENIED", actor, map[string]any{"exposure": exposure, "reason": reason})
	}
	return map[string]any{
		"exposure": exposure,
		"allowed":  allowed,
		"reason":   reason,
	}, nil
}
