package export

import (
	"fmt"
)

// Service provides report export functionality
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// DashboardPDF renders the project dashboard to PDF.
func (s *Service) DashboardPDF(data DashboardData) (*Result, error) {
	html, err := RenderDashboardHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render dashboard: %w", err)
	}
	return exportPDF(html, data.ProjectName+" dashboard")
}

// IncidentPDF renders a credential incident report to PDF.
func (s *Service) IncidentPDF(data IncidentData) (*Result, error) {
	html, err := RenderIncidentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render incident: %w", err)
	}
	return exportPDF(html, data.IncidentNumber)
}
