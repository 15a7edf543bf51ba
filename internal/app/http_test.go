package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"warden/api/internal/store"
)

func testToken(t *testing.T, svc *Service, role string) string {
	t.Helper()
	session, err := svc.IssueSession(context.Background(), store.User{
		ID:          "usr_1",
		DisplayName: "Test User",
		Role:        role,
	})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error {
			return context.DeadlineExceeded
		},
	}
	handler := NewHTTPServer(newTestService(fs), "").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/ready", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["status"] != "not_ready" {
		t.Errorf("payload = %v", payload)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/projects", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestViewerCannotToggleGates(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1", Phase: "BRAINSTORM"}, nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "viewer")

	rec := doRequest(t, handler, http.MethodPut, "/api/projects/proj_1/gates/GA:LIC", token, `{"passed":true}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestViewerCanReadGates(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1", Phase: "BRAINSTORM"}, nil
		},
		listGatesFn: func(context.Context, string) ([]store.Gate, error) {
			return seedGates("proj_1"), nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return declaredClassification(), nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "viewer")

	rec := doRequest(t, handler, http.MethodGet, "/api/projects/proj_1/gates", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestSearchRouteParsesFilters(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "viewer")

	rec := doRequest(t, handler, http.MethodGet, "/api/search?q=stripe&type=incident&limit=5", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["query"] != "stripe" {
		t.Errorf("query = %v, want %q", payload["query"], "stripe")
	}
	results, ok := payload["results"].([]any)
	if !ok {
		t.Fatalf("results = %v, want a list", payload["results"])
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none without a search backend", results)
	}
}

func TestSearchRouteRejectsBadLimit(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "viewer")

	rec := doRequest(t, handler, http.MethodGet, "/api/search?q=stripe&limit=many", token, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestBuilderCannotUnlockIncident(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "builder")

	rec := doRequest(t, handler, http.MethodPost, "/api/projects/proj_1/incidents/inc_1/unlock", token, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestBuilderTogglesGate(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1", Phase: "BRAINSTORM"}, nil
		},
		getGateFn: func(_ context.Context, _, gateID string) (store.Gate, error) {
			return store.Gate{GateID: gateID, Category: "SETUP", Passed: true, Required: true}, nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "builder")

	rec := doRequest(t, handler, http.MethodPut, "/api/projects/proj_1/gates/GA:LIC", token, `{"passed":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if payload := decodeResponse(t, rec); payload["passed"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestMissingProjectMapsToNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{})
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "director")

	rec := doRequest(t, handler, http.MethodGet, "/api/projects/proj_missing", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if payload := decodeResponse(t, rec); payload["code"] != "NOT_FOUND" {
		t.Errorf("payload = %v", payload)
	}
}

func TestGateBlockedSurfacesRemediation(t *testing.T) {
	fs := &fakeStore{
		getProjectFn: func(context.Context, string) (store.Project, error) {
			return store.Project{ID: "proj_1", Phase: "BRAINSTORM"}, nil
		},
		listGatesFn: func(context.Context, string) ([]store.Gate, error) {
			return seedGates("proj_1"), nil
		},
		getClassificationFn: func(context.Context, string) (store.Classification, error) {
			return declaredClassification(), nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "director")

	rec := doRequest(t, handler, http.MethodPut, "/api/projects/proj_1/phase", token, `{"targetPhase":"PLAN"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["code"] != "GATE_BLOCKED" {
		t.Fatalf("payload = %v", payload)
	}
	details := payload["details"].(map[string]any)
	blockers := details["blockers"].([]any)
	if len(blockers) == 0 {
		t.Fatal("blockers missing from denial")
	}
	first := blockers[0].(map[string]any)
	if first["remediation"] == "" {
		t.Errorf("blocker = %v, want remediation text", first)
	}
}

func TestIncidentUnlockUnreachableViaPhaseRoute(t *testing.T) {
	fs := &fakeStore{
		getIncidentFn: func(context.Context, string, string) (store.CCSIncident, error) {
			return activeIncident("ATTEST"), nil
		},
	}
	svc := newTestService(fs)
	handler := NewHTTPServer(svc, "").Handler()
	token := testToken(t, svc, "builder")

	rec := doRequest(t, handler, http.MethodPut, "/api/projects/proj_1/incidents/inc_1/phase", token, `{"targetPhase":"UNLOCK"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}
