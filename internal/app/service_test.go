package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"warden/api/internal/config"
	"warden/api/internal/readiness"
	"warden/api/internal/store"
)

// fakeStore implements dataStore. Set the function fields a test cares about;
// everything else returns zero values.
type fakeStore struct {
	pingFn func(context.Context) error

	createUserFn    func(context.Context, store.User) error
	getUserByIDFn   func(context.Context, string) (store.User, error)
	getUserByEmail  func(context.Context, string) (store.User, error)
	lookupRefreshFn func(context.Context, string) (store.User, error)

	createProjectFn        func(context.Context, store.Project, []store.Gate) error
	getProjectFn           func(context.Context, string) (store.Project, error)
	listProjectsFn         func(context.Context) ([]store.Project, error)
	advancePhaseFn         func(context.Context, string, int, string, store.PhaseTransition) error
	reassessFn             func(context.Context, string, int, string, []string, store.PhaseTransition) error
	listPhaseHistoryFn     func(context.Context, string, int) ([]store.PhaseTransition, error)
	insertProjectArtFn     func(context.Context, store.ProjectArtifact) error
	listProjectArtifactsFn func(context.Context, string) ([]store.ProjectArtifact, error)

	listGatesFn          func(context.Context, string) ([]store.Gate, error)
	getGateFn            func(context.Context, string, string) (store.Gate, error)
	setGateFn            func(context.Context, string, string, bool) error
	getClassificationFn  func(context.Context, string) (store.Classification, error)
	saveClassificationFn func(context.Context, store.Classification) error
	insertExposureLogFn  func(context.Context, store.ExposureLogEntry) error

	getBlueprintSnapshotFn  func(context.Context, string) (store.BlueprintSnapshot, error)
	listScopesFn            func(context.Context, string) ([]store.Scope, error)
	listDeliverablesFn      func(context.Context, string) ([]store.Deliverable, error)
	getScopeFn              func(context.Context, string, string) (store.Scope, error)
	getDeliverableFn        func(context.Context, string, string) (store.Deliverable, error)
	insertScopeFn           func(context.Context, store.Scope) error
	updateScopeFn           func(context.Context, store.Scope) error
	deleteScopeFn           func(context.Context, string, string) error
	insertDeliverableFn     func(context.Context, store.Deliverable) error
	updateDeliverableFn     func(context.Context, store.Deliverable) error
	deleteDeliverableFn     func(context.Context, string, string) error
	importBlueprintFn       func(context.Context, string, []store.Scope, []store.Deliverable) error
	insertIntegrityReportFn func(context.Context, store.IntegrityReport) error
	latestIntegrityReportFn func(context.Context, string) (store.IntegrityReport, error)

	insertIncidentFn       func(context.Context, store.CCSIncident) error
	getIncidentFn          func(context.Context, string, string) (store.CCSIncident, error)
	listIncidentsFn        func(context.Context, string) ([]store.CCSIncident, error)
	countActiveFn          func(context.Context, string) (int, error)
	countOnDateFn          func(context.Context, time.Time) (int, error)
	advanceIncidentFn      func(context.Context, string, string, string) error
	attestIncidentFn       func(context.Context, string, string, string) error
	unlockIncidentFn       func(context.Context, string) error
	insertCCSArtifactFn    func(context.Context, store.CCSArtifact) error
	listCCSArtifactsFn     func(context.Context, string) ([]store.CCSArtifact, error)
	insertCCSTestFn        func(context.Context, store.CCSVerificationTest) error
	listCCSTestsFn         func(context.Context, string) ([]store.CCSVerificationTest, error)

	listReconciliationFn    func(context.Context, string) ([]store.ReconciliationItem, error)
	replaceReconciliationFn func(context.Context, string, []store.ReconciliationItem) error
	initializeWUFn          func(context.Context, string, int, store.WUAuditEntry) error
	allocateWUFn            func(context.Context, string, map[string]int, []store.WUAuditEntry) error
	setScopeVerifiedWUFn    func(context.Context, string, string, int, store.WUAuditEntry) error
	listWUAuditFn           func(context.Context, string, int, int) ([]store.WUAuditEntry, error)

	insertAuditEventFn func(context.Context, store.AuditEvent) error
	listAuditEventsFn  func(context.Context, string, int, int) ([]store.AuditEvent, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmail != nil {
		return f.getUserByEmail(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: "Test User", Role: "director"}, nil
}
func (f *fakeStore) UpdateUserVerificationToken(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) VerifyUserEmail(context.Context, string) error            { return nil }
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) { return "", nil }
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error      { return nil }

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, store.ErrNotFound
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error          { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error  { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error)  { return false, nil }

func (f *fakeStore) CreateProject(ctx context.Context, project store.Project, gates []store.Gate) error {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, project, gates)
	}
	return nil
}
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{}, store.ErrNotFound
}
func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) AdvancePhase(ctx context.Context, projectID string, expectedVersion int, toPhase string, transition store.PhaseTransition) error {
	if f.advancePhaseFn != nil {
		return f.advancePhaseFn(ctx, projectID, expectedVersion, toPhase, transition)
	}
	return nil
}
func (f *fakeStore) Reassess(ctx context.Context, projectID string, expectedVersion int, toPhase string, supersedePhases []string, transition store.PhaseTransition) error {
	if f.reassessFn != nil {
		return f.reassessFn(ctx, projectID, expectedVersion, toPhase, supersedePhases, transition)
	}
	return nil
}
func (f *fakeStore) ListPhaseHistory(ctx context.Context, projectID string, limit int) ([]store.PhaseTransition, error) {
	if f.listPhaseHistoryFn != nil {
		return f.listPhaseHistoryFn(ctx, projectID, limit)
	}
	return nil, nil
}
func (f *fakeStore) InsertProjectArtifact(ctx context.Context, artifact store.ProjectArtifact) error {
	if f.insertProjectArtFn != nil {
		return f.insertProjectArtFn(ctx, artifact)
	}
	return nil
}
func (f *fakeStore) ListProjectArtifacts(ctx context.Context, projectID string) ([]store.ProjectArtifact, error) {
	if f.listProjectArtifactsFn != nil {
		return f.listProjectArtifactsFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) ListGates(ctx context.Context, projectID string) ([]store.Gate, error) {
	if f.listGatesFn != nil {
		return f.listGatesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetGate(ctx context.Context, projectID, gateID string) (store.Gate, error) {
	if f.getGateFn != nil {
		return f.getGateFn(ctx, projectID, gateID)
	}
	return store.Gate{}, store.ErrNotFound
}
func (f *fakeStore) SetGate(ctx context.Context, projectID, gateID string, passed bool) error {
	if f.setGateFn != nil {
		return f.setGateFn(ctx, projectID, gateID, passed)
	}
	return nil
}
func (f *fakeStore) GetClassification(ctx context.Context, projectID string) (store.Classification, error) {
	if f.getClassificationFn != nil {
		return f.getClassificationFn(ctx, projectID)
	}
	return store.Classification{}, store.ErrNotFound
}
func (f *fakeStore) SaveClassification(ctx context.Context, c store.Classification) error {
	if f.saveClassificationFn != nil {
		return f.saveClassificationFn(ctx, c)
	}
	return nil
}
func (f *fakeStore) InsertExposureLog(ctx context.Context, entry store.ExposureLogEntry) error {
	if f.insertExposureLogFn != nil {
		return f.insertExposureLogFn(ctx, entry)
	}
	return nil
}

func (f *fakeStore) GetBlueprintSnapshot(ctx context.Context, projectID string) (store.BlueprintSnapshot, error) {
	if f.getBlueprintSnapshotFn != nil {
		return f.getBlueprintSnapshotFn(ctx, projectID)
	}
	return store.BlueprintSnapshot{}, store.ErrNotFound
}
func (f *fakeStore) ListScopes(ctx context.Context, projectID string) ([]store.Scope, error) {
	if f.listScopesFn != nil {
		return f.listScopesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ListDeliverables(ctx context.Context, projectID string) ([]store.Deliverable, error) {
	if f.listDeliverablesFn != nil {
		return f.listDeliverablesFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) GetScope(ctx context.Context, projectID, scopeID string) (store.Scope, error) {
	if f.getScopeFn != nil {
		return f.getScopeFn(ctx, projectID, scopeID)
	}
	return store.Scope{}, store.ErrNotFound
}
func (f *fakeStore) GetDeliverable(ctx context.Context, projectID, deliverableID string) (store.Deliverable, error) {
	if f.getDeliverableFn != nil {
		return f.getDeliverableFn(ctx, projectID, deliverableID)
	}
	return store.Deliverable{}, store.ErrNotFound
}
func (f *fakeStore) InsertScope(ctx context.Context, scope store.Scope) error {
	if f.insertScopeFn != nil {
		return f.insertScopeFn(ctx, scope)
	}
	return nil
}
func (f *fakeStore) UpdateScope(ctx context.Context, scope store.Scope) error {
	if f.updateScopeFn != nil {
		return f.updateScopeFn(ctx, scope)
	}
	return nil
}
func (f *fakeStore) DeleteScope(ctx context.Context, projectID, scopeID string) error {
	if f.deleteScopeFn != nil {
		return f.deleteScopeFn(ctx, projectID, scopeID)
	}
	return nil
}
func (f *fakeStore) InsertDeliverable(ctx context.Context, d store.Deliverable) error {
	if f.insertDeliverableFn != nil {
		return f.insertDeliverableFn(ctx, d)
	}
	return nil
}
func (f *fakeStore) UpdateDeliverable(ctx context.Context, d store.Deliverable) error {
	if f.updateDeliverableFn != nil {
		return f.updateDeliverableFn(ctx, d)
	}
	return nil
}
func (f *fakeStore) DeleteDeliverable(ctx context.Context, projectID, deliverableID string) error {
	if f.deleteDeliverableFn != nil {
		return f.deleteDeliverableFn(ctx, projectID, deliverableID)
	}
	return nil
}
func (f *fakeStore) ImportBlueprint(ctx context.Context, projectID string, scopes []store.Scope, deliverables []store.Deliverable) error {
	if f.importBlueprintFn != nil {
		return f.importBlueprintFn(ctx, projectID, scopes, deliverables)
	}
	return nil
}
func (f *fakeStore) InsertIntegrityReport(ctx context.Context, report store.IntegrityReport) error {
	if f.insertIntegrityReportFn != nil {
		return f.insertIntegrityReportFn(ctx, report)
	}
	return nil
}
func (f *fakeStore) LatestIntegrityReport(ctx context.Context, projectID string) (store.IntegrityReport, error) {
	if f.latestIntegrityReportFn != nil {
		return f.latestIntegrityReportFn(ctx, projectID)
	}
	return store.IntegrityReport{}, store.ErrNotFound
}

func (f *fakeStore) InsertIncident(ctx context.Context, incident store.CCSIncident) error {
	if f.insertIncidentFn != nil {
		return f.insertIncidentFn(ctx, incident)
	}
	return nil
}
func (f *fakeStore) GetIncident(ctx context.Context, projectID, incidentID string) (store.CCSIncident, error) {
	if f.getIncidentFn != nil {
		return f.getIncidentFn(ctx, projectID, incidentID)
	}
	return store.CCSIncident{}, store.ErrNotFound
}
func (f *fakeStore) ListIncidents(ctx context.Context, projectID string) ([]store.CCSIncident, error) {
	if f.listIncidentsFn != nil {
		return f.listIncidentsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) CountActiveIncidents(ctx context.Context, projectID string) (int, error) {
	if f.countActiveFn != nil {
		return f.countActiveFn(ctx, projectID)
	}
	return 0, nil
}
func (f *fakeStore) CountIncidentsOnDate(ctx context.Context, day time.Time) (int, error) {
	if f.countOnDateFn != nil {
		return f.countOnDateFn(ctx, day)
	}
	return 0, nil
}
func (f *fakeStore) AdvanceIncidentPhase(ctx context.Context, incidentID, fromPhase, toPhase string) error {
	if f.advanceIncidentFn != nil {
		return f.advanceIncidentFn(ctx, incidentID, fromPhase, toPhase)
	}
	return nil
}
func (f *fakeStore) AttestIncident(ctx context.Context, incidentID, attestedBy, statement string) error {
	if f.attestIncidentFn != nil {
		return f.attestIncidentFn(ctx, incidentID, attestedBy, statement)
	}
	return nil
}
func (f *fakeStore) UnlockIncident(ctx context.Context, incidentID string) error {
	if f.unlockIncidentFn != nil {
		return f.unlockIncidentFn(ctx, incidentID)
	}
	return nil
}
func (f *fakeStore) InsertCCSArtifact(ctx context.Context, artifact store.CCSArtifact) error {
	if f.insertCCSArtifactFn != nil {
		return f.insertCCSArtifactFn(ctx, artifact)
	}
	return nil
}
func (f *fakeStore) ListCCSArtifacts(ctx context.Context, incidentID string) ([]store.CCSArtifact, error) {
	if f.listCCSArtifactsFn != nil {
		return f.listCCSArtifactsFn(ctx, incidentID)
	}
	return nil, nil
}
func (f *fakeStore) InsertCCSVerificationTest(ctx context.Context, test store.CCSVerificationTest) error {
	if f.insertCCSTestFn != nil {
		return f.insertCCSTestFn(ctx, test)
	}
	return nil
}
func (f *fakeStore) ListCCSVerificationTests(ctx context.Context, incidentID string) ([]store.CCSVerificationTest, error) {
	if f.listCCSTestsFn != nil {
		return f.listCCSTestsFn(ctx, incidentID)
	}
	return nil, nil
}

func (f *fakeStore) ListReconciliationItems(ctx context.Context, projectID string) ([]store.ReconciliationItem, error) {
	if f.listReconciliationFn != nil {
		return f.listReconciliationFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ReplaceReconciliationItems(ctx context.Context, projectID string, items []store.ReconciliationItem) error {
	if f.replaceReconciliationFn != nil {
		return f.replaceReconciliationFn(ctx, projectID, items)
	}
	return nil
}
func (f *fakeStore) InitializeWU(ctx context.Context, projectID string, total int, audit store.WUAuditEntry) error {
	if f.initializeWUFn != nil {
		return f.initializeWUFn(ctx, projectID, total, audit)
	}
	return nil
}
func (f *fakeStore) AllocateWU(ctx context.Context, projectID string, allocations map[string]int, audits []store.WUAuditEntry) error {
	if f.allocateWUFn != nil {
		return f.allocateWUFn(ctx, projectID, allocations, audits)
	}
	return nil
}
func (f *fakeStore) SetScopeVerifiedWU(ctx context.Context, projectID, scopeID string, verified int, audit store.WUAuditEntry) error {
	if f.setScopeVerifiedWUFn != nil {
		return f.setScopeVerifiedWUFn(ctx, projectID, scopeID, verified, audit)
	}
	return nil
}
func (f *fakeStore) ListWUAudit(ctx context.Context, projectID string, limit, offset int) ([]store.WUAuditEntry, error) {
	if f.listWUAuditFn != nil {
		return f.listWUAuditFn(ctx, projectID, limit, offset)
	}
	return nil, nil
}

func (f *fakeStore) InsertAuditEvent(ctx context.Context, event store.AuditEvent) error {
	if f.insertAuditEventFn != nil {
		return f.insertAuditEventFn(ctx, event)
	}
	return nil
}
func (f *fakeStore) ListAuditEvents(ctx context.Context, projectID string, limit, offset int) ([]store.AuditEvent, error) {
	if f.listAuditEventsFn != nil {
		return f.listAuditEventsFn(ctx, projectID, limit, offset)
	}
	return nil, nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:        fs,
		sessions:     fs,
		readiness:    readiness.Default{},
		projectLocks: make(map[string]*sync.Mutex),
	}
}

func TestCreateProjectRequiresName(t *testing.T) {
	svc := newTestService(&fakeStore{})
	if _, err := svc.CreateProject(context.Background(), "   ", "usr_1"); err == nil {
		t.Fatal("expected validation error for blank name")
	}
}

func TestCreateProjectSeedsGates(t *testing.T) {
	var seeded []store.Gate
	fs := &fakeStore{
		createProjectFn: func(_ context.Context, project store.Project, gates []store.Gate) error {
			if project.Phase != "BRAINSTORM" {
				t.Errorf("new project phase = %s, want BRAINSTORM", project.Phase)
			}
			seeded = gates
			return nil
		},
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			return store.Project{ID: projectID, Name: "Payment Rework", Phase: "BRAINSTORM"}, nil
		},
	}
	svc := newTestService(fs)
	if _, err := svc.CreateProject(context.Background(), "Payment Rework", "usr_1"); err != nil {
		t.Fatalf("create project: %v", err)
	}

	want := map[string]bool{
		"GA:LIC": true, "GA:DIS": true, "GA:TIR": true,
		"GA:ENV": true, "GA:FLD": true, "GA:BP": true, "GA:IVL": true,
		"GW:PRE": true, "GW:VAL": true, "GW:VER": true,
	}
	got := map[string]bool{}
	for _, gate := range seeded {
		got[gate.GateID] = true
	}
	for id := range want {
		if !got[id] {
			t.Errorf("gate %s not seeded", id)
		}
	}
}
