package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"warden/api/internal/auth"
	"warden/api/internal/authpw"
	"warden/api/internal/blob"
	"warden/api/internal/config"
	"warden/api/internal/email"
	"warden/api/internal/export"
	"warden/api/internal/rbac"
	"warden/api/internal/readiness"
	"warden/api/internal/search"
	"warden/api/internal/snapshot"
	"warden/api/internal/store"
	"warden/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is what the service needs from persistence. *store.PostgresStore
// satisfies it; tests substitute a fake.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyUserEmail(ctx context.Context, token string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateProject(ctx context.Context, project store.Project, gates []store.Gate) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	AdvancePhase(ctx context.Context, projectID string, expectedVersion int, toPhase string, transition store.PhaseTransition) error
	Reassess(ctx context.Context, projectID string, expectedVersion int, toPhase string, supersedePhases []string, transition store.PhaseTransition) error
	ListPhaseHistory(ctx context.Context, projectID string, limit int) ([]store.PhaseTransition, error)
	InsertProjectArtifact(ctx context.Context, artifact store.ProjectArtifact) error
	ListProjectArtifacts(ctx context.Context, projectID string) ([]store.ProjectArtifact, error)

	ListGates(ctx context.Context, projectID string) ([]store.Gate, error)
	GetGate(ctx context.Context, projectID, gateID string) (store.Gate, error)
	SetGate(ctx context.Context, projectID, gateID string, passed bool) error
	GetClassification(ctx context.Context, projectID string) (store.Classification, error)
	SaveClassification(ctx context.Context, c store.Classification) error
	InsertExposureLog(ctx context.Context, entry store.ExposureLogEntry) error

	GetBlueprintSnapshot(ctx context.Context, projectID string) (store.BlueprintSnapshot, error)
	ListScopes(ctx context.Context, projectID string) ([]store.Scope, error)
	ListDeliverables(ctx context.Context, projectID string) ([]store.Deliverable, error)
	GetScope(ctx context.Context, projectID, scopeID string) (store.Scope, error)
	GetDeliverable(ctx context.Context, projectID, deliverableID string) (store.Deliverable, error)
	InsertScope(ctx context.Context, scope store.Scope) error
	UpdateScope(ctx context.Context, scope store.Scope) error
	DeleteScope(ctx context.Context, projectID, scopeID string) error
	InsertDeliverable(ctx context.Context, d store.Deliverable) error
	UpdateDeliverable(ctx context.Context, d store.Deliverable) error
	DeleteDeliverable(ctx context.Context, projectID, deliverableID string) error
	ImportBlueprint(ctx context.Context, projectID string, scopes []store.Scope, deliverables []store.Deliverable) error
	InsertIntegrityReport(ctx context.Context, report store.IntegrityReport) error
	LatestIntegrityReport(ctx context.Context, projectID string) (store.IntegrityReport, error)

	InsertIncident(ctx context.Context, incident store.CCSIncident) error
	GetIncident(ctx context.Context, projectID, incidentID string) (store.CCSIncident, error)
	ListIncidents(ctx context.Context, projectID string) ([]store.CCSIncident, error)
	CountActiveIncidents(ctx context.Context, projectID string) (int, error)
	CountIncidentsOnDate(ctx context.Context, day time.Time) (int, error)
	AdvanceIncidentPhase(ctx context.Context, incidentID, fromPhase, toPhase string) error
	AttestIncident(ctx context.Context, incidentID, attestedBy, statement string) error
	UnlockIncident(ctx context.Context, incidentID string) error
	InsertCCSArtifact(ctx context.Context, artifact store.CCSArtifact) error
	ListCCSArtifacts(ctx context.Context, incidentID string) ([]store.CCSArtifact, error)
	InsertCCSVerificationTest(ctx context.Context, test store.CCSVerificationTest) error
	ListCCSVerificationTests(ctx context.Context, incidentID string) ([]store.CCSVerificationTest, error)

	ListReconciliationItems(ctx context.Context, projectID string) ([]store.ReconciliationItem, error)
	ReplaceReconciliationItems(ctx context.Context, projectID string, items []store.ReconciliationItem) error
	InitializeWU(ctx context.Context, projectID string, total int, audit store.WUAuditEntry) error
	AllocateWU(ctx context.Context, projectID string, allocations map[string]int, audits []store.WUAuditEntry) error
	SetScopeVerifiedWU(ctx context.Context, projectID, scopeID string, verified int, audit store.WUAuditEntry) error
	ListWUAudit(ctx context.Context, projectID string, limit, offset int) ([]store.WUAuditEntry, error)

	InsertAuditEvent(ctx context.Context, event store.AuditEvent) error
	ListAuditEvents(ctx context.Context, projectID string, limit, offset int) ([]store.AuditEvent, error)
}

// refreshStore holds refresh tokens. Redis in production, postgres fallback.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	authpw    *authpw.Service
	email     *email.Service
	indexer   search.Indexer
	searcher  *search.Service
	blobs     *blob.Store
	snapshots *snapshot.Service
	readiness readiness.Policy
	exporter  *export.Service

	mu           sync.Mutex
	projectLocks map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{
		cfg:          cfg,
		store:        dataStore,
		sessions:     dataStore,
		authpw:       authpw.NewService(dataStore, cfg.JWTSecret),
		readiness:    readiness.Default{},
		exporter:     export.NewService(),
		projectLocks: make(map[string]*sync.Mutex),
	}
}

// NewWithSessionStore wires an external refresh-token store (redis).
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore) *Service {
	service := New(cfg, dataStore)
	service.sessions = sessions
	return service
}

func (s *Service) SetEmailService(svc *email.Service)    { s.email = svc }
func (s *Service) SetIndexer(indexer search.Indexer)     { s.indexer = indexer }
func (s *Service) SetSearcher(svc *search.Service)       { s.searcher = svc }
func (s *Service) SetBlobStore(blobs *blob.Store)        { s.blobs = blobs }
func (s *Service) SetSnapshots(svc *snapshot.Service)    { s.snapshots = svc }
func (s *Service) SetReadinessPolicy(p readiness.Policy) { s.readiness = p }

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil
}

// CreateSession issues tokens for an already-authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.searcher.Search(q)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// lockProject serializes governance mutations per project. Gate toggles,
// phase transitions, and blueprint writes on the same project never
// interleave; different projects proceed in parallel.
func (s *Service) lockProject(projectID string) func() {
	s.mu.Lock()
	lock, ok := s.projectLocks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.projectLocks[projectID] = lock
	}
	s.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// Sessions

func (s *Service) IssueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if user.Role == "" {
		full, err := s.store.GetUserByID(ctx, user.ID)
		if err == nil {
			user = full
		}
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.IssueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			return err
		}
	}
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	return nil
}

// Projects

func (s *Service) CreateProject(ctx context.Context, name, createdBy string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Project name is required", nil)
	}

	project := store.Project{
		ID:        util.NewID("proj"),
		Name:      name,
		Phase:     phaseBrainstorm,
		CreatedBy: createdBy,
	}
	if err := s.store.CreateProject(ctx, project, seedGates(project.ID)); err != nil {
		return nil, err
	}
	s.audit(ctx, project.ID, "PROJECT_CREATED", createdBy, map[string]any{"name": name})
	s.snapshotState(ctx, project.ID, "project created")

	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	return projectResponse(created), nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return projectResponse(project), nil
}

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		response = append(response, projectResponse(project))
	}
	return response, nil
}

func projectResponse(project store.Project) map[string]any {
	return map[string]any{
		"id":            project.ID,
		"name":          project.Name,
		"phase":         project.Phase,
		"kingdom":       kingdomOf(project.Phase),
		"reassessCount": project.ReassessCount,
		"wuTotal":       project.WUTotal,
		"wuInitialized": project.WUInitialized,
		"createdBy":     project.CreatedBy,
		"createdAt":     project.CreatedAt,
		"updatedAt":     project.UpdatedAt,
	}
}

// Project artifacts

func (s *Service) AddProjectArtifact(ctx context.Context, projectID, name, content, actor string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Artifact name is required", nil)
	}
	artifact := store.ProjectArtifact{
		ID:        util.NewID("art"),
		ProjectID: projectID,
		Phase:     project.Phase,
		Name:      strings.TrimSpace(name),
		Content:   content,
		Status:    "ACTIVE",
	}
	if err := s.store.InsertProjectArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	s.audit(ctx, projectID, "ARTIFACT_ADDED", actor, map[string]any{"artifactId": artifact.ID, "phase": artifact.Phase})
	return map[string]any{
		"id":     artifact.ID,
		"phase":  artifact.Phase,
		"name":   artifact.Name,
		"status": artifact.Status,
	}, nil
}

func (s *Service) ListProjectArtifacts(ctx context.Context, projectID string) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListProjectArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	response := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		entry := map[string]any{
			"id":        artifact.ID,
			"phase":     artifact.Phase,
			"name":      artifact.Name,
			"status":    artifact.Status,
			"createdAt": artifact.CreatedAt,
		}
		if artifact.SupersededAt != nil {
			entry["supersededAt"] = artifact.SupersededAt
		}
		response = append(response, entry)
	}
	return response, nil
}

// audit records a governance event. Audit writes never fail the operation
// that produced them; a lost event is logged and tolerated.
func (s *Service) audit(ctx context.Context, projectID, eventType, actor string, detail map[string]any) {
	event := store.AuditEvent{
		ID:        util.NewID("evt"),
		ProjectID: projectID,
		EventType: eventType,
		Actor:     actor,
		Detail:    detail,
	}
	if err := s.store.InsertAuditEvent(ctx, event); err != nil {
		log.Printf("audit event %s for %s dropped: %v", eventType, projectID, err)
		return
	}
	if s.indexer != nil {
		if err := s.indexer.IndexAuditEvent(search.AuditEventRecord{
			ID:        event.ID,
			ProjectID: projectID,
			EventType: eventType,
			Actor:     actor,
		}); err != nil {
			log.Printf("index audit event %s: %v", event.ID, err)
		}
	}
}

// snapshotState commits the project's governance state to the snapshot log.
// Best effort: the log is an audit aid, not a source of truth.
func (s *Service) snapshotState(ctx context.Context, projectID, message string) {
	if s.snapshots == nil {
		return
	}
	state, err := s.collectSnapshotState(ctx, projectID)
	if err != nil {
		log.Printf("collect snapshot state for %s: %v", projectID, err)
		return
	}
	if err := s.snapshots.Record(projectID, message, state); err != nil {
		log.Printf("record snapshot for %s: %v", projectID, err)
	}
}

func (s *Service) collectSnapshotState(ctx context.Context, projectID string) (snapshot.State, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return snapshot.State{}, err
	}
	gates, err := s.store.ListGates(ctx, projectID)
	if err != nil {
		return snapshot.State{}, err
	}
	gateStates := make(map[string]bool, len(gates))
	for _, gate := range gates {
		gateStates[gate.GateID] = gate.Passed
	}
	incidents, err := s.store.CountActiveIncidents(ctx, projectID)
	if err != nil {
		return snapshot.State{}, err
	}
	return snapshot.State{
		ProjectID:       projectID,
		Phase:           project.Phase,
		ReassessCount:   project.ReassessCount,
		Gates:           gateStates,
		ActiveIncidents: incidents,
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict)
}
