package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/api/middleware"
	"omnidesk-backend/internal/dto"
	internaljwt "omnidesk-backend/internal/jwt"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/queue"
	authsvc "omnidesk-backend/internal/service/auth"
)

type testAuthRepository struct {
	mu    sync.Mutex
	orgs  map[string]model.OrganizationItem
	users map[string]model.UserItem
}

func newTestAuthRepository() *testAuthRepository {
	return &testAuthRepository{
		orgs:  make(map[string]model.OrganizationItem),
		users: make(map[string]model.UserItem),
	}
}

func (m *testAuthRepository) CreateOrganization(ctx context.Context, org model.OrganizationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[org.OrgID] = org
	return nil
}

func (m *testAuthRepository) CreateUser(ctx context.Context, user model.UserItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.PK] = user
	return nil
}

func (m *testAuthRepository) ListUsersByEmail(ctx context.Context, email string) ([]model.UserItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]model.UserItem, 0)
	for _, user := range m.users {
		if user.Email == email {
			users = append(users, user)
		}
	}
	return users, nil
}

func (m *testAuthRepository) FindUserByEmail(ctx context.Context, orgID, email string) (model.UserItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.OrgID == orgID && user.Email == email {
			return user, nil
		}
	}
	return model.UserItem{}, authsvc.ErrNotFound
}

func (m *testAuthRepository) FindOrganizationByDomain(ctx context.Context, domain string) (model.OrganizationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.Domain == domain {
			return org, nil
		}
	}
	return model.OrganizationItem{}, authsvc.ErrNotFound
}

func (m *testAuthRepository) GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return model.OrganizationItem{}, authsvc.ErrNotFound
	}
	return org, nil
}

func (m *testAuthRepository) GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[model.OrgScopedPK(orgID, userID)]
	if !ok {
		return model.UserItem{}, authsvc.ErrNotFound
	}
	return user, nil
}

func fixedTime() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func setupTestJWT(t *testing.T) {
	t.Helper()
	internaljwt.RoleSecrets[internaljwt.RoleAgent] = "test-secret"
	authsvc.SetTokenIssuer(func(user internaljwt.User, role internaljwt.Role, validUntil int64) (internaljwt.TokenResponse, error) {
		token, err := internaljwt.CreateToken(user, role, validUntil)
		if err != nil {
			return internaljwt.TokenResponse{}, err
		}
		return internaljwt.TokenResponse{
			AccessToken: token,
		}, nil
	})
	t.Cleanup(func() {
		authsvc.SetTokenIssuer(nil)
	})
}

func setupAuthHandler(t *testing.T, svc *authsvc.Service) (http.Handler, func()) {
	t.Helper()

	authEndpoints := &authEndpoints{service: svc}

	queueManager := queue.NewRequestQueueManager(10, 1)

	server := api.NewAPIServer(":0", queueManager, nil, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", server.MakeHTTPHandleFunc(authEndpoints.Register))
	mux.HandleFunc("/api/auth/login", server.MakeHTTPHandleFunc(authEndpoints.Login))
	mux.HandleFunc("/api/auth/me", server.MakeHTTPHandleFunc(authEndpoints.Me, middleware.ValidateAgentJWT))
	mux.HandleFunc("/api/auth/switch", server.MakeHTTPHandleFunc(authEndpoints.Switch, middleware.ValidateAgentJWT))
	mux.HandleFunc("/api/auth/agents", server.MakeHTTPHandleFunc(authEndpoints.Agents, middleware.ValidateAgentJWT))

	return mux, func() {
		queueManager.Shutdown()
	}
}

func doJSONRequest[T any](t *testing.T, handler http.Handler, method, target string, body interface{}, headers map[string]string, expectedStatus int) T {
	t.Helper()

	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		payload = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, rec.Code, rec.Body.String())
	}

	var result T
	if expectedStatus != http.StatusNoContent {
		if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}

	return result
}

func registerPayload(orgName, domain, email string) map[string]interface{} {
	return map[string]interface{}{
		"organizationName": orgName,
		"domain":           domain,
		"name":             "Jane Owner",
		"email":            email,
		"password":         "Sup3rS3cret!",
	}
}

func TestAuthEndpointsEndToEnd(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	registerResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@acme.com"), nil, http.StatusCreated)

	if registerResp.Organization.Domain != "acme.com" {
		t.Fatalf("expected domain acme.com, got %s", registerResp.Organization.Domain)
	}

	if registerResp.User.Role != model.RoleAdmin {
		t.Fatalf("expected admin role, got %s", registerResp.User.Role)
	}

	if len(registerResp.Memberships) != 1 || !registerResp.Memberships[0].IsDefault {
		t.Fatalf("expected single default membership, got %#v", registerResp.Memberships)
	}

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"orgId":    registerResp.Organization.OrgID,
		"email":    "owner@acme.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusOK)

	if loginResp.AccessToken == "" {
		t.Fatal("expected access token in login response")
	}

	meHeaders := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	meResp := doJSONRequest[dto.MeResponse](t, handler, http.MethodGet, "/api/auth/me", nil, meHeaders, http.StatusOK)

	if meResp.User.Email != "owner@acme.com" {
		t.Fatalf("expected email owner@acme.com, got %s", meResp.User.Email)
	}

	if meResp.Organization.OrgID != registerResp.Organization.OrgID {
		t.Fatalf("expected org ID %s, got %s", registerResp.Organization.OrgID, meResp.Organization.OrgID)
	}
}

func TestAuthRegisterRejectsDuplicateDomain(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@acme.com"), nil, http.StatusCreated)
	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Clone", "ACME.com", "other@acme.com"), nil, http.StatusConflict)
}

func TestAuthLoginListsMultipleOrganizations(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@example.com"), nil, http.StatusCreated)
	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Beta Corp", "beta.com", "owner@example.com"), nil, http.StatusCreated)

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusOK)

	if len(loginResp.Memberships) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(loginResp.Memberships))
	}

	defaultCount := 0
	for _, membership := range loginResp.Memberships {
		if membership.IsDefault {
			defaultCount++
		}
	}
	if defaultCount != 1 {
		t.Fatalf("expected exactly one default membership, got %d", defaultCount)
	}
}

func TestAuthSwitchOrganization(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	firstResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@example.com"), nil, http.StatusCreated)
	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Beta Corp", "beta.com", "owner@example.com"), nil, http.StatusCreated)

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusOK)

	var target dto.OrganizationMembership
	for _, membership := range loginResp.Memberships {
		if membership.OrgID != loginResp.Organization.OrgID {
			target = membership
			break
		}
	}
	if target.OrgID == "" {
		t.Fatal("expected to find a second organization in memberships")
	}

	headers := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	switchResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/switch", map[string]interface{}{
		"orgId": target.OrgID,
	}, headers, http.StatusOK)

	if switchResp.Organization.OrgID != target.OrgID {
		t.Fatalf("expected org %s after switch, got %s", target.OrgID, switchResp.Organization.OrgID)
	}

	found := false
	for _, membership := range switchResp.Memberships {
		if membership.OrgID == firstResp.Organization.OrgID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected original organization to remain in memberships after switch")
	}
}

func TestAuthSwitchRejectsUnknownMembership(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@example.com"), nil, http.StatusCreated)

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "owner@example.com",
		"password": "Sup3rS3cret!",
	}, nil, http.StatusOK)

	headers := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/switch", map[string]interface{}{
		"orgId": "non-existent",
	}, headers, http.StatusUnauthorized)
}

func TestAuthCreateAgent(t *testing.T) {
	setupTestJWT(t)
	repo := newTestAuthRepository()
	service := authsvc.NewWithRepository(repo, fixedTime)

	handler, cleanup := setupAuthHandler(t, service)
	defer cleanup()

	registerResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/register", registerPayload("Acme Corp", "acme.com", "owner@acme.com"), nil, http.StatusCreated)

	headers := map[string]string{
		"Authorization": "Bearer " + registerResp.AccessToken,
	}

	agentResp := doJSONRequest[dto.UserResponse](t, handler, http.MethodPost, "/api/auth/agents", map[string]interface{}{
		"name":     "Sam Support",
		"email":    "sam@acme.com",
		"password": "An0therS3cret!",
	}, headers, http.StatusCreated)

	if agentResp.Role != model.RoleAgent {
		t.Fatalf("expected agent role, got %s", agentResp.Role)
	}
	if agentResp.OrgID != registerResp.Organization.OrgID {
		t.Fatalf("expected agent in org %s, got %s", registerResp.Organization.OrgID, agentResp.OrgID)
	}

	loginResp := doJSONRequest[dto.AuthResponse](t, handler, http.MethodPost, "/api/auth/login", map[string]interface{}{
		"email":    "sam@acme.com",
		"password": "An0therS3cret!",
	}, nil, http.StatusOK)

	if !strings.EqualFold(loginResp.User.Email, "sam@acme.com") {
		t.Fatalf("expected agent login, got %s", loginResp.User.Email)
	}

	agentHeaders := map[string]string{
		"Authorization": "Bearer " + loginResp.AccessToken,
	}

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/auth/agents", map[string]interface{}{
		"name":     "Eve Extra",
		"email":    "eve@acme.com",
		"password": "An0therS3cret!",
	}, agentHeaders, http.StatusForbidden)
}
