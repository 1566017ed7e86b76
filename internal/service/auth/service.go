package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"omnidesk-backend/internal/database"
	internaljwt "omnidesk-backend/internal/jwt"
	"omnidesk-backend/internal/model"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

var createTokenWithRefresh = internaljwt.CreateTokenWithRefresh

func SetTokenIssuer(issuer func(internaljwt.User, internaljwt.Role, int64) (internaljwt.TokenResponse, error)) {
	if issuer == nil {
		createTokenWithRefresh = internaljwt.CreateTokenWithRefresh
		return
	}
	createTokenWithRefresh = issuer
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo: repo,
		now:  now,
	}
}

// Register creates an organization together with its first admin user.
func (s *Service) Register(ctx context.Context, params RegisterParams) (AuthResult, error) {
	email := normalizeEmail(params.AdminEmail)
	password := strings.TrimSpace(params.Password)
	name := strings.TrimSpace(params.AdminName)
	orgName := strings.TrimSpace(params.OrgName)
	domain := normalizeDomain(params.Domain)

	if email == "" || password == "" || name == "" || orgName == "" || domain == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	if _, err := s.repo.FindOrganizationByDomain(ctx, domain); err == nil {
		return AuthResult{}, newError(ErrorCodeConflict, "domain already registered", nil)
	} else if !errors.Is(err, ErrNotFound) {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to check domain", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	orgID := uuid.NewString()
	userID := uuid.NewString()

	org := model.OrganizationItem{
		OrgID:     orgID,
		Domain:    domain,
		Name:      orgName,
		CreatedAt: now,
	}

	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to create organization", err)
	}

	newUser, err := internaljwt.NewUser(internaljwt.RegisterUser{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to prepare user", err)
	}

	newUser.Id = userID
	newUser.OrgID = orgID

	user := model.UserItem{
		PK:           model.OrgScopedPK(orgID, userID),
		OrgID:        orgID,
		UserID:       userID,
		Email:        email,
		Name:         name,
		Role:         model.RoleAdmin,
		Status:       "active",
		PasswordHash: newUser.PasswordHash,
		CreatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to save user", err)
	}

	tokens, err := createTokenWithRefresh(newUser, internaljwt.RoleAgent, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	return AuthResult{
		User:         user,
		Organization: org,
		Tokens:       tokens,
		Memberships: []Membership{
			{
				User:         user,
				Organization: org,
				IsDefault:    true,
			},
		},
	}, nil
}

func (s *Service) Login(ctx context.Context, params LoginParams) (AuthResult, error) {
	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)
	orgID := strings.TrimSpace(params.OrgID)

	if email == "" || password == "" {
		return AuthResult{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	matches, err := s.resolveUserOrgs(ctx, email, orgID, password)
	if err != nil {
		return AuthResult{}, err
	}

	defaultIdx := s.selectDefaultMembership(matches, orgID)
	defaultMatch := matches[defaultIdx]

	jwtUser := internaljwt.User{
		Id:           defaultMatch.User.UserID,
		OrgID:        defaultMatch.User.OrgID,
		Email:        defaultMatch.User.Email,
		PasswordHash: defaultMatch.User.PasswordHash,
	}

	tokens, err := createTokenWithRefresh(jwtUser, internaljwt.RoleAgent, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	memberships := make([]Membership, len(matches))
	for i, match := range matches {
		memberships[i] = Membership{
			User:         match.User,
			Organization: match.Org,
			IsDefault:    i == defaultIdx,
		}
	}

	return AuthResult{
		User:         defaultMatch.User,
		Organization: defaultMatch.Org,
		Tokens:       tokens,
		Memberships:  memberships,
	}, nil
}

// SwitchOrganization reissues tokens scoped to another organization the
// same email address belongs to.
func (s *Service) SwitchOrganization(ctx context.Context, identity Identity, orgID string) (AuthResult, error) {
	email := normalizeEmail(identity.Email)
	orgID = strings.TrimSpace(orgID)

	if email == "" {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}
	if orgID == "" {
		orgID = strings.TrimSpace(identity.OrgID)
	}
	matches, err := s.fetchMemberships(ctx, email)
	if err != nil {
		return AuthResult{}, err
	}
	if len(matches) == 0 {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "memberships not found", nil)
	}

	defaultIdx := -1
	for i, match := range matches {
		if match.Org.OrgID == orgID {
			defaultIdx = i
			break
		}
	}
	if defaultIdx == -1 {
		return AuthResult{}, newError(ErrorCodeUnauthorized, "membership not found", nil)
	}

	defaultMatch := matches[defaultIdx]

	jwtUser := internaljwt.User{
		Id:           defaultMatch.User.UserID,
		OrgID:        defaultMatch.User.OrgID,
		Email:        defaultMatch.User.Email,
		PasswordHash: defaultMatch.User.PasswordHash,
	}

	tokens, err := createTokenWithRefresh(jwtUser, internaljwt.RoleAgent, 0)
	if err != nil {
		return AuthResult{}, newError(ErrorCodeInternal, "failed to issue tokens", err)
	}

	memberships := make([]Membership, len(matches))
	for i, match := range matches {
		memberships[i] = Membership{
			User:         match.User,
			Organization: match.Org,
			IsDefault:    i == defaultIdx,
		}
	}

	return AuthResult{
		User:         defaultMatch.User,
		Organization: defaultMatch.Org,
		Tokens:       tokens,
		Memberships:  memberships,
	}, nil
}

// CreateAgent adds an agent account to the caller's organization. Only
// admins can do this.
func (s *Service) CreateAgent(ctx context.Context, identity Identity, params CreateAgentParams) (model.UserItem, error) {
	caller, err := s.requireUser(ctx, identity)
	if err != nil {
		return model.UserItem{}, err
	}
	if caller.Role != model.RoleAdmin {
		return model.UserItem{}, newError(ErrorCodeForbidden, "only organization admins can create agents", nil)
	}

	email := normalizeEmail(params.Email)
	password := strings.TrimSpace(params.Password)
	name := strings.TrimSpace(params.Name)
	if email == "" || password == "" || name == "" {
		return model.UserItem{}, newError(ErrorCodeValidation, "missing required fields", nil)
	}

	if _, err := s.repo.FindUserByEmail(ctx, caller.OrgID, email); err == nil {
		return model.UserItem{}, newError(ErrorCodeConflict, "email already registered in this organization", nil)
	} else if !errors.Is(err, ErrNotFound) {
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to check email", err)
	}

	newUser, err := internaljwt.NewUser(internaljwt.RegisterUser{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to prepare user", err)
	}

	now := s.now().UTC().Format(time.RFC3339)
	userID := uuid.NewString()
	user := model.UserItem{
		PK:           model.OrgScopedPK(caller.OrgID, userID),
		OrgID:        caller.OrgID,
		UserID:       userID,
		Email:        email,
		Name:         name,
		Role:         model.RoleAgent,
		Status:       "active",
		PasswordHash: newUser.PasswordHash,
		CreatedAt:    now,
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to save user", err)
	}
	return user, nil
}

func (s *Service) Me(ctx context.Context, identity Identity) (ProfileResult, error) {
	user, err := s.requireUser(ctx, identity)
	if err != nil {
		return ProfileResult{}, err
	}

	org, err := s.repo.GetOrganization(ctx, user.OrgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ProfileResult{}, newError(ErrorCodeNotFound, "organization not found", err)
		}
		return ProfileResult{}, newError(ErrorCodeInternal, "failed to fetch organization", err)
	}

	return ProfileResult{
		User:         user,
		Organization: org,
	}, nil
}

func (s *Service) requireUser(ctx context.Context, identity Identity) (model.UserItem, error) {
	userID := strings.TrimSpace(identity.UserID)
	orgID := strings.TrimSpace(identity.OrgID)

	if userID == "" || orgID == "" {
		return model.UserItem{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}

	user, err := s.repo.GetUser(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.UserItem{}, newError(ErrorCodeNotFound, "user not found", err)
		}
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to fetch user", err)
	}
	return user, nil
}

func (s *Service) IdentityFromAuthorizationHeader(header string) (Identity, error) {
	authHeader := strings.TrimSpace(header)
	if authHeader == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "missing authorization header", nil)
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid authorization header format", nil)
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return s.identityFromToken(token)
}

func (s *Service) identityFromToken(token string) (Identity, error) {
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}

	claims, err := internaljwt.ParseToken(token, internaljwt.RoleAgent)
	if err != nil {
		return Identity{}, newError(ErrorCodeUnauthorized, "invalid token", err)
	}

	userID, _ := claims["id"].(string)
	email, _ := claims["email"].(string)
	orgID, _ := claims["orgId"].(string)

	if userID == "" || orgID == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "token missing identifiers", nil)
	}

	return Identity{
		UserID: userID,
		OrgID:  orgID,
		Email:  email,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

type userOrgMatch struct {
	User model.UserItem
	Org  model.OrganizationItem
}

func (s *Service) resolveUserOrgs(ctx context.Context, email, orgID, password string) ([]userOrgMatch, error) {
	memberships, err := s.fetchMemberships(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	if orgID != "" {
		for _, match := range memberships {
			if match.Org.OrgID == orgID {
				if !internaljwt.ValidatePassword(match.User.PasswordHash, password) {
					return nil, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
				}
				return []userOrgMatch{match}, nil
			}
		}
		return nil, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	filtered := make([]userOrgMatch, 0, len(memberships))
	for _, match := range memberships {
		if internaljwt.ValidatePassword(match.User.PasswordHash, password) {
			filtered = append(filtered, match)
		}
	}

	if len(filtered) == 0 {
		return nil, newError(ErrorCodeUnauthorized, "invalid credentials", nil)
	}

	return filtered, nil
}

func (s *Service) fetchMemberships(ctx context.Context, email string) ([]userOrgMatch, error) {
	users, err := s.repo.ListUsersByEmail(ctx, email)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to fetch user", err)
	}

	matches := make([]userOrgMatch, 0, len(users))
	for _, user := range users {
		if user.Status != "active" {
			continue
		}

		org, err := s.repo.GetOrganization(ctx, user.OrgID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, newError(ErrorCodeInternal, "failed to fetch organization", err)
		}

		matches = append(matches, userOrgMatch{User: user, Org: org})
	}

	return matches, nil
}

func (s *Service) selectDefaultMembership(matches []userOrgMatch, orgID string) int {
	if orgID != "" {
		return 0
	}

	for i, match := range matches {
		if match.User.Role == model.RoleAdmin {
			return i
		}
	}

	return 0
}
