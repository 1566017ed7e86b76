package dto

type RegisterRequest struct {
	OrganizationName string `json:"organizationName"`
	Domain           string `json:"domain"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

type LoginRequest struct {
	OrgID    string `json:"orgId,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type SwitchOrganizationRequest struct {
	OrgID string `json:"orgId"`
}

type CreateAgentRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OrganizationResponse struct {
	OrgID      string `json:"orgId"`
	Domain     string `json:"domain"`
	Name       string `json:"name"`
	AutoAssign bool   `json:"autoAssign"`
	CreatedAt  string `json:"createdAt"`
}

type UserResponse struct {
	UserID    string `json:"userId"`
	OrgID     string `json:"orgId"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type OrganizationMembership struct {
	UserID    string `json:"userId"`
	OrgID     string `json:"orgId"`
	Name      string `json:"name"`
	Domain    string `json:"domain"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	IsDefault bool   `json:"isDefault"`
}

type AuthResponse struct {
	AccessToken  string                   `json:"accessToken"`
	RefreshToken string                   `json:"refreshToken,omitempty"`
	User         UserResponse             `json:"user"`
	Organization OrganizationResponse     `json:"organization"`
	Memberships  []OrganizationMembership `json:"memberships,omitempty"`
}

type MeResponse struct {
	User         UserResponse         `json:"user"`
	Organization OrganizationResponse `json:"organization"`
}
