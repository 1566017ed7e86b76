package model

import "fmt"

const (
	OrganizationsTable   = "Organizations"
	UsersTable           = "Users"
	ChannelsTable        = "Channels"
	ContactsTable        = "Contacts"
	MessagesTable        = "Messages"
	CampaignsTable       = "Campaigns"
	CampaignLeadsTable   = "CampaignLeads"
	AssignmentRulesTable = "AssignmentRules"
)

type OrganizationItem struct {
	OrgID         string `dynamodbav:"orgId"`
	Domain        string `dynamodbav:"domain"`
	Name          string `dynamodbav:"name"`
	AutoAssign    bool   `dynamodbav:"autoAssign"`
	FBVerifyToken string `dynamodbav:"fbVerifyToken,omitempty"`
	FBAppSecret   string `dynamodbav:"fbAppSecret,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
}

const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

type UserItem struct {
	PK           string `dynamodbav:"pk"`
	OrgID        string `dynamodbav:"orgId"`
	UserID       string `dynamodbav:"userId"`
	Email        string `dynamodbav:"email"`
	Name         string `dynamodbav:"name"`
	Role         string `dynamodbav:"role"`
	Status       string `dynamodbav:"status"`
	PasswordHash string `dynamodbav:"passwordHash"`
	CreatedAt    string `dynamodbav:"createdAt"`
}

func OrgScopedPK(orgID, entityID string) string {
	return fmt.Sprintf("%s#%s", orgID, entityID)
}
