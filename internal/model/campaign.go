package model

import "fmt"

func CampaignPK(orgID, campaignID string) string {
	return fmt.Sprintf("%s#%s", orgID, campaignID)
}

func CampaignLeadPK(orgID, leadID string) string {
	return fmt.Sprintf("%s#%s", orgID, leadID)
}

func AssignmentRulePK(orgID, ruleID string) string {
	return fmt.Sprintf("%s#%s", orgID, ruleID)
}

type CampaignItem struct {
	PK         string `dynamodbav:"pk"`
	OrgID      string `dynamodbav:"orgId"`
	CampaignID string `dynamodbav:"campaignId"`
	Name       string `dynamodbav:"name"`
	PageID     string `dynamodbav:"pageId,omitempty"`
	FormID     string `dynamodbav:"formId,omitempty"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

type CampaignLeadItem struct {
	PK         string `dynamodbav:"pk"`
	OrgID      string `dynamodbav:"orgId"`
	LeadID     string `dynamodbav:"leadId"`
	CampaignID string `dynamodbav:"campaignId"`
	ContactID  string `dynamodbav:"contactId"`
	RawPayload string `dynamodbav:"rawPayload,omitempty"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

type RuleCondition string

const (
	RuleConditionAlways     RuleCondition = "always"
	RuleConditionChannel    RuleCondition = "channel"
	RuleConditionTag        RuleCondition = "tag"
	RuleConditionKeyword    RuleCondition = "keyword"
	RuleConditionTimeWindow RuleCondition = "time-window"
)

type AssignmentStrategy string

const (
	StrategyRoundRobinByLoad AssignmentStrategy = "round-robin-by-load"
	StrategyRandom           AssignmentStrategy = "random"
)

type AssignmentRuleItem struct {
	PK         string             `dynamodbav:"pk"`
	OrgID      string             `dynamodbav:"orgId"`
	RuleID     string             `dynamodbav:"ruleId"`
	Priority   int                `dynamodbav:"priority"`
	Condition  RuleCondition      `dynamodbav:"condition"`
	ChannelIDs []string           `dynamodbav:"channelIds,omitempty"`
	AgentIDs   []string           `dynamodbav:"agentIds,omitempty"`
	Strategy   AssignmentStrategy `dynamodbav:"strategy"`
	Enabled    bool               `dynamodbav:"enabled"`
	CreatedAt  string             `dynamodbav:"createdAt"`
}
