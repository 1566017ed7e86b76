package assignment

import (
	"context"
	"errors"
	"sort"
	"strings"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("assignment repository: not found")

type Repository interface {
	GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error)
	ListRules(ctx context.Context, orgID string) ([]model.AssignmentRuleItem, error)
	ListAgents(ctx context.Context, orgID string) ([]model.UserItem, error)
	CountActiveAssignments(ctx context.Context, orgID, agentID string) (int, error)
	UpdateContactAssignment(ctx context.Context, orgID, contactID, agentID, updatedAt string) (model.ContactItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error) {
	var org model.OrganizationItem
	err := r.db.Client.GetItem(
		ctx,
		model.OrganizationsTable,
		map[string]types.AttributeValue{
			"orgId": &types.AttributeValueMemberS{Value: orgID},
		},
		&org,
	)
	if err != nil {
		if isNotFound(err) {
			return model.OrganizationItem{}, ErrNotFound
		}
		return model.OrganizationItem{}, err
	}
	return org, nil
}

func (r *DynamoRepository) ListRules(ctx context.Context, orgID string) ([]model.AssignmentRuleItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.AssignmentRulesTable,
		"orgId = :orgId",
		map[string]types.AttributeValue{
			":orgId": &types.AttributeValueMemberS{Value: orgID},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	rules := make([]model.AssignmentRuleItem, 0, len(items))
	for _, item := range items {
		var rule model.AssignmentRuleItem
		if err := attributevalue.UnmarshalMap(item, &rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	// Highest priority first; equal priorities keep creation order so
	// the tie break is stable across evaluations.
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt < rules[j].CreatedAt
	})
	return rules, nil
}

func (r *DynamoRepository) ListAgents(ctx context.Context, orgID string) ([]model.UserItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.UsersTable,
		"orgId = :orgId AND #role = :role",
		map[string]types.AttributeValue{
			":orgId": &types.AttributeValueMemberS{Value: orgID},
			":role":  &types.AttributeValueMemberS{Value: model.RoleAgent},
		},
		map[string]string{"#role": "role"},
	)
	if err != nil {
		return nil, err
	}

	agents := make([]model.UserItem, 0, len(items))
	for _, item := range items {
		var agent model.UserItem
		if err := attributevalue.UnmarshalMap(item, &agent); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt < agents[j].CreatedAt
	})
	return agents, nil
}

func (r *DynamoRepository) CountActiveAssignments(ctx context.Context, orgID, agentID string) (int, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.ContactsTable,
		"orgId = :orgId AND assignedToId = :agentId AND (convStatus = :open OR convStatus = :pending)",
		map[string]types.AttributeValue{
			":orgId":   &types.AttributeValueMemberS{Value: orgID},
			":agentId": &types.AttributeValueMemberS{Value: agentID},
			":open":    &types.AttributeValueMemberS{Value: string(model.ConversationStatusOpen)},
			":pending": &types.AttributeValueMemberS{Value: string(model.ConversationStatusPending)},
		},
		nil,
	)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (r *DynamoRepository) UpdateContactAssignment(ctx context.Context, orgID, contactID, agentID, updatedAt string) (model.ContactItem, error) {
	var updated model.ContactItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ContactsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ContactPK(orgID, contactID)},
		},
		"SET #assignedToId = :assignedToId, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":assignedToId": &types.AttributeValueMemberS{Value: agentID},
			":updatedAt":    &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#assignedToId": "assignedToId",
			"#updatedAt":    "updatedAt",
		},
		&updated,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ContactItem{}, ErrNotFound
		}
		return model.ContactItem{}, err
	}
	return updated, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
