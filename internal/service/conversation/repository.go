package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("conversation repository: not found")

type Repository interface {
	GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error)
	GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error)
	GetContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error)
	UpdateContactStatus(ctx context.Context, orgID, contactID string, status model.ConversationStatus, assignedToID *string, updatedAt string) (model.ContactItem, error)
	ListContacts(ctx context.Context, orgID string, limit int) ([]model.ContactItem, error)
	ListMessages(ctx context.Context, orgID, contactID string, limit int) ([]model.MessageItem, error)
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

func (r *DynamoRepository) GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error) {
	var user model.UserItem
	err := r.db.Client.GetItem(
		ctx,
		model.UsersTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.OrgScopedPK(orgID, userID)},
		},
		&user,
	)
	if err != nil {
		if isNotFound(err) {
			return model.UserItem{}, ErrNotFound
		}
		return model.UserItem{}, err
	}
	return user, nil
}

func (r *DynamoRepository) GetContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error) {
	var contact model.ContactItem
	err := r.db.Client.GetItem(
		ctx,
		model.ContactsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ContactPK(orgID, contactID)},
		},
		&contact,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ContactItem{}, ErrNotFound
		}
		return model.ContactItem{}, err
	}
	return contact, nil
}

func (r *DynamoRepository) UpdateContactStatus(ctx context.Context, orgID, contactID string, status model.ConversationStatus, assignedToID *string, updatedAt string) (model.ContactItem, error) {
	updateExpr := "SET #convStatus = :convStatus, #updatedAt = :updatedAt"
	exprValues := map[string]types.AttributeValue{
		":convStatus": &types.AttributeValueMemberS{Value: string(status)},
		":updatedAt":  &types.AttributeValueMemberS{Value: updatedAt},
	}
	attrNames := map[string]string{
		"#convStatus": "convStatus",
		"#updatedAt":  "updatedAt",
	}

	if assignedToID != nil {
		if *assignedToID == "" {
			updateExpr += " REMOVE #assignedToId"
		} else {
			updateExpr += ", #assignedToId = :assignedToId"
			exprValues[":assignedToId"] = &types.AttributeValueMemberS{Value: *assignedToID}
		}
		attrNames["#assignedToId"] = "assignedToId"
	}

	var updated model.ContactItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.ContactsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ContactPK(orgID, contactID)},
		},
		updateExpr,
		exprValues,
		attrNames,
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

func (r *DynamoRepository) ListContacts(ctx context.Context, orgID string, limit int) ([]model.ContactItem, error) {
	scanForward := false
	exprValues := map[string]types.AttributeValue{
		":orgId": &types.AttributeValueMemberS{Value: orgID},
	}

	var items []map[string]types.AttributeValue
	var err error
	if limit > 0 {
		// The byOrg index is keyed on updatedAt, so the newest page is
		// exactly the inbox view.
		var page *database.Page
		page, err = r.db.Client.QueryPage(
			ctx,
			model.ContactsTable,
			aws.String("byOrg"),
			"orgId = :orgId",
			exprValues,
			nil,
			limit,
			nil,
			&scanForward,
		)
		if err == nil {
			items = page.Items
		}
	} else {
		items, err = r.db.Client.QueryItems(
			ctx,
			model.ContactsTable,
			aws.String("byOrg"),
			"orgId = :orgId",
			exprValues,
			nil,
			&scanForward,
		)
	}
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.ContactsTable,
			"orgId = :orgId",
			exprValues,
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	contacts := make([]model.ContactItem, 0, len(items))
	for _, item := range items {
		var contact model.ContactItem
		if err := attributevalue.UnmarshalMap(item, &contact); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}

	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].UpdatedAt > contacts[j].UpdatedAt
	})

	if limit > 0 && len(contacts) > limit {
		contacts = contacts[:limit]
	}

	return contacts, nil
}

func (r *DynamoRepository) ListMessages(ctx context.Context, orgID, contactID string, limit int) ([]model.MessageItem, error) {
	exprValues := map[string]types.AttributeValue{
		":contactId": &types.AttributeValueMemberS{Value: contactID},
	}

	var items []map[string]types.AttributeValue
	var err error
	if limit > 0 {
		// Newest page first, flipped back to chronological below.
		scanForward := false
		var page *database.Page
		page, err = r.db.Client.QueryPage(
			ctx,
			model.MessagesTable,
			aws.String("byContact"),
			"contactId = :contactId",
			exprValues,
			nil,
			limit,
			nil,
			&scanForward,
		)
		if err == nil {
			items = page.Items
		}
	} else {
		scanForward := true
		items, err = r.db.Client.QueryItems(
			ctx,
			model.MessagesTable,
			aws.String("byContact"),
			"contactId = :contactId",
			exprValues,
			nil,
			&scanForward,
		)
	}
	if err != nil && !isIndexNotFound(err) {
		return nil, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.MessagesTable,
			"contactId = :contactId",
			exprValues,
			nil,
		)
		if err != nil {
			return nil, err
		}
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		if message.OrgID != "" && message.OrgID != orgID {
			continue
		}
		messages = append(messages, message)
	}

	sort.Slice(messages, func(i, j int) bool {
		ti := parseTime(messages[i].CreatedAt)
		tj := parseTime(messages[j].CreatedAt)
		return ti.Before(tj)
	})

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}

func isIndexNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index") && strings.Contains(msg, "not") && strings.Contains(msg, "found")
}

func parseTime(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
