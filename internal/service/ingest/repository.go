package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("ingest repository: not found")

type Repository interface {
	FindContactByExternalID(ctx context.Context, orgID, externalID string) (model.ContactItem, error)
	FindMessageByExternalID(ctx context.Context, orgID, externalID string) (model.MessageItem, error)
	GetContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error)
	PutContact(ctx context.Context, contact model.ContactItem) error
	PutMessage(ctx context.Context, message model.MessageItem) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) FindContactByExternalID(ctx context.Context, orgID, externalID string) (model.ContactItem, error) {
	items, err := r.queryByExternalID(ctx, model.ContactsTable, externalID)
	if err != nil {
		return model.ContactItem{}, err
	}

	matches := make([]model.ContactItem, 0, 1)
	for _, item := range items {
		var contact model.ContactItem
		if err := attributevalue.UnmarshalMap(item, &contact); err != nil {
			return model.ContactItem{}, err
		}
		if contact.OrgID == orgID {
			matches = append(matches, contact)
		}
	}
	if len(matches) == 0 {
		return model.ContactItem{}, ErrNotFound
	}

	// Oldest row wins so concurrently created duplicates converge on one
	// canonical contact.
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt < matches[j].CreatedAt
	})
	return matches[0], nil
}

func (r *DynamoRepository) FindMessageByExternalID(ctx context.Context, orgID, externalID string) (model.MessageItem, error) {
	items, err := r.queryByExternalID(ctx, model.MessagesTable, externalID)
	if err != nil {
		return model.MessageItem{}, err
	}

	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return model.MessageItem{}, err
		}
		if message.OrgID == orgID {
			return message, nil
		}
	}
	return model.MessageItem{}, ErrNotFound
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

func (r *DynamoRepository) PutContact(ctx context.Context, contact model.ContactItem) error {
	return r.db.Client.PutItem(ctx, model.ContactsTable, contact)
}

func (r *DynamoRepository) PutMessage(ctx context.Context, message model.MessageItem) error {
	return r.db.Client.PutItem(ctx, model.MessagesTable, message)
}

func (r *DynamoRepository) queryByExternalID(ctx context.Context, table, externalID string) ([]map[string]types.AttributeValue, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		table,
		aws.String("byExternalId"),
		"externalId = :externalId",
		map[string]types.AttributeValue{
			":externalId": &types.AttributeValueMemberS{Value: externalID},
		},
		nil,
		nil,
	)
	if err == nil {
		return items, nil
	}
	if !isIndexNotFound(err) {
		return nil, err
	}

	return r.db.Client.ScanItems(
		ctx,
		table,
		"externalId = :externalId",
		map[string]types.AttributeValue{
			":externalId": &types.AttributeValueMemberS{Value: externalID},
		},
		nil,
	)
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
