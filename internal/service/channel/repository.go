package channel

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

var ErrNotFound = errors.New("channel repository: not found")

type Repository interface {
	GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error)
	GetChannel(ctx context.Context, orgID, channelID string) (model.ChannelItem, error)
	GetChannelByAPIKey(ctx context.Context, apiKey string) (model.ChannelItem, error)
	ListChannels(ctx context.Context, orgID string) ([]model.ChannelItem, error)
	PutChannel(ctx context.Context, channel model.ChannelItem) error
	DeleteChannel(ctx context.Context, orgID, channelID string) error
	FindContactByEmail(ctx context.Context, orgID, email string) (model.ContactItem, error)
	ListContactsByChannel(ctx context.Context, orgID, channelID string) ([]model.ContactItem, error)
	GetContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error)
	PutContact(ctx context.Context, contact model.ContactItem) error
	PutContacts(ctx context.Context, contacts []model.ContactItem) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
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

func (r *DynamoRepository) GetChannel(ctx context.Context, orgID, channelID string) (model.ChannelItem, error) {
	var channel model.ChannelItem
	err := r.db.Client.GetItem(
		ctx,
		model.ChannelsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ChannelPK(orgID, channelID)},
		},
		&channel,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ChannelItem{}, ErrNotFound
		}
		return model.ChannelItem{}, err
	}
	return channel, nil
}

func (r *DynamoRepository) GetChannelByAPIKey(ctx context.Context, apiKey string) (model.ChannelItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.ChannelsTable,
		aws.String("byApiKey"),
		"apiKey = :apiKey",
		map[string]types.AttributeValue{
			":apiKey": &types.AttributeValueMemberS{Value: apiKey},
		},
		nil,
		nil,
	)
	if err != nil && !isIndexNotFound(err) {
		return model.ChannelItem{}, err
	}

	if (err != nil && isIndexNotFound(err)) || items == nil {
		items, err = r.db.Client.ScanItems(
			ctx,
			model.ChannelsTable,
			"apiKey = :apiKey",
			map[string]types.AttributeValue{
				":apiKey": &types.AttributeValueMemberS{Value: apiKey},
			},
			nil,
		)
		if err != nil {
			return model.ChannelItem{}, err
		}
	}

	if len(items) == 0 {
		return model.ChannelItem{}, ErrNotFound
	}

	var channel model.ChannelItem
	if err := attributevalue.UnmarshalMap(items[0], &channel); err != nil {
		return model.ChannelItem{}, err
	}
	return channel, nil
}

func (r *DynamoRepository) ListChannels(ctx context.Context, orgID string) ([]model.ChannelItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.ChannelsTable,
		"orgId = :orgId",
		map[string]types.AttributeValue{
			":orgId": &types.AttributeValueMemberS{Value: orgID},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	channels := make([]model.ChannelItem, 0, len(items))
	for _, item := range items {
		var channel model.ChannelItem
		if err := attributevalue.UnmarshalMap(item, &channel); err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}

	sort.Slice(channels, func(i, j int) bool {
		return channels[i].CreatedAt < channels[j].CreatedAt
	})
	return channels, nil
}

func (r *DynamoRepository) PutChannel(ctx context.Context, channel model.ChannelItem) error {
	return r.db.Client.PutItem(ctx, model.ChannelsTable, channel)
}

func (r *DynamoRepository) DeleteChannel(ctx context.Context, orgID, channelID string) error {
	return r.db.Client.DeleteItem(
		ctx,
		model.ChannelsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ChannelPK(orgID, channelID)},
		},
	)
}

func (r *DynamoRepository) FindContactByEmail(ctx context.Context, orgID, email string) (model.ContactItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.ContactsTable,
		"orgId = :orgId AND email = :email",
		map[string]types.AttributeValue{
			":orgId": &types.AttributeValueMemberS{Value: orgID},
			":email": &types.AttributeValueMemberS{Value: email},
		},
		nil,
	)
	if err != nil {
		return model.ContactItem{}, err
	}
	if len(items) == 0 {
		return model.ContactItem{}, ErrNotFound
	}

	var contact model.ContactItem
	if err := attributevalue.UnmarshalMap(items[0], &contact); err != nil {
		return model.ContactItem{}, err
	}
	return contact, nil
}

func (r *DynamoRepository) ListContactsByChannel(ctx context.Context, orgID, channelID string) ([]model.ContactItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.ContactsTable,
		"orgId = :orgId AND channelId = :channelId",
		map[string]types.AttributeValue{
			":orgId":     &types.AttributeValueMemberS{Value: orgID},
			":channelId": &types.AttributeValueMemberS{Value: channelID},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	contacts := make([]model.ContactItem, 0, len(items))
	for _, item := range items {
		var contact model.ContactItem
		if err := attributevalue.UnmarshalMap(item, &contact); err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
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

func (r *DynamoRepository) PutContacts(ctx context.Context, contacts []model.ContactItem) error {
	items := make([]interface{}, 0, len(contacts))
	for _, contact := range contacts {
		items = append(items, contact)
	}
	return r.db.Client.BatchPutItems(ctx, model.ContactsTable, items)
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
