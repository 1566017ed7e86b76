package lead

import (
	"context"
	"errors"
	"strings"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("lead repository: not found")

type Repository interface {
	ListCampaigns(ctx context.Context, orgID string) ([]model.CampaignItem, error)
	GetCampaignLead(ctx context.Context, orgID, leadID string) (model.CampaignLeadItem, error)
	PutCampaignLead(ctx context.Context, item model.CampaignLeadItem) error
	FindContactByEmail(ctx context.Context, orgID, email string) (model.ContactItem, error)
	PutContact(ctx context.Context, contact model.ContactItem) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) ListCampaigns(ctx context.Context, orgID string) ([]model.CampaignItem, error) {
	items, err := r.db.Client.ScanItems(
		ctx,
		model.CampaignsTable,
		"orgId = :orgId",
		map[string]types.AttributeValue{
			":orgId": &types.AttributeValueMemberS{Value: orgID},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	campaigns := make([]model.CampaignItem, 0, len(items))
	for _, item := range items {
		var campaign model.CampaignItem
		if err := attributevalue.UnmarshalMap(item, &campaign); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

func (r *DynamoRepository) GetCampaignLead(ctx context.Context, orgID, leadID string) (model.CampaignLeadItem, error) {
	var lead model.CampaignLeadItem
	err := r.db.Client.GetItem(
		ctx,
		model.CampaignLeadsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.CampaignLeadPK(orgID, leadID)},
		},
		&lead,
	)
	if err != nil {
		if isNotFound(err) {
			return model.CampaignLeadItem{}, ErrNotFound
		}
		return model.CampaignLeadItem{}, err
	}
	return lead, nil
}

func (r *DynamoRepository) PutCampaignLead(ctx context.Context, item model.CampaignLeadItem) error {
	return r.db.Client.PutItem(ctx, model.CampaignLeadsTable, item)
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

func (r *DynamoRepository) PutContact(ctx context.Context, contact model.ContactItem) error {
	return r.db.Client.PutItem(ctx, model.ContactsTable, contact)
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
