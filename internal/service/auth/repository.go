package auth

import (
	"context"
	"errors"
	"strings"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("auth repository: not found")

type Repository interface {
	CreateOrganization(ctx context.Context, org model.OrganizationItem) error
	CreateUser(ctx context.Context, user model.UserItem) error
	ListUsersByEmail(ctx context.Context, email string) ([]model.UserItem, error)
	FindUserByEmail(ctx context.Context, orgID, email string) (model.UserItem, error)
	FindOrganizationByDomain(ctx context.Context, domain string) (model.OrganizationItem, error)
	GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error)
	GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) CreateOrganization(ctx context.Context, org model.OrganizationItem) error {
	return r.db.Client.PutItem(ctx, model.OrganizationsTable, org)
}

func (r *DynamoRepository) CreateUser(ctx context.Context, user model.UserItem) error {
	return r.db.Client.PutItem(ctx, model.UsersTable, user)
}

func (r *DynamoRepository) ListUsersByEmail(ctx context.Context, email string) ([]model.UserItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.UsersTable,
		aws.String("byEmail"),
		"email = :email",
		map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
		},
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}

	users := make([]model.UserItem, 0, len(items))
	for _, item := range items {
		var user model.UserItem
		if err := attributevalue.UnmarshalMap(item, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, nil
}

func (r *DynamoRepository) FindUserByEmail(ctx context.Context, orgID, email string) (model.UserItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.UsersTable,
		aws.String("byEmail"),
		"email = :email AND orgId = :orgId",
		map[string]types.AttributeValue{
			":email": &types.AttributeValueMemberS{Value: email},
			":orgId": &types.AttributeValueMemberS{Value: orgID},
		},
		nil,
		nil,
	)
	if err != nil {
		return model.UserItem{}, err
	}

	if len(items) == 0 {
		return model.UserItem{}, ErrNotFound
	}

	var user model.UserItem
	if err := attributevalue.UnmarshalMap(items[0], &user); err != nil {
		return model.UserItem{}, err
	}

	return user, nil
}

func (r *DynamoRepository) FindOrganizationByDomain(ctx context.Context, domain string) (model.OrganizationItem, error) {
	items, err := r.db.Client.QueryItems(
		ctx,
		model.OrganizationsTable,
		aws.String("byDomain"),
		"#domain = :domain",
		map[string]types.AttributeValue{
			":domain": &types.AttributeValueMemberS{Value: domain},
		},
		map[string]string{"#domain": "domain"},
		nil,
	)
	if err != nil {
		return model.OrganizationItem{}, err
	}

	if len(items) == 0 {
		return model.OrganizationItem{}, ErrNotFound
	}

	var org model.OrganizationItem
	if err := attributevalue.UnmarshalMap(items[0], &org); err != nil {
		return model.OrganizationItem{}, err
	}

	return org, nil
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
		if isNotFoundError(err) {
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
		if isNotFoundError(err) {
			return model.UserItem{}, ErrNotFound
		}
		return model.UserItem{}, err
	}

	return user, nil
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
