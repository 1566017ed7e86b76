package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	internaljwt "omnidesk-backend/internal/jwt"
	"omnidesk-backend/internal/model"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type Identity struct {
	UserID string
	OrgID  string
	Email  string
}

type Service struct {
	repo    Repository
	bus     *eventbus.Bus
	machine StateMachine
	now     func() time.Time
}

func New(db *database.Database, bus *eventbus.Bus) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		bus:  bus,
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, bus *eventbus.Bus, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo: repo,
		bus:  bus,
		now:  now,
	}
}

// Machine exposes the transition rules to the ingestion pipeline, which
// consults them when an inbound message lands.
func (s *Service) Machine() StateMachine {
	return s.machine
}

// Authorize is the single membership check every agent-facing operation
// goes through: the identity must name an existing user of the org.
func (s *Service) Authorize(ctx context.Context, identity Identity) (model.UserItem, error) {
	if identity.UserID == "" || identity.OrgID == "" {
		return model.UserItem{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}
	user, err := s.repo.GetUser(ctx, identity.OrgID, identity.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.UserItem{}, newError(ErrorCodeUnauthorized, "user not found", err)
		}
		return model.UserItem{}, newError(ErrorCodeInternal, "failed to verify user", err)
	}
	return user, nil
}

// OpenConversation marks the contact's conversation as actively worked.
// Assignment is left untouched.
func (s *Service) OpenConversation(ctx context.Context, identity Identity, contactID string) (model.ContactItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return model.ContactItem{}, err
	}

	contact, err := s.loadContact(ctx, identity.OrgID, contactID)
	if err != nil {
		return model.ContactItem{}, err
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	updated, err := s.repo.UpdateContactStatus(ctx, contact.OrgID, contact.ContactID, model.ConversationStatusOpen, nil, nowStr)
	if err != nil {
		return model.ContactItem{}, newError(ErrorCodeInternal, "failed to update conversation", err)
	}

	s.PublishConvUpdated(updated)
	return updated, nil
}

// ResolveConversation closes the conversation and clears the assignment.
func (s *Service) ResolveConversation(ctx context.Context, identity Identity, contactID string) (model.ContactItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return model.ContactItem{}, err
	}

	contact, err := s.loadContact(ctx, identity.OrgID, contactID)
	if err != nil {
		return model.ContactItem{}, err
	}

	cleared := ""
	nowStr := s.now().UTC().Format(time.RFC3339)
	updated, err := s.repo.UpdateContactStatus(ctx, contact.OrgID, contact.ContactID, model.ConversationStatusResolved, &cleared, nowStr)
	if err != nil {
		return model.ContactItem{}, newError(ErrorCodeInternal, "failed to resolve conversation", err)
	}

	s.PublishConvUpdated(updated)
	return updated, nil
}

// AssignContact sets or, with an empty agentID, clears the assignment.
// The conversation status is not touched.
func (s *Service) AssignContact(ctx context.Context, identity Identity, contactID, agentID string) (model.ContactItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return model.ContactItem{}, err
	}

	contact, err := s.loadContact(ctx, identity.OrgID, contactID)
	if err != nil {
		return model.ContactItem{}, err
	}

	agentID = strings.TrimSpace(agentID)
	if agentID != "" {
		if _, err := s.repo.GetUser(ctx, identity.OrgID, agentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return model.ContactItem{}, newError(ErrorCodeNotFound, "agent not found", err)
			}
			return model.ContactItem{}, newError(ErrorCodeInternal, "failed to verify agent", err)
		}
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	updated, err := s.repo.UpdateContactStatus(ctx, contact.OrgID, contact.ContactID, contact.ConvStatus, &agentID, nowStr)
	if err != nil {
		return model.ContactItem{}, newError(ErrorCodeInternal, "failed to assign conversation", err)
	}

	s.PublishConvUpdated(updated)
	return updated, nil
}

func (s *Service) GetContact(ctx context.Context, identity Identity, contactID string) (model.ContactItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return model.ContactItem{}, err
	}
	return s.loadContact(ctx, identity.OrgID, contactID)
}

func (s *Service) ListContacts(ctx context.Context, identity Identity, limit int) ([]model.ContactItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	contacts, err := s.repo.ListContacts(ctx, identity.OrgID, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list contacts", err)
	}
	return contacts, nil
}

func (s *Service) ListMessages(ctx context.Context, identity Identity, contactID string, limit int) (model.ContactItem, []model.MessageItem, error) {
	if _, err := s.Authorize(ctx, identity); err != nil {
		return model.ContactItem{}, nil, err
	}

	contact, err := s.loadContact(ctx, identity.OrgID, contactID)
	if err != nil {
		return model.ContactItem{}, nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 100
	}
	messages, err := s.repo.ListMessages(ctx, identity.OrgID, contactID, limit)
	if err != nil {
		return model.ContactItem{}, nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}
	return contact, messages, nil
}

// ListContactHistory returns the transcript for a contact whose access
// was already validated by the widget session layer. Internal notes are
// filtered out so they never leave the agent surface.
func (s *Service) ListContactHistory(ctx context.Context, contact model.ContactItem, limit int) ([]model.MessageItem, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	messages, err := s.repo.ListMessages(ctx, contact.OrgID, contact.ContactID, limit)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list messages", err)
	}

	visible := messages[:0]
	for _, msg := range messages {
		if msg.Type == model.MessageTypeNote {
			continue
		}
		visible = append(visible, msg)
	}
	return visible, nil
}

func (s *Service) loadContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return model.ContactItem{}, newError(ErrorCodeValidation, "contactId is required", nil)
	}
	contact, err := s.repo.GetContact(ctx, orgID, contactID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ContactItem{}, newError(ErrorCodeNotFound, "contact not found", err)
		}
		return model.ContactItem{}, newError(ErrorCodeInternal, "failed to fetch contact", err)
	}
	return contact, nil
}

// PublishConvUpdated broadcasts the contact's current conversation state
// on the organization topic. Every assignment or status mutation goes
// through here so dashboards converge even after racy writes.
func (s *Service) PublishConvUpdated(contact model.ContactItem) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.EventConvUpdated, contact.OrgID, dto.ConvUpdatedEvent{
		ContactID:    contact.ContactID,
		ConvStatus:   string(contact.ConvStatus),
		AssignedToID: contact.AssignedToID,
		UpdatedAt:    contact.UpdatedAt,
	})
	if err != nil {
		log.Printf("conversation: marshal conv_updated: %v", err)
		return
	}
	s.bus.Publish(eventbus.OrganizationTopic(contact.OrgID), event)
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

func (s *Service) IdentityFromToken(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, newError(ErrorCodeUnauthorized, "empty token", nil)
	}
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
