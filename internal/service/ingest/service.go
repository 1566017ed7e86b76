package ingest

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/service/conversation"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation_error"
	ErrorCodeNotFound   ErrorCode = "not_found"
	ErrorCodeInternal   ErrorCode = "internal_error"
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

// NormalizedMessage is the channel-neutral shape every connector reduces
// its payload to before handing it to the pipeline. ExternalMessageID and
// ExternalContactID carry the channel's own identifiers; either may be
// empty for channels without stable ids (the widget generates its own).
type NormalizedMessage struct {
	ExternalMessageID string
	ExternalContactID string
	Direction         model.MessageDirection
	Type              model.MessageType
	Content           string
	SenderName        string
	// SenderID is the agent id on outbound messages.
	SenderID string
	Email    string
	Phone    string
	// Timestamp, when the channel supplies one, becomes the message's
	// createdAt. Channels without timestamps get ingestion time.
	Timestamp time.Time
	// NewContact marks a contact the caller persisted just before this
	// message (the widget session layer stores the contact row to issue
	// a visitor token). The pipeline treats the resolved contact as
	// brand new: the new_message event carries the contact summary and
	// the assignment hook is dispatched.
	NewContact bool
}

// Result reports what the pipeline did with one message.
type Result struct {
	// Dropped is set when the message carried no content worth storing.
	Dropped bool
	// Duplicate is set when the external message id was seen before; the
	// previously stored message is returned and nothing else happens.
	Duplicate    bool
	IsNewContact bool
	Contact      model.ContactItem
	Message      model.MessageItem
}

// AssignFunc is invoked asynchronously when an inbound message creates a
// brand-new contact. Implementations own the whole decision, including
// whether auto-assignment is enabled for the organization.
type AssignFunc func(ctx context.Context, contact model.ContactItem)

type Service struct {
	repo    Repository
	bus     *eventbus.Bus
	machine conversation.StateMachine
	assign  AssignFunc
	now     func() time.Time
	newID   func() string

	pending sync.WaitGroup
}

func New(db *database.Database, bus *eventbus.Bus) *Service {
	return &Service{
		repo:  NewDynamoRepository(db),
		bus:   bus,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func NewWithRepository(repo Repository, bus *eventbus.Bus, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:  repo,
		bus:   bus,
		now:   now,
		newID: uuid.NewString,
	}
}

// SetAssignFunc installs the auto-assignment hook. Must be called during
// bootstrap, before the pipeline receives traffic.
func (s *Service) SetAssignFunc(assign AssignFunc) {
	s.assign = assign
}

// Flush blocks until all background assignment work spawned so far has
// finished. Servers call it on shutdown.
func (s *Service) Flush() {
	s.pending.Wait()
}

// Ingest runs one message through the pipeline: dedup, contact
// resolution, persistence, conversation transition, event fan-out and
// assignment dispatch. It is safe to call concurrently and safe to call
// twice with the same external message id.
func (s *Service) Ingest(ctx context.Context, channel model.ChannelItem, msg NormalizedMessage) (Result, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" {
		return Result{Dropped: true}, nil
	}
	if msg.Direction != model.DirectionInbound && msg.Direction != model.DirectionOutbound {
		return Result{}, newError(ErrorCodeValidation, "invalid message direction", nil)
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}

	if msg.ExternalMessageID != "" {
		existing, err := s.repo.FindMessageByExternalID(ctx, channel.OrgID, msg.ExternalMessageID)
		if err == nil {
			contact, cerr := s.repo.GetContact(ctx, channel.OrgID, existing.ContactID)
			if cerr != nil && !errors.Is(cerr, ErrNotFound) {
				return Result{}, newError(ErrorCodeInternal, "failed to load contact", cerr)
			}
			return Result{Duplicate: true, Contact: contact, Message: existing}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Result{}, newError(ErrorCodeInternal, "failed to check for duplicate message", err)
		}
	}

	contact, isNew, err := s.resolveContact(ctx, channel, msg)
	if err != nil {
		return Result{}, err
	}
	isNew = isNew || msg.NewContact

	nowStr := s.now().UTC().Format(time.RFC3339)
	statusChanged := false
	if msg.Direction == model.DirectionInbound {
		next, changed := s.machine.OnInbound(contact.ConvStatus)
		if changed {
			contact.ConvStatus = next
			statusChanged = true
		}
	}
	contact.UpdatedAt = nowStr
	if err := s.repo.PutContact(ctx, contact); err != nil {
		return Result{}, newError(ErrorCodeInternal, "failed to store contact", err)
	}

	createdAt := nowStr
	if !msg.Timestamp.IsZero() {
		createdAt = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	message := model.MessageItem{
		OrgID:      channel.OrgID,
		ContactID:  contact.ContactID,
		ChannelID:  channel.ChannelID,
		MessageID:  s.newID(),
		ExternalID: msg.ExternalMessageID,
		Direction:  msg.Direction,
		Type:       msg.Type,
		Content:    msg.Content,
		SenderID:   msg.SenderID,
		CreatedAt:  createdAt,
	}
	message.PK = model.MessagePK(message.ContactID, message.MessageID)
	if err := s.repo.PutMessage(ctx, message); err != nil {
		return Result{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	s.publishNewMessage(channel, contact, message, isNew)
	if statusChanged {
		s.publishConvUpdated(contact)
	}

	if isNew && msg.Direction == model.DirectionInbound && s.assign != nil {
		s.dispatchAssignment(contact)
	}

	return Result{IsNewContact: isNew, Contact: contact, Message: message}, nil
}

// SyncContact folds channel contact-list sync data into an existing
// contact: missing name or phone is filled in, nothing is overwritten.
// Unknown external ids are ignored rather than created, so a gateway
// pushing its whole address book does not flood the inbox with contacts
// that never wrote in.
func (s *Service) SyncContact(ctx context.Context, channel model.ChannelItem, externalID, name, phone string) error {
	if externalID == "" {
		return newError(ErrorCodeValidation, "externalId is required", nil)
	}

	contact, err := s.repo.FindContactByExternalID(ctx, channel.OrgID, externalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return newError(ErrorCodeInternal, "failed to resolve contact", err)
	}

	changed := false
	if contact.Name == "" && name != "" {
		contact.Name = name
		changed = true
	}
	if contact.Phone == "" && phone != "" {
		contact.Phone = phone
		changed = true
	}
	if !changed {
		return nil
	}

	contact.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.repo.PutContact(ctx, contact); err != nil {
		return newError(ErrorCodeInternal, "failed to store contact", err)
	}
	return nil
}

// resolveContact finds the contact the external id maps to, creating it
// on first sight. Inbound messages may fill in a missing display name;
// they never overwrite one an agent can already see.
func (s *Service) resolveContact(ctx context.Context, channel model.ChannelItem, msg NormalizedMessage) (model.ContactItem, bool, error) {
	if msg.ExternalContactID != "" {
		contact, err := s.repo.FindContactByExternalID(ctx, channel.OrgID, msg.ExternalContactID)
		if err == nil {
			if msg.Direction == model.DirectionInbound {
				if contact.Name == "" && msg.SenderName != "" {
					contact.Name = msg.SenderName
				}
				if contact.Phone == "" && msg.Phone != "" {
					contact.Phone = msg.Phone
				}
			}
			return contact, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.ContactItem{}, false, newError(ErrorCodeInternal, "failed to resolve contact", err)
		}
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	contact := model.ContactItem{
		OrgID:      channel.OrgID,
		ContactID:  s.newID(),
		ChannelID:  channel.ChannelID,
		ExternalID: msg.ExternalContactID,
		Name:       msg.SenderName,
		Email:      msg.Email,
		Phone:      msg.Phone,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	contact.PK = model.ContactPK(contact.OrgID, contact.ContactID)
	return contact, true, nil
}

// publishNewMessage fans the stored message out. The organization topic
// always gets it; the contact topic only sees outbound widget messages
// that are not internal notes, so a visitor never receives an echo of
// their own message or an agent's private note.
func (s *Service) publishNewMessage(channel model.ChannelItem, contact model.ContactItem, message model.MessageItem, isNew bool) {
	if s.bus == nil {
		return
	}

	payload := dto.NewMessageEvent{
		Message: dto.MessageResponseFrom(message),
		IsNew:   isNew,
	}
	if isNew {
		summary := dto.ContactSummaryFrom(contact)
		payload.Contact = &summary
	}

	event, err := eventbus.NewEvent(eventbus.EventNewMessage, channel.OrgID, payload)
	if err != nil {
		log.Printf("ingest: marshal new_message: %v", err)
		return
	}

	s.bus.Publish(eventbus.OrganizationTopic(channel.OrgID), event)

	if channel.Kind == model.ChannelKindWidget &&
		message.Direction == model.DirectionOutbound &&
		message.Type != model.MessageTypeNote {
		s.bus.Publish(eventbus.ContactTopic(contact.ContactID), event)
	}
}

func (s *Service) publishConvUpdated(contact model.ContactItem) {
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
		log.Printf("ingest: marshal conv_updated: %v", err)
		return
	}
	s.bus.Publish(eventbus.OrganizationTopic(contact.OrgID), event)
}

// dispatchAssignment hands the contact to the assignment hook on a
// background goroutine. The request context is not reused: the HTTP
// request that carried the message may complete before the hook runs.
func (s *Service) dispatchAssignment(contact model.ContactItem) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.assign(ctx, contact)
	}()
}
