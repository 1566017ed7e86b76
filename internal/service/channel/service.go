package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/env"
	internaljwt "omnidesk-backend/internal/jwt"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/utils"

	"github.com/google/uuid"
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

var (
	visitorTokenSecret = []byte(env.MustGet(env.WidgetSecretKey))
	visitorTokenTTL    = 7 * 24 * time.Hour
)

type visitorTokenClaims struct {
	OrgID     string `json:"orgId"`
	ChannelID string `json:"channelId"`
	ContactID string `json:"contactId"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func SetVisitorTokenSecret(secret []byte) {
	if len(secret) == 0 {
		return
	}
	visitorTokenSecret = make([]byte, len(secret))
	copy(visitorTokenSecret, secret)
}

func SetVisitorTokenTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	visitorTokenTTL = ttl
}

// WidgetSession is what a visitor gets back from session creation.
type WidgetSession struct {
	Channel      model.ChannelItem
	Contact      model.ContactItem
	VisitorToken string
	IsNewContact bool
}

// WidgetAccess is the validated (apiKey, contactId) pairing for one
// widget call.
type WidgetAccess struct {
	Channel model.ChannelItem
	Contact model.ContactItem
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func New(db *database.Database) *Service {
	return &Service{
		repo: NewDynamoRepository(db),
		now:  time.Now,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo: repo,
		now:  now,
	}
}

var allowedChannelKinds = map[model.ChannelKind]bool{
	model.ChannelKindWidget:       true,
	model.ChannelKindWhatsApp:     true,
	model.ChannelKindFacebookLead: true,
}

// CreateChannel provisions an ingress adapter for the organization and
// mints its API key. Widget channels are usable immediately; gateway
// channels start pending until the gateway reports a connection.
func (s *Service) CreateChannel(ctx context.Context, identity Identity, kind model.ChannelKind, externalInstanceID, webhookSecret string) (model.ChannelItem, error) {
	if _, err := s.ensureAdminAccess(ctx, identity); err != nil {
		return model.ChannelItem{}, err
	}
	if !allowedChannelKinds[kind] {
		return model.ChannelItem{}, newError(ErrorCodeValidation, "invalid channel kind", nil)
	}

	status := model.ChannelStatusPending
	if kind == model.ChannelKindWidget {
		status = model.ChannelStatusConnected
	}

	now := s.now().UTC().Format(time.RFC3339)
	channel := model.ChannelItem{
		OrgID:              identity.OrgID,
		ChannelID:          uuid.NewString(),
		Kind:               kind,
		Status:             status,
		ExternalInstanceID: strings.TrimSpace(externalInstanceID),
		APIKey:             utils.GenerateAPIKey(),
		WebhookSecret:      strings.TrimSpace(webhookSecret),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	channel.PK = model.ChannelPK(channel.OrgID, channel.ChannelID)

	if err := s.repo.PutChannel(ctx, channel); err != nil {
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to create channel", err)
	}
	return channel, nil
}

func (s *Service) ListChannels(ctx context.Context, identity Identity) ([]model.ChannelItem, error) {
	if _, err := s.authorize(ctx, identity); err != nil {
		return nil, err
	}

	channels, err := s.repo.ListChannels(ctx, identity.OrgID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list channels", err)
	}
	return channels, nil
}

// RotateAPIKey replaces the channel's API key. The old key stops
// working immediately; embedded widgets must be updated with the new
// key.
func (s *Service) RotateAPIKey(ctx context.Context, identity Identity, channelID string) (model.ChannelItem, error) {
	if _, err := s.ensureAdminAccess(ctx, identity); err != nil {
		return model.ChannelItem{}, err
	}

	channel, err := s.loadChannel(ctx, identity.OrgID, channelID)
	if err != nil {
		return model.ChannelItem{}, err
	}

	channel.APIKey = utils.GenerateAPIKey()
	channel.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.repo.PutChannel(ctx, channel); err != nil {
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to rotate api key", err)
	}
	return channel, nil
}

func (s *Service) DeleteChannel(ctx context.Context, identity Identity, channelID string) error {
	if _, err := s.ensureAdminAccess(ctx, identity); err != nil {
		return err
	}

	if _, err := s.loadChannel(ctx, identity.OrgID, channelID); err != nil {
		return err
	}

	if err := s.repo.DeleteChannel(ctx, identity.OrgID, channelID); err != nil {
		return newError(ErrorCodeInternal, "failed to delete channel", err)
	}

	// Contacts outlive their channel. They keep their history and show
	// up in the inbox, they just can no longer be replied to over it.
	contacts, err := s.repo.ListContactsByChannel(ctx, identity.OrgID, channelID)
	if err != nil {
		return newError(ErrorCodeInternal, "failed to list channel contacts", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	for i := range contacts {
		contacts[i].ChannelID = ""
		contacts[i].UpdatedAt = now
	}
	if err := s.repo.PutContacts(ctx, contacts); err != nil {
		return newError(ErrorCodeInternal, "failed to detach contacts", err)
	}
	return nil
}

// GetChannelByAPIKey resolves the channel owning an opaque API key.
// Used by every widget-facing and webhook-facing endpoint.
func (s *Service) GetChannelByAPIKey(ctx context.Context, apiKey string) (model.ChannelItem, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "missing api key", nil)
	}

	channel, err := s.repo.GetChannelByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChannelItem{}, newError(ErrorCodeUnauthorized, "invalid api key", err)
		}
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to resolve api key", err)
	}
	return channel, nil
}

// GetChannel loads a channel scoped to an organization.
func (s *Service) GetChannel(ctx context.Context, orgID, channelID string) (model.ChannelItem, error) {
	return s.loadChannel(ctx, orgID, channelID)
}

// UpdateChannelStatus persists a gateway connection-state change.
func (s *Service) UpdateChannelStatus(ctx context.Context, orgID, channelID string, status model.ChannelStatus) error {
	channel, err := s.loadChannel(ctx, orgID, channelID)
	if err != nil {
		return err
	}
	if channel.Status == status {
		return nil
	}

	channel.Status = status
	channel.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	if err := s.repo.PutChannel(ctx, channel); err != nil {
		return newError(ErrorCodeInternal, "failed to update channel status", err)
	}
	return nil
}

// CreateWidgetSession resolves or creates the contact behind a widget
// tab and issues its visitor token. A repeat call with the same email
// reuses the existing contact instead of creating a duplicate.
func (s *Service) CreateWidgetSession(ctx context.Context, apiKey, name, email string) (WidgetSession, error) {
	channel, err := s.GetChannelByAPIKey(ctx, apiKey)
	if err != nil {
		return WidgetSession{}, err
	}
	if channel.Kind != model.ChannelKindWidget {
		return WidgetSession{}, newError(ErrorCodeForbidden, "api key does not belong to a widget channel", nil)
	}

	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	contact, isNew, err := s.resolveWidgetContact(ctx, channel, name, email)
	if err != nil {
		return WidgetSession{}, err
	}

	token, err := s.signVisitorToken(channel, contact)
	if err != nil {
		return WidgetSession{}, newError(ErrorCodeInternal, "failed to sign visitor token", err)
	}

	return WidgetSession{
		Channel:      channel,
		Contact:      contact,
		VisitorToken: token,
		IsNewContact: isNew,
	}, nil
}

func (s *Service) resolveWidgetContact(ctx context.Context, channel model.ChannelItem, name, email string) (model.ContactItem, bool, error) {
	if email != "" {
		contact, err := s.repo.FindContactByEmail(ctx, channel.OrgID, email)
		if err == nil {
			if contact.Name == "" && name != "" {
				contact.Name = name
				contact.UpdatedAt = s.now().UTC().Format(time.RFC3339)
				if err := s.repo.PutContact(ctx, contact); err != nil {
					return model.ContactItem{}, false, newError(ErrorCodeInternal, "failed to update contact", err)
				}
			}
			return contact, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.ContactItem{}, false, newError(ErrorCodeInternal, "failed to resolve contact", err)
		}
	}

	now := s.now().UTC().Format(time.RFC3339)
	contact := model.ContactItem{
		OrgID:     channel.OrgID,
		ContactID: uuid.NewString(),
		ChannelID: channel.ChannelID,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	contact.PK = model.ContactPK(contact.OrgID, contact.ContactID)
	// The widget has no gateway-side identifier, so the contact id
	// doubles as the external id the ingestion pipeline keys on.
	contact.ExternalID = contact.ContactID

	if err := s.repo.PutContact(ctx, contact); err != nil {
		return model.ContactItem{}, false, newError(ErrorCodeInternal, "failed to create contact", err)
	}
	return contact, true, nil
}

// ValidateWidgetAccess checks, on every widget call, that the contact
// belongs to the channel owning the presented API key. When a visitor
// token is supplied its claims must agree with the pairing.
func (s *Service) ValidateWidgetAccess(ctx context.Context, apiKey, contactID, visitorToken string) (WidgetAccess, error) {
	channel, err := s.GetChannelByAPIKey(ctx, apiKey)
	if err != nil {
		return WidgetAccess{}, err
	}
	if channel.Kind != model.ChannelKindWidget {
		return WidgetAccess{}, newError(ErrorCodeForbidden, "api key does not belong to a widget channel", nil)
	}

	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return WidgetAccess{}, newError(ErrorCodeValidation, "contactId is required", nil)
	}

	contact, err := s.repo.GetContact(ctx, channel.OrgID, contactID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return WidgetAccess{}, newError(ErrorCodeForbidden, "contact does not belong to this channel", err)
		}
		return WidgetAccess{}, newError(ErrorCodeInternal, "failed to fetch contact", err)
	}
	if contact.ChannelID != channel.ChannelID {
		return WidgetAccess{}, newError(ErrorCodeForbidden, "contact does not belong to this channel", nil)
	}

	if visitorToken = strings.TrimSpace(visitorToken); visitorToken != "" {
		claims, err := verifyVisitorToken(visitorToken, s.now)
		if err != nil {
			return WidgetAccess{}, newError(ErrorCodeUnauthorized, "invalid visitor token", err)
		}
		if claims.OrgID != channel.OrgID || claims.ChannelID != channel.ChannelID || claims.ContactID != contact.ContactID {
			return WidgetAccess{}, newError(ErrorCodeForbidden, "visitor token does not match this session", nil)
		}
	}

	return WidgetAccess{Channel: channel, Contact: contact}, nil
}

func (s *Service) loadChannel(ctx context.Context, orgID, channelID string) (model.ChannelItem, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return model.ChannelItem{}, newError(ErrorCodeValidation, "channelId is required", nil)
	}
	channel, err := s.repo.GetChannel(ctx, orgID, channelID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ChannelItem{}, newError(ErrorCodeNotFound, "channel not found", err)
		}
		return model.ChannelItem{}, newError(ErrorCodeInternal, "failed to fetch channel", err)
	}
	return channel, nil
}

func (s *Service) authorize(ctx context.Context, identity Identity) (model.UserItem, error) {
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

func (s *Service) ensureAdminAccess(ctx context.Context, identity Identity) (model.UserItem, error) {
	user, err := s.authorize(ctx, identity)
	if err != nil {
		return model.UserItem{}, err
	}
	if user.Role != model.RoleAdmin {
		return model.UserItem{}, newError(ErrorCodeForbidden, "only organization admins can manage channels", nil)
	}
	return user, nil
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

func (s *Service) signVisitorToken(channel model.ChannelItem, contact model.ContactItem) (string, error) {
	now := s.now().UTC()
	return signVisitorToken(visitorTokenClaims{
		OrgID:     channel.OrgID,
		ChannelID: channel.ChannelID,
		ContactID: contact.ContactID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(visitorTokenTTL).Unix(),
	})
}

func signVisitorToken(claims visitorTokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, visitorTokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return "", err
	}
	signature := mac.Sum(nil)

	payloadPart := base64.RawURLEncoding.EncodeToString(payload)
	sigPart := base64.RawURLEncoding.EncodeToString(signature)

	return fmt.Sprintf("%s.%s", payloadPart, sigPart), nil
}

func verifyVisitorToken(token string, now func() time.Time) (visitorTokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return visitorTokenClaims{}, errors.New("invalid token format")
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return visitorTokenClaims{}, fmt.Errorf("decode payload: %w", err)
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return visitorTokenClaims{}, fmt.Errorf("decode signature: %w", err)
	}

	mac := hmac.New(sha256.New, visitorTokenSecret)
	if _, err := mac.Write(payload); err != nil {
		return visitorTokenClaims{}, fmt.Errorf("sign payload: %w", err)
	}

	if !hmac.Equal(sig, mac.Sum(nil)) {
		return visitorTokenClaims{}, errors.New("signature mismatch")
	}

	var claims visitorTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return visitorTokenClaims{}, fmt.Errorf("unmarshal claims: %w", err)
	}

	if claims.ExpiresAt != 0 && now().UTC().Unix() > claims.ExpiresAt {
		return visitorTokenClaims{}, errors.New("token expired")
	}

	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
