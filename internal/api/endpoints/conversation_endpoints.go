package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
	channelservice "omnidesk-backend/internal/service/channel"
	conversationservice "omnidesk-backend/internal/service/conversation"
	ingestservice "omnidesk-backend/internal/service/ingest"
	"omnidesk-backend/internal/sse"
)

// InboxEndpoints is the agent-facing conversation surface. Replies go
// through the ingestion pipeline so the same fan-out and state rules
// apply no matter where a message enters the system.
type InboxEndpoints interface {
	Contacts(http.ResponseWriter, *http.Request) error
	Contact(http.ResponseWriter, *http.Request) error
	Stream(http.ResponseWriter, *http.Request) error
}

type InboxPaths struct {
	ContactsPath  string
	ContactPrefix string
}

type inboxEndpoints struct {
	conversations *conversationservice.Service
	channels      *channelservice.Service
	pipeline      *ingestservice.Service
	bus           *eventbus.Bus
	paths         InboxPaths
}

func NewInboxEndpoints(
	conversations *conversationservice.Service,
	channels *channelservice.Service,
	pipeline *ingestservice.Service,
	bus *eventbus.Bus,
	prefix string,
) InboxEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &inboxEndpoints{
		conversations: conversations,
		channels:      channels,
		pipeline:      pipeline,
		bus:           bus,
		paths: InboxPaths{
			ContactsPath:  base + "/inbox/contacts",
			ContactPrefix: base + "/inbox/contacts/",
		},
	}
}

func (h *inboxEndpoints) Contacts(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleListContacts,
	})
}

// Contact routes /inbox/contacts/{id}/<action>.
func (h *inboxEndpoints) Contact(w http.ResponseWriter, r *http.Request) error {
	contactID, action, err := h.extractContactPath(r.URL.Path)
	if err != nil {
		return err
	}

	switch action {
	case "messages":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodGet: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleListMessages(w, r, contactID)
			},
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handlePostAgentMessage(w, r, contactID)
			},
		})
	case "open":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleOpen(w, r, contactID)
			},
		})
	case "resolve":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleResolve(w, r, contactID)
			},
		})
	case "assign":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleAssign(w, r, contactID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown contact action: %s", action),
		}
	}
}

// Stream opens the organization event stream. EventSource cannot set
// headers, so the token may also arrive as a query parameter.
func (h *inboxEndpoints) Stream(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return &HTTPError{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    "Method not allowed.",
			ErrorLog:   fmt.Errorf("method not allowed"),
		}
	}

	identity, err := h.identityFromRequest(r)
	if err != nil {
		return err
	}

	return sse.OpenStream(w, r, h.bus, eventbus.OrganizationTopic(identity.OrgID), sse.Options{})
}

func (h *inboxEndpoints) handleListContacts(w http.ResponseWriter, r *http.Request) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	contacts, err := h.conversations.ListContacts(r.Context(), identity, limit)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListContactsResponse{Contacts: make([]dto.ContactSummary, len(contacts))}
	for i, contact := range contacts {
		resp.Contacts[i] = dto.ContactSummaryFrom(contact)
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request, contactID string) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	contact, messages, err := h.conversations.ListMessages(r.Context(), identity, contactID, limit)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListMessagesResponse{
		Contact:  dto.ContactSummaryFrom(contact),
		Messages: make([]dto.MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		resp.Messages[i] = dto.MessageResponseFrom(msg)
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (h *inboxEndpoints) handlePostAgentMessage(w http.ResponseWriter, r *http.Request, contactID string) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	var req dto.PostAgentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode agent message request: %w", err),
		}
	}

	msgType := model.MessageTypeText
	switch req.Type {
	case "", string(model.MessageTypeText):
	case string(model.MessageTypeNote):
		msgType = model.MessageTypeNote
	default:
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid message type",
			ErrorLog:   fmt.Errorf("agent message type %q", req.Type),
		}
	}

	contact, err := h.conversations.GetContact(r.Context(), identity, contactID)
	if err != nil {
		return h.serviceError(err)
	}

	channel := model.ChannelItem{OrgID: identity.OrgID}
	// Notes are internal: they never belong to a delivery channel, so the
	// stored message keeps an empty channelId and the pipeline will not
	// fan it out to the contact's stream.
	if msgType != model.MessageTypeNote && contact.ChannelID != "" {
		loaded, err := h.channels.GetChannel(r.Context(), identity.OrgID, contact.ChannelID)
		switch {
		case err == nil:
			channel = loaded
		case isChannelNotFound(err):
			// The channel was deleted under the contact; the reply is
			// stored channel-less rather than rejected.
			log.Printf("inbox: channel %s gone for contact %s, storing reply without a channel", contact.ChannelID, contactID)
		default:
			return &HTTPError{
				StatusCode: http.StatusInternalServerError,
				Message:    "Internal server error",
				ErrorLog:   fmt.Errorf("load channel %s for reply: %w", contact.ChannelID, err),
			}
		}
	}

	result, err := h.pipeline.Ingest(r.Context(), channel, ingestservice.NormalizedMessage{
		ExternalContactID: contact.ExternalID,
		Direction:         model.DirectionOutbound,
		Type:              msgType,
		Content:           req.Content,
		SenderID:          identity.UserID,
	})
	if err != nil {
		return h.pipelineError(err)
	}
	if result.Dropped {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Message content is required",
			ErrorLog:   fmt.Errorf("agent message empty for contact %s", contactID),
		}
	}

	return WriteJSON(w, http.StatusCreated, dto.PostWidgetMessageResponse{
		Message: dto.MessageResponseFrom(result.Message),
	})
}

func (h *inboxEndpoints) handleOpen(w http.ResponseWriter, r *http.Request, contactID string) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	contact, err := h.conversations.OpenConversation(r.Context(), identity, contactID)
	if err != nil {
		return h.serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ContactActionResponse{Contact: dto.ContactSummaryFrom(contact)})
}

func (h *inboxEndpoints) handleResolve(w http.ResponseWriter, r *http.Request, contactID string) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	contact, err := h.conversations.ResolveConversation(r.Context(), identity, contactID)
	if err != nil {
		return h.serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ContactActionResponse{Contact: dto.ContactSummaryFrom(contact)})
}

func (h *inboxEndpoints) handleAssign(w http.ResponseWriter, r *http.Request, contactID string) error {
	identity, err := h.conversations.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	var req dto.AssignContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode assign request: %w", err),
		}
	}

	contact, err := h.conversations.AssignContact(r.Context(), identity, contactID, req.AgentID)
	if err != nil {
		return h.serviceError(err)
	}
	return WriteJSON(w, http.StatusOK, dto.ContactActionResponse{Contact: dto.ContactSummaryFrom(contact)})
}

func (h *inboxEndpoints) identityFromRequest(r *http.Request) (conversationservice.Identity, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		identity, err := h.conversations.IdentityFromAuthorizationHeader(header)
		if err != nil {
			return conversationservice.Identity{}, h.serviceError(err)
		}
		return identity, nil
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	identity, err := h.conversations.IdentityFromToken(token)
	if err != nil {
		return conversationservice.Identity{}, h.serviceError(err)
	}
	return identity, nil
}

func (h *inboxEndpoints) extractContactPath(path string) (string, string, error) {
	prefix := h.paths.ContactPrefix
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return "", "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("contact path mismatch: %s", path),
		}
	}

	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		return "", "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("invalid contact path: %s", path),
		}
	}
	return parts[0], parts[1], nil
}

func (h *inboxEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*conversationservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("conversation service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case conversationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case conversationservice.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func (h *inboxEndpoints) pipelineError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*ingestservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("ingest: %w", err),
		}
	}

	switch svcErr.Code {
	case ingestservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: svcErr}
	case ingestservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: svcErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: svcErr}
	}
}

func isChannelNotFound(err error) bool {
	var svcErr *channelservice.Error
	return errors.As(err, &svcErr) && svcErr.Code == channelservice.ErrorCodeNotFound
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}
