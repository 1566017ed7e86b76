package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
	channelservice "omnidesk-backend/internal/service/channel"
	conversationservice "omnidesk-backend/internal/service/conversation"
	ingestservice "omnidesk-backend/internal/service/ingest"
	"omnidesk-backend/internal/sse"
)

// WidgetEndpoints is the public surface the embedded website widget
// talks to. Every call after session creation carries the api key, the
// contact id and the visitor token; the channel service validates the
// pairing on each request.
type WidgetEndpoints interface {
	Session(http.ResponseWriter, *http.Request) error
	Messages(http.ResponseWriter, *http.Request) error
	Stream(http.ResponseWriter, *http.Request) error
}

type widgetEndpoints struct {
	channels      *channelservice.Service
	conversations *conversationservice.Service
	pipeline      *ingestservice.Service
	bus           *eventbus.Bus
}

func NewWidgetEndpoints(
	channels *channelservice.Service,
	conversations *conversationservice.Service,
	pipeline *ingestservice.Service,
	bus *eventbus.Bus,
) WidgetEndpoints {
	return &widgetEndpoints{
		channels:      channels,
		conversations: conversations,
		pipeline:      pipeline,
		bus:           bus,
	}
}

func (h *widgetEndpoints) Session(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleCreateSession,
	})
}

func (h *widgetEndpoints) Messages(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleHistory,
		http.MethodPost: h.handlePostMessage,
	})
}

// Stream opens the contact's live message stream. EventSource cannot
// set headers, so credentials arrive as query parameters here.
func (h *widgetEndpoints) Stream(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		return &HTTPError{
			StatusCode: http.StatusMethodNotAllowed,
			Message:    "Method not allowed.",
			ErrorLog:   fmt.Errorf("method not allowed"),
		}
	}

	access, err := h.validateAccess(r)
	if err != nil {
		return err
	}

	return sse.OpenStream(w, r, h.bus, eventbus.ContactTopic(access.Contact.ContactID), sse.Options{})
}

func (h *widgetEndpoints) handleCreateSession(w http.ResponseWriter, r *http.Request) error {
	apiKey := r.Header.Get("X-Api-Key")

	var req dto.CreateWidgetSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode widget session request: %w", err),
		}
	}

	session, err := h.channels.CreateWidgetSession(r.Context(), apiKey, req.Name, req.Email)
	if err != nil {
		return h.channelError(err)
	}

	resp := dto.CreateWidgetSessionResponse{
		Contact:      dto.ContactSummaryFrom(session.Contact),
		VisitorToken: session.VisitorToken,
	}

	if req.Message != "" {
		result, err := h.pipeline.Ingest(r.Context(), session.Channel, ingestservice.NormalizedMessage{
			ExternalContactID: session.Contact.ExternalID,
			Direction:         model.DirectionInbound,
			Type:              model.MessageTypeText,
			Content:           req.Message,
			SenderName:        req.Name,
			Email:             req.Email,
			NewContact:        session.IsNewContact,
		})
		if err != nil {
			return h.pipelineError(err)
		}
		if !result.Dropped {
			msg := dto.MessageResponseFrom(result.Message)
			resp.Message = &msg
			resp.Contact = dto.ContactSummaryFrom(result.Contact)
		}
	}

	return WriteJSON(w, http.StatusCreated, resp)
}

func (h *widgetEndpoints) handlePostMessage(w http.ResponseWriter, r *http.Request) error {
	access, err := h.validateAccess(r)
	if err != nil {
		return err
	}

	var req dto.PostWidgetMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode widget message request: %w", err),
		}
	}

	result, err := h.pipeline.Ingest(r.Context(), access.Channel, ingestservice.NormalizedMessage{
		ExternalContactID: access.Contact.ExternalID,
		Direction:         model.DirectionInbound,
		Type:              model.MessageTypeText,
		Content:           req.Content,
	})
	if err != nil {
		return h.pipelineError(err)
	}
	if result.Dropped {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Message content is required",
			ErrorLog:   fmt.Errorf("widget message empty for contact %s", access.Contact.ContactID),
		}
	}

	return WriteJSON(w, http.StatusCreated, dto.PostWidgetMessageResponse{
		Message: dto.MessageResponseFrom(result.Message),
	})
}

func (h *widgetEndpoints) handleHistory(w http.ResponseWriter, r *http.Request) error {
	access, err := h.validateAccess(r)
	if err != nil {
		return err
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	messages, err := h.conversations.ListContactHistory(r.Context(), access.Contact, limit)
	if err != nil {
		return h.conversationError(err)
	}

	resp := dto.ListMessagesResponse{
		Contact:  dto.ContactSummaryFrom(access.Contact),
		Messages: make([]dto.MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		resp.Messages[i] = dto.MessageResponseFrom(msg)
	}
	return WriteJSON(w, http.StatusOK, resp)
}

// validateAccess reads widget credentials from headers, falling back to
// query parameters for EventSource connections.
func (h *widgetEndpoints) validateAccess(r *http.Request) (channelservice.WidgetAccess, error) {
	apiKey := r.Header.Get("X-Api-Key")
	if apiKey == "" {
		apiKey = r.URL.Query().Get("apiKey")
	}
	contactID := r.Header.Get("X-Contact-Id")
	if contactID == "" {
		contactID = r.URL.Query().Get("contactId")
	}
	visitorToken := r.Header.Get("X-Visitor-Token")
	if visitorToken == "" {
		visitorToken = r.URL.Query().Get("token")
	}

	access, err := h.channels.ValidateWidgetAccess(r.Context(), apiKey, contactID, visitorToken)
	if err != nil {
		return channelservice.WidgetAccess{}, h.channelError(err)
	}
	return access, nil
}

func (h *widgetEndpoints) channelError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*channelservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("channel service: %w", err),
		}
	}

	switch svcErr.Code {
	case channelservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: svcErr}
	case channelservice.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: svcErr}
	case channelservice.ErrorCodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: svcErr}
	case channelservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: svcErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: svcErr}
	}
}

func (h *widgetEndpoints) conversationError(err error) error {
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

	switch svcErr.Code {
	case conversationservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: svcErr}
	case conversationservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: svcErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: svcErr}
	}
}

func (h *widgetEndpoints) pipelineError(err error) error {
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
