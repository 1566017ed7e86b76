package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/model"
	channelservice "omnidesk-backend/internal/service/channel"
)

// ChannelEndpoints manages an organization's ingress channels. All
// operations except listing require the admin role; the service layer
// enforces that.
type ChannelEndpoints interface {
	Channels(http.ResponseWriter, *http.Request) error
	Channel(http.ResponseWriter, *http.Request) error
}

type channelEndpoints struct {
	service       *channelservice.Service
	channelPrefix string
}

func NewChannelEndpoints(service *channelservice.Service, prefix string) ChannelEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &channelEndpoints{
		service:       service,
		channelPrefix: base + "/channels/",
	}
}

func (h *channelEndpoints) Channels(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListChannels,
		http.MethodPost: h.handleCreateChannel,
	})
}

// Channel routes /channels/{id} and /channels/{id}/rotate-key.
func (h *channelEndpoints) Channel(w http.ResponseWriter, r *http.Request) error {
	channelID, action, err := h.extractChannelPath(r.URL.Path)
	if err != nil {
		return err
	}

	switch action {
	case "":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodDelete: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleDeleteChannel(w, r, channelID)
			},
		})
	case "rotate-key":
		return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
			http.MethodPost: func(w http.ResponseWriter, r *http.Request) error {
				return h.handleRotateKey(w, r, channelID)
			},
		})
	default:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("unknown channel action: %s", action),
		}
	}
}

func (h *channelEndpoints) handleCreateChannel(w http.ResponseWriter, r *http.Request) error {
	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	var req dto.CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode create channel request: %w", err),
		}
	}

	channel, err := h.service.CreateChannel(
		r.Context(),
		identity,
		model.ChannelKind(req.Kind),
		req.ExternalInstanceID,
		req.WebhookSecret,
	)
	if err != nil {
		return h.serviceError(err)
	}

	// The api key is returned once, on creation and rotation only.
	return WriteJSON(w, http.StatusCreated, toChannelResponse(channel, true))
}

func (h *channelEndpoints) handleListChannels(w http.ResponseWriter, r *http.Request) error {
	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	channels, err := h.service.ListChannels(r.Context(), identity)
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.ListChannelsResponse{Channels: make([]dto.ChannelResponse, len(channels))}
	for i, channel := range channels {
		resp.Channels[i] = toChannelResponse(channel, false)
	}
	return WriteJSON(w, http.StatusOK, resp)
}

func (h *channelEndpoints) handleRotateKey(w http.ResponseWriter, r *http.Request, channelID string) error {
	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	channel, err := h.service.RotateAPIKey(r.Context(), identity, channelID)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, dto.RotateChannelKeyResponse{
		ChannelID: channel.ChannelID,
		APIKey:    channel.APIKey,
	})
}

func (h *channelEndpoints) handleDeleteChannel(w http.ResponseWriter, r *http.Request, channelID string) error {
	identity, err := h.service.IdentityFromAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return h.serviceError(err)
	}

	if err := h.service.DeleteChannel(r.Context(), identity, channelID); err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "Channel deleted"})
}

func (h *channelEndpoints) extractChannelPath(path string) (string, string, error) {
	trimmed := strings.TrimPrefix(path, h.channelPrefix)
	if trimmed == path {
		return "", "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("channel path mismatch: %s", path),
		}
	}

	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], "", nil
	case len(parts) == 2 && parts[0] != "":
		return parts[0], parts[1], nil
	default:
		return "", "", &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("invalid channel path: %s", path),
		}
	}
}

func (h *channelEndpoints) serviceError(err error) error {
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

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case channelservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case channelservice.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case channelservice.ErrorCodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case channelservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case channelservice.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}

func toChannelResponse(channel model.ChannelItem, includeKey bool) dto.ChannelResponse {
	resp := dto.ChannelResponse{
		ChannelID:          channel.ChannelID,
		Kind:               string(channel.Kind),
		Status:             string(channel.Status),
		ExternalInstanceID: channel.ExternalInstanceID,
		CreatedAt:          channel.CreatedAt,
		UpdatedAt:          channel.UpdatedAt,
	}
	if includeKey {
		resp.APIKey = channel.APIKey
	}
	return resp
}
