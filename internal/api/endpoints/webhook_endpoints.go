package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"omnidesk-backend/internal/channel/whatsapp"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/queue"
	channelservice "omnidesk-backend/internal/service/channel"
	leadservice "omnidesk-backend/internal/service/lead"
)

// OrganizationStore resolves the organization a lead webhook is
// addressed to. The auth repository satisfies it.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error)
}

// WebhookEndpoints receives pushes from external gateways. Gateway
// calls are acknowledged with 200 whenever the sender is authenticated;
// processing failures are logged, never surfaced, so gateways do not
// retry storms at us.
type WebhookEndpoints interface {
	WhatsApp(http.ResponseWriter, *http.Request) error
	FacebookLeads(http.ResponseWriter, *http.Request) error
}

type webhookEndpoints struct {
	channels   *channelservice.Service
	router     *whatsapp.Router
	leads      *leadservice.Service
	orgs       OrganizationStore
	jobs       *queue.RequestQueueManager
	leadPrefix string
}

func NewWebhookEndpoints(
	channels *channelservice.Service,
	router *whatsapp.Router,
	leads *leadservice.Service,
	orgs OrganizationStore,
	jobs *queue.RequestQueueManager,
	prefix string,
) WebhookEndpoints {
	base := strings.TrimRight(prefix, "/")
	return &webhookEndpoints{
		channels:   channels,
		router:     router,
		leads:      leads,
		orgs:       orgs,
		jobs:       jobs,
		leadPrefix: base + "/webhooks/facebook/",
	}
}

func (h *webhookEndpoints) WhatsApp(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleWhatsApp,
	})
}

func (h *webhookEndpoints) FacebookLeads(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleLeadVerify,
		http.MethodPost: h.handleLeadWebhook,
	})
}

func (h *webhookEndpoints) handleWhatsApp(w http.ResponseWriter, r *http.Request) error {
	channel, err := h.channels.GetChannelByAPIKey(r.Context(), r.Header.Get("X-Api-Key"))
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid api key",
			ErrorLog:   fmt.Errorf("whatsapp webhook auth: %w", err),
		}
	}

	var event whatsapp.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode whatsapp event: %w", err),
		}
	}

	// The gateway retries on anything but 200, so handler errors are
	// logged and swallowed.
	if err := h.router.HandleEvent(r.Context(), channel, event); err != nil {
		log.Printf("whatsapp webhook: %s: %v", event.Event, err)
	}

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "ok"})
}

func (h *webhookEndpoints) handleLeadVerify(w http.ResponseWriter, r *http.Request) error {
	org, err := h.resolveOrg(r)
	if err != nil {
		return err
	}

	query := r.URL.Query()
	challenge, ok := h.leads.VerifySubscription(
		org,
		query.Get("hub.mode"),
		query.Get("hub.verify_token"),
		query.Get("hub.challenge"),
	)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Verification failed",
			ErrorLog:   fmt.Errorf("lead subscription verify failed for org %s", org.OrgID),
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write([]byte(challenge))
	return err
}

func (h *webhookEndpoints) handleLeadWebhook(w http.ResponseWriter, r *http.Request) error {
	org, err := h.resolveOrg(r)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("read lead webhook body: %w", err),
		}
	}

	if !h.leads.VerifySignature(org, body, r.Header.Get("X-Hub-Signature-256")) {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Invalid signature",
			ErrorLog:   fmt.Errorf("lead webhook signature mismatch for org %s", org.OrgID),
		}
	}

	// Acknowledge first; processing happens on the worker pool with a
	// fresh context since the request is already answered.
	h.jobs.EnqueueJob(queue.Job{
		Fn: func() error {
			h.leads.ProcessWebhook(context.Background(), org, body)
			return nil
		},
	})

	return WriteJSON(w, http.StatusOK, ApiMessageResponse{Message: "ok"})
}

func (h *webhookEndpoints) resolveOrg(r *http.Request) (model.OrganizationItem, error) {
	orgID := strings.Trim(strings.TrimPrefix(r.URL.Path, h.leadPrefix), "/")
	if orgID == "" || strings.Contains(orgID, "/") {
		return model.OrganizationItem{}, &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("invalid lead webhook path: %s", r.URL.Path),
		}
	}

	org, err := h.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		return model.OrganizationItem{}, &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    "Not found",
			ErrorLog:   fmt.Errorf("resolve org %s: %w", orgID, err),
		}
	}
	return org, nil
}
