package endpoints

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/channel/whatsapp"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/queue"
	channelservice "omnidesk-backend/internal/service/channel"
	ingestservice "omnidesk-backend/internal/service/ingest"
	leadservice "omnidesk-backend/internal/service/lead"
)

type stateOrgStore struct{ state *inboxState }

func (s *stateOrgStore) GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	org, ok := s.state.orgs[orgID]
	if !ok {
		return model.OrganizationItem{}, errors.New("org not found")
	}
	return org, nil
}

type leadStore struct {
	mu        sync.Mutex
	campaigns []model.CampaignItem
	leads     map[string]model.CampaignLeadItem
	contacts  map[string]model.ContactItem
}

func newLeadStore() *leadStore {
	return &leadStore{
		leads:    make(map[string]model.CampaignLeadItem),
		contacts: make(map[string]model.ContactItem),
	}
}

func (s *leadStore) ListCampaigns(ctx context.Context, orgID string) ([]model.CampaignItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	campaigns := make([]model.CampaignItem, 0)
	for _, campaign := range s.campaigns {
		if campaign.OrgID == orgID {
			campaigns = append(campaigns, campaign)
		}
	}
	return campaigns, nil
}

func (s *leadStore) GetCampaignLead(ctx context.Context, orgID, leadID string) (model.CampaignLeadItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[model.CampaignLeadPK(orgID, leadID)]
	if !ok {
		return model.CampaignLeadItem{}, leadservice.ErrNotFound
	}
	return lead, nil
}

func (s *leadStore) PutCampaignLead(ctx context.Context, item model.CampaignLeadItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[item.PK] = item
	return nil
}

func (s *leadStore) FindContactByEmail(ctx context.Context, orgID, email string) (model.ContactItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range s.contacts {
		if contact.OrgID == orgID && contact.Email == email {
			return contact, nil
		}
	}
	return model.ContactItem{}, leadservice.ErrNotFound
}

func (s *leadStore) PutContact(ctx context.Context, contact model.ContactItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.PK] = contact
	return nil
}

func seedWebhookState(state *inboxState) {
	seedInboxState(state)

	org := state.orgs["org-1"]
	org.FBVerifyToken = "verify-123"
	org.FBAppSecret = "app-secret"
	state.orgs["org-1"] = org

	state.channels[model.ChannelPK("org-1", "wa-1")] = model.ChannelItem{
		PK: model.ChannelPK("org-1", "wa-1"), OrgID: "org-1", ChannelID: "wa-1",
		Kind: model.ChannelKindWhatsApp, Status: model.ChannelStatusPending, APIKey: "wa-key",
	}
}

func setupWebhookHandler(t *testing.T, state *inboxState, leads *leadStore) (http.Handler, *queue.RequestQueueManager, func()) {
	t.Helper()

	bus := eventbus.New()
	channels := channelservice.NewWithRepository(&stateChannelRepo{state}, fixedTime)
	pipeline := ingestservice.NewWithRepository(&stateIngestRepo{state}, bus, fixedTime)
	leadSvc := leadservice.NewWithRepository(leads, fixedTime)

	queueManager := queue.NewRequestQueueManager(10, 1)
	endpoints := NewWebhookEndpoints(channels, whatsapp.NewRouter(pipeline, channels), leadSvc, &stateOrgStore{state}, queueManager, "/api")
	server := api.NewAPIServer(":0", queueManager, nil, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhooks/whatsapp", server.MakeHTTPHandleFunc(endpoints.WhatsApp))
	mux.HandleFunc("/api/webhooks/facebook/", server.MakeHTTPHandleFunc(endpoints.FacebookLeads))

	return mux, queueManager, func() {
		queueManager.Shutdown()
	}
}

// drainQueue waits until every job enqueued before it has run. Relies on
// the single test worker processing jobs in order.
func drainQueue(manager *queue.RequestQueueManager) {
	done := make(chan error, 1)
	manager.EnqueueJob(queue.Job{Fn: func() error { return nil }, Errc: done})
	<-done
}

func doRawRequest(t *testing.T, handler http.Handler, method, target string, body []byte, headers map[string]string, expectedStatus int) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, rec.Code, rec.Body.String())
	}
	return rec
}

func signLeadBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookWhatsAppRejectsUnknownKey(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	handler, _, cleanup := setupWebhookHandler(t, state, newLeadStore())
	defer cleanup()

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/webhooks/whatsapp", map[string]interface{}{
		"event": "messages.upsert",
	}, map[string]string{"X-Api-Key": "wrong-key"}, http.StatusUnauthorized)
}

func TestWebhookWhatsAppMessageCreatesContact(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	handler, _, cleanup := setupWebhookHandler(t, state, newLeadStore())
	defer cleanup()

	body := []byte(`{
		"event": "messages.upsert",
		"instance": "wa-1",
		"data": {
			"key": {"remoteJid": "5511999990000@s.whatsapp.net", "fromMe": false, "id": "wamid-1"},
			"pushName": "Joao",
			"message": {"conversation": "oi"},
			"messageTimestamp": 1770000000
		}
	}`)
	headers := map[string]string{"X-Api-Key": "wa-key", "Content-Type": "application/json"}

	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/whatsapp", body, headers, http.StatusOK)

	state.mu.Lock()
	var contact model.ContactItem
	for _, c := range state.contacts {
		if c.ExternalID == "5511999990000@s.whatsapp.net" {
			contact = c
		}
	}
	stored := 0
	for _, msg := range state.messages {
		if msg.ExternalID == "wamid-1" {
			stored++
		}
	}
	state.mu.Unlock()

	if contact.ContactID == "" {
		t.Fatal("expected contact created from the webhook")
	}
	if contact.Phone != "+5511999990000" {
		t.Fatalf("contact phone = %q", contact.Phone)
	}
	if contact.Name != "Joao" {
		t.Fatalf("contact name = %q", contact.Name)
	}
	if contact.ConvStatus != model.ConversationStatusPending {
		t.Fatalf("convStatus = %q, want pending", contact.ConvStatus)
	}
	if stored != 1 {
		t.Fatalf("stored messages = %d, want 1", stored)
	}

	// Gateway retry with the identical payload must be a no-op.
	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/whatsapp", body, headers, http.StatusOK)

	state.mu.Lock()
	stored = 0
	for _, msg := range state.messages {
		if msg.ExternalID == "wamid-1" {
			stored++
		}
	}
	state.mu.Unlock()
	if stored != 1 {
		t.Fatalf("stored messages after redelivery = %d, want 1", stored)
	}
}

func TestWebhookWhatsAppConnectionUpdate(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	handler, _, cleanup := setupWebhookHandler(t, state, newLeadStore())
	defer cleanup()

	body := []byte(`{"event": "connection.update", "data": {"state": "open"}}`)
	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/whatsapp", body, map[string]string{"X-Api-Key": "wa-key"}, http.StatusOK)

	state.mu.Lock()
	channel := state.channels[model.ChannelPK("org-1", "wa-1")]
	state.mu.Unlock()
	if channel.Status != model.ChannelStatusConnected {
		t.Fatalf("channel status = %q, want connected", channel.Status)
	}
}

func TestWebhookLeadVerification(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	handler, _, cleanup := setupWebhookHandler(t, state, newLeadStore())
	defer cleanup()

	rec := doRawRequest(t, handler, http.MethodGet,
		"/api/webhooks/facebook/org-1?hub.mode=subscribe&hub.verify_token=verify-123&hub.challenge=12345",
		nil, nil, http.StatusOK)
	if rec.Body.String() != "12345" {
		t.Fatalf("challenge echo = %q", rec.Body.String())
	}

	doRawRequest(t, handler, http.MethodGet,
		"/api/webhooks/facebook/org-1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
		nil, nil, http.StatusForbidden)

	doRawRequest(t, handler, http.MethodGet,
		"/api/webhooks/facebook/no-such-org?hub.mode=subscribe&hub.verify_token=verify-123&hub.challenge=12345",
		nil, nil, http.StatusNotFound)
}

func TestWebhookLeadDelivery(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	leads := newLeadStore()
	leads.campaigns = append(leads.campaigns, model.CampaignItem{
		PK: model.CampaignPK("org-1", "camp-1"), OrgID: "org-1", CampaignID: "camp-1", FormID: "form-1",
	})
	handler, queueManager, cleanup := setupWebhookHandler(t, state, leads)
	defer cleanup()

	body := []byte(`{"object":"page","entry":[{"id":"page-1","changes":[{"field":"leadgen","value":{"leadgen_id":"lead-1","page_id":"page-1","form_id":"form-1","field_data":[{"name":"full_name","values":["Ana Dias"]},{"name":"email","values":["ana@x.com"]},{"name":"phone_number","values":["+5511999990000"]}]}}]}]}`)

	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/facebook/org-1", body, map[string]string{
		"X-Hub-Signature-256": signLeadBody("app-secret", body),
	}, http.StatusOK)
	drainQueue(queueManager)

	leads.mu.Lock()
	lead, ok := leads.leads[model.CampaignLeadPK("org-1", "lead-1")]
	contact := leads.contacts[model.ContactPK("org-1", lead.ContactID)]
	leads.mu.Unlock()

	if !ok {
		t.Fatal("expected campaign lead recorded")
	}
	if lead.CampaignID != "camp-1" {
		t.Fatalf("lead campaign = %q", lead.CampaignID)
	}
	if contact.Email != "ana@x.com" || contact.Name != "Ana Dias" || contact.Phone != "+5511999990000" {
		t.Fatalf("contact = %+v", contact)
	}

	// Redelivery of the same lead id must not duplicate anything.
	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/facebook/org-1", body, map[string]string{
		"X-Hub-Signature-256": signLeadBody("app-secret", body),
	}, http.StatusOK)
	drainQueue(queueManager)

	leads.mu.Lock()
	leadCount := len(leads.leads)
	contactCount := len(leads.contacts)
	leads.mu.Unlock()
	if leadCount != 1 || contactCount != 1 {
		t.Fatalf("after redelivery: leads = %d, contacts = %d", leadCount, contactCount)
	}
}

func TestWebhookLeadRejectsBadSignature(t *testing.T) {
	state := newInboxState()
	seedWebhookState(state)
	leads := newLeadStore()
	handler, queueManager, cleanup := setupWebhookHandler(t, state, leads)
	defer cleanup()

	body := []byte(`{"object":"page","entry":[]}`)
	doRawRequest(t, handler, http.MethodPost, "/api/webhooks/facebook/org-1", body, map[string]string{
		"X-Hub-Signature-256": "sha256=deadbeef",
	}, http.StatusForbidden)
	drainQueue(queueManager)

	leads.mu.Lock()
	stored := len(leads.leads)
	leads.mu.Unlock()
	if stored != 0 {
		t.Fatalf("leads stored after rejected signature = %d", stored)
	}
}
