package endpoints

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"omnidesk-backend/internal/api"
	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/queue"
	channelservice "omnidesk-backend/internal/service/channel"
	conversationservice "omnidesk-backend/internal/service/conversation"
	ingestservice "omnidesk-backend/internal/service/ingest"
)

func setupWidgetHandler(t *testing.T, state *inboxState) (http.Handler, *eventbus.Bus, func()) {
	t.Helper()
	channelservice.SetVisitorTokenSecret([]byte("test-widget-secret"))

	bus := eventbus.New()
	channels := channelservice.NewWithRepository(&stateChannelRepo{state}, fixedTime)
	conversations := conversationservice.NewWithRepository(&stateConversationRepo{state}, bus, fixedTime)
	pipeline := ingestservice.NewWithRepository(&stateIngestRepo{state}, bus, fixedTime)

	widgetEndpoints := NewWidgetEndpoints(channels, conversations, pipeline, bus)

	queueManager := queue.NewRequestQueueManager(10, 1)
	server := api.NewAPIServer(":0", queueManager, nil, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/widget/session", server.MakeHTTPHandleFunc(widgetEndpoints.Session))
	mux.HandleFunc("/api/widget/messages", server.MakeHTTPHandleFunc(widgetEndpoints.Messages))

	return mux, bus, func() {
		queueManager.Shutdown()
	}
}

func widgetHeaders(resp dto.CreateWidgetSessionResponse) map[string]string {
	return map[string]string{
		"X-Api-Key":       "widget-key",
		"X-Contact-Id":    resp.Contact.ContactID,
		"X-Visitor-Token": resp.VisitorToken,
	}
}

func TestWidgetSessionCreatesContactAndFirstMessage(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	resp := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":    "Ana",
		"email":   "ana@example.com",
		"message": "hi, I need help",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	if resp.Contact.ContactID == "" {
		t.Fatal("expected contact in session response")
	}
	if resp.VisitorToken == "" {
		t.Fatal("expected visitor token in session response")
	}
	if resp.Message == nil || resp.Message.Content != "hi, I need help" {
		t.Fatalf("expected initial message stored, got %#v", resp.Message)
	}
	if resp.Message.Direction != string(model.DirectionInbound) {
		t.Fatalf("expected inbound message, got %s", resp.Message.Direction)
	}
}

func TestWidgetSessionFirstMessageCarriesNewContact(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, bus, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	var mu sync.Mutex
	events := make([]eventbus.Event, 0)
	bus.Subscribe(eventbus.OrganizationTopic("org-1"), func(ev eventbus.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	first := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":    "Ana",
		"email":   "ana@example.com",
		"message": "hi, I need help",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	mu.Lock()
	newMessages := make([]eventbus.Event, 0)
	for _, ev := range events {
		if ev.Type == eventbus.EventNewMessage {
			newMessages = append(newMessages, ev)
		}
	}
	mu.Unlock()

	if len(newMessages) != 1 {
		t.Fatalf("new_message events = %d", len(newMessages))
	}
	var payload dto.NewMessageEvent
	if err := json.Unmarshal(newMessages[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !payload.IsNew || payload.Contact == nil {
		t.Fatalf("first widget message must carry the contact summary: %+v", payload)
	}
	if payload.Contact.ContactID != first.Contact.ContactID {
		t.Fatalf("summary contact = %q, want %q", payload.Contact.ContactID, first.Contact.ContactID)
	}

	// A repeat session for the same visitor is not a new contact.
	doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":    "Ana",
		"email":   "ana@example.com",
		"message": "hello again",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	mu.Lock()
	last := events[len(events)-1]
	mu.Unlock()
	if err := json.Unmarshal(last.Payload, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.IsNew {
		t.Fatal("repeat session must not report a new contact")
	}
}

func TestWidgetSessionReusesContactByEmail(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	headers := map[string]string{"X-Api-Key": "widget-key"}

	first := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
	}, headers, http.StatusCreated)

	second := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana Again",
		"email": "ANA@example.com",
	}, headers, http.StatusCreated)

	if first.Contact.ContactID != second.Contact.ContactID {
		t.Fatalf("expected same contact for repeated email, got %s and %s", first.Contact.ContactID, second.Contact.ContactID)
	}
}

func TestWidgetSessionRejectsUnknownKey(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name": "Ana",
	}, map[string]string{"X-Api-Key": "wrong-key"}, http.StatusUnauthorized)
}

func TestWidgetPostAndHistory(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	session := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	headers := widgetHeaders(session)

	posted := doJSONRequest[dto.PostWidgetMessageResponse](t, handler, http.MethodPost, "/api/widget/messages", map[string]interface{}{
		"content": "is anyone there?",
	}, headers, http.StatusCreated)

	if posted.Message.Direction != string(model.DirectionInbound) {
		t.Fatalf("expected inbound message, got %s", posted.Message.Direction)
	}

	history := doJSONRequest[dto.ListMessagesResponse](t, handler, http.MethodGet, "/api/widget/messages", nil, headers, http.StatusOK)
	if len(history.Messages) != 1 {
		t.Fatalf("expected 1 message in history, got %d", len(history.Messages))
	}
	if history.Messages[0].Content != "is anyone there?" {
		t.Fatalf("unexpected history content: %s", history.Messages[0].Content)
	}
}

func TestWidgetHistoryExcludesNotes(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	session := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	state.mu.Lock()
	state.messages = append(state.messages, model.MessageItem{
		PK: model.MessagePK(session.Contact.ContactID, "note-1"), OrgID: "org-1",
		ContactID: session.Contact.ContactID, MessageID: "note-1",
		Direction: model.DirectionOutbound, Type: model.MessageTypeNote,
		Content: "internal note", SenderID: "agent-1", CreatedAt: "2026-03-14T11:00:00Z",
	})
	state.mu.Unlock()

	history := doJSONRequest[dto.ListMessagesResponse](t, handler, http.MethodGet, "/api/widget/messages", nil, widgetHeaders(session), http.StatusOK)
	for _, msg := range history.Messages {
		if msg.Type == string(model.MessageTypeNote) {
			t.Fatal("expected notes to stay out of widget history")
		}
	}
}

func TestWidgetRejectsForeignContact(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	session := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	headers := widgetHeaders(session)
	headers["X-Contact-Id"] = "contact-1"

	doJSONRequest[api.ApiError](t, handler, http.MethodPost, "/api/widget/messages", map[string]interface{}{
		"content": "spoofed",
	}, headers, http.StatusForbidden)
}

func TestWidgetRejectsTamperedToken(t *testing.T) {
	state := newInboxState()
	seedInboxState(state)
	handler, _, cleanup := setupWidgetHandler(t, state)
	defer cleanup()

	session := doJSONRequest[dto.CreateWidgetSessionResponse](t, handler, http.MethodPost, "/api/widget/session", map[string]interface{}{
		"name":  "Ana",
		"email": "ana@example.com",
	}, map[string]string{"X-Api-Key": "widget-key"}, http.StatusCreated)

	headers := widgetHeaders(session)
	headers["X-Visitor-Token"] = strings.Replace(session.VisitorToken, ".", ".x", 1)

	req := httptest.NewRequest(http.MethodGet, "/api/widget/messages", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized && rec.Code != http.StatusForbidden {
		t.Fatalf("expected auth failure for tampered token, got %d", rec.Code)
	}
}
