package whatsapp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/service/ingest"
)

type fakePipeline struct {
	ingested []ingest.NormalizedMessage
	synced   []string
}

func (f *fakePipeline) Ingest(ctx context.Context, channel model.ChannelItem, msg ingest.NormalizedMessage) (ingest.Result, error) {
	f.ingested = append(f.ingested, msg)
	return ingest.Result{}, nil
}

func (f *fakePipeline) SyncContact(ctx context.Context, channel model.ChannelItem, externalID, name, phone string) error {
	f.synced = append(f.synced, externalID)
	return nil
}

type fakeChannelStore struct {
	statuses []model.ChannelStatus
}

func (f *fakeChannelStore) UpdateChannelStatus(ctx context.Context, orgID, channelID string, status model.ChannelStatus) error {
	f.statuses = append(f.statuses, status)
	return nil
}

func testChannel() model.ChannelItem {
	return model.ChannelItem{OrgID: "org-1", ChannelID: "ch-wa", Kind: model.ChannelKindWhatsApp}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestRouterMessageUpsertInbound(t *testing.T) {
	pipeline := &fakePipeline{}
	router := NewRouter(pipeline, &fakeChannelStore{})

	data := mustRaw(t, MessageUpsert{
		Key:              MessageKey{RemoteJid: "5511999990000@s.whatsapp.net", FromMe: false, ID: "ABC123"},
		PushName:         "Maria",
		Message:          &MessageContent{Conversation: "oi"},
		MessageTimestamp: 1765800000,
	})
	err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "messages.upsert", Data: data})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(pipeline.ingested) != 1 {
		t.Fatalf("ingested = %d", len(pipeline.ingested))
	}
	msg := pipeline.ingested[0]
	if msg.ExternalMessageID != "ABC123" || msg.ExternalContactID != "5511999990000@s.whatsapp.net" {
		t.Fatalf("identifiers = %+v", msg)
	}
	if msg.Direction != model.DirectionInbound || msg.Type != model.MessageTypeText || msg.Content != "oi" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.SenderName != "Maria" || msg.Phone != "+5511999990000" {
		t.Fatalf("sender = %+v", msg)
	}
	if msg.Timestamp != time.Unix(1765800000, 0) {
		t.Fatalf("timestamp = %v", msg.Timestamp)
	}
}

func TestRouterMessageUpsertFromMe(t *testing.T) {
	pipeline := &fakePipeline{}
	router := NewRouter(pipeline, &fakeChannelStore{})

	data := mustRaw(t, MessageUpsert{
		Key:      MessageKey{RemoteJid: "5511999990000@s.whatsapp.net", FromMe: true, ID: "OUT1"},
		PushName: "Support Account",
		Message:  &MessageContent{Conversation: "we shipped it"},
	})
	if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "MESSAGES_UPSERT", Data: data}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	msg := pipeline.ingested[0]
	if msg.Direction != model.DirectionOutbound {
		t.Fatalf("direction = %q", msg.Direction)
	}
	if msg.SenderName != "" {
		t.Fatalf("self-sent echo must not carry a sender name, got %q", msg.SenderName)
	}
}

func TestRouterSkipsUnstableJidAndProtocolEvents(t *testing.T) {
	pipeline := &fakePipeline{}
	router := NewRouter(pipeline, &fakeChannelStore{})

	group := mustRaw(t, MessageUpsert{
		Key:     MessageKey{RemoteJid: "1203630xxxx@g.us", ID: "G1"},
		Message: &MessageContent{Conversation: "group chatter"},
	})
	if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "MESSAGES_UPSERT", Data: group}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	protocol := mustRaw(t, MessageUpsert{
		Key:     MessageKey{RemoteJid: "5511999990000@s.whatsapp.net", ID: "P1"},
		Message: &MessageContent{},
	})
	if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "MESSAGES_UPSERT", Data: protocol}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(pipeline.ingested) != 0 {
		t.Fatalf("ingested = %d, want 0", len(pipeline.ingested))
	}
}

func TestRouterConnectionUpdate(t *testing.T) {
	store := &fakeChannelStore{}
	router := NewRouter(&fakePipeline{}, store)

	for state, want := range map[string]model.ChannelStatus{
		"open":       model.ChannelStatusConnected,
		"connecting": model.ChannelStatusConnecting,
		"close":      model.ChannelStatusDisconnected,
	} {
		data := mustRaw(t, ConnectionUpdate{State: state})
		if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "connection.update", Data: data}); err != nil {
			t.Fatalf("HandleEvent(%s): %v", state, err)
		}
		last := store.statuses[len(store.statuses)-1]
		if last != want {
			t.Fatalf("state %q mapped to %q, want %q", state, last, want)
		}
	}
}

func TestRouterContactsUpsert(t *testing.T) {
	pipeline := &fakePipeline{}
	router := NewRouter(pipeline, &fakeChannelStore{})

	data := mustRaw(t, []ContactUpsert{
		{RemoteJid: "5511999990000@s.whatsapp.net", PushName: "Maria"},
		{RemoteJid: "1203630xxxx@g.us", PushName: "Some Group"},
	})
	if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: "CONTACTS_UPSERT", Data: data}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(pipeline.synced) != 1 || pipeline.synced[0] != "5511999990000@s.whatsapp.net" {
		t.Fatalf("synced = %v", pipeline.synced)
	}
}

func TestRouterAcceptsUnknownAndLabelEvents(t *testing.T) {
	router := NewRouter(&fakePipeline{}, &fakeChannelStore{})

	for _, name := range []string{"LABELS_EDIT", "labels.association", "SOME_FUTURE_EVENT"} {
		if err := router.HandleEvent(context.Background(), testChannel(), WebhookEvent{Event: name, Data: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("HandleEvent(%s): %v", name, err)
		}
	}
}
