package whatsapp

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"omnidesk-backend/internal/model"
	"omnidesk-backend/internal/service/ingest"
)

// Ingestor is the slice of the ingestion pipeline the router needs.
type Ingestor interface {
	Ingest(ctx context.Context, channel model.ChannelItem, msg ingest.NormalizedMessage) (ingest.Result, error)
	SyncContact(ctx context.Context, channel model.ChannelItem, externalID, name, phone string) error
}

// ChannelStatusStore persists gateway connection-state changes.
type ChannelStatusStore interface {
	UpdateChannelStatus(ctx context.Context, orgID, channelID string, status model.ChannelStatus) error
}

// Router dispatches gateway webhook events by their event-name field.
// Every event kind resolves to an acknowledged outcome; unknown kinds
// are accepted and ignored, since a failure response would only trigger
// a redelivery storm upstream.
type Router struct {
	decoder  *Decoder
	pipeline Ingestor
	channels ChannelStatusStore
}

func NewRouter(pipeline Ingestor, channels ChannelStatusStore) *Router {
	return &Router{
		decoder:  NewDecoder(),
		pipeline: pipeline,
		channels: channels,
	}
}

// HandleEvent routes one gateway event. The returned error is for the
// caller's logs only; webhook endpoints ack 200 regardless.
func (r *Router) HandleEvent(ctx context.Context, channel model.ChannelItem, event WebhookEvent) error {
	switch normalizeEventName(event.Event) {
	case "MESSAGES_UPSERT":
		return r.handleMessageUpsert(ctx, channel, event.Data)
	case "CONNECTION_UPDATE":
		return r.handleConnectionUpdate(ctx, channel, event.Data)
	case "CONTACTS_UPSERT", "CONTACTS_UPDATE":
		return r.handleContactsUpsert(ctx, channel, event.Data)
	case "LABELS_EDIT", "LABELS_ASSOCIATION":
		// Label sync is accepted but not tracked.
		return nil
	default:
		return nil
	}
}

func (r *Router) handleMessageUpsert(ctx context.Context, channel model.ChannelItem, data json.RawMessage) error {
	var upsert MessageUpsert
	if err := json.Unmarshal(data, &upsert); err != nil {
		return err
	}

	if !r.decoder.IsStableJid(upsert.Key.RemoteJid) {
		log.Printf("whatsapp: skipping message from unstable jid %q", upsert.Key.RemoteJid)
		return nil
	}

	content := r.decoder.DecodeContent(upsert.Message)
	if content.Kind == KindUnrecognized {
		// Protocol events with no user-visible payload.
		return nil
	}

	direction := model.DirectionInbound
	senderName := upsert.PushName
	if upsert.Key.FromMe {
		direction = model.DirectionOutbound
		// A self-sent echo must never contribute the agent's own name.
		senderName = ""
	}

	msg := ingest.NormalizedMessage{
		ExternalMessageID: upsert.Key.ID,
		ExternalContactID: upsert.Key.RemoteJid,
		Direction:         direction,
		Type:              content.MessageType(),
		Content:           content.Text,
		SenderName:        senderName,
		Phone:             r.decoder.PhoneFromJid(upsert.Key.RemoteJid),
	}
	if upsert.MessageTimestamp > 0 {
		msg.Timestamp = time.Unix(upsert.MessageTimestamp, 0)
	}

	_, err := r.pipeline.Ingest(ctx, channel, msg)
	return err
}

func (r *Router) handleConnectionUpdate(ctx context.Context, channel model.ChannelItem, data json.RawMessage) error {
	var update ConnectionUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return err
	}

	var status model.ChannelStatus
	switch strings.ToLower(update.State) {
	case "open":
		status = model.ChannelStatusConnected
	case "connecting":
		status = model.ChannelStatusConnecting
	case "close", "closed":
		status = model.ChannelStatusDisconnected
	default:
		return nil
	}

	return r.channels.UpdateChannelStatus(ctx, channel.OrgID, channel.ChannelID, status)
}

func (r *Router) handleContactsUpsert(ctx context.Context, channel model.ChannelItem, data json.RawMessage) error {
	var contacts []ContactUpsert
	if err := json.Unmarshal(data, &contacts); err != nil {
		// A single object is also valid.
		var one ContactUpsert
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return err
		}
		contacts = []ContactUpsert{one}
	}

	for _, c := range contacts {
		if !r.decoder.IsStableJid(c.RemoteJid) {
			continue
		}
		name := c.PushName
		if name == "" {
			name = c.ProfileName
		}
		phone := r.decoder.PhoneFromJid(c.RemoteJid)
		if err := r.pipeline.SyncContact(ctx, channel, c.RemoteJid, name, phone); err != nil {
			log.Printf("whatsapp: contact sync for %q: %v", c.RemoteJid, err)
		}
	}
	return nil
}

func normalizeEventName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), ".", "_"))
}
