package model

import "fmt"

type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
)

type ChannelKind string

const (
	ChannelKindWidget       ChannelKind = "widget"
	ChannelKindWhatsApp     ChannelKind = "whatsapp"
	ChannelKindFacebookLead ChannelKind = "facebook-lead"
)

type ChannelStatus string

const (
	ChannelStatusPending      ChannelStatus = "pending"
	ChannelStatusConnecting   ChannelStatus = "connecting"
	ChannelStatusConnected    ChannelStatus = "connected"
	ChannelStatusDisconnected ChannelStatus = "disconnected"
)

func ChannelPK(orgID, channelID string) string {
	return fmt.Sprintf("%s#%s", orgID, channelID)
}

func ContactPK(orgID, contactID string) string {
	return fmt.Sprintf("%s#%s", orgID, contactID)
}

func MessagePK(contactID, messageID string) string {
	return fmt.Sprintf("%s#%s", contactID, messageID)
}

type ChannelItem struct {
	PK                 string        `dynamodbav:"pk"`
	OrgID              string        `dynamodbav:"orgId"`
	ChannelID          string        `dynamodbav:"channelId"`
	Kind               ChannelKind   `dynamodbav:"kind"`
	Status             ChannelStatus `dynamodbav:"status"`
	ExternalInstanceID string        `dynamodbav:"externalInstanceId,omitempty"`
	APIKey             string        `dynamodbav:"apiKey,omitempty"`
	WebhookSecret      string        `dynamodbav:"webhookSecret,omitempty"`
	CreatedAt          string        `dynamodbav:"createdAt"`
	UpdatedAt          string        `dynamodbav:"updatedAt"`
}

type ContactItem struct {
	PK           string             `dynamodbav:"pk"`
	OrgID        string             `dynamodbav:"orgId"`
	ContactID    string             `dynamodbav:"contactId"`
	ChannelID    string             `dynamodbav:"channelId,omitempty"`
	ExternalID   string             `dynamodbav:"externalId,omitempty"`
	Name         string             `dynamodbav:"name,omitempty"`
	Email        string             `dynamodbav:"email,omitempty"`
	Phone        string             `dynamodbav:"phone,omitempty"`
	ConvStatus   ConversationStatus `dynamodbav:"convStatus,omitempty"`
	AssignedToID string             `dynamodbav:"assignedToId,omitempty"`
	CreatedAt    string             `dynamodbav:"createdAt"`
	UpdatedAt    string             `dynamodbav:"updatedAt"`
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeNote     MessageType = "note"
	MessageTypeImage    MessageType = "image"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
)

type MessageItem struct {
	PK         string           `dynamodbav:"pk"`
	OrgID      string           `dynamodbav:"orgId"`
	ContactID  string           `dynamodbav:"contactId"`
	ChannelID  string           `dynamodbav:"channelId,omitempty"`
	MessageID  string           `dynamodbav:"messageId"`
	ExternalID string           `dynamodbav:"externalId,omitempty"`
	Direction  MessageDirection `dynamodbav:"direction"`
	Type       MessageType      `dynamodbav:"type"`
	Content    string           `dynamodbav:"content"`
	Status     string           `dynamodbav:"status,omitempty"`
	SenderID   string           `dynamodbav:"senderId,omitempty"`
	CreatedAt  string           `dynamodbav:"createdAt"`
}
