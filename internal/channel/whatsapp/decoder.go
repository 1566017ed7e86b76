package whatsapp

import (
	"strings"

	"omnidesk-backend/internal/model"
)

type ContentKind string

const (
	KindText         ContentKind = "text"
	KindImage        ContentKind = "image"
	KindAudio        ContentKind = "audio"
	KindVideo        ContentKind = "video"
	KindDocument     ContentKind = "document"
	KindSticker      ContentKind = "sticker"
	KindUnrecognized ContentKind = "unrecognized"
)

// DecodedContent is the closed set of shapes a gateway message reduces
// to. Callers switch on Kind exactly once; there is no second round of
// optional-field probing after decoding.
type DecodedContent struct {
	Kind ContentKind
	// Text holds the message body for text, the caption for media kinds
	// when one exists, or a placeholder for caption-less media. Empty for
	// unrecognized content.
	Text string
}

func (d DecodedContent) MessageType() model.MessageType {
	switch d.Kind {
	case KindImage:
		return model.MessageTypeImage
	case KindAudio:
		return model.MessageTypeAudio
	case KindVideo:
		return model.MessageTypeVideo
	case KindDocument:
		return model.MessageTypeDocument
	case KindSticker:
		return model.MessageTypeSticker
	default:
		return model.MessageTypeText
	}
}

// Decoder turns gateway payloads into DecodedContent and decides which
// sender identifiers are trusted for contact resolution.
type Decoder struct {
	// StableJidSuffixes lists the jid domains whose identifiers are
	// stable across gateway sessions. Identifiers outside the allowlist
	// (group jids, linked-device ids) are never used as contact keys.
	StableJidSuffixes []string
}

func NewDecoder() *Decoder {
	return &Decoder{
		StableJidSuffixes: []string{"@s.whatsapp.net"},
	}
}

// DecodeContent reduces the nested content union to one variant. Media
// kinds without a caption get a fixed placeholder so the conversation
// list still shows something meaningful.
func (d *Decoder) DecodeContent(content *MessageContent) DecodedContent {
	if content == nil {
		return DecodedContent{Kind: KindUnrecognized}
	}

	switch {
	case content.Conversation != "":
		return DecodedContent{Kind: KindText, Text: content.Conversation}
	case content.ExtendedTextMessage != nil && content.ExtendedTextMessage.Text != "":
		return DecodedContent{Kind: KindText, Text: content.ExtendedTextMessage.Text}
	case content.ImageMessage != nil:
		return DecodedContent{Kind: KindImage, Text: mediaText(content.ImageMessage, "[image]")}
	case content.AudioMessage != nil:
		return DecodedContent{Kind: KindAudio, Text: mediaText(content.AudioMessage, "[audio]")}
	case content.VideoMessage != nil:
		return DecodedContent{Kind: KindVideo, Text: mediaText(content.VideoMessage, "[video]")}
	case content.DocumentMessage != nil:
		return DecodedContent{Kind: KindDocument, Text: mediaText(content.DocumentMessage, "[document]")}
	case content.StickerMessage != nil:
		return DecodedContent{Kind: KindSticker, Text: "[sticker]"}
	default:
		return DecodedContent{Kind: KindUnrecognized}
	}
}

func mediaText(media *MediaMessage, placeholder string) string {
	if media != nil && strings.TrimSpace(media.Caption) != "" {
		return media.Caption
	}
	return placeholder
}

// IsStableJid reports whether the jid may serve as a dedup key for
// contact resolution.
func (d *Decoder) IsStableJid(jid string) bool {
	for _, suffix := range d.StableJidSuffixes {
		if strings.HasSuffix(jid, suffix) {
			return true
		}
	}
	return false
}

// PhoneFromJid extracts an E.164-style phone number from a user jid.
// "5511999990000@s.whatsapp.net" becomes "+5511999990000"; device
// suffixes after ":" are stripped. Returns "" for non-user jids.
func (d *Decoder) PhoneFromJid(jid string) string {
	if !d.IsStableJid(jid) {
		return ""
	}
	user := jid
	if at := strings.Index(user, "@"); at >= 0 {
		user = user[:at]
	}
	if colon := strings.Index(user, ":"); colon >= 0 {
		user = user[:colon]
	}
	if user == "" {
		return ""
	}
	return "+" + user
}
