package dto

import "omnidesk-backend/internal/model"

func MessageResponseFrom(m model.MessageItem) MessageResponse {
	return MessageResponse{
		MessageID:  m.MessageID,
		ContactID:  m.ContactID,
		ChannelID:  m.ChannelID,
		Direction:  string(m.Direction),
		Type:       string(m.Type),
		Content:    m.Content,
		Status:     m.Status,
		SenderID:   m.SenderID,
		ExternalID: m.ExternalID,
		CreatedAt:  m.CreatedAt,
	}
}

func ContactSummaryFrom(c model.ContactItem) ContactSummary {
	return ContactSummary{
		ContactID:    c.ContactID,
		ChannelID:    c.ChannelID,
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		ConvStatus:   string(c.ConvStatus),
		AssignedToID: c.AssignedToID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
