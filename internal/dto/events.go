package dto

// ContactSummary is the contact projection carried on events and API
// responses. new_message events for a brand-new contact embed it so
// dashboards can render the conversation without a second fetch.
type ContactSummary struct {
	ContactID    string `json:"contactId"`
	ChannelID    string `json:"channelId,omitempty"`
	Name         string `json:"name,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	ConvStatus   string `json:"convStatus,omitempty"`
	AssignedToID string `json:"assignedToId,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

type NewMessageEvent struct {
	Message MessageResponse `json:"message"`
	Contact *ContactSummary `json:"contact,omitempty"`
	IsNew   bool            `json:"isNewContact,omitempty"`
}

type ConvUpdatedEvent struct {
	ContactID    string `json:"contactId"`
	ConvStatus   string `json:"convStatus"`
	AssignedToID string `json:"assignedToId,omitempty"`
	UpdatedAt    string `json:"updatedAt"`
}
