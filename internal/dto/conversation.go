package dto

type MessageResponse struct {
	MessageID  string `json:"messageId"`
	ContactID  string `json:"contactId"`
	ChannelID  string `json:"channelId,omitempty"`
	Direction  string `json:"direction"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Status     string `json:"status,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type CreateWidgetSessionRequest struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

type CreateWidgetSessionResponse struct {
	Contact      ContactSummary   `json:"contact"`
	VisitorToken string           `json:"visitorToken"`
	Message      *MessageResponse `json:"message,omitempty"`
}

type PostWidgetMessageRequest struct {
	Content string `json:"content"`
}

type PostWidgetMessageResponse struct {
	Message MessageResponse `json:"message"`
}

type ListMessagesResponse struct {
	Contact  ContactSummary    `json:"contact"`
	Messages []MessageResponse `json:"messages"`
}

type ListContactsResponse struct {
	Contacts []ContactSummary `json:"contacts"`
}

type PostAgentMessageRequest struct {
	Content string `json:"content"`
	// Type may be "text" (default) or "note". Notes are internal and are
	// never delivered to the contact's widget stream.
	Type string `json:"type,omitempty"`
}

type AssignContactRequest struct {
	// AgentID empty clears the assignment.
	AgentID string `json:"agentId"`
}

type ContactActionResponse struct {
	Contact ContactSummary `json:"contact"`
}
