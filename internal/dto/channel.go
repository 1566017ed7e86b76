package dto

type CreateChannelRequest struct {
	Kind               string `json:"kind"`
	ExternalInstanceID string `json:"externalInstanceId,omitempty"`
	WebhookSecret      string `json:"webhookSecret,omitempty"`
}

type ChannelResponse struct {
	ChannelID          string `json:"channelId"`
	Kind               string `json:"kind"`
	Status             string `json:"status"`
	ExternalInstanceID string `json:"externalInstanceId,omitempty"`
	APIKey             string `json:"apiKey,omitempty"`
	CreatedAt          string `json:"createdAt"`
	UpdatedAt          string `json:"updatedAt"`
}

type ListChannelsResponse struct {
	Channels []ChannelResponse `json:"channels"`
}

type RotateChannelKeyResponse struct {
	ChannelID string `json:"channelId"`
	APIKey    string `json:"apiKey"`
}
