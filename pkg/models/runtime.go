package models

// RuntimeInfo describes how clients and the telephony provider reach the server.
type RuntimeInfo struct {
	HTTPBaseURL string      `json:"http_base_url"`
	WSBaseURL   string      `json:"ws_base_url"`
	Port        int         `json:"port"`
	Webhooks    WebhookURLs `json:"webhooks"`
}

// WebhookURLs are the URLs to configure on the Twilio phone number.
type WebhookURLs struct {
	Voice         string `json:"voice"`
	Outbound      string `json:"outbound"`
	Status        string `json:"status"`
	ProcessSpeech string `json:"process_speech"`
}
