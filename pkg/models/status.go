package models

// ServiceStatus is returned by the status endpoint.
type ServiceStatus struct {
	ActiveCalls      int    `json:"active_calls"`
	ActiveSessions   int    `json:"active_sessions"`
	ModelsReady      bool   `json:"models_ready"`
	RecognizerReady  bool   `json:"stt_ready"`
	SynthesizerReady bool   `json:"tts_ready"`
	TwilioConfigured bool   `json:"twilio_configured"`
	LocalVoice       bool   `json:"local_voice_running"`
	LLMProvider      string `json:"llm_provider"`
}

// MakeCallRequest is the body of an outbound call request.
type MakeCallRequest struct {
	To      string `json:"to" binding:"required"`
	Message string `json:"message"`
}
