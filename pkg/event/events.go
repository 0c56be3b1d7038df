package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationLog   = "conversation.log"
	TurnCompleted     = "turn.completed"
	CallStatusChanged = "call.statusChanged"
	LocalVoiceState   = "localVoice.stateChanged"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationLogEvent is emitted for every caller or agent line.
type ConversationLogEvent struct {
	CallID  string `json:"call_id,omitempty"`
	Speaker string `json:"speaker"` // user or ai
	Text    string `json:"text"`
}

func (e ConversationLogEvent) EventName() string { return ConversationLog }

// TurnCompletedEvent is emitted after the dialogue machine handled an utterance.
type TurnCompletedEvent struct {
	CallID       string  `json:"call_id"`
	State        string  `json:"state"`
	Confidence   float64 `json:"confidence"`
	UnclearCount int     `json:"unclear_count"`
	Terminate    bool    `json:"terminate"`
}

func (e TurnCompletedEvent) EventName() string { return TurnCompleted }

// ============================================================================
// Call Events
// ============================================================================

// CallStatusChangedEvent is emitted when a call is registered or its status changes.
type CallStatusChangedEvent struct {
	CallID    string `json:"call_id"`
	Status    string `json:"status"`
	Direction string `json:"direction,omitempty"`
}

func (e CallStatusChangedEvent) EventName() string { return CallStatusChanged }

// LocalVoiceStateEvent is emitted when the microphone loop starts or stops.
type LocalVoiceStateEvent struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

func (e LocalVoiceStateEvent) EventName() string { return LocalVoiceState }
