package dialogue

import "time"

// ActionKind is the kind of an Action.
type ActionKind string

const (
	ActionSpeak     ActionKind = "speak"
	ActionListen    ActionKind = "listen"
	ActionTerminate ActionKind = "terminate"
)

// Action is one protocol-agnostic instruction for the call transport.
type Action struct {
	Kind    ActionKind    `json:"kind"`
	Text    string        `json:"text,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

func Speak(text string) Action { return Action{Kind: ActionSpeak, Text: text} }

func Listen(timeout time.Duration) Action { return Action{Kind: ActionListen, Timeout: timeout} }

func Terminate() Action { return Action{Kind: ActionTerminate} }
