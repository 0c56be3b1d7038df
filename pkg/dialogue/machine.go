// Package dialogue implements the confidence-gated turn state machine for phone calls.
//
// The machine decides, per recognized utterance, whether to pass it to the
// turn processor, ask for clarification, escalate, or end the call. It emits
// protocol-agnostic actions; translating them into TwiML or local audio is
// the caller's job.
package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

// State is the dialogue state of a call.
type State string

const (
	StateNormal      State = "NORMAL"
	StateClarifying  State = "CLARIFYING"
	StateSpelling    State = "SPELLING"
	StateEscalated   State = "ESCALATED"
	StateTerminating State = "TERMINATING"
)

const (
	// ConfidenceThreshold separates clear utterances from unclear ones.
	ConfidenceThreshold = 0.5
	escalateAfter       = 3
	clarifyAfter        = 2
	spellAfterAttempts  = 2
)

var ErrMissingCallID = errors.New("call id is required")

// RetryState tracks recognition failures for one call.
type RetryState struct {
	State            State  `json:"state"`
	UnclearCount     int    `json:"unclear_count"`
	NameAttemptCount int    `json:"name_attempt_count"`
	LastAttemptText  string `json:"last_attempt_text,omitempty"`
}

// Event is one recognized utterance.
type Event struct {
	CallID       string
	TenantID     string
	Text         string
	Confidence   float64
	PendingField string // structured field the agent is currently collecting
	PendingValue string // its current value, if any
}

// TurnProcessor produces the agent reply for a clear utterance.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, conversationID, tenantID, userText string) (string, error)
}

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	Phrases       Phrases
	Prompts       Prompts
	ListenTimeout time.Duration
	Logger        *slog.Logger
}

// Machine holds the RetryState of every active call. Calls that stop
// sending utterances are dropped by EvictIdle.
type Machine struct {
	processor     TurnProcessor
	phrases       Phrases
	prompts       Prompts
	listenTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu    sync.Mutex
	calls map[string]*trackedCall
}

type trackedCall struct {
	state    RetryState
	lastSeen time.Time
}

// NewMachine creates a state machine in front of processor.
func NewMachine(processor TurnProcessor, opts Options) *Machine {
	if len(opts.Phrases.AskRepeat) == 0 && len(opts.Phrases.Decline) == 0 &&
		len(opts.Phrases.Closing) == 0 && len(opts.Phrases.QuestionWords) == 0 {
		opts.Phrases = DefaultPhrases()
	}
	if len(opts.Phrases.NameFields) == 0 {
		opts.Phrases.NameFields = DefaultPhrases().NameFields
	}
	if opts.Prompts == (Prompts{}) {
		opts.Prompts = DefaultPrompts()
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = utils.GetLogger()
	}
	return &Machine{
		processor:     processor,
		phrases:       opts.Phrases,
		prompts:       opts.Prompts,
		listenTimeout: opts.ListenTimeout,
		logger:        opts.Logger,
		now:           time.Now,
		calls:         make(map[string]*trackedCall),
	}
}

// Phrases returns the phrase lists in use.
func (m *Machine) Phrases() Phrases { return m.phrases }

// Prompts returns the fixed prompts in use.
func (m *Machine) Prompts() Prompts { return m.prompts }

// ListenTimeout is how long the transport waits for the caller to speak.
func (m *Machine) ListenTimeout() time.Duration { return m.listenTimeout }

// Start registers a call in NORMAL state. It is a no-op for known calls.
func (m *Machine) Start(callID string) {
	m.mu.Lock()
	m.touch(callID)
	m.mu.Unlock()
}

// Handle advances the call by one utterance. The call state is only
// touched under m.mu; the turn processor runs without it.
func (m *Machine) Handle(ctx context.Context, ev Event) (Result, error) {
	if strings.TrimSpace(ev.CallID) == "" {
		return Result{}, ErrMissingCallID
	}
	text := strings.TrimSpace(ev.Text)

	m.mu.Lock()
	st := m.touch(ev.CallID)
	if st.State == StateTerminating {
		defer m.mu.Unlock()
		return m.result(st, StateTerminating, "", Terminate()), nil
	}
	if ev.Confidence <= ConfidenceThreshold || text == "" {
		defer m.mu.Unlock()
		return m.handleUnclear(st, ev), nil
	}
	st.UnclearCount = 0
	if m.phrases.LooksLikeNameAttempt(text, ev.PendingField, ev.PendingValue) {
		st.NameAttemptCount++
		st.LastAttemptText = text
	} else {
		st.NameAttemptCount = 0
	}
	m.mu.Unlock()

	reply, err := m.processor.ProcessTurn(ctx, ev.CallID, ev.TenantID, text)
	if err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleReply(st, ev, text, reply), nil
}

// handleReply picks the next state from the processor's reply. m.mu is held.
// st may have been forgotten while the processor ran; it is then updated
// but no longer tracked.
func (m *Machine) handleReply(st *RetryState, ev Event, text, reply string) Result {
	switch {
	case st.NameAttemptCount >= spellAfterAttempts && matchesAny(reply, m.phrases.AskRepeat):
		st.State = StateSpelling
		reply = m.prompts.SpellName
	case matchesAny(text, m.phrases.Decline) && matchesAny(reply, m.phrases.Closing):
		st.State = StateTerminating
		m.logger.Info("Caller declined further help, ending call", "callSid", ev.CallID)
		return m.result(st, StateTerminating, reply, Speak(reply), Terminate())
	default:
		st.State = StateNormal
	}

	return m.result(st, st.State, reply, Speak(reply), Listen(m.listenTimeout))
}

// handleUnclear counts a failed recognition. m.mu is held.
func (m *Machine) handleUnclear(st *RetryState, ev Event) Result {
	st.UnclearCount++
	nameField := m.phrases.IsNameField(ev.PendingField)

	var msg string
	reached := StateClarifying
	switch {
	case st.UnclearCount >= escalateAfter:
		msg = m.prompts.HandOff
		if nameField {
			msg = m.prompts.HandOffName
		}
		reached = StateEscalated
		st.UnclearCount = 0
		st.NameAttemptCount = 0
		st.State = StateNormal
		m.logger.Warn("Escalating after repeated unclear input", "callSid", ev.CallID)
	case st.UnclearCount >= clarifyAfter && nameField:
		msg = m.prompts.SpellName
		reached = StateSpelling
		st.State = StateSpelling
	case st.UnclearCount >= clarifyAfter:
		msg = m.prompts.SpeakSlower
		st.State = StateClarifying
	default:
		msg = m.prompts.DidNotCatch
		st.State = StateClarifying
	}

	m.logger.Debug("Unclear utterance", "callSid", ev.CallID, "confidence", ev.Confidence,
		"unclearCount", st.UnclearCount, "state", reached)
	return m.result(st, reached, msg, Speak(msg), Listen(m.listenTimeout))
}

// RetryState returns a copy of the call's state.
func (m *Machine) RetryState(callID string) (RetryState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return RetryState{}, false
	}
	return c.state, true
}

// Forget drops the call's state.
func (m *Machine) Forget(callID string) {
	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()
}

// EvictIdle drops calls with no utterance for ttl, such as API conversations
// that never get a terminal status callback. It returns the number removed.
func (m *Machine) EvictIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.calls {
		if c.lastSeen.Before(cutoff) {
			delete(m.calls, id)
			n++
		}
	}
	return n
}

// RunJanitor evicts idle calls every interval until ctx is done.
func (m *Machine) RunJanitor(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.EvictIdle(now, ttl); n > 0 {
				m.logger.Info("Evicted idle call states", "count", n)
			}
		}
	}
}

// Len returns the number of tracked calls.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// touch returns the call's state, creating it in NORMAL, and marks the call
// as seen. m.mu is held.
func (m *Machine) touch(callID string) *RetryState {
	c, ok := m.calls[callID]
	if !ok {
		c = &trackedCall{state: RetryState{State: StateNormal}}
		m.calls[callID] = c
	}
	c.lastSeen = m.now()
	return &c.state
}

func (m *Machine) result(st *RetryState, reached State, reply string, actions ...Action) Result {
	return Result{
		Reply:   reply,
		State:   reached,
		Retry:   *st,
		Actions: actions,
	}
}

// Result is the outcome of one Handle call.
type Result struct {
	Reply   string
	State   State // state reached by this turn; ESCALATED is reported even though the call resumes in NORMAL
	Retry   RetryState
	Actions []Action
}

// Terminates reports whether the call must end after the actions are played.
func (r Result) Terminates() bool {
	for _, a := range r.Actions {
		if a.Kind == ActionTerminate {
			return true
		}
	}
	return false
}

// ListenTimeout returns the listen timeout and whether listening continues.
func (r Result) ListenTimeout() (time.Duration, bool) {
	for _, a := range r.Actions {
		if a.Kind == ActionListen {
			return a.Timeout, true
		}
	}
	return 0, false
}

// TurnResult converts the result for API responses.
func (r Result) TurnResult() models.TurnResult {
	_, listen := r.ListenTimeout()
	return models.TurnResult{
		ReplyText:         r.Reply,
		ContinueListening: listen,
		Terminate:         r.Terminates(),
		State:             string(r.State),
	}
}
