package dialogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	reply string
	err   error
	calls []string
}

func (f *fakeProcessor) ProcessTurn(_ context.Context, _, _, userText string) (string, error) {
	f.calls = append(f.calls, userText)
	return f.reply, f.err
}

func newTestMachine(p TurnProcessor) *Machine {
	return NewMachine(p, Options{
		ListenTimeout: 7 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestHandle_ClearUtteranceResetsUnclearCount(t *testing.T) {
	p := &fakeProcessor{reply: "Sure, what date works for you?"}
	m := newTestMachine(p)
	ctx := context.Background()

	_, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.2, Text: "mumble"})
	require.NoError(t, err)
	st, _ := m.RetryState("CA1")
	require.Equal(t, 1, st.UnclearCount)

	res, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: "I'd like to book a room"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retry.UnclearCount)
	assert.Equal(t, StateNormal, res.State)
	assert.Equal(t, "Sure, what date works for you?", res.Reply)

	timeout, listening := res.ListenTimeout()
	assert.True(t, listening)
	assert.Equal(t, 7*time.Second, timeout)
	assert.False(t, res.Terminates())
}

func TestHandle_ThreeUnclearTurnsEscalate(t *testing.T) {
	p := &fakeProcessor{}
	m := newTestMachine(p)
	ctx := context.Background()
	prompts := DefaultPrompts()

	res1, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.3, Text: "uh"})
	require.NoError(t, err)
	assert.Equal(t, prompts.DidNotCatch, res1.Reply)
	assert.Equal(t, StateClarifying, res1.State)

	res2, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: ""})
	require.NoError(t, err)
	assert.Equal(t, prompts.SpeakSlower, res2.Reply)
	assert.Equal(t, 2, res2.Retry.UnclearCount)

	res3, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.1, Text: "hm"})
	require.NoError(t, err)
	assert.Equal(t, prompts.HandOff, res3.Reply)
	assert.Equal(t, StateEscalated, res3.State)
	assert.Equal(t, 0, res3.Retry.UnclearCount)
	_, listening := res3.ListenTimeout()
	assert.True(t, listening)

	st, ok := m.RetryState("CA1")
	require.True(t, ok)
	assert.Equal(t, StateNormal, st.State)
	assert.Empty(t, p.calls, "unclear turns must not reach the turn processor")
}

func TestHandle_UnclearWithPendingNameAsksToSpell(t *testing.T) {
	m := newTestMachine(&fakeProcessor{})
	ctx := context.Background()

	_, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.2, Text: "jon", PendingField: "name"})
	require.NoError(t, err)
	res, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.2, Text: "jon", PendingField: "name"})
	require.NoError(t, err)
	assert.Equal(t, StateSpelling, res.State)
	assert.Equal(t, DefaultPrompts().SpellName, res.Reply)

	res, err = m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.2, Text: "jon", PendingField: "name"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompts().HandOffName, res.Reply)
}

func TestHandle_DeclineAndCloseTerminates(t *testing.T) {
	p := &fakeProcessor{reply: "You're welcome! Have a great day."}
	m := newTestMachine(p)
	ctx := context.Background()

	res, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: "no thank you"})
	require.NoError(t, err)
	assert.Equal(t, StateTerminating, res.State)
	assert.True(t, res.Terminates())
	_, listening := res.ListenTimeout()
	assert.False(t, listening, "no further gather after termination")
	require.Len(t, res.Actions, 2)
	assert.Equal(t, ActionSpeak, res.Actions[0].Kind)

	res, err = m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: "wait, one more thing"})
	require.NoError(t, err)
	assert.Equal(t, StateTerminating, res.State)
	assert.True(t, res.Terminates())
	assert.Len(t, p.calls, 1, "terminated calls must not be processed again")
}

func TestHandle_DeclineWithoutClosingContinues(t *testing.T) {
	m := newTestMachine(&fakeProcessor{reply: "Are you sure? We have rooms available."})
	res, err := m.Handle(context.Background(), Event{CallID: "CA1", Confidence: 0.9, Text: "no thank you"})
	require.NoError(t, err)
	assert.Equal(t, StateNormal, res.State)
	assert.False(t, res.Terminates())
}

func TestHandle_DeclineMatchesWholeWords(t *testing.T) {
	p := &fakeProcessor{reply: "Nice to meet you. Have a great day planning!"}
	m := newTestMachine(p)
	for _, text := range []string{"Hi, I'm Goodman from accounting", "Byers, table for two", "nothing elsewhere fits"} {
		res, err := m.Handle(context.Background(), Event{CallID: "CA1", Confidence: 0.9, Text: text})
		require.NoError(t, err)
		assert.Equal(t, StateNormal, res.State, text)
		assert.False(t, res.Terminates(), text)
	}

	res, err := m.Handle(context.Background(), Event{CallID: "CA1", Confidence: 0.9, Text: "I’m good, bye!"})
	require.NoError(t, err)
	assert.True(t, res.Terminates())
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		text    string
		phrases []string
		want    bool
	}{
		{"No Thank You, bye", []string{"no thank you"}, true},
		{"no... thank you", []string{"no thank you"}, true},
		{"goodbye", []string{"bye"}, false},
		{"ok bye.", []string{"bye"}, true},
		{"sure thing", []string{"", "nothing else"}, false},
		{"that's it", []string{"that's it for today"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesAny(tt.text, tt.phrases), tt.text)
	}
}

func TestHandle_NameAttemptCounting(t *testing.T) {
	p := &fakeProcessor{reply: "Thanks John, what's your phone number?"}
	m := newTestMachine(p)
	ctx := context.Background()

	res, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: "John Smith", PendingField: "name"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retry.NameAttemptCount)
	assert.Equal(t, 0, res.Retry.UnclearCount)
	assert.Equal(t, "John Smith", res.Retry.LastAttemptText)

	res, err = m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.9, Text: "yes", PendingField: "phone"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Retry.NameAttemptCount)
}

func TestHandle_RepeatedNameAttemptsSwitchToSpelling(t *testing.T) {
	p := &fakeProcessor{reply: "Sorry, I didn't catch your name."}
	m := newTestMachine(p)
	ctx := context.Background()

	res, err := m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.8, Text: "Siobhan Ni", PendingField: "name"})
	require.NoError(t, err)
	assert.Equal(t, StateNormal, res.State)
	assert.Equal(t, p.reply, res.Reply)

	res, err = m.Handle(ctx, Event{CallID: "CA1", Confidence: 0.8, Text: "Siobhan Ni", PendingField: "name"})
	require.NoError(t, err)
	assert.Equal(t, StateSpelling, res.State)
	assert.Equal(t, DefaultPrompts().SpellName, res.Reply)
}

func TestHandle_Errors(t *testing.T) {
	m := newTestMachine(&fakeProcessor{})
	_, err := m.Handle(context.Background(), Event{Confidence: 0.9, Text: "hi"})
	assert.ErrorIs(t, err, ErrMissingCallID)
	assert.Equal(t, 0, m.Len())

	boom := errors.New("boom")
	m = newTestMachine(&fakeProcessor{err: boom})
	_, err = m.Handle(context.Background(), Event{CallID: "CA1", Confidence: 0.9, Text: "hi"})
	assert.ErrorIs(t, err, boom)
}

func TestForget(t *testing.T) {
	m := newTestMachine(&fakeProcessor{})
	m.Start("CA1")
	m.Start("CA1")
	assert.Equal(t, 1, m.Len())
	m.Forget("CA1")
	_, ok := m.RetryState("CA1")
	assert.False(t, ok)
}

func TestEvictIdle(t *testing.T) {
	m := newTestMachine(&fakeProcessor{reply: "Sure."})
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.Start("CA-old")
	clock = clock.Add(20 * time.Minute)
	_, err := m.Handle(context.Background(), Event{CallID: "CA-new", Confidence: 0.9, Text: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 0, m.EvictIdle(clock, 0), "zero ttl keeps everything")
	assert.Equal(t, 1, m.EvictIdle(clock, 10*time.Minute))
	_, ok := m.RetryState("CA-old")
	assert.False(t, ok)
	_, ok = m.RetryState("CA-new")
	assert.True(t, ok)

	// an utterance refreshes the call
	clock = clock.Add(9 * time.Minute)
	_, err = m.Handle(context.Background(), Event{CallID: "CA-new", Confidence: 0.1})
	require.NoError(t, err)
	assert.Equal(t, 0, m.EvictIdle(clock.Add(5*time.Minute), 10*time.Minute))
	assert.Equal(t, 1, m.Len())
}

func TestRunJanitor_StopsWithContext(t *testing.T) {
	m := newTestMachine(&fakeProcessor{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

// gateProcessor blocks each turn until release is closed.
type gateProcessor struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateProcessor) ProcessTurn(ctx context.Context, _, _, _ string) (string, error) {
	close(g.entered)
	select {
	case <-g.release:
		return "Thank you for calling, goodbye.", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestHandle_StateReadableWhileProcessing(t *testing.T) {
	p := &gateProcessor{entered: make(chan struct{}), release: make(chan struct{})}
	m := newTestMachine(p)

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := m.Handle(context.Background(), Event{CallID: "CA1", Confidence: 0.9, Text: "no thanks"})
		out <- outcome{res, err}
	}()

	<-p.entered
	// readers are not blocked by the running turn
	for i := 0; i < 100; i++ {
		st, ok := m.RetryState("CA1")
		require.True(t, ok)
		assert.Equal(t, 0, st.UnclearCount)
	}
	m.Forget("CA1")
	close(p.release)

	o := <-out
	require.NoError(t, o.err)
	assert.Equal(t, StateTerminating, o.res.State)
	_, ok := m.RetryState("CA1")
	assert.False(t, ok, "a forgotten call is not tracked again")
}

func TestResult_TurnResult(t *testing.T) {
	r := Result{Reply: "bye", State: StateTerminating, Actions: []Action{Speak("bye"), Terminate()}}
	tr := r.TurnResult()
	assert.True(t, tr.Terminate)
	assert.False(t, tr.ContinueListening)
	assert.Equal(t, "TERMINATING", tr.State)
}
