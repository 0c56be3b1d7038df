package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/models"
)

var fastRetry = ReplyOptions{
	Timeout:     time.Second,
	BackoffStep: time.Millisecond,
	BackoffCap:  2 * time.Millisecond,
}

func TestReplyService_NotConfigured(t *testing.T) {
	svc, err := NewReplyService(context.Background(), nil, ReplyOptions{})
	require.NoError(t, err)
	assert.False(t, svc.Ready())

	_, err = svc.Reply(context.Background(), ReplyRequest{})
	assert.ErrorIs(t, err, ErrReplyUnavailable)
	_, err = svc.Complete(context.Background(), "sys", "hi")
	assert.ErrorIs(t, err, ErrReplyUnavailable)
}

func TestReplyService_ReplyAndExtraction(t *testing.T) {
	cm := &scriptedChatModel{
		assistant: reply("  Great, Ana! For how many people?  "),
		tracker: reply("Here you go:\n```json\n" +
			`{"lead": {"name": "Ana", "phone": "", "number_of_people": 4, "custom_fields": {"budget": "500"}},` +
			` "lead_status": "HOT", "summary_requested": true}` + "\n```"),
	}
	svc, err := NewReplyService(context.Background(), cm, fastRetry)
	require.NoError(t, err)
	require.True(t, svc.Ready())

	res, err := svc.Reply(context.Background(), ReplyRequest{
		SystemPrompt: "You are a hotel receptionist.",
		Messages: []models.Turn{
			{Role: models.RoleUser, Content: "Hi, I'm Ana and I need a room"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Great, Ana! For how many people?", res.Reply)
	assert.Equal(t, map[string]string{"name": "Ana", "number_of_people": "4", "budget": "500"}, res.Fields)
	assert.Equal(t, "hot", res.Classification)
	assert.True(t, res.SummaryRequested)

	require.Len(t, cm.inputs, 2)
	assistantIn := cm.inputs[0]
	assert.Equal(t, schema.System, assistantIn[0].Role)
	assert.Equal(t, "You are a hotel receptionist.", assistantIn[0].Content)
	trackerIn := cm.inputs[1]
	assert.Equal(t, trackerInstructions, trackerIn[0].Content)
	assert.Equal(t, schema.Assistant, trackerIn[len(trackerIn)-1].Role, "tracker sees the new reply")
}

func TestReplyService_TrackerFailureKeepsReply(t *testing.T) {
	for name, tracker := range map[string]func([]*schema.Message) (*schema.Message, error){
		"error":    func([]*schema.Message) (*schema.Message, error) { return nil, errors.New("boom") },
		"no json":  reply("I could not find anything."),
		"bad json": reply(`{"lead": {"name": }`),
	} {
		t.Run(name, func(t *testing.T) {
			cm := &scriptedChatModel{assistant: reply("Sure."), tracker: tracker}
			svc, err := NewReplyService(context.Background(), cm, fastRetry)
			require.NoError(t, err)

			res, err := svc.Reply(context.Background(), ReplyRequest{SystemPrompt: "s"})
			require.NoError(t, err)
			assert.Equal(t, "Sure.", res.Reply)
			assert.Empty(t, res.Fields)
		})
	}
}

func TestReplyService_RetriesThenSucceeds(t *testing.T) {
	var failures atomic.Int32
	cm := &scriptedChatModel{
		assistant: func([]*schema.Message) (*schema.Message, error) {
			if failures.Add(1) <= 2 {
				return nil, errors.New("503")
			}
			return schema.AssistantMessage("Third time lucky.", nil), nil
		},
	}
	svc, err := NewReplyService(context.Background(), cm, fastRetry)
	require.NoError(t, err)

	res, err := svc.Reply(context.Background(), ReplyRequest{SystemPrompt: "s"})
	require.NoError(t, err)
	assert.Equal(t, "Third time lucky.", res.Reply)
	assert.Equal(t, int32(3), failures.Load())
}

func TestReplyService_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	cm := &scriptedChatModel{
		assistant: func([]*schema.Message) (*schema.Message, error) {
			calls.Add(1)
			return nil, errors.New("model unavailable")
		},
	}
	svc, err := NewReplyService(context.Background(), cm, fastRetry)
	require.NoError(t, err)

	_, err = svc.Reply(context.Background(), ReplyRequest{SystemPrompt: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Equal(t, int32(3), calls.Load())
}

func TestReplyService_StopsRetryingAtDeadline(t *testing.T) {
	cm := &scriptedChatModel{stalled: true}
	svc, err := NewReplyService(context.Background(), cm, ReplyOptions{
		Timeout:     time.Second,
		BackoffStep: 10 * time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = svc.Reply(ctx, ReplyRequest{SystemPrompt: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "the per-attempt timeout never runs out")
	assert.Equal(t, 1, cm.callCount())
}

func TestReplyOptions_DefaultTimeoutFitsTurnBudget(t *testing.T) {
	opts := ReplyOptions{}.withDefaults()
	assert.Less(t, opts.Timeout, config.DefaultTurnBudget)
}

func TestReplyService_Complete(t *testing.T) {
	cm := &scriptedChatModel{assistant: reply(" Hello, thanks for calling! ")}
	svc, err := NewReplyService(context.Background(), cm, fastRetry)
	require.NoError(t, err)

	text, err := svc.Complete(context.Background(), "You are friendly.", greetingInstruction)
	require.NoError(t, err)
	assert.Equal(t, "Hello, thanks for calling!", text)
	assert.Equal(t, 1, cm.callCount())
}

func TestParseLeadUpdate(t *testing.T) {
	u, err := parseLeadUpdate(`{"lead": {"name": "Bo", "notes": "  ", "vip": true, "room_type": null}, "lead_status": "cold"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "Bo", "vip": "true"}, u.fields())
	assert.Equal(t, "cold", u.LeadStatus)
	assert.False(t, u.SummaryRequested)

	_, err = parseLeadUpdate("nothing here")
	assert.Error(t, err)
}
