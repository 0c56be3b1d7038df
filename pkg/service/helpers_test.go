package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vocalabs/voca/pkg/db"
	"github.com/vocalabs/voca/pkg/models"
)

func openServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "voca.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}

// scriptedChatModel answers assistant and tracker prompts from functions.
// A stalled model never answers and returns once ctx ends.
type scriptedChatModel struct {
	mu        sync.Mutex
	stalled   bool
	assistant func(msgs []*schema.Message) (*schema.Message, error)
	tracker   func(msgs []*schema.Message) (*schema.Message, error)
	calls     int
	inputs    [][]*schema.Message
}

func (m *scriptedChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if m.stalled {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if len(input) > 0 && input[0].Content == trackerInstructions {
		if m.tracker == nil {
			return schema.AssistantMessage("{}", nil), nil
		}
		return m.tracker(input)
	}
	if m.assistant == nil {
		return nil, errors.New("no assistant script")
	}
	return m.assistant(input)
}

func (m *scriptedChatModel) Stream(context.Context, []*schema.Message, ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *scriptedChatModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func reply(text string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(text, nil), nil
	}
}

// fakeReplies is a ReplyProvider driven by the test.
type fakeReplies struct {
	mu       sync.Mutex
	result   *ReplyResult
	err      error
	greeting string
	greetErr error
	requests []ReplyRequest
}

func (f *fakeReplies) Reply(_ context.Context, req ReplyRequest) (*ReplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req.Messages = append([]models.Turn(nil), req.Messages...)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &ReplyResult{}, nil
	}
	r := *f.result
	return &r, nil
}

func (f *fakeReplies) Complete(context.Context, string, string) (string, error) {
	return f.greeting, f.greetErr
}

func (f *fakeReplies) lastRequest() ReplyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakePrompts struct {
	cfg models.PromptConfig
}

func (f fakePrompts) Get(_ context.Context, tenantID string) models.PromptConfig {
	c := f.cfg
	c.TenantID = tenantID
	return c
}

type recordingSnapshots struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingSnapshots) PersistAsync(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recordingSnapshots) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// failingStore fails every operation.
type failingStore struct{ err error }

func (f failingStore) GetOrCreate(context.Context, string, string) (*models.ConversationSession, error) {
	return nil, f.err
}
func (f failingStore) Get(context.Context, string) (*models.ConversationSession, error) {
	return nil, f.err
}
func (f failingStore) Save(context.Context, *models.ConversationSession) error { return f.err }
func (f failingStore) Evict(context.Context, string) error                     { return f.err }
func (f failingStore) Len(context.Context) (int, error)                        { return 0, f.err }
