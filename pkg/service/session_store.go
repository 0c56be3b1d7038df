package service

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

var ErrSessionNotFound = errors.New("session not found")

// SessionStore owns the ConversationSession of every active call. Callers
// receive copies and write them back with Save.
type SessionStore interface {
	GetOrCreate(ctx context.Context, conversationID, tenantID string) (*models.ConversationSession, error)
	Get(ctx context.Context, conversationID string) (*models.ConversationSession, error)
	Save(ctx context.Context, session *models.ConversationSession) error
	Evict(ctx context.Context, conversationID string) error
	Len(ctx context.Context) (int, error)
}

// MemorySessionStore keeps sessions in a process-local map.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.ConversationSession
	ttl      time.Duration
	logger   *slog.Logger
}

// NewMemorySessionStore creates a store. Sessions idle for longer than ttl are
// removed by the janitor; a zero ttl disables idle eviction.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*models.ConversationSession),
		ttl:      ttl,
		logger:   utils.GetLogger(),
	}
}

func (s *MemorySessionStore) GetOrCreate(_ context.Context, conversationID, tenantID string) (*models.ConversationSession, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, models.ErrMissingConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = models.NewConversationSession(conversationID, tenantID)
		s.sessions[conversationID] = sess
		s.logger.Debug("Session created", "conversationID", conversationID, "tenantID", tenantID)
	} else if sess.TenantID == "" && tenantID != "" {
		sess.TenantID = tenantID
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Get(_ context.Context, conversationID string) (*models.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Save(_ context.Context, session *models.ConversationSession) error {
	if session == nil || session.ConversationID == "" {
		return models.ErrMissingConversationID
	}
	s.mu.Lock()
	s.sessions[session.ConversationID] = session.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Evict(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.sessions, conversationID)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}

// EvictIdle removes sessions not updated since now-ttl and returns how many
// were removed.
func (s *MemorySessionStore) EvictIdle(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// RunJanitor evicts idle sessions every interval until ctx is done.
func (s *MemorySessionStore) RunJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
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
			if n := s.EvictIdle(now, s.ttl); n > 0 {
				s.logger.Info("Evicted idle sessions", "count", n)
			}
		}
	}
}
