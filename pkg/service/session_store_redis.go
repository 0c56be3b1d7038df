package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

const sessionKeyPrefix = "voca:session:"

// RedisSessionStore keeps each session as a JSON value whose expiry is
// refreshed on every save, so idle eviction is left to Redis.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		ttl:    ttl,
		logger: utils.GetLogger(),
	}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func (s *RedisSessionStore) GetOrCreate(ctx context.Context, conversationID, tenantID string) (*models.ConversationSession, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, models.ErrMissingConversationID
	}
	sess, err := s.Get(ctx, conversationID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		sess = models.NewConversationSession(conversationID, tenantID)
		// SetNX keeps a concurrent creator's session instead of overwriting it.
		b, err := json.Marshal(sess)
		if err != nil {
			return nil, fmt.Errorf("marshal session: %w", err)
		}
		created, err := s.client.SetNX(ctx, sessionKey(conversationID), b, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if !created {
			return s.GetOrCreate(ctx, conversationID, tenantID)
		}
		s.logger.Debug("Session created", "conversationID", conversationID, "tenantID", tenantID)
		return sess, nil
	case err != nil:
		return nil, err
	}

	if sess.TenantID == "" && tenantID != "" {
		sess.TenantID = tenantID
		if err := s.Save(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *RedisSessionStore) Get(ctx context.Context, conversationID string) (*models.ConversationSession, error) {
	b, err := s.client.Get(ctx, sessionKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.ConversationSession
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Fields == nil {
		sess.Fields = map[string]string{}
	}
	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *models.ConversationSession) error {
	if session == nil || session.ConversationID == "" {
		return models.ErrMissingConversationID
	}
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(session.ConversationID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Evict(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("evict session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("scan sessions: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}
