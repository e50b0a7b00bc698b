package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paircast/internal/core/domain"
	"paircast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRepository stores sessions with per-key TTLs so they disappear
// on their own even if the sweeper never runs. The viewer binding uses SETNX
// on a dedicated key, which gives the join check-and-set its atomicity when
// multiple relay instances share one Redis.
type RedisSessionRepository struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		ttl:    ttl,
		prefix: "paircast:",
	}
}

func (r *RedisSessionRepository) sessionKey(code domain.Code) string {
	return r.prefix + "session:" + string(code)
}

func (r *RedisSessionRepository) viewerKey(code domain.Code) string {
	return r.prefix + "session:" + string(code) + ":viewer"
}

func (r *RedisSessionRepository) connKey(id domain.ConnectionID) string {
	return r.prefix + "conn:" + string(id)
}

func (r *RedisSessionRepository) indexKey() string {
	return r.prefix + "sessions"
}

type storedSession struct {
	Code       domain.Code         `json:"code"`
	SourceConn domain.ConnectionID `json:"source_conn"`
	CreatedAt  time.Time           `json:"created_at"`
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.PairingSession) error {
	data, err := json.Marshal(storedSession{
		Code:       session.Code,
		SourceConn: session.SourceConn,
		CreatedAt:  session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(session.Code), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session in Redis: %w", err)
	}
	if !ok {
		return domain.ErrCodeTaken
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, r.indexKey(), string(session.Code))
	pipe.Set(ctx, r.connKey(session.SourceConn), string(session.Code), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context, code domain.Code) (*domain.PairingSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(code)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	session := &domain.PairingSession{
		Code:       stored.Code,
		SourceConn: stored.SourceConn,
		CreatedAt:  stored.CreatedAt,
	}

	viewer, err := r.client.Get(ctx, r.viewerKey(code)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get session viewer from Redis: %w", err)
	}
	if err == nil {
		session.ViewerConn = domain.ConnectionID(viewer)
	}

	return session, nil
}

func (r *RedisSessionRepository) BindViewer(ctx context.Context, code domain.Code, viewer domain.ConnectionID) error {
	exists, err := r.client.Exists(ctx, r.sessionKey(code)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session in Redis: %w", err)
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}

	ok, err := r.client.SetNX(ctx, r.viewerKey(code), string(viewer), r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to bind viewer in Redis: %w", err)
	}
	if !ok {
		return domain.ErrAlreadyBound
	}

	if err := r.client.Set(ctx, r.connKey(viewer), string(code), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to index viewer connection: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, code domain.Code) error {
	session, err := r.Get(ctx, code)
	if err == domain.ErrSessionNotFound {
		// Still prune the index entry; TTL expiry leaves it behind.
		_ = r.client.SRem(ctx, r.indexKey(), string(code)).Err()
		return nil
	}
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, r.sessionKey(code), r.viewerKey(code))
	pipe.Del(ctx, r.connKey(session.SourceConn))
	if session.HasViewer() {
		pipe.Del(ctx, r.connKey(session.ViewerConn))
	}
	pipe.SRem(ctx, r.indexKey(), string(code))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) FindByConnection(ctx context.Context, id domain.ConnectionID) (*domain.PairingSession, error) {
	code, err := r.client.Get(ctx, r.connKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up connection in Redis: %w", err)
	}

	return r.Get(ctx, domain.Code(code))
}

func (r *RedisSessionRepository) List(ctx context.Context) ([]*domain.PairingSession, error) {
	codes, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions from Redis: %w", err)
	}

	var sessions []*domain.PairingSession
	for _, code := range codes {
		session, err := r.Get(ctx, domain.Code(code))
		if err != nil {
			// Skip sessions whose keys expired under us.
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *RedisSessionRepository) Count(ctx context.Context) (int, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}
