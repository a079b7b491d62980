package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const (
	redisIDPrefix   = "flowbot:session:id:"
	redisPairPrefix = "flowbot:session:pair:"
	redisDeadlines  = "flowbot:session:deadlines"
)

// RedisStore implements Store on Redis. Sessions live under an id key with a
// (chat, user) pointer key beside them; suspended deadlines are indexed in a
// ZSET so the timeout sweep is a single range query.
type RedisStore struct {
	client *backend.Client
}

// NewRedisStore creates a store backed by a new Redis client.
func NewRedisStore(addr, password string, db int) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisStoreFromClient creates a store from an existing client.
func NewRedisStoreFromClient(client *backend.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) idKey(sessionID string) string { return redisIDPrefix + sessionID }

func (r *RedisStore) pairKey(chatID, userID int64) string {
	return redisPairPrefix + Key(chatID, userID)
}

// Load retrieves the session for the (chat, user) pair.
func (r *RedisStore) Load(ctx context.Context, chatID, userID int64) (*Session, error) {
	id, err := r.client.Get(ctx, r.pairKey(chatID, userID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get pair: %w", err)
	}
	return r.loadByID(ctx, id)
}

func (r *RedisStore) loadByID(ctx context.Context, sessionID string) (*Session, error) {
	val, err := r.client.Get(ctx, r.idKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Save persists the full session and maintains the deadline index.
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.idKey(s.ID), data, 0)
	pipe.Set(ctx, r.pairKey(s.ChatID, s.UserID), s.ID, 0)
	if s.Suspended && !s.Deadline.IsZero() {
		pipe.ZAdd(ctx, redisDeadlines, backend.Z{
			Score:  float64(s.Deadline.Unix()),
			Member: s.ID,
		})
	} else {
		pipe.ZRem(ctx, redisDeadlines, s.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save session: %w", err)
	}
	return nil
}

// Delete removes the session and its index entries.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	s, err := r.loadByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.idKey(sessionID))
	pipe.Del(ctx, r.pairKey(s.ChatID, s.UserID))
	pipe.ZRem(ctx, redisDeadlines, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// ListExpired returns suspended sessions whose deadline passed.
func (r *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]*Session, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisDeadlines, &backend.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis range deadlines: %w", err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.loadByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Stale index entry; drop it.
				_ = r.client.ZRem(ctx, redisDeadlines, id).Err()
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
