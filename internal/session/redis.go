package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
)

const (
	stateKeyPrefix = "survey:state:"
	lockKeyPrefix  = "survey:lock:"

	// lockTTL bounds how long a crashed request can hold a session.
	lockTTL = 60 * time.Second
)

// unlockScript deletes the lock only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps survey state in Redis so any front end instance can serve
// a worker.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*survey.Controller, error) {
	b, err := s.rdb.Get(ctx, stateKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var c survey.Controller
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Save(ctx context.Context, sessionID string, c *survey.Controller) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, stateKeyPrefix+sessionID, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, stateKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := lockKeyPrefix + sessionID
	token := uuid.NewString()

	ok, err := s.rdb.SetNX(ctx, key, token, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("session: lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// the request context may already be gone
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, s.rdb, []string{key}, token).Err()
	}, nil
}
