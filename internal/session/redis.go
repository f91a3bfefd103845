package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/model"
	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
)

const resolveMaxAttempts = 5

// RedisStore keeps each session as JSON under its own key. The key outlives
// the session by the retention window; Redis expiry does the sweeping.
type RedisStore struct {
	redis     *redisclient.Client
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewRedisStore(client *redisclient.Client, ttl, retention time.Duration) *RedisStore {
	return &RedisStore{
		redis:     client,
		ttl:       ttl,
		retention: retention,
		now:       time.Now,
	}
}

func (r *RedisStore) Create(ctx context.Context, params CreateParams) (*model.CredentialSession, error) {
	s, err := newSession(params, r.ttl, r.now())
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := r.redis.SetNX(ctx, redisclient.SessionKey(s.ID), data, r.ttl+r.retention).Result()
	if err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return nil, ErrExists
	}
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (*model.CredentialSession, error) {
	s, err := r.load(ctx, r.redis, id)
	if err != nil {
		return nil, err
	}
	markExpired(s, r.now())
	return s, nil
}

func (r *RedisStore) Resolve(ctx context.Context, id string, outcome Outcome) (*model.CredentialSession, error) {
	key := redisclient.SessionKey(id)

	var result *model.CredentialSession
	var resolveErr error

	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}

		now := r.now()
		changed := markExpired(s, now)
		resolveErr = applyOutcome(s, outcome, now)
		result = s
		if resolveErr == nil {
			changed = true
		}
		if !changed {
			return nil
		}

		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		keep := s.ExpiresAt.Sub(now) + r.retention
		if keep <= 0 {
			keep = time.Second
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, keep)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < resolveMaxAttempts; attempt++ {
		err := r.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("sessionId", id).Int("attempt", attempt+1).Msg("session resolve raced, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, resolveErr
	}

	return nil, fmt.Errorf("resolve session %s: too much contention", id)
}

// Sweep is a no-op; keys carry their own TTL.
func (r *RedisStore) Sweep(ctx context.Context) (int64, error) {
	return 0, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, g getter, id string) (*model.CredentialSession, error) {
	data, err := g.Get(ctx, redisclient.SessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var s model.CredentialSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
