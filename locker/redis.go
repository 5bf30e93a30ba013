package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/freshstock/ledger"
)

// ErrLockTimeout is returned when a key stays held by someone else past the retry budget.
var ErrLockTimeout = errors.New("timed out waiting for chain lock")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes the distributed lock.
type RedisConfig struct {
	// TTL bounds how long a crashed holder can block a chain.
	TTL time.Duration
	// Attempts and RetryDelay bound how long Lock waits for one key.
	Attempts   int
	RetryDelay time.Duration
	// Prefix namespaces the lock keys.
	Prefix string
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 50
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 100 * time.Millisecond
	}
	if c.Prefix == "" {
		c.Prefix = "lock:inventory"
	}
	return c
}

// Redis is a ledger.Locker shared by every instance connected to the same Redis.
type Redis struct {
	client redis.UniversalClient
	cfg    RedisConfig
	log    zerolog.Logger
}

func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	return &Redis{client: client, cfg: cfg.withDefaults(), log: zerolog.Nop()}
}

// WithLogger reports keys that could not be released. Such a chain stays blocked until its TTL.
func (r *Redis) WithLogger(log zerolog.Logger) *Redis {
	r.log = log
	return r
}

func (r *Redis) key(k ledger.Key) string {
	return fmt.Sprintf("%s:%s:%s", r.cfg.Prefix, k.StoreID, k.ItemID)
}

// Lock acquires every key or none.
func (r *Redis) Lock(ctx context.Context, keys []ledger.Key) (func(), error) {
	token := uuid.NewString()
	sorted := ledger.SortKeys(keys)
	held := make([]string, 0, len(sorted))

	for _, k := range sorted {
		name := r.key(k)
		if err := r.acquire(ctx, name, token); err != nil {
			r.release(held, token)
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, name)
	}

	return func() { r.release(held, token) }, nil
}

func (r *Redis) acquire(ctx context.Context, name, token string) error {
	for i := 0; i < r.cfg.Attempts; i++ {
		ok, err := r.client.SetNX(ctx, name, token, r.cfg.TTL).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(r.cfg.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrLockTimeout
}

// release runs on a fresh context so a cancelled request still frees its keys.
func (r *Redis) release(names []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(names) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{names[i]}, token).Err(); err != nil {
			r.log.Warn().Err(err).
				Str("key", names[i]).
				Dur("ttl", r.cfg.TTL).
				Msg("chain lock release failed")
		}
	}
}
