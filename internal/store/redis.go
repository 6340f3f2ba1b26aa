package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Vovarama1992/chatcrm-relay/internal/relay"
)

// RedisClient is the subset of go-redis used by Redis.
type RedisClient interface {
	redis.Scripter
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration

	// LockTTL bounds how long a crashed holder can block a chat. A live
	// holder renews the lease every LockRenew until it unlocks.
	LockTTL   time.Duration
	LockRenew time.Duration
	LockRetry time.Duration
}

// Redis shares registration state, the session cache and per-chat locks
// between relay instances.
type Redis struct {
	cfg    RedisConfig
	client RedisClient
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// DialRedis connects and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: ping failed: %w", cfg.Address, err)
	}
	return NewRedis(client, cfg), nil
}

// NewRedis wraps an existing client.
func NewRedis(client RedisClient, cfg RedisConfig) *Redis {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockRenew <= 0 || cfg.LockRenew >= cfg.LockTTL {
		cfg.LockRenew = cfg.LockTTL / 3
	}
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 50 * time.Millisecond
	}
	return &Redis{cfg: cfg, client: client}
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(kind, chatID string) string {
	return r.cfg.Prefix + kind + ":" + chatID
}

func (r *Redis) GetRegistration(ctx context.Context, chatID string) (*relay.RegistrationState, error) {
	var st relay.RegistrationState
	ok, err := r.get(ctx, r.key("reg", chatID), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

func (r *Redis) PutRegistration(ctx context.Context, chatID string, st relay.RegistrationState) error {
	return r.put(ctx, r.key("reg", chatID), st)
}

func (r *Redis) DeleteRegistration(ctx context.Context, chatID string) error {
	return r.client.Del(ctx, r.key("reg", chatID)).Err()
}

func (r *Redis) GetSession(ctx context.Context, chatID string) (*relay.CacheEntry, error) {
	var e relay.CacheEntry
	ok, err := r.get(ctx, r.key("session", chatID), &e)
	if err != nil || !ok {
		return nil, err
	}
	return &e, nil
}

func (r *Redis) PutSession(ctx context.Context, chatID string, entry relay.CacheEntry) error {
	return r.put(ctx, r.key("session", chatID), entry)
}

func (r *Redis) DeleteSession(ctx context.Context, chatID string) error {
	return r.client.Del(ctx, r.key("session", chatID)).Err()
}

// Lock takes a SETNX lock with a random token, retrying until ctx ends.
func (r *Redis) Lock(ctx context.Context, chatID string) (func(), error) {
	key := r.key("lock", chatID)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock chat %s: %w", chatID, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(r.cfg.LockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("lock chat %s: %w", chatID, ctx.Err())
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's ctx may already be done.
			_ = releaseScript.Run(context.Background(), r.client, []string{key}, token).Err()
		})
	}, nil
}

// renew keeps the lease alive until stop closes or the lock is lost.
func (r *Redis) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(r.cfg.LockRenew)
	defer t.Stop()
	ttl := r.cfg.LockTTL.Milliseconds()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LockRenew)
		n, err := renewScript.Run(ctx, r.client, []string{key}, token, ttl).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

func (r *Redis) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, raw, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

var _ relay.Store = (*Redis)(nil)
