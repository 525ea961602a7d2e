// Package freshness remembers which entities were refreshed recently so a
// rerun within the window can skip them.
package freshness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"marketrefresh/internal/clock"
)

const (
	DefaultTTL    = 12 * time.Hour
	DefaultPrefix = "marketrefresh:fresh"
)

// ErrMiss is returned by a KV when a key does not exist
var ErrMiss = errors.New("freshness: key not found")

// KV is the key-value storage a Tracker keeps its stamps in
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// stamp is the stored value for one refreshed entity
type stamp struct {
	RefreshedAt int64  `msgpack:"t"`
	Kind        string `msgpack:"k"`
}

// Tracker implements refresh.FreshnessChecker
type Tracker struct {
	kv     KV
	ttl    time.Duration
	prefix string
	clock  clock.Clock
}

// Option customizes a Tracker
type Option func(*Tracker)

// WithClock sets the time source for stamps
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithPrefix sets the key prefix
func WithPrefix(p string) Option {
	return func(t *Tracker) { t.prefix = p }
}

// New creates a tracker; a non-positive ttl means DefaultTTL
func New(kv KV, ttl time.Duration, opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{kv: kv, ttl: ttl, prefix: DefaultPrefix, clock: clock.System{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) key(kind, key string) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, kind, key)
}

// IsFresh reports whether kind/key was marked within the TTL
func (t *Tracker) IsFresh(ctx context.Context, kind, key string) (bool, error) {
	data, err := t.kv.Get(ctx, t.key(kind, key))
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("freshness lookup: %w", err)
	}

	var s stamp
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return false, fmt.Errorf("freshness decode: %w", err)
	}
	age := t.clock.Now().Sub(time.UnixMilli(s.RefreshedAt))
	return age >= 0 && age < t.ttl, nil
}

// Mark records kind/key as refreshed now
func (t *Tracker) Mark(ctx context.Context, kind, key string) error {
	data, err := msgpack.Marshal(stamp{RefreshedAt: t.clock.Now().UnixMilli(), Kind: kind})
	if err != nil {
		return fmt.Errorf("freshness encode: %w", err)
	}
	if err := t.kv.Set(ctx, t.key(kind, key), data, t.ttl); err != nil {
		return fmt.Errorf("freshness store: %w", err)
	}
	return nil
}

// RedisConfig locates the Redis server
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Redis is a KV backed by a Redis server
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Get implements KV
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

// Set implements KV
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Ping checks the connection
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection pool
func (r *Redis) Close() error {
	return r.client.Close()
}
