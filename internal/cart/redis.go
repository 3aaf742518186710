package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// removeScript decrements a hash field and deletes it at zero or below.
// Returns -1 when the field does not exist.
var removeScript = redis.NewScript(`
local q = redis.call('HGET', KEYS[1], ARGV[1])
if not q then
  return -1
end
q = tonumber(q) - tonumber(ARGV[2])
if q <= 0 then
  redis.call('HDEL', KEYS[1], ARGV[1])
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], q)
return q
`)

// RedisStore is a [Store] that keeps each cart in a Redis hash mapping item
// name to quantity. Hashes have no order, so lines are returned sorted by
// item name.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// Compile-time interface checks.
var (
	_ Store  = (*RedisStore)(nil)
	_ Pinger = (*RedisStore)(nil)
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires idle carts after ttl. Zero, the default, keeps carts
// forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the key prefix. Default is "cafevox".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a Redis-backed cart store using client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "cafevox"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenRedis parses a redis:// URL, connects and verifies the connection.
func OpenRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cart: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cart: ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

// Ping implements [Pinger].
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cart: ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":cart:" + userID
}

// Add implements [Store.Add].
func (s *RedisStore) Add(ctx context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	key := s.key(userID)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, item, int64(quantity))
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Cart{}, fmt.Errorf("cart: add: %w", err)
	}
	return s.Get(ctx, userID)
}

// Remove implements [Store.Remove].
func (s *RedisStore) Remove(ctx context.Context, userID, item string, quantity int) (Cart, error) {
	if err := validateLine(userID, item, quantity); err != nil {
		return Cart{}, err
	}

	remaining, err := removeScript.Run(ctx, s.client, []string{s.key(userID)}, item, quantity).Int()
	if err != nil {
		return Cart{}, fmt.Errorf("cart: remove: %w", err)
	}
	if remaining < 0 {
		return Cart{}, ErrItemNotFound
	}
	return s.Get(ctx, userID)
}

// Empty implements [Store.Empty].
func (s *RedisStore) Empty(ctx context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return Cart{}, fmt.Errorf("cart: empty: %w", err)
	}
	return emptyCart(userID), nil
}

// Get implements [Store.Get].
func (s *RedisStore) Get(ctx context.Context, userID string) (Cart, error) {
	if err := validateUser(userID); err != nil {
		return Cart{}, err
	}

	fields, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return Cart{}, fmt.Errorf("cart: get: %w", err)
	}

	c := emptyCart(userID)
	for name, raw := range fields {
		q, err := strconv.Atoi(raw)
		if err != nil || q <= 0 {
			continue
		}
		c.Items = append(c.Items, Item{Name: name, Quantity: q})
	}
	sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].Name < c.Items[j].Name })
	return c, nil
}
