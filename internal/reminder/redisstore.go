package reminder

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the Redis set holding active reminder keys.
const DefaultRedisKey = "nordprices:active_reminders"

// RedisStore keeps active keys in a Redis set.
type RedisStore struct {
	cl  *redis.Client
	key string
}

// NewRedisStore creates a RedisStore from a redis:// URL and checks the connection.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	cl := redis.NewClient(opt)
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisStoreWithClient(cl, DefaultRedisKey), nil
}

// NewRedisStoreWithClient creates a RedisStore on an existing client.
func NewRedisStoreWithClient(cl *redis.Client, key string) *RedisStore {
	return &RedisStore{cl: cl, key: key}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.cl.Close()
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, key Key) error {
	if err := s.cl.SAdd(ctx, s.key, key.String()).Err(); err != nil {
		return fmt.Errorf("adding reminder: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, key Key) error {
	if err := s.cl.SRem(ctx, s.key, key.String()).Err(); err != nil {
		return fmt.Errorf("removing reminder: %w", err)
	}
	return nil
}

// Keys implements Store. Members that are not integers are ignored.
func (s *RedisStore) Keys(ctx context.Context) ([]Key, error) {
	members, err := s.cl.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}

	keys := make([]Key, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, Key(v))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Has implements Store.
func (s *RedisStore) Has(ctx context.Context, key Key) (bool, error) {
	ok, err := s.cl.SIsMember(ctx, s.key, key.String()).Result()
	if err != nil {
		return false, fmt.Errorf("looking up reminder: %w", err)
	}
	return ok, nil
}

// Prune implements Store.
func (s *RedisStore) Prune(ctx context.Context, now time.Time) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	var expired []any
	for _, k := range keys {
		if k.Time().Before(now) {
			expired = append(expired, k.String())
		}
	}
	if len(expired) == 0 {
		return nil
	}

	if err := s.cl.SRem(ctx, s.key, expired...).Err(); err != nil {
		return fmt.Errorf("pruning reminders: %w", err)
	}
	return nil
}
