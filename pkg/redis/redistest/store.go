// Package redistest provides an in-process stand-in for the Redis client.
package redistest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store is a map-backed key/value store with the key helpers of redis.Client.
// TTLs are recorded but never expire entries.
type Store struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration

	// Err, when set, is returned by every operation.
	Err error
}

func New() *Store {
	return &Store{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.values[key] = toString(value)
	s.ttls[key] = ttl
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	value, ok := s.values[key]
	if !ok {
		return "", goredis.Nil
	}
	return value, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = toString(value)
	s.ttls[key] = ttl
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for _, key := range keys {
		delete(s.values, key)
		delete(s.ttls, key)
	}
	return nil
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// TTL returns the ttl recorded for key.
func (s *Store) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

func (s *Store) IdempotencyKey(scope, id string) string {
	return buildKey("idempotency", scope, id)
}

func (s *Store) LockKey(scope string, parts ...string) string {
	return buildKey(append([]string{"lock", scope}, parts...)...)
}

func (s *Store) CacheKey(scope, id string) string {
	return buildKey("cache", scope, id)
}

// ErrUnavailable is a convenient value for Store.Err.
var ErrUnavailable = errors.New("redis unavailable")

func buildKey(parts ...string) string {
	return "sc:" + strings.Join(parts, ":")
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// DelIfValue deletes key only while it holds value.
func (s *Store) DelIfValue(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if current, ok := s.values[key]; !ok || current != value {
		return false, nil
	}
	delete(s.values, key)
	delete(s.ttls, key)
	return true, nil
}
