package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces presence keys in the shared store.
const KeyPrefix = "proxysync:presence:"

// deletes the key only while it still names the given instance
var removeIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// writes the key only while it is absent or already names the given
// instance; ARGV[2] is the ttl in milliseconds, 0 for none
var refreshIfOwner = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current ~= false and current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// Store maps a session id to the instance currently hosting it.
type Store struct {
	client *redis.Client // shared command connection
	ttl    time.Duration // 0 = entries never expire
	logger *slog.Logger
}

// NewStore wraps an existing Redis client. The caller owns the client.
func NewStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "presence"),
	}
}

func key(sessionID string) string {
	return KeyPrefix + sessionID
}

// Set records instanceID as the host of sessionID (last writer wins).
func (s *Store) Set(ctx context.Context, sessionID, instanceID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Set(ctx, key(sessionID), instanceID, s.ttl).Err(); err != nil {
		return fmt.Errorf("set presence %s: %w", sessionID, err)
	}
	return nil
}

// Refresh rewrites the entry and its ttl unless another instance has claimed
// sessionID since. It reports whether the entry now names instanceID.
func (s *Store) Refresh(ctx context.Context, sessionID, instanceID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	n, err := refreshIfOwner.Run(ctx, s.client, []string{key(sessionID)}, instanceID, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh presence %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// Remove deletes the entry for sessionID. Removing an absent entry is fine.
func (s *Store) Remove(ctx context.Context, sessionID string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("remove presence %s: %w", sessionID, err)
	}
	return nil
}

// RemoveIfOwner deletes the entry only if it still points at instanceID, so
// a session that already moved to another instance keeps its new entry.
func (s *Store) RemoveIfOwner(ctx context.Context, sessionID, instanceID string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	n, err := removeIfOwner.Run(ctx, s.client, []string{key(sessionID)}, instanceID).Int()
	if err != nil {
		return false, fmt.Errorf("remove owned presence %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// Get returns the hosting instance. ok is false when the host is unknown,
// which covers both a missing entry and a failed read.
func (s *Store) Get(ctx context.Context, sessionID string) (instanceID string, ok bool) {
	if s == nil || s.client == nil {
		return "", false
	}
	val, err := s.client.Get(ctx, key(sessionID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("presence_read_failed",
				"session_id", sessionID,
				"error", err,
			)
		}
		return "", false
	}
	return val, true
}

// Entries lists every presence entry as session id -> instance id.
func (s *Store) Entries(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string)
	if s == nil || s.client == nil {
		return results, nil
	}

	var cursor uint64
	for {
		// SCAN returns keys in batches without blocking the server
		keys, next, err := s.client.Scan(ctx, cursor, KeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("read presence batch: %w", err)
			}
			for i, k := range keys {
				// expired between SCAN and MGET
				v, ok := vals[i].(string)
				if !ok {
					continue
				}
				results[strings.TrimPrefix(k, KeyPrefix)] = v
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return results, nil
}
