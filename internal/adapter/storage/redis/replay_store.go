package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayStore implements ports.ReplayGuard using Redis SET NX. Keys expire
// at twice the auth timestamp tolerance, after which a replayed event id
// is rejected by the timestamp check instead.
type ReplayStore struct {
	client *goredis.Client
	prefix string
}

// NewReplayStore creates a new Redis-backed replay guard.
func NewReplayStore(client *goredis.Client) *ReplayStore {
	return &ReplayStore{
		client: client,
		prefix: "authevent:",
	}
}

// CheckAndSet atomically checks if an event id was seen, recording it if
// not. Returns true if the id is new.
func (s *ReplayStore) CheckAndSet(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := s.prefix + eventID
	result, err := s.client.SetArgs(ctx, key, 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			// Key already exists — event id was already used
			return false, nil
		}
		return false, fmt.Errorf("redis replay check: %w", err)
	}
	return result == "OK", nil
}
