package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "store:"

// SnapshotStore keeps each store's collection as a JSON string under "store:<key>",
// the same flat key/value layout a device-local storage would use.
type SnapshotStore struct {
	client *redis.Client
}

// NewSnapshotStore creates a Redis-backed SnapshotStore.
func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{client: client}
}

// LoadSnapshot decodes the value under key into dest. found is false for a missing key.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, snapshotKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read snapshot %s from Redis: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// SaveSnapshot overwrites the value under key. Snapshots never expire.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", key, err)
	}
	if err := s.client.Set(ctx, snapshotKeyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %s in Redis: %w", key, err)
	}
	return nil
}
