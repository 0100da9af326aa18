package services

import (
	"context"
	"encoding/json"
	"sync"
)

// Snapshot keys of the persisted store layout.
const (
	snapshotQuotes        = "quotes"        // owner id -> []Quote
	snapshotConversations = "conversations" // []Conversation
	snapshotMessages      = "messages"      // conversation id -> []Message
	snapshotContacts      = "contacts"      // owner id -> []Contact
	snapshotListings      = "listings"      // []Listing
	snapshotReviews       = "reviews"       // []Review
	snapshotUsers         = "users"         // []User
)

// ISnapshotStore persists one store collection per key, reloaded verbatim on start.
// db.SnapshotStore and cache.SnapshotStore implement it.
type ISnapshotStore interface {
	LoadSnapshot(ctx context.Context, key string, dest any) (bool, error)
	SaveSnapshot(ctx context.Context, key string, v any) error
}

// MemorySnapshotStore keeps encoded snapshots in process memory.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{data: make(map[string][]byte)}
}

func (m *MemorySnapshotStore) LoadSnapshot(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *MemorySnapshotStore) SaveSnapshot(_ context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}
