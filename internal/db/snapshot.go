package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const snapshotsCollection = "store_snapshots"

// snapshotDoc holds one store collection serialized verbatim as JSON.
type snapshotDoc struct {
	Key       string    `bson:"_id"`
	Payload   string    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SnapshotStore persists each store's flat keyed layout as one MongoDB document per key.
type SnapshotStore struct {
	coll *mongo.Collection
}

// NewSnapshotStore creates a SnapshotStore on the given database.
func NewSnapshotStore(db *mongo.Database) *SnapshotStore {
	return &SnapshotStore{coll: db.Collection(snapshotsCollection)}
}

// LoadSnapshot decodes the payload stored under key into dest.
// found is false when nothing was saved yet.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, key string, dest any) (bool, error) {
	var doc snapshotDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("error loading snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc.Payload), dest); err != nil {
		return false, fmt.Errorf("error decoding snapshot %s: %w", key, err)
	}
	return true, nil
}

// SaveSnapshot replaces the document stored under key.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error encoding snapshot %s: %w", key, err)
	}
	doc := snapshotDoc{Key: key, Payload: string(payload), UpdatedAt: time.Now().UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("error saving snapshot %s: %w", key, err)
	}
	return nil
}
