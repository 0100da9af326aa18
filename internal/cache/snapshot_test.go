package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventmarket/server/internal/utils"
)

func TestSnapshotStore_RoundTrip(t *testing.T) {
	rdb := utils.SetupTestRedis(t, snapshotKeyPrefix+"test:contacts")
	store := NewSnapshotStore(rdb)
	ctx := context.Background()

	var empty []string
	found, err := store.LoadSnapshot(ctx, "test:contacts", &empty)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveSnapshot(ctx, "test:contacts", []string{"a", "b"}))

	var out []string
	found, err = store.LoadSnapshot(ctx, "test:contacts", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"a", "b"}, out)
}
