package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormCheckpointStore_NeverMovesBack(t *testing.T) {
	db := newTestDatabase(t)
	store := NewGormCheckpointStore(db.DB)
	ctx := context.Background()

	last, err := store.Load(ctx, "kafka")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, store.Save(ctx, "kafka", 5))
	require.NoError(t, store.Save(ctx, "kafka", 3))
	last, err = store.Load(ctx, "kafka")
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)

	require.NoError(t, store.Save(ctx, "kafka", 9))
	last, err = store.Load(ctx, "kafka")
	require.NoError(t, err)
	assert.Equal(t, int64(9), last)

	// checkpoints are independent per name
	other, err := store.Load(ctx, "audit")
	require.NoError(t, err)
	assert.Zero(t, other)
}
