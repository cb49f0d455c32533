package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/convolog/ingestd/internal/domain"
)

func openTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleState(path, hash string) *domain.RawLogState {
	return &domain.RawLogState{
		FilePath:            path,
		ContentHash:         hash,
		PartialHash:         hash,
		LastProcessedOffset: 1024,
		LastProcessedLine:   12,
		FileSizeBytes:       1024,
		ConversationRef:     "conv-1",
		ParserName:          "claude",
		ParserVersion:       "1.0.0",
	}
}

func TestStoreSaveAndGet(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	got, err := store.Get(ctx, "/logs/a.jsonl")
	require.NoError(t, err)
	assert.Nil(t, got, "untracked file must yield nil state")

	st := sampleState("/logs/a.jsonl", "hash-a")
	require.NoError(t, store.Save(ctx, st))

	got, err = store.Get(ctx, "/logs/a.jsonl")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hash-a", got.ContentHash)
	assert.Equal(t, int64(1024), got.LastProcessedOffset)
	assert.Equal(t, int64(12), got.LastProcessedLine)
	assert.Equal(t, "claude", got.ParserName)
	assert.False(t, got.UpdatedAt.IsZero(), "Save must stamp UpdatedAt")
}

func TestStoreSave_RejectsOffsetPastSize(t *testing.T) {
	store := NewStore(openTestDB(t))

	st := sampleState("/logs/a.jsonl", "hash-a")
	st.LastProcessedOffset = st.FileSizeBytes + 1

	err := store.Save(context.Background(), st)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestStoreGetByContentHash(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	got, err := store.GetByContentHash(ctx, "never-seen")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Save(ctx, sampleState("/logs/a.jsonl", "hash-a")))

	got, err = store.GetByContentHash(ctx, "hash-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/logs/a.jsonl", got.FilePath)
}

func TestStoreSave_ReplacesHashIndexEntry(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("/logs/a.jsonl", "hash-v1")))

	// The file was rewritten: same path, new content hash.
	updated := sampleState("/logs/a.jsonl", "hash-v2")
	require.NoError(t, store.Save(ctx, updated))

	got, err := store.GetByContentHash(ctx, "hash-v1")
	require.NoError(t, err)
	assert.Nil(t, got, "replaced hash must drop out of the index")

	got, err = store.GetByContentHash(ctx, "hash-v2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/logs/a.jsonl", got.FilePath)
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("/logs/a.jsonl", "hash-a")))
	require.NoError(t, store.Delete(ctx, "/logs/a.jsonl"))

	got, err := store.Get(ctx, "/logs/a.jsonl")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetByContentHash(ctx, "hash-a")
	require.NoError(t, err)
	assert.Nil(t, got, "delete must clear the hash index entry")

	// Deleting an untracked path is a no-op.
	require.NoError(t, store.Delete(ctx, "/logs/missing.jsonl"))
}

func TestStoreList(t *testing.T) {
	store := NewStore(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleState("/logs/a.jsonl", "hash-a")))
	require.NoError(t, store.Save(ctx, sampleState("/logs/b.jsonl", "hash-b")))

	states, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}
