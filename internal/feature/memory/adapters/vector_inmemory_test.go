package adapters

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai_memory/internal/feature/memory/domain/entity"
	"ai_memory/internal/feature/memory/usecase"
)

var vectorNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func ltm(id, user string, age time.Duration, vec []float32) entity.Record {
	return entity.Record{
		ID:        id,
		Content:   "content of " + id,
		Embedding: vec,
		Timestamp: vectorNow.Add(-age),
		Type:      entity.LongTerm,
		Metadata:  map[string]any{entity.MetaUserID: user, entity.MetaAccessCount: 1},
	}
}

func TestVectorInMemory_SearchFiltersAndRanks(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Add(ctx,
		ltm("exact", "alice", 0, []float32{1, 0}),
		ltm("close", "alice", 0, []float32{0.8, 0.6}),
		ltm("far", "alice", 0, []float32{0, 1}),
		ltm("other-user", "bob", 0, []float32{1, 0}),
	))

	got, err := v.Search(ctx, []float32{1, 0}, 10, 0.7, entity.VectorFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exact", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
	assert.Equal(t, "close", got[1].ID)
	assert.InDelta(t, 0.8, got[1].Score, 1e-6)

	limited, err := v.Search(ctx, []float32{1, 0}, 1, 0, entity.VectorFilter{})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestVectorInMemory_UpdateKeepsEmbedding(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Add(ctx, ltm("a", "alice", 0, []float32{1, 0})))

	rec, err := v.Get(ctx, "a")
	require.NoError(t, err)
	rec.Metadata[entity.MetaAccessCount] = 5
	rec.Embedding = nil
	require.NoError(t, v.Update(ctx, *rec))

	got, err := v.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Embedding)
	assert.Equal(t, 5, got.Metadata[entity.MetaAccessCount])

	assert.ErrorIs(t, v.Update(ctx, ltm("missing", "alice", 0, nil)), usecase.ErrRecordNotFound)
	_, err = v.Get(ctx, "missing")
	assert.ErrorIs(t, err, usecase.ErrRecordNotFound)
}

func TestVectorInMemory_ReturnedRecordsAreDetached(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Add(ctx, ltm("a", "alice", 0, []float32{1, 0})))

	rec, err := v.Get(ctx, "a")
	require.NoError(t, err)
	rec.Metadata[entity.MetaAccessCount] = 99

	again, err := v.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Metadata[entity.MetaAccessCount])
}

func TestVectorInMemory_ListCountDelete(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Add(ctx,
		ltm("old", "alice", 2*time.Hour, nil),
		ltm("mid", "alice", time.Hour, nil),
		ltm("new", "alice", 0, nil),
		ltm("bob", "bob", 0, nil),
	))

	page, err := v.List(ctx, entity.VectorFilter{UserID: "alice"}, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "mid", page[0].ID)
	assert.Equal(t, "old", page[1].ID)

	past, err := v.List(ctx, entity.VectorFilter{}, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	n, err := v.Count(ctx, entity.VectorFilter{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = v.Count(ctx, entity.VectorFilter{Type: entity.ShortTerm})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, v.Delete(ctx, "old", "bob", "missing"))
	n, err = v.Count(ctx, entity.VectorFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestVectorInMemory_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "ltm.json")
	ctx := context.Background()

	v, err := NewVectorInMemory(path)
	require.NoError(t, err)
	require.NoError(t, v.Add(ctx, ltm("a", "alice", 0, []float32{0.6, 0.8})))
	require.NoError(t, v.Add(ctx, ltm("b", "alice", 0, []float32{1, 0})))
	require.NoError(t, v.Delete(ctx, "b"))

	reloaded, err := NewVectorInMemory(path)
	require.NoError(t, err)
	got, err := reloaded.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.6, 0.8}, got.Embedding)
	assert.Equal(t, "alice", got.UserID())
	assert.True(t, got.Timestamp.Equal(vectorNow))

	_, err = reloaded.Get(ctx, "b")
	assert.ErrorIs(t, err, usecase.ErrRecordNotFound)
}

func TestVectorInMemory_AddRequiresID(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	assert.ErrorIs(t, v.Add(context.Background(), entity.Record{Content: "x"}), usecase.ErrInvalidInput)
}

func TestVectorInMemory_Scan(t *testing.T) {
	v, err := NewVectorInMemory("")
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Add(ctx,
		ltm("new", "alice", 0, nil),
		ltm("mid", "alice", time.Hour, nil),
		ltm("old", "alice", 2*time.Hour, nil),
		ltm("bob", "bob", 0, nil),
	))

	var batches [][]string
	require.NoError(t, v.Scan(ctx, entity.VectorFilter{UserID: "alice"}, 2, func(recs []entity.Record) error {
		var ids []string
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		batches = append(batches, ids)
		return nil
	}))
	assert.Equal(t, [][]string{{"new", "mid"}, {"old"}}, batches)
}
