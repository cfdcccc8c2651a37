package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB prepares an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "failed to initialize test database")
	require.NoError(t, db.AutoMigrate(&EndUserModel{}), "failed to migrate table")
	return db
}

func TestEndUserGorm_Upsert(t *testing.T) {
	repo := NewEndUserGorm(setupTestDB(t))
	ctx := context.Background()
	first := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(3 * time.Hour)

	require.NoError(t, repo.Upsert(ctx, "alice", first))
	require.NoError(t, repo.Upsert(ctx, "alice", later))
	require.NoError(t, repo.Upsert(ctx, "bob", first.Add(time.Hour)))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2, "upsert must not duplicate identifiers")

	assert.Equal(t, "alice", users[0].UserIdentifier)
	assert.True(t, users[0].LastActive.Equal(later), "last_active is refreshed")
	assert.True(t, users[0].CreatedAt.Equal(first), "created_at is kept")
	assert.Equal(t, "bob", users[1].UserIdentifier)
	assert.NotZero(t, users[0].ID)
}

func TestEndUserGorm_ListEmpty(t *testing.T) {
	repo := NewEndUserGorm(setupTestDB(t))

	users, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}
