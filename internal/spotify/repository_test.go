package spotify

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playsched-go/internal/db"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return NewRepository(dbPair)
}

func TestRepository_SaveAndGetToken(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(time.Hour)

	token := &TokenPair{
		AccessToken:  "access-token-123",
		RefreshToken: "refresh-token-456",
		ExpiresAt:    expiresAt,
		TokenType:    "Bearer",
		Scope:        DefaultScope,
		CreatedAt:    now,
	}
	require.NoError(t, repo.SaveToken(ctx, token))

	fetched, err := repo.GetToken(ctx)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, "access-token-123", fetched.AccessToken)
	require.Equal(t, "refresh-token-456", fetched.RefreshToken)
	require.Equal(t, "Bearer", fetched.TokenType)
	require.Equal(t, DefaultScope, fetched.Scope)
	require.WithinDuration(t, expiresAt, fetched.ExpiresAt, time.Second)
	require.WithinDuration(t, now, fetched.CreatedAt, time.Second)
}

func TestRepository_GetToken_NotFound(t *testing.T) {
	repo := setupTestDB(t)

	token, err := repo.GetToken(context.Background())
	require.NoError(t, err)
	require.Nil(t, token)
}

func TestRepository_SaveToken_UpdateKeepsCreatedAt(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	created := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	require.NoError(t, repo.SaveToken(ctx, &TokenPair{
		AccessToken:  "first",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		TokenType:    "Bearer",
		CreatedAt:    created,
	}))
	require.NoError(t, repo.SaveToken(ctx, &TokenPair{
		AccessToken:  "second",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(2 * time.Hour),
		TokenType:    "Bearer",
		CreatedAt:    time.Now(),
	}))

	fetched, err := repo.GetToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", fetched.AccessToken)
	require.WithinDuration(t, created, fetched.CreatedAt, time.Second)
}

func TestRepository_DeleteToken(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.ErrorIs(t, repo.DeleteToken(ctx), sql.ErrNoRows)

	require.NoError(t, repo.SaveToken(ctx, &TokenPair{
		AccessToken: "a",
		ExpiresAt:   time.Now().Add(time.Hour),
		CreatedAt:   time.Now(),
	}))
	require.NoError(t, repo.DeleteToken(ctx))

	token, err := repo.GetToken(ctx)
	require.NoError(t, err)
	require.Nil(t, token)
}

func TestTokenPair_ExpiresWithin(t *testing.T) {
	token := &TokenPair{ExpiresAt: time.Now().Add(3 * time.Minute)}
	require.False(t, token.IsExpired())
	require.True(t, token.ExpiresWithin(tokenRefreshBuffer))
	require.False(t, token.ExpiresWithin(time.Minute))
}
