package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/db"
	"github.com/jjudge-oj/accounts/types"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(conn, config.DriverSQLite))
	return conn
}

func TestRebind(t *testing.T) {
	query := `SELECT a FROM t WHERE b = ? AND c = ?`

	require.Equal(t, query, SQLite.Rebind(query))
	require.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = $2`, Postgres.Rebind(query))
}

func TestUserRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t), SQLite)

	created, err := repo.Create(ctx, types.User{
		Email:        "testuser@gmail.com",
		PasswordHash: "hash",
		FirstName:    "Test",
		LastName:     "User",
		IsActive:     true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	fetched, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "testuser@gmail.com", fetched.Email)
	require.Equal(t, "Test", fetched.FirstName)
	require.True(t, fetched.IsActive)
	require.False(t, fetched.IsStaff)
	require.Nil(t, fetched.LastLogin)

	byEmail, err := repo.GetByEmail(ctx, "TestUser@Gmail.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)

	fetched.FirstName = "New"
	fetched.IsStaff = true
	_, err = repo.Update(ctx, fetched)
	require.NoError(t, err)

	loginAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.TouchLastLogin(ctx, created.ID, loginAt))

	reloaded, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "New", reloaded.FirstName)
	require.True(t, reloaded.IsStaff)
	require.NotNil(t, reloaded.LastLogin)
	require.True(t, loginAt.Equal(*reloaded.LastLogin))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUserRepositoryEmailUniqueIgnoresCase(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t), SQLite)

	_, err := repo.Create(ctx, types.User{Email: "dup@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)

	_, err = repo.Create(ctx, types.User{Email: "DUP@example.com", PasswordHash: "x", IsActive: true})
	require.ErrorIs(t, err, ErrConflict)

	other, err := repo.Create(ctx, types.User{Email: "other@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)

	other.Email = "Dup@Example.com"
	_, err = repo.Update(ctx, other)
	require.ErrorIs(t, err, ErrConflict)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUserRepositoryNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(openTestDB(t), SQLite)

	_, err := repo.GetByID(ctx, 42)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Update(ctx, types.User{ID: 42, Email: "nobody@example.com"})
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, repo.TouchLastLogin(ctx, 42, time.Now()), ErrNotFound)
}

func TestTokenRepositoryReplace(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	users := NewUserRepository(conn, SQLite)
	tokens := NewTokenRepository(conn, SQLite)

	user, err := users.Create(ctx, types.User{Email: "t@example.com", PasswordHash: "x", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, tokens.Replace(ctx, types.AuthToken{Digest: "first", UserID: user.ID}))

	got, err := tokens.GetByDigest(ctx, "first")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.UserID)
	require.Nil(t, got.ExpiresAt)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, tokens.Replace(ctx, types.AuthToken{Digest: "second", UserID: user.ID, ExpiresAt: &expires}))

	_, err = tokens.GetByDigest(ctx, "first")
	require.ErrorIs(t, err, ErrNotFound, "replacing drops the previous token")

	got, err = tokens.GetByDigest(ctx, "second")
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	require.True(t, expires.Equal(*got.ExpiresAt))

	require.NoError(t, tokens.DeleteByUser(ctx, user.ID))
	_, err = tokens.GetByDigest(ctx, "second")
	require.ErrorIs(t, err, ErrNotFound)
}
