package sqlite

import (
	"context"
	"testing"

	"github.com/rpggio/overseer/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyRepository(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewAPIKeyRepository(db)

	require.NoError(t, repo.Add(ctx, "secret-token", "alice", "laptop"))

	principal, err := repo.ResolvePrincipal(ctx, "secret-token")
	require.NoError(t, err)
	require.Equal(t, "alice", principal)

	var lastUsed *string
	require.NoError(t, db.QueryRow(`SELECT last_used FROM api_keys WHERE key_hash = ?`, HashToken("secret-token")).Scan(&lastUsed))
	require.NotNil(t, lastUsed)

	_, err = repo.ResolvePrincipal(ctx, "wrong")
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = repo.Add(ctx, "secret-token", "bob", "")
	require.ErrorIs(t, err, repository.ErrConflict)

	require.Error(t, repo.Add(ctx, "", "bob", ""))
}

func TestHashTokenStable(t *testing.T) {
	require.Equal(t, HashToken("abc"), HashToken("abc"))
	require.NotEqual(t, HashToken("abc"), HashToken("abd"))
	require.Len(t, HashToken("abc"), 64)
}
