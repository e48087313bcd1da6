package account

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duochat/duochat/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(store.NewFileStore(filepath.Join(t.TempDir(), "db.json")))
}

func TestCreateAndLogin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uid, err := s.Create(ctx, "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, uid)

	user, err := s.Login(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, uid, user.ID)
	assert.Equal(t, "alice", user.Username)
	// The hash never leaves the store.
	assert.Empty(t, user.Password)

	_, err = s.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.Login(ctx, "nobody@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestFindByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uid, err := s.Create(ctx, "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	user, err := s.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, uid, user.ID)
	assert.NotEmpty(t, user.Password)

	user, err = s.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestCreateDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "alice", "alice@example.com", "s3cret")
	require.NoError(t, err)

	_, err = s.Create(ctx, "impostor", "alice@example.com", "other")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "alice", "alice@example.com", "x")
	require.NoError(t, err)
	_, err = s.Create(ctx, "bob", "bob@example.com", "x")
	require.NoError(t, err)

	out, err := s.Search(ctx, "ALI")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Username)
	assert.Empty(t, out[0].Password)

	out, err = s.Search(ctx, "example.com")
	require.NoError(t, err)
	assert.Len(t, out, 2)

	out, err = s.Search(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uid, err := s.Create(ctx, "alice", "alice@example.com", "x")
	require.NoError(t, err)

	name, err := s.Username(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	name, err = s.Username(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, name)
}
