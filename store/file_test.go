package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreCreatesEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := NewFileStore(path)

	err := s.View(context.Background(), func(doc *Document) error {
		assert.Empty(t, doc.Users)
		assert.Empty(t, doc.Messages)
		return nil
	})
	require.NoError(t, err)

	// First access must have persisted the empty document.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestFileStoreUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(doc *Document) (bool, error) {
		doc.Users = append(doc.Users, &User{ID: "u1", Username: "alice"})
		return true, nil
	}))

	// A fresh store over the same file sees the mutation.
	s2 := NewFileStore(path)
	err := s2.View(ctx, func(doc *Document) error {
		require.Len(t, doc.Users, 1)
		assert.Equal(t, "alice", doc.Users[0].Username)
		return nil
	})
	require.NoError(t, err)
}

func TestFileStoreUnchangedSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := NewFileStore(path)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(doc *Document) (bool, error) {
		doc.Users = append(doc.Users, &User{ID: "u1"})
		return true, nil
	}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Update(ctx, func(doc *Document) (bool, error) {
		doc.Users = nil // mutation is dropped because changed=false
		return false, nil
	}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := NewFileStore(path)
	err := s.View(context.Background(), func(doc *Document) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptState))

	// Corrupt data must never be silently reset.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestFileStoreCallbackErrorAbortsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s := NewFileStore(path)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(doc *Document) (bool, error) {
		doc.Users = append(doc.Users, &User{ID: "u1"})
		return true, boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(doc *Document) error {
		assert.Empty(t, doc.Users)
		return nil
	}))
}
