package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "duochat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStoreRoundtrip(t *testing.T) {
	s := newTestBoltStore(t)
	ctx := context.Background()

	require.NoError(t, s.View(ctx, func(doc *Document) error {
		assert.Empty(t, doc.Messages)
		return nil
	}))

	require.NoError(t, s.Update(ctx, func(doc *Document) (bool, error) {
		doc.Messages = append(doc.Messages, &Message{ID: "m1", From: "u1", To: "u2"})
		return true, nil
	}))

	require.NoError(t, s.View(ctx, func(doc *Document) error {
		require.Len(t, doc.Messages, 1)
		assert.Equal(t, "m1", doc.Messages[0].ID)
		return nil
	}))
}

func TestBoltStoreConcurrentUpdates(t *testing.T) {
	s := newTestBoltStore(t)
	ms := NewMessageStore(s)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ms.Append(ctx, &MessageDraft{From: "u1", To: "u2", Content: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	out, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, out, n)
}
