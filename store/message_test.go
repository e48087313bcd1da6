package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDocStore counts persisted writes, to assert that idempotent
// repeats do not touch the disk again.
type countingDocStore struct {
	IDocStore
	mu     sync.Mutex
	writes int
}

func (c *countingDocStore) Update(ctx context.Context, fn func(doc *Document) (bool, error)) error {
	return c.IDocStore.Update(ctx, func(doc *Document) (bool, error) {
		changed, err := fn(doc)
		if changed && err == nil {
			c.mu.Lock()
			c.writes++
			c.mu.Unlock()
		}
		return changed, err
	})
}

func (c *countingDocStore) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func newTestMessageStore(t *testing.T) (IMessageStore, *countingDocStore) {
	t.Helper()
	docs := &countingDocStore{
		IDocStore: NewFileStore(filepath.Join(t.TempDir(), "db.json")),
	}
	return NewMessageStore(docs), docs
}

func mustAppend(t *testing.T, ms IMessageStore, from, to, content string, at time.Time) *Message {
	t.Helper()
	msg, err := ms.Append(context.Background(), &MessageDraft{
		From: from, To: to, Content: content, Timestamp: at,
	})
	require.NoError(t, err)
	return msg
}

func TestAppendAssignsIdAndState(t *testing.T) {
	ms, _ := newTestMessageStore(t)
	ctx := context.Background()

	msg, err := ms.Append(ctx, &MessageDraft{From: "u1", To: "u2", Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Delivered)
	assert.False(t, msg.Seen)
	assert.False(t, msg.Timestamp.IsZero())

	other, err := ms.Append(ctx, &MessageDraft{From: "u1", To: "u2", Content: "again"})
	require.NoError(t, err)
	assert.NotEqual(t, msg.ID, other.ID)

	stored, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	ms, docs := newTestMessageStore(t)
	ctx := context.Background()

	msg := mustAppend(t, ms, "u1", "u2", "hi", time.Time{})
	base := docs.writeCount()

	require.NoError(t, ms.MarkDelivered(ctx, msg.ID))
	assert.Equal(t, base+1, docs.writeCount())

	// Second call is a no-op without a write.
	require.NoError(t, ms.MarkDelivered(ctx, msg.ID))
	assert.Equal(t, base+1, docs.writeCount())

	stored, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Delivered)
}

func TestMarkDeliveredUnknownIdNoop(t *testing.T) {
	ms, docs := newTestMessageStore(t)
	mustAppend(t, ms, "u1", "u2", "hi", time.Time{})
	base := docs.writeCount()

	require.NoError(t, ms.MarkDelivered(context.Background(), "missing"))
	assert.Equal(t, base, docs.writeCount())
}

func TestMarkSeenDirectional(t *testing.T) {
	ms, docs := newTestMessageStore(t)
	ctx := context.Background()

	a := mustAppend(t, ms, "u1", "u2", "one", time.Time{})
	b := mustAppend(t, ms, "u1", "u2", "two", time.Time{})
	c := mustAppend(t, ms, "u2", "u1", "reply", time.Time{})

	require.NoError(t, ms.MarkSeen(ctx, "u1", "u2"))

	stored, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	byID := make(map[string]*Message)
	for _, m := range stored {
		byID[m.ID] = m
	}
	assert.True(t, byID[a.ID].Seen)
	assert.True(t, byID[b.ID].Seen)
	// The opposite direction is untouched: seen implies the message was
	// addressed to the acknowledging party.
	assert.False(t, byID[c.ID].Seen)

	// No matching unseen messages left: no write.
	base := docs.writeCount()
	require.NoError(t, ms.MarkSeen(ctx, "u1", "u2"))
	assert.Equal(t, base, docs.writeCount())
}

func TestConversationOrderAndSymmetry(t *testing.T) {
	ms, _ := newTestMessageStore(t)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	mustAppend(t, ms, "u1", "u2", "late", t0.Add(2*time.Minute))
	mustAppend(t, ms, "u2", "u1", "early", t0)
	mustAppend(t, ms, "u1", "u2", "middle", t0.Add(time.Minute))
	mustAppend(t, ms, "u1", "u3", "other conversation", t0)

	ab, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, ab, 3)
	for i := 1; i < len(ab); i++ {
		assert.False(t, ab[i].Timestamp.Before(ab[i-1].Timestamp))
	}
	assert.Equal(t, "early", ab[0].Content)

	ba, err := ms.Conversation(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, ab, ba)
}

func TestConversationUnknownPairEmpty(t *testing.T) {
	ms, _ := newTestMessageStore(t)
	mustAppend(t, ms, "u1", "u2", "hi", time.Time{})

	out, err := ms.Conversation(context.Background(), "u7", "u8")
	require.NoError(t, err)
	assert.Empty(t, out)

	// The identical pair is empty even when self-messages exist.
	mustAppend(t, ms, "u7", "u7", "note to self", time.Time{})
	out, err = ms.Conversation(context.Background(), "u7", "u7")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeleteMany(t *testing.T) {
	ms, docs := newTestMessageStore(t)
	ctx := context.Background()

	a := mustAppend(t, ms, "u1", "u2", "one", time.Time{})
	b := mustAppend(t, ms, "u1", "u2", "two", time.Time{})

	require.NoError(t, ms.DeleteMany(ctx, []string{a.ID, "missing"}))

	stored, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, b.ID, stored[0].ID)

	// Nothing matched: write is skipped.
	base := docs.writeCount()
	require.NoError(t, ms.DeleteMany(ctx, []string{"missing"}))
	assert.Equal(t, base, docs.writeCount())
}

// Two concurrent appends must both survive: the document store
// serializes every read-modify-write cycle.
func TestConcurrentAppendsNotLost(t *testing.T) {
	ms, _ := newTestMessageStore(t)
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

	stored, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.Len(t, stored, n)
}
