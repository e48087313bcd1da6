package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDsn = "root:@tcp(127.0.0.1:3306)/duochat_test?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci"

const createMessagesTable = `CREATE TABLE IF NOT EXISTS messages (
	id VARCHAR(64) PRIMARY KEY,
	from_uid VARCHAR(64) NOT NULL,
	to_uid VARCHAR(64) NOT NULL,
	content TEXT NOT NULL,
	create_time DATETIME(6) NOT NULL,
	delivered TINYINT NOT NULL DEFAULT 0,
	seen TINYINT NOT NULL DEFAULT 0,
	INDEX (from_uid, to_uid),
	INDEX (create_time)
)`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("mysql", testDsn)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		t.Skipf("mysql not reachable: %v", err)
	}
	_, err = db.Exec(createMessagesTable)
	require.NoError(t, err)
	_, err = db.Exec("DELETE FROM messages")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLMessageStoreLifecycle(t *testing.T) {
	db := openTestDB(t)
	ms := NewSQLMessageStore(db)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first, err := ms.Append(ctx, &MessageDraft{From: "u1", To: "u2", Content: "hi", Timestamp: t0})
	require.NoError(t, err)
	second, err := ms.Append(ctx, &MessageDraft{From: "u2", To: "u1", Content: "hey", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)

	require.NoError(t, ms.MarkDelivered(ctx, first.ID))
	require.NoError(t, ms.MarkDelivered(ctx, first.ID)) // idempotent
	require.NoError(t, ms.MarkSeen(ctx, "u1", "u2"))

	out, err := ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, first.ID, out[0].ID)
	assert.True(t, out[0].Delivered)
	assert.True(t, out[0].Seen)
	assert.False(t, out[1].Seen)

	byUser, err := ms.ByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	require.NoError(t, ms.DeleteMany(ctx, []string{second.ID, "missing"}))
	out, err = ms.Conversation(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, first.ID, out[0].ID)
}
