package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

const (
	insertMessageSQL = "INSERT INTO messages (id, from_uid, to_uid, content, create_time, delivered, seen) VALUES (?,?,?,?,?,0,0)"
	markDeliveredSQL = "UPDATE messages SET delivered=1 WHERE id=? AND delivered=0"
	markSeenSQL      = "UPDATE messages SET seen=1 WHERE from_uid=? AND to_uid=? AND seen=0"
	conversationSQL  = "SELECT id, from_uid, to_uid, content, create_time, delivered, seen " +
		"FROM messages WHERE (from_uid=? AND to_uid=?) OR (from_uid=? AND to_uid=?) " +
		"ORDER BY create_time ASC"
	byUserSQL = "SELECT id, from_uid, to_uid, content, create_time, delivered, seen " +
		"FROM messages WHERE from_uid=? OR to_uid=?"
	deleteMessagesSQL = "DELETE FROM messages WHERE id IN (%s)"
)

// sqlMessageStore implements IMessageStore on MySQL. An alternative to
// the document backend for deployments that already run a database; the
// user list stays in the document store either way.
type sqlMessageStore struct {
	*sql.DB
}

func NewSQLMessageStore(db *sql.DB) IMessageStore {
	return &sqlMessageStore{db}
}

func (s *sqlMessageStore) withTx(ctx context.Context, exec func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorageUnavailable, err)
	}

	if err := exec(ctx, tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			glog.Errorf("failed to rollback: %v", err2)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *sqlMessageStore) Append(ctx context.Context, draft *MessageDraft) (*Message, error) {
	msg := &Message{
		ID:        uuid.New(),
		From:      draft.From,
		To:        draft.To,
		Content:   draft.Content,
		Timestamp: draft.Timestamp,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertMessageSQL,
			msg.ID, msg.From, msg.To, msg.Content, msg.Timestamp); err != nil {
			glog.Errorf("insert message exec err: %v", err)
			return fmt.Errorf("%w: insert message: %v", ErrStorageUnavailable, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *sqlMessageStore) MarkDelivered(ctx context.Context, id string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// Zero rows affected means unknown id or already delivered; both
		// are silent no-ops.
		if _, err := tx.ExecContext(ctx, markDeliveredSQL, id); err != nil {
			return fmt.Errorf("%w: mark delivered: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

func (s *sqlMessageStore) MarkSeen(ctx context.Context, fromUID, toUID string) error {
	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, markSeenSQL, fromUID, toUID); err != nil {
			return fmt.Errorf("%w: mark seen: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}

func (s *sqlMessageStore) Conversation(ctx context.Context, a, b string) ([]*Message, error) {
	if a == b {
		return nil, nil
	}

	out, err := s.query(ctx, conversationSQL, a, b, b, a)
	if err != nil {
		return nil, err
	}
	// The query orders by create_time already; keep the contract explicit
	// in case a backend loses the ORDER BY.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *sqlMessageStore) ByUser(ctx context.Context, uid string) ([]*Message, error) {
	return s.query(ctx, byUserSQL, uid, uid)
}

func (s *sqlMessageStore) query(ctx context.Context, q string, args ...interface{}) ([]*Message, error) {
	var out []*Message
	if err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			glog.Errorf("message query err: %v", err)
			return fmt.Errorf("%w: query messages: %v", ErrStorageUnavailable, err)
		}
		defer rows.Close()

		for rows.Next() {
			var m Message
			var delivered, seen byte
			if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content, &m.Timestamp, &delivered, &seen); err != nil {
				glog.Errorf("message scan err: %v", err)
				return fmt.Errorf("%w: scan message: %v", ErrStorageUnavailable, err)
			}
			m.Delivered = delivered > 0
			m.Seen = seen > 0
			out = append(out, &m)
		}
		return rows.Err()
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlMessageStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		q := fmt.Sprintf(deleteMessagesSQL, placeholders)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("%w: delete messages: %v", ErrStorageUnavailable, err)
		}
		return nil
	})
}
