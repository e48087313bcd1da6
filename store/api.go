//go:generate mockgen -source=api.go -destination=mock/store.go -package=mock
package store

import (
	"context"
	"time"
)

// timestampLayout is the ISO-8601 form used whenever a timestamp leaves
// the store as a string.
const timestampLayout = time.RFC3339

// User is an account record. It is owned by the account package; the
// message side only reads it to resolve display names.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"` // bcrypt hash
}

// Message is one direct message between two users. Delivered and Seen are
// monotonic: once true they never go back to false.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Delivered bool      `json:"delivered"`
	Seen      bool      `json:"seen"`
}

// MessageDraft is the client supplied part of a message. The repository
// assigns the id and the initial delivery state.
type MessageDraft struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Document is the entire persisted state.
type Document struct {
	Users    []*User    `json:"users"`
	Messages []*Message `json:"messages"`
}

// IDocStore is the serialization boundary around the shared document.
// Both View and Update run their callback with exclusive access to the
// document, so a whole read-modify-write cycle is atomic with respect to
// any other caller. Update persists the document iff the callback returns
// changed=true and a nil error.
type IDocStore interface {
	View(ctx context.Context, fn func(doc *Document) error) error
	Update(ctx context.Context, fn func(doc *Document) (changed bool, err error)) error
	Close() error
}

// IMessageStore provides message operations.
type IMessageStore interface {
	// Append assigns a fresh id, initializes delivered=false seen=false,
	// persists and returns the stored message. from/to are NOT validated
	// against the user list: the account store is a separate concern.
	Append(ctx context.Context, draft *MessageDraft) (*Message, error)

	// MarkDelivered flips delivered on the given message. Unknown id or an
	// already delivered message is a silent no-op without a write.
	MarkDelivered(ctx context.Context, id string) error

	// MarkSeen flips seen on every unseen message from fromUID to toUID.
	// Writes only when at least one message changed.
	MarkSeen(ctx context.Context, fromUID, toUID string) error

	// Conversation returns all messages between a and b, either direction,
	// ordered by timestamp ascending. Equal timestamps are left in no
	// particular order.
	Conversation(ctx context.Context, a, b string) ([]*Message, error)

	// ByUser returns every message where uid is the sender or recipient.
	ByUser(ctx context.Context, uid string) ([]*Message, error)

	// DeleteMany removes all messages whose id is in ids. Ids that match
	// nothing are ignored; when nothing matched at all the write is skipped.
	DeleteMany(ctx context.Context, ids []string) error
}
