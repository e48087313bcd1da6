package store

import (
	"context"
	"sort"
	"time"

	"github.com/pborman/uuid"
)

// messageStore implements IMessageStore on top of an IDocStore. Every
// operation is one View/Update cycle over the shared document.
type messageStore struct {
	docs IDocStore
}

func NewMessageStore(docs IDocStore) IMessageStore {
	return &messageStore{docs: docs}
}

func (s *messageStore) Append(ctx context.Context, draft *MessageDraft) (*Message, error) {
	msg := &Message{
		ID:        uuid.New(),
		From:      draft.From,
		To:        draft.To,
		Content:   draft.Content,
		Timestamp: draft.Timestamp,
		Delivered: false,
		Seen:      false,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if err := s.docs.Update(ctx, func(doc *Document) (bool, error) {
		doc.Messages = append(doc.Messages, msg)
		return true, nil
	}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *messageStore) MarkDelivered(ctx context.Context, id string) error {
	return s.docs.Update(ctx, func(doc *Document) (bool, error) {
		for _, m := range doc.Messages {
			if m.ID == id {
				if m.Delivered {
					return false, nil
				}
				m.Delivered = true
				return true, nil
			}
		}
		// Unknown id: the message may have been deleted since it was sent.
		return false, nil
	})
}

func (s *messageStore) MarkSeen(ctx context.Context, fromUID, toUID string) error {
	return s.docs.Update(ctx, func(doc *Document) (bool, error) {
		var changed bool
		for _, m := range doc.Messages {
			if m.From == fromUID && m.To == toUID && !m.Seen {
				m.Seen = true
				changed = true
			}
		}
		return changed, nil
	})
}

func (s *messageStore) Conversation(ctx context.Context, a, b string) ([]*Message, error) {
	if a == b {
		return nil, nil
	}

	var out []*Message
	if err := s.docs.View(ctx, func(doc *Document) error {
		for _, m := range doc.Messages {
			if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
				out = append(out, m)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *messageStore) ByUser(ctx context.Context, uid string) ([]*Message, error) {
	var out []*Message
	if err := s.docs.View(ctx, func(doc *Document) error {
		for _, m := range doc.Messages {
			if m.From == uid || m.To == uid {
				out = append(out, m)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *messageStore) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	return s.docs.Update(ctx, func(doc *Document) (bool, error) {
		kept := doc.Messages[:0]
		for _, m := range doc.Messages {
			if _, ok := idSet[m.ID]; !ok {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(doc.Messages) {
			return false, nil
		}
		doc.Messages = kept
		return true, nil
	})
}
