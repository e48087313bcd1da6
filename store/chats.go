package store

import (
	"context"
	"sort"

	"github.com/golang/glog"
)

// UnknownUserName is shown when a conversation partner's account can no
// longer be resolved (deleted or unknown).
const UnknownUserName = "Unknown User"

// ChatSummary is one line of the recent-conversations view. Derived on
// every request, never persisted.
type ChatSummary struct {
	PartnerID   string `json:"partnerId"`
	PartnerName string `json:"partnerName"`
	LastMessage string `json:"lastMessage"`
	Timestamp   string `json:"timestamp"`
	UnreadCount int    `json:"unreadCount"`
}

// NameResolver resolves a user id to a display name. Implemented by the
// account store.
type NameResolver interface {
	Username(ctx context.Context, uid string) (string, error)
}

// RecentChats derives one summary per distinct conversation partner of
// uid, newest first. For each partner it keeps an online max of the
// latest message rather than sorting the group, and counts unseen
// messages addressed to uid as unread. Read only and safe to call
// concurrently.
func RecentChats(ctx context.Context, msgs IMessageStore, names NameResolver, uid string) ([]*ChatSummary, error) {
	involved, err := msgs.ByUser(ctx, uid)
	if err != nil {
		return nil, err
	}

	byPartner := make(map[string]*ChatSummary)
	latest := make(map[string]*Message)

	for _, m := range involved {
		partner := m.From
		if m.From == uid {
			partner = m.To
		}

		sum, ok := byPartner[partner]
		if !ok {
			sum = &ChatSummary{PartnerID: partner}
			byPartner[partner] = sum
		}

		if last, ok := latest[partner]; !ok || last.Timestamp.Before(m.Timestamp) {
			latest[partner] = m
		}

		if m.To == uid && !m.Seen {
			sum.UnreadCount++
		}
	}

	out := make([]*ChatSummary, 0, len(byPartner))
	for partner, sum := range byPartner {
		m := latest[partner]
		sum.LastMessage = m.Content
		sum.Timestamp = m.Timestamp.Format(timestampLayout)

		name, err := names.Username(ctx, partner)
		if err != nil || name == "" {
			if err != nil {
				glog.Warningf("recent chats: resolve partner %s: %v", partner, err)
			}
			name = UnknownUserName
		}
		sum.PartnerName = name
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		return latest[out[j].PartnerID].Timestamp.Before(latest[out[i].PartnerID].Timestamp)
	})
	return out, nil
}
