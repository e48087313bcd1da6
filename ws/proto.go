package ws

import "github.com/duochat/duochat/store"

// SeenReq identifies the direction of a seen acknowledgment: all unseen
// messages from FromUserID to ToUserID.
type SeenReq struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
}

// ClientMsg is the union of all client requests. Exactly one field is
// set per message.
type ClientMsg struct {
	// Join binds the connection to the user's personal room.
	Join string `json:"join,omitempty"`

	// JoinChat switches the active conversation room.
	JoinChat string `json:"joinChat,omitempty"`

	// SendMessage appends a message and fans it out.
	SendMessage *store.MessageDraft `json:"sendMessage,omitempty"`

	// MarkSeen acknowledges all unseen messages in one direction.
	MarkSeen *SeenReq `json:"markSeen,omitempty"`
}

// ServerMsg is the union of all server pushes.
type ServerMsg struct {
	UserOnline  string `json:"userOnline,omitempty"`
	UserOffline string `json:"userOffline,omitempty"`

	// NewMessage carries the stored message to both personal rooms.
	NewMessage *store.Message `json:"newMessage,omitempty"`

	// MessageDelivered carries the delivered message's id to the sender.
	// Best-effort: it means a session was present in the recipient's room
	// at send time, not that the recipient's client acknowledged anything.
	MessageDelivered string `json:"messageDelivered,omitempty"`

	MessagesSeen *SeenReq `json:"messagesSeen,omitempty"`

	// RefreshChats hints the client to re-fetch conversation summaries.
	RefreshChats bool `json:"refreshChats,omitempty"`

	Error *Error `json:"error,omitempty"`
}

// Error is the wire form of a failed request.
type Error struct {
	Code   int      `json:"code"`
	Params []string `json:"params,omitempty"`
}
