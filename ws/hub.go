package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/duochat/duochat/auth"
	"github.com/duochat/duochat/store"
)

// Hub manages live connections and routes chat events between them.
// Each connection belongs to its personal room (after `join`) and to at
// most one conversation room.
type Hub struct {
	api        *ChatApi
	authClient auth.Client
	rooms      *RoomStore
	hstore     *HandlerStore

	// archiveC, when set, receives every stored message for side-channel
	// consumers. Sends never block the event path.
	archiveC chan<- *store.Message
}

// NewHub creates a Hub. authClient may be nil to accept unauthenticated
// upgrades; archiveC may be nil to disable archiving.
func NewHub(api *ChatApi, authClient auth.Client, archiveC chan<- *store.Message) *Hub {
	return &Hub{
		api:        api,
		authClient: authClient,
		rooms:      newRoomStore(),
		hstore: &HandlerStore{
			handlers: make(map[string]*Handler),
		},
		archiveC: archiveC,
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUID string
	if h.authClient != nil {
		uid, err := h.authClient.Auth(r)
		if err != nil {
			glog.Errorf("ServeHTTP(): authenticate error: %v", err)
			http.Error(w, "Authenticate error", http.StatusForbidden)
			return
		}
		authUID = uid
	}

	sess := &Session{
		SID:        strings.ReplaceAll(uuid.New(), "-", ""),
		AuthUID:    authUID,
		CreateTime: time.Now().Unix(),
		IP:         getRemoteIP(r),
	}

	// If the upgrade fails, Upgrade replies to the client with an HTTP
	// error response itself.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, sid: %s, err: %s", sess.SID, err)
		return
	}

	handler := &Handler{
		dataChan: make(chan *SessionData, 16),
		session:  sess,
		conn:     conn,
		hub:      h,
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.dropHandler(handler)
		return nil
	})

	h.hstore.add(handler)
	sessionsOnline.Inc()

	go handler.recvLoop()
	go handler.sendLoop()
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	glog.Infof("close connections ...")
	h.hstore.close()
	glog.Infof("close connections done")
}

// dropHandler removes a connection from every room and, for identified
// connections, broadcasts presence-offline. The broadcast fires even if
// other sessions of the same user remain live; multi-session presence
// is not tracked.
func (h *Hub) dropHandler(handler *Handler) {
	if !h.hstore.del(handler.session.SID) {
		return
	}
	sessionsOnline.Dec()

	uid, chatRoom := handler.roomState()
	if chatRoom != "" {
		h.rooms.leave(chatRoom, handler)
	}
	if uid == "" {
		return
	}
	h.rooms.leave(uid, handler)

	for _, other := range h.hstore.others(handler) {
		other.appendDataChan(&SessionData{ServerMsg: &ServerMsg{UserOffline: uid}})
	}
}

// join transitions the connection from Anonymous to Identified: it binds
// the personal room and broadcasts presence-online to everyone else.
func (h *Hub) join(handler *Handler, uid string) {
	if authUID := handler.session.AuthUID; authUID != "" && authUID != uid {
		glog.Errorf("join: uid %s does not match authenticated uid %s, session: %s",
			uid, authUID, handler)
		handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
			Error: newInvalidArgumentError("join: uid mismatch"),
		}})
		return
	}

	if prev := handler.setUID(uid); prev != "" {
		if prev == uid {
			return
		}
		h.rooms.leave(prev, handler)
	}
	h.rooms.join(uid, handler)

	glog.V(5).Infof("join: uid %s, session: %s", uid, handler)

	for _, other := range h.hstore.others(handler) {
		other.appendDataChan(&SessionData{ServerMsg: &ServerMsg{UserOnline: uid}})
	}
}

// joinChat switches the active conversation room. Personal room
// membership is untouched.
func (h *Hub) joinChat(handler *Handler, chatID string) {
	if prev := handler.setChatRoom(chatID); prev != "" && prev != chatID {
		h.rooms.leave(prev, handler)
	}
	h.rooms.join(chatID, handler)
	glog.V(5).Infof("joinChat: room %s, session: %s", chatID, handler)
}

// sendMessage appends the message, fans it out to both personal rooms
// and, when some session is present in the recipient's room right now,
// marks it delivered and confirms to the sender. Presence is a
// heuristic, not proof the recipient's client processed anything.
func (h *Hub) sendMessage(ctx context.Context, handler *Handler, draft *store.MessageDraft) {
	msg, werr := h.api.SendMessage(ctx, draft)
	if werr != nil {
		glog.Errorf("sendMessage error: %+v, session: %s", werr, handler)
		interceptError(werr)
		handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: werr}})
		return
	}
	messagesStored.Inc()

	h.emitRoom(msg.To, &ServerMsg{NewMessage: msg})
	if msg.From != msg.To {
		h.emitRoom(msg.From, &ServerMsg{NewMessage: msg})
	}

	if h.rooms.occupied(msg.To) {
		if werr := h.api.MarkDelivered(ctx, msg.ID); werr != nil {
			glog.Errorf("mark delivered error: %+v, id: %s", werr, msg.ID)
		} else {
			deliveryConfirms.Inc()
			h.emitRoom(msg.From, &ServerMsg{MessageDelivered: msg.ID})
		}
	}

	h.archive(msg)
}

// markSeen acknowledges all unseen messages from req.FromUserID to
// req.ToUserID and tells both parties to refresh.
func (h *Hub) markSeen(ctx context.Context, handler *Handler, req *SeenReq) {
	if werr := h.api.MarkSeen(ctx, req); werr != nil {
		glog.Errorf("markSeen error: %+v, session: %s", werr, handler)
		interceptError(werr)
		handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: werr}})
		return
	}

	for _, room := range []string{req.FromUserID, req.ToUserID} {
		h.emitRoom(room, &ServerMsg{MessagesSeen: req})
		h.emitRoom(room, &ServerMsg{RefreshChats: true})
	}
}

func (h *Hub) emitRoom(room string, msg *ServerMsg) {
	for _, m := range h.rooms.members(room) {
		m.appendDataChan(&SessionData{ServerMsg: msg})
	}
}

func (h *Hub) archive(msg *store.Message) {
	if h.archiveC == nil {
		return
	}
	select {
	case h.archiveC <- msg:
	default:
		glog.Warningf("archive buffer full, dropping message %s", msg.ID)
	}
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
