package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 128 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The node is expected to sit behind a reverse proxy that owns
		// origin policy.
		return true
	},
}

// Session describes one live connection.
type Session struct {
	SID        string `json:"sid"`
	AuthUID    string `json:"auth_uid,omitempty"` // from upgrade-time auth, may be empty
	UID        string `json:"uid,omitempty"`      // set by the join event
	CreateTime int64  `json:"create_time"`
	IP         string `json:"ip"`
}

// Handler manages an active connection to an end user. Every new
// websocket connection creates a new session.
type Handler struct {
	sync.Mutex

	hub *Hub

	session *Session
	conn    *websocket.Conn

	// chatRoom is the currently joined conversation room, if any.
	chatRoom string

	dataChan chan *SessionData

	closing bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error     SessionError `json:"error,omitempty"`
	ServerMsg *ServerMsg   `json:"resp,omitempty"`
}

func (h *Handler) String() string {
	h.Lock()
	defer h.Unlock()
	out, _ := json.Marshal(h.session)
	return string(out)
}

// setUID records the identified user id, returns the previous one.
func (h *Handler) setUID(uid string) string {
	h.Lock()
	defer h.Unlock()
	prev := h.session.UID
	h.session.UID = uid
	return prev
}

// setChatRoom records the active conversation room, returns the previous one.
func (h *Handler) setChatRoom(room string) string {
	h.Lock()
	defer h.Unlock()
	prev := h.chatRoom
	h.chatRoom = room
	return prev
}

// roomState returns the identified uid and active conversation room.
func (h *Handler) roomState() (uid, chatRoom string) {
	h.Lock()
	defer h.Unlock()
	return h.session.UID, h.chatRoom
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true

	if h.conn != nil {
		h.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
		h.conn.Close()
	}

	close(h.dataChan)
	h.Unlock()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		// Ask the hub to forget this handler and broadcast offline.
		h.hub.dropHandler(h)
	}
}

// appendDataChan never blocks: close() contends on the same lock, and a
// sendLoop stuck on the peer cannot drain the buffer. A connection whose
// buffer stays full is treated as a dead consumer and closed.
func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	select {
	case h.dataChan <- v:
		h.Unlock()
	default:
		h.Unlock()
		glog.Warningf("send buffer full, closing session: %s", h)
		h.close(WriteError)
	}
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, _ := json.Marshal(msg)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.closing {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.Errorf("recvLoop(): read error: %v", err)
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError("websocket only supports TextMessage"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError(fmt.Sprintf("unmarshal error: %v", err)),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if v := req.Join; v != "" {
			h.hub.join(h, v)
		} else if v := req.JoinChat; v != "" {
			h.hub.joinChat(h, v)
		} else if v := req.SendMessage; v != nil {
			h.hub.sendMessage(context.Background(), h, v)
		} else if v := req.MarkSeen; v != nil {
			h.hub.markSeen(context.Background(), h, v)
		} else {
			glog.Errorf("recvLoop(): unsupported request: %s", string(msg))
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError("unsupported request"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
		}
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h.String())
				return
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.ServerMsg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h.String(), err)
				h.appendDataChan(&SessionData{Error: WriteError})
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.appendDataChan(&SessionData{Error: PingError})
				return
			}
		}
	}
}
