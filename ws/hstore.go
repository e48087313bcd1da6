package ws

import "sync"

// memory handler store for live connections.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func (hs *HandlerStore) add(h *Handler) {
	hs.Lock()
	hs.handlers[h.session.SID] = h
	hs.Unlock()
}

func (hs *HandlerStore) del(sid string) bool {
	hs.Lock()
	defer hs.Unlock()
	if _, ok := hs.handlers[sid]; ok {
		delete(hs.handlers, sid)
		return true
	}
	return false
}

// others returns every live handler except the given one. Used for
// presence broadcasts.
func (hs *HandlerStore) others(except *Handler) []*Handler {
	hs.RLock()
	defer hs.RUnlock()

	var out []*Handler
	for _, h := range hs.handlers {
		if h != except {
			out = append(out, h)
		}
	}
	return out
}

func (hs *HandlerStore) size() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

func (hs *HandlerStore) close() {
	hs.RLock()
	defer hs.RUnlock()
	for _, h := range hs.handlers {
		h.close(ServerStop)
	}
}
