package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Hub fans reconciler notifications out to every connected UI client. A
// single user session may hold several connections (tabs, devices).
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{clients: make(map[*Client]struct{}), log: log}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Broadcast pushes a JSON payload to every client. Slow consumers are
// dropped rather than allowed to back up the caller.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Warnw("broadcast marshal failed", "error", err)
		return
	}
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.Unregister(c)
		c.close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
