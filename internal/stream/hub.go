// Package stream pushes engine events (ticker updates, order fills,
// alert notifications) to connected frontend sessions over websocket.
package stream

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"hydra_bot/pkg/logger"
)

type session struct {
	userID int64
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (s *session) write(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub tracks live sessions keyed by user. A user may hold several
// tabs, each one its own session.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64][]*session
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[int64][]*session),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and parks the connection until the peer
// goes away. The caller resolves userID from auth before calling.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	s := &session{userID: userID, conn: conn}

	h.mu.Lock()
	h.sessions[userID] = append(h.sessions[userID], s)
	h.mu.Unlock()

	go func() {
		defer h.drop(s)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *Hub) drop(s *session) {
	_ = s.conn.Close()
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.sessions[s.userID]
	for i, cur := range list {
		if cur == s {
			h.sessions[s.userID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.sessions[s.userID]) == 0 {
		delete(h.sessions, s.userID)
	}
}

// Broadcast sends one payload to every connected session.
func (h *Hub) Broadcast(payload interface{}) {
	msg, err := sonic.Marshal(payload)
	if err != nil {
		logger.Error("stream broadcast encode: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, list := range h.sessions {
		for _, s := range list {
			if err := s.write(msg); err != nil {
				logger.Debug("stream write: %v", err)
			}
		}
	}
}

// Direct sends one payload to a single user's sessions.
func (h *Hub) Direct(userID int64, payload interface{}) {
	msg, err := sonic.Marshal(payload)
	if err != nil {
		logger.Error("stream direct encode: %v", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions[userID] {
		if err := s.write(msg); err != nil {
			logger.Debug("stream write: %v", err)
		}
	}
}
