package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/drivuber/internal/chat"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// wsConn is the part of *websocket.Conn the hub writes through.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v any) error
	Close() error
}

// WSSession is one connected browser tab.
type WSSession struct {
	conn wsConn
	mu   sync.Mutex
}

func (s *WSSession) Send(e chat.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

// Hub fans chat events out to every tab a client has open.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, sessions: make(map[string]map[*WSSession]struct{})}
}

// Add registers conn under clientID and returns the func that removes it.
func (h *Hub) Add(clientID string, conn *websocket.Conn) (remove func()) {
	return h.add(clientID, conn)
}

func (h *Hub) add(clientID string, conn wsConn) func() {
	s := &WSSession{conn: conn}
	h.mu.Lock()
	if h.sessions[clientID] == nil {
		h.sessions[clientID] = make(map[*WSSession]struct{})
	}
	h.sessions[clientID][s] = struct{}{}
	h.mu.Unlock()
	return func() { h.drop(clientID, s) }
}

func (h *Hub) drop(clientID string, s *WSSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[clientID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, clientID)
	}
	_ = s.conn.Close()
}

// Send delivers e to every session of clientID. A session that fails to
// accept the write is dropped.
func (h *Hub) Send(clientID string, e chat.Event) error {
	h.mu.RLock()
	targets := make([]*WSSession, 0, len(h.sessions[clientID]))
	for s := range h.sessions[clientID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	for _, s := range targets {
		if err := s.Send(e); err != nil {
			h.logger.Warn("ws send error", "client_id", clientID, "error", err)
			h.drop(clientID, s)
		}
	}
	return nil
}

// Notifier adapts the hub to a chat.Notifier for one client. Events for a
// client with no open socket are simply dropped.
func (h *Hub) Notifier(clientID string) chat.Notifier {
	return chat.NotifierFunc(func(e chat.Event) {
		_ = h.Send(clientID, e)
	})
}

// Len reports the number of clients with at least one open session.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close drops every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.sessions {
		for s := range set {
			_ = s.conn.Close()
		}
		delete(h.sessions, id)
	}
}
