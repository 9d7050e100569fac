package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types sent to the UI.
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Event is one UI notification about a turn.
type Event struct {
	Type      string `json:"type"`
	ThreadID  uint   `json:"thread_id"`
	Content   string `json:"content,omitempty"`
	MessageID uint   `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher delivers events to an owner's UI. Delivery is best effort.
type Publisher interface {
	Publish(userID uint, ev Event) bool
}

// writeWait bounds one frame write. A client slower than this loses its
// connection instead of stalling the turn that publishes to it.
const writeWait = 5 * time.Second

// Conn is the subset of *websocket.Conn the manager writes to.
type Conn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type client struct {
	conn Conn
	mu   sync.Mutex
}

// ConnectionManager manages WebSocket connections, one per user.
type ConnectionManager struct {
	connections map[uint]*client
	mu          sync.RWMutex
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[uint]*client),
	}
}

// Add registers conn for a user, closing any connection it replaces.
func (m *ConnectionManager) Add(userID uint, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.connections[userID]; ok && old.conn != conn {
		old.conn.Close()
	}
	m.connections[userID] = &client{conn: conn}
}

// Remove closes and forgets conn if it is still the user's connection.
func (m *ConnectionManager) Remove(userID uint, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[userID]; ok && c.conn == conn {
		c.conn.Close()
		delete(m.connections, userID)
	}
}

// Connected reports whether the user has a live connection.
func (m *ConnectionManager) Connected(userID uint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[userID]
	return ok
}

// Publish sends ev as a JSON text frame.
func (m *ConnectionManager) Publish(userID uint, ev Event) bool {
	m.mu.RLock()
	c, ok := m.connections[userID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return false
	}

	c.mu.Lock()
	err = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err == nil {
		err = c.conn.WriteMessage(websocket.TextMessage, payload)
	}
	c.mu.Unlock()
	if err != nil {
		m.Remove(userID, c.conn)
		return false
	}
	return true
}

var _ Publisher = (*ConnectionManager)(nil)
