// Package ws supervises WebSocket connections for image chat sessions:
// accept, liveness, and binding a physical connection to a logical
// session worker.
package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// connIDs hands out process-unique connection identifiers.
var connIDs atomic.Uint64

type boundConn struct {
	id   uint64
	conn *websocket.Conn
}

// ConnManager tracks the live connection per session id. A session has at
// most one live connection: a newer connection supersedes the previous one,
// which is closed.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]boundConn
}

// NewConnManager creates a connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{active: make(map[string]boundConn)}
}

// Register binds conn as the live connection for a session, closing any
// previous one. Returns the new connection's id.
func (m *ConnManager) Register(sessionID string, conn *websocket.Conn) uint64 {
	id := connIDs.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.active[sessionID]; ok && existing.conn != conn {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "connection superseded")
		slog.Info("Connection superseded", "session_id", sessionID, "old_conn", existing.id, "new_conn", id)
	}

	m.active[sessionID] = boundConn{id: id, conn: conn}
	slog.Info("Connection registered", "session_id", sessionID, "conn_id", id)
	return id
}

// Unregister removes a connection binding if connID still owns it. A stale
// unregister from a superseded connection is a no-op.
func (m *ConnManager) Unregister(sessionID string, connID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current.id == connID {
		delete(m.active, sessionID)
		slog.Info("Connection unregistered", "session_id", sessionID, "conn_id", connID)
	}
}

// Active returns the live connection for a session, nil if none.
func (m *ConnManager) Active(sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if bound, ok := m.active[sessionID]; ok {
		return bound.conn
	}
	return nil
}

// CloseSession closes and forgets a session's connection. Called when the
// session is deleted.
func (m *ConnManager) CloseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bound, ok := m.active[sessionID]; ok {
		_ = bound.conn.Close(websocket.StatusNormalClosure, "session closed")
		delete(m.active, sessionID)
		slog.Info("Connection closed", "session_id", sessionID, "conn_id", bound.id)
	}
}
