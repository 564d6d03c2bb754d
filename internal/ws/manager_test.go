package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// connPair is a connected server/client WebSocket pair for manager tests.
type connPair struct {
	server *websocket.Conn
	client *websocket.Conn
}

func newConnPair(t *testing.T) connPair {
	t.Helper()

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}

	select {
	case server := <-serverConns:
		pair := connPair{server: server, client: client}
		t.Cleanup(func() {
			_ = pair.client.Close(websocket.StatusNormalClosure, "")
			_ = pair.server.Close(websocket.StatusNormalClosure, "")
		})
		return pair
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server connection")
		return connPair{}
	}
}

func TestRegisterAndActive(t *testing.T) {
	m := NewConnManager()
	pair := newConnPair(t)

	id := m.Register("sess-1", pair.server)
	if id == 0 {
		t.Error("expected non-zero connection id")
	}
	if m.Active("sess-1") != pair.server {
		t.Error("Active must return the registered connection")
	}
	if m.Active("other") != nil {
		t.Error("Active must return nil for unknown sessions")
	}

	m.Unregister("sess-1", id)
	if m.Active("sess-1") != nil {
		t.Error("connection still active after unregister")
	}
}

func TestRegisterSupersedesPrevious(t *testing.T) {
	m := NewConnManager()
	old := newConnPair(t)
	replacement := newConnPair(t)

	oldID := m.Register("sess-1", old.server)
	newID := m.Register("sess-1", replacement.server)
	if newID == oldID {
		t.Error("superseding connection must get a fresh id")
	}
	if m.Active("sess-1") != replacement.server {
		t.Error("Active must return the newest connection")
	}

	// The superseded connection was closed server-side; its client
	// observes the close on the next read.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := old.client.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure of superseded connection, got %v", err)
	}

	// The old connection's deferred unregister must not evict the new one.
	m.Unregister("sess-1", oldID)
	if m.Active("sess-1") != replacement.server {
		t.Error("stale unregister evicted the live connection")
	}
}

func TestCloseSession(t *testing.T) {
	m := NewConnManager()
	pair := newConnPair(t)

	m.Register("sess-1", pair.server)
	m.CloseSession("sess-1")

	if m.Active("sess-1") != nil {
		t.Error("connection still active after CloseSession")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := pair.client.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %v", err)
	}
}
