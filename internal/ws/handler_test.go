package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/alex-trdst/gemini-image-chat/internal/chat"
	"github.com/alex-trdst/gemini-image-chat/internal/domain"
)

// stubRepo is a minimal in-memory store.Repository for handler tests.
type stubRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	messages map[string][]*domain.Message
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]*domain.Message),
	}
}

func (r *stubRepo) CreateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *stubRepo) GetSession(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id], nil
}

func (r *stubRepo) ListSessions(context.Context, int, int, domain.SessionStatus) ([]*domain.Session, int, error) {
	return nil, 0, nil
}

func (r *stubRepo) DeleteSession(context.Context, string) (bool, error) { return false, nil }

func (r *stubRepo) AppendMessage(_ context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.Seq = int64(len(r.messages[msg.SessionID]) + 1)
	r.messages[msg.SessionID] = append(r.messages[msg.SessionID], msg)
	return nil
}

func (r *stubRepo) ListMessages(_ context.Context, sessionID string) ([]*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[sessionID], nil
}

func (r *stubRepo) SaveGeneratedImage(context.Context, *domain.GeneratedImage) error { return nil }
func (r *stubRepo) GetGeneratedImage(context.Context, string) (*domain.GeneratedImage, error) {
	return nil, nil
}
func (r *stubRepo) LatestGeneratedImage(context.Context, string) (*domain.GeneratedImage, error) {
	return nil, nil
}
func (r *stubRepo) BumpSessionCounters(context.Context, string, int, int, int, string) error {
	return nil
}
func (r *stubRepo) Ping(context.Context) error { return nil }
func (r *stubRepo) Close() error               { return nil }

// newTestServer wires a handler with no generation backend: the protocol
// accepts connections and answers generation requests with a typed error.
func newTestServer(t *testing.T) (*httptest.Server, *stubRepo) {
	t.Helper()

	repo := newStubRepo()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	engine := chat.NewEngine(repo, nil, nil)
	registry := chat.NewRegistry(ctx, repo, engine)
	t.Cleanup(registry.Close)

	handler := NewHandler(registry, NewConnManager(), "*", true)

	r := chi.NewRouter()
	r.Get("/ws/image-chat/{sessionID}", handler.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.Listener.Addr().String()+"/ws/image-chat/"+sessionID, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) chat.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, raw, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var frame chat.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return frame
}

func writeJSON(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

func TestHandlerRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/image-chat/no-such-session")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestHandlerConnectAck(t *testing.T) {
	srv, repo := newTestServer(t)
	_ = repo.CreateSession(context.Background(), &domain.Session{
		ID: "sess-1", ImagePurpose: domain.PurposeCustom, Status: domain.SessionActive,
	})

	conn := dialSession(t, srv, "sess-1")

	frame := readFrame(t, conn)
	if frame.Type != "status" || frame.Content != "connected" {
		t.Errorf("expected connected status frame, got %+v", frame)
	}
	if frame.Data["session_id"] != "sess-1" {
		t.Errorf("connect ack missing session id: %v", frame.Data)
	}
}

func TestHandlerValidationErrorKeepsConnection(t *testing.T) {
	srv, repo := newTestServer(t)
	_ = repo.CreateSession(context.Background(), &domain.Session{
		ID: "sess-1", ImagePurpose: domain.PurposeCustom, Status: domain.SessionActive,
	})

	conn := dialSession(t, srv, "sess-1")
	readFrame(t, conn) // connected ack

	writeJSON(t, conn, `{"type":"upload","content":"x"}`)
	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Data["code"] != "validation_error" {
		t.Fatalf("expected validation error frame, got %+v", frame)
	}

	// The connection survives the rejected frame.
	writeJSON(t, conn, `{"type":"generate","content":"a mug"}`)
	frame = readFrame(t, conn)
	if frame.Type != "error" || frame.Data["code"] != "not_configured" {
		t.Errorf("expected not_configured frame after rejected one, got %+v", frame)
	}
}

func TestHandlerWithoutBackendAnswersTypedError(t *testing.T) {
	srv, repo := newTestServer(t)
	_ = repo.CreateSession(context.Background(), &domain.Session{
		ID: "sess-1", ImagePurpose: domain.PurposeCustom, Status: domain.SessionActive,
	})

	conn := dialSession(t, srv, "sess-1")
	readFrame(t, conn) // connected ack

	writeJSON(t, conn, `{"type":"chat","content":"hello"}`)
	frame := readFrame(t, conn)
	if frame.Type != "error" || frame.Data["code"] != "not_configured" {
		t.Errorf("expected not_configured error frame, got %+v", frame)
	}
}
