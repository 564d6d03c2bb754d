package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
	"github.com/alex-trdst/gemini-image-chat/internal/gemini"
)

func seedSession(t *testing.T, repo *fakeRepo, id string) {
	t.Helper()
	err := repo.CreateSession(context.Background(), &domain.Session{
		ID:           id,
		ImagePurpose: domain.PurposeInstagramSquare,
		Status:       domain.SessionActive,
	})
	if err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}
}

func TestWorkerProcessesInArrivalOrder(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-order")

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 16)
	gen := &fakeGenerator{
		chatFn: func(_ context.Context, req gemini.Request) (*gemini.Result, error) {
			mu.Lock()
			order = append(order, req.Prompt)
			mu.Unlock()
			done <- struct{}{}
			return &gemini.Result{Text: "ok", ModelUsed: "m"}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, gen, nil))
	defer registry.Close()

	worker, err := registry.Acquire(ctx, "sess-order")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	const n = 8
	for i := 0; i < n; i++ {
		intent := Intent{Kind: IntentChat, Content: fmt.Sprintf("turn %d", i)}
		if err := worker.Enqueue(ctx, intent, &fakeSender{}); err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for worker to drain")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		want := fmt.Sprintf("turn %d", i)
		if got != want {
			t.Errorf("turn %d processed out of order: got %q", i, got)
		}
	}

	// The persisted log reflects acceptance order too.
	msgs, _ := repo.ListMessages(ctx, "sess-order")
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Seq <= msgs[i-1].Seq {
			t.Errorf("message log out of order at index %d", i)
		}
	}
}

func TestWorkerSingleFlightPerSession(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-sf")

	var inFlight, maxInFlight atomic.Int32
	done := make(chan struct{}, 8)
	gen := &fakeGenerator{
		generateFn: func(context.Context, gemini.Request) (*gemini.Result, error) {
			cur := inFlight.Add(1)
			for {
				prev := maxInFlight.Load()
				if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			done <- struct{}{}
			return &gemini.Result{Image: &gemini.Image{MIME: "image/png", Data: []byte("x")}, ModelUsed: "m"}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, gen, nil))
	defer registry.Close()

	worker, err := registry.Acquire(ctx, "sess-sf")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	const n = 4
	for i := 0; i < n; i++ {
		if err := worker.Enqueue(ctx, Intent{Kind: IntentGenerate, Content: "img"}, &fakeSender{}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for generations")
		}
	}

	if got := maxInFlight.Load(); got != 1 {
		t.Errorf("expected at most 1 generation in flight per session, observed %d", got)
	}
}

func TestSessionsGenerateIndependently(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-a")
	seedSession(t, repo, "sess-b")

	var entered sync.WaitGroup
	entered.Add(2)
	release := make(chan struct{})
	done := make(chan struct{}, 2)
	gen := &fakeGenerator{
		generateFn: func(context.Context, gemini.Request) (*gemini.Result, error) {
			entered.Done()
			<-release
			done <- struct{}{}
			return &gemini.Result{Image: &gemini.Image{MIME: "image/png", Data: []byte("x")}, ModelUsed: "m"}, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, gen, nil))
	defer registry.Close()

	for _, id := range []string{"sess-a", "sess-b"} {
		worker, err := registry.Acquire(ctx, id)
		if err != nil {
			t.Fatalf("Acquire %s failed: %v", id, err)
		}
		if err := worker.Enqueue(ctx, Intent{Kind: IntentGenerate, Content: "img"}, &fakeSender{}); err != nil {
			t.Fatalf("Enqueue %s failed: %v", id, err)
		}
	}

	// Both sessions must reach the gateway concurrently.
	waited := make(chan struct{})
	go func() {
		entered.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("sessions did not generate concurrently")
	}

	close(release)
	<-done
	<-done
}

func TestWorkerEnqueueAfterClose(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-closed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, &fakeGenerator{}, nil))

	worker, err := registry.Acquire(ctx, "sess-closed")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	registry.Drop("sess-closed")

	// After Close the queue channel stays ready, so a naive select could
	// still accept a task into it; every attempt must report the closure.
	for i := 0; i < 32; i++ {
		err = worker.Enqueue(ctx, Intent{Kind: IntentChat, Content: "hi"}, &fakeSender{})
		if !errors.Is(err, ErrWorkerClosed) {
			t.Fatalf("enqueue %d: expected ErrWorkerClosed, got %v", i, err)
		}
	}
}

func TestRegistryUnknownSession(t *testing.T) {
	repo := newFakeRepo()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, &fakeGenerator{}, nil))
	defer registry.Close()

	_, err := registry.Acquire(ctx, "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryReconnectFindsSameWorker(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-re")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, &fakeGenerator{}, nil))
	defer registry.Close()

	first, err := registry.Acquire(ctx, "sess-re")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	second, err := registry.Acquire(ctx, "sess-re")
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if first != second {
		t.Error("reconnect must find the same worker")
	}
}

func TestRegistryHydratesStateFromLog(t *testing.T) {
	repo := newFakeRepo()
	seedSession(t, repo, "sess-hyd")

	img := &gemini.Image{MIME: "image/png", Data: []byte("persisted")}
	_ = repo.AppendMessage(context.Background(), &domain.Message{
		ID: "m1", SessionID: "sess-hyd", Role: domain.RoleUser,
		ContentType: domain.ContentText, TextContent: "make me a banner",
	})
	_ = repo.AppendMessage(context.Background(), &domain.Message{
		ID: "m2", SessionID: "sess-hyd", Role: domain.RoleAssistant,
		ContentType: domain.ContentImage, TextContent: "Image generated.", ImageURL: img.DataURL(),
	})
	_ = repo.SaveGeneratedImage(context.Background(), &domain.GeneratedImage{
		ID: "img-1", SessionID: "sess-hyd", MessageID: "m2", ImageURL: img.DataURL(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry := NewRegistry(ctx, repo, NewEngine(repo, &fakeGenerator{}, nil))
	defer registry.Close()

	worker, err := registry.Acquire(ctx, "sess-hyd")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	window := worker.State.Window()
	if len(window) != 2 {
		t.Fatalf("expected 2 hydrated turns, got %d", len(window))
	}
	if window[0].Role != "user" || window[1].Role != "model" {
		t.Errorf("unexpected roles: %q, %q", window[0].Role, window[1].Role)
	}
	if window[1].Image == nil || string(window[1].Image.Data) != "persisted" {
		t.Error("assistant image turn not rebuilt from the log")
	}

	last := worker.State.LastImage()
	if last == nil || last.ID != "img-1" {
		t.Fatalf("last image not hydrated: %+v", last)
	}
}

func TestStateWindowTrims(t *testing.T) {
	state := testState(domain.PurposeCustom)
	for i := 0; i < maxWindowTurns+6; i++ {
		state.AppendTurns(gemini.Turn{Role: "user", Text: fmt.Sprintf("turn %d", i)})
	}
	window := state.Window()
	if len(window) != maxWindowTurns {
		t.Fatalf("expected window capped at %d, got %d", maxWindowTurns, len(window))
	}
	if window[len(window)-1].Text != fmt.Sprintf("turn %d", maxWindowTurns+5) {
		t.Errorf("window must keep the newest turns, last is %q", window[len(window)-1].Text)
	}
}

func TestStateStaleUnbindIsNoop(t *testing.T) {
	state := testState(domain.PurposeCustom)
	state.Bind(1)
	state.Bind(2) // reconnect supersedes
	state.Unbind(1)
	if got := state.BoundConn(); got != 2 {
		t.Errorf("stale unbind must not clear the new binding, got %d", got)
	}
	state.Unbind(2)
	if got := state.BoundConn(); got != 0 {
		t.Errorf("expected no binding, got %d", got)
	}
}

func TestGenerationLockReleasedOnPanic(t *testing.T) {
	state := testState(domain.PurposeCustom)

	func() {
		defer func() { _ = recover() }()
		_ = state.WithGenerationLock(func() error { panic("boom") })
	}()

	acquired := make(chan struct{})
	go func() {
		_ = state.WithGenerationLock(func() error { return nil })
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("generation lock not released after panic")
	}
}
