package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alex-trdst/gemini-image-chat/internal/store"
)

// ErrSessionNotFound is returned when a worker is requested for a session
// id the store does not know.
var ErrSessionNotFound = errors.New("session not found")

// ErrWorkerClosed is returned when enqueueing to a worker whose session was
// deleted or whose server is shutting down.
var ErrWorkerClosed = errors.New("session worker closed")

// queueSize bounds how many requests may wait behind an in-flight
// generation before enqueueing blocks the connection's read loop.
const queueSize = 64

type task struct {
	intent Intent
	sender Sender
}

// Worker is one session's serialized task loop: requests are processed
// strictly in arrival order, so at most one generation call is in flight
// per session and the message log gains turns in acceptance order. The
// worker outlives any single connection.
type Worker struct {
	State *State

	engine *Engine
	queue  chan task
	done   chan struct{}
	once   sync.Once
}

func newWorker(ctx context.Context, state *State, engine *Engine) *Worker {
	w := &Worker{
		State:  state,
		engine: engine,
		queue:  make(chan task, queueSize),
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case t := <-w.queue:
			w.engine.Handle(ctx, w.State, t.intent, t.sender)
		}
	}
}

// Enqueue queues an intent behind any in-flight request. The sender is
// captured now: if its connection dies before the turn completes, the
// frames are dropped but the outcome is still persisted.
func (w *Worker) Enqueue(ctx context.Context, intent Intent, sender Sender) error {
	select {
	case w.queue <- task{intent: intent, sender: sender}:
		// Close can race the send; a queued task behind a closed worker
		// will never run, so report the closure instead of accepting it.
		select {
		case <-w.done:
			return ErrWorkerClosed
		default:
			return nil
		}
	case <-w.done:
		return ErrWorkerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Queued tasks are discarded.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.done) })
}

// Registry owns the per-session workers, keyed by session id so that a
// reconnect finds the same logical state.
type Registry struct {
	repo    store.Repository
	engine  *Engine
	baseCtx context.Context

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewRegistry creates a worker registry. baseCtx is the server lifetime
// context: workers run on it, not on any connection's context, so a
// disconnect never cancels an in-flight generation.
func NewRegistry(baseCtx context.Context, repo store.Repository, engine *Engine) *Registry {
	return &Registry{
		repo:    repo,
		engine:  engine,
		baseCtx: baseCtx,
		workers: make(map[string]*Worker),
	}
}

// Acquire returns the worker for a session, hydrating its state from the
// store on first use. Returns ErrSessionNotFound for unknown session ids.
func (r *Registry) Acquire(ctx context.Context, sessionID string) (*Worker, error) {
	r.mu.Lock()
	if w, ok := r.workers[sessionID]; ok {
		r.mu.Unlock()
		return w, nil
	}
	r.mu.Unlock()

	session, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	state, err := newState(ctx, r.repo, session)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sessionID]; ok {
		// Lost the hydration race; the first worker wins.
		return w, nil
	}
	w := newWorker(r.baseCtx, state, r.engine)
	r.workers[sessionID] = w
	slog.Info("Session worker started", "session_id", sessionID)
	return w, nil
}

// Drop stops and forgets a session's worker. Called when the session is
// deleted.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.workers[sessionID]; ok {
		w.Close()
		delete(r.workers, sessionID)
		slog.Info("Session worker dropped", "session_id", sessionID)
	}
}

// Close stops all workers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.workers {
		w.Close()
		delete(r.workers, id)
	}
}
