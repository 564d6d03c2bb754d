package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
	"github.com/alex-trdst/gemini-image-chat/internal/gemini"
	"github.com/alex-trdst/gemini-image-chat/internal/store"
)

// maxWindowTurns caps the rolling context window handed to generation
// calls. Two turns per exchange, so ten exchanges of continuity.
const maxWindowTurns = 20

// LastImage is the session's pointer to its most recent successful image.
type LastImage struct {
	ID    string
	Image gemini.Image
}

// State holds the reconnect-durable, memory-resident facts of one logical
// conversation. It is keyed by session id, not connection id: a reconnect
// rebinds to the same State. Everything here is a cache over the message
// log, rebuilt from the store on first load.
type State struct {
	ID string

	mu        sync.Mutex
	purpose   domain.ImagePurpose
	style     domain.StylePreset
	brand     string
	window    []gemini.Turn
	lastImage *LastImage
	connID    uint64

	genMu sync.Mutex // single-flight generation lock
}

// newState hydrates a State from the persisted session and its message log.
func newState(ctx context.Context, repo store.Repository, session *domain.Session) (*State, error) {
	s := &State{
		ID:      session.ID,
		purpose: session.ImagePurpose,
		style:   session.StylePreset,
		brand:   session.BrandGuidelines,
	}

	messages, err := repo.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuild context window: %w", err)
	}
	for _, msg := range messages {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		turn := gemini.Turn{Role: role, Text: msg.TextContent}
		if msg.ImageURL != "" {
			if img, err := gemini.ParseDataURL(msg.ImageURL); err == nil {
				turn.Image = img
			}
		}
		s.window = append(s.window, turn)
	}
	s.trimWindow()

	img, err := repo.LatestGeneratedImage(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("rebuild last image: %w", err)
	}
	if img != nil {
		if decoded, err := gemini.ParseDataURL(img.ImageURL); err == nil {
			s.lastImage = &LastImage{ID: img.ID, Image: *decoded}
		}
	}

	return s, nil
}

// Bind marks connID as the connection currently owning this session.
func (s *State) Bind(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connID = connID
}

// Unbind clears the binding if connID still owns it. A stale unbind from a
// superseded connection is a no-op.
func (s *State) Unbind(connID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connID == connID {
		s.connID = 0
	}
}

// BoundConn returns the id of the currently bound connection, 0 if none.
func (s *State) BoundConn() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// WithGenerationLock runs fn while holding the session's single-flight
// generation lock. The lock is released on every exit path, panics included.
func (s *State) WithGenerationLock(fn func() error) error {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return fn()
}

// CurrentPurpose returns the session's selected purpose.
func (s *State) CurrentPurpose() domain.ImagePurpose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purpose
}

// CurrentStyle returns the session's selected style, empty when none.
func (s *State) CurrentStyle() domain.StylePreset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.style
}

// Select updates the purpose/style selection. Empty values keep the
// current selection.
func (s *State) Select(purpose domain.ImagePurpose, style domain.StylePreset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if purpose != "" {
		s.purpose = purpose
	}
	if style != "" {
		s.style = style
	}
}

// Brand returns the session's custom brand guidelines, empty for the default.
func (s *State) Brand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brand
}

// LastImage returns the session's most recent successful image, nil if the
// session has generated none.
func (s *State) LastImage() *LastImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastImage
}

// SetLastImage updates the last-successful-image pointer.
func (s *State) SetLastImage(img *LastImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastImage = img
}

// Window returns a copy of the rolling context window.
func (s *State) Window() []gemini.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gemini.Turn, len(s.window))
	copy(out, s.window)
	return out
}

// AppendTurns extends the rolling context window, trimming to the cap.
func (s *State) AppendTurns(turns ...gemini.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = append(s.window, turns...)
	s.trimWindow()
}

func (s *State) trimWindow() {
	if len(s.window) > maxWindowTurns {
		s.window = append([]gemini.Turn(nil), s.window[len(s.window)-maxWindowTurns:]...)
	}
}
