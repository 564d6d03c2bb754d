// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
)

// Repository defines the interface for persisting sessions, messages,
// and generated images.
type Repository interface {
	// CreateSession persists a new chat session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by id. Returns (nil, nil) when it
	// does not exist.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions returns a page of sessions ordered by creation time
	// descending, plus the total count. status filters when non-empty.
	ListSessions(ctx context.Context, limit, offset int, status domain.SessionStatus) ([]*domain.Session, int, error)

	// DeleteSession removes a session and all of its messages and images.
	// Returns false when the session does not exist.
	DeleteSession(ctx context.Context, id string) (bool, error)

	// AppendMessage appends a message to a session's log. The message is
	// assigned the next sequence number for its session; ordering of
	// messages within a session is by sequence, never by wall clock.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns all messages of a session in append order.
	ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// SaveGeneratedImage records a successfully generated image.
	SaveGeneratedImage(ctx context.Context, img *domain.GeneratedImage) error

	// GetGeneratedImage retrieves an image by id. Returns (nil, nil) when
	// it does not exist.
	GetGeneratedImage(ctx context.Context, id string) (*domain.GeneratedImage, error)

	// LatestGeneratedImage returns a session's most recently generated
	// image, or (nil, nil) when the session has none.
	LatestGeneratedImage(ctx context.Context, sessionID string) (*domain.GeneratedImage, error)

	// BumpSessionCounters applies per-turn accounting to a session:
	// message/image/token counters and, when finalImageURL is non-empty,
	// the pointer to the most recent successful image.
	BumpSessionCounters(ctx context.Context, sessionID string, messages, images, tokens int, finalImageURL string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
