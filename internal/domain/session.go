package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a chat session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// ParseSessionStatus validates a status string.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch SessionStatus(s) {
	case SessionActive, SessionCompleted, SessionArchived:
		return SessionStatus(s), true
	}
	return "", false
}

// Session represents one logical marketing-image conversation.
// A session survives connection loss; its messages are the source of truth.
type Session struct {
	ID              string        `json:"id"`
	Title           string        `json:"title,omitempty"`
	ImagePurpose    ImagePurpose  `json:"image_purpose"`
	Status          SessionStatus `json:"status"`
	StylePreset     StylePreset   `json:"style_preset,omitempty"`
	BrandGuidelines string        `json:"brand_guidelines,omitempty"` // opaque JSON blob
	FinalImageURL   string        `json:"final_image_url,omitempty"`
	MessagesCount   int           `json:"messages_count"`
	ImagesGenerated int           `json:"images_generated"`
	TotalTokensUsed int           `json:"total_tokens_used"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasGeneratedImage reports whether the session produced at least one image.
func (s *Session) HasGeneratedImage() bool {
	return s.ImagesGenerated > 0
}
