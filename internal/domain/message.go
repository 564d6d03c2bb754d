package domain

import (
	"time"
)

// MessageRole identifies the author of a chat turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ContentType identifies what a message carries.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentMixed ContentType = "mixed"
)

// Message is one immutable chat turn. Messages are strictly ordered within
// a session by Seq; CreatedAt is informational only.
type Message struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	Seq              int64       `json:"-"`
	Role             MessageRole `json:"role"`
	ContentType      ContentType `json:"content_type"`
	TextContent      string      `json:"text_content,omitempty"`
	ImageURL         string      `json:"image_url,omitempty"`
	TokensUsed       int         `json:"tokens_used"`
	GenerationTimeMs int64       `json:"generation_time_ms,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// GeneratedImage records a successfully generated marketing image. It is
// produced by exactly one assistant message and never mutated afterwards.
type GeneratedImage struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	MessageID    string       `json:"message_id"`
	ImageURL     string       `json:"image_url"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	Format       string       `json:"format"`
	PromptUsed   string       `json:"prompt_used"`
	ModelUsed    string       `json:"model_used"`
	ImagePurpose ImagePurpose `json:"image_purpose"`
	CreatedAt    time.Time    `json:"created_at"`
}
