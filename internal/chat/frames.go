// Package chat implements the real-time image chat protocol: frame
// decoding, the per-session orchestration state machine, and the
// single-flight serialization of generation calls.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
)

// IntentKind enumerates the closed set of inbound request kinds.
type IntentKind int

const (
	IntentChat IntentKind = iota
	IntentGenerate
	IntentRefine
	IntentConverse
)

func (k IntentKind) String() string {
	switch k {
	case IntentChat:
		return "chat"
	case IntentGenerate:
		return "generate"
	case IntentRefine:
		return "refine"
	case IntentConverse:
		return "converse"
	}
	return "unknown"
}

// Intent is a decoded, validated inbound frame.
type Intent struct {
	Kind    IntentKind
	Content string
	Purpose domain.ImagePurpose // empty when the frame did not select one
	Style   domain.StylePreset  // empty when the frame did not select one
	ImageID string              // refine target, empty = session's last image
}

// ValidationError rejects a frame without touching session state or the
// message log. It never closes the connection.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// inboundFrame is the wire shape of a client request.
type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    struct {
		Purpose string `json:"purpose,omitempty"`
		Style   string `json:"style,omitempty"`
		ImageID string `json:"image_id,omitempty"`
	} `json:"data"`
}

// DecodeFrame parses and validates one inbound frame. Unknown kinds,
// missing content, and unrecognized purpose values are validation errors;
// an unrecognized style is ignored (the original wire behavior).
func DecodeFrame(raw []byte) (*Intent, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ValidationError{Msg: "malformed frame: invalid JSON"}
	}

	var kind IntentKind
	switch f.Type {
	case "chat":
		kind = IntentChat
	case "generate":
		kind = IntentGenerate
	case "refine":
		kind = IntentRefine
	case "converse":
		kind = IntentConverse
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown message type: %q", f.Type)}
	}

	if f.Content == "" {
		return nil, &ValidationError{Msg: "content is required"}
	}

	intent := &Intent{Kind: kind, Content: f.Content, ImageID: f.Data.ImageID}

	if f.Data.Purpose != "" {
		purpose, ok := domain.ParsePurpose(f.Data.Purpose)
		if !ok {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown purpose: %q", f.Data.Purpose)}
		}
		intent.Purpose = purpose
	}
	if f.Data.Style != "" {
		if style, ok := domain.ParseStyle(f.Data.Style); ok {
			intent.Style = style
		}
	}

	return intent, nil
}

// Frame is one outbound server message.
type Frame struct {
	Type      string         `json:"type"` // status, message, image, mixed, error
	Content   string         `json:"content,omitempty"`
	ImageURL  string         `json:"image_url,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Sender delivers outbound frames to whatever connection is bound to the
// request. Send errors mean the connection is gone; the engine logs and
// moves on, it never fails a request over an undeliverable frame.
type Sender interface {
	Send(frame Frame) error
}

func newFrame(frameType, content string) Frame {
	return Frame{
		Type:      frameType,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// StatusFrame builds a progress frame.
func StatusFrame(content string, data map[string]any) Frame {
	f := newFrame("status", content)
	f.Data = data
	return f
}

// ErrorFrame builds a typed error frame.
func ErrorFrame(code, content string) Frame {
	f := newFrame("error", content)
	f.Data = map[string]any{"code": code}
	return f
}

func statusFrame(content string) Frame {
	return StatusFrame(content, nil)
}

func errorFrame(code, content string) Frame {
	return ErrorFrame(code, content)
}
