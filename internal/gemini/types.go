package gemini

import (
	"context"
	"time"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
)

// Image is raw generated image bytes plus their MIME type.
type Image struct {
	MIME string
	Data []byte
}

// Turn is one entry of a session's rolling conversation window, in the
// shape the backend consumes: "user" or "model" role, text and/or image.
type Turn struct {
	Role  string
	Text  string
	Image *Image
}

// Request carries everything a gateway call needs. Context holds the
// session's recent turns for conversational continuity; PriorImage is the
// image a refine call revises.
type Request struct {
	Prompt     string
	Purpose    domain.ImagePurpose
	Style      domain.StylePreset
	Brand      string // session brand guidelines, empty for the built-in default
	Context    []Turn
	PriorImage *Image
}

// Result is the uniform outcome of a successful gateway call.
type Result struct {
	Text       string
	Image      *Image
	PromptUsed string
	ModelUsed  string
	TokensUsed int
	Elapsed    time.Duration
}

// Generator is the generation gateway contract. Implementations impose a
// bounded timeout on every call and never retry; failed calls return an
// *UpstreamError describing the reason.
type Generator interface {
	// Chat answers a conversational turn with text only.
	Chat(ctx context.Context, req Request) (*Result, error)

	// Generate produces a new image from scratch.
	Generate(ctx context.Context, req Request) (*Result, error)

	// Refine revises req.PriorImage according to req.Prompt.
	Refine(ctx context.Context, req Request) (*Result, error)
}
