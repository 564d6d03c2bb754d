package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
	"github.com/alex-trdst/gemini-image-chat/internal/gemini"
	"github.com/alex-trdst/gemini-image-chat/internal/store"
)

const (
	codeValidation    = "validation_error"
	codePersistence   = "persistence_error"
	codeNotConfigured = "not_configured"
)

// Engine is the protocol state machine. For each accepted intent it
// persists the user turn, serializes the generation call behind the
// session's single-flight lock, persists the outcome, and emits one
// terminal frame after zero or more status frames.
type Engine struct {
	repo     store.Repository
	gen      gemini.Generator
	detector *IntentDetector
}

// NewEngine creates a protocol engine. gen may be nil when no API
// credential is configured; requests are then answered with an error frame.
func NewEngine(repo store.Repository, gen gemini.Generator, detector *IntentDetector) *Engine {
	if detector == nil {
		detector = NewIntentDetector()
	}
	return &Engine{repo: repo, gen: gen, detector: detector}
}

// Handle processes one accepted intent for a session. It never returns an
// error: every outcome is reported to the client as a frame, and the
// session stays usable afterwards.
func (e *Engine) Handle(ctx context.Context, state *State, intent Intent, sender Sender) {
	if e.gen == nil {
		e.send(state.ID, sender, errorFrame(codeNotConfigured, "image generation is not configured"))
		return
	}

	kind := intent.Kind
	if kind == IntentConverse {
		kind = e.detector.Detect(intent.Content, state.LastImage() != nil)
	}

	// Refine validation runs before anything is persisted or selected: a
	// rejected frame leaves the log, purpose, and style untouched.
	var prior *LastImage
	if kind == IntentRefine {
		var verr *ValidationError
		prior, verr = e.resolvePriorImage(ctx, state, intent.ImageID)
		if verr != nil {
			e.send(state.ID, sender, errorFrame(codeValidation, verr.Msg))
			return
		}
	}

	state.Select(intent.Purpose, intent.Style)

	// Persist the user turn first so history survives a failed generation.
	userText := intent.Content
	switch kind {
	case IntentGenerate:
		userText = "[image generation request] " + intent.Content
	case IntentRefine:
		userText = "[image refine request] " + intent.Content
	}
	if err := e.appendMessage(ctx, state.ID, domain.RoleUser, domain.ContentText, userText, "", 0, 0); err != nil {
		slog.Error("Failed to persist user turn", "session_id", state.ID, "error", err)
		e.send(state.ID, sender, errorFrame(codePersistence, "failed to persist message"))
		return
	}

	lockErr := state.WithGenerationLock(func() error {
		switch kind {
		case IntentChat:
			e.handleChat(ctx, state, intent, sender)
		case IntentGenerate:
			e.handleGenerate(ctx, state, intent, sender)
		case IntentRefine:
			e.handleRefine(ctx, state, intent, prior, sender)
		case IntentConverse:
			// Converse is resolved to a concrete kind above.
		}
		return nil
	})
	if lockErr != nil {
		slog.Error("Generation lock error", "session_id", state.ID, "error", lockErr)
	}
}

func (e *Engine) handleChat(ctx context.Context, state *State, intent Intent, sender Sender) {
	e.send(state.ID, sender, statusFrame("Generating response..."))

	result, err := e.gen.Chat(ctx, gemini.Request{
		Prompt:  intent.Content,
		Purpose: state.CurrentPurpose(),
		Style:   state.CurrentStyle(),
		Brand:   state.Brand(),
		Context: state.Window(),
	})
	if err != nil {
		e.sendUpstreamError(state.ID, sender, err)
		return
	}

	if err := e.appendMessage(ctx, state.ID, domain.RoleAssistant, domain.ContentText,
		result.Text, "", result.TokensUsed, result.Elapsed.Milliseconds()); err != nil {
		slog.Error("Failed to persist assistant turn", "session_id", state.ID, "error", err)
		e.send(state.ID, sender, errorFrame(codePersistence, "failed to persist response"))
		return
	}
	if err := e.repo.BumpSessionCounters(ctx, state.ID, 2, 0, result.TokensUsed, ""); err != nil {
		slog.Warn("Failed to update session counters", "session_id", state.ID, "error", err)
	}

	state.AppendTurns(
		gemini.Turn{Role: "user", Text: intent.Content},
		gemini.Turn{Role: "model", Text: result.Text},
	)

	frame := newFrame("message", result.Text)
	frame.Data = map[string]any{"generation_time_ms": result.Elapsed.Milliseconds()}
	e.send(state.ID, sender, frame)
}

func (e *Engine) handleGenerate(ctx context.Context, state *State, intent Intent, sender Sender) {
	e.send(state.ID, sender, statusFrame("Generating image..."))

	result, err := e.gen.Generate(ctx, gemini.Request{
		Prompt:  intent.Content,
		Purpose: state.CurrentPurpose(),
		Style:   state.CurrentStyle(),
		Brand:   state.Brand(),
		Context: state.Window(),
	})
	if err != nil {
		e.sendUpstreamError(state.ID, sender, err)
		return
	}

	e.finishImageTurn(ctx, state, result, "Image generated.", sender)
}

func (e *Engine) handleRefine(ctx context.Context, state *State, intent Intent, prior *LastImage, sender Sender) {
	e.send(state.ID, sender, statusFrame("Refining image..."))

	result, err := e.gen.Refine(ctx, gemini.Request{
		Prompt:     intent.Content,
		Purpose:    state.CurrentPurpose(),
		Style:      state.CurrentStyle(),
		Brand:      state.Brand(),
		Context:    state.Window(),
		PriorImage: &prior.Image,
	})
	if err != nil {
		e.sendUpstreamError(state.ID, sender, err)
		return
	}

	e.finishImageTurn(ctx, state, result, "Image refined.", sender)
}

// finishImageTurn persists the assistant turn and image record, updates the
// session's last-image pointer and context window, and emits the terminal
// image (or mixed) frame.
func (e *Engine) finishImageTurn(ctx context.Context, state *State, result *gemini.Result, fallbackText string, sender Sender) {
	text := result.Text
	contentType := domain.ContentImage
	if text != "" {
		contentType = domain.ContentMixed
	} else {
		text = fallbackText
	}

	imageURL := result.Image.DataURL()
	messageID := uuid.NewString()
	msg := &domain.Message{
		ID:               messageID,
		SessionID:        state.ID,
		Role:             domain.RoleAssistant,
		ContentType:      contentType,
		TextContent:      text,
		ImageURL:         imageURL,
		TokensUsed:       result.TokensUsed,
		GenerationTimeMs: result.Elapsed.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if err := e.repo.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to persist assistant turn", "session_id", state.ID, "error", err)
		e.send(state.ID, sender, errorFrame(codePersistence, "failed to persist response"))
		return
	}

	preset := domain.PresetFor(state.CurrentPurpose())
	imageRecord := &domain.GeneratedImage{
		ID:           uuid.NewString(),
		SessionID:    state.ID,
		MessageID:    messageID,
		ImageURL:     imageURL,
		Width:        preset.Width,
		Height:       preset.Height,
		Format:       gemini.FormatFromMIME(result.Image.MIME),
		PromptUsed:   result.PromptUsed,
		ModelUsed:    result.ModelUsed,
		ImagePurpose: state.CurrentPurpose(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.repo.SaveGeneratedImage(ctx, imageRecord); err != nil {
		slog.Error("Failed to persist generated image", "session_id", state.ID, "error", err)
		e.send(state.ID, sender, errorFrame(codePersistence, "failed to persist image"))
		return
	}
	if err := e.repo.BumpSessionCounters(ctx, state.ID, 2, 1, result.TokensUsed, imageURL); err != nil {
		slog.Warn("Failed to update session counters", "session_id", state.ID, "error", err)
	}

	state.SetLastImage(&LastImage{ID: imageRecord.ID, Image: *result.Image})
	state.AppendTurns(
		gemini.Turn{Role: "user", Text: result.PromptUsed},
		gemini.Turn{Role: "model", Image: result.Image},
	)

	frameType := "image"
	if contentType == domain.ContentMixed {
		frameType = "mixed"
	}
	frame := newFrame(frameType, text)
	frame.ImageURL = imageURL
	frame.Data = map[string]any{
		"image_id":           imageRecord.ID,
		"prompt_used":        result.PromptUsed,
		"model_used":         result.ModelUsed,
		"width":              preset.Width,
		"height":             preset.Height,
		"generation_time_ms": result.Elapsed.Milliseconds(),
	}
	e.send(state.ID, sender, frame)
}

// resolvePriorImage finds the image a refine turn revises: the explicit
// image_id when given, otherwise the session's last successful image.
func (e *Engine) resolvePriorImage(ctx context.Context, state *State, imageID string) (*LastImage, *ValidationError) {
	if imageID == "" {
		last := state.LastImage()
		if last == nil {
			return nil, &ValidationError{Msg: "refine requires a previously generated image"}
		}
		return last, nil
	}

	record, err := e.repo.GetGeneratedImage(ctx, imageID)
	if err != nil {
		slog.Error("Failed to load refine target", "session_id", state.ID, "image_id", imageID, "error", err)
		return nil, &ValidationError{Msg: "failed to load refine target image"}
	}
	if record == nil || record.SessionID != state.ID {
		return nil, &ValidationError{Msg: fmt.Sprintf("image not found in session: %s", imageID)}
	}
	img, err := gemini.ParseDataURL(record.ImageURL)
	if err != nil {
		return nil, &ValidationError{Msg: "refine target image is unreadable"}
	}
	return &LastImage{ID: record.ID, Image: *img}, nil
}

func (e *Engine) appendMessage(ctx context.Context, sessionID string, role domain.MessageRole, contentType domain.ContentType, text, imageURL string, tokens int, elapsedMs int64) error {
	return e.repo.AppendMessage(ctx, &domain.Message{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		Role:             role,
		ContentType:      contentType,
		TextContent:      text,
		ImageURL:         imageURL,
		TokensUsed:       tokens,
		GenerationTimeMs: elapsedMs,
		CreatedAt:        time.Now().UTC(),
	})
}

func (e *Engine) sendUpstreamError(sessionID string, sender Sender, err error) {
	kind := gemini.Classify(err)
	slog.Warn("Generation call failed", "session_id", sessionID, "kind", string(kind), "error", err)
	e.send(sessionID, sender, errorFrame(string(kind), "image generation failed: "+string(kind)))
}

// send delivers a frame, tolerating a dead connection: the result is
// already persisted, a reconnect will observe it through history.
func (e *Engine) send(sessionID string, sender Sender, frame Frame) {
	if sender == nil {
		return
	}
	if err := sender.Send(frame); err != nil {
		slog.Debug("Dropped frame for dead connection", "session_id", sessionID, "type", frame.Type, "error", err)
	}
}
