package chat

import (
	"strings"
)

// IntentDetector decides whether a converse turn should produce an image,
// revise the current one, or stay in plain conversation.
type IntentDetector struct {
	generateKeywords []string
	refineKeywords   []string
}

// defaultGenerateKeywords mark a turn as wanting a fresh image.
var defaultGenerateKeywords = []string{
	"generate", "create an image", "make an image", "draw",
	"show me", "design", "render", "visualize", "picture of",
}

// defaultRefineKeywords mark a turn as revising the current image.
var defaultRefineKeywords = []string{
	"change", "adjust", "instead", "make it", "make the",
	"more ", "less ", "darker", "lighter", "brighter",
	"remove", "add ", "replace", "fix", "tweak",
}

// NewIntentDetector creates a detector with the default keyword sets.
func NewIntentDetector() *IntentDetector {
	return &IntentDetector{
		generateKeywords: defaultGenerateKeywords,
		refineKeywords:   defaultRefineKeywords,
	}
}

// Detect resolves a converse turn to a concrete intent kind. A turn that
// reads like a revision only refines when the session already has an image;
// otherwise revision phrasing falls through to generation or plain chat.
func (d *IntentDetector) Detect(content string, hasImage bool) IntentKind {
	lower := strings.ToLower(content)

	if hasImage {
		for _, kw := range d.refineKeywords {
			if strings.Contains(lower, kw) {
				return IntentRefine
			}
		}
	}

	for _, kw := range d.generateKeywords {
		if strings.Contains(lower, kw) {
			return IntentGenerate
		}
	}

	return IntentChat
}
