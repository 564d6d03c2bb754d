package chat

import "testing"

func TestIntentDetector(t *testing.T) {
	d := NewIntentDetector()

	tests := []struct {
		name     string
		content  string
		hasImage bool
		want     IntentKind
	}{
		{"plain question", "what size works best for instagram?", false, IntentChat},
		{"generate verb", "Generate a product shot of our mug", false, IntentGenerate},
		{"draw phrasing", "could you draw a city skyline", false, IntentGenerate},
		{"show me phrasing", "show me a minimalist banner", false, IntentGenerate},
		{"refine with image", "make it darker please", true, IntentRefine},
		{"refine without image is not refine", "make it darker please", false, IntentChat},
		{"remove with image", "remove the text in the corner", true, IntentRefine},
		{"generate wins without image", "create an image of a beach", false, IntentGenerate},
		{"case insensitive", "DRAW a logo", false, IntentGenerate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Detect(tt.content, tt.hasImage); got != tt.want {
				t.Errorf("Detect(%q, %v) = %v, want %v", tt.content, tt.hasImage, got, tt.want)
			}
		})
	}
}
