package gemini

import (
	"fmt"
	"strings"

	"github.com/alex-trdst/gemini-image-chat/internal/domain"
)

// purposeAspectRatios maps each purpose to the closest aspect ratio the
// backend supports.
var purposeAspectRatios = map[domain.ImagePurpose]string{
	domain.PurposeInstagramSquare:   "1:1",
	domain.PurposeInstagramPortrait: "9:16",
	domain.PurposeFacebook:          "16:9",
	domain.PurposeBannerWeb:         "16:9",
	domain.PurposeBannerMobile:      "16:9",
	domain.PurposeProductShowcase:   "1:1",
	domain.PurposeEmailHeader:       "16:9",
	domain.PurposeCustom:            "1:1",
}

var purposeHints = map[domain.ImagePurpose]string{
	domain.PurposeInstagramSquare:   "eye-catching social media post, vibrant colors, engaging composition",
	domain.PurposeInstagramPortrait: "vertical composition, mobile-optimized, scroll-stopping visual",
	domain.PurposeFacebook:          "shareable content, clear message, professional look",
	domain.PurposeBannerWeb:         "wide banner format, clean layout, brand-focused, text space on sides",
	domain.PurposeBannerMobile:      "mobile-friendly, simple composition, high contrast",
	domain.PurposeProductShowcase:   "product-focused, clean background, professional lighting",
	domain.PurposeEmailHeader:       "simple, brand-aligned, minimal text space",
}

var styleHints = map[domain.StylePreset]string{
	domain.StyleModern:       "modern aesthetic, clean lines, contemporary design",
	domain.StyleMinimal:      "minimalist style, white space, simple elements",
	domain.StyleVibrant:      "vibrant colors, energetic mood, bold visual",
	domain.StyleLuxury:       "luxury feel, premium quality, sophisticated elegance",
	domain.StylePlayful:      "playful, fun, colorful, friendly vibe",
	domain.StyleProfessional: "professional, corporate, trustworthy appearance",
	domain.StyleNatural:      "natural tones, organic feel, earthy colors",
	domain.StyleTech:         "tech-focused, futuristic, digital aesthetic",
}

// consultantSystemPrompt steers plain-chat turns.
const consultantSystemPrompt = `You are a creative marketing image consultant.
Help users create effective marketing images by:
1. Understanding their goals and target audience
2. Suggesting visual concepts and compositions
3. Recommending colors, styles, and layouts
4. Providing feedback on their ideas

When the user is ready to generate an image, ask them to confirm and I will create it.`

const refinePromptPrefix = "Please modify the previous image based on this feedback: "

// aspectRatioFor returns the backend aspect ratio for a purpose.
func aspectRatioFor(p domain.ImagePurpose) string {
	if r, ok := purposeAspectRatios[p]; ok {
		return r
	}
	return "1:1"
}

// buildGenerationPrompt assembles the full prompt for an image generation
// call: size hint, purpose hint, the user's prompt, then style and brand
// guidance.
func buildGenerationPrompt(req Request) string {
	var b strings.Builder

	preset := domain.PresetFor(req.Purpose)
	if preset.Width > 0 && preset.Height > 0 {
		fmt.Fprintf(&b, "Image dimensions: %dx%dpx. ", preset.Width, preset.Height)
	}
	if hint := purposeHints[req.Purpose]; hint != "" {
		b.WriteString(hint)
	}
	b.WriteString(". ")
	b.WriteString(req.Prompt)

	if hint := styleHints[req.Style]; hint != "" {
		b.WriteString(". Style: ")
		b.WriteString(hint)
	}

	brand := req.Brand
	if brand == "" {
		brand = DefaultBrandPrompt()
	}
	if brand != "" {
		b.WriteString("\n\n")
		b.WriteString(brand)
	}

	return b.String()
}

func buildRefinePrompt(feedback string) string {
	return refinePromptPrefix + feedback
}
