// Package domain contains core domain types for the image chat service.
package domain

// ImagePurpose identifies the marketing format a generated image targets.
type ImagePurpose string

const (
	PurposeInstagramSquare   ImagePurpose = "sns_instagram_square"   // 1:1 (1080x1080)
	PurposeInstagramPortrait ImagePurpose = "sns_instagram_portrait" // 4:5 (1080x1350)
	PurposeFacebook          ImagePurpose = "sns_facebook"           // 1.91:1 (1200x630)
	PurposeBannerWeb         ImagePurpose = "banner_web"             // 3:1 (1920x640)
	PurposeBannerMobile      ImagePurpose = "banner_mobile"          // 2:1 (800x400)
	PurposeProductShowcase   ImagePurpose = "product_showcase"       // 1:1 (1000x1000)
	PurposeEmailHeader       ImagePurpose = "email_header"           // 3:1 (600x200)
	PurposeCustom            ImagePurpose = "custom"
)

// PurposePreset describes the output format associated with a purpose.
type PurposePreset struct {
	ID          ImagePurpose `json:"id"`
	Name        string       `json:"name"`
	Ratio       string       `json:"ratio"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	Description string       `json:"description"`
}

// purposePresets is ordered for stable preset enumeration.
var purposePresets = []PurposePreset{
	{PurposeInstagramSquare, "Instagram Square", "1:1", 1080, 1080, "Square image for the Instagram feed"},
	{PurposeInstagramPortrait, "Instagram Portrait", "4:5", 1080, 1350, "Portrait image for the Instagram feed"},
	{PurposeFacebook, "Facebook Share", "1.91:1", 1200, 630, "Facebook share and ad image"},
	{PurposeBannerWeb, "Web Banner", "3:1", 1920, 640, "Website hero banner image"},
	{PurposeBannerMobile, "Mobile Banner", "2:1", 800, 400, "Mobile web/app banner image"},
	{PurposeProductShowcase, "Product Showcase", "1:1", 1000, 1000, "Product detail page image"},
	{PurposeEmailHeader, "Email Header", "3:1", 600, 200, "Email marketing header image"},
	{PurposeCustom, "Custom", "custom", 0, 0, "User-defined dimensions"},
}

// PurposePresets returns all purpose presets in display order.
func PurposePresets() []PurposePreset {
	out := make([]PurposePreset, len(purposePresets))
	copy(out, purposePresets)
	return out
}

// PresetFor returns the preset for a purpose. Unknown purposes map to
// the custom preset.
func PresetFor(p ImagePurpose) PurposePreset {
	for _, preset := range purposePresets {
		if preset.ID == p {
			return preset
		}
	}
	return purposePresets[len(purposePresets)-1]
}

// ParsePurpose validates a purpose string. ok is false for unrecognized values.
func ParsePurpose(s string) (ImagePurpose, bool) {
	p := ImagePurpose(s)
	for _, preset := range purposePresets {
		if preset.ID == p {
			return p, true
		}
	}
	return "", false
}
