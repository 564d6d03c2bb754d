package domain

// StylePreset is an optional named visual tone applied to generation requests.
type StylePreset string

const (
	StyleModern       StylePreset = "modern"
	StyleMinimal      StylePreset = "minimal"
	StyleVibrant      StylePreset = "vibrant"
	StyleLuxury       StylePreset = "luxury"
	StylePlayful      StylePreset = "playful"
	StyleProfessional StylePreset = "professional"
	StyleNatural      StylePreset = "natural"
	StyleTech         StylePreset = "tech"
)

var stylePresets = []StylePreset{
	StyleModern, StyleMinimal, StyleVibrant, StyleLuxury,
	StylePlayful, StyleProfessional, StyleNatural, StyleTech,
}

// StylePresets returns all known style presets.
func StylePresets() []StylePreset {
	out := make([]StylePreset, len(stylePresets))
	copy(out, stylePresets)
	return out
}

// ParseStyle validates a style string. ok is false for unrecognized values.
func ParseStyle(s string) (StylePreset, bool) {
	for _, sp := range stylePresets {
		if string(sp) == s {
			return sp, true
		}
	}
	return "", false
}
