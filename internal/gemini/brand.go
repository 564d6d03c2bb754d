package gemini

import (
	"fmt"
	"strings"
)

// Built-in brand guidelines used when a session carries none of its own.
// Edit here and restart the server to change the house brand.
const (
	brandName        = "TRDST"
	brandDescription = "Premium high-end furniture and lighting brand"
)

var brandValues = []string{
	"Timeless elegance and sophisticated design",
	"Modern luxury with clean lines",
	"Warm, inviting atmosphere",
	"Professional interior styling",
	"Premium materials and craftsmanship",
}

var brandColors = []string{
	"cream (#F5F2ED)", "beige (#D4C5B5)", "charcoal (#2C2C2C)",
	"gold (#C9A962)", "bronze (#8B6914)", "warm white (#FAF8F5)",
}

var brandVisualStyle = []string{
	"Minimalist yet luxurious",
	"Warm and inviting",
	"Natural lighting preferred, subtle shadows",
	"Clean, uncluttered backgrounds",
	"Balanced and harmonious composition",
}

// DefaultBrandPrompt returns the built-in brand guidance appended to
// generation prompts when a session has no custom guidelines.
func DefaultBrandPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a premium marketing image for the %s brand.\n\n", brandName)
	fmt.Fprintf(&b, "%s Brand Guidelines:\n- %s\n", brandName, brandDescription)
	for _, v := range brandValues {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	fmt.Fprintf(&b, "\nVisual Style Requirements:\n- Color palette: %s\n", strings.Join(brandColors, ", "))
	for _, v := range brandVisualStyle {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	return b.String()
}
