// Package postprocess normalizes completed answers before they are stored.
package postprocess

import (
	"strings"

	"github.com/da-sie/openai-assistant/internal/models"
)

const (
	fence   = "```"
	jsonTag = "json"
)

// Clean strips the code fence that models wrap around JSON answers: a leading
// "```json" or "```" and a trailing "```". Fences inside the document are kept.
// Other formats pass through unchanged. Clean(f, Clean(f, s)) == Clean(f, s).
func Clean(format models.ResponseFormat, text string) string {
	if format != models.FormatJSON {
		return text
	}
	for {
		t := strings.TrimSpace(text)
		stripped := false
		if strings.HasPrefix(t, fence) {
			t = strings.TrimPrefix(t[len(fence):], jsonTag)
			stripped = true
		}
		if strings.HasSuffix(t, fence) {
			t = t[:len(t)-len(fence)]
			stripped = true
		}
		if !stripped {
			return text
		}
		text = t
	}
}
